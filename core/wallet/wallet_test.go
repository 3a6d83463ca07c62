package wallet

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTypedData() apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Ping": {{Name: "value", Type: "uint256"}},
		},
		PrimaryType: "Ping",
		Domain: apitypes.TypedDataDomain{
			Name:              "Test",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(big.NewInt(1)),
			VerifyingContract: "0x0000000000000000000000000000000000000001",
		},
		Message: apitypes.TypedDataMessage{"value": "42"},
	}
}

func TestSignTypedDataRecovers(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)

	sig, err := w.SignTypedData(sampleTypedData())
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := RecoverTypedDataSigner(sampleTypedData(), sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), got)

	other := sampleTypedData()
	other.Message["value"] = "43"
	got, err = RecoverTypedDataSigner(other, sig)
	require.NoError(t, err)
	assert.NotEqual(t, w.Address(), got)
}

func TestSignHashRecovers(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)
	digest := crypto.Keccak256([]byte("payload"))
	sig, err := w.SignHash(digest)
	require.NoError(t, err)
	got, err := RecoverHash(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), got)
}

func TestNilWalletHasNoSigner(t *testing.T) {
	var w *Wallet
	_, err := w.SignHash(make([]byte, 32))
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestEnvWalletLoader(t *testing.T) {
	t.Setenv(SignerKeyEnv, "")
	_, err := (&EnvWalletLoader{}).LoadWallet()
	assert.ErrorIs(t, err, ErrNoSigner)

	w, err := GenerateWallet()
	require.NoError(t, err)
	t.Setenv(SignerKeyEnv, w.HexKey())
	loaded, err := (&EnvWalletLoader{}).LoadWallet()
	require.NoError(t, err)
	assert.Equal(t, w.Address(), loaded.Address())
}
