package oracle

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcoach/core/audit"
	"healthcoach/core/decrypt"
	"healthcoach/core/fhe"
	"healthcoach/core/records"
	"healthcoach/core/storage"
	"healthcoach/core/wallet"
)

var (
	contract = common.HexToAddress("0xC0FFEE0000000000000000000000000000000003")
	other    = common.HexToAddress("0x0BAD000000000000000000000000000000000005")
	domain   = decrypt.Domain{ChainID: 7, VerifyingContract: common.HexToAddress("0xDEC0DE0000000000000000000000000000000004")}
	now      = time.Unix(1_700_000_000, 0)
)

type fixture struct {
	svc    *Service
	owner  *wallet.Wallet
	record records.HealthRecord
	kp     *decrypt.Keypair
	audit  *audit.MemoryAuditLogger
	values []uint32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := storage.NewMemStorage()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	netKey := make([]byte, fhe.NetworkKeyLength)
	_, err = rand.Read(netKey)
	require.NoError(t, err)
	scheme, err := fhe.NewLocalScheme(fhe.LocalConfig{ChainID: domain.ChainID, NetworkKey: netKey, CoprocessorKey: key}, backend, nil)
	require.NoError(t, err)
	store, err := records.NewStore(records.StoreConfig{Contract: contract, Backend: backend, Verifier: scheme.Verifier()})
	require.NoError(t, err)

	owner, err := wallet.GenerateWallet()
	require.NoError(t, err)
	values := []uint32{165, 60, 44, 2, 135, 85}
	in, err := scheme.Encrypt(context.Background(), fhe.EncryptRequest{Values: values, User: owner.Address(), Contract: contract})
	require.NoError(t, err)
	require.NoError(t, store.Submit(owner.Address(), in.Handles, in.Proof, 1))
	rec, err := store.Get(owner.Address())
	require.NoError(t, err)

	kp, err := decrypt.GenerateKeypair()
	require.NoError(t, err)
	t.Cleanup(kp.Destroy)

	mem := audit.NewMemoryAuditLogger()
	svc := NewService(Config{Domain: domain, Now: func() time.Time { return now }}, store.ACL(), scheme, nil, mem)
	return &fixture{svc: svc, owner: owner, record: rec, kp: kp, audit: mem, values: values}
}

// request builds a grant signed by signer; edit may tweak the grant before signing.
func (f *fixture) request(t *testing.T, signer *wallet.Wallet, edit func(g *decrypt.Grant)) decrypt.Request {
	t.Helper()
	g := &decrypt.Grant{
		PublicKey:      f.kp.PublicKey(),
		Contracts:      []common.Address{contract},
		StartTimestamp: uint64(now.Unix()) - 60,
		DurationDays:   decrypt.DefaultDurationDays,
	}
	if edit != nil {
		edit(g)
	}
	sig, err := signer.SignTypedData(g.TypedData(domain))
	require.NoError(t, err)

	req := decrypt.Request{
		PublicKey:         g.PublicKey,
		Signature:         sig,
		ContractAddresses: g.Contracts,
		UserAddress:       f.owner.Address(),
		StartTimestamp:    g.StartTimestamp,
		DurationDays:      g.DurationDays,
	}
	for _, h := range f.record.Handles {
		req.HandleContractPairs = append(req.HandleContractPairs, decrypt.HandleContractPair{Handle: h, ContractAddress: contract})
	}
	return req
}

func TestUserDecryptReencryptsToSessionKey(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.UserDecrypt(context.Background(), f.request(t, f.owner, nil))
	require.NoError(t, err)
	require.Len(t, resp, len(f.record.Handles))

	for i, h := range f.record.Handles {
		var sealed decrypt.SealedValue
		require.NoError(t, json.Unmarshal(resp[h], &sealed))
		plain, err := f.kp.Open(sealed.Ciphertext)
		require.NoError(t, err)
		assert.Len(t, plain, 32)
		assert.Equal(t, uint64(f.values[i]), new(big.Int).SetBytes(plain).Uint64())
	}
	events := f.audit.Filter(audit.EventDecryptionGrant)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ResultSuccess, events[0].Result)
}

func TestUserDecryptToleratesClientClockAhead(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, f.owner, func(g *decrypt.Grant) { g.StartTimestamp = uint64(now.Unix()) + 30 })
	resp, err := f.svc.UserDecrypt(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, resp, len(f.record.Handles))

	req = f.request(t, f.owner, func(g *decrypt.Grant) { g.StartTimestamp = uint64(now.Unix()) + decrypt.MaxClockSkew + 1 })
	_, err = f.svc.UserDecrypt(context.Background(), req)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestUserDecryptRejections(t *testing.T) {
	f := newFixture(t)
	stranger, err := wallet.GenerateWallet()
	require.NoError(t, err)

	cases := []struct {
		name string
		req  func() decrypt.Request
	}{
		{"expired", func() decrypt.Request {
			return f.request(t, f.owner, func(g *decrypt.Grant) {
				g.StartTimestamp = uint64(now.Unix()) - 8*decrypt.SecondsPerDay
			})
		}},
		{"not yet valid", func() decrypt.Request {
			return f.request(t, f.owner, func(g *decrypt.Grant) { g.StartTimestamp = uint64(now.Unix()) + 3600 })
		}},
		{"zero duration", func() decrypt.Request {
			return f.request(t, f.owner, func(g *decrypt.Grant) { g.DurationDays = 0 })
		}},
		{"duration too long", func() decrypt.Request {
			return f.request(t, f.owner, func(g *decrypt.Grant) { g.DurationDays = decrypt.MaxDurationDays + 1 })
		}},
		{"signed by someone else", func() decrypt.Request { return f.request(t, stranger, nil) }},
		{"tampered window", func() decrypt.Request {
			req := f.request(t, f.owner, nil)
			req.DurationDays = 30
			return req
		}},
		{"contract out of scope", func() decrypt.Request {
			return f.request(t, f.owner, func(g *decrypt.Grant) { g.Contracts = []common.Address{other} })
		}},
		{"stranger claims the record", func() decrypt.Request {
			req := f.request(t, stranger, nil)
			req.UserAddress = stranger.Address()
			return req
		}},
		{"no handles", func() decrypt.Request {
			req := f.request(t, f.owner, nil)
			req.HandleContractPairs = nil
			return req
		}},
		{"unknown handle", func() decrypt.Request {
			req := f.request(t, f.owner, nil)
			req.HandleContractPairs[0].Handle = fhe.Handle{0x42}
			return req
		}},
		{"bad public key", func() decrypt.Request {
			return f.request(t, f.owner, func(g *decrypt.Grant) { g.PublicKey = []byte{1, 2, 3} })
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := f.svc.UserDecrypt(context.Background(), tc.req())
			assert.ErrorIs(t, err, ErrRejected)
			assert.Nil(t, resp)
		})
	}
	for _, ev := range f.audit.Filter(audit.EventDecryptionGrant) {
		assert.Equal(t, audit.ResultFailure, ev.Result)
	}
}
