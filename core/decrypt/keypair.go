package decrypt

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

var randReader = rand.Reader

var errKeypairDestroyed = errors.New("ephemeral keypair destroyed")

// Keypair is the single-use session key the oracle re-encrypts values to. The
// private half never leaves the process.
type Keypair struct {
	priv *ecdsa.PrivateKey
	pub  []byte
}

func GenerateKeypair() (*Keypair, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: priv, pub: crypto.FromECDSAPub(&priv.PublicKey)}, nil
}

// PublicKey is the uncompressed 65-byte secp256k1 public key.
func (k *Keypair) PublicKey() []byte {
	return append([]byte(nil), k.pub...)
}

// Open decrypts an ECIES ciphertext addressed to this keypair.
func (k *Keypair) Open(ciphertext []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, errKeypairDestroyed
	}
	return ecies.ImportECDSA(k.priv).Decrypt(ciphertext, nil, nil)
}

// Destroy zeroes the private scalar. The keypair is unusable afterwards.
func (k *Keypair) Destroy() {
	if k == nil || k.priv == nil {
		return
	}
	words := k.priv.D.Bits()
	for i := range words {
		words[i] = 0
	}
	k.priv.D.SetInt64(0)
	k.priv = nil
}

func (k *Keypair) Destroyed() bool {
	return k.priv == nil
}

// SealTo ECIES-encrypts plaintext to a 65-byte public key.
func SealTo(publicKey, plaintext []byte) ([]byte, error) {
	pub, err := crypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return nil, err
	}
	return ecies.Encrypt(randReader, ecies.ImportECDSAPublic(pub), plaintext, nil, nil)
}
