package decrypt

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DefaultDurationDays = 7
	MaxDurationDays     = 365
	SecondsPerDay       = 86400
	// MaxClockSkew is how far, in seconds, a grant may start ahead of the
	// verifier's clock. Clients stamp the start from their own clock.
	MaxClockSkew = 300

	grantPrimaryType = "UserDecryptRequestVerification"
	domainName       = "Decryption"
	domainVersion    = "1"
)

// Domain pins a grant to one chain and one decryption verifier.
type Domain struct {
	ChainID           uint64
	VerifyingContract common.Address
}

// Grant authorises re-encryption of handles in Contracts to PublicKey during
// [StartTimestamp, StartTimestamp + DurationDays days).
type Grant struct {
	PublicKey      []byte
	Contracts      []common.Address
	StartTimestamp uint64
	DurationDays   uint64
	Signature      []byte
}

// TypedData is the EIP-712 message the owner signs.
func (g *Grant) TypedData(d Domain) apitypes.TypedData {
	return GrantTypedData(d, g.PublicKey, g.Contracts, g.StartTimestamp, g.DurationDays)
}

// GrantTypedData builds the canonical signed encoding of a grant.
func GrantTypedData(d Domain, publicKey []byte, contracts []common.Address, start, days uint64) apitypes.TypedData {
	addrs := make([]interface{}, len(contracts))
	for i, c := range contracts {
		addrs[i] = c.Hex()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			grantPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: grantPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey),
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatUint(start, 10),
			"durationDays":      strconv.FormatUint(days, 10),
		},
	}
}

// Expires is the first second at which the grant is no longer valid.
func (g *Grant) Expires() uint64 {
	return g.StartTimestamp + g.DurationDays*SecondsPerDay
}

// ValidAt reports whether now falls inside the grant's window.
func (g *Grant) ValidAt(now uint64) bool {
	return WindowValid(g.StartTimestamp, g.DurationDays, now)
}

// WindowValid is the window check shared by clients and the oracle.
func WindowValid(start, days, now uint64) bool {
	if days == 0 || days > MaxDurationDays {
		return false
	}
	return start <= now+MaxClockSkew && now < start+days*SecondsPerDay
}

func (g *Grant) InScope(contract common.Address) bool {
	for _, c := range g.Contracts {
		if c == contract {
			return true
		}
	}
	return false
}

// Destroy wipes the grant's key material and signature.
func (g *Grant) Destroy() {
	if g == nil {
		return
	}
	for i := range g.Signature {
		g.Signature[i] = 0
	}
	g.Signature = nil
	g.PublicKey = nil
	g.Contracts = nil
}
