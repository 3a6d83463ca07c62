package decrypt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// decodeValue turns one oracle value into a uint32. Accepted shapes are a JSON
// integer, a decimal or 0x-hex string, and a SealedValue object for kp.
func decodeValue(raw json.RawMessage, kp *Keypair) (uint32, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, ErrMissingValue
	}

	var n *big.Int
	switch trimmed[0] {
	case '{':
		var sealed SealedValue
		if err := json.Unmarshal(trimmed, &sealed); err != nil || len(sealed.Ciphertext) == 0 {
			return 0, fmt.Errorf("%w: object without ciphertext", ErrUnsupportedValueType)
		}
		plain, err := kp.Open(sealed.Ciphertext)
		if err != nil {
			return 0, fmt.Errorf("%w: open sealed value: %v", ErrUnsupportedValueType, err)
		}
		n = new(big.Int).SetBytes(plain)
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnsupportedValueType, err)
		}
		var ok bool
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, ok = new(big.Int).SetString(s[2:], 16)
		} else {
			n, ok = new(big.Int).SetString(s, 10)
		}
		if !ok {
			return 0, fmt.Errorf("%w: string is not an integer", ErrUnsupportedValueType)
		}
	default:
		var ok bool
		n, ok = new(big.Int).SetString(string(trimmed), 10)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnsupportedValueType, kind(trimmed))
		}
	}

	if n.Sign() < 0 || n.Cmp(big.NewInt(math.MaxUint32)) > 0 {
		return 0, fmt.Errorf("%w: value exceeds 32 bits", ErrUnsupportedValueType)
	}
	return uint32(n.Uint64()), nil
}

func kind(raw []byte) string {
	switch raw[0] {
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	default:
		return "non-integer number"
	}
}
