package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: building canonical cbor mode: %v", err))
	}
}

// Marshal encodes v as canonical CBOR. Equal values always produce equal bytes,
// so the output is safe to hash.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// GetValue loads key and decodes it into v. It returns ErrNotFound when the key is absent.
func GetValue(backend StateBackend, key string, v any) error {
	data, err := backend.Get(key)
	if err != nil {
		return err
	}
	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutValue stages the CBOR encoding of v under key in batch.
func PutValue(batch *Batch, key string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	batch.Put(key, data)
	return nil
}
