// Package encrypt turns plaintext metrics into an ordered batch of ciphertext
// handles plus the single input proof that binds them to a user and contract.
package encrypt

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"healthcoach/core/fhe"
	"healthcoach/core/health"
)

// ErrEncoding is returned for values that do not fit an unsigned 32-bit integer.
var ErrEncoding = errors.New("EncodingError")

type Pipeline struct {
	scheme fhe.Scheme
	logger *zap.Logger
}

func NewPipeline(scheme fhe.Scheme, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{scheme: scheme, logger: logger}
}

// Input accumulates values for one encryption batch. It is not safe for
// concurrent use.
type Input struct {
	pipeline *Pipeline
	contract common.Address
	user     common.Address
	values   []uint32
	err      error
}

// NewInput starts a batch for values that user will submit to contract.
func (p *Pipeline) NewInput(contract, user common.Address) *Input {
	return &Input{pipeline: p, contract: contract, user: user}
}

// Add32 appends v as an unsigned 32-bit value. The first rejected value makes
// Encrypt fail; later calls are ignored.
func (in *Input) Add32(v int64) *Input {
	if in.err != nil {
		return in
	}
	if v < 0 || v > math.MaxUint32 {
		in.err = fmt.Errorf("%w: value at position %d does not fit uint32", ErrEncoding, len(in.values))
		return in
	}
	if len(in.values) == fhe.MaxBatch {
		in.err = fmt.Errorf("%w: batch holds at most %d values", ErrEncoding, fhe.MaxBatch)
		return in
	}
	in.values = append(in.values, uint32(v))
	return in
}

func (in *Input) Len() int {
	return len(in.values)
}

// Encrypt sends the batch to the scheme service. Handles come back in the
// order values were added.
func (in *Input) Encrypt(ctx context.Context) (fhe.InputBatch, error) {
	if in.err != nil {
		return fhe.InputBatch{}, in.err
	}
	if len(in.values) == 0 {
		return fhe.InputBatch{}, fmt.Errorf("%w: empty batch", ErrEncoding)
	}
	out, err := in.pipeline.scheme.Encrypt(ctx, fhe.EncryptRequest{
		Values:   append([]uint32(nil), in.values...),
		User:     in.user,
		Contract: in.contract,
	})
	if err != nil {
		return fhe.InputBatch{}, fmt.Errorf("encrypt batch: %w", err)
	}
	if len(out.Handles) != len(in.values) {
		return fhe.InputBatch{}, fmt.Errorf("scheme returned %d handles for %d values", len(out.Handles), len(in.values))
	}
	if len(out.Proof) == 0 {
		return fhe.InputBatch{}, errors.New("scheme returned an empty input proof")
	}
	in.pipeline.logger.Debug("encrypted batch", zap.Int("values", len(in.values)), zap.String("user", in.user.Hex()))
	return out, nil
}

// EncryptBatch encrypts the six metrics in field order with one scheme call.
func (p *Pipeline) EncryptBatch(ctx context.Context, values [health.NumFields]int64, user, contract common.Address) (fhe.InputBatch, error) {
	in := p.NewInput(contract, user)
	for _, v := range values {
		in.Add32(v)
	}
	return in.Encrypt(ctx)
}
