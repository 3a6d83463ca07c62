package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"healthcoach/api/wire"
	"healthcoach/core/block"
	"healthcoach/core/chain"
	"healthcoach/core/mempool"
	"healthcoach/types/ids"
)

const (
	defaultReceiptWait = 30 * time.Second
	maxReceiptWait     = 2 * time.Minute
)

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.NetworkInfo{
		ChainID:            s.cfg.ChainID,
		ContractAddress:    s.node.Contract(),
		DecryptionAddress:  s.cfg.DecryptionAddress,
		CoprocessorSigners: []common.Address{s.scheme.Address()},
	})
}

func identityVar(r *http.Request) (common.Address, error) {
	v := mux.Vars(r)["identity"]
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid identity %q", v)
	}
	return common.HexToAddress(v), nil
}

// handleGetRecord returns the stored record. Unknown identities get the zero
// record, not a 404.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	identity, err := identityVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonBadRequest, err)
		return
	}
	rec, err := s.node.GetEncryptedHealthData(r.Context(), identity)
	if err != nil {
		s.logger.Error("read record", zap.String("identity", identity.Hex()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, wire.ReasonInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecordExists(w http.ResponseWriter, r *http.Request) {
	identity, err := identityVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonBadRequest, err)
		return
	}
	ok, err := s.node.HasHealthRecord(r.Context(), identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, wire.ReasonInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ExistsResponse{Exists: ok})
}

func (s *Server) handleSendTx(w http.ResponseWriter, r *http.Request) {
	var tx mempool.Transaction
	if err := decodeBody(w, r, &tx); err != nil {
		s.metrics.txRejected.WithLabelValues(wire.ReasonBadRequest).Inc()
		writeError(w, http.StatusBadRequest, wire.ReasonBadRequest, fmt.Errorf("invalid transaction: %w", err))
		return
	}
	s.metrics.txSubmitted.Inc()

	id, err := s.node.SendTransaction(r.Context(), tx)
	if err != nil {
		status, reason := http.StatusInternalServerError, wire.ReasonInternal
		switch {
		case errors.Is(err, mempool.ErrBadSignature):
			status, reason = http.StatusBadRequest, wire.ReasonBadSignature
		case errors.Is(err, mempool.ErrUnknownMethod):
			status, reason = http.StatusBadRequest, wire.ReasonUnknownMethod
		case errors.Is(err, mempool.ErrDuplicate):
			status, reason = http.StatusConflict, wire.ReasonDuplicate
		case errors.Is(err, mempool.ErrAlreadyIncluded):
			status, reason = http.StatusConflict, wire.ReasonIncluded
		case errors.Is(err, mempool.ErrStaleNonce):
			status, reason = http.StatusConflict, wire.ReasonStaleNonce
		case errors.Is(err, mempool.ErrPoolFull):
			status, reason = http.StatusServiceUnavailable, wire.ReasonPoolFull
		}
		s.metrics.txRejected.WithLabelValues(reason).Inc()
		s.logger.Warn("transaction refused", zap.String("from", tx.From.Hex()), zap.String("reason", reason), zap.Error(err))
		writeError(w, status, reason, err)
		return
	}
	writeJSON(w, http.StatusAccepted, wire.TxResponse{TxID: id})
}

// handleReceipt returns the receipt for a transaction. A queued transaction
// gets 202 with a pending receipt. With ?wait=true it blocks until the
// transaction is included, up to ?timeout (Go duration).
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := ids.FromString(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonBadRequest, err)
		return
	}
	q := r.URL.Query()
	wait, _ := strconv.ParseBool(q.Get("wait"))
	if !wait {
		rec, err := s.node.Receipt(id)
		if errors.Is(err, chain.ErrNoReceipt) {
			if s.node.IsPending(id) {
				writeJSON(w, http.StatusAccepted, block.Receipt{TxID: id, Status: block.StatusPending})
				return
			}
			writeError(w, http.StatusNotFound, wire.ReasonNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, wire.ReasonInternal, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	timeout := defaultReceiptWait
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, wire.ReasonBadRequest, fmt.Errorf("invalid timeout %q", v))
			return
		}
		timeout = min(d, maxReceiptWait)
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	rec, err := s.node.WaitForReceipt(ctx, id)
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, wire.ReasonNotFound, fmt.Errorf("transaction %s not included within %s", id, timeout))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, wire.ReasonInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
