package server

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"healthcoach/api/wire"
	"healthcoach/core/decrypt"
	"healthcoach/core/fhe"
	"healthcoach/core/oracle"
)

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req wire.EncryptRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, wire.ReasonBadRequest, fmt.Errorf("invalid encrypt request: %w", err))
		return
	}
	if len(req.Values) == 0 || len(req.Values) > fhe.MaxBatch {
		writeError(w, http.StatusBadRequest, wire.ReasonBadRequest, fmt.Errorf("batch of %d values, want 1..%d", len(req.Values), fhe.MaxBatch))
		return
	}
	batch, err := s.scheme.Encrypt(r.Context(), fhe.EncryptRequest{
		Values:   req.Values,
		User:     req.UserAddress,
		Contract: req.ContractAddress,
	})
	if err != nil {
		s.logger.Error("encrypt", zap.String("user", req.UserAddress.Hex()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, wire.ReasonInternal, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.EncryptResponse{Handles: batch.Handles, InputProof: batch.Proof})
}

func (s *Server) handleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	var req decrypt.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.metrics.oracleRequests.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, wire.ReasonBadRequest, fmt.Errorf("invalid decryption request: %w", err))
		return
	}
	resp, err := s.oracle.UserDecrypt(r.Context(), req)
	switch {
	case errors.Is(err, oracle.ErrRejected):
		s.metrics.oracleRequests.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusForbidden, wire.ReasonOracleRejected, err)
		return
	case err != nil:
		s.metrics.oracleRequests.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, wire.ReasonInternal, err)
		return
	}
	s.metrics.oracleRequests.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, resp)
}
