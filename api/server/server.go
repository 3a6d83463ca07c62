package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"healthcoach/api/wire"
	"healthcoach/core/auth"
	"healthcoach/core/chain"
	"healthcoach/core/decrypt"
	"healthcoach/core/fhe"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// SchemeService is the encryption scheme as the node exposes it: it encrypts
// client inputs and names the signer its input proofs recover to.
type SchemeService interface {
	fhe.Scheme
	Address() common.Address
}

type Config struct {
	ListenAddr        string
	ChainID           uint64
	DecryptionAddress common.Address
	// DataDir is reported on by /nodehealth (free disk space).
	DataDir string
	// Auth, when set, guards the write endpoints with bearer tokens.
	Auth *auth.TokenVerifier
	// RateLimitPerMin caps /api requests per client address; 0 disables it.
	RateLimitPerMin int
}

// Server is the node's HTTP API: ledger reads and writes, the scheme's encrypt
// endpoint, the decryption oracle and the health/metrics probes.
type Server struct {
	cfg       Config
	node      *chain.Node
	scheme    SchemeService
	oracle    decrypt.Oracle
	logger    *zap.Logger
	metrics   *apiMetrics
	limiter   *rateLimiter
	startTime time.Time
}

func NewServer(cfg Config, node *chain.Node, scheme SchemeService, oracle decrypt.Oracle, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		node:      node,
		scheme:    scheme,
		oracle:    oracle,
		logger:    logger,
		startTime: time.Now(),
	}
	s.metrics = newAPIMetrics(node)
	if cfg.RateLimitPerMin > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitPerMin, logger)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.instrument)

	// Probes and metrics
	r.HandleFunc("/health/liveness", s.HandleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/readiness", s.HandleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/nodehealth", s.HandleNodeHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.HandleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix(wire.APIPrefix).Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.middleware)
	}
	api.HandleFunc("/network", s.handleNetwork).Methods(http.MethodGet)
	api.HandleFunc("/records/{identity}", s.handleGetRecord).Methods(http.MethodGet)
	api.HandleFunc("/records/{identity}/exists", s.handleRecordExists).Methods(http.MethodGet)
	api.HandleFunc("/tx/{id}/receipt", s.handleReceipt).Methods(http.MethodGet)
	api.Handle("/tx", s.guard(http.HandlerFunc(s.handleSendTx))).Methods(http.MethodPost)
	api.Handle("/fhe/encrypt", s.guard(http.HandlerFunc(s.handleEncrypt))).Methods(http.MethodPost)
	// The grant signature authorises decryption; no bearer token is needed.
	api.HandleFunc("/oracle/user-decrypt", s.handleUserDecrypt).Methods(http.MethodPost)
	return r
}

func (s *Server) guard(h http.Handler) http.Handler {
	if s.cfg.Auth == nil {
		return h
	}
	return s.cfg.Auth.Middleware(h)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.cfg.ListenAddr), zap.Bool("auth", s.cfg.Auth != nil))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string, err error) {
	writeJSON(w, status, wire.ErrorResponse{Error: err.Error(), Reason: reason})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
