package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"healthcoach/api/server"
	"healthcoach/core/audit"
	"healthcoach/core/auth"
	"healthcoach/core/chain"
	"healthcoach/core/config"
	"healthcoach/core/decrypt"
	"healthcoach/core/fhe"
	"healthcoach/core/logging"
	"healthcoach/core/notify"
	"healthcoach/core/oracle"
	"healthcoach/core/records"
	"healthcoach/core/storage"
)

const (
	devNetworkKey     = "node:dev:network-key"
	devCoprocessorKey = "node:dev:coprocessor-key"
)

func main() {
	envFile := flag.String("env-file", ".env", "Env file to load before reading HEALTHCOACH_* variables")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	// Log to file as well as stdout
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Console: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("node stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("node stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting HealthCoach node",
		zap.String("version", server.NodeVersion()),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("contract", cfg.ContractAddress.Hex()),
		zap.String("data_dir", cfg.DataDir))

	backend, err := storage.NewStorage(cfg.DataDir)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := loadDevKeys(backend, cfg, logger); err != nil {
		return err
	}
	scheme, err := fhe.NewLocalScheme(fhe.LocalConfig{
		ChainID:        cfg.ChainID,
		NetworkKey:     cfg.NetworkKey,
		CoprocessorKey: cfg.CoprocessorKey,
	}, backend, logger.Named("fhe"))
	if err != nil {
		return err
	}

	auditLog := audit.NewZapAuditLogger(logger.Named("audit"))
	bus := notify.NewBus()
	if _, err := bus.OnHealthDataUpdated(notify.LogListener(logger.Named("events"))); err != nil {
		return err
	}
	defer bus.WaitAsync()

	store, err := records.NewStore(records.StoreConfig{
		Contract: cfg.ContractAddress,
		Backend:  backend,
		Verifier: scheme.Verifier(),
		Events:   bus,
		Logger:   logger.Named("records"),
		Audit:    auditLog,
	})
	if err != nil {
		return err
	}
	node, err := chain.NewNode(store, backend, chain.Config{BlockTime: cfg.BlockTime}, logger.Named("chain"))
	if err != nil {
		return err
	}
	if err := node.VerifyChain(); err != nil {
		return err
	}
	svc := oracle.NewService(oracle.Config{
		Domain: decrypt.Domain{ChainID: cfg.ChainID, VerifyingContract: cfg.DecryptionAddress},
	}, store.ACL(), scheme, logger.Named("oracle"), auditLog)

	srvCfg := server.Config{
		ListenAddr:        cfg.ListenAddr,
		ChainID:           cfg.ChainID,
		DecryptionAddress: cfg.DecryptionAddress,
		DataDir:           cfg.DataDir,
		RateLimitPerMin:   cfg.RateLimitPerMin,
	}
	if cfg.JWTSecret != "" {
		if srvCfg.Auth, err = auth.NewTokenVerifier(cfg.JWTSecret, auth.Issuer, auditLog); err != nil {
			return err
		}
	} else {
		logger.Warn("HEALTHCOACH_API_JWT_SECRET not set; write endpoints are unauthenticated")
	}
	srv := server.NewServer(srvCfg, node, scheme, svc, logger.Named("api"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	nodeErr := make(chan error, 1)
	go func() { nodeErr <- node.Run(ctx) }()
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe(ctx) }()

	var first error
	select {
	case err := <-nodeErr:
		first = err
		cancel()
		<-srvErr
	case err := <-srvErr:
		first = err
		cancel()
		<-nodeErr
	}
	if errors.Is(first, context.Canceled) {
		return nil
	}
	return first
}

// loadDevKeys fills in scheme keys missing from the configuration. Generated
// keys are kept in the node's storage so ciphertexts survive restarts.
func loadDevKeys(backend storage.StateBackend, cfg *config.Config, logger *zap.Logger) error {
	if cfg.NetworkKey == nil {
		key, err := backend.Get(devNetworkKey)
		if errors.Is(err, storage.ErrNotFound) {
			key = make([]byte, fhe.NetworkKeyLength)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			if err := backend.Put(devNetworkKey, key); err != nil {
				return err
			}
			logger.Warn("HEALTHCOACH_NETWORK_KEY not set; generated a development network key")
		} else if err != nil {
			return err
		}
		cfg.NetworkKey = key
	}
	if cfg.CoprocessorKey == nil {
		raw, err := backend.Get(devCoprocessorKey)
		var key *ecdsa.PrivateKey
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if key, err = crypto.GenerateKey(); err != nil {
				return err
			}
			if err := backend.Put(devCoprocessorKey, crypto.FromECDSA(key)); err != nil {
				return err
			}
			logger.Warn("HEALTHCOACH_COPROCESSOR_KEY not set; generated a development coprocessor key")
		case err != nil:
			return err
		default:
			if key, err = crypto.ToECDSA(raw); err != nil {
				return fmt.Errorf("stored coprocessor key: %w", err)
			}
		}
		cfg.CoprocessorKey = key
		logger.Info("coprocessor signer", zap.String("address", crypto.PubkeyToAddress(key.PublicKey).Hex()))
	}
	return nil
}
