// Package config loads node and client settings from the environment, after
// merging an optional .env file.
package config

import (
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

const (
	DefaultListenAddr = ":8080"
	DefaultDataDir    = "data"
	DefaultChainID    = 31337
	DefaultBlockTime  = time.Second
	DefaultNodeURL    = "http://localhost:8080"
	DefaultGrantDays  = 7
	DefaultRateLimit  = 600

	// Well-known addresses for a local development network.
	DefaultContractAddress   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	DefaultDecryptionAddress = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
)

type Config struct {
	ListenAddr        string
	DataDir           string
	LogFile           string
	LogLevel          string
	BlockTime         time.Duration
	ChainID           uint64
	ContractAddress   common.Address
	DecryptionAddress common.Address
	NetworkKey        []byte
	CoprocessorKey    *ecdsa.PrivateKey
	JWTSecret         string
	NodeURL           string
	GrantDays         uint64
	RateLimitPerMin   int
}

// Load reads envFile (if present) into the process environment without
// overriding variables that are already set, then builds a Config.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr: getenv("HEALTHCOACH_LISTEN_ADDR", DefaultListenAddr),
		DataDir:    getenv("HEALTHCOACH_DATA_DIR", DefaultDataDir),
		LogLevel:   getenv("HEALTHCOACH_LOG_LEVEL", "info"),
		JWTSecret:  os.Getenv("HEALTHCOACH_API_JWT_SECRET"),
		NodeURL:    getenv("HEALTHCOACH_NODE_URL", DefaultNodeURL),
	}
	cfg.LogFile = getenv("HEALTHCOACH_LOG_FILE", filepath.Join("logs", "healthcoach-node.log"))

	ms, err := getUint("HEALTHCOACH_BLOCK_TIME_MS", uint64(DefaultBlockTime/time.Millisecond))
	if err != nil {
		return nil, err
	}
	if ms == 0 {
		return nil, errors.New("HEALTHCOACH_BLOCK_TIME_MS must be positive")
	}
	cfg.BlockTime = time.Duration(ms) * time.Millisecond

	if cfg.ChainID, err = getUint("HEALTHCOACH_CHAIN_ID", DefaultChainID); err != nil {
		return nil, err
	}
	if cfg.GrantDays, err = getUint("HEALTHCOACH_GRANT_DAYS", DefaultGrantDays); err != nil {
		return nil, err
	}
	limit, err := getUint("HEALTHCOACH_RATE_LIMIT_PER_MIN", DefaultRateLimit)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitPerMin = int(limit)
	if cfg.ContractAddress, err = getAddress("HEALTHCOACH_CONTRACT_ADDRESS", DefaultContractAddress); err != nil {
		return nil, err
	}
	if cfg.DecryptionAddress, err = getAddress("HEALTHCOACH_DECRYPTION_ADDRESS", DefaultDecryptionAddress); err != nil {
		return nil, err
	}

	if v := os.Getenv("HEALTHCOACH_NETWORK_KEY"); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decode HEALTHCOACH_NETWORK_KEY: %w", err)
		}
		if len(key) != 32 {
			return nil, errors.New("HEALTHCOACH_NETWORK_KEY must be 32 bytes (base64-encoded)")
		}
		cfg.NetworkKey = key
	}
	if v := os.Getenv("HEALTHCOACH_COPROCESSOR_KEY"); v != "" {
		key, err := crypto.HexToECDSA(trim0x(v))
		if err != nil {
			return nil, fmt.Errorf("parse HEALTHCOACH_COPROCESSOR_KEY: %w", err)
		}
		cfg.CoprocessorKey = key
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getUint(key string, def uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getAddress(key, def string) (common.Address, error) {
	v := getenv(key, def)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s is not a hex address: %q", key, v)
	}
	return common.HexToAddress(v), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
