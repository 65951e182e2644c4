// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-fm/chainbench/internal/network"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Config holds chainbench configuration.
type Config struct {
	Networks     []*network.Network
	NetworksFile string // YAML network definitions; empty uses the L2/Linea env pair
	PrivateKey   string // Hex signing key shared by every network

	BatchSize           int
	SubmitConcurrency   int
	DrainTimeout        time.Duration
	DrainPollInterval   time.Duration
	ReceiptPollInterval time.Duration
	KeepaliveInterval   time.Duration

	ListenAddr         string
	DatabasePath       string // Path to SQLite database file; empty disables history
	CORSAllowedOrigins string // Comma-separated list of allowed origins, or "*" for all (default: "*")
	LogLevel           slog.Level
}

// CLIConfig holds CLI-specific settings for running in CLI mode.
type CLIConfig struct {
	TPS      int
	Duration time.Duration
	Kind     types.TransactionKind
	Networks []string
}

// Defaults
const (
	DefaultL2RPCURL            = "https://rpc.blast.io"
	DefaultL2ChainID           = 81457
	DefaultLineaRPCURL         = "https://rpc.sepolia.linea.build"
	DefaultLineaChainID        = 59141
	DefaultBatchSize           = 10
	DefaultSubmitConcurrency   = 100
	DefaultDrainTimeout        = 60 * time.Second
	DefaultDrainPollInterval   = time.Second
	DefaultReceiptPollInterval = time.Second
	DefaultKeepaliveInterval   = 5 * time.Second
	DefaultListenAddr          = ":3001"
	DefaultDatabasePath        = "./data/chainbench.db"
	DefaultDuration            = 30 * time.Second
	DefaultCORSAllowedOrigins  = "*" // Allow all origins by default for dev

	DefaultBlockTimeMS     = 2000 // Assumed block time when the network cannot be sampled
	TxsPerSignerPerBlock   = 30   // TXs one nonce chain can sustain per block (with safety buffer)
	MaxSubmitConcurrency   = 1000
	MaxBatchSize           = 1000
	minDrainPollInterval   = 10 * time.Millisecond
	minReceiptPollInterval = 10 * time.Millisecond
)

// EstimateSignerMaxTPS estimates the rate a single signer can sustain. Every
// transaction of a run shares one nonce chain, so throughput is bounded by how
// many consecutive nonces a block builder takes from one sender per block.
// Formula: maxTPS = TxsPerSignerPerBlock / blockTimeSec
func EstimateSignerMaxTPS(blockTimeMS int) int {
	if blockTimeMS <= 0 {
		blockTimeMS = DefaultBlockTimeMS
	}
	blockTimeSec := float64(blockTimeMS) / 1000.0
	maxTPS := int(math.Floor(TxsPerSignerPerBlock / blockTimeSec))
	if maxTPS < 1 {
		maxTPS = 1
	}
	return maxTPS
}

// CheckSignerCapacity returns a warning message if the target TPS exceeds the
// estimated single-signer capacity, empty string otherwise.
func CheckSignerCapacity(targetTPS int, blockTimeMS int) string {
	if targetTPS <= 0 {
		return ""
	}

	maxTPS := EstimateSignerMaxTPS(blockTimeMS)
	if targetTPS <= maxTPS {
		return ""
	}

	percentage := float64(maxTPS) / float64(targetTPS) * 100
	return fmt.Sprintf(
		"Target TPS may exceed single-signer capacity: targeting %d TPS but one nonce chain sustains ~%d TPS "+
			"at %dms blocks. Expect pending transactions at drain (~%.0f%% of target).",
		targetTPS, maxTPS, blockTimeMS, percentage,
	)
}

// Load reads configuration from environment variables and command-line
// arguments. Flags take precedence over environment variables.
// Returns the config, CLI config (nil if running in server mode), and any error.
func Load(args []string) (*Config, *CLIConfig, error) {
	cfg := &Config{
		BatchSize:           DefaultBatchSize,
		SubmitConcurrency:   DefaultSubmitConcurrency,
		DrainTimeout:        DefaultDrainTimeout,
		DrainPollInterval:   DefaultDrainPollInterval,
		ReceiptPollInterval: DefaultReceiptPollInterval,
		KeepaliveInterval:   DefaultKeepaliveInterval,
		ListenAddr:          DefaultListenAddr,
		DatabasePath:        DefaultDatabasePath,
		CORSAllowedOrigins:  DefaultCORSAllowedOrigins,
		LogLevel:            slog.LevelInfo,
	}

	// Load from environment variables first
	cfg.PrivateKey = os.Getenv("PRIVATE_KEY")
	if v := os.Getenv("NETWORKS_FILE"); v != "" {
		cfg.NetworksFile = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("DATABASE_PATH"); ok {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := parseIntEnv(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("SUBMIT_CONCURRENCY"); v != "" {
		if n, err := parseIntEnv(v); err == nil && n > 0 {
			cfg.SubmitConcurrency = n
		}
	}
	envDuration("DRAIN_TIMEOUT", &cfg.DrainTimeout)
	envDuration("DRAIN_POLL_INTERVAL", &cfg.DrainPollInterval)
	envDuration("RECEIPT_POLL_INTERVAL", &cfg.ReceiptPollInterval)
	envDuration("KEEPALIVE_INTERVAL", &cfg.KeepaliveInterval)

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	// Define command-line flags
	fs := flag.NewFlagSet("chainbench", flag.ContinueOnError)
	var (
		networksFile = fs.String("networks", cfg.NetworksFile, "Networks YAML file")
		listenAddr   = fs.String("listen", cfg.ListenAddr, "HTTP listen address")
		dbPath       = fs.String("db", cfg.DatabasePath, "SQLite history database (empty disables history)")
		batchSize    = fs.Int("batch", cfg.BatchSize, "Transactions per submission batch")
		concurrency  = fs.Int("concurrency", cfg.SubmitConcurrency, "Concurrent submissions per batch")
		drainTimeout = fs.Duration("drain-timeout", cfg.DrainTimeout, "Max wait for pending transactions after sending")
		levelFlag    = fs.String("log-level", logLevel, "Log level (debug, info, warn, error)")
		tpsFlag      = fs.Int("tps", 0, "Target TPS (CLI mode)")
		durationFlag = fs.Duration("duration", DefaultDuration, "Test duration (CLI mode)")
		kindFlag     = fs.String("kind", string(types.KindTransfer), "Transaction kind (CLI mode)")
		targetFlag   = fs.String("target", "", "Comma-separated networks to test (CLI mode, default: all)")
	)

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	// Apply flags to config
	cfg.NetworksFile = *networksFile
	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *dbPath
	cfg.BatchSize = *batchSize
	cfg.SubmitConcurrency = *concurrency
	cfg.DrainTimeout = *drainTimeout

	if err := cfg.LogLevel.UnmarshalText([]byte(*levelFlag)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", *levelFlag, err)
	}

	networks, err := loadNetworks(cfg.NetworksFile)
	if err != nil {
		return nil, nil, err
	}
	cfg.Networks = networks

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	// Check if running in CLI mode (TPS specified)
	if *tpsFlag > 0 {
		kind, ok := types.ParseTransactionKind(*kindFlag)
		if !ok {
			return nil, nil, fmt.Errorf("invalid kind: %s", *kindFlag)
		}

		cliCfg := &CLIConfig{
			TPS:      *tpsFlag,
			Duration: *durationFlag,
			Kind:     kind,
			Networks: splitList(*targetFlag),
		}
		if len(cliCfg.Networks) == 0 {
			for _, n := range cfg.Networks {
				cliCfg.Networks = append(cliCfg.Networks, n.Name)
			}
		}

		if err := cliCfg.Validate(); err != nil {
			return nil, nil, err
		}

		return cfg, cliCfg, nil
	}

	return cfg, nil, nil
}

// loadNetworks reads the networks file, or builds the default L2 and Linea
// networks from the environment when no file is configured.
func loadNetworks(path string) ([]*network.Network, error) {
	if path != "" {
		return network.LoadFile(path)
	}

	l2 := &network.Network{
		Name:        "l2",
		DisplayName: "Custom L2",
		RPCURL:      DefaultL2RPCURL,
		ChainID:     DefaultL2ChainID,
	}
	if v := firstEnv("L2_RPC_URL", "L2_RPC"); v != "" {
		l2.RPCURL = v
	}
	if v := os.Getenv("L2_CHAIN_ID"); v != "" {
		id, err := parseInt64Env(v)
		if err != nil {
			return nil, fmt.Errorf("invalid L2_CHAIN_ID: %w", err)
		}
		l2.ChainID = id
	}

	linea := &network.Network{
		Name:        "linea",
		DisplayName: "Linea",
		RPCURL:      DefaultLineaRPCURL,
		ChainID:     DefaultLineaChainID,
	}
	if v := os.Getenv("LINEA_RPC_URL"); v != "" {
		linea.RPCURL = v
	}
	if v := os.Getenv("LINEA_CHAIN_ID"); v != "" {
		id, err := parseInt64Env(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LINEA_CHAIN_ID: %w", err)
		}
		linea.ChainID = id
	}

	return []*network.Network{l2, linea}, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}
	for _, n := range c.Networks {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	if c.BatchSize <= 0 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d", MaxBatchSize)
	}
	if c.SubmitConcurrency <= 0 || c.SubmitConcurrency > MaxSubmitConcurrency {
		return fmt.Errorf("submit concurrency must be between 1 and %d", MaxSubmitConcurrency)
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("drain timeout must be positive")
	}
	if c.DrainPollInterval < minDrainPollInterval {
		return fmt.Errorf("drain poll interval must be at least %v", minDrainPollInterval)
	}
	if c.ReceiptPollInterval < minReceiptPollInterval {
		return fmt.Errorf("receipt poll interval must be at least %v", minReceiptPollInterval)
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("keepalive interval must be positive")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	return nil
}

// Validate validates the CLI configuration.
func (c *CLIConfig) Validate() error {
	if c.TPS <= 0 {
		return fmt.Errorf("TPS must be positive")
	}
	if c.Duration < time.Second {
		return fmt.Errorf("duration must be at least 1s")
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one target network is required")
	}
	return nil
}

// RunRequest converts the CLI settings into a stress test request.
func (c *CLIConfig) RunRequest() types.RunRequest {
	return types.RunRequest{
		DurationSeconds: int(c.Duration.Round(time.Second) / time.Second),
		TargetTPS:       c.TPS,
		TransactionKind: c.Kind,
		Networks:        c.Networks,
	}
}

// envDuration overwrites dst with a positive duration from the environment.
func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseIntEnv parses a string environment variable as an integer.
func parseIntEnv(s string) (int, error) {
	return strconv.Atoi(s)
}

// parseInt64Env parses a string environment variable as an int64.
func parseInt64Env(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
