// Package config loads server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables, then command-line flags. A .env file in the
// working directory is loaded first and never overrides variables that
// are already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"ephemeral-vault/internal/custody"
)

// Config is the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Solana  SolanaConfig  `yaml:"solana"`
	Custody CustodyConfig `yaml:"custody"`
	Vault   VaultConfig   `yaml:"vault"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	UseMemory     bool   `yaml:"use_memory"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

// SolanaConfig configures chain access. Empty URLs disable the watcher
// and the deposit balance preflight.
type SolanaConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	WSURL         string `yaml:"ws_url"`
	ProgramID     string `yaml:"program_id"`
	BackfillLimit int    `yaml:"backfill_limit"`
}

// CustodyConfig configures ephemeral key sealing.
type CustodyConfig struct {
	MasterSecret string `yaml:"master_secret"`
	Cipher       string `yaml:"cipher"`
}

// VaultConfig is the vault policy.
type VaultConfig struct {
	MaxConcurrentSessions     int     `yaml:"max_concurrent_sessions"`
	SessionDurationSecs       int64   `yaml:"session_duration_secs"`
	InactivityTimeoutSecs     int64   `yaml:"inactivity_timeout_secs"`
	MinDepositAmount          uint64  `yaml:"min_deposit_amount"`
	MaxDepositAmount          uint64  `yaml:"max_deposit_amount"`
	RateLimitPerMinute        int     `yaml:"rate_limit_per_minute"`
	AnomalyDetectionThreshold float64 `yaml:"anomaly_detection_threshold"`
	BaseFee                   uint64  `yaml:"base_fee"`
	SizeFeeRate               uint64  `yaml:"size_fee_rate"`
	DelegationMaxAgeSecs      int64   `yaml:"delegation_max_age_secs"`
	NearExpirySecs            int64   `yaml:"near_expiry_secs"`
	ReclaimIntervalSecs       int64   `yaml:"reclaim_interval_secs"`
	SecurityIdleSecs          int64   `yaml:"security_idle_secs"`
}

// DefaultProgramID is the system program id, used when none is configured.
const DefaultProgramID = "11111111111111111111111111111111"

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Solana: SolanaConfig{
			ProgramID:     DefaultProgramID,
			BackfillLimit: 100,
		},
		Custody: CustodyConfig{Cipher: custody.CipherAESGCM},
		Vault:   DefaultVaultConfig(),
	}
}

// DefaultVaultConfig returns the default vault policy.
func DefaultVaultConfig() VaultConfig {
	return VaultConfig{
		MaxConcurrentSessions:     1000,
		SessionDurationSecs:       3600,
		InactivityTimeoutSecs:     1800,
		MinDepositAmount:          5000,
		MaxDepositAmount:          10_000_000_000,
		RateLimitPerMinute:        100,
		AnomalyDetectionThreshold: 2.5,
		BaseFee:                   5000,
		SizeFeeRate:               100,
		DelegationMaxAgeSecs:      3600,
		NearExpirySecs:            300,
		ReclaimIntervalSecs:       60,
		SecurityIdleSecs:          600,
	}
}

func secs(n int64) time.Duration { return time.Duration(n) * time.Second }

// SessionDuration returns the default session lifetime.
func (v VaultConfig) SessionDuration() time.Duration { return secs(v.SessionDurationSecs) }

// InactivityTimeout returns the abandoned-vault threshold.
func (v VaultConfig) InactivityTimeout() time.Duration { return secs(v.InactivityTimeoutSecs) }

// DelegationMaxAge returns the age after which delegations are renewed.
func (v VaultConfig) DelegationMaxAge() time.Duration { return secs(v.DelegationMaxAgeSecs) }

// NearExpiry returns the near-expiry threshold.
func (v VaultConfig) NearExpiry() time.Duration { return secs(v.NearExpirySecs) }

// ReclaimInterval returns the reclaimer period.
func (v VaultConfig) ReclaimInterval() time.Duration { return secs(v.ReclaimIntervalSecs) }

// SecurityIdle returns the idle age after which guard state is evicted.
func (v VaultConfig) SecurityIdle() time.Duration { return secs(v.SecurityIdleSecs) }

// Load builds a Config from args. The YAML file is taken from --config or
// VAULT_CONFIG. getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	// First pass records which flags were given; values land in a scratch copy.
	fs := newFlagSet()
	configPath := fs.String("config", getenv("VAULT_CONFIG"), "YAML config file")
	Default().RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}

	final := newFlagSet()
	cfg.RegisterFlags(final)
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		err = final.Set(f.Name, f.Value.String())
	})
	if err != nil {
		return nil, fmt.Errorf("apply flags: %w", err)
	}
	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("ephemeral-vault", pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// LoadFile merges a YAML file into c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// RegisterFlags binds every field to a flag defaulting to its current value.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server.Addr, "addr", c.Server.Addr, "HTTP listen address")

	fs.BoolVar(&c.Storage.UseMemory, "use-memory", c.Storage.UseMemory, "Use in-memory storage instead of PostgreSQL and ClickHouse")
	fs.StringVar(&c.Storage.PostgresDSN, "postgres-dsn", c.Storage.PostgresDSN, "PostgreSQL connection string")
	fs.StringVar(&c.Storage.ClickhouseDSN, "clickhouse-dsn", c.Storage.ClickhouseDSN, "ClickHouse connection string")

	fs.StringVar(&c.Solana.RPCURL, "rpc-url", c.Solana.RPCURL, "Solana RPC HTTP endpoint")
	fs.StringVar(&c.Solana.WSURL, "ws-url", c.Solana.WSURL, "Solana WebSocket endpoint")
	fs.StringVar(&c.Solana.ProgramID, "program-id", c.Solana.ProgramID, "Vault program id (base58)")
	fs.IntVar(&c.Solana.BackfillLimit, "backfill-limit", c.Solana.BackfillLimit, "Program signatures replayed at startup")

	fs.StringVar(&c.Custody.MasterSecret, "master-secret", c.Custody.MasterSecret, "Secret the sealing key is derived from")
	fs.StringVar(&c.Custody.Cipher, "cipher", c.Custody.Cipher, "Sealing cipher: aes-256-gcm or chacha20-poly1305")

	v := &c.Vault
	fs.IntVar(&v.MaxConcurrentSessions, "max-concurrent-sessions", v.MaxConcurrentSessions, "Cap on concurrently issued sessions (0 = unlimited)")
	fs.Int64Var(&v.SessionDurationSecs, "session-duration-secs", v.SessionDurationSecs, "Default session lifetime")
	fs.Int64Var(&v.InactivityTimeoutSecs, "inactivity-timeout-secs", v.InactivityTimeoutSecs, "Idle time before a vault counts as abandoned")
	fs.Uint64Var(&v.MinDepositAmount, "min-deposit", v.MinDepositAmount, "Minimum deposit (lamports)")
	fs.Uint64Var(&v.MaxDepositAmount, "max-deposit", v.MaxDepositAmount, "Maximum deposit (lamports)")
	fs.IntVar(&v.RateLimitPerMinute, "rate-limit", v.RateLimitPerMinute, "Requests per origin per minute")
	fs.Float64Var(&v.AnomalyDetectionThreshold, "anomaly-threshold", v.AnomalyDetectionThreshold, "Anomaly multiplier over the moving average")
	fs.Uint64Var(&v.BaseFee, "base-fee", v.BaseFee, "Base transaction fee (lamports)")
	fs.Uint64Var(&v.SizeFeeRate, "size-fee-rate", v.SizeFeeRate, "Fee per million lamports traded")
	fs.Int64Var(&v.DelegationMaxAgeSecs, "delegation-max-age-secs", v.DelegationMaxAgeSecs, "Delegation age that triggers renewal")
	fs.Int64Var(&v.NearExpirySecs, "near-expiry-secs", v.NearExpirySecs, "Remaining lifetime reported as near expiry")
	fs.Int64Var(&v.ReclaimIntervalSecs, "reclaim-interval-secs", v.ReclaimIntervalSecs, "Reclaimer period")
	fs.Int64Var(&v.SecurityIdleSecs, "security-idle-secs", v.SecurityIdleSecs, "Idle age of evicted rate-limit and profile state")
}

// ApplyEnv overrides c from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	str(&c.Storage.PostgresDSN, "DATABASE_URL", "POSTGRES_DSN")
	str(&c.Storage.ClickhouseDSN, "CLICKHOUSE_DSN")
	str(&c.Solana.RPCURL, "SOLANA_RPC_URL")
	str(&c.Solana.WSURL, "SOLANA_WS_URL")
	str(&c.Solana.ProgramID, "VAULT_PROGRAM_ID")
	str(&c.Custody.MasterSecret, "MASTER_SECRET")
	str(&c.Custody.Cipher, "SEALING_CIPHER")
	if port := getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}

	var errs []error
	parse := func(key string, set func(string) error) {
		if v := getenv(key); v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
			}
		}
	}
	parse("USE_MEMORY", func(s string) (err error) { c.Storage.UseMemory, err = strconv.ParseBool(s); return })
	parse("BACKFILL_LIMIT", func(s string) (err error) { c.Solana.BackfillLimit, err = strconv.Atoi(s); return })

	v := &c.Vault
	parse("MAX_CONCURRENT_SESSIONS", func(s string) (err error) { v.MaxConcurrentSessions, err = strconv.Atoi(s); return })
	parse("SESSION_DURATION_SECS", int64Setter(&v.SessionDurationSecs))
	parse("INACTIVITY_TIMEOUT_SECS", int64Setter(&v.InactivityTimeoutSecs))
	parse("MIN_DEPOSIT_AMOUNT", uint64Setter(&v.MinDepositAmount))
	parse("MAX_DEPOSIT_AMOUNT", uint64Setter(&v.MaxDepositAmount))
	parse("RATE_LIMIT_PER_MINUTE", func(s string) (err error) { v.RateLimitPerMinute, err = strconv.Atoi(s); return })
	parse("ANOMALY_DETECTION_THRESHOLD", func(s string) (err error) {
		v.AnomalyDetectionThreshold, err = strconv.ParseFloat(s, 64)
		return
	})
	parse("BASE_FEE", uint64Setter(&v.BaseFee))
	parse("SIZE_FEE_RATE", uint64Setter(&v.SizeFeeRate))
	parse("DELEGATION_MAX_AGE_SECS", int64Setter(&v.DelegationMaxAgeSecs))
	parse("NEAR_EXPIRY_SECS", int64Setter(&v.NearExpirySecs))
	parse("RECLAIM_INTERVAL_SECS", int64Setter(&v.ReclaimIntervalSecs))
	parse("SECURITY_IDLE_SECS", int64Setter(&v.SecurityIdleSecs))
	return errors.Join(errs...)
}

func int64Setter(dst *int64) func(string) error {
	return func(s string) (err error) {
		*dst, err = strconv.ParseInt(s, 10, 64)
		return
	}
}

func uint64Setter(dst *uint64) func(string) error {
	return func(s string) (err error) {
		*dst, err = strconv.ParseUint(s, 10, 64)
		return
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Custody.MasterSecret == "" {
		errs = append(errs, errors.New("master secret is required"))
	}
	switch c.Custody.Cipher {
	case custody.CipherAESGCM, custody.CipherChaCha20Poly1305:
	default:
		errs = append(errs, fmt.Errorf("unknown cipher %q", c.Custody.Cipher))
	}
	if !c.Storage.UseMemory && (c.Storage.PostgresDSN == "" || c.Storage.ClickhouseDSN == "") {
		errs = append(errs, errors.New("postgres and clickhouse DSNs are required unless use_memory is set"))
	}
	if c.Solana.ProgramID == "" {
		errs = append(errs, errors.New("program id is required"))
	}

	v := c.Vault
	for name, n := range map[string]int64{
		"session_duration_secs":   v.SessionDurationSecs,
		"inactivity_timeout_secs": v.InactivityTimeoutSecs,
		"delegation_max_age_secs": v.DelegationMaxAgeSecs,
		"near_expiry_secs":        v.NearExpirySecs,
		"reclaim_interval_secs":   v.ReclaimIntervalSecs,
		"security_idle_secs":      v.SecurityIdleSecs,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if v.MaxConcurrentSessions < 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_sessions must not be negative, got %d", v.MaxConcurrentSessions))
	}
	if v.MinDepositAmount > v.MaxDepositAmount {
		errs = append(errs, fmt.Errorf("min_deposit_amount %d exceeds max_deposit_amount %d", v.MinDepositAmount, v.MaxDepositAmount))
	}
	if v.RateLimitPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit_per_minute must be positive, got %d", v.RateLimitPerMinute))
	}
	if v.AnomalyDetectionThreshold < 1 {
		errs = append(errs, fmt.Errorf("anomaly_detection_threshold must be at least 1, got %v", v.AnomalyDetectionThreshold))
	}
	return errors.Join(errs...)
}

// LoadEnvFile sets variables from a KEY=VALUE file. Missing files are
// ignored; variables already set are kept.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}
