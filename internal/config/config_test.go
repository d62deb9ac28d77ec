package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()
	v := cfg.Vault

	assert.Equal(t, 1000, v.MaxConcurrentSessions)
	assert.Equal(t, time.Hour, v.SessionDuration())
	assert.Equal(t, 30*time.Minute, v.InactivityTimeout())
	assert.Equal(t, uint64(5000), v.MinDepositAmount)
	assert.Equal(t, uint64(10_000_000_000), v.MaxDepositAmount)
	assert.Equal(t, 100, v.RateLimitPerMinute)
	assert.Equal(t, 2.5, v.AnomalyDetectionThreshold)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DefaultProgramID, cfg.Solana.ProgramID)
}

func TestLoad_Layering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
storage:
  use_memory: true
vault:
  session_duration_secs: 600
  min_deposit_amount: 10000
  rate_limit_per_minute: 10
`), 0o600))

	env := envMap(map[string]string{
		"VAULT_CONFIG":          path,
		"MASTER_SECRET":         "from-env",
		"RATE_LIMIT_PER_MINUTE": "20",
		"PORT":                  "9100",
	})
	cfg, err := Load([]string{"--rate-limit", "30", "--anomaly-threshold=3.5"}, env)
	require.NoError(t, err)

	// file
	assert.True(t, cfg.Storage.UseMemory)
	assert.Equal(t, int64(600), cfg.Vault.SessionDurationSecs)
	assert.Equal(t, uint64(10000), cfg.Vault.MinDepositAmount)
	// env over file
	assert.Equal(t, "from-env", cfg.Custody.MasterSecret)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	// flags over env
	assert.Equal(t, 30, cfg.Vault.RateLimitPerMinute)
	assert.Equal(t, 3.5, cfg.Vault.AnomalyDetectionThreshold)
	// untouched defaults
	assert.Equal(t, int64(1800), cfg.Vault.InactivityTimeoutSecs)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vault:\n  base_fee: 7000\n"), 0o600))

	cfg, err := Load([]string{"--config", path}, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, uint64(7000), cfg.Vault.BaseFee)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load([]string{"--no-such-flag"}, envMap(nil))
	assert.Error(t, err)

	_, err = Load(nil, envMap(map[string]string{"VAULT_CONFIG": "/does/not/exist.yaml"}))
	assert.Error(t, err)

	_, err = Load(nil, envMap(map[string]string{"SESSION_DURATION_SECS": "soon"}))
	assert.ErrorContains(t, err, "SESSION_DURATION_SECS")
}

func TestApplyEnv_DSNPrecedence(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		"DATABASE_URL": "postgres://primary",
		"POSTGRES_DSN": "postgres://secondary",
	})))
	assert.Equal(t, "postgres://primary", cfg.Storage.PostgresDSN)

	cfg = Default()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{"POSTGRES_DSN": "postgres://secondary"})))
	assert.Equal(t, "postgres://secondary", cfg.Storage.PostgresDSN)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Custody.MasterSecret = "secret"
		cfg.Storage.UseMemory = true
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no master secret", func(c *Config) { c.Custody.MasterSecret = "" }, "master secret"},
		{"unknown cipher", func(c *Config) { c.Custody.Cipher = "rot13" }, "unknown cipher"},
		{"missing dsn", func(c *Config) { c.Storage.UseMemory = false }, "DSNs"},
		{"zero duration", func(c *Config) { c.Vault.SessionDurationSecs = 0 }, "session_duration_secs"},
		{"min above max", func(c *Config) { c.Vault.MinDepositAmount = c.Vault.MaxDepositAmount + 1 }, "min_deposit_amount"},
		{"low threshold", func(c *Config) { c.Vault.AnomalyDetectionThreshold = 0.5 }, "anomaly_detection_threshold"},
		{"no rate limit", func(c *Config) { c.Vault.RateLimitPerMinute = 0 }, "rate_limit_per_minute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
VAULT_TEST_NEW="quoted value"
export VAULT_TEST_EXPORTED=yes
VAULT_TEST_KEPT=from-file
not-a-pair
`), 0o600))
	t.Setenv("VAULT_TEST_KEPT", "from-env")
	t.Setenv("VAULT_TEST_NEW", "")
	os.Unsetenv("VAULT_TEST_NEW")
	t.Setenv("VAULT_TEST_EXPORTED", "")
	os.Unsetenv("VAULT_TEST_EXPORTED")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "quoted value", os.Getenv("VAULT_TEST_NEW"))
	assert.Equal(t, "yes", os.Getenv("VAULT_TEST_EXPORTED"))
	assert.Equal(t, "from-env", os.Getenv("VAULT_TEST_KEPT"))

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
