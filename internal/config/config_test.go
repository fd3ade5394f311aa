package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"DCAVault/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
vault:
  admin: "11111111111111111111111111111111"
  stable_mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
  target_mint: "So11111111111111111111111111111111111111112"
  shares_mint: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
  fee_bps: 30
cycle:
  notional: 100000000
  poll_cron: "0 */5 * * * *"
venue:
  relay_url: "http://relay.local"
  user_public_key: "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
`

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "HTTPS_PROXY", "VAULT_STATE_FILE", "VAULT_ADMIN",
		"VENUE_BASE_URL", "VENUE_RELAY_URL", "VENUE_USER_PUBLIC_KEY", "CYCLE_NOTIONAL", "CRON_POLL",
		"RUN_ON_START", "SQLITE_PATH", "LOG_LEVEL", "PYROSCOPE_URL", "ADMIN_TOKEN", "ADMIN_URL",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(86400), cfg.Vault.PeriodSeconds)
	assert.Equal(t, uint16(30), cfg.Vault.FeeBps)
	assert.Equal(t, uint16(50), cfg.Cycle.MaxSlippageBps)
	assert.Equal(t, 30*time.Second, cfg.QuoteTTL())
	assert.Equal(t, 60*time.Second, cfg.SubmitTimeout())
	assert.Equal(t, 15*time.Second, cfg.LookupTimeout())
	assert.Equal(t, "http", cfg.Venue.Kind)
	assert.Equal(t, "data/vault_state.json", cfg.Vault.StateFile)
	assert.False(t, cfg.TelegramEnabled())
	assert.Equal(t, "http://127.0.0.1:8089", cfg.Admin.URL)
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CYCLE_NOTIONAL", "250")
	t.Setenv("CRON_POLL", "@every 1m")
	t.Setenv("RUN_ON_START", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, uint64(250), cfg.Cycle.Notional)
	assert.Equal(t, "@every 1m", cfg.Cycle.PollCron)
	assert.True(t, cfg.Cycle.RunOnStart)
	assert.True(t, cfg.TelegramEnabled())

	err = cfg.Validate()
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "vault.admin is required")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "vault: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"bad mint", func(c *Config) { c.Vault.StableMint = "not-a-key" }, "vault.stable_mint is not a valid public key"},
		{"same mints", func(c *Config) { c.Vault.TargetMint = c.Vault.StableMint }, "must differ"},
		{"fee too high", func(c *Config) { c.Vault.FeeBps = 10001 }, "vault.fee_bps"},
		{"zero notional", func(c *Config) { c.Cycle.Notional = 0 }, "cycle.notional"},
		{"bad cron", func(c *Config) { c.Cycle.PollCron = "*/5 * * * *" }, "cycle.poll_cron"},
		{"slippage", func(c *Config) { c.Cycle.MaxSlippageBps = 10000 }, "cycle.max_slippage_bps"},
		{"relay missing", func(c *Config) { c.Venue.RelayURL = "" }, "venue.relay_url"},
		{"unknown venue", func(c *Config) { c.Venue.Kind = "cex" }, "venue.kind"},
		{"stub without rate", func(c *Config) { c.Venue.Kind = "stub" }, "stub_rate"},
		{"half telegram", func(c *Config) { c.Telegram.BotToken = "tok" }, "telegram.bot_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.ErrorIs(t, err, model.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidateStubVenueNeedsNoUserKey(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	cfg.Venue.Kind = "stub"
	cfg.Venue.UserPublicKey = ""
	cfg.Venue.StubRateNum, cfg.Venue.StubRateDen = 1, 200
	assert.NoError(t, cfg.Validate())
}
