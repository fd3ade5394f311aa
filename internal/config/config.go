package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"DCAVault/internal/model"

	"github.com/gagliardetto/solana-go"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Vault struct {
		StateFile      string `yaml:"state_file"`
		Admin          string `yaml:"admin"`
		StableMint     string `yaml:"stable_mint"`
		TargetMint     string `yaml:"target_mint"`
		SharesMint     string `yaml:"shares_mint"`
		PeriodSeconds  uint64 `yaml:"period_seconds"`
		FeeBps         uint16 `yaml:"fee_bps"`
		StableDecimals uint8  `yaml:"stable_decimals"`
		TargetDecimals uint8  `yaml:"target_decimals"`
	} `yaml:"vault"`
	Cycle struct {
		Notional         uint64 `yaml:"notional"`
		PollCron         string `yaml:"poll_cron"`
		MaxSlippageBps   uint16 `yaml:"max_slippage_bps"`
		QuoteTTLSec      int    `yaml:"quote_ttl_sec"`
		SubmitTimeoutSec int    `yaml:"submit_timeout_sec"`
		LookupTimeoutSec int    `yaml:"lookup_timeout_sec"`
		RunOnStart       bool   `yaml:"run_on_start"`
	} `yaml:"cycle"`
	Venue struct {
		Kind          string `yaml:"kind"` // "http" or "stub"
		BaseURL       string `yaml:"base_url"`
		RelayURL      string `yaml:"relay_url"`
		UserPublicKey string `yaml:"user_public_key"`
		StubRateNum   uint64 `yaml:"stub_rate_num"`
		StubRateDen   uint64 `yaml:"stub_rate_den"`
	} `yaml:"venue"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Admin struct {
		Listen string `yaml:"listen"`
		URL    string `yaml:"url"`    // used by vaultctl
		Token  string `yaml:"token"`
	} `yaml:"admin"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
	Profiling struct {
		PyroscopeURL string `yaml:"pyroscope_url"`
		AppName      string `yaml:"app_name"`
	} `yaml:"profiling"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("VAULT_STATE_FILE"); v != "" {
		cfg.Vault.StateFile = v
	}
	if v := os.Getenv("VAULT_ADMIN"); v != "" {
		cfg.Vault.Admin = v
	}
	if v := os.Getenv("VENUE_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
	if v := os.Getenv("VENUE_RELAY_URL"); v != "" {
		cfg.Venue.RelayURL = v
	}
	if v := os.Getenv("VENUE_USER_PUBLIC_KEY"); v != "" {
		cfg.Venue.UserPublicKey = v
	}
	if v := os.Getenv("CYCLE_NOTIONAL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Cycle.Notional = n
		}
	}
	if v := os.Getenv("CRON_POLL"); v != "" {
		cfg.Cycle.PollCron = v
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		cfg.Cycle.RunOnStart = v == "true"
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}
	if v := os.Getenv("ADMIN_URL"); v != "" {
		cfg.Admin.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PYROSCOPE_URL"); v != "" {
		cfg.Profiling.PyroscopeURL = v
	}

	// Defaults
	if cfg.Vault.StateFile == "" {
		cfg.Vault.StateFile = "data/vault_state.json"
	}
	if cfg.Vault.PeriodSeconds == 0 {
		cfg.Vault.PeriodSeconds = 86400
	}
	if cfg.Vault.StableDecimals == 0 {
		cfg.Vault.StableDecimals = 6
	}
	if cfg.Vault.TargetDecimals == 0 {
		cfg.Vault.TargetDecimals = 9
	}
	if cfg.Cycle.PollCron == "" {
		cfg.Cycle.PollCron = "@every 5m"
	}
	if cfg.Cycle.MaxSlippageBps == 0 {
		cfg.Cycle.MaxSlippageBps = 50
	}
	if cfg.Cycle.QuoteTTLSec == 0 {
		cfg.Cycle.QuoteTTLSec = 30
	}
	if cfg.Cycle.SubmitTimeoutSec == 0 {
		cfg.Cycle.SubmitTimeoutSec = 60
	}
	if cfg.Cycle.LookupTimeoutSec == 0 {
		cfg.Cycle.LookupTimeoutSec = 15
	}
	if cfg.Venue.Kind == "" {
		cfg.Venue.Kind = "http"
	}
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://quote-api.jup.ag/v6"
	}
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = "127.0.0.1:8089"
	}
	if cfg.Admin.URL == "" {
		cfg.Admin.URL = "http://" + cfg.Admin.Listen
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/dca_vault.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Profiling.AppName == "" {
		cfg.Profiling.AppName = "dca-vault.cranker"
	}

	return cfg, nil
}

// QuoteTTL returns the quote lifetime bound.
func (c *Config) QuoteTTL() time.Duration { return time.Duration(c.Cycle.QuoteTTLSec) * time.Second }

// SubmitTimeout returns the bounded wait for swap confirmation.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Cycle.SubmitTimeoutSec) * time.Second
}

// LookupTimeout returns the bounded wait for reconciliation lookups.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Cycle.LookupTimeoutSec) * time.Second
}

// TelegramEnabled reports whether reports and commands go to Telegram.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// PollParser parses poll schedules the way the cranker's cron does (seconds field required).
var PollParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	var errs []error
	keys := []struct{ field, value string }{
		{"vault.admin", c.Vault.Admin},
		{"vault.stable_mint", c.Vault.StableMint},
		{"vault.target_mint", c.Vault.TargetMint},
		{"vault.shares_mint", c.Vault.SharesMint},
	}
	if c.Venue.Kind == "http" {
		keys = append(keys, struct{ field, value string }{"venue.user_public_key", c.Venue.UserPublicKey})
	}
	for _, k := range keys {
		if err := validatePublicKey(k.field, k.value); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Vault.StableMint != "" && c.Vault.StableMint == c.Vault.TargetMint {
		errs = append(errs, fmt.Errorf("vault.stable_mint and vault.target_mint must differ"))
	}
	if c.Vault.PeriodSeconds == 0 || c.Vault.PeriodSeconds > model.MaxPeriodSeconds {
		errs = append(errs, fmt.Errorf("vault.period_seconds must be in [1, %d]", model.MaxPeriodSeconds))
	}
	if c.Vault.FeeBps > model.MaxFeeBps {
		errs = append(errs, fmt.Errorf("vault.fee_bps must be at most %d", model.MaxFeeBps))
	}
	if c.Cycle.Notional == 0 {
		errs = append(errs, fmt.Errorf("cycle.notional must be positive"))
	}
	if c.Cycle.MaxSlippageBps >= model.MaxFeeBps {
		errs = append(errs, fmt.Errorf("cycle.max_slippage_bps must be below %d", model.MaxFeeBps))
	}
	if c.Cycle.QuoteTTLSec < 0 || c.Cycle.SubmitTimeoutSec < 0 || c.Cycle.LookupTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("cycle timeouts must not be negative"))
	}
	if _, err := PollParser.Parse(c.Cycle.PollCron); err != nil {
		errs = append(errs, fmt.Errorf("cycle.poll_cron: %w", err))
	}
	switch c.Venue.Kind {
	case "http":
		if c.Venue.BaseURL == "" {
			errs = append(errs, fmt.Errorf("venue.base_url is required"))
		}
		if c.Venue.RelayURL == "" {
			errs = append(errs, fmt.Errorf("venue.relay_url is required"))
		}
	case "stub":
		if c.Venue.StubRateNum == 0 || c.Venue.StubRateDen == 0 {
			errs = append(errs, fmt.Errorf("venue.stub_rate_num and venue.stub_rate_den must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("venue.kind %q is not http or stub", c.Venue.Kind))
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		errs = append(errs, fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validatePublicKey(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, err := solana.PublicKeyFromBase58(value); err != nil {
		return fmt.Errorf("%s is not a valid public key: %w", field, err)
	}
	return nil
}
