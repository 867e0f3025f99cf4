// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config is everything main needs to wire the engine.
type Config struct {
	Listen   string
	SeedFile string
	LogMode  string

	DatabaseDriver string
	DatabaseURL    string

	ServiceToken   string
	OperatorID     string
	AllowedOrigins []string
	// Hub services switched on at startup; the rest stay registered but disabled.
	EnabledServices []string

	ChallengeBaseBonus    int64
	OracleMode            string // "local" or "external"
	OracleSeed            string
	OracleDelay           time.Duration
	PendingRequestTimeout time.Duration

	LocalChainSelector uint64
	RedisAddr          string
	RedisPassword      string
	RedisChannelPrefix string
	InitialFeeBudget   uint64
	BaseFee            uint64
	PerByteFee         uint64
	PerComputeUnitFee  uint64

	AutomationInterval  time.Duration
	WeatherFeedURL      string
	WeatherPollInterval time.Duration
	SessionSyncURL      string
	SessionSyncToken    string
	SessionSyncInterval time.Duration
	LeaderboardCron     string

	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2Bucket          string
	R2CDNBaseURL      string
}

// Load parses flags, then the env file they name, then the environment.
// Flags win over environment values.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("fitness-score-engine", pflag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "dotenv file to load before reading the environment")
	seed := fs.String("seed", "", "YAML seed file with regions, chains and seasonal overrides")
	listen := fs.String("listen", "", "HTTP listen address (default :5200)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	r := envReader{}
	cfg := &Config{
		Listen:   firstNonEmpty(*listen, r.str("LISTEN_ADDR", ":5200")),
		SeedFile: firstNonEmpty(*seed, r.str("SEED_FILE", "")),
		LogMode:  r.str("LOG_MODE", "dev"),

		DatabaseDriver: strings.ToLower(r.str("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    r.str("DATABASE_URL", ""),

		ServiceToken:    r.str("ENGINE_SERVICE_TOKEN", ""),
		OperatorID:      r.str("OPERATOR_ID", ""),
		AllowedOrigins:  splitList(r.str("ALLOWED_ORIGINS", "http://localhost:3000")),
		EnabledServices: splitList(r.str("HUB_ENABLED_SERVICES", "challenge,bonus")),

		ChallengeBaseBonus:    r.i64("CHALLENGE_BASE_BONUS", 100),
		OracleMode:            strings.ToLower(r.str("ORACLE_MODE", "local")),
		OracleSeed:            r.str("ORACLE_SEED", ""),
		OracleDelay:           r.duration("ORACLE_DELAY", 5*time.Second),
		PendingRequestTimeout: r.duration("PENDING_REQUEST_TIMEOUT", 6*time.Hour),

		LocalChainSelector: r.u64("LOCAL_CHAIN_SELECTOR", 0),
		RedisAddr:          r.str("REDIS_ADDR", ""),
		RedisPassword:      r.str("REDIS_PASSWORD", ""),
		RedisChannelPrefix: r.str("REDIS_CHANNEL_PREFIX", "crosschain"),
		InitialFeeBudget:   r.u64("INITIAL_FEE_BUDGET", 0),
		BaseFee:            r.u64("CROSSCHAIN_BASE_FEE", 1000),
		PerByteFee:         r.u64("CROSSCHAIN_PER_BYTE_FEE", 10),
		PerComputeUnitFee:  r.u64("CROSSCHAIN_PER_COMPUTE_UNIT_FEE", 0),

		AutomationInterval:  r.duration("AUTOMATION_INTERVAL", 5*time.Minute),
		WeatherFeedURL:      r.str("WEATHER_FEED_URL", ""),
		WeatherPollInterval: r.duration("WEATHER_POLL_INTERVAL", 30*time.Minute),
		SessionSyncURL:      r.str("SESSION_SYNC_URL", ""),
		SessionSyncToken:    r.str("SESSION_SYNC_TOKEN", ""),
		SessionSyncInterval: r.duration("SESSION_SYNC_INTERVAL", time.Minute),
		LeaderboardCron:     r.str("LEADERBOARD_EXPORT_CRON", "0 3 * * *"),

		R2AccountID:       r.str("CLOUDFLARE_ACCOUNT_ID", ""),
		R2AccessKeyID:     r.str("R2_ACCESS_KEY_ID", ""),
		R2AccessKeySecret: r.str("R2_ACCESS_KEY_SECRET", ""),
		R2Bucket:          r.str("R2_BUCKET_NAME", ""),
		R2CDNBaseURL:      r.str("R2_CDN_BASE_URL", ""),
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent required value at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable not set"))
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if c.ServiceToken == "" {
		errs = append(errs, errors.New("ENGINE_SERVICE_TOKEN environment variable not set"))
	}
	if c.OperatorID == "" {
		errs = append(errs, errors.New("OPERATOR_ID environment variable not set"))
	}
	if c.LocalChainSelector == 0 {
		errs = append(errs, errors.New("LOCAL_CHAIN_SELECTOR environment variable not set"))
	}
	switch c.OracleMode {
	case "local":
		if c.OracleSeed == "" {
			errs = append(errs, errors.New("ORACLE_SEED is required when ORACLE_MODE=local"))
		}
	case "external":
	default:
		errs = append(errs, fmt.Errorf("ORACLE_MODE must be local or external, got %q", c.OracleMode))
	}
	if c.ChallengeBaseBonus <= 0 {
		errs = append(errs, errors.New("CHALLENGE_BASE_BONUS must be positive"))
	}
	if c.AutomationInterval <= 0 {
		errs = append(errs, errors.New("AUTOMATION_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// envReader collects parse failures instead of stopping at the first one.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) i64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *envReader) u64(key string, def uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// splitList trims each comma-separated entry and drops empties.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
