package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "controlplane.yaml"

// CLIFlags holds command-line flag values. Nil pointers indicate unset flags
// that should not override the config. Use ParseFlags to populate this struct.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses command-line arguments into CLIFlags.
// Call this before Load/LoadWithCLI. Passing nil args parses os.Args[1:].
func ParseFlags(args []string) (CLIFlags, error) {
	var flags CLIFlags

	fs := flag.NewFlagSet("controlplane", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP server port")
	fs.StringVar(port, "p", "", "HTTP server port (shorthand)")
	logLevel := fs.String("log-level", "", "logging level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	if err := fs.Parse(args); err != nil {
		return flags, fmt.Errorf("parse flags: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "port", "p":
			flags.Port = port
		case "log-level":
			flags.LogLevel = logLevel
		case "dsn":
			flags.DSN = dsn
		case "nats-url":
			flags.NatsURL = natsURL
		}
	})

	return flags, nil
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadWithCLI returns a Config using the full hierarchy:
// defaults < YAML < ENV < CLI flags. The YAML path can be overridden
// via CLIFlags.ConfigPath.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}

	return &cfg, yamlPath, nil
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overlays CLI flag values onto cfg. Only non-nil flags override.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CONTROLPLANE_PORT")
	setString(&cfg.Server.CORSOrigin, "CONTROLPLANE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONTROLPLANE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONTROLPLANE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONTROLPLANE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONTROLPLANE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONTROLPLANE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Logging.Level, "CONTROLPLANE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONTROLPLANE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONTROLPLANE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CONTROLPLANE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONTROLPLANE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "CONTROLPLANE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CONTROLPLANE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CONTROLPLANE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CONTROLPLANE_RATE_MAX_IDLE_TIME")

	setInt64(&cfg.Cache.L1MaxSizeMB, "CONTROLPLANE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CONTROLPLANE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "CONTROLPLANE_CACHE_L2_TTL")

	setString(&cfg.Idempotency.Bucket, "CONTROLPLANE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "CONTROLPLANE_IDEMPOTENCY_TTL")

	setBool(&cfg.OTEL.Enabled, "CONTROLPLANE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "CONTROLPLANE_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "CONTROLPLANE_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "CONTROLPLANE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "CONTROLPLANE_OTEL_SAMPLE_RATE")

	setBool(&cfg.Auth.Enabled, "CONTROLPLANE_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "CONTROLPLANE_AUTH_JWT_SECRET")
	setDuration(&cfg.Auth.AccessTokenExpiry, "CONTROLPLANE_AUTH_ACCESS_EXPIRY")
	setInt(&cfg.Auth.BcryptCost, "CONTROLPLANE_AUTH_BCRYPT_COST")
	setString(&cfg.Auth.DefaultAdminEmail, "CONTROLPLANE_AUTH_ADMIN_EMAIL")
	setString(&cfg.Auth.DefaultAdminPass, "CONTROLPLANE_AUTH_ADMIN_PASS")

	setString(&cfg.Vault.Secret, "CONTROLPLANE_VAULT_SECRET")

	setString(&cfg.Workspace.BaseDomain, "CONTROLPLANE_WORKSPACE_BASE_DOMAIN")
	setString(&cfg.Workspace.BaseURL, "CONTROLPLANE_WORKSPACE_BASE_URL")
	setStringSlice(&cfg.Workspace.AdminUserIDs, "CONTROLPLANE_WORKSPACE_ADMIN_USER_IDS")
	setDuration(&cfg.Workspace.IdleCheckInterval, "CONTROLPLANE_WORKSPACE_IDLE_CHECK_INTERVAL")
	setDuration(&cfg.Workspace.LongTermInactiveCheck, "CONTROLPLANE_WORKSPACE_LONG_TERM_CHECK")
	setBool(&cfg.Workspace.SelfHosted, "CONTROLPLANE_SELF_HOSTED")

	setString(&cfg.DeviceLogin.VerificationURI, "CONTROLPLANE_DEVICE_VERIFICATION_URI")

	setString(&cfg.LoopRunner.CallbackBaseURL, "CONTROLPLANE_LOOP_CALLBACK_BASE_URL")
	setString(&cfg.LoopRunner.CallbackSecret, "CONTROLPLANE_LOOP_CALLBACK_SECRET")
	setDuration(&cfg.LoopRunner.StallPollEvery, "CONTROLPLANE_LOOP_STALL_POLL_EVERY")

	setInt(&cfg.Quota.DefaultIdleTimeoutMinutes, "CONTROLPLANE_QUOTA_DEFAULT_IDLE_TIMEOUT_MINUTES")
	setInt(&cfg.Quota.DefaultFreeTierDailyMinutes, "CONTROLPLANE_QUOTA_DEFAULT_FREE_TIER_DAILY_MINUTES")

	setString(&cfg.Cloud.BaseURL, "CONTROLPLANE_CLOUD_BASE_URL")
	setString(&cfg.Cloud.APIKey, "CONTROLPLANE_CLOUD_API_KEY")
	setString(&cfg.Sandbox.BaseURL, "CONTROLPLANE_SANDBOX_BASE_URL")
	setString(&cfg.Sandbox.APIKey, "CONTROLPLANE_SANDBOX_API_KEY")
}

// validate checks that required fields are set and security constraints are met.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Workspace.BaseDomain == "" {
		return errors.New("workspace.base_domain is required")
	}

	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth.enabled is true")
	}
	if cfg.Auth.BcryptCost < 10 {
		return errors.New("auth.bcrypt_cost must be >= 10")
	}
	if cfg.Auth.Enabled {
		p := cfg.Auth.DefaultAdminPass
		if p == "changeme123" || p == "Changeme123" || p == "CHANGE_ME_ON_FIRST_BOOT" {
			slog.Warn("auth.default_admin_pass is set to a well-known default; change it before production use")
		}
	}
	if cfg.Auth.Enabled && cfg.Vault.Secret == "" {
		slog.Warn("vault.secret is empty; credential storage will fail until it is set")
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
