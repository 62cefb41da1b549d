package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/retry"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	SCM       SCMConfig       `mapstructure:"scm"`
	Compute   ComputeConfig   `mapstructure:"compute"`
	DNS       DNSConfig       `mapstructure:"dns"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Heartbeat is the keep-alive interval of progress streams.
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds API authentication configuration. An empty secret
// leaves the API open.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SCMConfig holds source control configuration.
type SCMConfig struct {
	Token       string `mapstructure:"token"`
	Owner       string `mapstructure:"owner"`
	BaseURL     string `mapstructure:"base_url"`
	Private     bool   `mapstructure:"private"`
	Branch      string `mapstructure:"branch"`
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

// ComputeConfig holds compute platform configuration.
type ComputeConfig struct {
	Token       string `mapstructure:"token"`
	TeamID      string `mapstructure:"team_id"`
	Endpoint    string `mapstructure:"endpoint"`
	Environment string `mapstructure:"environment"`
}

// DNSConfig holds DNS provider configuration.
type DNSConfig struct {
	// Provider is cloudflare or digitalocean.
	Provider string      `mapstructure:"provider"`
	Token    string      `mapstructure:"token"`
	BaseURL  string      `mapstructure:"base_url"`
	Zones    ZonesConfig `mapstructure:"zones"`
}

// ZonesConfig holds the zone of each hostname family.
type ZonesConfig struct {
	Site      domain.Zone `mapstructure:"site"`
	Companion domain.Zone `mapstructure:"companion"`
	Apps      domain.Zone `mapstructure:"apps"`
}

// WorkspaceConfig holds workspace preparation configuration.
type WorkspaceConfig struct {
	DatabaseParam string   `mapstructure:"database_param"`
	IgnoreRules   []string `mapstructure:"ignore_rules"`
}

// TimeoutsConfig holds per-call and build timeouts.
type TimeoutsConfig struct {
	HTTP         time.Duration `mapstructure:"http"`
	Build        time.Duration `mapstructure:"build"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RetryConfig holds the retry policy shared by all platform calls.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// Policy converts the configuration into a retry policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:   c.MaxRetries,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
	}
}

// RunnerConfig holds deployment runner configuration.
type RunnerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
}

// VerifierConfig holds DNS verification worker configuration.
type VerifierConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	GiveUpAfter   time.Duration `mapstructure:"give_up_after"`
}

// StoreConfig holds configuration for secrets kept at rest.
type StoreConfig struct {
	// EncryptionKey is a passphrase. Without it generated admin passwords
	// are returned once and never stored.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// ArchiveConfig holds workspace snapshot configuration. An empty bucket
// disables archiving.
type ArchiveConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

// Credentials collects the secrets a deployment may need.
func (c *Config) Credentials() domain.Credentials {
	return domain.Credentials{
		SCMToken:      c.SCM.Token,
		SCMOwner:      c.SCM.Owner,
		ComputeToken:  c.Compute.Token,
		ComputeTeamID: c.Compute.TeamID,
		DNSToken:      c.DNS.Token,
		Zones: map[domain.ZoneFamily]domain.Zone{
			domain.ZoneSite:      c.DNS.Zones.Site,
			domain.ZoneCompanion: c.DNS.Zones.Companion,
			domain.ZoneApps:      c.DNS.Zones.Apps,
		},
	}
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.heartbeat", "15s")
	v.SetDefault("database.dsn", "./data/shipyard.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	// Secrets default to empty so environment overrides are seen on unmarshal
	v.SetDefault("scm.token", "")
	v.SetDefault("scm.owner", "")
	v.SetDefault("scm.base_url", "")
	v.SetDefault("scm.private", true)
	v.SetDefault("scm.branch", "main")
	v.SetDefault("scm.author_name", "shipyard")
	v.SetDefault("scm.author_email", "shipyard@localhost")
	v.SetDefault("compute.token", "")
	v.SetDefault("compute.team_id", "")
	v.SetDefault("compute.endpoint", "")
	v.SetDefault("compute.environment", "production")
	v.SetDefault("dns.provider", "cloudflare")
	v.SetDefault("dns.token", "")
	v.SetDefault("dns.base_url", "")
	for _, family := range []domain.ZoneFamily{domain.ZoneSite, domain.ZoneCompanion, domain.ZoneApps} {
		v.SetDefault("dns.zones."+string(family)+".domain", "")
		v.SetDefault("dns.zones."+string(family)+".zone_id", "")
	}

	v.SetDefault("workspace.database_param", "")
	v.SetDefault("workspace.ignore_rules", []string{})
	v.SetDefault("timeouts.http", "30s")
	v.SetDefault("timeouts.build", "10m")
	v.SetDefault("timeouts.poll_interval", "10s")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", "500ms")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("runner.interval", "5s")
	v.SetDefault("runner.max_concurrent", 2)
	v.SetDefault("runner.run_timeout", "30m")
	v.SetDefault("verifier.enabled", true)
	v.SetDefault("verifier.interval", "60s")
	v.SetDefault("verifier.max_concurrent", 5)
	v.SetDefault("verifier.give_up_after", "24h")
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.path_style", false)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only a malformed file is an error; a missing one falls back to defaults
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("SHIPYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, out io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}
