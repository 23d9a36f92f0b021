// Package config loads and validates evalboard configuration from a yaml
// file, EVALBOARD_* environment overrides, and the legacy PORT/DB_*
// variables the original deployment used.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":3001"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSQLitePath is the zero-config development database.
	DefaultSQLitePath = "evalboard.db"

	// Default postgres connection settings. These exist for local
	// development only and must be overridden in any real deployment.
	defaultPostgresHost     = "localhost"
	defaultPostgresPort     = 5432
	defaultPostgresUser     = "postgres"
	defaultPostgresPassword = "postgres"
	defaultPostgresDatabase = "llm_eval_db"
	defaultPostgresSSLMode  = "disable"
)

// Config is the root configuration for evalboard.
type Config struct {
	LogLevel string         `yaml:"log_level" mapstructure:"log_level"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth,omitempty" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Export   *ExportConfig  `yaml:"export,omitempty" mapstructure:"export"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting on write endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// AuthConfig configures optional basic auth on mutating endpoints.
type AuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user from config.
type BasicAuthUser struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// ExportConfig configures run snapshot export targets. Only one backend
// (local directory or S3) may be enabled at a time.
type ExportConfig struct {
	Local *LocalExportConfig `yaml:"local,omitempty" mapstructure:"local"`
	S3    *S3ExportConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
}

// LocalExportConfig writes snapshots to a local directory.
type LocalExportConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// S3ExportConfig writes snapshots to S3-compatible storage.
type S3ExportConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// envKeys lists every scalar config key so environment overrides work
// without a config file. Viper's Unmarshal only visits keys it knows
// about; AutomaticEnv alone is not enough for keys absent from the file,
// so each key is bound explicitly. auth.users is a list and has no
// environment form.
var envKeys = []string{
	"log_level",
	"server.listen",
	"server.cors_origins",
	"server.rate_limit.enabled",
	"server.rate_limit.requests_per_minute",
	"auth.enabled",
	"database.driver",
	"database.sqlite.path",
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.database",
	"database.postgres.ssl_mode",
	"export.local.enabled",
	"export.local.dir",
	"export.s3.enabled",
	"export.s3.endpoint_url",
	"export.s3.region",
	"export.s3.bucket",
	"export.s3.prefix",
	"export.s3.access_key_id",
	"export.s3.secret_access_key",
	"export.s3.force_path_style",
}

// Load reads configuration from the given yaml file (optional, pass "" to
// rely on defaults and environment only) and applies environment
// overrides. EVALBOARD_-prefixed variables override any key
// (EVALBOARD_SERVER_LISTEN, EVALBOARD_DATABASE_DRIVER, ...); the legacy
// PORT and DB_* variables are also honored for compatibility with the
// original deployment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("EVALBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		v.MustBindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyLegacyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyLegacyEnv maps the original deployment's flat environment variables
// onto the structured config. They win over file values but lose to the
// EVALBOARD_* override for the same key, so a legacy variable never undoes
// an explicit new-style setting.
func (c *Config) applyLegacyEnv() {
	if port := legacyEnv("PORT", "EVALBOARD_SERVER_LISTEN"); port != "" {
		c.Server.Listen = ":" + port
	}

	legacyDB := false

	if host := legacyEnv("DB_HOST", "EVALBOARD_DATABASE_POSTGRES_HOST"); host != "" {
		c.Database.Postgres.Host = host
		legacyDB = true
	}

	if portStr := legacyEnv("DB_PORT", "EVALBOARD_DATABASE_POSTGRES_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			c.Database.Postgres.Port = port
			legacyDB = true
		}
	}

	if user := legacyEnv("DB_USER", "EVALBOARD_DATABASE_POSTGRES_USER"); user != "" {
		c.Database.Postgres.User = user
		legacyDB = true
	}

	if password := legacyEnv("DB_PASSWORD", "EVALBOARD_DATABASE_POSTGRES_PASSWORD"); password != "" {
		c.Database.Postgres.Password = password
		legacyDB = true
	}

	if name := legacyEnv("DB_NAME", "EVALBOARD_DATABASE_POSTGRES_DATABASE"); name != "" {
		c.Database.Postgres.Database = name
		legacyDB = true
	}

	// Any DB_* variable implies the postgres driver unless the config
	// explicitly chose one.
	if legacyDB && c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
}

// legacyEnv returns the legacy variable's value, unless the EVALBOARD_*
// variable covering the same key is set, which takes precedence.
func legacyEnv(name, override string) string {
	if os.Getenv(override) != "" {
		return ""
	}

	return os.Getenv(name)
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 120
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	pg := &c.Database.Postgres

	if pg.Host == "" {
		pg.Host = defaultPostgresHost
	}

	if pg.Port == 0 {
		pg.Port = defaultPostgresPort
	}

	if pg.User == "" {
		pg.User = defaultPostgresUser
	}

	if pg.Password == "" {
		pg.Password = defaultPostgresPassword
	}

	if pg.Database == "" {
		pg.Database = defaultPostgresDatabase
	}

	if pg.SSLMode == "" {
		pg.SSLMode = defaultPostgresSSLMode
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Auth.Enabled && len(c.Auth.Users) == 0 {
		return fmt.Errorf("auth is enabled but no users are configured")
	}

	seen := make(map[string]struct{}, len(c.Auth.Users))

	for i, u := range c.Auth.Users {
		if u.Username == "" {
			return fmt.Errorf("auth user %d: username is required", i)
		}

		if u.Password == "" {
			return fmt.Errorf("auth user %q: password is required", u.Username)
		}

		if _, exists := seen[u.Username]; exists {
			return fmt.Errorf("auth user %d: duplicate username %q", i, u.Username)
		}

		seen[u.Username] = struct{}{}
	}

	if c.Export != nil {
		localEnabled := c.Export.Local != nil && c.Export.Local.Enabled
		s3Enabled := c.Export.S3 != nil && c.Export.S3.Enabled

		if localEnabled && s3Enabled {
			return fmt.Errorf("only one export backend may be enabled")
		}

		if localEnabled && c.Export.Local.Dir == "" {
			return fmt.Errorf("export.local.dir is required")
		}

		if s3Enabled && c.Export.S3.Bucket == "" {
			return fmt.Errorf("export.s3.bucket is required")
		}
	}

	return nil
}
