package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultTimezone is the zone time-of-day multipliers and daily limits use
const DefaultTimezone = "Asia/Jakarta"

// Config holds all configuration for our application
type Config struct {
	DiscordToken string `mapstructure:"DISCORD_TOKEN" validate:"required"`
	DatabaseDSN  string `mapstructure:"DATABASE_DSN" validate:"required"`

	LogLevel      string `mapstructure:"LOG_LEVEL" validate:"required|in:trace,debug,info,warn,error"`
	LogPretty     bool   `mapstructure:"LOG_PRETTY"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB" validate:"min:1"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS" validate:"min:0"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS" validate:"min:0"`

	Timezone      string `mapstructure:"TIMEZONE" validate:"required"`
	CommandPrefix string `mapstructure:"COMMAND_PREFIX" validate:"required"`
	XPCheckpoint  bool   `mapstructure:"XP_CHECKPOINT"`
	MetricsAddr   string `mapstructure:"METRICS_ADDR"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB" validate:"min:0"`

	PolicyCacheMB  int           `mapstructure:"POLICY_CACHE_SIZE_MB" validate:"min:1"`
	PolicyCacheTTL time.Duration `mapstructure:"POLICY_CACHE_TTL"`
	ShutdownAfter  time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// keys lists every setting Load reads, with its default
var keys = map[string]any{
	"DISCORD_TOKEN":        "",
	"DATABASE_DSN":         "",
	"LOG_LEVEL":            "info",
	"LOG_PRETTY":           false,
	"LOG_FILE":             "",
	"LOG_MAX_SIZE_MB":      50,
	"LOG_MAX_BACKUPS":      3,
	"LOG_MAX_AGE_DAYS":     28,
	"TIMEZONE":             DefaultTimezone,
	"COMMAND_PREFIX":       "!voicexp",
	"XP_CHECKPOINT":        false,
	"METRICS_ADDR":         "",
	"REDIS_ADDR":           "",
	"REDIS_PASSWORD":       "",
	"REDIS_DB":             0,
	"POLICY_CACHE_SIZE_MB": 8,
	"POLICY_CACHE_TTL":     "5m",
	"SHUTDOWN_TIMEOUT":     "15s",
}

// Load loads configuration from environment variables, an optional .env file
// and an optional config file named by CONFIG_FILE.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range keys {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	if err := v.BindEnv("CONFIG_FILE"); err != nil {
		return nil, fmt.Errorf("failed to bind CONFIG_FILE: %w", err)
	}

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	config.LogLevel = strings.ToLower(strings.TrimSpace(config.LogLevel))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the struct tags and the settings tags cannot express
func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		field, message := firstError(v.Errors)
		return &ConfigError{Field: field, Message: message}
	}

	if c.PolicyCacheTTL <= 0 {
		return &ConfigError{Field: "POLICY_CACHE_TTL", Message: "POLICY_CACHE_TTL must be positive"}
	}
	if c.ShutdownAfter <= 0 {
		return &ConfigError{Field: "SHUTDOWN_TIMEOUT", Message: "SHUTDOWN_TIMEOUT must be positive"}
	}
	return nil
}

// Location resolves Timezone, falling back to a fixed UTC+7 zone when the
// zone database is unavailable.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("UTC+7", 7*60*60)
	}
	return loc
}

// firstError picks a stable field and message out of a validation result
func firstError(errs validate.Errors) (string, string) {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return "", errs.One()
	}
	sort.Strings(fields)
	name := envName(fields[0])
	return name, name + ": " + errs.FieldOne(fields[0])
}

// envName maps a struct field back to its environment variable
func envName(field string) string {
	if f, ok := fieldEnv[field]; ok {
		return f
	}
	return field
}

var fieldEnv = map[string]string{
	"DiscordToken":  "DISCORD_TOKEN",
	"DatabaseDSN":   "DATABASE_DSN",
	"LogLevel":      "LOG_LEVEL",
	"LogMaxSizeMB":  "LOG_MAX_SIZE_MB",
	"LogMaxBackups": "LOG_MAX_BACKUPS",
	"LogMaxAgeDays": "LOG_MAX_AGE_DAYS",
	"Timezone":      "TIMEZONE",
	"CommandPrefix": "COMMAND_PREFIX",
	"RedisDB":       "REDIS_DB",
	"PolicyCacheMB": "POLICY_CACHE_SIZE_MB",
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// IsConfigError reports whether err is a ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
