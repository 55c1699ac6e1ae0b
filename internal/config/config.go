// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Google   GoogleConfig   `koanf:"google"`
	Engine   EngineConfig   `koanf:"engine"`
	Reminder ReminderConfig `koanf:"reminder"`
	Authz    AuthzConfig    `koanf:"authz"`
	Cache    CacheConfig    `koanf:"cache"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the store. An empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns" validate:"min=0"`
	Migrate  bool   `koanf:"migrate"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	// StaticTokens is a comma separated list of token=actor:context entries.
	StaticTokens string `koanf:"static_tokens"`
}

// Tokens splits StaticTokens.
func (a AuthConfig) Tokens() []string {
	var out []string
	for t := range strings.SplitSeq(a.StaticTokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type GoogleConfig struct {
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	RedirectURL  string        `koanf:"redirect_url" validate:"omitempty,url"`
	Timeout      time.Duration `koanf:"timeout"`
	// BreakerFailures consecutive failures open the circuit.
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type EngineConfig struct {
	ConflictLimit        int  `koanf:"conflict_limit" validate:"min=1"`
	MaxOccurrences       int  `koanf:"max_occurrences" validate:"min=1"`
	UndecidedIsBusy      bool `koanf:"undecided_is_busy"`
	IgnorePastConflicts  bool `koanf:"ignore_past_conflicts"`
	QuotaMaxAppointments int  `koanf:"quota_max_appointments" validate:"min=0"`
}

type ReminderConfig struct {
	// Path of the Badger directory, in-memory when empty.
	Path string `koanf:"path"`
}

type AuthzConfig struct {
	PolicyPath string `koanf:"policy_path"`
}

type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
			Migrate:  true,
		},
		Google: GoogleConfig{
			Timeout:         5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Engine: EngineConfig{
			ConflictLimit:       999,
			MaxOccurrences:      999,
			IgnorePastConflicts: true,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("%s: value %v violates %s=%s", fe.Namespace(), fe.Value(), fe.Tag(), fe.Param())
		}
		return err
	}
	if c.Google.ClientID != "" && c.Google.RedirectURL == "" {
		return errors.New("GOOGLE_REDIRECT_URL is required when GOOGLE_CLIENT_ID is set")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"host":             "server.host",
	"port":             "server.port",
	"shutdown_timeout": "server.shutdown_timeout",

	"database_url":       "database.url",
	"database_max_conns": "database.max_conns",
	"database_migrate":   "database.migrate",

	"jwt_hmac_secret": "auth.jwt_secret",
	"static_tokens":   "auth.static_tokens",

	"google_client_id":        "google.client_id",
	"google_client_secret":    "google.client_secret",
	"google_redirect_url":     "google.redirect_url",
	"google_timeout":          "google.timeout",
	"google_breaker_failures": "google.breaker_failures",

	"conflict_limit":         "engine.conflict_limit",
	"max_occurrences":        "engine.max_occurrences",
	"undecided_is_busy":      "engine.undecided_is_busy",
	"ignore_past_conflicts":  "engine.ignore_past_conflicts",
	"quota_max_appointments": "engine.quota_max_appointments",

	"reminder_path":     "reminder.path",
	"authz_policy_path": "authz.policy_path",
	"listing_cache_ttl": "cache.ttl",

	"log_level":  "log.level",
	"log_format": "log.format",
	"log_caller": "log.caller",
}

// envTransformFunc maps environment variable names to koanf paths. Unknown
// variables are skipped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
