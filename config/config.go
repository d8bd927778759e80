// Package config loads the service configuration from an optional YAML file,
// an optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBbolt    = "bbolt"
	BackendPostgres = "postgres"
)

// Config is built once at startup and treated as read-only afterwards.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Session    SessionConfig    `yaml:"session"`
	Encryption EncryptionConfig `yaml:"encryption"`
	KV         KVConfig         `yaml:"kv"`
	Identity   IdentityConfig   `yaml:"identity"`
	AccessKeys AccessKeyConfig  `yaml:"access_keys"`
	Password   PasswordConfig   `yaml:"password"`
	Gates      GatesConfig      `yaml:"gates"`
	Audit      AuditConfig      `yaml:"audit"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	TLSCert         string        `yaml:"tls_cert"`
	TLSKey          string        `yaml:"tls_key"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SessionConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type EncryptionConfig struct {
	Key       string `yaml:"key"`
	Algorithm string `yaml:"algorithm"`
}

type KVConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	BboltPath     string        `yaml:"bbolt_path"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type IdentityConfig struct {
	Backend      string        `yaml:"backend"`
	PostgresDSN  string        `yaml:"postgres_dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time"`
}

type AccessKeyConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type PasswordConfig struct {
	Algorithm  string `yaml:"algorithm"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

type GatesConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// AuditConfig controls forwarding of audit events to an external sink.
type AuditConfig struct {
	WebhookURL    string `yaml:"webhook_url"`
	WebhookHeader string `yaml:"webhook_header"`
}

// SessionTTL returns the session lifetime as a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// Load reads path (a missing file is not an error), applies defaults and
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config yaml: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg = applyDefaults(cfg)
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Session.TTLSeconds == 0 {
		cfg.Session.TTLSeconds = 86400
	}
	if cfg.Encryption.Algorithm == "" {
		cfg.Encryption.Algorithm = "aes-256-gcm"
	}
	if cfg.KV.Backend == "" {
		cfg.KV.Backend = BackendMemory
	}
	if cfg.KV.RedisAddr == "" {
		cfg.KV.RedisAddr = "localhost:6379"
	}
	if cfg.KV.BboltPath == "" {
		cfg.KV.BboltPath = "./data/sessions.db"
	}
	if cfg.KV.SweepInterval == 0 {
		cfg.KV.SweepInterval = time.Minute
	}
	if cfg.Identity.Backend == "" {
		cfg.Identity.Backend = BackendMemory
	}
	if cfg.Identity.MaxOpenConns == 0 {
		cfg.Identity.MaxOpenConns = 5
	}
	if cfg.Identity.MaxIdleConns == 0 {
		cfg.Identity.MaxIdleConns = 2
	}
	if cfg.Identity.MaxIdleTime == 0 {
		cfg.Identity.MaxIdleTime = 15 * time.Minute
	}
	if cfg.AccessKeys.Backend == "" {
		cfg.AccessKeys.Backend = BackendBbolt
	}
	if cfg.AccessKeys.Path == "" {
		cfg.AccessKeys.Path = "./data/keys.db"
	}
	if cfg.Password.Algorithm == "" {
		cfg.Password.Algorithm = "argon2id"
	}
	if cfg.Gates.Timeout == 0 {
		cfg.Gates.Timeout = 5 * time.Second
	}
	return cfg
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv("SESSIONGATE_HTTP_ADDR"); val != "" {
		cfg.HTTP.Addr = val
	}
	if val := os.Getenv("PORT"); val != "" {
		cfg.HTTP.Addr = ":" + val
	}
	if val := os.Getenv("SESSIONGATE_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("SESSION_TTL_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Session.TTLSeconds = n
		}
	}
	if val := os.Getenv("ENCRYPTION_KEY"); val != "" {
		cfg.Encryption.Key = val
	}
	if val := os.Getenv("ENCRYPTION_ALGORITHM"); val != "" {
		cfg.Encryption.Algorithm = val
	}
	if val := os.Getenv("KV_BACKEND"); val != "" {
		cfg.KV.Backend = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.KV.RedisAddr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.KV.RedisPassword = val
	}
	if val := os.Getenv("IDENTITY_BACKEND"); val != "" {
		cfg.Identity.Backend = val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		cfg.Identity.PostgresDSN = val
		if cfg.AccessKeys.PostgresDSN == "" {
			cfg.AccessKeys.PostgresDSN = val
		}
	}
	if val := os.Getenv("ACCESS_KEY_BACKEND"); val != "" {
		cfg.AccessKeys.Backend = val
	}
	if val := os.Getenv("ACCESS_KEY_STORE_PATH"); val != "" {
		cfg.AccessKeys.Path = val
	}
	if val := os.Getenv("PASSWORD_ALGORITHM"); val != "" {
		cfg.Password.Algorithm = val
	}
	if val := os.Getenv("AUDIT_WEBHOOK_URL"); val != "" {
		cfg.Audit.WebhookURL = val
	}
	if val := os.Getenv("AUDIT_WEBHOOK_HEADER"); val != "" {
		cfg.Audit.WebhookHeader = val
	}
	return cfg
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// Validate reports the first problem found, wrapped in ErrInvalid.
func (c Config) Validate() error {
	switch {
	case c.Session.TTLSeconds <= 0:
		return fmt.Errorf("%w: session.ttl_seconds must be positive", ErrInvalid)
	case c.Encryption.Key == "":
		return fmt.Errorf("%w: encryption.key is required (set ENCRYPTION_KEY)", ErrInvalid)
	case !oneOf(c.KV.Backend, BackendMemory, BackendRedis, BackendBbolt):
		return fmt.Errorf("%w: unknown kv.backend %q", ErrInvalid, c.KV.Backend)
	case !oneOf(c.Identity.Backend, BackendMemory, BackendPostgres):
		return fmt.Errorf("%w: unknown identity.backend %q", ErrInvalid, c.Identity.Backend)
	case strings.EqualFold(c.Identity.Backend, BackendPostgres) && c.Identity.PostgresDSN == "":
		return fmt.Errorf("%w: identity.postgres_dsn is required for the postgres backend", ErrInvalid)
	case !oneOf(c.AccessKeys.Backend, BackendMemory, BackendBbolt, BackendPostgres):
		return fmt.Errorf("%w: unknown access_keys.backend %q", ErrInvalid, c.AccessKeys.Backend)
	case strings.EqualFold(c.AccessKeys.Backend, BackendPostgres) && c.AccessKeys.PostgresDSN == "":
		return fmt.Errorf("%w: access_keys.postgres_dsn is required for the postgres backend", ErrInvalid)
	case c.Gates.Timeout <= 0:
		return fmt.Errorf("%w: gates.timeout must be positive", ErrInvalid)
	case c.HTTP.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: http.max_body_bytes must be positive", ErrInvalid)
	case (c.HTTP.TLSCert == "") != (c.HTTP.TLSKey == ""):
		return fmt.Errorf("%w: http.tls_cert and http.tls_key must be set together", ErrInvalid)
	case c.Audit.WebhookHeader != "" && !strings.Contains(c.Audit.WebhookHeader, ":"):
		return fmt.Errorf("%w: audit.webhook_header must look like \"Name: value\"", ErrInvalid)
	}
	return nil
}
