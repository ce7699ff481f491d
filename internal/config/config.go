package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/CaioWing/Ledger/internal/integrity"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	DB        DBConfig        `toml:"db"`
	Auth      AuthConfig      `toml:"auth"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Storage   StorageConfig   `toml:"storage"`
	CORS      CORSConfig      `toml:"cors"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type ServerConfig struct {
	Host string `toml:"host" env:"LEDGER_HOST"`
	Port string `toml:"port" env:"LEDGER_PORT"`
}

type DBConfig struct {
	Host     string `toml:"host" env:"LEDGER_DB_HOST"`
	Port     string `toml:"port" env:"LEDGER_DB_PORT"`
	Name     string `toml:"name" env:"LEDGER_DB_NAME"`
	User     string `toml:"user" env:"LEDGER_DB_USER"`
	Password string `toml:"password" env:"LEDGER_DB_PASSWORD"`
	SSLMode  string `toml:"sslmode" env:"LEDGER_DB_SSLMODE"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret  string        `toml:"jwt_secret" env:"LEDGER_JWT_SECRET"`
	JWTExpiry  time.Duration `toml:"jwt_expiry" env:"LEDGER_JWT_EXPIRY"`
	AdminEmail string        `toml:"admin_email" env:"LEDGER_ADMIN_EMAIL"`

	// AdminPasswordHash is a bcrypt hash. When empty, AdminPassword is hashed
	// at startup.
	AdminPasswordHash string `toml:"admin_password_hash" env:"LEDGER_ADMIN_PASSWORD_HASH"`
	AdminPassword     string `toml:"admin_password" env:"LEDGER_ADMIN_PASSWORD"`
}

// LedgerConfig holds the signing keys, the append retry budget and the
// storage driver of the activity chain.
type LedgerConfig struct {
	HMACKey         string        `toml:"hmac_key" env:"LEDGER_HMAC_KEY"`
	HMACKeyID       string        `toml:"hmac_key_id" env:"LEDGER_HMAC_KEY_ID"`
	HMACKeys        string        `toml:"hmac_keys" env:"LEDGER_HMAC_KEYS"`
	HMACActiveKeyID string        `toml:"hmac_active_key_id" env:"LEDGER_HMAC_ACTIVE_KEY_ID"`
	MaxAttempts     int           `toml:"append_max_attempts" env:"LEDGER_APPEND_MAX_ATTEMPTS"`
	Backoff         time.Duration `toml:"append_backoff" env:"LEDGER_APPEND_BACKOFF"`
	Store           string        `toml:"store" env:"LEDGER_STORE"`
	SQLitePath      string        `toml:"sqlite_path" env:"LEDGER_SQLITE_PATH"`
	// VerifyInterval schedules a background chain verification. Zero disables it.
	VerifyInterval  time.Duration `toml:"verify_interval" env:"LEDGER_VERIFY_INTERVAL"`
}

// Keyring loads the signing keys. LEDGER_HMAC_KEYS takes precedence over
// the single LEDGER_HMAC_KEY.
func (c LedgerConfig) Keyring() (*integrity.Keyring, error) {
	activeID := c.HMACKeyID
	if strings.TrimSpace(c.HMACKeys) != "" {
		activeID = c.HMACActiveKeyID
	}
	keys, err := integrity.LoadKeyring(c.HMACKeys, c.HMACKey, activeID)
	if err != nil {
		return nil, fmt.Errorf("load hmac keys: %w", err)
	}
	return keys, nil
}

type StorageConfig struct {
	ReportsPath string `toml:"reports_path" env:"LEDGER_REPORTS_PATH"`
}

type CORSConfig struct {
	AllowedOrigins string `toml:"allowed_origins" env:"LEDGER_CORS_ORIGINS"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint" env:"LEDGER_OTEL_ENDPOINT"`
	ServiceName  string `toml:"service_name" env:"LEDGER_OTEL_SERVICE_NAME"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		DB: DBConfig{
			Host:     "localhost",
			Port:     "5432",
			Name:     "ledger",
			User:     "ledger",
			Password: "ledger",
			SSLMode:  "disable",
		},
		Auth: AuthConfig{
			JWTSecret:     "change-me-in-production",
			JWTExpiry:     24 * time.Hour,
			AdminEmail:    "admin@ledger.local",
			AdminPassword: "admin",
		},
		Ledger: LedgerConfig{
			HMACKeyID:      "v1",
			MaxAttempts:    5,
			Backoff:        10 * time.Millisecond,
			Store:          StorePostgres,
			SQLitePath:     "/data/ledger.db",
			VerifyInterval: 6 * time.Hour,
		},
		Storage: StorageConfig{
			ReportsPath: "/data/reports",
		},
		CORS: CORSConfig{
			AllowedOrigins: "http://localhost:3000",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ledger",
		},
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// LEDGER_CONFIG_FILE if any, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("LEDGER_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Ledger.Store {
	case StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("invalid LEDGER_STORE %q: want %s or %s", c.Ledger.Store, StorePostgres, StoreSQLite)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("invalid LEDGER_APPEND_MAX_ATTEMPTS %d: must be at least 1", c.Ledger.MaxAttempts)
	}
	if c.Ledger.Backoff < 0 || c.Ledger.VerifyInterval < 0 {
		return fmt.Errorf("ledger durations must not be negative")
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
