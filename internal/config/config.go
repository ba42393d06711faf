// Package config provides environment-aware configuration management for
// the dataspace connector.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// SecurityConfig controls encryption-specific parameters.
type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" env:"SECRET_ENCRYPTION_KEY"`
}

// AuthConfig controls HTTP API authentication (the single auth subsystem
// chosen per the connector's design notes: bearer tokens or JWT).
type AuthConfig struct {
	Tokens    []string   `json:"tokens"`
	JWTSecret string     `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Users     []UserSpec `json:"users"`
}

type UserSpec struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ConnectorConfig controls dataspace-protocol-specific behavior.
type ConnectorConfig struct {
	// Role selects which side of the protocol this instance plays.
	// Either "provider" or "consumer".
	Role string `json:"role" env:"CONNECTOR_ROLE"`
	// ParticipantID identifies this connector to its peers.
	ParticipantID string `json:"participant_id" env:"CONNECTOR_PARTICIPANT_ID"`
	// CallbackAddress is the base URL peers should use to reach this connector.
	CallbackAddress string `json:"callback_address" env:"CONNECTOR_CALLBACK_ADDRESS"`
	// APIBasePath prefixes the DSP and local-RPC routes (default "/").
	APIBasePath string `json:"api_base_path" env:"CONNECTOR_API_BASE_PATH"`
	// PeerTimeoutSeconds bounds outbound calls to peers (default 10s, no retry).
	PeerTimeoutSeconds int `json:"peer_timeout_seconds" env:"CONNECTOR_PEER_TIMEOUT_SECONDS"`
	// PolicyEvaluatorURL points at the external ODRL policy decision point.
	// Empty means the allow-all stub collaborator is used.
	PolicyEvaluatorURL string `json:"policy_evaluator_url" env:"CONNECTOR_POLICY_EVALUATOR_URL"`
	// CatalogURL points at the external catalog/DCAT service.
	CatalogURL string `json:"catalog_url" env:"CONNECTOR_CATALOG_URL"`
	// MateDirectoryFile seeds the static mate (peer) directory from a YAML file.
	MateDirectoryFile string `json:"mate_directory_file" env:"CONNECTOR_MATE_DIRECTORY_FILE"`
	// WalletURL points at the external DID/VC wallet collaborator.
	WalletURL string `json:"wallet_url" env:"CONNECTOR_WALLET_URL"`
}

// PeerTimeout returns the outbound peer-call timeout, defaulting to 10s.
func (c ConnectorConfig) PeerTimeout() time.Duration {
	if c.PeerTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.PeerTimeoutSeconds) * time.Second
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	Security  SecurityConfig  `json:"security"`
	Auth      AuthConfig      `json:"auth"`
	Connector ConnectorConfig `json:"connector"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "service-layer",
		},
		Security: SecurityConfig{},
		Auth:     AuthConfig{},
		Connector: ConnectorConfig{
			Role:               "provider",
			APIBasePath:        "/",
			PeerTimeoutSeconds: 10,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyDatabaseURLOverride aligns config loading with cmd/appserver: DATABASE_URL
// overrides any file-based DSN to reduce setup friction.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Connector.Role) == "" {
		c.Connector.Role = "provider"
	}
	c.Connector.Role = strings.ToLower(strings.TrimSpace(c.Connector.Role))
	if strings.TrimSpace(c.Connector.APIBasePath) == "" {
		c.Connector.APIBasePath = "/"
	}
}
