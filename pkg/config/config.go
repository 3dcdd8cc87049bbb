package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for substation-labeler.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Annotate   AnnotateConfig   `yaml:"annotate"`
	Map        MapConfig        `yaml:"map"`
	ChatWidget ChatWidgetConfig `yaml:"chat_widget"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"labeler"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"substation_labeler"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

// RedisConfig holds Redis configuration. An empty Host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
}

// Storage backends.
const (
	StorageBackendLocal = "local"
	StorageBackendSFTP  = "sftp"
)

// StorageConfig selects where uploaded rasters are written and how their
// public URLs are formed.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"local"`
	Bucket  string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:"images"`

	// PublicBaseURL prefixes object keys to form public URLs.
	// Defaults to BaseURL + "/files" for the local backend.
	PublicBaseURL string `yaml:"public_base_url" env:"STORAGE_PUBLIC_BASE_URL" env-default:""`

	// LocalDir is the root directory for the local backend.
	LocalDir string `yaml:"local_dir" env:"STORAGE_LOCAL_DIR" env-default:"./data/objects"`

	SFTP SFTPConfig `yaml:"sftp"`
}

// SFTPConfig holds connection settings for the SFTP storage backend.
type SFTPConfig struct {
	Host     string        `yaml:"host" env:"SFTP_HOST" env-default:""`
	Port     int           `yaml:"port" env:"SFTP_PORT" env-default:"22"`
	User     string        `yaml:"user" env:"SFTP_USER" env-default:""`
	Password string        `yaml:"-" env:"SFTP_PASSWORD"` // Secret - not in YAML
	KeyFile  string        `yaml:"key_file" env:"SFTP_KEY_FILE" env-default:""`
	BasePath string        `yaml:"base_path" env:"SFTP_BASE_PATH" env-default:"uploads"`
	Timeout  time.Duration `yaml:"timeout" env:"SFTP_TIMEOUT" env-default:"30s"`

	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string `yaml:"known_hosts_file" env:"SFTP_KNOWN_HOSTS_FILE" env-default:""`
}

// AnnotateConfig tunes the annotation workflow.
type AnnotateConfig struct {
	// StrictCompletion requires a classification before an entity can be marked complete.
	StrictCompletion bool          `yaml:"strict_completion" env:"ANNOTATE_STRICT_COMPLETION" env-default:"true"`
	SessionTTL       time.Duration `yaml:"session_ttl" env:"ANNOTATE_SESSION_TTL" env-default:"2h"`
	MaxUploadMB      int64         `yaml:"max_upload_mb" env:"ANNOTATE_MAX_UPLOAD_MB" env-default:"512"`
	UploadLogTTL     time.Duration `yaml:"upload_log_ttl" env:"ANNOTATE_UPLOAD_LOG_TTL" env-default:"24h"`
}

// MapConfig holds the fallback view and fit padding used by scene rendering.
type MapConfig struct {
	DefaultLat   float64 `yaml:"default_lat" env:"MAP_DEFAULT_LAT" env-default:"40"`
	DefaultLng   float64 `yaml:"default_lng" env:"MAP_DEFAULT_LNG" env-default:"-95"`
	DefaultZoom  int     `yaml:"default_zoom" env:"MAP_DEFAULT_ZOOM" env-default:"4"`
	FitPaddingPx int     `yaml:"fit_padding_px" env:"MAP_FIT_PADDING_PX" env-default:"20"`
}

// ChatWidgetConfig is passed through to browser clients via /config.js.
type ChatWidgetConfig struct {
	Enabled   bool   `yaml:"enabled" env:"CHAT_WIDGET_ENABLED" env-default:"false"`
	ScriptURL string `yaml:"script_url" env:"CHAT_WIDGET_SCRIPT_URL" env-default:"https://cdn.voiceflow.com/widget/bundle.mjs"`
	ProjectID string `yaml:"project_id" env:"CHAT_WIDGET_PROJECT_ID" env-default:"67c698291971d22cda97e102"`
	VersionID string `yaml:"version_id" env:"CHAT_WIDGET_VERSION_ID" env-default:"production"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit config path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)
	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := cfg.validateStorage(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	if err := cfg.validateMap(); err != nil {
		return nil, fmt.Errorf("invalid map configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	if cfg.Storage.PublicBaseURL == "" && cfg.Storage.Backend == StorageBackendLocal {
		cfg.Storage.PublicBaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/files"
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageBackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("local_dir is required for the local backend")
		}
	case StorageBackendSFTP:
		if c.Storage.SFTP.Host == "" {
			return fmt.Errorf("sftp.host is required for the sftp backend")
		}
		if c.Storage.PublicBaseURL == "" {
			return fmt.Errorf("public_base_url is required for the sftp backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("bucket must not be empty")
	}
	return nil
}

func (c *Config) validateMap() error {
	m := c.Map
	if math.IsNaN(m.DefaultLat) || math.IsInf(m.DefaultLat, 0) || m.DefaultLat < -90 || m.DefaultLat > 90 {
		return fmt.Errorf("default_lat must be within [-90, 90], got %v", m.DefaultLat)
	}
	if math.IsNaN(m.DefaultLng) || math.IsInf(m.DefaultLng, 0) {
		return fmt.Errorf("default_lng must be finite")
	}
	if m.DefaultZoom < 0 {
		return fmt.Errorf("default_zoom must not be negative")
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if ok {
			endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the host:port pair for the Redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal when running in a container,
// so a containerized server can reach Postgres and Redis on the host.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
