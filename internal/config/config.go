// Package config holds the configuration schema of the authsession CLI.
//
// Values come from authsession.yaml and AUTHSESSION_* environment variables.
// The library packages never read this configuration; they are configured
// through functional options and builders.
package config

import "time"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the top-level CLI configuration.
type Config struct {
	// LogLevel is the zerolog level name. A --log-level flag overrides it.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error disabled"`

	// CSRFToken is sent as X-CSRF-Token on every request when set.
	CSRFToken string `yaml:"csrf_token" mapstructure:"csrf_token"`

	// Store selects where the session record survives between invocations.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// OAuth2 configures the refresher answering the tokenExpiration event.
	// Optional: without it a 401 logs the session out.
	OAuth2 OAuth2Config `yaml:"oauth2" mapstructure:"oauth2"`

	// JWKS enables verified expiry derivation for tokens logged in without --expires.
	JWKS JWKSConfig `yaml:"jwks" mapstructure:"jwks"`

	// Introspection derives expirations of opaque tokens. Exclusive with JWKS.
	Introspection IntrospectionConfig `yaml:"introspection" mapstructure:"introspection"`

	// HTTP configures the client used by the get command.
	HTTP HTTPConfig `yaml:"http" mapstructure:"http"`

	// Metrics exposes Prometheus metrics while a command runs.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the session store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory file redis sqlite postgres"`

	// Path is the file or SQLite database path.
	Path string `yaml:"path" mapstructure:"path"`

	// Key is the record key inside the backend. Defaults to auth.session.
	Key string `yaml:"key" mapstructure:"key"`

	RedisAddr   string        `yaml:"redis_addr" mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPrefix string        `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	RedisTTL    time.Duration `yaml:"redis_ttl" mapstructure:"redis_ttl" validate:"gte=0"`

	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	Table       string `yaml:"table" mapstructure:"table" validate:"omitempty,alphanum_underscore"`
}

// OAuth2Config configures the refresh-token grant.
// Exactly one of TokenURL and IssuerURL is used when enabled.
type OAuth2Config struct {
	TokenURL     string   `yaml:"token_url" mapstructure:"token_url" validate:"omitempty,url"`
	IssuerURL    string   `yaml:"issuer_url" mapstructure:"issuer_url" validate:"omitempty,url"`
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken string   `yaml:"refresh_token" mapstructure:"refresh_token"`
	Scopes       []string `yaml:"scopes" mapstructure:"scopes"`
}

// Enabled reports whether a token endpoint is configured.
func (o OAuth2Config) Enabled() bool {
	return o.TokenURL != "" || o.IssuerURL != ""
}

// JWKSConfig configures token verification against a JWKS endpoint.
type JWKSConfig struct {
	URL      string        `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	Issuer   string        `yaml:"issuer" mapstructure:"issuer"`
	Audience string        `yaml:"audience" mapstructure:"audience"`
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"gte=0"`
}

// IntrospectionConfig configures an RFC 7662 introspection endpoint.
type IntrospectionConfig struct {
	URL          string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	Audience     string `yaml:"audience" mapstructure:"audience"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	Timeout            time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	CAFile             string        `yaml:"ca_file" mapstructure:"ca_file"`
	CertFile           string        `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile            string        `yaml:"key_file" mapstructure:"key_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:9464". Empty disables metrics.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// SetDefaults fills optional fields left empty.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Path == "" {
		switch c.Store.Backend {
		case BackendFile:
			c.Store.Path = "session.json"
		case BackendSQLite:
			c.Store.Path = "session.db"
		}
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.JWKS.URL != "" && c.JWKS.CacheTTL == 0 {
		c.JWKS.CacheTTL = time.Hour
	}
	if c.OAuth2.IssuerURL != "" && len(c.OAuth2.Scopes) == 0 {
		c.OAuth2.Scopes = []string{"openid", "offline_access"}
	}
}

// Sample returns the configuration written by "authsession config init".
// Durations are left to SetDefaults so the file stays readable.
func Sample() *Config {
	cfg := &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    "session.json",
		},
		OAuth2: OAuth2Config{
			TokenURL: "https://auth.example.com/oauth/token",
			ClientID: "authsession-cli",
		},
	}
	return cfg
}
