package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the configuration file base name searched in the standard locations.
const FileName = "authsession"

// EnvPrefix prefixes every environment override, e.g. AUTHSESSION_STORE_BACKEND.
const EnvPrefix = "AUTHSESSION"

// envKeys lists the nested keys bound to environment variables.
// Slices such as oauth2.scopes are read as comma separated values.
var envKeys = []string{
	"log_level",
	"csrf_token",
	"store.backend",
	"store.path",
	"store.key",
	"store.redis_addr",
	"store.redis_prefix",
	"store.redis_ttl",
	"store.postgres_dsn",
	"store.table",
	"oauth2.token_url",
	"oauth2.issuer_url",
	"oauth2.client_id",
	"oauth2.client_secret",
	"oauth2.refresh_token",
	"oauth2.scopes",
	"jwks.url",
	"jwks.issuer",
	"jwks.audience",
	"jwks.cache_ttl",
	"introspection.url",
	"introspection.client_id",
	"introspection.client_secret",
	"introspection.audience",
	"http.timeout",
	"http.ca_file",
	"http.cert_file",
	"http.key_file",
	"http.insecure_skip_verify",
	"metrics.addr",
}

// NewViper returns a viper instance reading configFile, or authsession.yaml/.yml
// from the standard locations when configFile is empty, with environment overrides.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		// ReadInConfig then reports ConfigFileNotFoundError.
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	return v
}

// findConfigFile searches the working directory and $HOME/.authsession.
// An explicit extension keeps the search from matching the binary itself.
func findConfigFile() string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+FileName))
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first authsession.yaml or .yml found in paths.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, FileName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Load reads the configuration, applies defaults and validates it.
// A missing configuration file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}
