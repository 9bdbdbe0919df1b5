// Package config provides YAML configuration loading and validation for the
// ledger CLI and REST façade. Library packages never read the environment
// or a config file themselves (Design Notes: "no package-level globals");
// only cmd/ledgerd calls LoadConfig, and cmd/ledger reads the environment
// once at boot, via ResolveDBPath.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DBPathEnvVar is the environment variable consulted by ResolveDBPath.
const DBPathEnvVar = "LEDGER_DB_PATH"

// defaultDBSubpath is appended to $HOME when neither --db nor the
// environment variable is set (spec §6).
const defaultDBSubpath = ".ledger/blackbox-logs.db"

// Config is the top-level configuration structure for the ledger CLI and
// REST façade.
type Config struct {
	// DBPath is the storage URI (spec §4.5 URI routing: sqlite://, postgres://,
	// or a bare path). Required.
	DBPath string `yaml:"db_path"`

	// TrustMapPath points to a JSON file mapping agent_id to a base64url
	// Ed25519 public key (spec §4.6). Used by cmd/ledgerd; when empty, the
	// daemon serves /api/v1/sessions/{id}/verify with 503. cmd/ledger does
	// not read it and takes the trust map from its --trust-map flag.
	TrustMapPath string `yaml:"trust_map_path"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// REST holds the configuration for the optional cmd/ledgerd façade.
	REST RESTConfig `yaml:"rest"`
}

// RESTConfig configures the cmd/ledgerd REST façade (SPEC_FULL.md C8 extension).
type RESTConfig struct {
	// Addr is the HTTP listen address, e.g. "127.0.0.1:8080". Defaults to
	// "127.0.0.1:8080" when omitted.
	Addr string `yaml:"addr"`

	// JWTPublicKeyPath is the PEM RSA public key used to verify RS256
	// bearer tokens on /api/v1 routes. Leave empty to disable JWT
	// validation (development only).
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates all required fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.REST.Addr == "" {
		cfg.REST.Addr = "127.0.0.1:8080"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}

// ResolveDBPath implements spec §6's path resolution order: --db flag →
// LEDGER_DB_PATH env var → $HOME/.ledger/blackbox-logs.db. It is a
// CLI-layer helper, not something storage or session ever calls
// themselves.
func ResolveDBPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if envValue := os.Getenv(DBPathEnvVar); envValue != "" {
		return envValue, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return home + "/" + defaultDBSubpath, nil
}
