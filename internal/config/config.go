// Package config loads bridge configuration from defaults, an optional YAML
// file, and BRIDGE_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ticketbridge.local/projects/bridge/internal/monday"
)

const (
	EnvConfigFile     = "BRIDGE_CONFIG_FILE"
	EnvHTTPAddr       = "BRIDGE_HTTP_ADDR"
	EnvDBDriver       = "BRIDGE_DB_DRIVER"
	EnvDBDSN          = "BRIDGE_DB_DSN"
	EnvTempDir        = "BRIDGE_TEMP_DIR"
	EnvItemAPIURL     = "BRIDGE_ITEM_API_URL"
	EnvFileAPIURL     = "BRIDGE_FILE_API_URL"
	EnvMaxUploadBytes = "BRIDGE_MAX_UPLOAD_BYTES"
	EnvSessionTTL     = "BRIDGE_SESSION_TTL"
	EnvSweepInterval  = "BRIDGE_SWEEP_INTERVAL"
	EnvDrainTimeout   = "BRIDGE_DRAIN_TIMEOUT"
)

const (
	DefaultHTTPAddr       = ":8080"
	DefaultDBDriver       = "sqlite"
	DefaultDBDSN          = "bridge.db"
	DefaultTempDir        = "public/temp"
	DefaultMaxUploadBytes = 500 << 20
	DefaultSessionTTL     = time.Hour
	DefaultSweepInterval  = 5 * time.Minute
	DefaultDrainTimeout   = 30 * time.Second
)

type Config struct {
	HTTPAddr       string
	DBDriver       string
	DBDSN          string
	TempDir        string
	ItemAPIURL     string
	FileAPIURL     string
	MaxUploadBytes int64
	SessionTTL     time.Duration
	SweepInterval  time.Duration
	DrainTimeout   time.Duration
}

type fileConfig struct {
	HTTPAddr       string `yaml:"http_addr"`
	DBDriver       string `yaml:"db_driver"`
	DBDSN          string `yaml:"db_dsn"`
	TempDir        string `yaml:"temp_dir"`
	ItemAPIURL     string `yaml:"item_api_url"`
	FileAPIURL     string `yaml:"file_api_url"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	SessionTTL     string `yaml:"session_ttl"`
	SweepInterval  string `yaml:"sweep_interval"`
	DrainTimeout   string `yaml:"drain_timeout"`
}

func Default() Config {
	return Config{
		HTTPAddr:       DefaultHTTPAddr,
		DBDriver:       DefaultDBDriver,
		DBDSN:          DefaultDBDSN,
		TempDir:        DefaultTempDir,
		ItemAPIURL:     monday.DefaultAPIURL,
		FileAPIURL:     monday.DefaultFileURL,
		MaxUploadBytes: DefaultMaxUploadBytes,
		SessionTTL:     DefaultSessionTTL,
		SweepInterval:  DefaultSweepInterval,
		DrainTimeout:   DefaultDrainTimeout,
	}
}

// FromYAMLAndEnv builds the effective configuration: defaults, overridden by
// the YAML file named in BRIDGE_CONFIG_FILE (if set), overridden by
// individual BRIDGE_* variables.
func FromYAMLAndEnv() (Config, error) {
	cfg := Default()

	if path := envString(EnvConfigFile); path != "" {
		if err := applyYAML(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	if value := strings.TrimSpace(file.HTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(file.DBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(file.DBDSN); value != "" {
		cfg.DBDSN = value
	}
	if value := strings.TrimSpace(file.TempDir); value != "" {
		cfg.TempDir = value
	}
	if value := strings.TrimSpace(file.ItemAPIURL); value != "" {
		cfg.ItemAPIURL = value
	}
	if value := strings.TrimSpace(file.FileAPIURL); value != "" {
		cfg.FileAPIURL = value
	}
	if file.MaxUploadBytes > 0 {
		cfg.MaxUploadBytes = file.MaxUploadBytes
	}

	var derr error
	cfg.SessionTTL, derr = optionalDuration(file.SessionTTL, cfg.SessionTTL, "session_ttl")
	if derr != nil {
		return derr
	}
	cfg.SweepInterval, derr = optionalDuration(file.SweepInterval, cfg.SweepInterval, "sweep_interval")
	if derr != nil {
		return derr
	}
	cfg.DrainTimeout, derr = optionalDuration(file.DrainTimeout, cfg.DrainTimeout, "drain_timeout")
	if derr != nil {
		return derr
	}

	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = envOrDefault(EnvHTTPAddr, cfg.HTTPAddr)
	cfg.DBDriver = strings.ToLower(envOrDefault(EnvDBDriver, cfg.DBDriver))
	cfg.DBDSN = envOrDefault(EnvDBDSN, cfg.DBDSN)
	cfg.TempDir = envOrDefault(EnvTempDir, cfg.TempDir)
	cfg.ItemAPIURL = envOrDefault(EnvItemAPIURL, cfg.ItemAPIURL)
	cfg.FileAPIURL = envOrDefault(EnvFileAPIURL, cfg.FileAPIURL)

	if raw := envString(EnvMaxUploadBytes); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("%s must be a positive byte count, got %q", EnvMaxUploadBytes, raw)
		}
		cfg.MaxUploadBytes = parsed
	}

	var err error
	cfg.SessionTTL, err = optionalDuration(envString(EnvSessionTTL), cfg.SessionTTL, EnvSessionTTL)
	if err != nil {
		return err
	}
	cfg.SweepInterval, err = optionalDuration(envString(EnvSweepInterval), cfg.SweepInterval, EnvSweepInterval)
	if err != nil {
		return err
	}
	cfg.DrainTimeout, err = optionalDuration(envString(EnvDrainTimeout), cfg.DrainTimeout, EnvDrainTimeout)
	if err != nil {
		return err
	}

	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%s must be sqlite or postgres", EnvDBDriver)
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("%s must not be empty", EnvDBDSN)
	}
	if strings.TrimSpace(c.TempDir) == "" {
		return fmt.Errorf("%s must not be empty", EnvTempDir)
	}
	if strings.TrimSpace(c.ItemAPIURL) == "" {
		return fmt.Errorf("%s must not be empty", EnvItemAPIURL)
	}
	if strings.TrimSpace(c.FileAPIURL) == "" {
		return fmt.Errorf("%s must not be empty", EnvFileAPIURL)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%s must be > 0", EnvMaxUploadBytes)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%s must be > 0", EnvSessionTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%s must be > 0", EnvSweepInterval)
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvDrainTimeout)
	}
	return nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envOrDefault(key, fallback string) string {
	if value := envString(key); value != "" {
		return value
	}
	return fallback
}

func optionalDuration(raw string, fallback time.Duration, field string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration %q: %w", field, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", field)
	}
	return parsed, nil
}
