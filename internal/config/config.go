package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription source kept warm by the
// background refresh loop.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used when a request does not name one.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DefaultDurationMinutes is applied to events with neither a usable end
	// nor a deducible duration.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`

	// CacheTTLSeconds bounds how long a computed response may be served
	// from the warm in-process cache.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// pre-warming the fetch cache of the configured sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir is where fetched ICS bodies and HTTP cache metadata live.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// CancelledPrefixes lists title prefixes treated as cancellation
	// markers. Locale-specific and heuristic, hence configurable.
	CancelledPrefixes []string `yaml:"cancelled_prefixes" json:"cancelled_prefixes"`

	// ICS is the list of subscribed sources to keep warm.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		Timezone:               "UTC",
		DefaultDurationMinutes: 60,
		CacheTTLSeconds:        30,
		RefreshCron:            "*/15 * * * *",
		CacheDir:               "./var/ics-cache",
		CancelledPrefixes:      []string{"canceled:", "cancelled:"},
		ICS:                    []ICSConfig{},
		BasicAuth:              nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = 60
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 30
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.CancelledPrefixes == nil {
		c.CancelledPrefixes = []string{"canceled:", "cancelled:"}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// applyEnv overlays environment variables onto the loaded configuration for
// container deployments where editing the YAML is inconvenient.
func (c *Config) applyEnv() {
	if v := os.Getenv("CALNEXT_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("CALNEXT_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("CALNEXT_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create the parent directory, write a
//     default config with 0600 perms, and return the default.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
//
// Environment overrides apply after either path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.applyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically via
// a temp file + rename, with final permissions 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calnext-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
