// Package config loads per-instance settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Config carries every per-instance setting. All fields have working
// defaults; a missing config file yields DefaultConfig.
type Config struct {
	// Name is the human-readable CA name, recorded in root claims.
	Name string `yaml:"name"`

	// Domain is the instance's public domain.
	Domain string `yaml:"domain"`

	// RootValidity is the root certificate lifetime, in Go duration
	// syntax. Defaults to ten years.
	RootValidity time.Duration `yaml:"rootValidity"`

	// DataDir is the base directory for the object store, keychain and
	// audit log. Defaults to ~/.trustfabric.
	DataDir string `yaml:"dataDir"`

	// StorePath overrides the badger store location.
	StorePath string `yaml:"storePath"`

	// KeychainPath overrides the keychain directory.
	KeychainPath string `yaml:"keychainPath"`

	// AuditPath overrides the audit log directory.
	AuditPath string `yaml:"auditPath"`

	// AuditRetention is how long audit events are kept before pruning.
	// Zero keeps everything.
	AuditRetention time.Duration `yaml:"auditRetention"`

	// ListenAddrs are the libp2p listen addresses for peer sync.
	ListenAddrs []string `yaml:"listenAddrs"`

	// WebListen is the address of the well-known HTTPS endpoint, empty
	// to disable web publication.
	WebListen string `yaml:"webListen"`

	// Propagation tuning.
	SyncBaseBackoff time.Duration `yaml:"syncBaseBackoff"`
	SyncMaxBackoff  time.Duration `yaml:"syncMaxBackoff"`
	ExportTimeout   time.Duration `yaml:"exportTimeout"`
}

// DefaultConfig returns the working defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Name:            "trustfabric",
		RootValidity:    10 * 365 * 24 * time.Hour,
		DataDir:         filepath.Join(home, ".trustfabric"),
		ListenAddrs:     []string{"/ip4/127.0.0.1/tcp/0"},
		SyncBaseBackoff: 500 * time.Millisecond,
		SyncMaxBackoff:  30 * time.Second,
		ExportTimeout:   10 * time.Second,
	}
}

// UnmarshalYAML decodes the config with durations given in Go duration
// syntax ("720h", "30s"), which yaml cannot decode into time.Duration on
// its own.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		Name            string   `yaml:"name"`
		Domain          string   `yaml:"domain"`
		RootValidity    string   `yaml:"rootValidity"`
		DataDir         string   `yaml:"dataDir"`
		StorePath       string   `yaml:"storePath"`
		KeychainPath    string   `yaml:"keychainPath"`
		AuditPath       string   `yaml:"auditPath"`
		AuditRetention  string   `yaml:"auditRetention"`
		ListenAddrs     []string `yaml:"listenAddrs"`
		WebListen       string   `yaml:"webListen"`
		SyncBaseBackoff string   `yaml:"syncBaseBackoff"`
		SyncMaxBackoff  string   `yaml:"syncMaxBackoff"`
		ExportTimeout   string   `yaml:"exportTimeout"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	if raw.Name != "" {
		c.Name = raw.Name
	}
	if raw.Domain != "" {
		c.Domain = raw.Domain
	}
	if raw.DataDir != "" {
		c.DataDir = raw.DataDir
	}
	if raw.StorePath != "" {
		c.StorePath = raw.StorePath
	}
	if raw.KeychainPath != "" {
		c.KeychainPath = raw.KeychainPath
	}
	if raw.AuditPath != "" {
		c.AuditPath = raw.AuditPath
	}
	if len(raw.ListenAddrs) > 0 {
		c.ListenAddrs = raw.ListenAddrs
	}
	if raw.WebListen != "" {
		c.WebListen = raw.WebListen
	}

	for _, d := range []struct {
		value string
		field string
		dst   *time.Duration
	}{
		{raw.RootValidity, "rootValidity", &c.RootValidity},
		{raw.AuditRetention, "auditRetention", &c.AuditRetention},
		{raw.SyncBaseBackoff, "syncBaseBackoff", &c.SyncBaseBackoff},
		{raw.SyncMaxBackoff, "syncMaxBackoff", &c.SyncMaxBackoff},
		{raw.ExportTimeout, "exportTimeout", &c.ExportTimeout},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.field, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Load reads a YAML config file and fills defaults for anything unset.
// A missing file is not an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.RootValidity <= 0 {
		c.RootValidity = defaults.RootValidity
	}
	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = defaults.ListenAddrs
	}
	if c.SyncBaseBackoff <= 0 {
		c.SyncBaseBackoff = defaults.SyncBaseBackoff
	}
	if c.SyncMaxBackoff <= 0 {
		c.SyncMaxBackoff = defaults.SyncMaxBackoff
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = defaults.ExportTimeout
	}
}

// StoreDir resolves the badger store location.
func (c Config) StoreDir() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	return filepath.Join(c.DataDir, "store")
}

// KeychainDir resolves the keychain directory.
func (c Config) KeychainDir() string {
	if c.KeychainPath != "" {
		return c.KeychainPath
	}
	return filepath.Join(c.DataDir, "keys")
}

// AuditDir resolves the audit log directory.
func (c Config) AuditDir() string {
	if c.AuditPath != "" {
		return c.AuditPath
	}
	return filepath.Join(c.DataDir, "audit")
}
