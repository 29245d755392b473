package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultSnapshotDescription is used when a snapshot is taken without one.
const DefaultSnapshotDescription = "Taken by vmgr"

// FeatureConfig holds user-facing behaviour settings.
// Source: optional TOML configuration file
type FeatureConfig struct {
	Convergence ConvergenceConfig `toml:"convergence"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
	Store       StoreConfig       `toml:"store"`
	Server      ServerConfig      `toml:"server"`
}

type ConvergenceConfig struct {
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`
	PollIntervalSeconds    int `toml:"poll_interval_seconds"`
}

type SnapshotConfig struct {
	DefaultDescription string `toml:"default_description"`
	ShutdownOnMissing  bool   `toml:"shutdown_on_missing"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

// DefaultFeatureConfig returns the settings used when no file is given.
func DefaultFeatureConfig() *FeatureConfig {
	return &FeatureConfig{
		Convergence: ConvergenceConfig{
			ShutdownTimeoutSeconds: 180,
			PollIntervalSeconds:    20,
		},
		Snapshot: SnapshotConfig{
			DefaultDescription: DefaultSnapshotDescription,
			ShutdownOnMissing:  true,
		},
		Store:  StoreConfig{Path: "./data"},
		Server: ServerConfig{Listen: ":8080"},
	}
}

// LoadFeatureConfig loads feature configuration from a TOML file on top of
// the defaults. An empty path or a missing file yields the defaults.
func LoadFeatureConfig(path string) (*FeatureConfig, error) {
	cfg := DefaultFeatureConfig()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultFeatureConfig(), nil
		}
		return nil, fmt.Errorf("failed to load feature config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys in feature config: %s", strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the convergence wait cannot work with.
func (c *FeatureConfig) Validate() error {
	if c.Convergence.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("convergence.shutdown_timeout_seconds must not be negative")
	}
	if c.Convergence.PollIntervalSeconds <= 0 {
		return fmt.Errorf("convergence.poll_interval_seconds must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

// ShutdownTimeout is the convergence budget for clean snapshots.
func (c *FeatureConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.Convergence.ShutdownTimeoutSeconds) * time.Second
}

// PollInterval is the convergence wait cadence.
func (c *FeatureConfig) PollInterval() time.Duration {
	return time.Duration(c.Convergence.PollIntervalSeconds) * time.Second
}
