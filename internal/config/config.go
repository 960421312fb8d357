// Package config loads the pusher CLI configuration from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultBackend is the transport used when no configuration names one.
const DefaultBackend = "redis-streams"

// Config is the root configuration of the pusher CLI.
type Config struct {
	Backend BackendConfig `yaml:"backend" toml:"backend"`
	Pusher  PusherConfig  `yaml:"pusher" toml:"pusher"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

// BackendConfig selects a registered transport and passes its options through
// unchanged to the transport factory.
type BackendConfig struct {
	Name    string         `yaml:"name" toml:"name"`
	Options map[string]any `yaml:"options" toml:"options"`
}

// PusherConfig holds the dispatcher settings.
type PusherConfig struct {
	Origin         string `yaml:"origin" toml:"origin"`
	Group          string `yaml:"group" toml:"group"`
	Target         string `yaml:"target" toml:"target"`
	DefaultTimeout string `yaml:"default_timeout" toml:"default_timeout"`
}

type LogConfig struct {
	Debug   bool `yaml:"debug" toml:"debug"`
	Console bool `yaml:"console" toml:"console"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Backend: BackendConfig{Name: DefaultBackend, Options: map[string]any{}},
		Pusher:  PusherConfig{DefaultTimeout: "30s"},
		Log:     LogConfig{Console: true},
	}
}

// Load reads the configuration at path. An empty path returns Default.
// ${VAR} references are expanded from the environment before parsing and the
// format is chosen by extension (.yaml, .yml or .toml).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is operator-provided configuration
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse toml: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("config: unsupported file extension %q", ext)
	}

	if cfg.Backend.Options == nil {
		cfg.Backend.Options = map[string]any{}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files and an
// empty path are ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Backend.Name == "" {
		return errors.New("config: backend name is required")
	}
	if _, err := c.DefaultTimeout(); err != nil {
		return err
	}
	return nil
}

// DefaultTimeout parses pusher.default_timeout. Bare numbers are seconds;
// an empty value means zero (wait until the caller gives up).
func (c Config) DefaultTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.Pusher.DefaultTimeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, serr := strconv.ParseFloat(raw, 64)
		if serr != nil {
			return 0, fmt.Errorf("config: invalid pusher.default_timeout %q", raw)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return 0, fmt.Errorf("config: pusher.default_timeout must not be negative")
	}
	return d, nil
}
