package exchange

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultCacheMaxSize bounds the pattern cache when Config leaves it zero
const DefaultCacheMaxSize = 25

// Config holds the tunables of a Context. The zero value is usable.
type Config struct {
	// Patterns kept before the least recently used is evicted
	CacheMaxSize int `toml:"cache_max_size" yaml:"cache_max_size"`
	// Send on the calling goroutine instead of posting non-blocking sends
	SyncSends bool `toml:"sync_sends" yaml:"sync_sends"`
	// Prefix every message with a length and checksum header
	Validate bool `toml:"validate" yaml:"validate"`
	// Goroutines for local copies and unpacking; 0 means GOMAXPROCS
	Workers int `toml:"workers" yaml:"workers"`
}

// AsyncSends reports whether sends overlap with local copies
func (c Config) AsyncSends() bool {
	return !c.SyncSends
}

func (c Config) withDefaults() Config {
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = DefaultCacheMaxSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// LoadConfig reads a Config from a .toml, .yaml or .yml file. Unknown keys
// are rejected.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("%s: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse YAML: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("%s: unsupported config format %q", path, filepath.Ext(path))
	}
	if cfg.CacheMaxSize < 0 || cfg.Workers < 0 {
		return Config{}, fmt.Errorf("%s: negative cache_max_size or workers", path)
	}
	return cfg, nil
}
