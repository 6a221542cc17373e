// Package config loads telegram-fuse's configuration in layers: defaults,
// then an optional YAML file merged over them, then flags, then validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v3"

	"github.com/duo/telegram-fuse/internal/logging"
)

// Config is telegram-fuse's full runtime configuration.
type Config struct {
	// CacheDir backs cache entries' temp files, defaulting to a directory
	// under the platform's cache directory. Required non-empty once
	// validated: no implicit fallback is applied to an explicit override.
	CacheDir string `yaml:"cacheDir"`
	// DatabasePath is the metadata store's SQLite file.
	DatabasePath string `yaml:"databasePath"`
	// Mountpoint is where the FUSE filesystem is mounted.
	Mountpoint string `yaml:"mountpoint"`
	// CacheCapacity bounds the cache table's entry count (default 1024).
	CacheCapacity int `yaml:"cacheCapacity"`
	LogLevel      string `yaml:"log"`

	AppID       int    `yaml:"appID"`
	AppHash     string `yaml:"appHash"`
	SessionPath string `yaml:"sessionPath"`
}

// DefaultConfigPath returns the XDG-based default configuration location.
func DefaultConfigPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		logging.Error().Err(err).Msg("could not determine configuration directory")
	}
	return filepath.Join(confDir, "telegram-fuse/config.yml")
}

func defaults() Config {
	xdgCacheDir, _ := os.UserCacheDir()
	confDir, _ := os.UserConfigDir()
	return Config{
		CacheDir:      filepath.Join(xdgCacheDir, "telegram-fuse", "content"),
		DatabasePath:  filepath.Join(confDir, "telegram-fuse", "metadata.db"),
		CacheCapacity: 1024,
		LogLevel:      "info",
		SessionPath:   filepath.Join(confDir, "telegram-fuse", "tg.session"),
	}
}

// Defaults returns a Config populated with telegram-fuse's built-in
// defaults, suitable for registering flags against before the command line
// has been parsed (Mountpoint has no default: it is always supplied either
// by a flag/config file or the command's positional argument).
func Defaults() *Config {
	d := defaults()
	return &d
}

// RegisterFlags binds the configuration's overridable fields onto fs, so
// flags win over file, and file wins over defaults.
func RegisterFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "directory for cached file content")
	fs.StringVar(&c.DatabasePath, "database", c.DatabasePath, "path to the metadata database")
	fs.StringVar(&c.Mountpoint, "mountpoint", c.Mountpoint, "FUSE mountpoint")
	fs.IntVar(&c.CacheCapacity, "cache-capacity", c.CacheCapacity, "maximum number of cache entries held at once")
	fs.StringVar(&c.LogLevel, "log", c.LogLevel, "log level (trace, debug, info, warn, error)")
	fs.IntVar(&c.AppID, "app-id", c.AppID, "Telegram API app id")
	fs.StringVar(&c.AppHash, "app-hash", c.AppHash, "Telegram API app hash")
	fs.StringVar(&c.SessionPath, "session", c.SessionPath, "path to the Telegram session file")
}

// MergeFile reads path (if present) and merges its values into cfg, one
// field at a time, skipping any field whose matching flag the caller
// already set on fs — flags win over file, file wins over whatever default
// cfg already held. Call this after flag.Parse() so fs.Changed reflects the
// command line, but with cfg itself already registered as the flags'
// backing struct (via RegisterFlags) before that Parse call. A missing file
// is not an error — it just means the flags/defaults already in cfg apply.
func MergeFile(cfg *Config, path string, fs *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		logging.Warn().Str("path", path).Msg("configuration file not found, using defaults")
		return Validate(cfg)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	mergeStringField(fs, "cache-dir", &cfg.CacheDir, file.CacheDir)
	var raw map[string]any
	_ = yaml.Unmarshal(data, &raw)
	if _, set := raw["cacheDir"]; set && !fs.Changed("cache-dir") {
		// an explicit blank cacheDir is kept, so Validate rejects it
		cfg.CacheDir = file.CacheDir
	}
	mergeStringField(fs, "database", &cfg.DatabasePath, file.DatabasePath)
	mergeStringField(fs, "mountpoint", &cfg.Mountpoint, file.Mountpoint)
	mergeStringField(fs, "log", &cfg.LogLevel, file.LogLevel)
	mergeStringField(fs, "app-hash", &cfg.AppHash, file.AppHash)
	mergeStringField(fs, "session", &cfg.SessionPath, file.SessionPath)
	if !fs.Changed("cache-capacity") && file.CacheCapacity != 0 {
		cfg.CacheCapacity = file.CacheCapacity
	}
	if !fs.Changed("app-id") && file.AppID != 0 {
		cfg.AppID = file.AppID
	}

	return Validate(cfg)
}

func mergeStringField(fs *pflag.FlagSet, flagName string, dst *string, fileVal string) {
	if fs.Changed(flagName) || fileVal == "" {
		return
	}
	*dst = fileVal
}

// Load reads path (if present), merges it over defaults, and validates the
// result. A missing file is not an error — it just means defaults apply.
func Load(path string) (*Config, error) {
	def := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		logging.Warn().Str("path", path).Msg("configuration file not found, using defaults")
		return &def, nil
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	var raw map[string]any
	_ = yaml.Unmarshal(data, &raw)
	_, cacheDirSet := raw["cacheDir"]
	blankCacheDir := cacheDirSet && cfg.CacheDir == ""

	if err := mergo.Merge(cfg, def); err != nil {
		return nil, fmt.Errorf("config: merge defaults: %w", err)
	}
	if blankCacheDir {
		// mergo fills every zero field; an explicit blank stays blank.
		cfg.CacheDir = ""
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the non-negotiable invariants: in particular, an
// explicitly configured CacheDir must not be empty — there is no implicit
// fallback for a deliberately-blank override. Mountpoint is deliberately not
// checked here: it is a CLI-level precondition (the command's positional
// argument), not something a config file or Load's defaults can supply, so
// callers validate it themselves once the CLI argument has been merged in.
func Validate(c *Config) error {
	if strings.TrimSpace(c.CacheDir) == "" {
		return fmt.Errorf("config: cacheDir must not be empty")
	}
	if c.CacheCapacity <= 0 {
		logging.Warn().Int("cacheCapacity", c.CacheCapacity).Msg("cache capacity must be positive, using default")
		c.CacheCapacity = 1024
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: databasePath must not be empty")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		logging.Warn().Str("logLevel", c.LogLevel).Msg("invalid log level, using default")
		c.LogLevel = "info"
	}
	return nil
}

// ValidateMountpoint checks the CLI-level precondition Validate deliberately
// skips: Mountpoint must be set before the filesystem is mounted.
func ValidateMountpoint(c *Config) error {
	if strings.TrimSpace(c.Mountpoint) == "" {
		return fmt.Errorf("config: mountpoint must be set")
	}
	return nil
}

// WriteConfig persists c to path as YAML, creating parent directories.
func (c Config) WriteConfig(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}
