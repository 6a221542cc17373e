package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeYAML(t, "cacheDir: /some/directory\nmountpoint: /mnt/tg\nlog: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/some/directory", cfg.CacheDir)
	assert.Equal(t, "/mnt/tg", cfg.Mountpoint)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 1024, cfg.CacheCapacity) // untouched field keeps its default
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1024, cfg.CacheCapacity)
}

func TestValidate_RejectsEmptyCacheDir(t *testing.T) {
	path := writeYAML(t, "cacheDir: \"\"\nmountpoint: /mnt/tg\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_SucceedsWithoutMountpoint(t *testing.T) {
	// Mountpoint is a CLI-level precondition, not something a config file
	// supplies, so Load must not reject its absence.
	path := writeYAML(t, "cacheDir: /tmp/tgfs\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Mountpoint)
}

func TestValidateMountpoint_RejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateMountpoint(&Config{}))
	assert.NoError(t, ValidateMountpoint(&Config{Mountpoint: "/mnt/tg"}))
}

func TestValidate_FallsBackOnInvalidLogLevel(t *testing.T) {
	cfg := &Config{CacheDir: "/tmp/x", DatabasePath: "/tmp/x.db", Mountpoint: "/mnt/tg", LogLevel: "not-a-level"}
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "info", cfg.LogLevel)
}

// RegisterFlags must be called against cfg before fs.Parse runs, so that
// an unset flag still carries cfg's pre-parse default and a passed flag
// lands directly in cfg's field.
func TestRegisterFlags_BeforeParseBindsValues(t *testing.T) {
	cfg := Defaults()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, cfg)
	require.NoError(t, fs.Parse([]string{"--cache-dir=/explicit/dir"}))

	assert.Equal(t, "/explicit/dir", cfg.CacheDir)
	assert.True(t, fs.Changed("cache-dir"))
	assert.False(t, fs.Changed("database"))
}

func TestMergeFile_FlagWinsOverFileWhichWinsOverDefault(t *testing.T) {
	path := writeYAML(t, "cacheDir: /from/file\nlog: warn\nmountpoint: /mnt/from-file\n")

	cfg := Defaults()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, cfg)
	require.NoError(t, fs.Parse([]string{"--cache-dir=/from/flag"}))

	require.NoError(t, MergeFile(cfg, path, fs))

	assert.Equal(t, "/from/flag", cfg.CacheDir, "flag must win over file")
	assert.Equal(t, "warn", cfg.LogLevel, "file must win over the hardcoded default")
	assert.Equal(t, "/mnt/from-file", cfg.Mountpoint)
}

func TestMergeFile_MissingFileKeepsFlagsAndDefaults(t *testing.T) {
	cfg := Defaults()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, cfg)
	require.NoError(t, fs.Parse(nil))

	require.NoError(t, MergeFile(cfg, filepath.Join(t.TempDir(), "missing.yml"), fs))
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestWriteConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	cfg := Config{CacheDir: "/tmp/x", DatabasePath: "/tmp/x.db", Mountpoint: "/mnt/tg", CacheCapacity: 1024, LogLevel: "debug"}
	require.NoError(t, cfg.WriteConfig(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.CacheDir, loaded.CacheDir)
	assert.Equal(t, cfg.Mountpoint, loaded.Mountpoint)
}
