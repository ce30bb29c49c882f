package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Generation.FlushEvery)
	assert.Equal(t, 64*1024, cfg.WriteBufferBytes())
	assert.Equal(t, 32*1024, cfg.ChunkSizeBytes())
	assert.True(t, cfg.Generation.EscapeMarkup)
	assert.Equal(t, filepath.Join(cfg.DataDir, "storage"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "jobs.db"), cfg.CatalogPath())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"flush":        func(c *Config) { c.Generation.FlushEvery = 0 },
		"depth":        func(c *Config) { c.Generation.ChannelDepth = -1 },
		"max size":     func(c *Config) { c.Generation.MaxFileSizeMB = 0.5 },
		"bad buffer":   func(c *Config) { c.Generation.WriteBuffer = "lots" },
		"tiny chunk":   func(c *Config) { c.Generation.ChunkSize = "12B" },
		"storage type": func(c *Config) { c.Storage.Type = "ftp" },
		"s3 bucket":    func(c *Config) { c.Storage.Type = "s3" },
		"grpc addr":    func(c *Config) { c.GRPC.Addr = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFileFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"datagen.yaml": "http:\n  addr: \":7070\"\n  read_timeout: 5s\ngeneration:\n  flush_every: 50\n  write_buffer: 128KB\n",
		"datagen.json": `{"http":{"addr":":7070","read_timeout":"5s"},"generation":{"flush_every":50,"write_buffer":"128KB"}}`,
		"datagen.toml": "[http]\naddr = \":7070\"\nread_timeout = \"5s\"\n[generation]\nflush_every = 50\nwrite_buffer = \"128KB\"\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))

			cfg, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, ":7070", cfg.HTTP.Addr)
			assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout.Std())
			assert.Equal(t, 50, cfg.Generation.FlushEvery)
			assert.Equal(t, 128*1024, cfg.WriteBufferBytes())
			// untouched sections keep their defaults
			assert.Equal(t, 16, cfg.Generation.ChannelDepth)
			assert.Equal(t, "local", cfg.Storage.Type)
		})
	}
}

func TestLoadFromFileUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datagen.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATAGEN_HTTP_ADDR", ":9999")
	t.Setenv("DATAGEN_FLUSH_EVERY", "10")
	t.Setenv("DATAGEN_ESCAPE_MARKUP", "false")
	t.Setenv("DATAGEN_STORAGE_TYPE", "s3")
	t.Setenv("DATAGEN_S3_BUCKET", "datasets")
	t.Setenv("DATAGEN_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	cfg.Resolve()

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 10, cfg.Generation.FlushEvery)
	assert.False(t, cfg.Generation.EscapeMarkup)
	assert.Equal(t, "datasets", cfg.Storage.S3.Bucket)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "datagen")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.DataDir, cfg.Exports.WorkDir, cfg.Storage.Path} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
