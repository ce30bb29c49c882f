// Package config provides unified configuration for the datagen services.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v3"

	"github.com/datagen/datagen/internal/logging"
)

// Config holds the unified configuration for the datagen services.
type Config struct {
	// DataDir is the base directory for the job catalog, work files and local storage
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http" toml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc" toml:"grpc"`

	// Generation tunes the streaming encoder
	Generation GenerationConfig `json:"generation" yaml:"generation" toml:"generation"`

	// Exports configures background export jobs
	Exports ExportsConfig `json:"exports" yaml:"exports" toml:"exports"`

	// Storage configuration for exported datasets
	Storage StorageConfig `json:"storage" yaml:"storage" toml:"storage"`

	// Logging configuration
	Logging logging.Config `json:"logging" yaml:"logging" toml:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout. Zero disables it, which
	// large generated files need.
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`
}

// GenerationConfig tunes the streaming encoder.
type GenerationConfig struct {
	// FlushEvery is the number of records between explicit sink flushes
	FlushEvery int `json:"flush_every" yaml:"flush_every" toml:"flush_every"`

	// WriteBuffer is the buffer between the encoder and an HTTP response, e.g. "64KB"
	WriteBuffer string `json:"write_buffer" yaml:"write_buffer" toml:"write_buffer"`

	// ChunkSize is the size of a gRPC response chunk, e.g. "32KB"
	ChunkSize string `json:"chunk_size" yaml:"chunk_size" toml:"chunk_size"`

	// ChannelDepth is the number of chunks a channel sink holds before it reports capacity
	ChannelDepth int `json:"channel_depth" yaml:"channel_depth" toml:"channel_depth"`

	// MaxFileSizeMB is the largest accepted fileSize
	MaxFileSizeMB float64 `json:"max_file_size_mb" yaml:"max_file_size_mb" toml:"max_file_size_mb"`

	// EscapeMarkup escapes reserved characters in xml values
	EscapeMarkup bool `json:"escape_markup" yaml:"escape_markup" toml:"escape_markup"`
}

// ExportsConfig configures background export jobs.
type ExportsConfig struct {
	// Enabled controls whether the export endpoints are served
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// WorkDir holds files while they are generated
	WorkDir string `json:"work_dir" yaml:"work_dir" toml:"work_dir"`

	// MaxConcurrent bounds the number of jobs generating at once
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`

	// Compress snappy-frames exported files unless the request says otherwise
	Compress bool `json:"compress" yaml:"compress" toml:"compress"`

	// Retention is how long finished exports are kept. Zero keeps them forever.
	Retention Duration `json:"retention" yaml:"retention" toml:"retention"`

	// SweepInterval is how often expired exports are removed
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval" toml:"sweep_interval"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" toml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" toml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3" toml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket" toml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region" toml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO, LocalStack)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style" toml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/datagen",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: 0,
			IdleTimeout:  Duration(120 * time.Second),
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Generation: GenerationConfig{
			FlushEvery:    1000,
			WriteBuffer:   "64KB",
			ChunkSize:     "32KB",
			ChannelDepth:  16,
			MaxFileSizeMB: 1000,
			EscapeMarkup:  true,
		},
		Exports: ExportsConfig{
			Enabled:       true,
			MaxConcurrent: 2,
			Retention:     Duration(24 * time.Hour),
			SweepInterval: Duration(10 * time.Minute),
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Logging: logging.Config{
			Level: "info",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/datagen"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Exports.WorkDir == "" {
		c.Exports.WorkDir = filepath.Join(c.DataDir, "work")
	}
}

// CatalogPath returns the path to the export job catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}

// WriteBufferBytes returns the parsed write buffer size.
func (c *Config) WriteBufferBytes() int {
	return parseSize(c.Generation.WriteBuffer, 64*bytesize.KB)
}

// ChunkSizeBytes returns the parsed gRPC chunk size.
func (c *Config) ChunkSizeBytes() int {
	return parseSize(c.Generation.ChunkSize, 32*bytesize.KB)
}

func parseSize(s string, fallback bytesize.ByteSize) int {
	if s == "" {
		return int(fallback)
	}
	bs, err := bytesize.Parse(s)
	if err != nil {
		return int(fallback)
	}
	return int(bs)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	if c.Generation.FlushEvery <= 0 {
		return fmt.Errorf("generation.flush_every must be positive, got %d", c.Generation.FlushEvery)
	}

	if c.Generation.ChannelDepth <= 0 {
		return fmt.Errorf("generation.channel_depth must be positive, got %d", c.Generation.ChannelDepth)
	}

	if c.Generation.MaxFileSizeMB < 1 {
		return fmt.Errorf("generation.max_file_size_mb must be at least 1, got %v", c.Generation.MaxFileSizeMB)
	}

	for name, s := range map[string]string{
		"generation.write_buffer": c.Generation.WriteBuffer,
		"generation.chunk_size":   c.Generation.ChunkSize,
	} {
		if s == "" {
			continue
		}
		bs, err := bytesize.Parse(s)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if bs < bytesize.KB {
			return fmt.Errorf("%s must be at least 1KB, got %s", name, s)
		}
	}

	if c.Exports.Enabled && c.Exports.MaxConcurrent <= 0 {
		return fmt.Errorf("exports.max_concurrent must be positive, got %d", c.Exports.MaxConcurrent)
	}

	if c.Exports.Retention > 0 && c.Exports.SweepInterval <= 0 {
		return fmt.Errorf("exports.sweep_interval must be positive when retention is set")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML, JSON or TOML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DATAGEN_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DATAGEN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("DATAGEN_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DATAGEN_HTTP_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = Duration(d)
		}
	}

	// gRPC configuration
	if v := os.Getenv("DATAGEN_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("DATAGEN_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Generation configuration
	if v := os.Getenv("DATAGEN_FLUSH_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Generation.FlushEvery = n
		}
	}
	if v := os.Getenv("DATAGEN_WRITE_BUFFER"); v != "" {
		cfg.Generation.WriteBuffer = v
	}
	if v := os.Getenv("DATAGEN_MAX_FILE_SIZE_MB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Generation.MaxFileSizeMB = f
		}
	}
	if v := os.Getenv("DATAGEN_ESCAPE_MARKUP"); v != "" {
		cfg.Generation.EscapeMarkup = v == "true" || v == "1"
	}

	// Exports configuration
	if v := os.Getenv("DATAGEN_EXPORTS_ENABLED"); v != "" {
		cfg.Exports.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DATAGEN_EXPORTS_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Exports.Retention = Duration(d)
		}
	}
	if v := os.Getenv("DATAGEN_EXPORTS_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Exports.MaxConcurrent = n
		}
	}

	// Storage configuration
	if v := os.Getenv("DATAGEN_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("DATAGEN_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("DATAGEN_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("DATAGEN_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("DATAGEN_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Logging configuration
	if v := os.Getenv("DATAGEN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Exports.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
