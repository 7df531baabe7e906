// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/logflow/bcilog/internal/logger"
	"github.com/logflow/bcilog/pkg/assemble"
	"github.com/logflow/bcilog/pkg/clocksync"
	lferrors "github.com/logflow/bcilog/pkg/errors"
	"github.com/logflow/bcilog/pkg/parser"
	"github.com/logflow/bcilog/pkg/storage"
	"github.com/logflow/bcilog/pkg/telemetry"
	"github.com/logflow/bcilog/pkg/writer"
)

// Config holds all bcilog configuration.
type Config struct {
	Version int `yaml:"version"`

	Parser    parser.Config        `yaml:"parser"`
	Clock     clocksync.Options    `yaml:"clock"`
	Assemble  assemble.Options     `yaml:"assemble"`
	Export    ExportConfig         `yaml:"export"`
	Watch     WatchConfig          `yaml:"watch"`
	Logging   logger.Config        `yaml:"logging"`
	Telemetry telemetry.OTLPConfig `yaml:"telemetry"`
}

// ExportConfig controls which files a conversion produces and where.
type ExportConfig struct {
	Formats     []string `yaml:"formats"`     // parquet | arrow | duckdb | xlsx
	Compression string   `yaml:"compression"` // snappy | zstd | gzip | lz4 | brotli | none
	OutputDir   string   `yaml:"output_dir"`
	S3          S3Config `yaml:"s3"`
}

// S3Config enables upload of produced files when Bucket is set.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// WatchConfig controls the watch command.
type WatchConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig keeps the watch ledger in Redis when Address is set.
// Otherwise handled files are remembered in memory only.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"` // 0 keeps entries forever
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:  1,
		Parser:   parser.DefaultConfig(),
		Clock:    clocksync.DefaultOptions(),
		Assemble: assemble.DefaultOptions(),
		Export: ExportConfig{
			Formats:     []string{string(writer.FormatParquet)},
			Compression: "snappy",
			OutputDir:   ".",
		},
		Watch: WatchConfig{
			Redis: RedisConfig{Prefix: "bcilog:watch:"},
		},
		Logging:   logger.DefaultConfig(),
		Telemetry: telemetry.DefaultOTLPConfig("bcilog"),
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	explicit string
	paths    []string // Paths that were loaded
}

// NewManager creates a new configuration manager. A non-empty explicit
// path is loaded after the standard locations and must exist.
func NewManager(explicit string) *Manager {
	return &Manager{
		config:   Default(),
		explicit: explicit,
	}
}

// Load loads configuration from all sources in priority order and
// validates the result.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Missing files are fine; broken ones are not.
			if !os.IsNotExist(err) {
				return err
			}
			continue
		}
		m.paths = append(m.paths, path)
	}

	if m.explicit != "" {
		path := storage.ExpandHome(m.explicit)
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				return lferrors.FileNotFound(path, err)
			}
			return err
		}
		m.paths = append(m.paths, path)
	}

	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/bcilog/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".bcilog", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".bcilog.yaml"))
	}
	return paths
}

// loadFile decodes one file over the current values. Keys the file does
// not mention keep their earlier value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to decode config file").
			WithContext("path", path)
	}
	return nil
}

// loadEnv applies BCILOG_* environment overrides.
func (m *Manager) loadEnv() error {
	c := m.config

	if v := os.Getenv("BCILOG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BCILOG_LOG_FILE"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("BCILOG_OUTPUT_DIR"); v != "" {
		c.Export.OutputDir = v
	}
	if v := os.Getenv("BCILOG_FORMATS"); v != "" {
		c.Export.Formats = splitList(v)
	}
	if v := os.Getenv("BCILOG_COMPRESSION"); v != "" {
		c.Export.Compression = v
	}
	if v := os.Getenv("BCILOG_S3_BUCKET"); v != "" {
		c.Export.S3.Bucket = v
	}
	if v := os.Getenv("BCILOG_S3_REGION"); v != "" {
		c.Export.S3.Region = v
	}
	if v := os.Getenv("BCILOG_WATCH_REDIS_ADDRESS"); v != "" {
		c.Watch.Redis.Address = v
	}
	if v := os.Getenv("BCILOG_WATCH_REDIS_PASSWORD"); v != "" {
		c.Watch.Redis.Password = v
	}
	if v := os.Getenv("BCILOG_NON_MONOTONIC"); v != "" {
		c.Assemble.NonMonotonic = assemble.Policy(v)
	}
	if v := os.Getenv("BCILOG_CLOCK_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return lferrors.InvalidConfig("BCILOG_CLOCK_ITERATIONS", v)
		}
		c.Clock.Iterations = n
	}
	if v := os.Getenv("BCILOG_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	return nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	mk := c.Parser.Markers
	if mk.Stimulus == "" || mk.Data == "" || mk.Mode == "" {
		return lferrors.InvalidConfig("parser.markers", mk)
	}
	if mk.Stimulus == mk.Data || mk.Stimulus == mk.Mode || mk.Data == mk.Mode {
		return lferrors.InvalidConfig("parser.markers", mk)
	}
	if c.Parser.BufferSize <= 0 || c.Parser.MaxLineBytes < c.Parser.BufferSize {
		return lferrors.InvalidConfig("parser.max_line_bytes", c.Parser.MaxLineBytes)
	}

	if c.Clock.Iterations < 1 {
		return lferrors.InvalidConfig("clock.iterations", c.Clock.Iterations)
	}
	if c.Clock.ClipFactor <= 0 {
		return lferrors.InvalidConfig("clock.clip_factor", c.Clock.ClipFactor)
	}

	if err := c.Assemble.Validate(); err != nil {
		return lferrors.InvalidConfig("assemble.non_monotonic", c.Assemble.NonMonotonic)
	}

	for _, f := range c.Export.Formats {
		if _, err := writer.ParseFormat(f); err != nil {
			return lferrors.InvalidConfig("export.formats", f)
		}
	}
	if _, err := writer.ParseCompression(c.Export.Compression); err != nil {
		return lferrors.InvalidConfig("export.compression", c.Export.Compression)
	}

	if c.Watch.Redis.Database < 0 {
		return lferrors.InvalidConfig("watch.redis.database", c.Watch.Redis.Database)
	}
	if c.Watch.Redis.TTL < 0 {
		return lferrors.InvalidConfig("watch.redis.ttl", c.Watch.Redis.TTL)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return lferrors.InvalidConfig("telemetry.endpoint", c.Telemetry.Endpoint)
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
