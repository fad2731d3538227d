// Package config loads the client and server configuration.
// Precedence: defaults → YAML file → DOCSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/docsync/internal/chunk"
	"github.com/iudanet/docsync/internal/conflict"
	"github.com/iudanet/docsync/internal/metadata"
	"github.com/iudanet/docsync/internal/queue"
	"github.com/iudanet/docsync/internal/replication"
	"github.com/iudanet/docsync/internal/routing"
	"github.com/iudanet/docsync/internal/syncerr"
)

// DefaultPath is used when neither the caller nor DOCSYNC_CONFIG names a file.
const DefaultPath = "docsync.yaml"

// Config is the root configuration. Read-only after Load returns.
type Config struct {
	Integrity IntegrityConfig    `yaml:"integrity"`
	Conflict  ConflictConfig     `yaml:"conflict"`
	Log       LogConfig          `yaml:"log"`
	Remote    RemoteConfig       `yaml:"remote"`
	Local     LocalConfig        `yaml:"local"`
	Server    ServerConfig       `yaml:"server"`
	Documents []routing.Document `yaml:"documents"`
	Chunk     ChunkConfig        `yaml:"chunk"`
	Sync      SyncConfig         `yaml:"sync"`
}

// RemoteConfig describes the document server the client talks to.
type RemoteConfig struct {
	URL       string   `yaml:"url"`
	Timeout   Duration `yaml:"timeout"`
	TxRetries int      `yaml:"tx_retries"` // повторы транзакции при конфликте версий
}

// LocalConfig describes the local bbolt store.
type LocalConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig tunes change capture, the operation queue and hydration.
type SyncConfig struct {
	Interval           Duration `yaml:"interval"`
	DebounceWindow     Duration `yaml:"debounce_window"`
	BatchDelay         Duration `yaml:"batch_delay"`
	MetadataFlushDelay Duration `yaml:"metadata_flush_delay"`
	MetadataCacheTTL   Duration `yaml:"metadata_cache_ttl"`
	BatchSize          int      `yaml:"batch_size"`
	MaxRetries         int      `yaml:"max_retries"`
	HydrationBatch     int      `yaml:"hydration_batch"`
}

// ChunkConfig tunes the chunk codec.
type ChunkConfig struct {
	LockTimeout     Duration `yaml:"lock_timeout"`
	CacheTTL        Duration `yaml:"cache_ttl"`
	MaxChunkBytes   int      `yaml:"max_chunk_bytes"`
	SafeFieldLimit  int      `yaml:"safe_field_limit"`
	LargeChunkBytes int      `yaml:"large_chunk_bytes"`
}

// ConflictConfig selects the conflict policy.
type ConflictConfig struct {
	Strategy      string `yaml:"strategy"`
	MergeStrategy string `yaml:"merge_strategy"`
	History       int    `yaml:"history"`
}

// IntegrityConfig selects the integrity recovery policy.
type IntegrityConfig struct {
	Recovery   string   `yaml:"recovery"`
	RetryDelay Duration `yaml:"retry_delay"`
	MaxRetries int      `yaml:"max_retries"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig contains document server settings.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	DBPath          string   `yaml:"db_path"`
	JWTSecret       string   `yaml:"-"` // только из окружения
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AccessTokenTTL  Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL Duration `yaml:"refresh_token_ttl"`
	AuthRateLimit   float64  `yaml:"auth_rate_limit"` // запросов в секунду на IP
	AuthRateBurst   int      `yaml:"auth_rate_burst"`
}

// Duration is a time.Duration that reads and writes YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads the configuration from path. An empty path falls back to
// DOCSYNC_CONFIG and then DefaultPath; a missing file leaves the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = getEnv("DOCSYNC_CONFIG", DefaultPath)
		explicit = os.Getenv("DOCSYNC_CONFIG") != ""
	}

	cfg := newDefaults()
	if err := loadYAMLFile(cfg, path, explicit); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a configuration from YAML bytes without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := newDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, syncerr.Config("parsing config: %v", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	return &Config{
		Remote: RemoteConfig{
			URL:       "http://localhost:8080",
			Timeout:   Duration(30 * time.Second),
			TxRetries: 5,
		},
		Local: LocalConfig{
			Path: "docsync-client.db",
		},
		Sync: SyncConfig{
			Interval:           Duration(replication.DefaultSyncInterval),
			DebounceWindow:     Duration(replication.DefaultDebounceWindow),
			BatchDelay:         Duration(queue.DefaultBatchDelay),
			MetadataFlushDelay: Duration(metadata.DefaultFlushDelay),
			MetadataCacheTTL:   Duration(metadata.DefaultCacheTTL),
			BatchSize:          queue.DefaultBatchSize,
			MaxRetries:         queue.DefaultMaxRetries,
			HydrationBatch:     replication.DefaultHydrationBatch,
		},
		Chunk: ChunkConfig{
			LockTimeout:     Duration(chunk.DefaultLockTimeout),
			CacheTTL:        Duration(chunk.DefaultCacheTTL),
			MaxChunkBytes:   chunk.DefaultMaxChunkBytes,
			SafeFieldLimit:  chunk.DefaultSafeFieldLimit,
			LargeChunkBytes: chunk.DefaultLargeChunkBytes,
		},
		Conflict: ConflictConfig{
			Strategy: string(conflict.LastModifiedWins),
			History:  conflict.DefaultTrackerSize,
		},
		Integrity: IntegrityConfig{
			Recovery:   string(replication.ForceRefresh),
			RetryDelay: Duration(replication.DefaultIntegrityDelay),
			MaxRetries: replication.DefaultIntegrityRetries,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Address:         ":8080",
			DBPath:          "docsync-server.db",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			AccessTokenTTL:  Duration(15 * time.Minute),
			RefreshTokenTTL: Duration(30 * 24 * time.Hour),
			AuthRateLimit:   5,
			AuthRateBurst:   10,
		},
	}
}

func loadYAMLFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			// Файла нет: работаем на значениях по умолчанию
			return nil
		}
		return syncerr.Config("reading config file: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return syncerr.Config("parsing config file %s: %v", path, err)
	}
	return nil
}

// applyEnvOverrides applies non-empty DOCSYNC_* variables.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"DOCSYNC_REMOTE_URL":         &cfg.Remote.URL,
		"DOCSYNC_LOCAL_PATH":         &cfg.Local.Path,
		"DOCSYNC_CONFLICT_STRATEGY":  &cfg.Conflict.Strategy,
		"DOCSYNC_MERGE_STRATEGY":     &cfg.Conflict.MergeStrategy,
		"DOCSYNC_INTEGRITY_RECOVERY": &cfg.Integrity.Recovery,
		"DOCSYNC_LOG_LEVEL":          &cfg.Log.Level,
		"DOCSYNC_LOG_FORMAT":         &cfg.Log.Format,
		"DOCSYNC_SERVER_ADDRESS":     &cfg.Server.Address,
		"DOCSYNC_DB_PATH":            &cfg.Server.DBPath,
		"DOCSYNC_JWT_SECRET":         &cfg.Server.JWTSecret,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"DOCSYNC_REMOTE_TIMEOUT":        &cfg.Remote.Timeout,
		"DOCSYNC_SYNC_INTERVAL":         &cfg.Sync.Interval,
		"DOCSYNC_DEBOUNCE_WINDOW":       &cfg.Sync.DebounceWindow,
		"DOCSYNC_INTEGRITY_RETRY_DELAY": &cfg.Integrity.RetryDelay,
	}
	for name, dst := range durations {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return syncerr.Config("%s: invalid duration %q", name, v)
		}
		*dst = Duration(d)
	}

	ints := map[string]*int{
		"DOCSYNC_MAX_RETRIES":           &cfg.Sync.MaxRetries,
		"DOCSYNC_BATCH_SIZE":            &cfg.Sync.BatchSize,
		"DOCSYNC_INTEGRITY_MAX_RETRIES": &cfg.Integrity.MaxRetries,
	}
	for name, dst := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return syncerr.Config("%s: invalid integer %q", name, v)
		}
		*dst = n
	}
	return nil
}

// validate checks settings shared by client and server.
func (c *Config) validate() error {
	if _, err := conflict.ParseStrategy(c.Conflict.Strategy); err != nil {
		return err
	}
	if _, err := conflict.ParseMergeStrategy(c.Conflict.MergeStrategy); err != nil {
		return err
	}
	if _, err := replication.ParseRecoveryStrategy(c.Integrity.Recovery); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return syncerr.Config("unknown log format %q", c.Log.Format)
	}

	positive := map[string]int{
		"sync.batch_size":       c.Sync.BatchSize,
		"sync.max_retries":      c.Sync.MaxRetries,
		"sync.hydration_batch":  c.Sync.HydrationBatch,
		"integrity.max_retries": c.Integrity.MaxRetries,
		"chunk.max_chunk_bytes": c.Chunk.MaxChunkBytes,
	}
	for name, v := range positive {
		if v <= 0 {
			return syncerr.Config("%s must be positive, got %d", name, v)
		}
	}
	if c.Chunk.SafeFieldLimit <= 0 || c.Chunk.SafeFieldLimit >= chunk.MaxDocumentFields {
		return syncerr.Config("chunk.safe_field_limit must be in (0, %d), got %d", chunk.MaxDocumentFields, c.Chunk.SafeFieldLimit)
	}
	if c.Sync.Interval.Std() <= 0 {
		return syncerr.Config("sync.interval must be positive")
	}
	if c.Integrity.RetryDelay.Std() < 0 {
		return syncerr.Config("integrity.retry_delay must not be negative")
	}
	if len(c.Documents) > 0 {
		if _, err := routing.NewTable(c.Documents); err != nil {
			return err
		}
	}
	return nil
}

// ValidateServer checks the settings the document server needs.
func (c *Config) ValidateServer() error {
	if c.Server.JWTSecret == "" {
		return syncerr.Config("DOCSYNC_JWT_SECRET is required")
	}
	if len(c.Server.JWTSecret) < 32 {
		return syncerr.Config("DOCSYNC_JWT_SECRET must be at least 32 bytes")
	}
	if c.Server.DBPath == "" {
		return syncerr.Config("server.db_path is required")
	}
	if c.Server.AccessTokenTTL.Std() <= 0 || c.Server.RefreshTokenTTL.Std() <= 0 {
		return syncerr.Config("token lifetimes must be positive")
	}
	return nil
}

// Routes builds the key routing table. A client without documents is a
// configuration error.
func (c *Config) Routes() (*routing.Table, error) {
	return routing.NewTable(c.Documents)
}

// Replication converts the configuration into controller settings.
func (c *Config) Replication() replication.Config {
	return replication.Config{
		Strategy:      conflict.Strategy(c.Conflict.Strategy),
		MergeStrategy: conflict.MergeStrategy(c.Conflict.MergeStrategy),
		Integrity: replication.IntegrityConfig{
			Recovery:   replication.RecoveryStrategy(c.Integrity.Recovery),
			MaxRetries: c.Integrity.MaxRetries,
			RetryDelay: c.Integrity.RetryDelay.Std(),
		},
		Chunk: chunk.Config{
			MaxChunkBytes:   c.Chunk.MaxChunkBytes,
			SafeFieldLimit:  c.Chunk.SafeFieldLimit,
			LargeChunkBytes: c.Chunk.LargeChunkBytes,
			LockTimeout:     c.Chunk.LockTimeout.Std(),
			CacheTTL:        c.Chunk.CacheTTL.Std(),
		},
		Metadata: metadata.Config{
			CacheTTL:   c.Sync.MetadataCacheTTL.Std(),
			FlushDelay: c.Sync.MetadataFlushDelay.Std(),
		},
		Queue: queue.Config{
			BatchSize:  c.Sync.BatchSize,
			BatchDelay: c.Sync.BatchDelay.Std(),
			MaxRetries: c.Sync.MaxRetries,
		},
		DebounceWindow:  c.Sync.DebounceWindow.Std(),
		SyncInterval:    c.Sync.Interval.Std(),
		HydrationBatch:  c.Sync.HydrationBatch,
		ConflictHistory: c.Conflict.History,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
