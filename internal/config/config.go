// Package config provides configuration loading and structs for the kbase server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kbase/internal/models"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool           `yaml:"debug"`
	Server  ServerConfig   `yaml:"server"`
	Storage StorageConfig  `yaml:"storage"`
	Images  ImagesConfig   `yaml:"images"`
	Search  SearchConfig   `yaml:"search"`
	Watch   WatchConfig    `yaml:"watch"`
	Users   []*models.User `yaml:"users"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// StaticDir is served at "/" when set (the single-page app).
	StaticDir string `yaml:"static_dir"`
}

// StorageConfig selects and configures the article backend.
type StorageConfig struct {
	// Backend is one of "file", "bolt", "sqlite", "postgres".
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir"`
	BoltPath     string `yaml:"bolt_path"`
	DatabasePath string `yaml:"database_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	// CacheSize is the number of articles kept in the LRU read cache; 0 disables it.
	CacheSize int `yaml:"cache_size"`
}

// ImagesConfig configures where uploaded images go.
type ImagesConfig struct {
	// Backend is "disk" or "gcs".
	Backend      string `yaml:"backend"`
	Dir          string `yaml:"dir"`
	PublicPrefix string `yaml:"public_prefix"`
	GCSBucket    string `yaml:"gcs_bucket"`
	GCSPublicURL string `yaml:"gcs_public_url"`
	NameWidth    int    `yaml:"name_width"`
	MaxBytes     int64  `yaml:"max_bytes"`

	// GCSCredentialsFile is a service-account key; empty uses application default credentials.
	GCSCredentialsFile string `yaml:"gcs_credentials_file"`
}

// SearchConfig holds full-text search settings.
type SearchConfig struct {
	// IndexPath is the bleve index directory; empty keeps the index in memory.
	IndexPath    string `yaml:"index_path"`
	DefaultLimit int    `yaml:"default_limit"`
}

// WatchConfig controls reindexing when the file backend is edited by another process.
type WatchConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// EnabledOrDefault returns whether to watch; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.BoltPath = expandPath(cfg.Storage.BoltPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Images.Dir = expandPath(cfg.Images.Dir, configDir)
	if cfg.Images.GCSCredentialsFile != "" {
		cfg.Images.GCSCredentialsFile = expandPath(cfg.Images.GCSCredentialsFile, configDir)
	}
	if cfg.Search.IndexPath != "" {
		cfg.Search.IndexPath = expandPath(cfg.Search.IndexPath, configDir)
	}
	if cfg.Server.StaticDir != "" {
		cfg.Server.StaticDir = expandPath(cfg.Server.StaticDir, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
