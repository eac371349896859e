package config

import "github.com/hyperjump/kbase/internal/models"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/kbase/db"
	}
	if cfg.Storage.BoltPath == "" {
		cfg.Storage.BoltPath = "/usr/local/var/kbase/db/knowledge.bolt"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kbase/db/knowledge.db"
	}
	if cfg.Images.Backend == "" {
		cfg.Images.Backend = "disk"
	}
	if cfg.Images.Dir == "" {
		cfg.Images.Dir = "/usr/local/var/kbase/public/uploads"
	}
	if cfg.Images.PublicPrefix == "" {
		cfg.Images.PublicPrefix = "/uploads"
	}
	if cfg.Images.GCSPublicURL == "" {
		cfg.Images.GCSPublicURL = "https://storage.googleapis.com"
	}
	if cfg.Images.NameWidth == 0 {
		cfg.Images.NameWidth = 6
	}
	if cfg.Images.MaxBytes == 0 {
		cfg.Images.MaxBytes = 10 << 20
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 50
	}
	if len(cfg.Users) == 0 {
		cfg.Users = []*models.User{{ID: models.DefaultAuthorID, Name: "Admin"}}
	}
}
