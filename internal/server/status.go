package server

import (
	"context"

	"github.com/hyperjump/kbase/internal/config"
	"github.com/hyperjump/kbase/internal/models"
	"github.com/hyperjump/kbase/internal/search"
	"github.com/hyperjump/kbase/internal/storage"
)

// CollectStatus summarizes the backend, index and on-disk footprint. idx may be nil.
func CollectStatus(ctx context.Context, backend storage.Backend, idx *search.Index, cfg *config.Config) (*models.Status, error) {
	count, err := backend.CountArticles(ctx)
	if err != nil {
		return nil, err
	}
	users, err := backend.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	last, err := backend.LastImageID(ctx)
	if err != nil {
		return nil, err
	}
	st := &models.Status{
		Articles:       count,
		Users:          len(users),
		LastImageID:    last,
		StorageBackend: cfg.Storage.Backend,
		ImageBackend:   cfg.Images.Backend,
	}
	if idx != nil {
		if n, err := idx.DocCount(); err == nil {
			st.IndexedDocs = n
		}
	}
	paths := append([]string{}, backend.Paths()...)
	paths = append(paths, cfg.Search.IndexPath)
	if cfg.Images.Backend == "disk" {
		paths = append(paths, cfg.Images.Dir)
	}
	if n, err := storage.Footprint(paths...); err == nil {
		st.FootprintBytes = n
	}
	return st, nil
}
