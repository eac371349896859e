package images

import (
	"context"
	"fmt"

	"github.com/hyperjump/kbase/internal/config"
)

// OpenStore creates the image store selected by cfg.Backend ("disk" or "gcs").
func OpenStore(ctx context.Context, cfg config.ImagesConfig) (Store, error) {
	switch cfg.Backend {
	case "disk", "":
		return NewDiskStore(cfg.Dir, cfg.PublicPrefix)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPublicURL, cfg.GCSCredentialsFile)
	default:
		return nil, fmt.Errorf("unknown image backend: %s (supported: disk, gcs)", cfg.Backend)
	}
}
