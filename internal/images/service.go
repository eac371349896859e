package images

import (
	"context"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/models"
	"github.com/hyperjump/kbase/internal/storage"
)

// DefaultMaxBytes caps a single upload.
const DefaultMaxBytes = 10 << 20

// Service assigns sequential names to uploads and writes them to a Store.
type Service struct {
	counter  storage.CounterStore
	store    Store
	width    int
	maxBytes int64
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNameWidth sets the zero-padded width of image names.
func WithNameWidth(w int) Option {
	return func(s *Service) {
		if w > 0 {
			s.width = w
		}
	}
}

// WithMaxBytes sets the per-upload size limit.
func WithMaxBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewService creates an upload service.
func NewService(counter storage.CounterStore, store Store, opts ...Option) *Service {
	s := &Service{
		counter:  counter,
		store:    store,
		width:    DefaultNameWidth,
		maxBytes: DefaultMaxBytes,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store returns the underlying image store.
func (s *Service) Store() Store { return s.store }

// MaxBytes returns the per-upload size limit.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Upload reads an image from r, takes the next counter value, and stores it as
// zero-padded(counter) + extension. The extension comes from originalName, or from the
// detected content type when originalName has none.
// Every failure is an *UploadError.
func (s *Service) Upload(ctx context.Context, originalName string, r io.Reader) (*models.UploadedImage, error) {
	if r == nil {
		return nil, &UploadError{Err: ErrNoFile}
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, &UploadError{Err: fmt.Errorf("failed to read upload: %w", err)}
	}
	if len(data) == 0 {
		return nil, &UploadError{Err: ErrNoFile}
	}
	if int64(len(data)) > s.maxBytes {
		return nil, &UploadError{Err: ErrTooLarge}
	}

	mt := mimetype.Detect(data)
	ext := ExtFromName(originalName)
	if ext == "" {
		ext = mt.Extension()
	}

	n, err := s.counter.NextImageID(ctx)
	if err != nil {
		return nil, &UploadError{Err: fmt.Errorf("failed to allocate image id: %w", err)}
	}
	name := FormatName(n, s.width, ext)

	url, err := s.store.Put(ctx, name, data, mt.String())
	if err != nil {
		s.logger.Warn("image write failed, counter value skipped",
			zap.Int64("image_id", n), zap.String("name", name), zap.Error(err))
		return nil, &UploadError{Err: fmt.Errorf("failed to store image: %w", err)}
	}
	s.logger.Info("image uploaded",
		zap.String("name", name), zap.String("content_type", mt.String()), zap.Int("bytes", len(data)))
	return &models.UploadedImage{Name: name, URL: url}, nil
}
