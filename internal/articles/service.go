// Package articles implements server-side article save and query semantics on top of a
// storage.Repository, keeping the search index in step with every write.
package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/ids"
	"github.com/hyperjump/kbase/internal/models"
	"github.com/hyperjump/kbase/internal/search"
	"github.com/hyperjump/kbase/internal/storage"
)

// maxIDAttempts bounds how far a colliding creation timestamp is bumped.
const maxIDAttempts = 16

// ErrInvalid matches any *ValidationError.
var ErrInvalid = errors.New("invalid article")

// ValidationError reports an article input that failed validation.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Filter narrows List. Zero value lists everything.
type Filter struct {
	// Query runs a full-text search; results come back best match first.
	Query string
	// Category keeps only articles whose category equals it exactly.
	Category string
}

// Service saves and lists articles.
type Service struct {
	repo   storage.Repository
	index  *search.Index
	limit  int
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIndex keeps idx updated on save and uses it for queries.
// Without an index, queries fall back to substring matching.
func WithIndex(idx *search.Index) Option {
	return func(s *Service) { s.index = idx }
}

// WithSearchLimit caps the number of full-text results.
func WithSearchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an article service over repo.
func NewService(repo storage.Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		limit:  50,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save creates or updates an article from in.
// An empty in.ID creates a new article; otherwise the stored article is merged with in,
// and storage.ErrNotFound is returned if it does not exist.
// created reports which of the two happened.
func (s *Service) Save(ctx context.Context, in *models.ArticleInput) (a *models.Article, created bool, err error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, false, &ValidationError{Err: err}
	}
	now := s.now()

	if in.ID != "" {
		a, err = s.repo.UpdateArticle(ctx, in.ID, func(stored *models.Article) error {
			stored.Merge(in, now)
			return nil
		})
		if err != nil {
			return nil, false, err
		}
		s.logger.Debug("article updated", zap.String("id", a.ID))
	} else {
		a, err = s.create(ctx, in, now)
		if err != nil {
			return nil, false, err
		}
		created = true
		s.logger.Debug("article created", zap.String("id", a.ID))
	}

	s.indexArticle(ctx, a)
	return a, created, nil
}

func (s *Service) create(ctx context.Context, in *models.ArticleInput, now time.Time) (*models.Article, error) {
	at := now
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		a := models.NewArticle(ids.ArticleID(at), in, now)
		err := s.repo.CreateArticle(ctx, a)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		at = at.Add(time.Millisecond)
	}
	return nil, fmt.Errorf("failed to allocate article id after %d attempts: %w", maxIDAttempts, storage.ErrConflict)
}

// indexArticle logs index failures; the article is already stored and the next Reindex heals the index.
func (s *Service) indexArticle(ctx context.Context, a *models.Article) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexArticle(ctx, a); err != nil {
		s.logger.Warn("failed to index article", zap.String("id", a.ID), zap.Error(err))
	}
}

// Get returns one article.
func (s *Service) Get(ctx context.Context, id string) (*models.Article, error) {
	return s.repo.GetArticle(ctx, id)
}

// List returns articles matching f. Without a query the order is creation order.
func (s *Service) List(ctx context.Context, f Filter) ([]*models.Article, error) {
	all, err := s.repo.ListArticles(ctx)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(f.Query)

	var out []*models.Article
	if query != "" && s.index != nil {
		out, err = s.searchIndexed(ctx, all, query)
		if err != nil {
			return nil, err
		}
	} else {
		out = make([]*models.Article, 0, len(all))
		for _, a := range all {
			if a.Matches(query) {
				out = append(out, a)
			}
		}
	}

	if f.Category == "" {
		return out, nil
	}
	filtered := out[:0]
	for _, a := range out {
		if a.Category == f.Category {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

func (s *Service) searchIndexed(ctx context.Context, all []*models.Article, query string) ([]*models.Article, error) {
	hits, err := s.index.Search(ctx, query, s.limit)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Article, len(all))
	for _, a := range all {
		byID[a.ID] = a
	}
	out := make([]*models.Article, 0, len(hits))
	for _, h := range hits {
		// the index can trail the store briefly after an external edit
		if a, ok := byID[h.ID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// Users returns the known authors.
func (s *Service) Users(ctx context.Context) ([]*models.User, error) {
	return s.repo.ListUsers(ctx)
}

// Reindex rebuilds the search index from the repository. It is a no-op without an index.
func (s *Service) Reindex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	all, err := s.repo.ListArticles(ctx)
	if err != nil {
		return err
	}
	if err := s.index.Rebuild(ctx, all); err != nil {
		return err
	}
	s.logger.Info("search index rebuilt", zap.Int("articles", len(all)))
	return nil
}
