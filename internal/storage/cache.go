package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/hyperjump/kbase/internal/models"
)

var _ Backend = (*CachedBackend)(nil)

// CachedBackend keeps recently read articles in memory.
// Writes go through to the wrapped backend and refresh the cached copy.
type CachedBackend struct {
	Backend
	c *lru.Cache // id -> *models.Article
}

// NewCachedBackend wraps b with an LRU cache holding up to size articles.
func NewCachedBackend(b Backend, size int) (*CachedBackend, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create article cache: %w", err)
	}
	return &CachedBackend{Backend: b, c: c}, nil
}

// GetArticle returns a copy of the cached article, loading it on a miss.
func (s *CachedBackend) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	if got, ok := s.c.Get(id); ok {
		return got.(*models.Article).Clone(), nil
	}
	a, err := s.Backend.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	s.c.Add(id, a.Clone())
	return a, nil
}

func (s *CachedBackend) CreateArticle(ctx context.Context, a *models.Article) error {
	if err := s.Backend.CreateArticle(ctx, a); err != nil {
		return err
	}
	s.c.Add(a.ID, a.Clone())
	return nil
}

func (s *CachedBackend) UpdateArticle(ctx context.Context, id string, fn UpdateFunc) (*models.Article, error) {
	a, err := s.Backend.UpdateArticle(ctx, id, fn)
	if err != nil {
		s.c.Remove(id)
		return nil, err
	}
	s.c.Add(id, a.Clone())
	return a, nil
}

// Purge drops every cached article. Used when the backing files change underneath.
func (s *CachedBackend) Purge() {
	s.c.Purge()
}

// Invalidate purges b's read cache, if it has one.
func Invalidate(b Backend) {
	if c, ok := b.(*CachedBackend); ok {
		c.Purge()
	}
}
