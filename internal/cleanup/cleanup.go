// Package cleanup removes stored images that no article references.
package cleanup

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kbase/internal/editor"
	"github.com/hyperjump/kbase/internal/images"
	"github.com/hyperjump/kbase/internal/storage"
)

const defaultConcurrency = 8

// Failure is an orphan that could not be deleted.
type Failure struct {
	Name string `json:"name"`
	Err  string `json:"error"`
}

// Report describes one cleanup run.
type Report struct {
	Stored     int       `json:"stored"`
	Referenced int       `json:"referenced"`
	Orphans    []string  `json:"orphans"`
	Deleted    []string  `json:"deleted"`
	Failed     []Failure `json:"failed,omitempty"`
	DryRun     bool      `json:"dryRun"`
}

// Cleaner compares the image store against article content.
type Cleaner struct {
	repo        storage.Repository
	store       images.Store
	dryRun      bool
	concurrency int
	logger      *zap.Logger
}

// Option configures a Cleaner.
type Option func(*Cleaner)

func WithLogger(l *zap.Logger) Option {
	return func(c *Cleaner) { c.logger = l }
}

// WithDryRun reports orphans without deleting them.
func WithDryRun(dry bool) Option {
	return func(c *Cleaner) { c.dryRun = dry }
}

// WithConcurrency bounds parallel deletes.
func WithConcurrency(n int) Option {
	return func(c *Cleaner) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func New(repo storage.Repository, store images.Store, opts ...Option) *Cleaner {
	c := &Cleaner{
		repo:        repo,
		store:       store,
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run deletes every stored image whose URL appears in no article's content.
// A failed delete is recorded in the report and does not stop the run.
func (c *Cleaner) Run(ctx context.Context) (*Report, error) {
	stored, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	report := &Report{Stored: len(stored), Orphans: []string{}, Deleted: []string{}, DryRun: c.dryRun}
	if len(stored) == 0 {
		return report, nil
	}

	used, err := c.referenced(ctx)
	if err != nil {
		return nil, err
	}
	report.Referenced = len(used)

	for _, name := range stored {
		if !used[name] {
			report.Orphans = append(report.Orphans, name)
		}
	}
	c.logger.Info("cleanup scan finished",
		zap.Int("stored", report.Stored), zap.Int("referenced", report.Referenced), zap.Int("orphans", len(report.Orphans)))
	if c.dryRun || len(report.Orphans) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, name := range report.Orphans {
		name := name
		g.Go(func() error {
			err := c.store.Delete(gctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("failed to delete orphan image", zap.String("name", name), zap.Error(err))
				report.Failed = append(report.Failed, Failure{Name: name, Err: err.Error()})
				return nil
			}
			c.logger.Debug("deleted orphan image", zap.String("name", name))
			report.Deleted = append(report.Deleted, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(report.Deleted)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Name < report.Failed[j].Name })
	return report, nil
}

// referenced returns the store names used by any article.
func (c *Cleaner) referenced(ctx context.Context) (map[string]bool, error) {
	articles, err := c.repo.ListArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	used := make(map[string]bool)
	for _, a := range articles {
		for _, src := range editor.ImageSources(a.Content) {
			if name, ok := c.nameFromSource(src); ok {
				used[name] = true
			}
		}
	}
	return used, nil
}

// nameFromSource also accepts absolute URLs whose path is a store URL.
func (c *Cleaner) nameFromSource(src string) (string, bool) {
	if name, ok := c.store.NameFromURL(src); ok {
		return name, true
	}
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		return "", false
	}
	return c.store.NameFromURL(u.Path)
}
