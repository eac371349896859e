package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobg/flock"

	"github.com/hyperjump/kbase/internal/models"
)

const (
	articlesFileName = "knowledge.json"
	counterFileName  = "counter.json"
	usersFileName    = "users.json"
	lockFileName     = ".kbase.lock"
)

const (
	// lockDur bounds how long a lock left by a crashed writer blocks others.
	lockDur        = 10 * time.Second
	lockRetryFirst = 2 * time.Millisecond
	lockRetryMax   = 50 * time.Millisecond
)

var _ Backend = (*FileBackend)(nil)

// FileBackend keeps articles, users and the image counter as JSON files in one directory.
// Writers hold a process mutex plus an advisory file lock, so the CLI and a running
// server can share the directory. Files are replaced by rename, never rewritten in place.
type FileBackend struct {
	dir     string
	mu      sync.Mutex
	flocker flock.Locker
}

// NewFileBackend opens (creating if needed) a file backend rooted at dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	f := &FileBackend{dir: dir, flocker: flock.Locker{LockDur: lockDur}}
	lock, err := os.OpenFile(f.lockPath(), os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_ = lock.Close()
	for _, name := range []string{articlesFileName, usersFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := writeJSONFile(path, []struct{}{}); err != nil {
				return nil, fmt.Errorf("failed to initialize %s: %w", name, err)
			}
		}
	}
	return f, nil
}

func (f *FileBackend) articlesPath() string { return filepath.Join(f.dir, articlesFileName) }
func (f *FileBackend) counterPath() string  { return filepath.Join(f.dir, counterFileName) }
func (f *FileBackend) usersPath() string    { return filepath.Join(f.dir, usersFileName) }
func (f *FileBackend) lockPath() string     { return filepath.Join(f.dir, lockFileName) }

func (f *FileBackend) withLock(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.acquire(ctx); err != nil {
		return persistErr(op+": lock", err)
	}
	defer func() { _ = f.flocker.Unlock(f.lockPath()) }()
	return fn()
}

// acquire waits for the advisory lock, backing off while another process holds it.
// It gives up when ctx is done.
func (f *FileBackend) acquire(ctx context.Context) error {
	wait := lockRetryFirst
	for {
		err := f.flocker.Lock(f.lockPath())
		if !errors.Is(err, flock.ErrLocked) {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if wait *= 2; wait > lockRetryMax {
			wait = lockRetryMax
		}
	}
}

// ListArticles returns all articles in file order, which is creation order.
func (f *FileBackend) ListArticles(ctx context.Context) ([]*models.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	articles, err := readArticlesFile(f.articlesPath())
	if err != nil {
		return nil, persistErr("list articles", err)
	}
	return articles, nil
}

// GetArticle returns the article with id.
func (f *FileBackend) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	articles, err := f.ListArticles(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range articles {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// CreateArticle appends a to the collection.
func (f *FileBackend) CreateArticle(ctx context.Context, a *models.Article) error {
	return f.withLock(ctx, "create article", func() error {
		articles, err := readArticlesFile(f.articlesPath())
		if err != nil {
			return persistErr("create article: read", err)
		}
		for _, existing := range articles {
			if existing.ID == a.ID {
				return ErrConflict
			}
		}
		articles = append(articles, a.Clone())
		return persistErr("create article: write", writeJSONFile(f.articlesPath(), articles))
	})
}

// UpdateArticle applies fn to the stored article with id and rewrites the collection.
func (f *FileBackend) UpdateArticle(ctx context.Context, id string, fn UpdateFunc) (*models.Article, error) {
	var updated *models.Article
	err := f.withLock(ctx, "update article", func() error {
		articles, err := readArticlesFile(f.articlesPath())
		if err != nil {
			return persistErr("update article: read", err)
		}
		idx := -1
		for i, a := range articles {
			if a.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		next := articles[idx].Clone()
		if err := fn(next); err != nil {
			return err
		}
		articles[idx] = next
		if err := writeJSONFile(f.articlesPath(), articles); err != nil {
			return persistErr("update article: write", err)
		}
		updated = next
		return nil
	})
	return updated, err
}

// CountArticles returns the number of stored articles.
func (f *FileBackend) CountArticles(ctx context.Context) (int64, error) {
	articles, err := f.ListArticles(ctx)
	return int64(len(articles)), err
}

// ListUsers returns all users.
func (f *FileBackend) ListUsers(ctx context.Context) ([]*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var users []*models.User
	if err := readJSONFile(f.usersPath(), &users); err != nil {
		return nil, persistErr("list users", err)
	}
	return users, nil
}

// PutUser inserts or replaces u.
func (f *FileBackend) PutUser(ctx context.Context, u *models.User) error {
	return f.withLock(ctx, "put user", func() error {
		var users []*models.User
		if err := readJSONFile(f.usersPath(), &users); err != nil {
			return persistErr("put user: read", err)
		}
		replaced := false
		for i, existing := range users {
			if existing != nil && existing.ID == u.ID {
				users[i] = u
				replaced = true
			}
		}
		if !replaced {
			users = append(users, u)
		}
		return persistErr("put user: write", writeJSONFile(f.usersPath(), users))
	})
}

// NextImageID increments counter.json under the file lock.
func (f *FileBackend) NextImageID(ctx context.Context) (int64, error) {
	var next int64
	err := f.withLock(ctx, "next image id", func() error {
		var c models.ImageCounter
		if err := readJSONFile(f.counterPath(), &c); err != nil {
			return persistErr("next image id: read", err)
		}
		c.LastImageID++
		if err := writeJSONFile(f.counterPath(), c); err != nil {
			return persistErr("next image id: write", err)
		}
		next = c.LastImageID
		return nil
	})
	return next, err
}

// LastImageID returns the current counter value.
func (f *FileBackend) LastImageID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var c models.ImageCounter
	if err := readJSONFile(f.counterPath(), &c); err != nil {
		return 0, persistErr("last image id", err)
	}
	return c.LastImageID, nil
}

// Paths returns the JSON files backing the store.
func (f *FileBackend) Paths() []string {
	return []string{f.articlesPath(), f.counterPath(), f.usersPath()}
}

// WatchPaths returns the files another process may edit under b: the article and
// user collections of a file backend, looking through a read cache. Other backends
// return nil.
func WatchPaths(b Backend) []string {
	if c, ok := b.(*CachedBackend); ok {
		b = c.Backend
	}
	f, ok := b.(*FileBackend)
	if !ok {
		return nil
	}
	return []string{f.articlesPath(), f.usersPath()}
}

// Close is a no-op; files are not held open.
func (f *FileBackend) Close() error { return nil }

// readArticlesFile parses the collection, skipping null and non-object entries
// that hand edits tend to leave behind.
func readArticlesFile(path string) ([]*models.Article, error) {
	var raw []json.RawMessage
	if err := readJSONFile(path, &raw); err != nil {
		return nil, err
	}
	articles := make([]*models.Article, 0, len(raw))
	for _, r := range raw {
		r = bytes.TrimSpace(r)
		if len(r) == 0 || r[0] != '{' {
			continue
		}
		var a models.Article
		if err := json.Unmarshal(r, &a); err != nil {
			return nil, fmt.Errorf("failed to parse article: %w", err)
		}
		articles = append(articles, &a)
	}
	return articles, nil
}

// readJSONFile decodes path into v. A missing or empty file leaves v untouched.
func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONFile replaces path atomically with the indented JSON encoding of v.
func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
