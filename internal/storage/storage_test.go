package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbase/internal/config"
	"github.com/hyperjump/kbase/internal/models"
)

type backendFactory func(t *testing.T) Backend

func backends(t *testing.T) map[string]backendFactory {
	t.Helper()
	m := map[string]backendFactory{
		"file": func(t *testing.T) Backend {
			b, err := NewFileBackend(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return b
		},
		"bolt": func(t *testing.T) Backend {
			b, err := NewBoltBackend(filepath.Join(t.TempDir(), "kb.bolt"))
			if err != nil {
				t.Fatal(err)
			}
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "kb.db"))
			if err != nil {
				t.Fatal(err)
			}
			return b
		},
		"cached": func(t *testing.T) Backend {
			inner, err := NewFileBackend(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			b, err := NewCachedBackend(inner, 8)
			if err != nil {
				t.Fatal(err)
			}
			return b
		},
	}
	if dsn := os.Getenv("KBASE_TEST_POSTGRES_DSN"); dsn != "" {
		m["postgres"] = func(t *testing.T) Backend {
			ctx := context.Background()
			b, err := NewPostgresBackend(ctx, dsn)
			if err != nil {
				t.Fatal(err)
			}
			for _, table := range []string{"articles", "users", "counters"} {
				if _, err := b.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
					t.Fatal(err)
				}
			}
			return b
		}
	}
	return m
}

func testArticle(id string, created time.Time) *models.Article {
	return models.NewArticle(id, &models.ArticleInput{
		Title:    "Title " + id,
		Category: "Guides",
		Tags:     []string{"go", "kb"},
		Content:  "<p>hello</p>",
	}, created)
}

func TestBackend_ArticleCRUD(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			defer b.Close()
			ctx := context.Background()

			base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			first := testArticle("knw_2", base)
			second := testArticle("knw_1", base.Add(time.Second))
			if err := b.CreateArticle(ctx, first); err != nil {
				t.Fatal(err)
			}
			if err := b.CreateArticle(ctx, second); err != nil {
				t.Fatal(err)
			}
			if err := b.CreateArticle(ctx, testArticle("knw_2", base)); !errors.Is(err, ErrConflict) {
				t.Errorf("duplicate create: got %v, want ErrConflict", err)
			}

			list, err := b.ListArticles(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 || list[0].ID != "knw_2" || list[1].ID != "knw_1" {
				t.Fatalf("expected creation order [knw_2 knw_1], got %v", ids(list))
			}

			got, err := b.GetArticle(ctx, "knw_2")
			if err != nil {
				t.Fatal(err)
			}
			if got.Title != "Title knw_2" || len(got.Tags) != 2 || got.AuthorID != models.DefaultAuthorID {
				t.Errorf("got %+v", got)
			}
			if !got.CreatedAt.Equal(first.CreatedAt) {
				t.Errorf("createdAt: got %v, want %v", got.CreatedAt, first.CreatedAt)
			}

			updated, err := b.UpdateArticle(ctx, "knw_2", func(a *models.Article) error {
				a.Merge(&models.ArticleInput{Title: "Renamed", Tags: []string{"x"}}, base.Add(time.Minute))
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if updated.Title != "Renamed" || !updated.CreatedAt.Equal(first.CreatedAt) {
				t.Errorf("updated: %+v", updated)
			}
			got, _ = b.GetArticle(ctx, "knw_2")
			if got.Title != "Renamed" || len(got.Tags) != 1 {
				t.Errorf("reloaded: %+v", got)
			}

			if n, err := b.CountArticles(ctx); err != nil || n != 2 {
				t.Errorf("count: got %d, %v", n, err)
			}
		})
	}
}

func TestBackend_NotFound(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			defer b.Close()
			ctx := context.Background()

			if _, err := b.GetArticle(ctx, "knw_404"); !errors.Is(err, ErrNotFound) {
				t.Errorf("get: got %v, want ErrNotFound", err)
			}
			called := false
			_, err := b.UpdateArticle(ctx, "knw_404", func(*models.Article) error {
				called = true
				return nil
			})
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("update: got %v, want ErrNotFound", err)
			}
			if called {
				t.Error("update func should not run for a missing article")
			}
		})
	}
}

func TestBackend_UpdateFuncErrorLeavesArticle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			defer b.Close()
			ctx := context.Background()

			if err := b.CreateArticle(ctx, testArticle("knw_1", time.Now())); err != nil {
				t.Fatal(err)
			}
			boom := errors.New("boom")
			_, err := b.UpdateArticle(ctx, "knw_1", func(a *models.Article) error {
				a.Title = "changed"
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("got %v, want boom", err)
			}
			got, err := b.GetArticle(ctx, "knw_1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Title != "Title knw_1" {
				t.Errorf("title changed to %q", got.Title)
			}
		})
	}
}

func TestBackend_Users(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			defer b.Close()
			ctx := context.Background()

			if err := b.PutUser(ctx, &models.User{ID: 101, Name: "Admin"}); err != nil {
				t.Fatal(err)
			}
			if err := b.PutUser(ctx, &models.User{ID: 101, Name: "Root"}); err != nil {
				t.Fatal(err)
			}
			users, err := b.ListUsers(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(users) != 1 || users[0].Name != "Root" {
				t.Errorf("users: %+v", users)
			}
		})
	}
}

func TestBackend_ImageCounter(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			defer b.Close()
			ctx := context.Background()

			if last, err := b.LastImageID(ctx); err != nil || last != 0 {
				t.Fatalf("fresh counter: got %d, %v", last, err)
			}

			const workers = 8
			const perWorker = 5
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = map[int64]bool{}
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						n, err := b.NextImageID(ctx)
						if err != nil {
							t.Error(err)
							return
						}
						mu.Lock()
						if seen[n] {
							t.Errorf("duplicate image id %d", n)
						}
						seen[n] = true
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if len(seen) != workers*perWorker {
				t.Errorf("expected %d distinct ids, got %d", workers*perWorker, len(seen))
			}
			last, err := b.LastImageID(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if last != workers*perWorker {
				t.Errorf("last image id: got %d, want %d", last, workers*perWorker)
			}
		})
	}
}

func TestFileBackend_SkipsNullEntries(t *testing.T) {
	dir := t.TempDir()
	raw := `[null, {"id":"knw_1","title":"One","tags":[],"authorId":101,"createdAt":"2024-01-01T00:00:00Z","lastUpdatedAt":"2024-01-01T00:00:00Z"}, 7]`
	if err := os.WriteFile(filepath.Join(dir, articlesFileName), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	list, err := b.ListArticles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "knw_1" {
		t.Errorf("got %v", ids(list))
	}
}

func TestFileBackend_CorruptFileIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, articlesFileName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.ListArticles(context.Background())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Errorf("got %v, want *PersistenceError", err)
	}
}

func TestFileBackend_CounterFileFormat(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.NextImageID(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, counterFileName))
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"lastImageId\": 1\n}"
	if string(data) != want {
		t.Errorf("counter.json = %q, want %q", data, want)
	}
}

func TestCachedBackend_ReturnsCopies(t *testing.T) {
	inner, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewCachedBackend(inner, 4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := b.CreateArticle(ctx, testArticle("knw_1", time.Now())); err != nil {
		t.Fatal(err)
	}
	got, _ := b.GetArticle(ctx, "knw_1")
	got.Title = "mutated"
	again, _ := b.GetArticle(ctx, "knw_1")
	if again.Title != "Title knw_1" {
		t.Errorf("cache returned shared instance: %q", again.Title)
	}

	if _, err := b.UpdateArticle(ctx, "knw_1", func(a *models.Article) error {
		a.Title = "New"
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	again, _ = b.GetArticle(ctx, "knw_1")
	if again.Title != "New" {
		t.Errorf("cache not refreshed after update: %q", again.Title)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	tests := []struct {
		name    string
		backend string
		cache   int
		wantErr bool
	}{
		{name: "file", backend: "file"},
		{name: "default", backend: ""},
		{name: "bolt", backend: "bolt"},
		{name: "sqlite", backend: "sqlite"},
		{name: "cached_bolt", backend: "bolt", cache: 16},
		{name: "postgres_without_dsn", backend: "postgres", wantErr: true},
		{name: "unknown", backend: "mongo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := filepath.Join(dir, tt.name)
			cfg := config.StorageConfig{
				Backend:      tt.backend,
				DataDir:      root,
				BoltPath:     filepath.Join(root, "kb.bolt"),
				DatabasePath: filepath.Join(root, "kb.db"),
				CacheSize:    tt.cache,
			}
			b, err := Open(ctx, cfg)
			if tt.wantErr {
				if err == nil {
					_ = b.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer b.Close()
			if len(b.Paths()) == 0 {
				t.Error("expected local paths")
			}
			if tt.cache > 0 {
				if _, ok := b.(*CachedBackend); !ok {
					t.Errorf("expected *CachedBackend, got %T", b)
				}
			}
		})
	}
}

func TestSeedUsers(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	seed := []*models.User{{ID: 101, Name: "Admin"}, {ID: 102, Name: "Editor"}}
	if err := SeedUsers(ctx, b, seed, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	if err := SeedUsers(ctx, b, []*models.User{{ID: 7, Name: "Other"}}, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	users, err := b.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[1].Name != "Editor" {
		t.Errorf("users: %+v", users)
	}
}

func TestFootprint(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "f1.txt")
	if err := os.WriteFile(f1, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a"), []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Footprint(f1, sub, filepath.Join(dir, "missing"), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("got %d bytes, want 8", got)
	}
}

func ids(list []*models.Article) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}

func TestBackend_CounterSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reopeners := map[string]func() (Backend, error){
		"file": func() (Backend, error) { return NewFileBackend(filepath.Join(dir, "files")) },
		"bolt": func() (Backend, error) { return NewBoltBackend(filepath.Join(dir, "kb.bolt")) },
		"sqlite": func() (Backend, error) {
			return NewSQLiteBackend(ctx, filepath.Join(dir, "kb.db"))
		},
	}
	for name, open := range reopeners {
		t.Run(name, func(t *testing.T) {
			b, err := open()
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 3; i++ {
				if _, err := b.NextImageID(ctx); err != nil {
					t.Fatal(err)
				}
			}
			if err := b.CreateArticle(ctx, testArticle("knw_1", time.Now())); err != nil {
				t.Fatal(err)
			}
			if err := b.Close(); err != nil {
				t.Fatal(err)
			}

			b, err = open()
			if err != nil {
				t.Fatal(err)
			}
			defer b.Close()
			if n, err := b.NextImageID(ctx); err != nil || n != 4 {
				t.Errorf("next after reopen: got %d (%v), want 4", n, err)
			}
			if _, err := b.GetArticle(ctx, "knw_1"); err != nil {
				t.Errorf("article lost on reopen: %v", err)
			}
		})
	}
}

func TestWatchPathsAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	inner, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	cached, err := NewCachedBackend(inner, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "knowledge.json"), filepath.Join(dir, "users.json")}
	for _, b := range []Backend{inner, cached} {
		got := WatchPaths(b)
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("WatchPaths = %v, want %v", got, want)
		}
	}
	bolt, err := NewBoltBackend(filepath.Join(t.TempDir(), "kb.bolt"))
	if err != nil {
		t.Fatal(err)
	}
	defer bolt.Close()
	if got := WatchPaths(bolt); got != nil {
		t.Errorf("bolt should have no watch paths, got %v", got)
	}

	ctx := context.Background()
	if err := cached.CreateArticle(ctx, testArticle("knw_1", time.Now())); err != nil {
		t.Fatal(err)
	}
	// another process rewrites the collection
	edited := testArticle("knw_1", time.Now())
	edited.Title = "Edited elsewhere"
	if err := writeJSONFile(want[0], []*models.Article{edited}); err != nil {
		t.Fatal(err)
	}
	if a, _ := cached.GetArticle(ctx, "knw_1"); a.Title == "Edited elsewhere" {
		t.Fatal("expected the stale cached copy before invalidation")
	}
	Invalidate(cached)
	Invalidate(inner)
	if a, _ := cached.GetArticle(ctx, "knw_1"); a.Title != "Edited elsewhere" {
		t.Errorf("after Invalidate: got %q", a.Title)
	}
}

func TestFileBackend_TwoProcessesShareCounter(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	const n = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
		errs []error
	)
	for i := 0; i < n; i++ {
		backend := a
		if i%2 == 1 {
			backend = b
		}
		wg.Add(1)
		go func(backend *FileBackend) {
			defer wg.Done()
			id, err := backend.NextImageID(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seen[id] = true
		}(backend)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("%d of %d increments failed, first: %v", len(errs), n, errs[0])
	}
	if len(seen) != n {
		t.Errorf("distinct ids = %d, want %d", len(seen), n)
	}
	last, err := a.LastImageID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last != n {
		t.Errorf("last id = %d, want %d", last, n)
	}
}

func TestFileBackend_WaitsForHeldLock(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	held := f.lockPath() + ".lock"
	if err := os.WriteFile(held, nil, 0644); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.Remove(held)
	}()
	id, err := f.NextImageID(context.Background())
	if err != nil {
		t.Fatalf("NextImageID should wait for the lock: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
}

func TestFileBackend_LockWaitHonorsContext(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.lockPath()+".lock", nil, 0644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err = f.NextImageID(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if last, _ := f.LastImageID(context.Background()); last != 0 {
		t.Errorf("counter moved to %d without the lock", last)
	}
}

func TestFileBackend_StaleLockIsReclaimed(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	stale := f.lockPath() + ".lock"
	if err := os.WriteFile(stale, nil, 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * lockDur)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := f.NextImageID(ctx); err != nil {
		t.Fatalf("stale lock should not block writes: %v", err)
	}
}
