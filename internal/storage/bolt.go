package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hyperjump/kbase/internal/models"
)

var (
	articlesBucket = []byte("articles")
	usersBucket    = []byte("users")
	metaBucket     = []byte("meta")
	counterKey     = []byte("counter")
)

var _ Backend = (*BoltBackend)(nil)

// BoltBackend stores each article as a JSON value keyed by id in a bbolt database.
type BoltBackend struct {
	db   *bolt.DB
	path string
}

// NewBoltBackend opens or creates the bbolt database at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{articlesBucket, usersBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return &BoltBackend{db: db, path: path}, nil
}

func (b *BoltBackend) ListArticles(ctx context.Context) ([]*models.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var articles []*models.Article
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(articlesBucket).ForEach(func(_, v []byte) error {
			var a models.Article
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			articles = append(articles, &a)
			return nil
		})
	})
	if err != nil {
		return nil, persistErr("list articles", err)
	}
	sortByCreation(articles)
	return articles, nil
}

func (b *BoltBackend) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var a *models.Article
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(articlesBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		a = new(models.Article)
		return json.Unmarshal(v, a)
	})
	if err == ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, persistErr("get article", err)
	}
	return a, nil
}

func (b *BoltBackend) CreateArticle(ctx context.Context, a *models.Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal article: %w", err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(articlesBucket)
		if bucket.Get([]byte(a.ID)) != nil {
			return ErrConflict
		}
		return bucket.Put([]byte(a.ID), data)
	})
	if err == ErrConflict {
		return err
	}
	return persistErr("create article", err)
}

func (b *BoltBackend) UpdateArticle(ctx context.Context, id string, fn UpdateFunc) (*models.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var updated models.Article
	var fnErr error
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(articlesBucket)
		v := bucket.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &updated); err != nil {
			return err
		}
		if fnErr = fn(&updated); fnErr != nil {
			return fnErr
		}
		data, err := json.Marshal(&updated)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), data)
	})
	switch {
	case err == nil:
		return &updated, nil
	case err == ErrNotFound, fnErr != nil:
		return nil, err
	default:
		return nil, persistErr("update article", err)
	}
}

func (b *BoltBackend) CountArticles(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(articlesBucket).Stats().KeyN
		return nil
	})
	return int64(n), persistErr("count articles", err)
}

func (b *BoltBackend) ListUsers(ctx context.Context) ([]*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var users []*models.User
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(usersBucket).ForEach(func(_, v []byte) error {
			var u models.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			users = append(users, &u)
			return nil
		})
	})
	if err != nil {
		return nil, persistErr("list users", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (b *BoltBackend) PutUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(usersBucket).Put([]byte(strconv.Itoa(u.ID)), data)
	})
	return persistErr("put user", err)
}

// NextImageID increments the counter inside a single write transaction.
func (b *BoltBackend) NextImageID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var c models.ImageCounter
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(metaBucket)
		if v := bucket.Get(counterKey); v != nil {
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
		}
		c.LastImageID++
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return bucket.Put(counterKey, data)
	})
	if err != nil {
		return 0, persistErr("next image id", err)
	}
	return c.LastImageID, nil
}

func (b *BoltBackend) LastImageID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var c models.ImageCounter
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(counterKey); v != nil {
			return json.Unmarshal(v, &c)
		}
		return nil
	})
	if err != nil {
		return 0, persistErr("last image id", err)
	}
	return c.LastImageID, nil
}

func (b *BoltBackend) Paths() []string { return []string{b.path} }

func (b *BoltBackend) Close() error { return b.db.Close() }

// sortByCreation orders articles by CreatedAt, breaking ties by id.
func sortByCreation(articles []*models.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		a, b := articles[i], articles[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
