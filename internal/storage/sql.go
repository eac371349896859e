package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/hyperjump/kbase/internal/models"
)

// Schema is executed on open. Timestamps are unix milliseconds and tags are a JSON array,
// so the same statements run on sqlite3 and postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS articles (
  id TEXT PRIMARY KEY NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT '',
  tags TEXT NOT NULL DEFAULT '[]',
  content TEXT NOT NULL DEFAULT '',
  author_id INTEGER NOT NULL,
  created_at BIGINT NOT NULL,
  last_updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles (created_at);

CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY NOT NULL,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
  name TEXT PRIMARY KEY NOT NULL,
  value BIGINT NOT NULL
);
`

const imageCounterName = "image"

var _ Backend = (*SQLBackend)(nil)

// SQLBackend implements Backend on database/sql for the sqlite3 and postgres drivers.
type SQLBackend struct {
	db *sql.DB
	// forUpdate is appended to the row read inside UpdateArticle.
	forUpdate string
	path      string
}

// NewSQLiteBackend opens or creates a SQLite database at dbPath.
// Parent directories are created if they do not exist.
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection serializes writers in this process
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", pragma, err)
		}
	}
	return newSQLBackend(ctx, db, "", dbPath)
}

// NewPostgresBackend connects to dsn and ensures the schema exists.
func NewPostgresBackend(ctx context.Context, dsn string) (*SQLBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return newSQLBackend(ctx, db, " FOR UPDATE", "")
}

func newSQLBackend(ctx context.Context, db *sql.DB, forUpdate, path string) (*SQLBackend, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLBackend{db: db, forUpdate: forUpdate, path: path}, nil
}

const articleColumns = `id, title, description, category, tags, content, author_id, created_at, last_updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*models.Article, error) {
	var (
		a                  models.Article
		tags               string
		created, lastSaved int64
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Description, &a.Category, &tags, &a.Content, &a.AuthorID, &created, &lastSaved); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	a.LastUpdatedAt = time.UnixMilli(lastSaved).UTC()
	return &a, nil
}

func articleArgs(a *models.Article) ([]interface{}, error) {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return []interface{}{
		a.ID, a.Title, a.Description, a.Category, string(tagsJSON), a.Content, a.AuthorID,
		a.CreatedAt.UnixMilli(), a.LastUpdatedAt.UnixMilli(),
	}, nil
}

func (s *SQLBackend) ListArticles(ctx context.Context) ([]*models.Article, error) {
	const q = `SELECT ` + articleColumns + ` FROM articles ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, persistErr("list articles", err)
	}
	defer rows.Close()

	var articles []*models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, persistErr("list articles", err)
		}
		articles = append(articles, a)
	}
	return articles, persistErr("list articles", rows.Err())
}

func (s *SQLBackend) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	const q = `SELECT ` + articleColumns + ` FROM articles WHERE id = $1`
	a, err := scanArticle(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get article", err)
	}
	return a, nil
}

func (s *SQLBackend) CreateArticle(ctx context.Context, a *models.Article) error {
	const q = `INSERT INTO articles (` + articleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING`
	args, err := articleArgs(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return persistErr("create article", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("create article", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLBackend) UpdateArticle(ctx context.Context, id string, fn UpdateFunc) (*models.Article, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("update article: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := `SELECT ` + articleColumns + ` FROM articles WHERE id = $1` + s.forUpdate
	a, err := scanArticle(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("update article: read", err)
	}
	if err := fn(a); err != nil {
		return nil, err
	}

	const upd = `UPDATE articles SET title = $2, description = $3, category = $4, tags = $5,
		content = $6, author_id = $7, created_at = $8, last_updated_at = $9 WHERE id = $1`
	args, err := articleArgs(a)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, upd, args...); err != nil {
		return nil, persistErr("update article: write", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("update article: commit", err)
	}
	return a, nil
}

func (s *SQLBackend) CountArticles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count)
	return count, persistErr("count articles", err)
}

func (s *SQLBackend) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM users ORDER BY id`)
	if err != nil {
		return nil, persistErr("list users", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, persistErr("list users", err)
		}
		users = append(users, &u)
	}
	return users, persistErr("list users", rows.Err())
}

func (s *SQLBackend) PutUser(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`
	_, err := s.db.ExecContext(ctx, q, u.ID, u.Name)
	return persistErr("put user", err)
}

// NextImageID increments the counter row with a single upsert.
func (s *SQLBackend) NextImageID(ctx context.Context) (int64, error) {
	const q = `INSERT INTO counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value`
	var next int64
	if err := s.db.QueryRowContext(ctx, q, imageCounterName).Scan(&next); err != nil {
		return 0, persistErr("next image id", err)
	}
	return next, nil
}

func (s *SQLBackend) LastImageID(ctx context.Context) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = $1`, imageCounterName).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, persistErr("last image id", err)
	}
	return last, nil
}

// Paths returns the sqlite file and its WAL companions; postgres has none.
func (s *SQLBackend) Paths() []string {
	if s.path == "" {
		return nil
	}
	return []string{s.path, s.path + "-wal", s.path + "-shm"}
}

func (s *SQLBackend) Close() error { return s.db.Close() }
