// Package storage defines the persistence interface for articles, users, and the image counter,
// with file, bolt, and SQL backends selected by configuration.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kbase/internal/models"
)

var (
	// ErrNotFound is returned when an article id does not exist.
	ErrNotFound = errors.New("storage: article not found")
	// ErrConflict is returned by CreateArticle when the id is already taken.
	ErrConflict = errors.New("storage: article id already exists")
)

// PersistenceError wraps a backend read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// UpdateFunc mutates an article inside an atomic read-modify-write.
type UpdateFunc func(a *models.Article) error

// Repository is the article and user collection.
type Repository interface {
	// ListArticles returns all articles in creation order.
	ListArticles(ctx context.Context) ([]*models.Article, error)
	GetArticle(ctx context.Context, id string) (*models.Article, error)
	// CreateArticle inserts a; returns ErrConflict if a.ID exists.
	CreateArticle(ctx context.Context, a *models.Article) error
	// UpdateArticle loads id, applies fn and stores the result as one atomic step.
	// Returns ErrNotFound if id does not exist.
	UpdateArticle(ctx context.Context, id string, fn UpdateFunc) (*models.Article, error)
	CountArticles(ctx context.Context) (int64, error)

	ListUsers(ctx context.Context) ([]*models.User, error)
	// PutUser inserts or replaces a user by id.
	PutUser(ctx context.Context, u *models.User) error
}

// CounterStore holds the image counter.
type CounterStore interface {
	// NextImageID atomically increments the counter and returns the new value.
	NextImageID(ctx context.Context) (int64, error)
	// LastImageID returns the current value without changing it (0 when absent).
	LastImageID(ctx context.Context) (int64, error)
}

// Backend is a full persistence adapter.
type Backend interface {
	Repository
	CounterStore
	// Paths lists the files the backend keeps on local disk, if any.
	Paths() []string
	Close() error
}
