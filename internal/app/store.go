// Package app holds the client-side application state and the page controllers that
// drive the editor and talk to the API.
package app

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kbase/internal/models"
)

// DataSource loads the collections the pages render.
type DataSource interface {
	ListArticles(ctx context.Context, q, category string) ([]*models.Article, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// State is an immutable view of the loaded data.
type State struct {
	Articles []*models.Article
	Users    []*models.User
}

// Article returns the article with id.
func (s State) Article(id string) (*models.Article, bool) {
	for _, a := range s.Articles {
		if a != nil && a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// Store is the explicit application state. Subscribers are called after every Replace.
type Store struct {
	mu     sync.RWMutex
	state  State
	subs   map[int]func(State)
	nextID int
	logger *zap.Logger
}

// NewStore returns an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		state:  State{Articles: []*models.Article{}, Users: []*models.User{}},
		subs:   make(map[int]func(State)),
		logger: logger,
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.state)
}

// Replace swaps in st and notifies subscribers.
func (s *Store) Replace(st State) {
	st = copyState(st)
	s.mu.Lock()
	s.state = st
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(copyState(st))
	}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Load fetches articles and users concurrently. If either request fails both
// collections are reset to empty and the error is returned.
func (s *Store) Load(ctx context.Context, src DataSource) error {
	var st State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		articles, err := src.ListArticles(gctx, "", "")
		st.Articles = articles
		return err
	})
	g.Go(func() error {
		users, err := src.ListUsers(gctx)
		st.Users = users
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("failed to load initial data", zap.Error(err))
		s.Replace(State{})
		return err
	}
	s.Replace(st)
	return nil
}

func copyState(st State) State {
	out := State{
		Articles: make([]*models.Article, 0, len(st.Articles)),
		Users:    make([]*models.User, 0, len(st.Users)),
	}
	for _, a := range st.Articles {
		if a != nil {
			out.Articles = append(out.Articles, a)
		}
	}
	for _, u := range st.Users {
		if u != nil {
			out.Users = append(out.Users, u)
		}
	}
	return out
}
