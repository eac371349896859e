package app

import "sync"

// Page names.
const (
	PageKnowledge = "knowledge"
	PageArticle   = "article"
	PageEditor    = "editor"
)

// Route is a page plus the article it shows, if any.
type Route struct {
	Page string
	ID   string
}

// Navigator switches the visible page.
type Navigator interface {
	Navigate(page, id string)
}

// History is a Navigator that records every route it was sent to.
type History struct {
	mu     sync.Mutex
	routes []Route
}

func (h *History) Navigate(page, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = append(h.routes, Route{Page: page, ID: id})
}

// Current returns the last route, or the knowledge page when nothing was visited.
func (h *History) Current() Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.routes) == 0 {
		return Route{Page: PageKnowledge}
	}
	return h.routes[len(h.routes)-1]
}

// Routes returns a copy of the visited routes.
func (h *History) Routes() []Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Route(nil), h.routes...)
}
