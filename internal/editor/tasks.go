package editor

import (
	"context"
	"sync"
)

// TaskRegistry tracks in-flight background tasks by key, each with its own cancel function.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]context.CancelFunc)}
}

// Start runs fn in a goroutine under a context derived from parent and registers it as key.
func (r *TaskRegistry) Start(parent context.Context, key string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.tasks[key] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		fn(ctx)
	}()
}

// Finish removes key and reports whether it was still registered.
// A false result means the task was cancelled and its outcome must be dropped.
func (r *TaskRegistry) Finish(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[key]; !ok {
		return false
	}
	delete(r.tasks, key)
	return true
}

// CancelAll cancels every registered task and clears the registry.
func (r *TaskRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, cancel := range r.tasks {
		cancel()
		delete(r.tasks, key)
	}
}

// Len returns the number of registered tasks.
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Wait blocks until every started goroutine has returned.
func (r *TaskRegistry) Wait() {
	r.wg.Wait()
}
