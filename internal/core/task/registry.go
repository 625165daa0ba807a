package task

import (
	"context"
	"sync"
)

// Registry hands out cancellation tokens per task name. Starting a task cancels the token of the
// previous task with the same name, so at most one instance of a named task is live.
type Registry struct {
	mu    sync.Mutex
	seq   uint64
	tasks map[string]entry
}

type entry struct {
	id     uint64
	cancel context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]entry{}}
}

// Start registers a new run of name. The returned done func must be called when the run ends, it
// releases the slot unless a newer run already took it.
func (r *Registry) Start(parent context.Context, name string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	if prev, ok := r.tasks[name]; ok {
		prev.cancel()
	}
	r.seq++
	id := r.seq
	r.tasks[name] = entry{id: id, cancel: cancel}
	r.mu.Unlock()

	done := func() {
		r.mu.Lock()
		if cur, ok := r.tasks[name]; ok && cur.id == id {
			delete(r.tasks, name)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, done
}

func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.tasks[name]
	if ok {
		prev.cancel()
		delete(r.tasks, name)
	}
	return ok
}

func (r *Registry) Running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[name]
	return ok
}

func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.tasks {
		t.cancel()
		delete(r.tasks, name)
	}
}
