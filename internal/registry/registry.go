// Package registry holds the workers this dispatcher instance owns.
//
// The registry is not safe for concurrent use. It belongs to the dispatch
// loop goroutine; other goroutines only ever see Snapshot copies.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mattjoyce/simdispatch/internal/supervisor"
)

// ErrDuplicate means a second worker was about to be registered for a job.
// It indicates an internal inconsistency and is fatal to the loop.
var ErrDuplicate = errors.New("job already registered")

// Registry maps job ids to their live workers.
type Registry struct {
	workers map[string]*supervisor.Worker
}

func New() *Registry {
	return &Registry{workers: make(map[string]*supervisor.Worker)}
}

// Add registers w under its job id.
func (r *Registry) Add(w *supervisor.Worker) error {
	if _, ok := r.workers[w.JobID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, w.JobID)
	}
	r.workers[w.JobID] = w
	return nil
}

// Get returns the worker for id, if any.
func (r *Registry) Get(id string) (*supervisor.Worker, bool) {
	w, ok := r.workers[id]
	return w, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.workers[id]
	return ok
}

// Remove drops id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	delete(r.workers, id)
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	return len(r.workers)
}

// IDs returns the registered job ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of every worker's current state, sorted by job id.
func (r *Registry) Snapshot() []supervisor.Info {
	out := make([]supervisor.Info, 0, len(r.workers))
	for _, id := range r.IDs() {
		out = append(out, r.workers[id].Info())
	}
	return out
}
