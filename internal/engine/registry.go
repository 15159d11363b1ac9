package engine

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the sole authority on transfer existence: a deleted id is
// unobservable to new callers even if in-flight workers still hold a
// *Transfer reference.
//
// Go's sync.Mutex is not reentrant, so every exported method here takes the
// lock exactly once and never calls another exported method while holding
// it.
type Registry struct {
	mu        sync.Mutex
	transfers map[string]*Transfer
}

func NewRegistry() *Registry {
	return &Registry{transfers: make(map[string]*Transfer)}
}

// Create allocates a new Transfer in Waiting status with a fresh 128-bit
// random id.
func (r *Registry) Create(url, targetDir, filename string, mode PrivacyMode) *Transfer {
	t := &Transfer{
		ID:          uuid.NewString(),
		URL:         url,
		TargetDir:   targetDir,
		Filename:    filename,
		PrivacyMode: mode,
		Size:        -1,
		Status:      StatusWaiting,
	}

	r.mu.Lock()
	r.transfers[t.ID] = t
	r.mu.Unlock()
	return t
}

// Get returns the live Transfer pointer for id, or nil if absent. Callers
// outside the owning Executor must not mutate the returned pointer's
// fields directly; use Snapshot for reads.
func (r *Registry) Get(id string) *Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfers[id]
}

// ListAll returns a snapshot of references: the slice itself is a copy, so
// iterating it is race-free, but each *Transfer may still be concurrently
// mutated by its owning Executor.
func (r *Registry) ListAll() []*Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Transfer, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, t)
	}
	return out
}

// Delete removes id unconditionally. Any worker still running against it
// must re-look-up through the Registry at its next cooperative check and
// bail out when it finds nothing.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.transfers, id)
	r.mu.Unlock()
}

// ClearCompleted deletes every transfer in a terminal status. Idempotent:
// calling it twice in a row with no intervening activity is a no-op the
// second time.
func (r *Registry) ClearCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.transfers {
		t.Mu.Lock()
		terminal := t.Status.Terminal()
		t.Mu.Unlock()
		if terminal {
			delete(r.transfers, id)
		}
	}
}
