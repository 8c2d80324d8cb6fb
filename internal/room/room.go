package room

import (
	"sync"
)

// A live editing session: the connections currently in it and the last
// accepted buffer.
type Room[M comparable] struct {
	ID string

	mu          sync.RWMutex
	members     map[M]struct{}
	snapshot    string
	hasSnapshot bool

	// Set once the last member leaves. An evicted room is unreachable from
	// the registry and must not be mutated again.
	evicted bool
}

func newRoom[M comparable](id string) *Room[M] {
	return &Room[M]{
		ID:      id,
		members: make(map[M]struct{}),
	}
}

// Returns the stored buffer, if any
func (r *Room[M]) Snapshot() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot, r.hasSnapshot
}

// Returns the number of members
func (r *Room[M]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Returns a copy of the members other than except
func (r *Room[M]) membersExcept(except M) []M {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]M, 0, len(r.members))
	for m := range r.members {
		if m != except {
			out = append(out, m)
		}
	}
	return out
}
