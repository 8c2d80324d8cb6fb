package room

import "sync"

// Registry maps room IDs to their live members and buffer snapshot.
//
// Each room has its own lock; the registry lock only guards the map itself,
// so operations on different rooms never wait on each other beyond a map
// lookup. A room is evicted as soon as its last member leaves; its snapshot
// is retained and becomes the snapshot of the room the next join creates,
// taking precedence over any seed.
type Registry[M comparable] struct {
	mu       sync.RWMutex
	rooms    map[string]*Room[M]
	retained map[string]string
}

func NewRegistry[M comparable]() *Registry[M] {
	return &Registry[M]{
		rooms:    make(map[string]*Room[M]),
		retained: make(map[string]string),
	}
}

// Joined describes a room right after a member was added.
type Joined struct {
	Count       int
	Snapshot    string
	HasSnapshot bool
}

type joinConfig struct {
	seed   string
	seeded bool
	onJoin func(Joined)
}

type JoinOption func(*joinConfig)

// WithSeed sets the room's snapshot to code if the room has none yet.
func WithSeed(code string) JoinOption {
	return func(c *joinConfig) {
		c.seed = code
		c.seeded = true
	}
}

// WithGreeting runs fn while the room is still locked after the join, so
// whatever fn queues for the new member is ordered before any message
// relayed to it later. fn must not call back into the registry.
func WithGreeting(fn func(Joined)) JoinOption {
	return func(c *joinConfig) {
		c.onJoin = fn
	}
}

func (r *Registry[M]) lookup(id string) *Room[M] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

func (r *Registry[M]) getOrCreate(id string) *Room[M] {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		rm = newRoom[M](id)
		if code, kept := r.retained[id]; kept {
			rm.snapshot, rm.hasSnapshot = code, true
			delete(r.retained, id)
		}
		r.rooms[id] = rm
	}
	return rm
}

// Join adds m to the room, creating the room if needed, and reports the
// post-join member count and the snapshot, if one exists.
func (r *Registry[M]) Join(id string, m M, opts ...JoinOption) Joined {
	var cfg joinConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	for {
		rm := r.getOrCreate(id)
		rm.mu.Lock()
		if rm.evicted {
			// Lost a race with the last Leave; it is about to drop the
			// entry from the map.
			rm.mu.Unlock()
			continue
		}

		if cfg.seeded && !rm.hasSnapshot {
			rm.snapshot = cfg.seed
			rm.hasSnapshot = true
		}
		rm.members[m] = struct{}{}

		j := Joined{
			Count:       len(rm.members),
			Snapshot:    rm.snapshot,
			HasSnapshot: rm.hasSnapshot,
		}
		if cfg.onJoin != nil {
			cfg.onJoin(j)
		}
		rm.mu.Unlock()
		return j
	}
}

// Leave removes m from the room and returns the remaining member count.
// removed is false when m was not a member, in which case nothing changes.
func (r *Registry[M]) Leave(id string, m M) (count int, removed bool) {
	rm := r.lookup(id)
	if rm == nil {
		return 0, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.members[m]; !ok {
		return len(rm.members), false
	}
	delete(rm.members, m)

	if len(rm.members) == 0 {
		rm.evicted = true
		r.mu.Lock()
		if r.rooms[id] == rm {
			delete(r.rooms, id)
			if rm.hasSnapshot {
				r.retained[id] = rm.snapshot
			}
		}
		r.mu.Unlock()
	}
	return len(rm.members), true
}

// MemberCount returns 0 for unknown rooms.
func (r *Registry[M]) MemberCount(id string) int {
	rm := r.lookup(id)
	if rm == nil {
		return 0
	}
	return rm.Len()
}

// Contains reports whether m is currently a member of the room.
func (r *Registry[M]) Contains(id string, m M) bool {
	rm := r.lookup(id)
	if rm == nil {
		return false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.members[m]
	return ok
}

// UpdateSnapshot overwrites the room's buffer. It reports false, and does
// nothing, when the room is not live: an evicted room is neither resurrected
// nor is its retained snapshot changed.
func (r *Registry[M]) UpdateSnapshot(id, code string) bool {
	rm := r.lookup(id)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.evicted {
		return false
	}
	rm.snapshot = code
	rm.hasSnapshot = true
	return true
}

// Snapshot returns the buffer of a live room, or the one retained when it
// was last evicted.
func (r *Registry[M]) Snapshot(id string) (string, bool) {
	r.mu.RLock()
	rm := r.rooms[id]
	code, kept := r.retained[id]
	r.mu.RUnlock()
	if rm == nil {
		return code, kept
	}
	return rm.Snapshot()
}

// Forget drops the retained snapshot of an evicted room. A live room is not
// affected.
func (r *Registry[M]) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retained, id)
}

// MembersExcept returns a copy of the room's members other than except.
// The copy is safe to iterate while the room keeps changing.
func (r *Registry[M]) MembersExcept(id string, except M) []M {
	rm := r.lookup(id)
	if rm == nil {
		return nil
	}
	return rm.membersExcept(except)
}

// RoomCount returns the number of live rooms
func (r *Registry[M]) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry[M]) live() []*Room[M] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]*Room[M], 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	return rooms
}

// MemberTotal returns the number of members across all rooms
func (r *Registry[M]) MemberTotal() int {
	total := 0
	for _, rm := range r.live() {
		total += rm.Len()
	}
	return total
}

// Counts returns the member count of every live room
func (r *Registry[M]) Counts() map[string]int {
	counts := make(map[string]int)
	for _, rm := range r.live() {
		if n := rm.Len(); n > 0 {
			counts[rm.ID] = n
		}
	}
	return counts
}

// All returns every member of every live room
func (r *Registry[M]) All() []M {
	var zero M
	var out []M
	for _, rm := range r.live() {
		out = append(out, rm.membersExcept(zero)...)
	}
	return out
}
