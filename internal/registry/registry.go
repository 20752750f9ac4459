// Package registry holds the live drone fleet: a bounded, insertion-ordered
// collection with snapshot-based iteration so periodic scans never block
// writers.
package registry

import (
	"errors"
	"sync"

	"github.com/davebream/skycoord/internal/world"
)

// ErrCapacity is returned by Add when the registry is full. Handshakes that
// hit it are refused without registering.
var ErrCapacity = errors.New("registry at capacity")

// Handle identifies one registration. It stays valid (and Remove stays
// idempotent) for the lifetime of the process; ids are never reused.
type Handle struct {
	id int
}

func (h Handle) ID() int { return h.id }

// Registry is safe for concurrent use. The lock is held only for structural
// changes and snapshot creation, never across I/O or per-drone work.
type Registry struct {
	mu     sync.Mutex
	max    int
	nextID int
	order  []int
	drones map[int]*world.Drone
}

func New(max int) *Registry {
	return &Registry{
		max:    max,
		drones: make(map[int]*world.Drone),
	}
}

// NextID reserves the id the next registration will receive. Ids are assigned
// monotonically; a reserved id is consumed even if the handshake then fails.
func (r *Registry) NextID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Add appends a drone in registration order.
func (r *Registry) Add(d *world.Drone) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.drones) >= r.max {
		return Handle{}, ErrCapacity
	}
	if _, exists := r.drones[d.ID()]; exists {
		return Handle{}, errors.New("duplicate drone id")
	}
	r.drones[d.ID()] = d
	r.order = append(r.order, d.ID())
	return Handle{id: d.ID()}, nil
}

// Remove deletes the registration. Idempotent; O(1) on the map, with the
// order slice compacted lazily on the next snapshot.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drones, h.id)
}

// RemoveDrone removes a drone located through a snapshot. Equivalent to
// Remove with the drone's handle; idempotent.
func (r *Registry) RemoveDrone(d *world.Drone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drones, d.ID())
}

// Get returns the drone for a handle, or nil after removal.
func (r *Registry) Get(h Handle) *world.Drone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drones[h.id]
}

// Snapshot returns the live drones in registration order. The returned slice
// is a stable copy: concurrent Add/Remove never invalidates it, and elements
// already read stay valid to dereference. Drones added after the snapshot are
// missed; drones removed after it may still be observed.
func (r *Registry) Snapshot() []*world.Drone {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*world.Drone, 0, len(r.drones))
	compacted := r.order[:0]
	for _, id := range r.order {
		d, ok := r.drones[id]
		if !ok {
			continue
		}
		compacted = append(compacted, id)
		out = append(out, d)
	}
	r.order = compacted
	return out
}

// Len is the current registration count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drones)
}
