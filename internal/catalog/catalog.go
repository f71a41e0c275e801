package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/hierarchy"
)

// ErrUnavailable is returned when no snapshot could be loaded at all.
var ErrUnavailable = errors.New("catalog unavailable")

// State is one consistent snapshot of the hierarchy and the grants. Every
// resolution in a request runs against a single State.
type State struct {
	Version  uint64
	Forest   *hierarchy.Forest
	Grants   *access.GrantSet
	LoadedAt time.Time
}

type Reader interface {
	Snapshot(ctx context.Context) (*State, error)
}

// Writer covers the administrative write paths. Implementations reject
// cycle-forming parents and unknown parents before anything is published.
type Writer interface {
	CreateEntity(ctx context.Context, e hierarchy.Entity) error
	UpdateEntity(ctx context.Context, e hierarchy.Entity) error
	PutGrant(ctx context.Context, g access.Grant) error
	RevokeGrant(ctx context.Context, userID, entityID string) error
}

type Catalog interface {
	Reader
	Writer
}

// Holder publishes States to lock-free readers. Publishers serialise on mu;
// readers only load the pointer.
type Holder struct {
	current atomic.Pointer[State]
	tickets atomic.Uint64

	mu        sync.Mutex
	version   uint64
	published uint64
}

// Publish stamps s with the next version and makes it current.
func (h *Holder) Publish(s *State) *State {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = h.tickets.Add(1)
	return h.store(s)
}

// BeginLoad hands out a ticket to take before reading the backing store.
// Tickets increase in the order loads start.
func (h *Holder) BeginLoad() uint64 {
	return h.tickets.Add(1)
}

// PublishLoad publishes s unless a load holding a later ticket has already
// been published, in which case the current State is returned with false.
func (h *Holder) PublishLoad(ticket uint64, s *State) (*State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ticket <= h.published {
		return h.current.Load(), false
	}
	h.published = ticket
	return h.store(s), true
}

func (h *Holder) store(s *State) *State {
	h.version++
	s.Version = h.version
	if s.LoadedAt.IsZero() {
		s.LoadedAt = time.Now().UTC()
	}
	h.current.Store(s)
	return s
}

// Current returns the latest published State, or nil before the first one.
func (h *Holder) Current() *State {
	return h.current.Load()
}
