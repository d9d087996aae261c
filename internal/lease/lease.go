// Package lease grants exclusive, scoped ownership of hardware resources.
//
// The camera, keypad, and fingerprint sensor cannot be shared between
// concurrent users. The Manager issues at most one live lease per resource;
// a second acquisition fails fast with ErrBusy rather than queuing, so the
// caller retries on its next tick instead of blocking the loop.
//
// Release is idempotent and ReleaseAll sweeps everything an owner holds,
// which keeps teardown correct on every session exit path including
// cancellation and crash recovery.
package lease

import (
	"errors"
	"fmt"
	"sync"
)

// Resource identifies a piece of exclusive hardware.
type Resource string

// Leasable hardware resources.
const (
	Camera            Resource = "camera"
	Keypad            Resource = "keypad"
	FingerprintSensor Resource = "fingerprint_sensor"
)

// Sentinel errors for lease operations.
var (
	// ErrBusy is returned when the resource is held by another owner.
	// This is transient; the caller should retry on a later tick.
	ErrBusy = errors.New("lease: resource busy")

	// ErrUnknownResource is returned for a resource the manager does not track.
	ErrUnknownResource = errors.New("lease: unknown resource")
)

// Lease is an exclusive ownership token for one resource.
// It is returned by TryAcquire and invalidated by Release.
type Lease struct {
	resource Resource
	owner    string
	mgr      *Manager
}

// Resource returns the resource this lease covers.
func (l *Lease) Resource() Resource {
	return l.resource
}

// Owner returns the owner ID the lease was issued to.
func (l *Lease) Owner() string {
	return l.owner
}

// Release returns the resource to the manager.
// Releasing an already-released lease is a no-op.
func (l *Lease) Release() {
	if l == nil || l.mgr == nil {
		return
	}
	l.mgr.release(l)
}

// Manager tracks lease state for all resources.
// It is the sole mutator of lease state and is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	held  map[Resource]*Lease
	known map[Resource]bool
}

// NewManager returns a manager tracking the standard hardware resources.
func NewManager() *Manager {
	return &Manager{
		held: make(map[Resource]*Lease),
		known: map[Resource]bool{
			Camera:            true,
			Keypad:            true,
			FingerprintSensor: true,
		},
	}
}

// TryAcquire attempts to take exclusive ownership of a resource.
//
// It never blocks. If the resource is already held by a different owner
// it returns ErrBusy immediately. If the same owner already holds the
// resource the existing lease is returned (idempotent re-acquire).
//
// Parameters:
//   - resource: The resource to acquire
//   - owner: Opaque owner identifier, typically a session ID
//
// Returns:
//   - *Lease: Ownership token, release via Lease.Release or ReleaseAll
//   - error: ErrBusy or ErrUnknownResource
func (m *Manager) TryAcquire(resource Resource, owner string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.known[resource] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}

	if existing, ok := m.held[resource]; ok {
		if existing.owner == owner {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %s held by %s", ErrBusy, resource, existing.owner)
	}

	l := &Lease{resource: resource, owner: owner, mgr: m}
	m.held[resource] = l
	return l, nil
}

// release returns the resource if this exact lease still holds it.
func (m *Manager) release(l *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.held[l.resource]; ok && current == l {
		delete(m.held, l.resource)
	}
}

// ReleaseAll releases every resource held by the given owner.
//
// Used on session teardown so no exit path can strand hardware.
// Releasing for an owner holding nothing is a no-op.
func (m *Manager) ReleaseAll(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for resource, l := range m.held {
		if l.owner == owner {
			delete(m.held, resource)
		}
	}
}

// Holder returns the owner currently holding the resource, or "" if free.
func (m *Manager) Holder(resource Resource) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.held[resource]; ok {
		return l.owner
	}
	return ""
}

// IsHeld reports whether the resource currently has a live lease.
func (m *Manager) IsHeld(resource Resource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.held[resource]
	return ok
}
