// Package presence tracks which actors currently hold a live, authenticated
// connection. The registry is the single piece of shared mutable state
// touched by every connection's goroutine; all operations are linearizable
// under one mutex, and nothing inside the critical section performs I/O.
package presence

import (
	"sync"

	"chatrelay/pkg/models"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/telemetry"
)

// Conn is the handle the registry keeps per actor. Send must not block:
// implementations enqueue into a bounded buffer and report false on drop.
type Conn interface {
	Send(env protocol.Envelope) bool
}

// Registry maps actor identity to its one active connection. Entries are
// ephemeral: never persisted, rebuilt from nothing after a restart.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register inserts or overwrites the actor's connection and returns the
// superseded handle, if any. Last writer wins: a reconnect replaces the
// old handle, and the registry does not notify or close it. The stale
// socket lingers until its own transport times out.
func (r *Registry) Register(actor models.ActorRef, c Conn) Conn {
	r.mu.Lock()
	prev := r.conns[actor.Key()]
	r.conns[actor.Key()] = c
	n := len(r.conns)
	r.mu.Unlock()
	telemetry.ConnectedActors.Set(float64(n))
	return prev
}

// Unregister removes the mapping only if the stored handle is c. The
// guard keeps a stale disconnect from evicting a newer registration for
// the same actor during a reconnect race. Reports whether it removed.
func (r *Registry) Unregister(actor models.ActorRef, c Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[actor.Key()]
	removed := ok && cur == c
	if removed {
		delete(r.conns, actor.Key())
	}
	n := len(r.conns)
	r.mu.Unlock()
	telemetry.ConnectedActors.Set(float64(n))
	return removed
}

// Lookup returns the actor's live connection or nil.
func (r *Registry) Lookup(actor models.ActorRef) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[actor.Key()]
}

// Len returns the number of registered actors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
