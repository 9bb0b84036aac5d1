// Package presence tracks which users currently hold a live push connection.
//
// The Registry maps a username to exactly one Conn. Registering a second
// connection for the same user silently replaces the first (last connection
// wins). The registry never closes connections; it only forgets them.
package presence

import (
	"errors"
	"sort"
	"sync"
)

// ErrClosed is returned by Conn.Send after the connection has shut down.
var ErrClosed = errors.New("presence: connection closed")

// ErrSlowConsumer is returned by Conn.Send when the outbound queue is full.
var ErrSlowConsumer = errors.New("presence: outbound queue full")

// Registry is safe for concurrent use. Lookups take a read lock; every
// mutation is exclusive.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register binds username to c and returns the connection it replaced, or nil.
func (r *Registry) Register(username string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[username]
	r.conns[username] = c
	onlineUsers.Set(float64(len(r.conns)))
	return prev
}

// Unregister removes username. Unknown usernames are a no-op.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, username)
	onlineUsers.Set(float64(len(r.conns)))
}

// UnregisterConn removes username only while it is still bound to c, and
// reports whether it did. A connection that was superseded by a newer one
// cannot evict its replacement.
func (r *Registry) UnregisterConn(username string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[username]
	if !ok || cur.ID() != c.ID() {
		return false
	}
	delete(r.conns, username)
	onlineUsers.Set(float64(len(r.conns)))
	return true
}

// Lookup returns the live connection for username.
func (r *Registry) Lookup(username string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[username]
	return c, ok
}

// ListUsernames returns a sorted snapshot of every registered username.
func (r *Registry) ListUsernames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for u := range r.conns {
		out = append(out, u)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
