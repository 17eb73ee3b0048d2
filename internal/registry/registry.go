// Package registry maps logical users to the live connection their pushes
// are delivered on. A user owns at most one routing entry; the most recent
// registration wins.
package registry

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Conn is a live connection handle that can receive pushes.
type Conn interface {
	// ID identifies the connection; two handles with the same ID are the
	// same connection.
	ID() string
	// Push queues event for delivery. It must not block.
	Push(event string, payload any) error
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// Registry is safe for concurrent use.
type Registry struct {
	shards [shardCount]*shard
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string]Conn)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	return r.shards[xxhash.Sum64String(userID)%shardCount]
}

// Register routes userID to conn, replacing any earlier entry. The displaced
// connection, if any, is returned; it stays open but no longer receives
// pushes.
func (r *Registry) Register(userID string, conn Conn) (Conn, bool) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.conns[userID]
	s.conns[userID] = conn
	if ok && prev.ID() == conn.ID() {
		return nil, false
	}
	return prev, ok
}

// Unregister removes the entry whose handle is conn. It returns the user the
// entry belonged to. Nothing is removed when the user has since registered a
// newer connection.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	id := conn.ID()
	for _, s := range r.shards {
		s.mu.Lock()
		for userID, c := range s.conns {
			if c.ID() == id {
				delete(s.conns, userID)
				s.mu.Unlock()
				return userID, true
			}
		}
		s.mu.Unlock()
	}
	return "", false
}

// Lookup returns the live connection for userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conns[userID]
	return c, ok
}

// Len returns the number of routable users.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}
