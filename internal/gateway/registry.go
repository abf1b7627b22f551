package gateway

import (
	"hash/fnv"
	"sync"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 32

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]*Conn
}

// Registry maps user IDs to their live connections. Users are spread over
// independently locked shards so registrations for different users rarely
// contend.
type Registry struct {
	shards []*shard
}

// NewRegistry creates a registry with n shards.
func NewRegistry(n int) *Registry {
	if n <= 0 {
		n = DefaultShards
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{users: make(map[string]map[string]*Conn)}
	}
	return &Registry{shards: shards}
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Add registers c under its user.
func (r *Registry) Add(c *Conn) {
	s := r.shardFor(c.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.users[c.UserID()]
	if !ok {
		group = make(map[string]*Conn)
		s.users[c.UserID()] = group
	}
	group[c.ID()] = c
}

// Remove unregisters c. A user left without connections is dropped.
// It reports whether c was registered.
func (r *Registry) Remove(c *Conn) bool {
	s := r.shardFor(c.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.users[c.UserID()]
	if !ok {
		return false
	}
	if _, ok := group[c.ID()]; !ok {
		return false
	}
	delete(group, c.ID())
	if len(group) == 0 {
		delete(s.users, c.UserID())
	}
	return true
}

// Connections returns a snapshot of userID's connections.
func (r *Registry) Connections(userID string) []*Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	group := s.users[userID]
	conns := make([]*Conn, 0, len(group))
	for _, c := range group {
		conns = append(conns, c)
	}
	return conns
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Conn {
	var conns []*Conn
	for _, s := range r.shards {
		s.mu.RLock()
		for _, group := range s.users {
			for _, c := range group {
				conns = append(conns, c)
			}
		}
		s.mu.RUnlock()
	}
	return conns
}

// Users returns the number of users with at least one connection.
func (r *Registry) Users() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.users)
		s.mu.RUnlock()
	}
	return n
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, group := range s.users {
			n += len(group)
		}
		s.mu.RUnlock()
	}
	return n
}
