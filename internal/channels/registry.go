package channels

import "sync"

type registryKey struct {
	kind    Kind
	agentID string
}

// Registry is the process-wide mapping from (agent, channel) to live
// connection handle. It is constructed at process start and injected
// into the Manager; only the Manager mutates it. Entries exist from
// deploy until disconnect or teardown and are never persisted.
type Registry struct {
	mu    sync.RWMutex
	conns map[registryKey]Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[registryKey]Connection)}
}

// Get returns the live connection for the agent's channel, if any.
func (r *Registry) Get(kind Kind, agentID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[registryKey{kind, agentID}]
	return conn, ok
}

// Put registers a connection, replacing any prior entry for the same
// key. The caller must have torn down the prior handle first.
func (r *Registry) Put(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[registryKey{conn.Kind(), conn.AgentID()}] = conn
}

// Remove deletes and returns the connection for the agent's channel.
func (r *Registry) Remove(kind Kind, agentID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{kind, agentID}
	conn, ok := r.conns[key]
	if ok {
		delete(r.conns, key)
	}
	return conn, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns a snapshot of all live connections.
func (r *Registry) All() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}
