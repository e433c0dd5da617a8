// ABOUTME: Sharded in-memory registry of identity connections and the agent group
// ABOUTME: Bind/Unbind are idempotent and safe under concurrent connect and disconnect

package presence

import (
	"hash/maphash"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/livechat-gateway/internal/store"
)

const (
	shardCount = 32

	tombstoneTTL     = 5 * time.Minute
	tombstoneMaxSize = 100_000
)

// binding is what a connection id resolves to.
type binding struct {
	identityID string
	role       store.Role
}

type connShard struct {
	mu       sync.Mutex
	bindings map[string]binding // connID -> binding
}

type identityShard struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{} // identityID -> connIDs
}

// Stats is a point-in-time count of registry contents.
type Stats struct {
	Identities  int
	Connections int
	Agents      int
}

// Registry maps identities to their live connections.
type Registry struct {
	seed       maphash.Seed
	connShards [shardCount]connShard
	idShards   [shardCount]identityShard

	agentsMu sync.RWMutex
	agents   map[string]string // connID -> identityID

	tombstones *Tombstones
	logger     *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		seed:       maphash.MakeSeed(),
		agents:     make(map[string]string),
		tombstones: NewTombstones(tombstoneTTL, tombstoneMaxSize),
		logger:     logger.With("component", "presence"),
	}
	for i := range r.connShards {
		r.connShards[i].bindings = make(map[string]binding)
		r.idShards[i].conns = make(map[string]map[string]struct{})
	}
	return r
}

func (r *Registry) shard(key string) int {
	return int(maphash.String(r.seed, key) % shardCount)
}

// Bind associates connID with identityID. Staff roles also join the agent
// group. It returns false when connID was already unbound or is bound to a
// different identity. Binding the same pair twice is a no-op.
func (r *Registry) Bind(connID, identityID string, role store.Role) bool {
	cs := &r.connShards[r.shard(connID)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if r.tombstones.Contains(connID) {
		r.logger.Debug("refusing bind for closed connection", "connection_id", connID, "identity_id", identityID)
		return false
	}
	if existing, ok := cs.bindings[connID]; ok {
		return existing.identityID == identityID
	}

	is := &r.idShards[r.shard(identityID)]
	is.mu.Lock()
	set, ok := is.conns[identityID]
	if !ok {
		set = make(map[string]struct{})
		is.conns[identityID] = set
	}
	set[connID] = struct{}{}
	is.mu.Unlock()

	if role.IsStaff() {
		r.agentsMu.Lock()
		r.agents[connID] = identityID
		r.agentsMu.Unlock()
	}

	cs.bindings[connID] = binding{identityID: identityID, role: role}
	return true
}

// Unbind removes connID from every index and returns the identity it was
// bound to. Unbinding an unknown or already unbound connection is a no-op.
func (r *Registry) Unbind(connID string) (string, bool) {
	cs := &r.connShards[r.shard(connID)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	r.tombstones.Add(connID)

	b, ok := cs.bindings[connID]
	if !ok {
		return "", false
	}
	delete(cs.bindings, connID)

	is := &r.idShards[r.shard(b.identityID)]
	is.mu.Lock()
	if set, ok := is.conns[b.identityID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(is.conns, b.identityID)
		}
	}
	is.mu.Unlock()

	if b.role.IsStaff() {
		r.agentsMu.Lock()
		delete(r.agents, connID)
		r.agentsMu.Unlock()
	}

	return b.identityID, true
}

// ConnectionsFor returns the live connection ids of an identity.
func (r *Registry) ConnectionsFor(identityID string) []string {
	is := &r.idShards[r.shard(identityID)]
	is.mu.RLock()
	defer is.mu.RUnlock()

	set := is.conns[identityID]
	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	return out
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(identityID string) bool {
	is := &r.idShards[r.shard(identityID)]
	is.mu.RLock()
	defer is.mu.RUnlock()
	return len(is.conns[identityID]) > 0
}

// IdentityOf returns the identity bound to connID.
func (r *Registry) IdentityOf(connID string) (string, bool) {
	cs := &r.connShards[r.shard(connID)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	b, ok := cs.bindings[connID]
	return b.identityID, ok
}

// AgentConnections returns the connection ids in the agent group.
func (r *Registry) AgentConnections() []string {
	r.agentsMu.RLock()
	defer r.agentsMu.RUnlock()

	out := make([]string, 0, len(r.agents))
	for connID := range r.agents {
		out = append(out, connID)
	}
	return out
}

// OnlineAgents returns the distinct staff identities currently connected.
func (r *Registry) OnlineAgents() []string {
	r.agentsMu.RLock()
	defer r.agentsMu.RUnlock()

	seen := make(map[string]struct{}, len(r.agents))
	out := make([]string, 0, len(r.agents))
	for _, identityID := range r.agents {
		if _, ok := seen[identityID]; ok {
			continue
		}
		seen[identityID] = struct{}{}
		out = append(out, identityID)
	}
	return out
}

// Stats counts identities, connections and agent-group members.
func (r *Registry) Stats() Stats {
	var s Stats
	for i := range r.idShards {
		is := &r.idShards[i]
		is.mu.RLock()
		s.Identities += len(is.conns)
		for _, set := range is.conns {
			s.Connections += len(set)
		}
		is.mu.RUnlock()
	}

	r.agentsMu.RLock()
	s.Agents = len(r.agents)
	r.agentsMu.RUnlock()
	return s
}

// Close stops background tombstone cleanup.
func (r *Registry) Close() {
	r.tombstones.Close()
}
