// Package presence tracks which identities are online and through which
// connections.
//
// An identity may hold several live connections (tabs, devices). The Registry
// maps identities to connection ids and back, and keeps the set of staff
// connections that form the agent broadcast group. Presence is in memory and
// per process; it is rebuilt as clients reconnect.
//
// # Concurrency
//
// State is split into shards keyed by connection id and by identity id. Bind
// and Unbind always take the connection shard, then the identity shard, then
// the agent group, so operations on the same identity serialise without a
// global lock. Unbind tombstones the connection id; a Bind that loses the race
// against its own connection's Unbind is refused rather than leaving a stale
// entry behind.
package presence
