// Package store provides persistent storage for the live-chat gateway.
//
// # Architecture
//
// Store is the single persistence interface consumed by the gateway, the
// conversation workflow and the agent pool. SQLStore implements it on top of
// database/sql with two dialects:
//
//   - sqlite: modernc.org/sqlite, the default for single-node deployments
//   - postgres: github.com/lib/pq, for shared deployments
//
// # Data Models
//
//   - Identity: a visitor, agent or admin with routing attributes
//   - Conversation: a support thread with lifecycle status and required skills
//   - Message: a durable chat message authored by an identity
//
// # Transactions
//
// Assignment and resolution must change a conversation and an agent's
// workload atomically. WithTx runs a function against a Tx whose reads of the
// conversation row lock it until commit (FOR UPDATE on postgres, an immediate
// write transaction on sqlite).
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: unique constraint violated on create
//   - ErrAtCapacity: a workload increment found the agent already full
//
// # Testing
//
// Use NewMockStore() for unit tests of higher layers and a t.TempDir() sqlite
// database for integration tests.
package store
