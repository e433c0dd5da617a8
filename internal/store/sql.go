// ABOUTME: database/sql implementation of the Store interface for sqlite and postgres
// ABOUTME: Handles connection setup, schema creation, dialect rebinding and transactions

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	_ Store = (*SQLStore)(nil)
	_ Tx    = (*txConn)(nil)
)

// Dialect selects SQL syntax differences between supported databases.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is fixed width so that TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	conn
	db     *sql.DB
	logger *slog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a querier to a dialect. Query helpers live on conn so the same
// code runs inside and outside transactions.
type conn struct {
	q       querier
	dialect Dialect
}

// Open creates a store for the given driver. path is used by sqlite, dsn by
// postgres.
func Open(driver, path, dsn string) (*SQLStore, error) {
	switch Dialect(driver) {
	case DialectSQLite, "":
		return NewSQLiteStore(path)
	case DialectPostgres:
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Immediate transactions take the write lock up front, which is what the
	// assignment transaction needs to serialise against other writers.
	// Pragmas in the DSN run on every pooled connection, not just the first.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := newSQLStore(db, DialectSQLite)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore connects to PostgreSQL and creates the schema if needed.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := newSQLStore(db, DialectPostgres)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized")
	return s, nil
}

func newSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		conn:   conn{q: db, dialect: dialect},
		db:     db,
		logger: slog.Default().With("component", "store", "dialect", string(dialect)),
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			id               TEXT PRIMARY KEY,
			tenant_id        TEXT NOT NULL,
			role             TEXT NOT NULL,
			display_name     TEXT NOT NULL DEFAULT '',
			email            TEXT NOT NULL DEFAULT '',
			skills           TEXT NOT NULL DEFAULT '[]',
			is_available     INTEGER NOT NULL DEFAULT 0,
			current_workload INTEGER NOT NULL DEFAULT 0,
			max_workload     INTEGER NOT NULL DEFAULT 5,
			temporary_token  TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			CHECK (role IN ('VISITOR', 'AGENT', 'ADMIN')),
			CHECK (current_workload >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_identities_tenant_role
			ON identities(tenant_id, role);

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			tenant_id       TEXT NOT NULL,
			user_id         TEXT NOT NULL REFERENCES identities(id),
			agent_id        TEXT REFERENCES identities(id),
			status          TEXT NOT NULL,
			title           TEXT NOT NULL,
			metadata        TEXT NOT NULL DEFAULT '{}',
			required_skills TEXT NOT NULL DEFAULT '[]',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			CHECK (status IN ('PENDING', 'ACTIVE', 'CLOSED'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent_status
			ON conversations(agent_id, status);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id         TEXT NOT NULL REFERENCES identities(id),
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying handle for health checks and tooling.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing if fn returns nil.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("rolling back transaction", "error", rbErr)
			}
		}
	}()

	if err := fn(&txConn{conn{q: sqlTx, dialect: s.dialect}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// txConn implements Tx over an open transaction.
type txConn struct {
	conn
}

// GetConversationForUpdate loads and locks a conversation row.
func (t *txConn) GetConversationForUpdate(ctx context.Context, id string) (*Conversation, error) {
	query := conversationSelect + ` WHERE id = ?`
	if t.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	conv, err := scanConversation(t.q.QueryRowContext(ctx, t.rebind(query), id))
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindAvailableAgents also locks the candidate rows on postgres, so two
// assignments cannot both read the same last free slot.
func (t *txConn) FindAvailableAgents(ctx context.Context, tenantID string) ([]*Identity, error) {
	query := availableAgentsSelect
	if t.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	return t.queryIdentities(ctx, query, tenantID, string(RoleAgent))
}

// rebind rewrites ? placeholders into the dialect's form.
func (c conn) rebind(query string) string {
	if c.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// greatest returns the dialect's two-argument maximum function.
func (c conn) greatest() string {
	if c.dialect == DialectPostgres {
		return "GREATEST"
	}
	return "MAX"
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

// execOne runs an update and returns ErrNotFound when no row matched.
func (c conn) execOne(ctx context.Context, query string, args ...any) error {
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isConstraintViolation reports whether err is a unique or foreign key
// violation from either driver.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	return strings.Contains(err.Error(), "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
