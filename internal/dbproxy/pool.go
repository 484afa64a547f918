// Package dbproxy wraps the agent's single database in a fixed-size
// pool of leased proxies and implements the claim/release protocol
// that is the system's only cross-stage ordering mechanism.
//
// sqlite serializes writers, so a single UPDATE ... RETURNING statement
// against a subquery is enough to make claim atomic: two concurrent
// claimants can never observe and mark the same row, because sqlite
// never interleaves their writes.
package dbproxy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkbatx/edge-dispatch-agent/internal/config"

	_ "modernc.org/sqlite"
)

// Pool is a fixed-size leasing pool of Proxy values backed by one
// *sql.DB. Pool size is a hard ceiling on DB concurrency,
// enforced with a buffered-channel semaphore rather
// than by opening one *sql.DB per slot. sqlite serializes writers with
// its file lock; every connection is opened with a busy timeout so a
// writer waits for that lock instead of failing with SQLITE_BUSY.
type Pool struct {
	db  *sql.DB
	sem chan *Proxy
}

// Open opens (creating if absent) the sqlite database at path and
// builds a pool with the given number of lease slots.
func Open(path string, poolSize int) (*Pool, error) {
	if poolSize <= 0 {
		poolSize = 1
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(poolSize)
	p := &Pool{db: db, sem: make(chan *Proxy, poolSize)}
	for i := 0; i < poolSize; i++ {
		p.sem <- &Proxy{db: db}
	}
	return p, nil
}

// Lease waits for a free Proxy.
func (p *Pool) Lease(ctx context.Context) (*Proxy, error) {
	select {
	case pr := <-p.sem:
		return pr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a Proxy to the pool.
func (p *Pool) Release(pr *Proxy) {
	p.sem <- pr
}

// Close closes the underlying database.
func (p *Pool) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the agent's tables if absent (idempotent) and
// annotates a queue_state row for every queue the mapper knows about.
// The supervisor runs this once at startup, before any stage launches.
func (p *Pool) EnsureSchema(ctx context.Context, mapper *config.QueueConfigMapper) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queue_state (
			queue_name TEXT PRIMARY KEY,
			last_fetch_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS job_spec (
			panda_id TEXT PRIMARY KEY,
			attempt INTEGER NOT NULL DEFAULT 0,
			queue_name TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			worker_id INTEGER,
			lock_owner TEXT NOT NULL DEFAULT '',
			lease_token TEXT NOT NULL DEFAULT '',
			lease_deadline TIMESTAMP,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_spec_queue_status ON job_spec(queue_name, status)`,
		`CREATE TABLE IF NOT EXISTS work_spec (
			worker_id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_name TEXT NOT NULL,
			access_point TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			submit_time TIMESTAMP,
			modification_time TIMESTAMP,
			lock_owner TEXT NOT NULL DEFAULT '',
			lease_token TEXT NOT NULL DEFAULT '',
			lease_deadline TIMESTAMP,
			kill_attempts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_spec_queue_status ON work_spec(queue_name, status)`,
		`CREATE TABLE IF NOT EXISTS file_transfer (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_id INTEGER NOT NULL,
			direction TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_record (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_id INTEGER NOT NULL,
			panda_id TEXT NOT NULL,
			event_range_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS command_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command_id TEXT NOT NULL,
			verb TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			result TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_row (
			name TEXT PRIMARY KEY,
			payload BLOB,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	for name := range mapper.Snapshot() {
		if _, err := p.db.ExecContext(ctx,
			`INSERT INTO queue_state(queue_name) VALUES(?)
			 ON CONFLICT(queue_name) DO NOTHING`, name); err != nil {
			return fmt.Errorf("annotate queue %s: %w", name, err)
		}
	}
	return nil
}

// Proxy wraps the pooled connection with the schema-level operations
// stages need. All Proxy values in a Pool share the same *sql.DB; the
// Pool's semaphore is what bounds concurrency.
type Proxy struct {
	db *sql.DB
}
