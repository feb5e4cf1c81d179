package database

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/capliquify/capliquify-backend/pkg/config"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/metrics"
)

// schemaNameRe matches the schema names the provisioning path derives.
// Anything else is rejected before it can reach a search_path statement.
var schemaNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// SessionPool maintains a bounded set of schema-scoped database handles.
// Each tenant schema gets a lazily created handle whose connections carry
// search_path=<schema> as a connection parameter. Handles are refcounted:
// an entry with live checkouts is pinned and never evicted; when the pool
// is full, the least-recently-used idle entry is closed to make room.
//
// The isolation invariant: a session scoped to schema A never executes a
// statement intended for schema B. It is enforced twice - at the
// connection parameter, and again with SET LOCAL search_path at the start
// of every transaction, so a reused or recycled connection can never carry
// stale scope into a transaction.
type SessionPool struct {
	baseDSN     string
	maxSessions int
	idleTimeout time.Duration
	maxConns    int
	logger      *logger.Logger

	// open creates the handle for a schema; swapped out in tests.
	open func(schemaName string) (*sqlx.DB, error)

	mu      sync.Mutex
	entries map[string]*poolEntry
	closed  bool
	stop    chan struct{}
}

type poolEntry struct {
	schema   string
	db       *sqlx.DB
	refs     int
	lastUsed time.Time
}

// Session is a checked-out, schema-bound handle. Callers must Release it;
// the entry stays pinned in the pool until they do.
type Session struct {
	pool     *SessionPool
	entry    *poolEntry
	released bool
	relMu    sync.Mutex
}

// NewSessionPool creates a pool bound to the given database configuration.
func NewSessionPool(cfg *config.DatabaseConfig, log *logger.Logger) *SessionPool {
	maxSessions := cfg.MaxSchemaSessions
	if maxSessions <= 0 {
		maxSessions = 50
	}
	idleTimeout := cfg.SessionIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	maxConns := cfg.SessionMaxOpenConns
	if maxConns <= 0 {
		maxConns = 4
	}

	p := &SessionPool{
		baseDSN:     cfg.DSN(),
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
		maxConns:    maxConns,
		logger:      log.WithComponent("session-pool"),
		entries:     make(map[string]*poolEntry),
		stop:        make(chan struct{}),
	}
	p.open = p.openSchemaHandle

	go p.reapLoop()

	return p
}

// Acquire returns a session scoped to schemaName, creating one lazily if
// absent. Safe for concurrent use across many tenants. Fails when the pool
// is full and every entry is pinned.
func (p *SessionPool) Acquire(ctx context.Context, schemaName string) (*Session, error) {
	if err := ValidateSchemaName(schemaName); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.DataAccess(err, "session acquisition cancelled")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.DataAccess(nil, "session pool is closed")
	}

	if entry, ok := p.entries[schemaName]; ok {
		entry.refs++
		entry.lastUsed = time.Now()
		metrics.PoolHits.Inc()
		metrics.PoolCheckouts.Inc()
		return &Session{pool: p, entry: entry}, nil
	}

	if len(p.entries) >= p.maxSessions {
		if !p.evictIdleLocked() {
			return nil, errors.DataAccess(nil, "session pool exhausted: all sessions are in use")
		}
	}

	db, err := p.open(schemaName)
	if err != nil {
		return nil, errors.DataAccess(err, "failed to open schema session")
	}

	entry := &poolEntry{
		schema:   schemaName,
		db:       db,
		refs:     1,
		lastUsed: time.Now(),
	}
	p.entries[schemaName] = entry

	metrics.PoolMisses.Inc()
	metrics.PoolSessionsLive.Set(float64(len(p.entries)))
	metrics.PoolCheckouts.Inc()

	p.logger.Debug().Str("schema", schemaName).Int("live", len(p.entries)).Msg("schema session created")

	return &Session{pool: p, entry: entry}, nil
}

// openSchemaHandle opens a handle whose connections carry the schema as a
// search_path connection parameter. sqlx.Open is lazy, so no I/O happens
// under the pool lock.
func (p *SessionPool) openSchemaHandle(schemaName string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", p.baseDSN+" search_path="+schemaName)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(p.maxConns)
	db.SetMaxIdleConns(1)
	return db, nil
}

// evictIdleLocked removes the least-recently-used idle entry. Entries with
// live checkouts are pinned. Returns false if nothing was evictable.
// Caller must hold p.mu.
func (p *SessionPool) evictIdleLocked() bool {
	var victim *poolEntry
	for _, entry := range p.entries {
		if entry.refs > 0 {
			continue
		}
		if victim == nil || entry.lastUsed.Before(victim.lastUsed) {
			victim = entry
		}
	}
	if victim == nil {
		return false
	}

	delete(p.entries, victim.schema)
	metrics.PoolEvictions.Inc()
	metrics.PoolSessionsLive.Set(float64(len(p.entries)))

	// Closing waits for in-flight statements; the victim has refs == 0 so
	// nothing is checked out, and database/sql drains its own idle conns.
	go victim.db.Close()

	p.logger.Debug().Str("schema", victim.schema).Msg("idle schema session evicted")
	return true
}

// Schema returns the schema name this session is bound to.
func (s *Session) Schema() string {
	return s.entry.schema
}

// Release returns the session to the pool. Releasing twice is a no-op.
func (s *Session) Release() {
	s.relMu.Lock()
	defer s.relMu.Unlock()
	if s.released {
		return
	}
	s.released = true

	s.pool.mu.Lock()
	s.entry.refs--
	s.entry.lastUsed = time.Now()
	s.pool.mu.Unlock()

	metrics.PoolCheckouts.Dec()
}

// Execute runs a mutating statement against schemaName and returns the
// affected row count. The statement runs inside a scoped transaction.
func (p *SessionPool) Execute(ctx context.Context, schemaName, statement string, args ...interface{}) (int64, error) {
	var affected int64
	err := p.RunTransaction(ctx, schemaName, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, statement, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Query runs a read against schemaName and returns the result as an ordered,
// finite sequence of row maps. The sequence is not restartable - re-issue
// the query to re-read.
func (p *SessionPool) Query(ctx context.Context, schemaName, statement string, args ...interface{}) ([]map[string]interface{}, error) {
	var results []map[string]interface{}
	err := p.RunTransaction(ctx, schemaName, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, statement, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			row := make(map[string]interface{})
			if err := rows.MapScan(row); err != nil {
				return err
			}
			results = append(results, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RunTransaction executes fn atomically against schemaName. The schema
// scope is re-asserted with SET LOCAL inside the transaction, not only at
// session creation, so a pooled connection can never execute with stale
// scope. A failed or timed-out transaction is rolled back in full.
func (p *SessionPool) RunTransaction(ctx context.Context, schemaName string, fn func(*sqlx.Tx) error) error {
	session, err := p.Acquire(ctx, schemaName)
	if err != nil {
		return err
	}
	defer session.Release()

	tx, err := session.entry.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DataAccess(err, "failed to begin transaction")
	}

	// SET LOCAL is scoped to this transaction and cannot take bind
	// parameters; the schema name is validated against schemaNameRe and
	// quoted as an identifier.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", pq.QuoteIdentifier(schemaName))); err != nil {
		p.rollback(tx)
		return errors.DataAccess(err, "failed to set schema scope")
	}

	if err := fn(tx); err != nil {
		p.rollback(tx)
		if appErr := MapPQError(err); appErr != nil {
			return appErr
		}
		if _, ok := err.(*errors.AppError); ok {
			return err
		}
		return errors.DataAccess(err, "transaction failed")
	}

	if err := tx.Commit(); err != nil {
		return errors.DataAccess(err, "failed to commit transaction")
	}

	return nil
}

func (p *SessionPool) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil {
		p.logger.Error().Err(err).Msg("failed to rollback transaction")
	}
}

// Stats reports the current pool occupancy.
func (p *SessionPool) Stats() (live, checkedOut int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.entries {
		if entry.refs > 0 {
			checkedOut++
		}
	}
	return len(p.entries), checkedOut
}

// Close shuts down the reaper and closes every handle. In-use entries are
// closed too; Close is only called on process shutdown.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	metrics.PoolSessionsLive.Set(0)

	for _, entry := range entries {
		if err := entry.db.Close(); err != nil {
			p.logger.Warn().Err(err).Str("schema", entry.schema).Msg("failed to close schema session")
		}
	}
	return nil
}

func (p *SessionPool) reapLoop() {
	interval := p.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

// reapIdle closes entries that have sat idle past the timeout.
func (p *SessionPool) reapIdle() {
	cutoff := time.Now().Add(-p.idleTimeout)

	p.mu.Lock()
	var victims []*poolEntry
	for schema, entry := range p.entries {
		if entry.refs == 0 && entry.lastUsed.Before(cutoff) {
			delete(p.entries, schema)
			victims = append(victims, entry)
		}
	}
	metrics.PoolSessionsLive.Set(float64(len(p.entries)))
	p.mu.Unlock()

	for _, entry := range victims {
		metrics.PoolEvictions.Inc()
		if err := entry.db.Close(); err != nil {
			p.logger.Warn().Err(err).Str("schema", entry.schema).Msg("failed to close idle schema session")
		}
	}
}

// ValidateSchemaName rejects anything that could not have come from the
// provisioning path's schema derivation.
func ValidateSchemaName(schemaName string) error {
	if !schemaNameRe.MatchString(schemaName) {
		return errors.Validation(map[string]string{
			"schema": "invalid schema name",
		})
	}
	return nil
}
