package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/logger"
)

type testPool struct {
	*SessionPool
	mu    sync.Mutex
	mocks map[string]sqlmock.Sqlmock
}

func (tp *testPool) mockFor(schema string) sqlmock.Sqlmock {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.mocks[schema]
}

// newTestPool builds a pool whose schema handles are sqlmock databases.
// The reaper is not started; reapIdle is exercised directly.
func newTestPool(t *testing.T, maxSessions int) *testPool {
	t.Helper()

	tp := &testPool{mocks: make(map[string]sqlmock.Sqlmock)}
	p := &SessionPool{
		maxSessions: maxSessions,
		idleTimeout: time.Minute,
		logger:      logger.Nop(),
		entries:     make(map[string]*poolEntry),
		stop:        make(chan struct{}),
	}
	p.open = func(schemaName string) (*sqlx.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		require.NoError(t, err)
		mock.MatchExpectationsInOrder(true)
		tp.mu.Lock()
		tp.mocks[schemaName] = mock
		tp.mu.Unlock()
		return sqlx.NewDb(db, "sqlmock"), nil
	}
	tp.SessionPool = p
	return tp
}

func TestAcquireReusesSchemaSession(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)
	s2, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)

	assert.Same(t, s1.entry, s2.entry)
	assert.Equal(t, "tenant_acme", s1.Schema())

	live, checkedOut := pool.Stats()
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, checkedOut)
	assert.Equal(t, 2, s1.entry.refs)

	s1.Release()
	s2.Release()

	live, checkedOut = pool.Stats()
	assert.Equal(t, 1, live)
	assert.Equal(t, 0, checkedOut)
}

func TestAcquireRejectsInvalidSchemaNames(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	for _, name := range []string{
		"",
		"Tenant_Acme",
		"tenant-acme",
		"1tenant",
		`tenant"; DROP SCHEMA public`,
		"tenant acme",
	} {
		_, err := pool.Acquire(ctx, name)
		require.Error(t, err, "schema name %q should be rejected", name)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	}

	// Nothing should have been opened.
	live, _ := pool.Stats()
	assert.Equal(t, 0, live)
}

func TestAcquireFailsWhenAllSessionsPinned(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)
	defer s1.Release()

	_, err = pool.Acquire(ctx, "tenant_globex")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDataAccess))
	assert.Contains(t, err.Error(), "exhausted")
}

func TestAcquireEvictsLeastRecentlyUsedIdleSession(t *testing.T) {
	pool := newTestPool(t, 2)
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)
	s1.Release()

	s2, err := pool.Acquire(ctx, "tenant_globex")
	require.NoError(t, err)
	s2.Release()

	// tenant_acme was used least recently and is idle; it gets evicted.
	s3, err := pool.Acquire(ctx, "tenant_initech")
	require.NoError(t, err)
	defer s3.Release()

	pool.SessionPool.mu.Lock()
	_, acmeAlive := pool.entries["tenant_acme"]
	_, globexAlive := pool.entries["tenant_globex"]
	_, initechAlive := pool.entries["tenant_initech"]
	pool.SessionPool.mu.Unlock()

	assert.False(t, acmeAlive)
	assert.True(t, globexAlive)
	assert.True(t, initechAlive)
}

func TestEvictionSkipsPinnedSessions(t *testing.T) {
	pool := newTestPool(t, 2)
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)
	defer s1.Release()

	s2, err := pool.Acquire(ctx, "tenant_globex")
	require.NoError(t, err)
	s2.Release()

	// tenant_acme is older but pinned, so tenant_globex goes.
	s3, err := pool.Acquire(ctx, "tenant_initech")
	require.NoError(t, err)
	defer s3.Release()

	pool.SessionPool.mu.Lock()
	_, acmeAlive := pool.entries["tenant_acme"]
	_, globexAlive := pool.entries["tenant_globex"]
	pool.SessionPool.mu.Unlock()

	assert.True(t, acmeAlive)
	assert.False(t, globexAlive)
}

func TestReleaseIsIdempotent(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	s, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)

	s.Release()
	s.Release()

	_, checkedOut := pool.Stats()
	assert.Equal(t, 0, checkedOut)
	assert.Equal(t, 0, s.entry.refs)
}

func TestRunTransactionReassertsSchemaScope(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	// Prime the handle so the mock exists before expectations are set.
	s, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)
	s.Release()

	mock := pool.mockFor("tenant_acme")
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL search_path TO "tenant_acme"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE products SET name = \$1 WHERE id = \$2`).
		WithArgs("Widget", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, err := pool.Execute(ctx, "tenant_acme", "UPDATE products SET name = $1 WHERE id = $2", "Widget", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTransactionRollsBackOnError(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	s, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)
	s.Release()

	mock := pool.mockFor("tenant_acme")
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL search_path TO "tenant_acme"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM products`).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err = pool.Execute(ctx, "tenant_acme", "DELETE FROM products")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDataAccess))

	assert.NoError(t, mock.ExpectationsWereMet())

	// The session must be back in the pool, not leaked.
	_, checkedOut := pool.Stats()
	assert.Equal(t, 0, checkedOut)
}

func TestQueryReturnsOrderedRows(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	s, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)
	s.Release()

	mock := pool.mockFor("tenant_acme")
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL search_path TO "tenant_acme"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, name FROM products ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "Widget").
			AddRow(int64(2), "Gadget"))
	mock.ExpectCommit()

	rows, err := pool.Query(ctx, "tenant_acme", "SELECT id, name FROM products ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Widget", rows[0]["name"])
	assert.Equal(t, "Gadget", rows[1]["name"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConcurrentAcquireSingleSchema(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pool.Acquire(ctx, "tenant_acme")
			if assert.NoError(t, err) {
				s.Release()
			}
		}()
	}
	wg.Wait()

	live, checkedOut := pool.Stats()
	assert.Equal(t, 1, live)
	assert.Equal(t, 0, checkedOut)
}

func TestConcurrentAcquireManySchemas(t *testing.T) {
	pool := newTestPool(t, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		schema := fmt.Sprintf("tenant_%d", i)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := pool.Acquire(ctx, schema)
				if assert.NoError(t, err) {
					s.Release()
				}
			}()
		}
	}
	wg.Wait()

	live, checkedOut := pool.Stats()
	assert.Equal(t, 20, live)
	assert.Equal(t, 0, checkedOut)
}

func TestReapIdleClosesStaleSessions(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, "tenant_stale")
	require.NoError(t, err)
	s1.Release()

	s2, err := pool.Acquire(ctx, "tenant_busy")
	require.NoError(t, err)
	defer s2.Release()

	pool.SessionPool.mu.Lock()
	pool.entries["tenant_stale"].lastUsed = time.Now().Add(-2 * time.Minute)
	pool.entries["tenant_busy"].lastUsed = time.Now().Add(-2 * time.Minute)
	pool.SessionPool.mu.Unlock()

	pool.reapIdle()

	pool.SessionPool.mu.Lock()
	_, staleAlive := pool.entries["tenant_stale"]
	_, busyAlive := pool.entries["tenant_busy"]
	pool.SessionPool.mu.Unlock()

	assert.False(t, staleAlive, "idle session past timeout should be reaped")
	assert.True(t, busyAlive, "pinned session must survive the reaper")
}

func TestCloseShutsDownPool(t *testing.T) {
	pool := newTestPool(t, 10)
	ctx := context.Background()

	s, err := pool.Acquire(ctx, "tenant_acme")
	require.NoError(t, err)
	s.Release()

	require.NoError(t, pool.SessionPool.Close())

	_, err = pool.Acquire(ctx, "tenant_acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	// Close twice is safe.
	require.NoError(t, pool.SessionPool.Close())
}

func TestValidateSchemaName(t *testing.T) {
	assert.NoError(t, ValidateSchemaName("tenant_acme"))
	assert.NoError(t, ValidateSchemaName("tenant_acme_corp_2"))
	assert.NoError(t, ValidateSchemaName("_internal"))
	assert.Error(t, ValidateSchemaName("public; --"))
	assert.Error(t, ValidateSchemaName("TENANT"))
}
