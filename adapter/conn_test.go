package adapter

import (
	"context"
	sqldriver "database/sql/driver"
	"errors"
	"io"
	"runtime"
	"testing"
	"time"

	platform "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/CaliLuke/go-sqlwrap/config"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

var ctx = context.Background()

func TestConn_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())

	stats := f.ds.Stats()
	assert.Equal(t, 1, stats.Available, "physical connection goes back to the pool")
	assert.Equal(t, int32(0), vc.closes.Load(), "logical close keeps the physical connection open")
}

func TestConn_UseAfterClose(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)
	require.NoError(t, c.Close())

	_, err := c.PrepareContext(ctx, "SELECT 1")
	requireClosed(t, err)
	_, err = c.BeginTx(ctx, sqldriver.TxOptions{})
	requireClosed(t, err)
	_, err = c.ExecContext(ctx, "DELETE FROM t", nil)
	requireClosed(t, err)
	_, err = c.QueryContext(ctx, "SELECT 1", nil)
	requireClosed(t, err)
	_, err = c.NativeSQL("SELECT 1")
	requireClosed(t, err)
	_, err = c.PrepareCall("{call p(?)}")
	requireClosed(t, err)
	requireClosed(t, c.Ping(ctx))
	requireClosed(t, c.CheckNamedValue(&sqldriver.NamedValue{Ordinal: 1, Value: int64(1)}))

	assert.Equal(t, sqldriver.ErrBadConn, c.ResetSession(ctx))
	assert.False(t, c.IsValid())
	assert.Equal(t, int32(0), vc.prepares.Load(), "vendor must not be reached after close")

	e, _ := sqlerr.As(c.Ping(ctx))
	assert.Equal(t, sqlerr.StateConnectionDoesNotExist, e.SQLState())
	assert.Equal(t, "connection", e.Resource())
	assert.Equal(t, "ping", e.Op())
}

func TestStmt_CloseReturnsToCache(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)
	defer c.Close()

	s, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	vs := vc.stmts[0]
	assert.Equal(t, int32(0), vs.closes.Load(), "cached statement stays open")

	s2, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, int32(1), vc.prepares.Load(), "second prepare is served from the cache")
	assert.Equal(t, 1.0, f.counter(t, "sqlwrap_statement_cache_total", "result", "hit"))
	assert.Equal(t, 1.0, f.counter(t, "sqlwrap_statement_cache_total", "result", "miss"))
}

func TestStmt_CloseWithoutCache(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.StatementCacheSize = 0 })
	c, vc := f.conn(t)
	defer c.Close()

	s, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, int32(1), vc.stmts[0].closes.Load(), "vendor statement closed exactly once")
	assert.Equal(t, 0.0, f.counter(t, "sqlwrap_statement_cache_total"), "no cache lookups when disabled")
}

func TestStmt_UseAfterClose(t *testing.T) {
	f := newFixture(t)
	c, _ := f.conn(t)
	defer c.Close()

	si, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)
	s := si.(*Stmt)
	require.NoError(t, s.Close())

	_, err = s.ExecContext(ctx, nil)
	requireClosed(t, err)
	_, err = s.QueryContext(ctx, nil)
	requireClosed(t, err)
	_, err = s.Exec(nil) //nolint:staticcheck
	requireClosed(t, err)
	requireClosed(t, s.CheckNamedValue(&sqldriver.NamedValue{}))
	assert.Equal(t, -1, s.NumInput())

	e, _ := sqlerr.As(s.CheckNamedValue(&sqldriver.NamedValue{}))
	assert.Equal(t, sqlerr.StateFunctionSequence, e.SQLState())
	assert.Equal(t, sqlerr.CategoryObjectClosed, e.Category())
}

func TestRows_EOFPassesThrough(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)
	defer c.Close()

	si, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)
	defer si.Close()
	rows, err := si.(*Stmt).QueryContext(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"n"}, rows.Columns())
	dest := make([]sqldriver.Value, 1)
	require.NoError(t, rows.Next(dest))
	assert.Equal(t, int64(1), dest[0])
	require.NoError(t, rows.Next(dest))
	assert.Equal(t, int64(2), dest[0])
	assert.True(t, rows.Next(dest) == io.EOF, "io.EOF must not be wrapped")
	assert.Equal(t, io.EOF, rows.(*Rows).NextResultSet())

	require.NoError(t, rows.Close())
	require.NoError(t, rows.Close())
	assert.Equal(t, int32(1), vc.stmts[0].rows[0].closes.Load())
	assert.Nil(t, rows.Columns())
	requireClosed(t, rows.Next(dest))
}

func TestConn_CascadeClose(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)

	si, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)
	rows, err := si.(*Stmt).QueryContext(ctx, nil)
	require.NoError(t, err)
	tx, err := c.BeginTx(ctx, sqldriver.TxOptions{})
	require.NoError(t, err)
	call, err := c.PrepareCall("{call p(?)}")
	require.NoError(t, err)

	require.NoError(t, c.Close())

	_, err = si.(*Stmt).ExecContext(ctx, nil)
	requireClosed(t, err)
	requireClosed(t, rows.Next(make([]sqldriver.Value, 1)))
	requireClosed(t, tx.Commit())
	assert.Equal(t, -1, call.NumParams())
	requireClosed(t, call.Execute(ctx, 1))

	assert.Equal(t, int32(1), vc.txs[0].rollbacks.Load(), "open transaction rolled back")
	assert.Equal(t, int32(1), vc.stmts[0].rows[0].closes.Load())

	// Closing the children again does not reach the vendor.
	require.NoError(t, si.Close())
	require.NoError(t, rows.Close())
	require.NoError(t, call.Close())
	assert.Equal(t, int32(1), vc.stmts[0].rows[0].closes.Load())
	assert.Equal(t, 0, c.children.len())
}

func TestConn_VendorErrorPreserved(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)
	defer c.Close()

	si, err := c.PrepareContext(ctx, "INSERT INTO t VALUES (?)")
	require.NoError(t, err)
	defer si.Close()

	vendorErr := &fakeError{code: 1062, state: "23505", msg: "duplicate key"}
	vc.failWith(vendorErr)
	_, err = si.(*Stmt).ExecContext(ctx, []sqldriver.NamedValue{{Ordinal: 1, Value: int64(1)}})
	require.Error(t, err)

	e, ok := sqlerr.As(err)
	require.True(t, ok)
	assert.Equal(t, sqlerr.KindVendor, e.Kind())
	assert.Equal(t, 1062, e.VendorCode())
	assert.Equal(t, "23505", e.SQLState())
	assert.Equal(t, "duplicate key", e.Message())
	assert.Equal(t, sqlerr.CategoryDuplicateKey, e.Category())
	assert.Equal(t, "statement", e.Resource())
	assert.Equal(t, "exec", e.Op())

	var fe *fakeError
	require.True(t, errors.As(err, &fe), "vendor error reachable through Unwrap")
	assert.Same(t, vendorErr, fe)
	assert.Equal(t, platform.CodeAlreadyExists, platform.GetCode(err))

	phys, _ := c.phys.get()
	assert.False(t, phys.IsStale(), "integrity errors do not poison the connection")
	assert.Equal(t, 1.0, f.counter(t, "sqlwrap_errors_total", "class", "23", "category", "DUPLICATE_KEY"))
}

func TestConn_StaleConnectionDiscarded(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)

	si, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)

	vc.failWith(&fakeError{code: 57, state: "08006", msg: "connection reset"})
	_, err = si.(*Stmt).QueryContext(ctx, nil)
	require.Error(t, err)
	assert.True(t, sqlerr.IsStale(err))
	assert.True(t, platform.IsRetryable(err))
	assert.False(t, c.IsValid())
	assert.Equal(t, sqldriver.ErrBadConn, c.ResetSession(ctx))

	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), vc.closes.Load(), "stale connection closed instead of pooled")
	assert.Equal(t, int32(1), vc.stmts[0].closes.Load(), "statement of a stale connection is not cached")
	assert.Equal(t, int64(1), f.ds.Stats().Discarded)
	assert.Equal(t, 1.0, f.counter(t, "sqlwrap_stale_connections_total"))

	c2, vc2 := f.conn(t)
	defer c2.Close()
	assert.NotSame(t, vc, vc2)
	assert.Len(t, f.drv.opened(), 2)
}

func TestConn_DirectExecSkipped(t *testing.T) {
	f := newFixture(t)
	c, _ := f.conn(t)
	defer c.Close()

	_, err := c.ExecContext(ctx, "DELETE FROM t", nil)
	assert.True(t, err == sqldriver.ErrSkip, "ErrSkip must pass unchanged, got %v", err)
	_, err = c.QueryContext(ctx, "SELECT 1", nil)
	assert.True(t, err == sqldriver.ErrSkip, "ErrSkip must pass unchanged, got %v", err)
	assert.Equal(t, 0.0, f.counter(t, "sqlwrap_errors_total"))
	assert.Equal(t, sqldriver.ErrSkip, c.CheckNamedValue(&sqldriver.NamedValue{Ordinal: 1, Value: "x"}))
}

func TestConn_BeginTxUnsupportedOptions(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)
	defer c.Close()

	_, err := c.BeginTx(ctx, sqldriver.TxOptions{Isolation: sqldriver.IsolationLevel(6)})
	require.ErrorIs(t, err, sqlerr.ErrNotSupported)
	assert.Equal(t, sqlerr.StateFeatureNotSupported, sqlerr.State(err))

	_, err = c.BeginTx(ctx, sqldriver.TxOptions{ReadOnly: true})
	require.ErrorIs(t, err, sqlerr.ErrNotSupported)
	assert.Empty(t, vc.txs)
}

func TestTx_FinishOnce(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)
	defer c.Close()

	tx, err := c.BeginTx(ctx, sqldriver.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	requireClosed(t, tx.Commit())
	requireClosed(t, tx.Rollback())

	assert.Equal(t, int32(1), vc.txs[0].commits.Load())
	assert.Equal(t, int32(0), vc.txs[0].rollbacks.Load())
	assert.Equal(t, 0, c.children.len())
}

func TestTx_CommitFailure(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)
	defer c.Close()

	tx, err := c.BeginTx(ctx, sqldriver.TxOptions{})
	require.NoError(t, err)
	vc.failWith(&fakeError{code: 40001, state: "40001", msg: "serialization failure"})

	err = tx.Commit()
	e, ok := sqlerr.As(err)
	require.True(t, ok)
	assert.Equal(t, "transaction", e.Resource())
	assert.Equal(t, sqlerr.CategoryTransactionRollback, e.Category())
	assert.True(t, platform.IsRetryable(err))
}

func TestConn_NativeSQL(t *testing.T) {
	f := newFixture(t)
	c, _ := f.conn(t)
	defer c.Close()

	native, err := c.NativeSQL("SELECT {fn ucase(name)} FROM t")
	require.NoError(t, err)
	assert.Equal(t, "SELECT upper(name) FROM t", native)

	_, err = c.NativeSQL("SELECT {fn ucase(name) FROM t")
	e, ok := sqlerr.As(err)
	require.True(t, ok)
	assert.Equal(t, sqlerr.KindUsage, e.Kind())
	assert.Equal(t, sqlerr.StateSyntaxError, e.SQLState())
}

func TestConn_Spans(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)
	defer c.Close()

	si, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)
	defer si.Close()
	vc.failWith(&fakeError{code: 1, state: "42P01", msg: "no such table"})
	_, err = si.(*Stmt).ExecContext(ctx, nil)
	require.Error(t, err)

	assert.Contains(t, f.spanNames(), "data source getConnection")
	assert.Contains(t, f.spanNames(), "connection prepare")

	ended := f.spans.Ended()
	last := ended[len(ended)-1]
	assert.Equal(t, "statement exec", last.Name())
	assert.Equal(t, codes.Error, last.Status().Code)
	assert.Contains(t, last.Attributes(), attribute.String("db.system", "fake"))
	assert.Contains(t, last.Attributes(), attribute.String("db.sql_state", "42P01"))
}

func TestConn_LeakReturnsPhysicalConnection(t *testing.T) {
	f := newFixture(t)
	func() {
		_, err := f.ds.Conn(ctx)
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return f.ds.Stats().Available == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, f.counter(t, "sqlwrap_leaked_connections_total"))
}

func TestTracers(t *testing.T) {
	f := newFixture(t)
	c, _ := f.conn(t)
	defer c.Close()

	si, err := c.PrepareContext(ctx, "SELECT 1")
	require.NoError(t, err)
	defer si.Close()
	tx, err := c.BeginTx(ctx, sqldriver.TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback()

	assert.Equal(t, "adapter.datasource", f.ds.Tracer().Name())
	assert.Equal(t, "adapter.conn", c.Tracer().Name())
	assert.Equal(t, "adapter.stmt", si.(*Stmt).Tracer().Name())
	assert.Equal(t, "adapter.tx", tx.(*Tx).Tracer().Name())
}

func TestRows_ColumnTypesWithoutVendorSupport(t *testing.T) {
	f := newFixture(t)
	c, _ := f.conn(t)
	defer c.Close()

	si, err := c.PrepareContext(ctx, "SELECT n FROM t")
	require.NoError(t, err)
	defer si.Close()
	ri, err := si.(*Stmt).QueryContext(ctx, nil)
	require.NoError(t, err)
	rows := ri.(*Rows)
	defer rows.Close()

	assert.Equal(t, "", rows.ColumnTypeDatabaseTypeName(0))
	assert.Equal(t, anyType, rows.ColumnTypeScanType(0))
	_, ok := rows.ColumnTypeNullable(0)
	assert.False(t, ok)
	_, ok = rows.ColumnTypeLength(0)
	assert.False(t, ok)
	_, _, ok = rows.ColumnTypePrecisionScale(0)
	assert.False(t, ok)
}
