package adapter

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	platform "github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaliLuke/go-sqlwrap/config"
	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
	"github.com/CaliLuke/go-sqlwrap/trace"
)

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	_, err := New(ctx, cfg)
	require.Error(t, err)
	assert.Equal(t, platform.CodeInvalidConfig, platform.GetCode(err))

	cfg.DSN = "x"
	cfg.Vendor = "nosuch"
	_, err = New(ctx, cfg)
	require.Error(t, err)
}

func TestDataSource_PoolTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Pool.MaxSize = 1 })
	c, _ := f.conn(t)
	defer c.Close()

	_, err := f.ds.Conn(ctx)
	require.Error(t, err)
	e, ok := sqlerr.As(err)
	require.True(t, ok)
	assert.Equal(t, sqlerr.StateTimeout, e.SQLState())
	assert.Equal(t, sqlerr.CategoryTimeout, e.Category())
	assert.True(t, platform.IsRetryable(err))
	assert.Equal(t, int64(1), f.ds.Stats().Timeouts)
}

func TestDataSource_Cancelled(t *testing.T) {
	f := newFixture(t)
	cctx, cancel := context.WithCancel(ctx)
	cancel()

	_, err := f.ds.Conn(cctx)
	assert.True(t, errors.Is(err, context.Canceled))
	_, ok := sqlerr.As(err)
	assert.False(t, ok, "context errors pass untranslated")
}

func TestDataSource_Closed(t *testing.T) {
	f := newFixture(t)
	c, vc := f.conn(t)

	require.NoError(t, f.ds.Close())
	require.NoError(t, f.ds.Close())

	_, err := f.ds.Conn(ctx)
	requireClosed(t, err)
	e, _ := sqlerr.As(err)
	assert.Equal(t, "data source", e.Resource())
	assert.Equal(t, sqlerr.StateConnectionDoesNotExist, e.SQLState())

	// Handed out connections stay usable and are closed when returned.
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), vc.closes.Load())
}

func TestDataSource_OpenFailure(t *testing.T) {
	f := newFixture(t)

	f.drv.openErr = &fakeError{code: 1045, state: "28000", msg: "access denied"}
	_, err := f.ds.Conn(ctx)
	e, ok := sqlerr.As(err)
	require.True(t, ok)
	assert.Equal(t, 1045, e.VendorCode())
	assert.Equal(t, "28000", e.SQLState())
	assert.Equal(t, platform.CodeUnauthorized, platform.GetCode(err))

	f.drv.openErr = errors.New("network unreachable")
	_, err = f.ds.Conn(ctx)
	e, ok = sqlerr.As(err)
	require.True(t, ok)
	assert.Equal(t, sqlerr.StateUnableToConnect, e.SQLState())
	assert.Equal(t, sqlerr.CategoryStaleConnection, e.Category())

	var oe *driver.OpenError
	assert.True(t, errors.As(err, &oe))
	assert.Equal(t, 0, f.ds.Stats().Total, "failed opens are not counted")
}

func TestDataSource_ConcurrentConns(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Pool.WaitTimeout = 0 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.ds.Conn(ctx)
			if !assert.NoError(t, err) {
				return
			}
			s, err := c.PrepareContext(ctx, "SELECT n FROM t")
			if assert.NoError(t, err) {
				assert.NoError(t, s.Close())
			}
			assert.NoError(t, c.Close())
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, len(f.drv.opened()), 2)
	assert.Equal(t, 0, f.ds.Stats().InUse)
}

func TestDataSource_PoolGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := config.Default()
	cfg.DSN = filepath.Join(t.TempDir(), "gauges.db")
	cfg.Pool.MinSize = 1
	cfg.Pool.IdleTimeout = 0
	cfg.Metrics = true
	ds, err := New(ctx, cfg, WithRegisterer(reg))
	require.NoError(t, err)
	defer ds.Close()

	n, err := testutil.GatherAndCount(reg, "sqlwrap_pool_available_connections", "sqlwrap_pool_total_connections")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, err := ds.Conn(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Close())

	n, err = testutil.GatherAndCount(reg, "sqlwrap_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "getConnection and ping recorded")
}

func TestDataSource_MetricsPerDataSource(t *testing.T) {
	reg := prometheus.NewRegistry()
	open := func(name string) *DataSource {
		t.Helper()
		cfg := config.Default()
		cfg.DSN = filepath.Join(t.TempDir(), "m.db")
		cfg.Pool.MinSize = 1
		cfg.Pool.IdleTimeout = 0
		cfg.Metrics = true
		cfg.Name = name
		ds, err := New(ctx, cfg, WithRegisterer(reg))
		require.NoError(t, err)
		return ds
	}

	first := open("")
	second := open("")
	defer second.Close()
	n, err := testutil.GatherAndCount(reg, "sqlwrap_pool_total_connections")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one gauge per data source")

	require.NoError(t, first.Close())
	n, err = testutil.GatherAndCount(reg, "sqlwrap_pool_total_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "gauges of a closed data source are removed")

	named := open("orders")
	require.NoError(t, named.Close())
	open("orders").Close()
}

func TestDataSource_MetricsReleasedOnOpenFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	drv := &fakeDriver{openErr: errors.New("refused")}
	v := &driver.Vendor{Name: "fake", Driver: drv, Extract: fakeExtract}
	cfg := config.Config{
		DSN:     "fake",
		Name:    "retry",
		Metrics: true,
		Pool:    config.PoolConfig{MinSize: 1, MaxSize: 1},
	}

	_, err := New(ctx, cfg, WithVendor(v), WithRegisterer(reg))
	require.Error(t, err)

	drv.openErr = nil
	ds, err := New(ctx, cfg, WithVendor(v), WithRegisterer(reg))
	require.NoError(t, err, "a failed New leaves nothing registered")
	ds.Close()
}

func TestDataSource_TraceLevelsKept(t *testing.T) {
	t.Cleanup(func() { _ = trace.SetSpecification("") })

	sqliteSource(t, func(cfg *config.Config) { cfg.Trace = "*=info:adapter=debug" })
	require.True(t, resConn.tc.IsDebugEnabled())

	sqliteSource(t)
	assert.True(t, resConn.tc.IsDebugEnabled(), "an unconfigured data source leaves trace levels alone")
}

func TestOpenDB_SQLite(t *testing.T) {
	ds := sqliteSource(t)
	db := ds.OpenDB()
	defer db.Close()

	_, err := db.ExecContext(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT UNIQUE, tags BLOB)")
	require.NoError(t, err)
	res, err := db.ExecContext(ctx, "INSERT INTO users (name, tags) VALUES (?, ?)", "ada", Array{"admin", int64(7)})
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	var (
		upper string
		tags  Array
	)
	require.NoError(t, db.QueryRowContext(ctx, "SELECT {fn ucase(name)}, tags FROM users WHERE id = ?", id).Scan(&upper, &tags))
	assert.Equal(t, "ADA", upper)
	assert.Equal(t, Array{"admin", int64(7)}, tags)

	_, err = db.ExecContext(ctx, "INSERT INTO users (name) VALUES (?)", "ada")
	require.Error(t, err)
	e, ok := sqlerr.As(err)
	require.True(t, ok, "expected *sqlerr.Error, got %T", err)
	assert.Equal(t, sqlerr.CategoryDuplicateKey, e.Category())
	assert.Equal(t, sqlerr.StateUniqueViolation, e.SQLState())
	assert.NotZero(t, e.VendorCode())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO users (name) VALUES (?)", "grace")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM users").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpenDB_RawCallable(t *testing.T) {
	ds := sqliteSource(t)
	db := ds.OpenDB()
	defer db.Close()

	sc, err := db.Conn(ctx)
	require.NoError(t, err)
	defer sc.Close()

	err = sc.Raw(func(dc any) error {
		cs, err := dc.(*Conn).PrepareCall("{? = call length(?)}")
		if err != nil {
			return err
		}
		defer cs.Close()
		if err := cs.RegisterOut(1, TypeInteger); err != nil {
			return err
		}
		if err := cs.Execute(ctx, "hello"); err != nil {
			return err
		}
		n, err := cs.GetInt32(1)
		if err != nil {
			return err
		}
		assert.Equal(t, int32(5), n)
		return nil
	})
	require.NoError(t, err)
}

var registerOnce sync.Once

func TestDriver_Register(t *testing.T) {
	registerOnce.Do(func() { Register("sqlwrap-test") })
	path := filepath.Join(t.TempDir(), "driver.db")

	db, err := sql.Open("sqlwrap-test", "sqlite:"+path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.PingContext(ctx))
	var v string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT {fn lcase(?)}", "ABC").Scan(&v))
	assert.Equal(t, "abc", v)

	_, err = db.ExecContext(ctx, "SELEC 1")
	assert.Equal(t, sqlerr.StateSyntaxError, sqlerr.State(err))
}

func TestDriver_BadName(t *testing.T) {
	d := NewDriver()
	_, err := d.OpenConnector("no-vendor-prefix")
	require.Error(t, err)
	e, _ := sqlerr.As(err)
	assert.Equal(t, sqlerr.KindUsage, e.Kind())

	_, err = d.OpenConnector("nosuch:dsn")
	require.Error(t, err)
}

func TestDriver_WithVendor(t *testing.T) {
	drv := &fakeDriver{}
	d := NewDriver(WithVendor(&driver.Vendor{Name: "fake", Driver: drv, Extract: fakeExtract}))

	c, err := d.Open("whatever:the dsn is")
	require.NoError(t, err)
	require.Len(t, drv.opened(), 1)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), drv.opened()[0].closes.Load(), "unpooled close closes the vendor connection once")

	_, err = c.Prepare("SELECT 1")
	requireClosed(t, err)
}
