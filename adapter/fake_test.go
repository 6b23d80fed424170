package adapter

import (
	"context"
	sqldriver "database/sql/driver"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/CaliLuke/go-sqlwrap/config"
	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/metrics"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

// fakeError is a vendor error carrying a code and SQLSTATE.
type fakeError struct {
	code  int
	state string
	msg   string
}

func (e *fakeError) Error() string { return e.msg }

func fakeExtract(err error) (sqlerr.Detail, bool) {
	var fe *fakeError
	if !errors.As(err, &fe) {
		return sqlerr.Detail{}, false
	}
	return sqlerr.Detail{Code: fe.code, State: fe.state, Message: fe.msg}, true
}

// fakeDriver is a legacy vendor: no context interfaces, no direct exec.
type fakeDriver struct {
	mu      sync.Mutex
	conns   []*fakeConn
	openErr error
}

func (d *fakeDriver) Open(name string) (sqldriver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDriver) opened() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

type fakeConn struct {
	closes   atomic.Int32
	prepares atomic.Int32

	mu    sync.Mutex
	err   error
	stmts []*fakeStmt
	txs   []*fakeTx
}

// failWith makes every following vendor call on the connection fail with err.
func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *fakeConn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Prepare(query string) (sqldriver.Stmt, error) {
	if err := c.failure(); err != nil {
		return nil, err
	}
	c.prepares.Add(1)
	s := &fakeStmt{conn: c, query: query}
	c.mu.Lock()
	c.stmts = append(c.stmts, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *fakeConn) Begin() (sqldriver.Tx, error) {
	if err := c.failure(); err != nil {
		return nil, err
	}
	tx := &fakeTx{conn: c}
	c.mu.Lock()
	c.txs = append(c.txs, tx)
	c.mu.Unlock()
	return tx, nil
}

type fakeStmt struct {
	conn   *fakeConn
	query  string
	closes atomic.Int32
	rows   []*fakeRows
}

func (s *fakeStmt) Close() error  { s.closes.Add(1); return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []sqldriver.Value) (sqldriver.Result, error) {
	if err := s.conn.failure(); err != nil {
		return nil, err
	}
	return sqldriver.RowsAffected(len(args)), nil
}

func (s *fakeStmt) Query(args []sqldriver.Value) (sqldriver.Rows, error) {
	if err := s.conn.failure(); err != nil {
		return nil, err
	}
	r := &fakeRows{conn: s.conn, data: [][]sqldriver.Value{{int64(1)}, {int64(2)}}}
	s.rows = append(s.rows, r)
	return r, nil
}

type fakeRows struct {
	conn   *fakeConn
	data   [][]sqldriver.Value
	closes atomic.Int32
}

func (r *fakeRows) Columns() []string { return []string{"n"} }
func (r *fakeRows) Close() error      { r.closes.Add(1); return nil }

func (r *fakeRows) Next(dest []sqldriver.Value) error {
	if err := r.conn.failure(); err != nil {
		return err
	}
	if len(r.data) == 0 {
		return io.EOF
	}
	copy(dest, r.data[0])
	r.data = r.data[1:]
	return nil
}

type fakeTx struct {
	conn      *fakeConn
	commits   atomic.Int32
	rollbacks atomic.Int32
}

func (t *fakeTx) Commit() error {
	if err := t.conn.failure(); err != nil {
		return err
	}
	t.commits.Add(1)
	return nil
}

func (t *fakeTx) Rollback() error {
	t.rollbacks.Add(1)
	return nil
}

// fixture is a DataSource over the fake vendor with tracing and metrics
// captured for assertions.
type fixture struct {
	ds       *DataSource
	drv      *fakeDriver
	spans    *tracetest.SpanRecorder
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	f := &fixture{
		drv:      &fakeDriver{},
		spans:    tracetest.NewSpanRecorder(),
		registry: prometheus.NewRegistry(),
	}
	var err error
	f.metrics, err = metrics.New(f.registry, "")
	require.NoError(t, err)

	cfg := config.Config{
		DSN: "fake",
		Pool: config.PoolConfig{
			MaxSize:     2,
			WaitTimeout: 50 * time.Millisecond,
		},
		StatementCacheSize: 4,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	v := &driver.Vendor{Name: "fake", Driver: f.drv, Extract: fakeExtract}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	f.ds, err = New(context.Background(), cfg,
		WithVendor(v),
		WithTracerProvider(tp),
		WithMetrics(f.metrics))
	require.NoError(t, err)
	t.Cleanup(func() { f.ds.Close() })
	return f
}

// conn returns a logical connection and the fake vendor connection behind it.
func (f *fixture) conn(t *testing.T) (*Conn, *fakeConn) {
	t.Helper()
	c, err := f.ds.Conn(context.Background())
	require.NoError(t, err)
	phys, ok := c.phys.get()
	require.True(t, ok)
	raw, err := phys.Raw()
	require.NoError(t, err)
	return c, raw.(*fakeConn)
}

// spanNames returns the names of the ended spans.
func (f *fixture) spanNames() []string {
	var names []string
	for _, s := range f.spans.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func requireClosed(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, sqlerr.ErrClosed)
	e, ok := sqlerr.As(err)
	require.True(t, ok, "expected *sqlerr.Error, got %T", err)
	require.Equal(t, sqlerr.KindClosed, e.Kind())
}

// counter returns the value of the counter series name whose labels include
// every pair in labels, or 0 when there is none.
func (f *fixture) counter(t *testing.T, name string, labels ...string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabels(m, labels) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func hasLabels(m *dto.Metric, labels []string) bool {
	for i := 0; i+1 < len(labels); i += 2 {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
