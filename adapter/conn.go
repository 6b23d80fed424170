package adapter

import (
	"context"
	sqldriver "database/sql/driver"
	"errors"
	"runtime"

	"go.uber.org/zap"

	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/escape"
	"github.com/CaliLuke/go-sqlwrap/metrics"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
	"github.com/CaliLuke/go-sqlwrap/trace"
)

// Conn is a logical connection handle over a physical vendor connection.
//
// Conn implements the database/sql/driver connection interfaces, so it can be
// used through database/sql (see DataSource.OpenDB) or directly. Statements,
// rows, transactions and callable statements created from it are closed when
// it is closed. Every operation on a closed Conn returns a *sqlerr.Error that
// matches sqlerr.ErrClosed.
type Conn struct {
	env     *env
	id      string
	phys    *ref[*driver.Conn]
	release func(*driver.Conn)

	children family
	guard    *leakGuard
}

var (
	_ sqldriver.Conn               = (*Conn)(nil)
	_ sqldriver.ConnPrepareContext = (*Conn)(nil)
	_ sqldriver.ConnBeginTx        = (*Conn)(nil)
	_ sqldriver.ExecerContext      = (*Conn)(nil)
	_ sqldriver.QueryerContext     = (*Conn)(nil)
	_ sqldriver.Pinger             = (*Conn)(nil)
	_ sqldriver.SessionResetter    = (*Conn)(nil)
	_ sqldriver.Validator          = (*Conn)(nil)
	_ sqldriver.NamedValueChecker  = (*Conn)(nil)
)

// leakGuard returns the physical connection of a Conn that was garbage
// collected without Close. It does not reference the Conn, so the finalizer
// runs even though the Conn and its children reference each other.
type leakGuard struct {
	id      string
	vendor  string
	phys    *driver.Conn
	release func(*driver.Conn)
	metrics *metrics.Metrics
}

func (g *leakGuard) finalize() {
	resConn.tc.Warn("connection handle was garbage collected without being closed (possible connection leak)",
		zap.String("conn_id", g.id),
		zap.String("vendor", g.vendor))
	g.metrics.Leak()
	g.release(g.phys)
}

func newConn(e *env, phys *driver.Conn, release func(*driver.Conn)) *Conn {
	c := &Conn{
		env:     e,
		id:      phys.ID(),
		phys:    newRef(phys),
		release: release,
	}
	c.guard = &leakGuard{id: c.id, vendor: e.vendor.Name, phys: phys, release: release, metrics: e.metrics}
	runtime.SetFinalizer(c.guard, (*leakGuard).finalize)
	return c
}

// ID returns the id of the physical connection behind the handle.
func (c *Conn) ID() string { return c.id }

// Tracer returns the trace component connection diagnostics are written to.
func (c *Conn) Tracer() *trace.Component { return resConn.tc }

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	_, ok := c.phys.get()
	return !ok
}

// delegate returns the physical and vendor connections, or the closed error.
func (c *Conn) delegate(op string) (*driver.Conn, sqldriver.Conn, error) {
	phys, ok := c.phys.get()
	if !ok {
		return nil, nil, sqlerr.Closed(resConn.name, op)
	}
	raw, err := phys.Raw()
	if err != nil {
		return nil, nil, sqlerr.Closed(resConn.name, op)
	}
	return phys, raw, nil
}

// mapErr translates a vendor error raised by a wrapper created from c.
// Connection errors mark the physical connection stale.
func (c *Conn) mapErr(res resource, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrNotConnected) {
		return sqlerr.Closed(res.name, op)
	}
	mapped := sqlerr.Mapper{Tracer: res.tc, Resource: res.name, Extract: c.env.vendor.Extract}.Map(op, err)
	if sqlerr.IsStale(mapped) {
		c.markStale(res, op, mapped)
	}
	return mapped
}

func (c *Conn) markStale(res resource, op string, err error) {
	phys, ok := c.phys.get()
	if !ok || phys.IsStale() {
		return
	}
	phys.MarkStale()
	c.env.metrics.StaleConnection()
	resConn.tc.Warn("connection error event, physical connection will be discarded",
		zap.String("conn_id", c.id),
		zap.String("resource", res.name),
		zap.String("op", op),
		zap.Error(err))
}

// native translates escape syntax for the vendor.
func (c *Conn) native(res resource, op, query string) (string, error) {
	phys, ok := c.phys.get()
	if !ok {
		return "", sqlerr.Closed(res.name, op)
	}
	native, err := phys.NativeSQL(query)
	if err != nil {
		return "", escapeErr(res, op, err)
	}
	return native, nil
}

func escapeErr(res resource, op string, err error) error {
	var ee *escape.Error
	if !errors.As(err, &ee) {
		return sqlerr.Usage(res.name, op, sqlerr.StateSyntaxError, err.Error())
	}
	if sqlerr.Class(ee.State) == "22" {
		return sqlerr.Conversion(res.name, op, ee.State, ee)
	}
	return sqlerr.Usage(res.name, op, ee.State, ee.Error())
}

// NativeSQL returns query with escape syntax translated for the vendor.
func (c *Conn) NativeSQL(query string) (string, error) {
	return c.native(resConn, "nativeSQL", query)
}

// Prepare implements driver.Conn.
func (c *Conn) Prepare(query string) (sqldriver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext translates escape syntax and prepares the statement,
// reusing a cached vendor statement when one is available.
func (c *Conn) PrepareContext(ctx context.Context, query string) (sqldriver.Stmt, error) {
	phys, _, err := c.delegate("prepare")
	if err != nil {
		return nil, err
	}
	native, err := c.native(resConn, "prepare", query)
	if err != nil {
		return nil, err
	}

	ctx, o := c.env.start(ctx, resConn, "prepare")
	si, cached, err := phys.Prepare(ctx, native)
	if err != nil {
		return nil, o.end(c.mapErr(resConn, "prepare", err))
	}
	o.end(nil)
	if c.env.cacheEnabled {
		c.env.metrics.CacheLookup(cached)
	}
	if resStmt.tc.IsDebugEnabled() {
		resStmt.tc.Debug("prepare", "statement prepared",
			zap.String("conn_id", c.id),
			zap.String("sql", native),
			zap.Bool("cached", cached))
	}

	s := &Stmt{conn: c, phys: phys, query: native, si: newRef(si)}
	if !c.children.add(s) {
		s.Close()
		return nil, sqlerr.Closed(resConn.name, "prepare")
	}
	return s, nil
}

// PrepareCall parses a {call} or {? = call} escape and returns a callable
// statement for it.
func (c *Conn) PrepareCall(query string) (*CallableStmt, error) {
	resCall.tc.Entry("prepareCall", zap.String("sql", query))
	defer resCall.tc.Exit("prepareCall")

	phys, _, err := c.delegate("prepareCall")
	if err != nil {
		return nil, err
	}
	call, err := escape.ParseCall(query)
	if err != nil {
		return nil, escapeErr(resCall, "prepareCall", err)
	}

	cs := newCallable(c, phys, call, query)
	if !c.children.add(cs) {
		cs.Close()
		return nil, sqlerr.Closed(resConn.name, "prepareCall")
	}
	return cs, nil
}

// Begin implements driver.Conn.
//
// Deprecated: Use BeginTx.
func (c *Conn) Begin() (sqldriver.Tx, error) {
	return c.BeginTx(context.Background(), sqldriver.TxOptions{})
}

// BeginTx starts a vendor transaction. Options the vendor cannot honour
// return an error matching sqlerr.ErrNotSupported.
func (c *Conn) BeginTx(ctx context.Context, opts sqldriver.TxOptions) (sqldriver.Tx, error) {
	_, raw, err := c.delegate("begin")
	if err != nil {
		return nil, err
	}

	ctx, o := c.env.start(ctx, resConn, "begin")
	vtx, err := driver.BeginTx(ctx, raw, driver.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly})
	switch {
	case errors.Is(err, driver.ErrIsolationLevel):
		return nil, o.end(sqlerr.Unsupported(resConn.name, "begin", "isolation level"))
	case errors.Is(err, driver.ErrReadOnly):
		return nil, o.end(sqlerr.Unsupported(resConn.name, "begin", "read-only transactions"))
	case err != nil:
		return nil, o.end(c.mapErr(resConn, "begin", err))
	}
	o.end(nil)

	tx := &Tx{conn: c, tx: newRef(vtx)}
	if !c.children.add(tx) {
		vtx.Rollback()
		return nil, sqlerr.Closed(resConn.name, "begin")
	}
	return tx, nil
}

// ExecContext executes query without preparing it. It returns
// driver.ErrSkip when the vendor has no direct execution path.
func (c *Conn) ExecContext(ctx context.Context, query string, args []sqldriver.NamedValue) (sqldriver.Result, error) {
	_, raw, err := c.delegate("exec")
	if err != nil {
		return nil, err
	}
	native, err := c.native(resConn, "exec", query)
	if err != nil {
		return nil, err
	}

	ctx, o := c.env.start(ctx, resConn, "exec")
	res, err := driver.ExecContext(ctx, raw, native, args)
	if err != nil {
		return nil, o.end(c.mapErr(resConn, "exec", err))
	}
	o.end(nil)
	return &Result{conn: c, res: res}, nil
}

// QueryContext runs query without preparing it. It returns driver.ErrSkip
// when the vendor has no direct query path.
func (c *Conn) QueryContext(ctx context.Context, query string, args []sqldriver.NamedValue) (sqldriver.Rows, error) {
	_, raw, err := c.delegate("query")
	if err != nil {
		return nil, err
	}
	native, err := c.native(resConn, "query", query)
	if err != nil {
		return nil, err
	}

	ctx, o := c.env.start(ctx, resConn, "query")
	vrows, err := driver.QueryContext(ctx, raw, native, args)
	if err != nil {
		return nil, o.end(c.mapErr(resConn, "query", err))
	}
	o.end(nil)
	return newRows(c, &c.children, vrows)
}

// Ping checks the vendor connection.
func (c *Conn) Ping(ctx context.Context) error {
	_, raw, err := c.delegate("ping")
	if err != nil {
		return err
	}
	ctx, o := c.env.start(ctx, resConn, "ping")
	return o.end(c.mapErr(resConn, "ping", driver.Ping(ctx, raw)))
}

// ResetSession is called by database/sql before the connection is reused.
// Closed or stale connections report driver.ErrBadConn so they are discarded.
func (c *Conn) ResetSession(ctx context.Context) error {
	phys, raw, err := c.delegate("resetSession")
	if err != nil || !phys.IsOpen() {
		return sqldriver.ErrBadConn
	}
	phys.Touch()
	if sr, ok := raw.(sqldriver.SessionResetter); ok {
		return c.mapErr(resConn, "resetSession", sr.ResetSession(ctx))
	}
	return nil
}

// IsValid reports whether the connection may be reused.
func (c *Conn) IsValid() bool {
	phys, raw, err := c.delegate("isValid")
	if err != nil || !phys.IsOpen() {
		return false
	}
	if v, ok := raw.(sqldriver.Validator); ok {
		return v.IsValid()
	}
	return true
}

// CheckNamedValue defers to the vendor's checker, or to the database/sql
// default conversion when the vendor has none.
func (c *Conn) CheckNamedValue(nv *sqldriver.NamedValue) error {
	_, raw, err := c.delegate("checkNamedValue")
	if err != nil {
		return err
	}
	if nvc, ok := raw.(sqldriver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	return sqldriver.ErrSkip
}

// Close closes the statements, rows, transactions and callable statements
// created from c and returns the physical connection. Only the first call
// has an effect.
func (c *Conn) Close() error {
	phys, ok := c.phys.take()
	if !ok {
		return nil
	}
	resConn.tc.Entry("close", zap.String("conn_id", c.id))
	defer resConn.tc.Exit("close")

	runtime.SetFinalizer(c.guard, nil)
	err := c.children.closeAll()
	c.release(phys)
	return err
}
