package adapter

import (
	"context"
	sqldriver "database/sql/driver"

	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
	"github.com/CaliLuke/go-sqlwrap/trace"
)

// Stmt is a prepared statement handle. Closing it hands the vendor statement
// back to the connection's statement cache.
type Stmt struct {
	conn  *Conn
	phys  *driver.Conn
	query string
	si    *ref[sqldriver.Stmt]

	children family
}

var (
	_ sqldriver.Stmt              = (*Stmt)(nil)
	_ sqldriver.StmtExecContext   = (*Stmt)(nil)
	_ sqldriver.StmtQueryContext  = (*Stmt)(nil)
	_ sqldriver.NamedValueChecker = (*Stmt)(nil)
)

// Tracer returns the trace component statement diagnostics are written to.
func (s *Stmt) Tracer() *trace.Component { return resStmt.tc }

func (s *Stmt) delegate(op string) (sqldriver.Stmt, error) {
	si, ok := s.si.get()
	if !ok {
		return nil, sqlerr.Closed(resStmt.name, op)
	}
	return si, nil
}

// NumInput returns the vendor's placeholder count, or -1 when unknown or
// after Close.
func (s *Stmt) NumInput() int {
	si, ok := s.si.get()
	if !ok {
		return -1
	}
	return si.NumInput()
}

// Exec implements driver.Stmt.
//
// Deprecated: Use ExecContext.
func (s *Stmt) Exec(args []sqldriver.Value) (sqldriver.Result, error) {
	return s.ExecContext(context.Background(), driver.NamedValues(args))
}

// ExecContext executes the statement.
func (s *Stmt) ExecContext(ctx context.Context, args []sqldriver.NamedValue) (sqldriver.Result, error) {
	si, err := s.delegate("exec")
	if err != nil {
		return nil, err
	}
	ctx, o := s.conn.env.start(ctx, resStmt, "exec")
	res, err := driver.StmtExecContext(ctx, si, args)
	if err != nil {
		return nil, o.end(s.conn.mapErr(resStmt, "exec", err))
	}
	o.end(nil)
	return &Result{conn: s.conn, res: res}, nil
}

// Query implements driver.Stmt.
//
// Deprecated: Use QueryContext.
func (s *Stmt) Query(args []sqldriver.Value) (sqldriver.Rows, error) {
	return s.QueryContext(context.Background(), driver.NamedValues(args))
}

// QueryContext runs the statement. The rows are closed with the statement.
func (s *Stmt) QueryContext(ctx context.Context, args []sqldriver.NamedValue) (sqldriver.Rows, error) {
	si, err := s.delegate("query")
	if err != nil {
		return nil, err
	}
	ctx, o := s.conn.env.start(ctx, resStmt, "query")
	vrows, err := driver.StmtQueryContext(ctx, si, args)
	if err != nil {
		return nil, o.end(s.conn.mapErr(resStmt, "query", err))
	}
	o.end(nil)
	return newRows(s.conn, &s.children, vrows)
}

// CheckNamedValue defers to the vendor statement's checker when it has one.
func (s *Stmt) CheckNamedValue(nv *sqldriver.NamedValue) error {
	si, err := s.delegate("checkNamedValue")
	if err != nil {
		return err
	}
	if nvc, ok := si.(sqldriver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	return sqldriver.ErrSkip
}

// Close closes open rows and returns the vendor statement to the cache.
// Only the first call has an effect.
func (s *Stmt) Close() error {
	si, ok := s.si.take()
	if !ok {
		return nil
	}
	s.conn.children.remove(s)
	err := s.children.closeAll()
	if rerr := s.phys.Release(s.query, si); rerr != nil && err == nil {
		err = s.conn.mapErr(resStmt, "close", rerr)
	}
	return err
}

func (s *Stmt) closeChild() error { return s.Close() }
