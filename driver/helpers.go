package driver

import (
	"context"
	"database/sql/driver"
	"errors"
)

// The helpers below call the context-aware vendor interface when the vendor
// implements it. Otherwise they check ctx and fall back to the legacy call.

// PrepareContext prepares query on conn.
func PrepareContext(ctx context.Context, conn driver.Conn, query string) (driver.Stmt, error) {
	if pc, ok := conn.(driver.ConnPrepareContext); ok {
		return pc.PrepareContext(ctx, query)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	si, err := conn.Prepare(query)
	if err == nil {
		select {
		default:
		case <-ctx.Done():
			si.Close()
			return nil, ctx.Err()
		}
	}
	return si, err
}

// ExecContext runs query directly on conn. It returns driver.ErrSkip when
// the vendor has no direct execution path and the statement must be prepared.
func ExecContext(ctx context.Context, conn driver.Conn, query string, args []driver.NamedValue) (driver.Result, error) {
	if ec, ok := conn.(driver.ExecerContext); ok {
		return ec.ExecContext(ctx, query, args)
	}
	if e, ok := conn.(driver.Execer); ok { //nolint:staticcheck
		values, err := namedValueToValue(args)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return e.Exec(query, values)
	}
	return nil, driver.ErrSkip
}

// QueryContext runs query directly on conn. It returns driver.ErrSkip when
// the vendor has no direct query path.
func QueryContext(ctx context.Context, conn driver.Conn, query string, args []driver.NamedValue) (driver.Rows, error) {
	if qc, ok := conn.(driver.QueryerContext); ok {
		return qc.QueryContext(ctx, query, args)
	}
	if q, ok := conn.(driver.Queryer); ok { //nolint:staticcheck
		values, err := namedValueToValue(args)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return q.Query(query, values)
	}
	return nil, driver.ErrSkip
}

// StmtExecContext executes a prepared vendor statement.
func StmtExecContext(ctx context.Context, si driver.Stmt, args []driver.NamedValue) (driver.Result, error) {
	if sc, ok := si.(driver.StmtExecContext); ok {
		return sc.ExecContext(ctx, args)
	}
	values, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return si.Exec(values) //nolint:staticcheck
}

// StmtQueryContext queries through a prepared vendor statement.
func StmtQueryContext(ctx context.Context, si driver.Stmt, args []driver.NamedValue) (driver.Rows, error) {
	if sc, ok := si.(driver.StmtQueryContext); ok {
		return sc.QueryContext(ctx, args)
	}
	values, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return si.Query(values) //nolint:staticcheck
}

// Ping checks the vendor connection. Vendors without Pinger are assumed alive.
func Ping(ctx context.Context, conn driver.Conn) error {
	if p, ok := conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return ctx.Err()
}

// NamedValues converts positional legacy arguments to named values.
func NamedValues(args []driver.Value) []driver.NamedValue {
	nv := make([]driver.NamedValue, len(args))
	for i, v := range args {
		nv[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return nv
}

var errNamedArgs = errors.New("driver: vendor does not support the use of Named Parameters")

func namedValueToValue(named []driver.NamedValue) ([]driver.Value, error) {
	dargs := make([]driver.Value, len(named))
	for n, param := range named {
		if len(param.Name) > 0 {
			return nil, errNamedArgs
		}
		dargs[n] = param.Value
	}
	return dargs, nil
}
