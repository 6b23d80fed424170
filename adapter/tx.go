package adapter

import (
	"context"
	sqldriver "database/sql/driver"

	"go.uber.org/zap"

	"github.com/CaliLuke/go-sqlwrap/sqlerr"
	"github.com/CaliLuke/go-sqlwrap/trace"
)

// Tx is a transaction handle. After Commit or Rollback it is closed.
type Tx struct {
	conn *Conn
	tx   *ref[sqldriver.Tx]
}

var _ sqldriver.Tx = (*Tx)(nil)

// Tracer returns the trace component transaction diagnostics are written to.
func (t *Tx) Tracer() *trace.Component { return resTx.tc }

// Commit commits the vendor transaction.
func (t *Tx) Commit() error {
	return t.finish("commit", sqldriver.Tx.Commit)
}

// Rollback rolls the vendor transaction back.
func (t *Tx) Rollback() error {
	return t.finish("rollback", sqldriver.Tx.Rollback)
}

func (t *Tx) finish(op string, fn func(sqldriver.Tx) error) error {
	vtx, ok := t.tx.take()
	if !ok {
		return sqlerr.Closed(resTx.name, op)
	}
	t.conn.children.remove(t)
	_, o := t.conn.env.start(context.Background(), resTx, op)
	return o.end(t.conn.mapErr(resTx, op, fn(vtx)))
}

// closeChild rolls back a transaction still active when its connection closes.
func (t *Tx) closeChild() error {
	vtx, ok := t.tx.take()
	if !ok {
		return nil
	}
	resTx.tc.Info("rolling back transaction left open at connection close", zap.String("conn_id", t.conn.id))
	return t.conn.mapErr(resTx, "rollback", vtx.Rollback())
}

// Result reports the outcome of an exec.
type Result struct {
	conn *Conn
	res  sqldriver.Result
}

var _ sqldriver.Result = (*Result)(nil)

// LastInsertId returns the vendor's last insert id.
func (r *Result) LastInsertId() (int64, error) {
	id, err := r.res.LastInsertId()
	if err != nil {
		return 0, r.conn.mapErr(resResult, "lastInsertId", err)
	}
	return id, nil
}

// RowsAffected returns the number of rows changed by the exec.
func (r *Result) RowsAffected() (int64, error) {
	n, err := r.res.RowsAffected()
	if err != nil {
		return 0, r.conn.mapErr(resResult, "rowsAffected", err)
	}
	return n, nil
}
