package adapter

import (
	sqldriver "database/sql/driver"
	"io"
	"reflect"

	"github.com/CaliLuke/go-sqlwrap/sqlerr"
	"github.com/CaliLuke/go-sqlwrap/trace"
)

// Rows is a result set handle. Next returns io.EOF untranslated at the end
// of the rows, as database/sql expects.
type Rows struct {
	conn   *Conn
	parent *family
	ri     *ref[sqldriver.Rows]
}

var (
	_ sqldriver.Rows                           = (*Rows)(nil)
	_ sqldriver.RowsNextResultSet              = (*Rows)(nil)
	_ sqldriver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
	_ sqldriver.RowsColumnTypeNullable         = (*Rows)(nil)
	_ sqldriver.RowsColumnTypeScanType         = (*Rows)(nil)
	_ sqldriver.RowsColumnTypeLength           = (*Rows)(nil)
	_ sqldriver.RowsColumnTypePrecisionScale   = (*Rows)(nil)
)

var anyType = reflect.TypeOf(new(any)).Elem()

func newRows(c *Conn, parent *family, vrows sqldriver.Rows) (*Rows, error) {
	r := &Rows{conn: c, parent: parent, ri: newRef(vrows)}
	if !parent.add(r) {
		vrows.Close()
		return nil, sqlerr.Closed(resRows.name, "open")
	}
	return r, nil
}

// Tracer returns the trace component result set diagnostics are written to.
func (r *Rows) Tracer() *trace.Component { return resRows.tc }

// Columns returns the column names, or nil after Close.
func (r *Rows) Columns() []string {
	ri, ok := r.ri.get()
	if !ok {
		return nil
	}
	return ri.Columns()
}

// Next reads the next row into dest.
func (r *Rows) Next(dest []sqldriver.Value) error {
	ri, ok := r.ri.get()
	if !ok {
		return sqlerr.Closed(resRows.name, "next")
	}
	return r.conn.mapErr(resRows, "next", ri.Next(dest))
}

// HasNextResultSet reports whether another result set follows.
func (r *Rows) HasNextResultSet() bool {
	ri, ok := r.ri.get()
	if !ok {
		return false
	}
	if nrs, ok := ri.(sqldriver.RowsNextResultSet); ok {
		return nrs.HasNextResultSet()
	}
	return false
}

// NextResultSet advances to the next result set, returning io.EOF when
// there is none.
func (r *Rows) NextResultSet() error {
	ri, ok := r.ri.get()
	if !ok {
		return sqlerr.Closed(resRows.name, "nextResultSet")
	}
	if nrs, ok := ri.(sqldriver.RowsNextResultSet); ok {
		return r.conn.mapErr(resRows, "nextResultSet", nrs.NextResultSet())
	}
	return io.EOF
}

// ColumnTypeDatabaseTypeName returns the vendor's type name for column index,
// or "" when the vendor does not report one or the rows are closed.
func (r *Rows) ColumnTypeDatabaseTypeName(index int) string {
	ri, _ := r.ri.get()
	if ct, ok := ri.(sqldriver.RowsColumnTypeDatabaseTypeName); ok {
		return ct.ColumnTypeDatabaseTypeName(index)
	}
	return ""
}

// ColumnTypeNullable reports whether column index may be NULL; ok is false
// when the vendor does not know.
func (r *Rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	ri, _ := r.ri.get()
	if ct, ok := ri.(sqldriver.RowsColumnTypeNullable); ok {
		return ct.ColumnTypeNullable(index)
	}
	return false, false
}

// ColumnTypeScanType returns the Go type suited for scanning column index,
// falling back to the empty interface.
func (r *Rows) ColumnTypeScanType(index int) reflect.Type {
	ri, _ := r.ri.get()
	if ct, ok := ri.(sqldriver.RowsColumnTypeScanType); ok {
		return ct.ColumnTypeScanType(index)
	}
	return anyType
}

// ColumnTypeLength returns the length of a variable length column.
func (r *Rows) ColumnTypeLength(index int) (length int64, ok bool) {
	ri, _ := r.ri.get()
	if ct, ok := ri.(sqldriver.RowsColumnTypeLength); ok {
		return ct.ColumnTypeLength(index)
	}
	return 0, false
}

// ColumnTypePrecisionScale returns the precision and scale of a decimal column.
func (r *Rows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	ri, _ := r.ri.get()
	if ct, ok := ri.(sqldriver.RowsColumnTypePrecisionScale); ok {
		return ct.ColumnTypePrecisionScale(index)
	}
	return 0, 0, false
}

// Close closes the vendor rows. Only the first call has an effect.
func (r *Rows) Close() error {
	ri, ok := r.ri.take()
	if !ok {
		return nil
	}
	r.parent.remove(r)
	return r.conn.mapErr(resRows, "close", ri.Close())
}

func (r *Rows) closeChild() error { return r.Close() }
