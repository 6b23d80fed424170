// Package adapter wraps vendor database/sql drivers behind delegating handles.
//
// Every handle (Conn, Stmt, CallableStmt, Rows, Tx, Result) forwards to the
// vendor object it holds and translates the vendor's errors into
// *sqlerr.Error values that keep the vendor code and SQLSTATE. Closing a
// handle releases its vendor object exactly once; later calls on the handle
// return an error matching sqlerr.ErrClosed instead of reaching the vendor.
//
// Handles are obtained from a DataSource, which pools physical connections,
// or through database/sql:
//
//	ds, err := adapter.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer ds.Close()
//	db := ds.OpenDB()
//
// Register installs the package as a database/sql driver whose data source
// names have the form "vendor:dsn".
package adapter
