package driver

import (
	"context"
	"database/sql/driver"
)

// TxOptions configures a vendor transaction.
type TxOptions struct {
	// Isolation is the database/sql isolation level (0 is the vendor default).
	Isolation driver.IsolationLevel
	// ReadOnly requests a read-only transaction.
	ReadOnly bool
}

// BeginTx starts a vendor transaction. Vendors without ConnBeginTx only
// support the default isolation level in read-write mode.
func BeginTx(ctx context.Context, conn driver.Conn, opts TxOptions) (driver.Tx, error) {
	if ciCtx, ok := conn.(driver.ConnBeginTx); ok {
		return ciCtx.BeginTx(ctx, driver.TxOptions(opts))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Isolation != 0 {
		return nil, ErrIsolationLevel
	}
	if opts.ReadOnly {
		return nil, ErrReadOnly
	}
	tx, err := conn.Begin() //nolint:staticcheck
	if err == nil {
		select {
		default:
		case <-ctx.Done():
			tx.Rollback()
			return nil, ctx.Err()
		}
	}
	return tx, err
}
