package adapter

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"strings"

	"github.com/CaliLuke/go-sqlwrap/config"
	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

// Driver is a database/sql driver over the registered vendors. Data source
// names have the form "vendor:dsn", for example "sqlite:file.db" or
// "postgres:postgres://localhost/app". With WithVendor the whole name is
// the vendor DSN.
//
// Connections opened through Driver are not pooled by this package: closing
// one closes the physical connection, and database/sql does the pooling.
// Use DataSource.OpenDB for a pool with statement caching across handles.
type Driver struct {
	opts []Option
}

var (
	_ sqldriver.Driver        = (*Driver)(nil)
	_ sqldriver.DriverContext = (*Driver)(nil)
)

// NewDriver returns a Driver configured with opts.
func NewDriver(opts ...Option) *Driver {
	return &Driver{opts: opts}
}

// Register makes a Driver available to sql.Open under name. Like
// sql.Register it panics if name is already taken.
func Register(name string, opts ...Option) {
	sql.Register(name, NewDriver(opts...))
}

// Open opens a single connection.
func (d *Driver) Open(name string) (sqldriver.Conn, error) {
	c, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses name once for all connections of a *sql.DB.
func (d *Driver) OpenConnector(name string) (sqldriver.Connector, error) {
	o := buildOptions(d.opts)
	cfg := config.Config{DSN: name, StatementCacheSize: driver.DefaultStatementCacheSize}
	if o.vendor == nil {
		vendor, dsn, ok := strings.Cut(name, ":")
		if !ok || vendor == "" {
			return nil, sqlerr.Usage(resDataSource.name, "open", sqlerr.StateUnableToConnect,
				"data source name must have the form vendor:dsn")
		}
		cfg.Vendor, cfg.DSN = vendor, dsn
	}
	e, err := newEnv(cfg, o)
	if err != nil {
		return nil, sqlerr.Usage(resDataSource.name, "open", sqlerr.StateUnableToConnect, err.Error())
	}
	return &Connector{driver: d, env: e, dsn: cfg.DSN, cacheSize: cfg.StatementCacheSize}, nil
}

// Connector opens logical connections for database/sql. It is returned by
// Driver.OpenConnector and used by DataSource.OpenDB.
type Connector struct {
	driver    *Driver
	ds        *DataSource
	env       *env
	dsn       string
	cacheSize int
}

var _ sqldriver.Connector = (*Connector)(nil)

// Connect returns a logical connection, from the DataSource pool when the
// connector belongs to one.
func (c *Connector) Connect(ctx context.Context) (sqldriver.Conn, error) {
	if c.ds != nil {
		conn, err := c.ds.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	ctx, o := c.env.start(ctx, resDataSource, "getConnection")
	phys, err := driver.Open(ctx, c.env.vendor, c.dsn, driver.WithStatementCache(c.cacheSize))
	if err != nil {
		return nil, o.end(c.env.mapOpen("getConnection", err))
	}
	o.end(nil)
	return newConn(c.env, phys, closePhysical), nil
}

// Driver returns the Driver the connector belongs to.
func (c *Connector) Driver() sqldriver.Driver {
	if c.driver == nil {
		return &Driver{opts: []Option{WithVendor(c.ds.env.vendor)}}
	}
	return c.driver
}

func closePhysical(phys *driver.Conn) {
	if err := phys.Close(); err != nil {
		resConn.tc.Warn("closing physical connection failed: " + err.Error())
	}
}
