package driver

import (
	"context"
	"database/sql/driver"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"

	"github.com/CaliLuke/go-sqlwrap/escape"
)

// Conn is a physical vendor connection. It is the delegate holder shared by
// the wrapper handles: the vendor reference becomes nil on Close and stays nil.
type Conn struct {
	id      string
	vendor  *Vendor
	created time.Time

	mu       sync.Mutex
	raw      driver.Conn
	stale    bool
	lastUsed time.Time
	stmts    *lru.Cache // nil when statement caching is disabled
}

// cachedStmt is a statement cache entry. Entries taken out for use are
// removed from the cache without closing the statement.
type cachedStmt struct {
	stmt  driver.Stmt
	taken bool
}

// Open opens a physical connection to dsn through vendor v.
func Open(ctx context.Context, v *Vendor, dsn string, opts ...Option) (*Conn, error) {
	if v == nil {
		return nil, ErrUnknownVendor
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := connect(ctx, v, dsn)
	if err != nil {
		return nil, &OpenError{Vendor: v.Name, Err: err}
	}

	now := time.Now()
	c := &Conn{
		id:       uuid.NewString(),
		vendor:   v,
		created:  now,
		raw:      raw,
		lastUsed: now,
	}
	if o.stmtCacheSize > 0 {
		c.stmts = lru.New(o.stmtCacheSize)
		c.stmts.OnEvicted = func(_ lru.Key, value interface{}) {
			if cs := value.(*cachedStmt); !cs.taken {
				cs.stmt.Close()
			}
		}
	}
	return c, nil
}

func connect(ctx context.Context, v *Vendor, dsn string) (driver.Conn, error) {
	if dc, ok := v.Driver.(driver.DriverContext); ok {
		connector, err := dc.OpenConnector(dsn)
		if err != nil {
			return nil, err
		}
		return connector.Connect(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.Driver.Open(dsn)
}

// ID returns the unique id assigned when the connection was opened.
func (c *Conn) ID() string { return c.id }

// Vendor returns the vendor the connection delegates to.
func (c *Conn) Vendor() *Vendor { return c.vendor }

// CreatedAt returns when the connection was opened.
func (c *Conn) CreatedAt() time.Time { return c.created }

// LastUsed returns when the connection was last handed out or touched.
func (c *Conn) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// Touch records use of the connection.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// IsOpen reports whether the connection is usable: not closed and not stale.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw != nil && !c.stale
}

// IsStale reports whether the connection was marked stale.
func (c *Conn) IsStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// MarkStale flags the connection as broken so the pool discards it instead
// of handing it out again.
func (c *Conn) MarkStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// Raw returns the vendor connection, or ErrNotConnected after Close.
func (c *Conn) Raw() (driver.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw == nil {
		return nil, ErrNotConnected
	}
	return c.raw, nil
}

// NativeSQL translates escape syntax in query into the vendor dialect.
func (c *Conn) NativeSQL(query string) (string, error) {
	return escape.Translate(query, c.vendor.dialect())
}

// Prepare returns a prepared vendor statement for query, taking it from the
// statement cache when possible. cached reports whether the statement came
// from the cache. The statement must be handed back with Release.
func (c *Conn) Prepare(ctx context.Context, query string) (stmt driver.Stmt, cached bool, err error) {
	c.mu.Lock()
	raw := c.raw
	if raw == nil {
		c.mu.Unlock()
		return nil, false, ErrNotConnected
	}
	if c.stmts != nil {
		if v, ok := c.stmts.Get(query); ok {
			cs := v.(*cachedStmt)
			cs.taken = true
			c.stmts.Remove(query)
			c.mu.Unlock()
			return cs.stmt, true, nil
		}
	}
	c.mu.Unlock()

	stmt, err = PrepareContext(ctx, raw, query)
	if err != nil {
		return nil, false, err
	}
	return stmt, false, nil
}

// Release hands a statement obtained from Prepare back to the connection.
// The statement is cached for reuse when the connection is healthy and no
// statement for the same query is cached yet; otherwise it is closed.
func (c *Conn) Release(query string, stmt driver.Stmt) error {
	if stmt == nil {
		return nil
	}
	c.mu.Lock()
	if c.raw == nil || c.stale || c.stmts == nil {
		c.mu.Unlock()
		return stmt.Close()
	}
	if _, ok := c.stmts.Get(query); ok {
		c.mu.Unlock()
		return stmt.Close()
	}
	c.stmts.Add(query, &cachedStmt{stmt: stmt})
	c.mu.Unlock()
	return nil
}

// CachedStatements returns the number of statements in the cache.
func (c *Conn) CachedStatements() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stmts == nil {
		return 0
	}
	return c.stmts.Len()
}

// Close closes the cached statements and the vendor connection. Later calls
// return nil without touching the vendor.
func (c *Conn) Close() error {
	c.mu.Lock()
	raw := c.raw
	if raw == nil {
		c.mu.Unlock()
		return nil
	}
	c.raw = nil
	if c.stmts != nil {
		c.stmts.Clear()
	}
	c.mu.Unlock()
	return raw.Close()
}
