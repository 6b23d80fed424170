package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/CaliLuke/go-sqlwrap/config"
	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/metrics"
	"github.com/CaliLuke/go-sqlwrap/pool"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
	"github.com/CaliLuke/go-sqlwrap/trace"
)

// Option configures a DataSource or Driver.
type Option func(*options)

type options struct {
	metrics    *metrics.Metrics
	registerer prometheus.Registerer
	provider   oteltrace.TracerProvider
	logger     *zap.Logger
	vendor     *driver.Vendor
}

// WithMetrics records operations in m instead of creating collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRegisterer registers the collectors created for config.Config.Metrics
// with reg instead of the default Prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracerProvider creates spans from tp instead of the global provider.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(o *options) { o.provider = tp }
}

// WithLogger installs l as the logger of every trace component. Trace
// components are process-wide, so l also receives the diagnostics of data
// sources created earlier.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVendor uses v instead of looking up config.Config.Vendor. v does not
// need to be registered.
func WithVendor(v *driver.Vendor) Option {
	return func(o *options) { o.vendor = v }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// dataSourceSeq numbers data sources whose metrics need a generated name.
var dataSourceSeq atomic.Int64

// newEnv resolves the vendor and sets up logging, metrics and tracing.
// cfg.Trace, when set, replaces the process-wide trace levels.
func newEnv(cfg config.Config, o options) (*env, error) {
	if o.logger != nil {
		trace.SetLogger(o.logger)
	}
	if cfg.Trace != "" {
		if err := trace.SetSpecification(cfg.Trace); err != nil {
			return nil, err
		}
	}

	v := o.vendor
	if v == nil {
		var err error
		if v, err = driver.Lookup(cfg.Vendor); err != nil {
			return nil, err
		}
	}

	m, own := o.metrics, false
	if m == nil && cfg.Metrics {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", v.Name, dataSourceSeq.Add(1))
		}
		var err error
		if m, err = metrics.New(o.registerer, name); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		own = true
	}

	tp := o.provider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &env{
		vendor:       v,
		metrics:      m,
		ownMetrics:   own,
		tracer:       tp.Tracer(instrumentationName),
		cacheEnabled: cfg.StatementCacheSize > 0,
	}, nil
}

// DataSource hands out logical connections backed by a pool of physical
// vendor connections.
type DataSource struct {
	cfg  config.Config
	env  *env
	pool *pool.Pool[*driver.Conn]

	mu     sync.Mutex
	closed bool
}

// New creates a DataSource and pre-warms its pool with cfg.Pool.MinSize
// connections.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*DataSource, error) {
	o := buildOptions(opts)
	if o.vendor == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	e, err := newEnv(cfg, o)
	if err != nil {
		return nil, err
	}

	ds := &DataSource{cfg: cfg, env: e}
	factory := func(ctx context.Context) (*driver.Conn, error) {
		return driver.Open(ctx, e.vendor, cfg.DSN, driver.WithStatementCache(cfg.StatementCacheSize))
	}
	ds.pool, err = pool.New(ctx, cfg.PoolConfig(), factory)
	if err != nil {
		e.releaseMetrics()
		return nil, e.mapOpen("open", err)
	}

	if err := e.metrics.RegisterPool(ds.pool.Stats); err != nil {
		resDataSource.tc.Warn("pool gauges not registered", zap.Error(err))
	}
	resDataSource.tc.Info("data source started",
		zap.String("vendor", e.vendor.Name),
		zap.Int("min_size", cfg.Pool.MinSize),
		zap.Int("max_size", cfg.Pool.MaxSize),
		zap.Int("statement_cache_size", cfg.StatementCacheSize))
	return ds, nil
}

// releaseMetrics unregisters what this env registered: everything when it
// created the collectors, only the pool gauges when they came from WithMetrics.
func (e *env) releaseMetrics() {
	if e.ownMetrics {
		e.metrics.Unregister()
		return
	}
	e.metrics.UnregisterPool()
}

// mapOpen translates pool and connect failures.
func (e *env) mapOpen(op string, err error) error {
	var oe *driver.OpenError
	switch {
	case errors.Is(err, pool.ErrPoolClosed):
		return sqlerr.Closed(resDataSource.name, op)
	case errors.Is(err, pool.ErrPoolTimeout):
		return sqlerr.New(resDataSource.name, op, sqlerr.Detail{State: sqlerr.StateTimeout, Message: err.Error()}, err)
	case sqlerr.IsSentinel(err):
		return err
	case errors.As(err, &oe):
		d, ok := sqlerr.Detail{}, false
		if e.vendor.Extract != nil {
			d, ok = e.vendor.Extract(oe.Err)
		}
		if !ok || d.State == "" || d.State == sqlerr.StateGeneral {
			d.State = sqlerr.StateUnableToConnect
		}
		if d.Message == "" {
			d.Message = oe.Err.Error()
		}
		return sqlerr.New(resDataSource.name, op, d, err)
	}
	return sqlerr.Mapper{Tracer: resDataSource.tc, Resource: resDataSource.name, Extract: e.vendor.Extract}.Map(op, err)
}

// Tracer returns the trace component data source diagnostics are written to.
func (ds *DataSource) Tracer() *trace.Component { return resDataSource.tc }

// Conn returns a logical connection. It waits up to the pool's wait timeout
// when every physical connection is in use.
func (ds *DataSource) Conn(ctx context.Context) (*Conn, error) {
	ctx, o := ds.env.start(ctx, resDataSource, "getConnection")
	phys, err := ds.pool.Get(ctx)
	if err != nil {
		return nil, o.end(ds.env.mapOpen("getConnection", err))
	}
	o.end(nil)
	phys.Touch()
	if resDataSource.tc.IsDebugEnabled() {
		resDataSource.tc.Debug("getConnection", "connection handed out",
			zap.String("conn_id", phys.ID()),
			zap.Int("cached_statements", phys.CachedStatements()))
	}
	return newConn(ds.env, phys, ds.pool.Put), nil
}

// OpenDB returns a *sql.DB whose connections come from ds. The *sql.DB
// keeps at most cfg.Pool.MaxSize connections open.
func (ds *DataSource) OpenDB() *sql.DB {
	db := sql.OpenDB(&Connector{ds: ds})
	if ds.cfg.Pool.MaxSize > 0 {
		db.SetMaxOpenConns(ds.cfg.Pool.MaxSize)
		db.SetMaxIdleConns(ds.cfg.Pool.MaxSize)
	}
	return db
}

// Stats returns the pool statistics.
func (ds *DataSource) Stats() pool.Stats {
	return ds.pool.Stats()
}

// Close closes the pool. Connections still handed out are closed when they
// are returned. Only the first call has an effect.
func (ds *DataSource) Close() error {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil
	}
	ds.closed = true
	ds.mu.Unlock()

	ds.pool.Close()
	ds.env.releaseMetrics()
	resDataSource.tc.Info("data source closed", zap.String("vendor", ds.env.vendor.Name))
	return nil
}
