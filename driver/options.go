package driver

// DefaultStatementCacheSize is the number of prepared statements kept per
// physical connection when no option overrides it.
const DefaultStatementCacheSize = 10

// Option configures a physical connection.
type Option func(*options)

type options struct {
	stmtCacheSize int
}

func defaultOptions() options {
	return options{stmtCacheSize: DefaultStatementCacheSize}
}

// WithStatementCache sets how many prepared statements are cached per
// connection. Zero or a negative size disables the cache.
func WithStatementCache(size int) Option {
	return func(o *options) {
		o.stmtCacheSize = size
	}
}
