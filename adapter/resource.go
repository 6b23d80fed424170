package adapter

import (
	"errors"
	"sync"

	"github.com/CaliLuke/go-sqlwrap/trace"
)

// resource names a wrapper type in errors, metrics and spans, and carries
// the trace component it logs through.
type resource struct {
	name string
	tc   *trace.Component
}

var (
	resDataSource = resource{"data source", trace.Register("adapter.datasource")}
	resConn       = resource{"connection", trace.Register("adapter.conn")}
	resStmt       = resource{"statement", trace.Register("adapter.stmt")}
	resCall       = resource{"callable statement", trace.Register("adapter.callable")}
	resRows       = resource{"rows", trace.Register("adapter.rows")}
	resTx         = resource{"transaction", trace.Register("adapter.tx")}
	resResult     = resource{"result", resStmt.tc}
)

// ref is a nullable delegate. Once taken it never holds a value again.
type ref[T any] struct {
	mu  sync.Mutex
	v   T
	set bool
}

func newRef[T any](v T) *ref[T] {
	return &ref[T]{v: v, set: true}
}

// get returns the delegate, or false after take.
func (r *ref[T]) get() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v, r.set
}

// take clears the delegate and returns it. Only the first call reports true.
func (r *ref[T]) take() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.v, r.set
	var zero T
	r.v, r.set = zero, false
	return v, ok
}

// child is a wrapper closed together with the wrapper that created it.
type child interface {
	closeChild() error
}

// family tracks the open children of a wrapper.
type family struct {
	mu     sync.Mutex
	closed bool
	kids   map[child]struct{}
}

// add registers c. It reports false once the family was closed; the caller
// must then close c itself.
func (f *family) add(c child) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if f.kids == nil {
		f.kids = make(map[child]struct{})
	}
	f.kids[c] = struct{}{}
	return true
}

func (f *family) remove(c child) {
	f.mu.Lock()
	delete(f.kids, c)
	f.mu.Unlock()
}

func (f *family) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.kids)
}

// closeAll closes every child outside the lock and refuses new ones.
func (f *family) closeAll() error {
	f.mu.Lock()
	f.closed = true
	kids := make([]child, 0, len(f.kids))
	for c := range f.kids {
		kids = append(kids, c)
	}
	f.kids = nil
	f.mu.Unlock()

	var errs []error
	for _, c := range kids {
		if err := c.closeChild(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
