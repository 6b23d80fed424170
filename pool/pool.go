// Package pool provides a generic pool of physical connections.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Conn is the part of a physical connection the pool relies on.
type Conn interface {
	// IsOpen reports whether the connection can be handed out again.
	IsOpen() bool
	Close() error
}

// Config specifies connection pool behavior.
type Config struct {
	// MinSize is the minimum number of connections to maintain (0 = no minimum).
	MinSize int
	// MaxSize is the maximum number of connections allowed (0 = unlimited).
	MaxSize int
	// IdleTimeout is the duration after which idle connections are closed (0 = never expire).
	IdleTimeout time.Duration
	// WaitTimeout is the maximum time to wait for an available connection (0 = no timeout).
	WaitTimeout time.Duration
}

// DefaultConfig returns a reasonable default pool configuration.
func DefaultConfig() Config {
	return Config{
		MinSize:     2,
		MaxSize:     10,
		IdleTimeout: 5 * time.Minute,
		WaitTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	if c.MinSize < 0 || c.MaxSize < 0 {
		return fmt.Errorf("invalid pool config: negative size (min %d, max %d)", c.MinSize, c.MaxSize)
	}
	if c.MaxSize > 0 && c.MinSize > c.MaxSize {
		return fmt.Errorf("invalid pool config: MinSize (%d) > MaxSize (%d)", c.MinSize, c.MaxSize)
	}
	return nil
}

// Factory opens a new physical connection.
type Factory[C Conn] func(ctx context.Context) (C, error)

// Pool manages physical connections for concurrent access.
type Pool[C Conn] struct {
	config  Config
	factory Factory[C]

	mu        sync.Mutex
	conns     []pooled[C] // available connections
	numOpen   int         // total open connections (available + in-use)
	waitQueue []chan C    // waiting goroutines
	closed    bool
	waitCount int64
	timeouts  int64
	discarded int64

	stopCleaner chan struct{} // signal to stop the idle connection cleaner
	cleanerDone chan struct{} // signal that cleaner has stopped
}

// pooled tracks a connection and its idle time.
type pooled[C Conn] struct {
	conn      C
	idleSince time.Time
}

var (
	// ErrPoolClosed is returned when attempting to get a connection from a closed pool.
	ErrPoolClosed = errors.New("pool: connection pool is closed")
	// ErrPoolTimeout is returned when waiting for a connection times out.
	ErrPoolTimeout = errors.New("pool: timeout waiting for available connection")
)

// New creates a pool. If config.MinSize > 0 the pool is pre-warmed with
// MinSize connections.
func New[C Conn](ctx context.Context, config Config, factory Factory[C]) (*Pool[C], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[C]{
		config:      config,
		factory:     factory,
		conns:       make([]pooled[C], 0, config.MaxSize),
		stopCleaner: make(chan struct{}),
		cleanerDone: make(chan struct{}),
	}

	for i := 0; i < config.MinSize; i++ {
		conn, err := factory(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create initial connection %d/%d: %w", i+1, config.MinSize, err)
		}
		p.conns = append(p.conns, pooled[C]{conn: conn, idleSince: time.Now()})
		p.numOpen++
	}

	if config.IdleTimeout > 0 {
		go p.cleanIdleConnections()
	}

	return p, nil
}

// Get acquires a connection. When the pool is at MaxSize it waits for a
// connection to be returned. It fails with ErrPoolClosed once the pool is
// closed, including for callers already waiting, and with ErrPoolTimeout
// when WaitTimeout is exceeded.
func (p *Pool[C]) Get(ctx context.Context) (C, error) {
	var zero C
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}

	for len(p.conns) > 0 {
		pc := p.conns[len(p.conns)-1]
		p.conns = p.conns[:len(p.conns)-1]

		if pc.conn.IsOpen() {
			p.mu.Unlock()
			return pc.conn, nil
		}

		// Dead or stale; close it and try the next one.
		pc.conn.Close()
		p.numOpen--
		p.discarded++
	}

	if p.config.MaxSize == 0 || p.numOpen < p.config.MaxSize {
		p.numOpen++
		p.mu.Unlock()

		conn, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.numOpen--
			p.mu.Unlock()
			return zero, fmt.Errorf("failed to create connection: %w", err)
		}
		return conn, nil
	}

	waiter := make(chan C, 1)
	p.waitQueue = append(p.waitQueue, waiter)
	p.waitCount++
	p.mu.Unlock()

	waitCtx := ctx
	if p.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.config.WaitTimeout)
		defer cancel()
	}

	select {
	case conn, ok := <-waiter:
		if !ok {
			return zero, ErrPoolClosed
		}
		return conn, nil
	case <-waitCtx.Done():
		p.mu.Lock()
		queued := false
		for i, w := range p.waitQueue {
			if w == waiter {
				p.waitQueue = append(p.waitQueue[:i], p.waitQueue[i+1:]...)
				queued = true
				break
			}
		}
		if !queued {
			// Put or Close already dequeued us; a handed-off connection
			// must go back to the pool.
			p.mu.Unlock()
			if conn, ok := <-waiter; ok {
				p.Put(conn)
			}
			p.mu.Lock()
		}
		if ctx.Err() == nil {
			p.timeouts++
		}
		p.mu.Unlock()

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrPoolTimeout
	}
}

// Put returns a connection to the pool. Connections that are no longer open
// are closed and discarded.
func (p *Pool[C]) Put(conn C) {
	if any(conn) == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		conn.Close()
		p.numOpen--
		return
	}

	if !conn.IsOpen() {
		conn.Close()
		p.numOpen--
		p.discarded++
		return
	}

	if len(p.waitQueue) > 0 {
		waiter := p.waitQueue[0]
		p.waitQueue = p.waitQueue[1:]
		waiter <- conn
		return
	}

	p.conns = append(p.conns, pooled[C]{conn: conn, idleSince: time.Now()})
}

// Close closes all idle connections and prevents new connections from being
// acquired. Connections still in use are closed when they are Put back.
func (p *Pool[C]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	if p.config.IdleTimeout > 0 {
		close(p.stopCleaner)
	}

	for _, pc := range p.conns {
		pc.conn.Close()
		p.numOpen--
	}
	p.conns = nil

	for _, waiter := range p.waitQueue {
		close(waiter)
	}
	p.waitQueue = nil

	p.mu.Unlock()

	if p.config.IdleTimeout > 0 {
		<-p.cleanerDone
	}
}

// IsClosed reports whether Close was called.
func (p *Pool[C]) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns current pool statistics.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Available: len(p.conns),
		InUse:     p.numOpen - len(p.conns),
		Total:     p.numOpen,
		Waiting:   len(p.waitQueue),
		WaitCount: p.waitCount,
		Timeouts:  p.timeouts,
		Discarded: p.discarded,
	}
}

// Stats provides statistics about the connection pool.
type Stats struct {
	Available int   // connections available in the pool
	InUse     int   // connections currently in use
	Total     int   // total open connections
	Waiting   int   // goroutines waiting for a connection
	WaitCount int64 // total number of waits
	Timeouts  int64 // waits that ended with ErrPoolTimeout
	Discarded int64 // connections dropped because they were closed or stale
}

// cleanIdleConnections runs in a background goroutine to close idle connections.
func (p *Pool[C]) cleanIdleConnections() {
	defer close(p.cleanerDone)

	ticker := time.NewTicker(p.config.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()

			now := time.Now()
			keep := make([]pooled[C], 0, len(p.conns))

			for _, pc := range p.conns {
				// Keep connections within the idle timeout or needed for MinSize.
				if now.Sub(pc.idleSince) < p.config.IdleTimeout || len(keep) < p.config.MinSize {
					keep = append(keep, pc)
				} else {
					pc.conn.Close()
					p.numOpen--
				}
			}

			p.conns = keep
			p.mu.Unlock()

		case <-p.stopCleaner:
			return
		}
	}
}
