package asyncmc

import (
	"context"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
)

// connectionPool is a puddle-backed pool of pipelined connections to a
// single server.
type connectionPool struct {
	pool *puddle.Pool[*Connection]

	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

func newConnectionPool(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (*connectionPool, error) {
	p := &connectionPool{}

	config := &puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			conn, err := constructor(ctx)
			if err == nil {
				p.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(c *Connection) {
			p.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: maxSize,
	}

	pool, err := puddle.NewPool(config)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// acquire returns a live pooled connection, destroying any that died while
// idle.
func (p *connectionPool) acquire(ctx context.Context) (*puddle.Resource[*Connection], error) {
	for {
		res, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if res.Value().IsClosed() {
			res.Destroy()
			continue
		}
		return res, nil
	}
}

// with runs fn with a pooled connection. Connections that fn leaves closed
// are destroyed instead of returned to the pool.
func (p *connectionPool) with(ctx context.Context, fn func(*Connection) error) error {
	res, err := p.acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(res.Value())

	if res.Value().IsClosed() {
		res.Destroy()
	} else {
		res.Release()
	}
	return err
}

func (p *connectionPool) close() {
	p.pool.Close()
}

// Stats returns a snapshot of pool statistics.
func (p *connectionPool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      uint64(p.createdConns.Load()),
		DestroyedConns:    uint64(p.destroyedConns.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}
