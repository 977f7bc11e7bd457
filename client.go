package asyncmc

import (
	"context"
	"sync"
	"time"

	"github.com/pior/asyncmc/meta"
)

// Config holds configuration for the client.
type Config struct {
	// MaxSize is the maximum number of connections per server.
	// Defaults to 4.
	MaxSize int32

	// ConnectTimeout bounds connection establishment. Defaults to 5s.
	ConnectTimeout time.Duration

	// Timeout is the default per-operation timeout, applied when the
	// caller's context has no deadline. Zero means no default timeout.
	Timeout time.Duration

	// Ordered selects strict FIFO reply correlation instead of opaque ids.
	// FIFO mode saves the opaque token on the wire but requires replies to
	// arrive in send order.
	Ordered bool

	// SelectServer picks which server to use for a key.
	// If nil, DefaultServerSelector is used.
	SelectServer ServerSelector

	// NewCircuitBreaker creates a circuit breaker for a server, called once
	// per server address. If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) CircuitBreaker

	// for testing purposes only
	constructor func(ctx context.Context, addr string) (*Connection, error)
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 4
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.SelectServer == nil {
		c.SelectServer = DefaultServerSelector
	}
	return c
}

// serverPool bundles the pool and breaker of one server address.
type serverPool struct {
	addr    string
	pool    *connectionPool
	breaker CircuitBreaker
}

// Client is a multi-server memcache client: it routes each key to a server,
// pools pipelined connections per server, and implements Querier.
type Client struct {
	servers Servers
	config  Config

	mu    sync.RWMutex
	pools map[string]*serverPool

	commands *Commands
	stats    *clientStatsCollector
}

var (
	_ Querier       = (*Client)(nil)
	_ BatchExecutor = (*Client)(nil)
)

// NewClient creates a client for the given servers.
// For a single server: NewClient(StaticServers("host:11211"), Config{}).
func NewClient(servers Servers, config Config) *Client {
	c := &Client{
		servers: servers,
		config:  config.withDefaults(),
		pools:   make(map[string]*serverPool),
		stats:   &clientStatsCollector{},
	}
	c.commands = NewCommands(c)
	return c
}

// Execute routes one request to the server owning its key.
func (c *Client) Execute(ctx context.Context, req *meta.Request) (*meta.Response, error) {
	ctx, cancel := c.applyTimeout(ctx)
	defer cancel()

	sp, err := c.poolForKey(req.Key)
	if err != nil {
		return nil, err
	}
	return sp.execute(ctx, req)
}

// ExecuteBatch pipelines requests, grouping them per server. Responses are
// index-aligned with reqs.
func (c *Client) ExecuteBatch(ctx context.Context, reqs []*meta.Request) ([]*meta.Response, error) {
	ctx, cancel := c.applyTimeout(ctx)
	defer cancel()

	groups := make(map[*serverPool][]int)
	for i, req := range reqs {
		sp, err := c.poolForKey(req.Key)
		if err != nil {
			return nil, err
		}
		groups[sp] = append(groups[sp], i)
	}

	resps := make([]*meta.Response, len(reqs))
	var firstErr error
	for sp, indexes := range groups {
		group := make([]*meta.Request, len(indexes))
		for i, idx := range indexes {
			group[i] = reqs[idx]
		}
		groupResps, err := sp.executeBatch(ctx, group)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		for i, idx := range indexes {
			if i < len(groupResps) {
				resps[idx] = groupResps[i]
			}
		}
	}
	return resps, firstErr
}

func (c *Client) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			return context.WithTimeout(ctx, c.config.Timeout)
		}
	}
	return ctx, func() {}
}

func (c *Client) poolForKey(key string) (*serverPool, error) {
	addrs := c.servers.List()
	if len(addrs) == 0 {
		return nil, ErrNoServers
	}
	addr := addrs[c.config.SelectServer(key, len(addrs))]

	c.mu.RLock()
	sp, ok := c.pools[addr]
	c.mu.RUnlock()
	if ok {
		return sp, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sp, ok := c.pools[addr]; ok {
		return sp, nil
	}

	pool, err := newConnectionPool(c.connectionConstructor(addr), c.config.MaxSize)
	if err != nil {
		return nil, err
	}

	sp = &serverPool{addr: addr, pool: pool}
	if c.config.NewCircuitBreaker != nil {
		sp.breaker = c.config.NewCircuitBreaker(addr)
	}
	c.pools[addr] = sp
	return sp, nil
}

func (c *Client) connectionConstructor(addr string) func(ctx context.Context) (*Connection, error) {
	return func(ctx context.Context) (*Connection, error) {
		var conn *Connection
		var err error
		if c.config.constructor != nil {
			conn, err = c.config.constructor(ctx, addr)
		} else if c.config.Ordered {
			conn, err = NewOrderedConnection(addr, c.config.ConnectTimeout)
		} else {
			conn, err = NewConnection(addr, c.config.ConnectTimeout)
		}
		if err != nil {
			return nil, err
		}
		conn.mismatchHook = func() { c.stats.kindMismatches.Add(1) }
		return conn, nil
	}
}

// Close shuts down every pool and their connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sp := range c.pools {
		sp.pool.close()
	}
	clear(c.pools)
	return nil
}

// Stats returns a snapshot of client operation statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns per-server pool statistics, keyed by address.
func (c *Client) PoolStats() map[string]PoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := make(map[string]PoolStats, len(c.pools))
	for addr, sp := range c.pools {
		stats[addr] = sp.pool.Stats()
	}
	return stats
}

// Querier implementation, delegating to Commands with stats accounting.

func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	item, err := c.commands.Get(ctx, key)
	c.stats.gets.Add(1)
	if err == nil && item.Found {
		c.stats.getHits.Add(1)
	}
	c.stats.recordError(err)
	return item, err
}

func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	items, err := c.commands.GetMulti(ctx, keys)
	c.stats.gets.Add(uint64(len(keys)))
	c.stats.getHits.Add(uint64(len(items)))
	c.stats.recordError(err)
	return items, err
}

func (c *Client) Set(ctx context.Context, item Item) error {
	err := c.commands.Set(ctx, item)
	c.stats.sets.Add(1)
	c.stats.recordError(err)
	return err
}

func (c *Client) Add(ctx context.Context, item Item) error {
	err := c.commands.Add(ctx, item)
	c.stats.adds.Add(1)
	c.stats.recordError(err)
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.commands.Delete(ctx, key)
	c.stats.deletes.Add(1)
	c.stats.recordError(err)
	return err
}

func (c *Client) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	value, err := c.commands.Increment(ctx, key, delta, ttl)
	c.stats.increments.Add(1)
	c.stats.recordError(err)
	return value, err
}

func (sp *serverPool) execute(ctx context.Context, req *meta.Request) (*meta.Response, error) {
	var resp *meta.Response
	run := func() (bool, error) {
		err := sp.pool.with(ctx, func(conn *Connection) error {
			var err error
			resp, err = conn.Execute(ctx, req)
			return err
		})
		return err == nil, err
	}

	var err error
	if sp.breaker != nil {
		_, err = sp.breaker.Execute(run)
	} else {
		_, err = run()
	}
	return resp, err
}

func (sp *serverPool) executeBatch(ctx context.Context, reqs []*meta.Request) ([]*meta.Response, error) {
	var resps []*meta.Response
	run := func() (bool, error) {
		err := sp.pool.with(ctx, func(conn *Connection) error {
			var err error
			resps, err = conn.ExecuteBatch(ctx, reqs)
			return err
		})
		return err == nil, err
	}

	var err error
	if sp.breaker != nil {
		_, err = sp.breaker.Execute(run)
	} else {
		_, err = run()
	}
	return resps, err
}
