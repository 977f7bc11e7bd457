package asyncmc

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/asyncmc/meta"
)

// Connection is a single pipelined connection to a memcached server.
//
// Requests are issued concurrently from any goroutine; the connection
// multiplexes them over one socket. A run-loop goroutine owns the
// RequestQueue and is the only goroutine that mutates it: submissions,
// cancellations, write completions and decoded replies are marshalled onto
// it through channels. A writer goroutine performs the socket writes (so a
// request can be canceled while its bytes are in flight) and a reader
// goroutine parses inbound responses.
type Connection struct {
	addr       string
	conn       net.Conn
	outOfOrder bool

	queue *RequestQueue

	nextID atomic.Uint64

	submitCh chan []*RequestContext
	cancelCh chan *RequestContext
	writeCh  chan []byte
	wroteCh  chan error
	replyCh  chan decodedReply

	closeOnce sync.Once
	closed    chan struct{}
	loopDone  chan struct{}

	inflight   atomic.Int64
	lastUsed   atomic.Int64
	mismatches atomic.Uint64

	// mismatchHook, when set, is notified of every rejected reply delivery.
	mismatchHook func()
}

// decodedReply is what the reader hands to the run loop: one parsed
// response, or the read error that ends the connection.
type decodedReply struct {
	id   uint64
	resp *meta.Response
	err  error
}

// canceledWriteGrace bounds a write whose request was canceled mid-flight.
// The canceller stays parked until that write completes, so the write must
// not be allowed to block forever on a stalled peer.
const canceledWriteGrace = time.Second

// NewConnection dials addr and starts a pipelined connection using opaque
// (id-based) reply correlation: every request carries an O flag and replies
// may be matched out of order.
func NewConnection(addr string, timeout time.Duration) (*Connection, error) {
	return dialConnection(addr, timeout, true)
}

// NewOrderedConnection dials addr and starts a pipelined connection using
// strict FIFO reply correlation: no opaque flags are sent and replies are
// matched to requests in send order.
func NewOrderedConnection(addr string, timeout time.Duration) (*Connection, error) {
	return dialConnection(addr, timeout, false)
}

func dialConnection(addr string, timeout time.Duration, outOfOrder bool) (*Connection, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &meta.ConnectionError{Op: "dial", Err: err}
	}
	return startConnection(nc, addr, outOfOrder), nil
}

func startConnection(nc net.Conn, addr string, outOfOrder bool) *Connection {
	c := &Connection{
		addr:       addr,
		conn:       nc,
		outOfOrder: outOfOrder,
		queue:      NewRequestQueue(outOfOrder),
		submitCh:   make(chan []*RequestContext),
		cancelCh:   make(chan *RequestContext),
		writeCh:    make(chan []byte),
		wroteCh:    make(chan error, 1),
		replyCh:    make(chan decodedReply),
		closed:     make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	c.lastUsed.Store(time.Now().UnixNano())
	go c.runLoop()
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Execute sends one request and blocks until its reply, a connection error,
// or ctx expiry. On expiry the cancellation protocol runs before returning,
// so the request's buffers are never left dangling in the transport.
func (c *Connection) Execute(ctx context.Context, req *meta.Request) (*meta.Response, error) {
	rcs, err := c.submit(ctx, []*meta.Request{req})
	if err != nil {
		return nil, err
	}
	return c.wait(ctx, rcs[0])
}

// ExecuteBatch pipelines several requests in submission order and waits for
// all of them. The response slice is index-aligned with reqs; the returned
// error is the first one encountered.
func (c *Connection) ExecuteBatch(ctx context.Context, reqs []*meta.Request) ([]*meta.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	rcs, err := c.submit(ctx, reqs)
	if err != nil {
		return nil, err
	}
	resps := make([]*meta.Response, len(rcs))
	var firstErr error
	for i, rc := range rcs {
		resp, err := c.wait(ctx, rc)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		resps[i] = resp
	}
	return resps, firstErr
}

// Ping checks that the server still answers on this connection.
func (c *Connection) Ping(ctx context.Context) error {
	// A get without the v flag is the cheapest round-trip that supports an
	// opaque token; the expected EN miss still proves the server is there.
	req := meta.NewRequest(meta.CmdGet, "__asyncmc_ping__", nil, nil)
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	if resp.HasError() {
		return resp.Error
	}
	return nil
}

func (c *Connection) submit(ctx context.Context, reqs []*meta.Request) ([]*RequestContext, error) {
	rcs := make([]*RequestContext, len(reqs))
	for i, req := range reqs {
		rc, err := c.newContext(req)
		if err != nil {
			return nil, err
		}
		rcs[i] = rc
	}
	select {
	case c.submitCh <- rcs:
		c.inflight.Add(int64(len(rcs)))
		c.lastUsed.Store(time.Now().UnixNano())
		return rcs, nil
	case <-c.loopDone:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// newContext binds a request to its lifecycle bookkeeping: correlation id,
// opaque flag (id mode), serialized bytes, expected reply kind and decode
// initializer.
func (c *Connection) newContext(req *meta.Request) (*RequestContext, error) {
	id := c.nextID.Add(1)
	wireReq := req
	if c.outOfOrder {
		if req.Command == meta.CmdNoOp {
			// MN carries no flags, so an mn reply can never be matched
			// back to its request by opaque token.
			return nil, ErrNoOpNotCorrelatable
		}
		// The caller keeps ownership of req: a retried request must not
		// accumulate opaque tokens across executions.
		flagged := *req
		flagged.Flags = req.Flags.Clone()
		flagged.Flags.AddUint(meta.FlagOpaque, id)
		wireReq = &flagged
	}
	wire, err := meta.EncodeRequest(wireReq)
	if err != nil {
		return nil, err
	}
	rc := NewRequestContext(id, req, KindForCommand(req.Command), InitializerForCommand(req.Command))
	rc.wire = wire
	return rc, nil
}

func (c *Connection) wait(ctx context.Context, rc *RequestContext) (*meta.Response, error) {
	defer c.inflight.Add(-1)

	resp, err := rc.WaitForReply(ctx)
	if err == nil || err != ctx.Err() {
		return resp, err
	}

	// Timed out or canceled by the caller: run the cancellation protocol and
	// wait until the queue dropped its reference, so the serialized buffer
	// stays valid for as long as the writer needs it.
	c.cancel(rc)
	if rc.completed() {
		// A delivery raced the cancellation; hand it over after all.
		return rc.result()
	}
	return nil, err
}

// cancel marshals the cancellation onto the run loop and blocks until the
// context is no longer referenced by the queue or the transport.
func (c *Connection) cancel(rc *RequestContext) {
	select {
	case c.cancelCh <- rc:
	case <-c.loopDone:
		// The run loop already failed every queued context.
		return
	}
	select {
	case <-rc.Released():
	case <-rc.Done():
	case <-c.loopDone:
	}
}

// runLoop owns the queue. It drains the pending stage one request at a time
// through the writer, and applies submissions, cancellations and replies in
// arrival order.
func (c *Connection) runLoop() {
	defer close(c.loopDone)

	writing := false
	graceArmed := false

	clearGrace := func() {
		if graceArmed {
			_ = c.conn.SetWriteDeadline(time.Time{})
			graceArmed = false
		}
	}

	for {
		if !writing && c.queue.PendingCount() > 0 {
			rc := c.queue.MarkNextAsSending()
			select {
			case c.writeCh <- rc.wire:
				writing = true
			case <-c.closed:
				c.fail(ErrConnectionClosed)
				return
			}
		}

		var failErr error
		select {
		case rcs := <-c.submitCh:
			for _, rc := range rcs {
				c.queue.MarkAsPending(rc)
			}
		case rc := <-c.cancelCh:
			if rc.state == StateWriting {
				// The canceller stays parked until this write completes.
				_ = c.conn.SetWriteDeadline(time.Now().Add(canceledWriteGrace))
				graceArmed = true
			}
			c.queue.Cancel(rc)
		case err := <-c.wroteCh:
			writing = false
			if err != nil {
				failErr = &meta.ConnectionError{Op: "write", Err: err}
			} else {
				clearGrace()
				c.queue.MarkNextAsSent()
			}
		case d := <-c.replyCh:
			if d.err != nil {
				failErr = &meta.ConnectionError{Op: "read", Err: d.err}
				break
			}
			// A reply proves its request was fully written. If the write
			// completion is still in flight behind the reply, apply it first
			// so correlation sees the sent state.
			if writing && !c.queue.CanCorrelate(d.id) {
				select {
				case err := <-c.wroteCh:
					if err != nil {
						failErr = &meta.ConnectionError{Op: "write", Err: err}
					} else {
						writing = false
						clearGrace()
						c.queue.MarkNextAsSent()
					}
				case <-c.closed:
					failErr = ErrConnectionClosed
				}
			}
			if failErr == nil {
				c.dispatch(d)
			}
		case <-c.closed:
			failErr = ErrConnectionClosed
		}

		if failErr != nil {
			c.fail(failErr)
			return
		}
	}
}

// dispatch routes one decoded reply through the queue, configuring the reply
// decoder with the initializer bound to the matching request, or a
// discard-only decoder when the request is gone.
func (c *Connection) dispatch(d decodedReply) {
	dec := NewReplyDecoder()
	if init := c.queue.DecodeInitializer(d.id); init != nil {
		init(dec)
	}
	if err := c.queue.Reply(d.id, dec.Decode(d.resp)); err != nil {
		// Protocol corruption. The affected caller resolves through its own
		// timeout; surface the event through the stats counter.
		c.mismatches.Add(1)
		if c.mismatchHook != nil {
			c.mismatchHook()
		}
	}
}

// fail runs the disconnect sequence: requests already on the wire first,
// then the unsent ones (those never left the client), then the orphaned
// decode bookkeeping that no longer has a reply stream to stay in sync with.
func (c *Connection) fail(err error) {
	c.queue.FailAllSent(err)
	c.queue.FailAllPending(ErrConnectionClosed)
	c.queue.ClearOrphanedInitializers()
	_ = c.Close()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case buf := <-c.writeCh:
			_, err := c.conn.Write(buf)
			// wroteCh is buffered and at most one write is in flight: the
			// completion is always delivered, even during shutdown, so the
			// run loop is never left waiting for it.
			c.wroteCh <- err
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) readLoop() {
	r := bufio.NewReader(c.conn)
	for {
		resp, err := meta.ReadResponse(r)
		if err != nil {
			select {
			case c.replyCh <- decodedReply{err: err}:
			case <-c.closed:
			}
			return
		}
		var id uint64
		if c.outOfOrder {
			id = resp.OpaqueToken()
		}
		select {
		case c.replyCh <- decodedReply{id: id, resp: resp}:
		case <-c.closed:
			return
		}
	}
}

// Close shuts the connection down. Outstanding requests are failed with
// ErrConnectionClosed. Safe to call multiple times.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
	return nil
}

// IsClosed reports whether the connection has been shut down.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.loopDone:
		return true
	default:
		return false
	}
}

// Addr returns the server address this connection is bound to.
func (c *Connection) Addr() string {
	return c.addr
}

// InFlight returns the number of requests currently issued on this
// connection and not yet resolved.
func (c *Connection) InFlight() int {
	return int(c.inflight.Load())
}

// LastUsed returns when a request was last submitted on this connection.
func (c *Connection) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// KindMismatches returns how many replies were rejected because their kind
// did not match the awaiting request.
func (c *Connection) KindMismatches() uint64 {
	return c.mismatches.Load()
}
