package asyncmc

import (
	"context"

	"github.com/pior/asyncmc/meta"
)

// RequestState is the pipeline stage a request context is in.
type RequestState uint8

const (
	StateCreated RequestState = iota
	StatePending
	StateWriting
	StateWritingCanceled
	StateAwaitingReply
	StateComplete
)

var requestStateNames = [...]string{
	StateCreated:         "created",
	StatePending:         "pending",
	StateWriting:         "writing",
	StateWritingCanceled: "writing-canceled",
	StateAwaitingReply:   "awaiting-reply",
	StateComplete:        "complete",
}

func (s RequestState) String() string {
	if int(s) < len(requestStateNames) {
		return requestStateNames[s]
	}
	return "invalid"
}

// RequestContext carries the per-request bookkeeping needed to move one
// request through the send pipeline and route its reply back to the caller.
//
// The context is owned by the caller goroutine that issued the request; a
// RequestQueue only holds non-owning references to it. The caller must not
// discard a context the queue still references, which is what the
// cancellation protocol (RequestQueue.Cancel) guarantees.
//
// State and the reply slot are written only by the transport's driving
// goroutine. The caller reads them after the done channel is closed; the
// close is the hand-off barrier.
type RequestContext struct {
	id  uint64
	req *meta.Request

	// wire is the serialized request. It must stay reachable until the
	// transport reports write completion, hence the two-phase cancel.
	wire []byte

	expectedKind ReplyKind
	decodeInit   DecodeInitializer

	state RequestState

	// reply slot, written at most once before done is closed
	reply Reply

	done     chan struct{} // closed exactly once on reply or error delivery
	released chan struct{} // closed when the queue drops its reference during cancellation
}

// NewRequestContext builds a context for one request. The id is the
// correlation key (meaningful only on id-correlated connections), kind the
// reply shape the caller expects, and init the decode configuration the
// transport hands to the reply decoder.
func NewRequestContext(id uint64, req *meta.Request, kind ReplyKind, init DecodeInitializer) *RequestContext {
	return &RequestContext{
		id:           id,
		req:          req,
		expectedKind: kind,
		decodeInit:   init,
		state:        StateCreated,
		done:         make(chan struct{}),
		released:     make(chan struct{}),
	}
}

func (rc *RequestContext) ID() uint64 {
	return rc.id
}

func (rc *RequestContext) Request() *meta.Request {
	return rc.req
}

func (rc *RequestContext) State() RequestState {
	return rc.state
}

// Done is closed once a reply or error has been delivered.
func (rc *RequestContext) Done() <-chan struct{} {
	return rc.done
}

// Released is closed once the queue no longer references the context after a
// cancellation. Only the cancel path waits on it.
func (rc *RequestContext) Released() <-chan struct{} {
	return rc.released
}

// WaitForReply parks the caller until a reply or an error is delivered, or
// ctx expires. On expiry the caller must run the cancellation protocol
// (Connection.Execute does) before the context may be discarded.
func (rc *RequestContext) WaitForReply(ctx context.Context) (*meta.Response, error) {
	select {
	case <-rc.done:
		return rc.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (rc *RequestContext) result() (*meta.Response, error) {
	if rc.reply.Err != nil {
		return nil, rc.reply.Err
	}
	return rc.reply.Response, nil
}

// completed reports whether delivery already happened, without blocking.
func (rc *RequestContext) completed() bool {
	select {
	case <-rc.done:
		return true
	default:
		return false
	}
}

// deliver writes the reply slot and wakes the waiting caller.
// The slot is written at most once; later deliveries are dropped.
func (rc *RequestContext) deliver(r Reply) {
	if rc.completed() {
		return
	}
	rc.reply = r
	close(rc.done)
}

func (rc *RequestContext) deliverError(err error) {
	rc.deliver(Reply{Err: err})
}

// release signals a cancelling caller that the queue dropped its reference.
// Idempotent.
func (rc *RequestContext) release() {
	select {
	case <-rc.released:
	default:
		close(rc.released)
	}
}
