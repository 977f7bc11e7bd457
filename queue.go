package asyncmc

import (
	"slices"

	"github.com/eapache/queue"
)

// RequestQueue sequences request contexts through the send pipeline
// (pending -> writing -> awaiting reply) and correlates inbound replies back
// to the callers awaiting them.
//
// Two correlation modes are supported. In ordered mode the protocol carries
// no correlation id and replies arrive in send order: the front of the
// awaiting-reply stage is always the next reply's owner. In out-of-order mode
// every request carries an id (the opaque token) and replies are matched
// through an id index.
//
// The queue is not safe for concurrent use. All mutation must happen on the
// transport's single driving goroutine; requests and cancellations
// originating elsewhere are marshalled onto it by the transport.
type RequestQueue struct {
	outOfOrder bool

	pending       []*RequestContext
	write         []*RequestContext
	awaitingReply []*RequestContext

	// byID indexes awaitingReply for O(1) correlation; out-of-order mode only.
	// It contains exactly the ids of the contexts in awaitingReply.
	byID map[uint64]*RequestContext

	// Decode configuration of canceled requests whose replies are still owed
	// by the server. Ordered mode consumes them in stream order; out-of-order
	// mode keys them by id, since reordered replies would desynchronize a
	// plain FIFO from the id actually being answered.
	orphaned     *queue.Queue
	orphanedByID map[uint64]DecodeInitializer
}

// NewRequestQueue creates a queue for one connection. outOfOrder selects
// id-based correlation; false selects strict FIFO correlation.
func NewRequestQueue(outOfOrder bool) *RequestQueue {
	q := &RequestQueue{outOfOrder: outOfOrder}
	if outOfOrder {
		q.byID = make(map[uint64]*RequestContext)
		q.orphanedByID = make(map[uint64]DecodeInitializer)
	} else {
		q.orphaned = queue.New()
	}
	return q
}

// PendingCount returns the number of requests not yet handed to the transport.
func (q *RequestQueue) PendingCount() int {
	return len(q.pending)
}

// InflightCount returns the number of requests the transport picked up and
// has not resolved yet: being written plus awaiting a reply.
func (q *RequestQueue) InflightCount() int {
	return len(q.write) + len(q.awaitingReply)
}

// FirstID returns the id of the earliest-written request still awaiting a
// reply. The caller must ensure at least one request is awaiting.
func (q *RequestQueue) FirstID() uint64 {
	return q.awaitingReply[0].id
}

// MarkAsPending admits a freshly constructed context into the send pipeline.
func (q *RequestQueue) MarkAsPending(rc *RequestContext) {
	rc.state = StatePending
	q.pending = append(q.pending, rc)
}

// MarkNextAsSending moves the front pending context into the write stage and
// returns it, signalling that its bytes are now being written. The caller
// must ensure the pending stage is non-empty.
func (q *RequestQueue) MarkNextAsSending() *RequestContext {
	rc := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	rc.state = StateWriting
	q.write = append(q.write, rc)
	return rc
}

// MarkNextAsSent marks the front write-stage context as fully written and
// returns it. A context canceled mid-write is discarded here: its caller was
// already released from waiting, but its bytes went out, so the decode
// configuration is kept for the reply the server still owes. Otherwise the
// context moves to the awaiting-reply stage and, in out-of-order mode, its id
// is registered for correlation. The caller must ensure the write stage is
// non-empty.
func (q *RequestQueue) MarkNextAsSent() *RequestContext {
	rc := q.write[0]
	q.write[0] = nil
	q.write = q.write[1:]

	if rc.state == StateWritingCanceled {
		rc.state = StateComplete
		q.addOrphan(rc)
		rc.release()
		return rc
	}

	rc.state = StateAwaitingReply
	q.awaitingReply = append(q.awaitingReply, rc)
	if q.outOfOrder {
		q.byID[rc.id] = rc
	}
	return rc
}

// Reply routes a decoded reply to the context awaiting it: by id in
// out-of-order mode, by stream position in ordered mode. On a match the
// reply is written into the context's slot, the caller is woken, and the
// context leaves the queue.
//
// A reply whose request was canceled consumes one orphaned decode
// configuration and is dropped; that is the normal outcome of a cancellation
// racing an in-flight reply, not an error. A reply whose kind does not match
// what the context expects is rejected with ErrReplyKindMismatch and the
// caller stays suspended, to be resolved by its own timeout.
func (q *RequestQueue) Reply(id uint64, r Reply) error {
	var rc *RequestContext
	if q.outOfOrder {
		rc = q.byID[id]
		if rc == nil {
			delete(q.orphanedByID, id)
			return nil
		}
	} else {
		if q.orphaned.Length() > 0 {
			q.orphaned.Remove()
			return nil
		}
		if len(q.awaitingReply) == 0 {
			return nil
		}
		rc = q.awaitingReply[0]
	}

	if r.Kind != rc.expectedKind {
		return ErrReplyKindMismatch
	}

	q.removeAwaiting(rc)
	rc.state = StateComplete
	rc.deliver(r)
	return nil
}

// CanCorrelate reports whether an inbound reply with the given id would find
// a request or an orphaned decode configuration to match. The transport uses
// it to order a reply behind the write completion that must precede it.
func (q *RequestQueue) CanCorrelate(id uint64) bool {
	if q.outOfOrder {
		if _, ok := q.byID[id]; ok {
			return true
		}
		_, ok := q.orphanedByID[id]
		return ok
	}
	return q.orphaned.Length() > 0 || len(q.awaitingReply) > 0
}

// DecodeInitializer returns the decode configuration bound to the request the
// next reply belongs to: looked up by id in out-of-order mode, taken from the
// stream front in ordered mode. A nil return means the request was canceled
// and the decoder should parse and discard.
func (q *RequestQueue) DecodeInitializer(id uint64) DecodeInitializer {
	if q.outOfOrder {
		if rc, ok := q.byID[id]; ok {
			return rc.decodeInit
		}
		return nil
	}
	if q.orphaned.Length() > 0 {
		return q.orphaned.Peek().(DecodeInitializer)
	}
	if len(q.awaitingReply) > 0 {
		return q.awaitingReply[0].decodeInit
	}
	return nil
}

// Cancel runs the two-phase cancellation protocol for rc.
//
// Contexts still pending or already awaiting a reply are unlinked and
// released at once; an awaiting context additionally leaves its decode
// configuration behind, since the server will still answer it. A context
// whose bytes are being written is only flagged: the transport still
// references its serialized buffer, so the release is deferred until
// MarkNextAsSent observes the flag.
func (q *RequestQueue) Cancel(rc *RequestContext) {
	switch rc.state {
	case StatePending:
		q.pending = removeContext(q.pending, rc)
		rc.state = StateComplete
		rc.release()
	case StateWriting:
		rc.state = StateWritingCanceled
	case StateAwaitingReply:
		q.removeAwaiting(rc)
		q.addOrphan(rc)
		rc.state = StateComplete
		rc.release()
	case StateWritingCanceled:
		// Already flagged; the release still comes from MarkNextAsSent.
	default:
		// StateCreated or StateComplete: nothing to unlink. Complete covers
		// a delivery that raced the cancellation.
		rc.release()
	}
}

// FailAllPending wakes every not-yet-sent request with err and empties the
// pending stage. Requests already handed to the transport are untouched.
func (q *RequestQueue) FailAllPending(err error) {
	q.failStage(&q.pending, err)
}

// FailAllSent wakes every request the transport already picked up with err:
// those awaiting a reply and those still in the write stage. Used on
// transport-level disconnect, after which no write completions or replies
// will arrive. The pending stage is untouched.
func (q *RequestQueue) FailAllSent(err error) {
	if q.byID != nil {
		clear(q.byID)
	}
	q.failStage(&q.awaitingReply, err)
	q.failStage(&q.write, err)
}

func (q *RequestQueue) failStage(stage *[]*RequestContext, err error) {
	contexts := *stage
	*stage = nil
	for _, rc := range contexts {
		canceled := rc.state == StateWritingCanceled
		rc.state = StateComplete
		if canceled {
			// The caller already gave up; it only waits for the release.
			rc.release()
			continue
		}
		rc.deliverError(err)
	}
}

// ClearOrphanedInitializers drops all orphaned decode bookkeeping.
// Called when the transport closes: the replies they were waiting for will
// never arrive.
func (q *RequestQueue) ClearOrphanedInitializers() {
	if q.outOfOrder {
		clear(q.orphanedByID)
		return
	}
	for q.orphaned.Length() > 0 {
		q.orphaned.Remove()
	}
}

// OrphanedCount returns the number of orphaned decode configurations held.
func (q *RequestQueue) OrphanedCount() int {
	if q.outOfOrder {
		return len(q.orphanedByID)
	}
	return q.orphaned.Length()
}

func (q *RequestQueue) addOrphan(rc *RequestContext) {
	if q.outOfOrder {
		q.orphanedByID[rc.id] = rc.decodeInit
	} else {
		q.orphaned.Add(rc.decodeInit)
	}
}

func (q *RequestQueue) removeAwaiting(rc *RequestContext) {
	q.awaitingReply = removeContext(q.awaitingReply, rc)
	if q.outOfOrder {
		delete(q.byID, rc.id)
	}
}

func removeContext(stage []*RequestContext, rc *RequestContext) []*RequestContext {
	i := slices.Index(stage, rc)
	if i == -1 {
		return stage
	}
	return slices.Delete(stage, i, i+1)
}
