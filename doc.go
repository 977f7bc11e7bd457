// Package asyncmc is an asynchronous memcached client built around explicit
// request lifecycle tracking.
//
// A single Connection multiplexes many concurrently issued requests over one
// socket. Each request is represented by a RequestContext that moves through
// pending -> writing -> sent stages in a RequestQueue, which also matches
// every inbound reply back to the caller awaiting it: by opaque token when
// the server echoes one (out-of-order mode), or by strict FIFO order when it
// does not.
//
// Client adds key-based server selection, per-server connection pooling and
// optional circuit breaking on top.
package asyncmc
