package asyncmc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/asyncmc/meta"
)

func getRequest(key string) *meta.Request {
	var flags meta.Flags
	flags.Add(meta.FlagReturnValue)
	return meta.NewRequest(meta.CmdGet, key, nil, flags)
}

func TestConnectionExecute(t *testing.T) {
	conn, srv := newTestConnection(t, true)

	go func() {
		req := srv.readRequest()
		assert.Equal(t, "mg", req.cmd)
		assert.Equal(t, "key1", req.key)
		assert.NotEmpty(t, req.opaque)
		srv.sendValue("hello", req.opaque)
	}()

	resp, err := conn.Execute(context.Background(), getRequest("key1"))
	require.NoError(t, err)
	require.Equal(t, meta.StatusVA, resp.Status)
	require.Equal(t, []byte("hello"), resp.Data)
}

func TestConnectionOutOfOrderReplies(t *testing.T) {
	conn, srv := newTestConnection(t, true)

	go func() {
		first := srv.readRequest()
		second := srv.readRequest()
		// answer in reverse send order
		srv.sendValue("two", second.opaque)
		srv.sendValue("one", first.opaque)
	}()

	resps, err := conn.ExecuteBatch(context.Background(), []*meta.Request{
		getRequest("key1"),
		getRequest("key2"),
	})
	require.NoError(t, err)
	require.Len(t, resps, 2)

	// each reply reached its own caller despite the reordering
	require.Equal(t, []byte("one"), resps[0].Data)
	require.Equal(t, []byte("two"), resps[1].Data)
}

func TestConnectionOrderedPipeline(t *testing.T) {
	conn, srv := newTestConnection(t, false)

	go func() {
		first := srv.readRequest()
		assert.Empty(t, first.opaque, "ordered mode must not send opaque tokens")
		srv.sendValue("one", "")
		srv.readRequest()
		srv.sendValue("two", "")
	}()

	resps, err := conn.ExecuteBatch(context.Background(), []*meta.Request{
		getRequest("key1"),
		getRequest("key2"),
	})
	require.NoError(t, err)
	require.Equal(t, []byte("one"), resps[0].Data)
	require.Equal(t, []byte("two"), resps[1].Data)
}

// Canceling a request whose bytes are still being written must keep its
// buffer reachable until the write completes: net.Pipe blocks the writer
// until the server reads, which holds the request in the writing stage.
func TestConnectionCancelWhileWriting(t *testing.T) {
	conn, srv := newTestConnection(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Execute(ctx, getRequest("key1"))
		errCh <- err
	}()

	// let the request reach the writer, which blocks on the unread pipe
	time.Sleep(20 * time.Millisecond)
	cancel()

	// the cancellation must not complete while the write is in flight
	select {
	case <-errCh:
		t.Fatal("cancel completed before the write finished")
	case <-time.After(50 * time.Millisecond):
	}

	// the server finally consumes the request: the write completes, the
	// canceled context is discarded and the caller released
	req := srv.readRequest()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// a late reply for the canceled request is swallowed without
	// desynchronizing the stream
	srv.sendValue("stale", req.opaque)

	go func() {
		next := srv.readRequest()
		srv.sendValue("fresh", next.opaque)
	}()
	resp, err := conn.Execute(context.Background(), getRequest("key2"))
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), resp.Data)
}

func TestConnectionTimeoutWhileAwaitingReply(t *testing.T) {
	conn, srv := newTestConnection(t, true)

	received := make(chan serverRequest, 1)
	go func() {
		received <- srv.readRequest()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := conn.Execute(ctx, getRequest("key1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the late reply is consumed against the orphaned decode configuration
	req := <-received
	srv.sendValue("late", req.opaque)

	go func() {
		next := srv.readRequest()
		srv.sendValue("fresh", next.opaque)
	}()
	resp, err := conn.Execute(context.Background(), getRequest("key2"))
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), resp.Data)
}

// Closing the connection while one request awaits its reply and another is
// stuck mid-write must terminate the run loop and wake both callers, even
// when an uncorrelatable reply has the loop waiting on the write completion.
func TestConnectionCloseWhileWriteInFlight(t *testing.T) {
	conn, srv := newTestConnection(t, true)

	errA := make(chan error, 1)
	go func() {
		_, err := conn.Execute(context.Background(), getRequest("key1"))
		errA <- err
	}()

	// first request reaches awaiting-reply
	srv.readRequest()

	// second request's write blocks on the unread pipe
	errB := make(chan error, 1)
	go func() {
		_, err := conn.Execute(context.Background(), getRequest("key2"))
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// a reply that matches nothing makes the loop wait for the in-flight
	// write before dispatching
	srv.send("HD O999")
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, conn.IsClosed, 2*time.Second, time.Millisecond)
	select {
	case err := <-errA:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("awaiting caller was never woken after Close")
	}
	select {
	case err := <-errB:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writing caller was never woken after Close")
	}
}

// A caller that times out while its bytes are stuck in a write that never
// completes must still be released: the canceled write is bounded by a
// deadline, after which the connection fails and wakes everyone.
func TestConnectionTimeoutWhileWriting(t *testing.T) {
	conn, _ := newTestConnection(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.Execute(ctx, getRequest("key1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), canceledWriteGrace+2*time.Second)

	// the stalled write killed the connection
	require.Eventually(t, conn.IsClosed, 2*time.Second, time.Millisecond)
}

// Executing the same request value twice must not leak lifecycle state into
// it: each execution carries its own opaque token and the caller's flags
// stay untouched.
func TestConnectionRequestReuse(t *testing.T) {
	conn, srv := newTestConnection(t, true)

	opaques := make(chan string, 2)
	go func() {
		for i := 0; i < 2; i++ {
			req := srv.readRequest()
			opaques <- req.opaque
			srv.sendValue("v", req.opaque)
		}
	}()

	req := getRequest("key1")
	_, err := conn.Execute(context.Background(), req)
	require.NoError(t, err)
	_, err = conn.Execute(context.Background(), req)
	require.NoError(t, err)

	first, second := <-opaques, <-opaques
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	require.NotEqual(t, first, second)
	require.False(t, req.Flags.Has(meta.FlagOpaque))
}

func TestConnectionNoOp(t *testing.T) {
	// an MN reply carries no opaque token, so mn cannot be issued on an
	// opaque-correlated connection
	conn, _ := newTestConnection(t, true)
	_, err := conn.Execute(context.Background(), meta.NewRequest(meta.CmdNoOp, "", nil, nil))
	require.ErrorIs(t, err, ErrNoOpNotCorrelatable)

	// ordered mode correlates by position and supports it
	ordered, srv := newTestConnection(t, false)
	go func() {
		req := srv.readRequest()
		assert.Equal(t, "mn", req.cmd)
		srv.send("MN")
	}()
	resp, err := ordered.Execute(context.Background(), meta.NewRequest(meta.CmdNoOp, "", nil, nil))
	require.NoError(t, err)
	require.Equal(t, meta.StatusMN, resp.Status)
}

func TestConnectionDisconnect(t *testing.T) {
	conn, srv := newTestConnection(t, true)

	go func() {
		srv.readRequest()
		_ = srv.conn.Close()
	}()

	_, err := conn.Execute(context.Background(), getRequest("key1"))
	require.Error(t, err)

	var connErr *meta.ConnectionError
	require.ErrorAs(t, err, &connErr)

	require.Eventually(t, conn.IsClosed, time.Second, time.Millisecond)

	// the connection is unusable from now on
	_, err = conn.Execute(context.Background(), getRequest("key2"))
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectionClose(t *testing.T) {
	conn, _ := newTestConnection(t, true)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.Eventually(t, conn.IsClosed, time.Second, time.Millisecond)

	_, err := conn.Execute(context.Background(), getRequest("key1"))
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectionPing(t *testing.T) {
	addr := newFakeMemcached().listen(t)

	conn, err := NewConnection(addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping(context.Background()))
}

func TestConnectionAgainstFakeServer(t *testing.T) {
	fake := newFakeMemcached()
	addr := fake.listen(t)

	conn, err := NewConnection(addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	commands := NewCommands(conn)

	require.NoError(t, commands.Set(ctx, Item{Key: "greeting", Value: []byte("hello")}))

	item, err := commands.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, item.Found)
	require.Equal(t, []byte("hello"), item.Value)

	require.NoError(t, commands.Delete(ctx, "greeting"))

	item, err = commands.Get(ctx, "greeting")
	require.NoError(t, err)
	require.False(t, item.Found)

	assert.Equal(t, uint64(0), conn.KindMismatches())
	assert.Equal(t, 0, conn.InFlight())
}
