package imageserver

import (
	"bufio"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectSession(t *testing.T, srv *mockImageServer) *Session {
	t.Helper()
	host, port := srv.hostPort(t)
	sess := NewSession(Options{})
	t.Cleanup(func() { _ = sess.Close() })
	_, err := sess.Connect(host, port, "cam-1", "tok")
	require.NoError(t, err)
	return sess
}

func TestPipelineBoundedWindow(t *testing.T) {
	const depth = 5

	responses := [][]byte{
		frameResponse("1000", []byte("frame-one")),
		frameResponse("1100", []byte("frame-two")),
		frameResponse("1200", []byte("frame-three")),
		frameResponse("2000", []byte("past-the-end")),
	}

	var (
		mu         sync.Mutex
		pending    int
		maxPending int
		totalNext  int
	)

	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)

		// The reader counts requests the moment they arrive so the window
		// size is observed from the server's side, independent of how the
		// client accounts for it.
		reqs := make(chan struct{}, 64)
		go func() {
			defer close(reqs)
			for {
				req := readRequest(t, r)
				if req == "" {
					return
				}
				mu.Lock()
				pending++
				totalNext++
				if pending > maxPending {
					maxPending = pending
				}
				mu.Unlock()
				reqs <- struct{}{}
			}
		}()

		for _, resp := range responses {
			<-reqs
			mu.Lock()
			pending--
			mu.Unlock()
			writeAll(t, conn, resp)
		}
		for range reqs {
			// Requests left in flight when the client stopped; never answered.
		}
	})

	sess := connectSession(t, srv)
	p := NewPipeline(sess, depth, 1500)

	var got []string
	for p.Scan() {
		got = append(got, string(p.Frame().Payload))
		assert.Equal(t, depth, p.InFlight(), "window must be refilled before yielding")
		assert.True(t, p.Frame().HasTimestamp)
	}
	require.NoError(t, p.Err())
	assert.Equal(t, []string{"frame-one", "frame-two", "frame-three"}, got)

	require.NoError(t, sess.Close())
	<-srv.done

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxPending, depth, "outstanding requests must never exceed the window")
	assert.Equal(t, depth+len(got), totalNext, "one replacement request per yielded frame")
}

func TestPipelineStopsAtEndOfStream(t *testing.T) {
	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)
		responses := [][]byte{
			frameResponse("1000", []byte("a")),
			frameResponse("1100", []byte("b")),
			[]byte("Current=1200\r\n\r\n"), // no length key: end of recorded video
		}
		for _, resp := range responses {
			_ = readRequest(t, r)
			writeAll(t, conn, resp)
		}
		for {
			if readRequest(t, r) == "" {
				return
			}
		}
	})

	sess := connectSession(t, srv)
	p := NewPipeline(sess, 3, int64(1<<62))

	n := 0
	for p.Scan() {
		n++
	}
	assert.NoError(t, p.Err(), "end of stream is a stop condition, not a fault")
	assert.Equal(t, 2, n)
}

func TestPipelineStopsOnEmptyPayload(t *testing.T) {
	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)
		_ = readRequest(t, r)
		writeAll(t, conn, []byte("Current=1000\r\nContent-length=0\r\n\r\n"))
		for {
			if readRequest(t, r) == "" {
				return
			}
		}
	})

	sess := connectSession(t, srv)
	p := NewPipeline(sess, 2, int64(1<<62))

	assert.False(t, p.Scan())
	assert.NoError(t, p.Err())
	assert.False(t, p.Scan(), "a stopped pipeline stays stopped")
}

func TestPipelineConnectionLoss(t *testing.T) {
	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)
		_ = readRequest(t, r)
		writeAll(t, conn, frameResponse("1000", []byte("only")))
		_ = conn.Close()
	})

	sess := connectSession(t, srv)
	p := NewPipeline(sess, 4, int64(1<<62))

	require.True(t, p.Scan())
	assert.False(t, p.Scan())
	assert.ErrorIs(t, p.Err(), ErrConnectionClosed)
	assert.False(t, p.Scan(), "a failed pipeline stays failed")
}

func TestPipelineDepthDefault(t *testing.T) {
	sess := NewSession(Options{})
	assert.Equal(t, DefaultPipelineDepth, NewPipeline(sess, 0, 0).depth)
	assert.Equal(t, DefaultPipelineDepth, NewPipeline(sess, -3, 0).depth)
	assert.Equal(t, 9, NewPipeline(sess, 9, 0).depth)
}
