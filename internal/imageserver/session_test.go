package imageserver

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockImageServer accepts one connection and hands it to script. The script
// runs in its own goroutine; test assertions inside it are reported through
// the usual testing plumbing because testify only needs the *testing.T.
type mockImageServer struct {
	ln   net.Listener
	done chan struct{}
}

func startMockServer(t *testing.T, script func(t *testing.T, conn net.Conn, r *bufio.Reader)) *mockImageServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &mockImageServer{ln: ln, done: make(chan struct{})}
	go func() {
		defer close(srv.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(t, conn, bufio.NewReader(conn))
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		select {
		case <-srv.done:
		case <-time.After(2 * time.Second):
			t.Log("mock server script did not finish")
		}
	})
	return srv
}

func (m *mockImageServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(m.ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// readRequest consumes one terminator-delimited request from the client.
func readRequest(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return buf.String()
			}
			require.NoError(t, err)
		}
		buf.WriteByte(b)
		if bytes.HasSuffix(buf.Bytes(), terminator) {
			return strings.TrimSuffix(buf.String(), "\r\n\r\n")
		}
	}
}

func writeAll(t *testing.T, conn net.Conn, data []byte) {
	t.Helper()
	_, err := conn.Write(data)
	require.NoError(t, err)
}

func frameResponse(current string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("Current=" + current + "\r\n")
	buf.WriteString("Content-length=" + strconv.Itoa(len(payload)) + "\r\n\r\n")
	buf.Write(payload)
	if len(payload) > 0 {
		buf.WriteString("\r\n\r\n")
	}
	return buf.Bytes()
}

func connectAccept(t *testing.T, conn net.Conn, r *bufio.Reader) {
	t.Helper()
	req := readRequest(t, r)
	assert.Contains(t, req, "<methodname>connect</methodname>")
	assert.Contains(t, req, "<requestid>1</requestid>")
	writeAll(t, conn, []byte("Connected=Yes\r\n\r\n"))
}

func TestSessionEndToEnd(t *testing.T) {
	payload := []byte("0123456789")

	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)

		req := readRequest(t, r)
		assert.Contains(t, req, "<methodname>goto</methodname>")
		assert.Contains(t, req, "<requestid>2</requestid>")
		assert.Contains(t, req, "<time>1000</time>")
		writeAll(t, conn, []byte("Current=1000\r\nContent-length=0\r\n\r\n"))

		req = readRequest(t, r)
		assert.Contains(t, req, "<methodname>next</methodname>")
		assert.Contains(t, req, "<requestid>3</requestid>")
		writeAll(t, conn, frameResponse("1500", payload))
	})

	host, port := srv.hostPort(t)
	sess := NewSession(Options{TranscodeJPEG: true})
	defer sess.Close()

	_, err := sess.Connect(host, port, "cam-1", "token-1")
	require.NoError(t, err)
	assert.True(t, sess.Connected())

	h, data, err := sess.Goto(1000)
	require.NoError(t, err)
	assert.Empty(t, data)
	ts, ok := h.Timestamp()
	assert.True(t, ok)
	assert.Equal(t, int64(1000), ts)

	h, data, err = sess.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	ts, ok = h.Timestamp()
	assert.True(t, ok)
	assert.Equal(t, int64(1500), ts)
}

func TestSessionRequestIDsAreSequential(t *testing.T) {
	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		for want := 1; want <= 4; want++ {
			req := readRequest(t, r)
			assert.Contains(t, req, "<requestid>"+strconv.Itoa(want)+"</requestid>")
			if want == 1 {
				writeAll(t, conn, []byte("Connected=Yes\r\n\r\n"))
			} else {
				writeAll(t, conn, frameResponse(strconv.Itoa(want*100), []byte{0x01}))
			}
		}
	})

	host, port := srv.hostPort(t)
	sess := NewSession(Options{})
	defer sess.Close()

	_, err := sess.Connect(host, port, "cam-1", "tok")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := sess.NextFrame()
		require.NoError(t, err)
	}
}

func TestSessionPayloadSplitAcrossReads(t *testing.T) {
	payload := bytes.Repeat([]byte{0xCD}, 200_000) // forces several 64 KiB reads

	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)
		_ = readRequest(t, r)

		writeAll(t, conn, []byte("Current=42\r\nContent-length="+strconv.Itoa(len(payload))+"\r\n\r\n"))
		// Dribble the payload to force accumulation across reads.
		for i := 0; i < len(payload); i += 50_000 {
			end := i + 50_000
			if end > len(payload) {
				end = len(payload)
			}
			writeAll(t, conn, payload[i:end])
			time.Sleep(5 * time.Millisecond)
		}
		writeAll(t, conn, []byte("\r\n\r\n"))
	})

	host, port := srv.hostPort(t)
	sess := NewSession(Options{})
	defer sess.Close()

	_, err := sess.Connect(host, port, "cam-1", "tok")
	require.NoError(t, err)

	_, data, err := sess.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestSessionHeaderAndPayloadInOneSegment(t *testing.T) {
	first := []byte("AAAABBBB")
	second := []byte("CCCCDD")

	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)
		_ = readRequest(t, r)

		// Two complete responses in a single TCP segment. The first call
		// must take exactly its declared payload and leave the rest for
		// the next call.
		var buf bytes.Buffer
		buf.Write(frameResponse("100", first))
		buf.Write(frameResponse("200", second))
		writeAll(t, conn, buf.Bytes())

		_ = readRequest(t, r) // second next request, answered from the buffer
	})

	host, port := srv.hostPort(t)
	sess := NewSession(Options{})
	defer sess.Close()

	_, err := sess.Connect(host, port, "cam-1", "tok")
	require.NoError(t, err)

	h, data, err := sess.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, first, data)
	ts, _ := h.Timestamp()
	assert.Equal(t, int64(100), ts)

	h, data, err = sess.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, second, data)
	ts, _ = h.Timestamp()
	assert.Equal(t, int64(200), ts)
}

func TestSessionEndOfStream(t *testing.T) {
	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)
		_ = readRequest(t, r)
		// No length key at all: the designated end-of-stream signal.
		writeAll(t, conn, []byte("Current=900\r\n\r\n"))
	})

	host, port := srv.hostPort(t)
	sess := NewSession(Options{})
	defer sess.Close()

	_, err := sess.Connect(host, port, "cam-1", "tok")
	require.NoError(t, err)

	h, data, err := sess.NextFrame()
	require.NoError(t, err, "missing length is not a fault")
	assert.Empty(t, data)
	assert.Nil(t, h.ContentLength)
}

func TestSessionConnectRejected(t *testing.T) {
	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		_ = readRequest(t, r)
		writeAll(t, conn, []byte("Connected=No\r\nErrorReason=invalid connection token\r\n\r\n"))
	})

	host, port := srv.hostPort(t)
	sess := NewSession(Options{})
	defer sess.Close()

	_, err := sess.Connect(host, port, "cam-1", "bad-token")
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, "invalid connection token", hsErr.Reason)
	assert.False(t, sess.Connected())
}

func TestSessionConnectRejectedWithoutReason(t *testing.T) {
	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		_ = readRequest(t, r)
		writeAll(t, conn, []byte("Connected=No\r\n\r\n"))
	})

	host, port := srv.hostPort(t)
	sess := NewSession(Options{})
	defer sess.Close()

	_, err := sess.Connect(host, port, "cam-1", "tok")
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, "unknown error", hsErr.Reason)
}

func TestSessionPreconditions(t *testing.T) {
	sess := NewSession(Options{})

	_, _, err := sess.Goto(1000)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, _, err = sess.NextFrame()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionConnectionClosedMidPayload(t *testing.T) {
	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)
		_ = readRequest(t, r)
		writeAll(t, conn, []byte("Current=10\r\nContent-length=100\r\n\r\npartial"))
		_ = conn.Close()
	})

	host, port := srv.hostPort(t)
	sess := NewSession(Options{})
	defer sess.Close()

	_, err := sess.Connect(host, port, "cam-1", "tok")
	require.NoError(t, err)

	_, _, err = sess.NextFrame()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestSessionCloseIdempotent(t *testing.T) {
	sess := NewSession(Options{})
	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())

	srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
		connectAccept(t, conn, r)
	})
	host, port := srv.hostPort(t)

	sess = NewSession(Options{})
	_, err := sess.Connect(host, port, "cam-1", "tok")
	require.NoError(t, err)

	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())
	assert.False(t, sess.Connected())
}

func TestSessionCodecPreferenceElement(t *testing.T) {
	tests := []struct {
		name      string
		transcode bool
		want      string
	}{
		{"transcoded stills", true, "<alwaysstdjpeg>yes</alwaysstdjpeg>"},
		{"native codec", false, "<alwaysstdjpeg>no</alwaysstdjpeg>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chan string, 1)
			srv := startMockServer(t, func(t *testing.T, conn net.Conn, r *bufio.Reader) {
				req := readRequest(t, r)
				got <- req
				writeAll(t, conn, []byte("Connected=Yes\r\n\r\n"))
			})

			host, port := srv.hostPort(t)
			sess := NewSession(Options{TranscodeJPEG: tt.transcode})
			defer sess.Close()

			_, err := sess.Connect(host, port, "cam-9", "tok-9")
			require.NoError(t, err)

			req := <-got
			assert.Contains(t, req, tt.want)
			assert.Contains(t, req, "id=cam-9&amp;connectiontoken=tok-9")
		})
	}
}
