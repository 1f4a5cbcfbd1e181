// Package imageserver implements the client side of the Milestone
// ImageServer protocol: a stateful TCP session on port 7563 that interleaves
// single-line XML method calls with length-framed binary frame payloads.
package imageserver

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/conticomp/xprotect-export/internal/logger"
	"github.com/conticomp/xprotect-export/internal/metrics"
)

// DefaultPort is the ImageServer listen port on a recording server.
const DefaultPort = 7563

// DefaultTimeout bounds the connect dial and every blocking socket read.
const DefaultTimeout = 30 * time.Second

// Options configures a Session.
type Options struct {
	// Timeout bounds the dial and each blocking read. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// TranscodeJPEG asks the recording server to transcode every frame to
	// a standard JPEG (alwaysstdjpeg=yes). When false the server delivers
	// native codec payloads, usually wrapped in its generic byte-data
	// header. Fixed for the lifetime of the session.
	TranscodeJPEG bool

	Logger logger.Logger
}

// Session is one exclusive client connection to a recording server. It owns
// the socket, the monotonic request-id counter, and the receive buffer. A
// session is not safe for concurrent use; the protocol itself is strictly
// sequential per connection.
type Session struct {
	opts Options

	conn      net.Conn
	timeout   time.Duration
	requestID uint64
	connected bool
	cameraID  string
	logger    logger.Logger

	// rbuf carries bytes that arrived beyond the current message, which
	// happens routinely once requests are pipelined.
	rbuf []byte
}

// NewSession creates an unconnected session.
func NewSession(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Session{
		opts:    opts,
		timeout: opts.Timeout,
		logger:  log.WithField("component", "imageserver"),
	}
}

// Connect dials the recording server and performs the protocol handshake.
// The token is the ImageServer session token from the management server's
// SOAP Login; it is opaque to this client. On success the session becomes
// connected; on any failure it stays unusable.
func (s *Session) Connect(host string, port int, cameraID, token string) (Headers, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.logger.WithFields(logger.Fields{
		"addr":      addr,
		"camera_id": cameraID,
	}).Debug("Connecting to ImageServer")

	conn, err := net.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		metrics.IncSessionConnect(false)
		return Headers{}, fmt.Errorf("imageserver: dial %s: %w", addr, err)
	}
	s.conn = conn
	s.cameraID = cameraID

	jpeg := "no"
	if s.opts.TranscodeJPEG {
		jpeg = "yes"
	}

	// Username and password are placeholders; authentication rides on the
	// connection token inside connectparam.
	err = s.send(methodConnect, []element{
		{"username", "dummy"},
		{"password", "dummy"},
		{"alwaysstdjpeg", jpeg},
		{"connectparam", fmt.Sprintf("id=%s&amp;connectiontoken=%s", cameraID, token)},
	})
	if err != nil {
		s.Close()
		metrics.IncSessionConnect(false)
		return Headers{}, err
	}

	h, err := s.readConnectResponse()
	if err != nil {
		s.Close()
		metrics.IncSessionConnect(false)
		return Headers{}, err
	}

	if !strings.EqualFold(h.Connected, "yes") {
		reason := h.ErrorReason
		if reason == "" {
			reason = "unknown error"
		}
		s.Close()
		metrics.IncSessionConnect(false)
		return h, &HandshakeError{Reason: reason}
	}

	s.connected = true
	metrics.IncSessionConnect(true)
	s.logger.WithField("camera_id", cameraID).Info("ImageServer session established")
	return h, nil
}

// Goto seeks the session's temporal cursor to the given millisecond epoch
// timestamp. The server may attach the frame at or after that time to the
// response; when it does, the payload is returned alongside the headers.
// Valid only on a connected session.
func (s *Session) Goto(timestampMs int64) (Headers, []byte, error) {
	if !s.connected {
		return Headers{}, nil, ErrNotConnected
	}

	err := s.send(methodGoto, []element{
		{"time", strconv.FormatInt(timestampMs, 10)},
	})
	if err != nil {
		return Headers{}, nil, err
	}
	return s.readResponse()
}

// NextFrame advances the cursor and returns the next recorded frame. An
// empty payload with no error is the server's end-of-stream signal. Valid
// only on a connected session.
func (s *Session) NextFrame() (Headers, []byte, error) {
	if !s.connected {
		return Headers{}, nil, ErrNotConnected
	}

	if err := s.sendNext(); err != nil {
		return Headers{}, nil, err
	}
	return s.readResponse()
}

// sendNext issues an advance-cursor request without waiting for the
// response. The pipeline uses it to keep several requests outstanding.
func (s *Session) sendNext() error {
	if !s.connected {
		return ErrNotConnected
	}
	return s.send(methodNext, nil)
}

// receive reads one framed response. Paired with sendNext by the pipeline;
// responses arrive in send order.
func (s *Session) receive() (Headers, []byte, error) {
	if !s.connected {
		return Headers{}, nil, ErrNotConnected
	}
	return s.readResponse()
}

// send frames and writes one method call. The request id is incremented
// before each send, so a session issues ids 1, 2, 3, ... with no gaps.
func (s *Session) send(method string, elements []element) error {
	s.requestID++
	msg := encodeMethodCall(s.requestID, method, elements)

	s.logger.WithFields(logger.Fields{
		"request_id": s.requestID,
		"method":     method,
	}).Debug("Sending method call")

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("imageserver: set write deadline: %w", err)
	}
	if _, err := s.conn.Write(msg); err != nil {
		return fmt.Errorf("imageserver: write %s request: %w", method, err)
	}
	return nil
}

// Close releases the socket. Idempotent and safe on a never-connected
// session.
func (s *Session) Close() error {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.rbuf = nil
	return nil
}

// Connected reports whether the handshake has completed on this session.
func (s *Session) Connected() bool {
	return s.connected
}

// CameraID returns the camera this session was connected for.
func (s *Session) CameraID() string {
	return s.cameraID
}
