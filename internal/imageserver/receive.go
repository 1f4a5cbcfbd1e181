package imageserver

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	// maxReadChunk bounds each socket read while accumulating payload bytes.
	maxReadChunk = 64 * 1024

	// recvChunk is the read size while hunting for the header terminator.
	recvChunk = 4096

	// trailerProbeTimeout bounds the best-effort drain of the trailing
	// terminator. Go exposes no non-blocking read on net.Conn, so the drain
	// is a deadline-bounded probe instead; it never suspends the session
	// for longer than this.
	trailerProbeTimeout = time.Millisecond
)

// readResponse reads one framed response: a header block terminated by
// double CRLF, optionally followed by exactly ContentLength payload bytes.
// Bytes received past the declared length belong to the next response and
// are kept in the session's carry-over buffer.
//
// A missing length key yields a nil payload and no error; that is the
// protocol's end-of-stream signal.
func (s *Session) readResponse() (Headers, []byte, error) {
	block, err := s.readHeaderBlock()
	if err != nil {
		return Headers{}, nil, err
	}

	h := parseHeaders(block)
	return s.readDeclaredPayload(h)
}

// readConnectResponse is readResponse with the handshake-specific header
// interpretation.
func (s *Session) readConnectResponse() (Headers, error) {
	block, err := s.readHeaderBlock()
	if err != nil {
		return Headers{}, err
	}

	h := parseConnectResponse(block)
	h, _, err = s.readDeclaredPayload(h)
	return h, err
}

// readHeaderBlock accumulates bytes until the terminator appears, returns
// the block before it and stashes everything after it in s.rbuf. Payload
// bytes routinely arrive in the same TCP segment as the header block.
func (s *Session) readHeaderBlock() ([]byte, error) {
	for {
		if i := bytes.Index(s.rbuf, terminator); i >= 0 {
			block := s.rbuf[:i]
			s.rbuf = append([]byte(nil), s.rbuf[i+len(terminator):]...)
			return block, nil
		}

		chunk := make([]byte, recvChunk)
		n, err := s.readWithDeadline(chunk)
		if n > 0 {
			s.rbuf = append(s.rbuf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, connectionLost(err)
		}
	}
}

// readDeclaredPayload reads the payload the headers declare, starting from
// any carry-over bytes already received.
func (s *Session) readDeclaredPayload(h Headers) (Headers, []byte, error) {
	if h.ContentLength == nil || *h.ContentLength == 0 {
		return h, nil, nil
	}
	length := int(*h.ContentLength)

	payload := make([]byte, 0, length)
	if len(s.rbuf) > 0 {
		take := len(s.rbuf)
		if take > length {
			take = length
		}
		payload = append(payload, s.rbuf[:take]...)
		s.rbuf = append([]byte(nil), s.rbuf[take:]...)
	}

	for len(payload) < length {
		remaining := length - len(payload)
		if remaining > maxReadChunk {
			remaining = maxReadChunk
		}
		chunk := make([]byte, remaining)
		n, err := s.readWithDeadline(chunk)
		if n > 0 {
			payload = append(payload, chunk[:n]...)
			continue
		}
		if err != nil {
			return h, nil, connectionLost(err)
		}
	}

	s.drainTrailer()
	return h, payload, nil
}

// drainTrailer consumes the short terminator the server sends after payload
// bytes. Best effort: absence of trailing bytes is normal and must not
// stall the session. When the trailer already sits in the carry-over buffer
// it is stripped there; otherwise one bounded probe is made on the socket
// and anything read beyond the trailer is returned to the buffer for the
// next response.
func (s *Session) drainTrailer() {
	if len(s.rbuf) > 0 {
		s.rbuf = stripTrailerPrefix(s.rbuf)
		return
	}

	// Bounded probe with the read deadline restored on every exit path.
	_ = s.conn.SetReadDeadline(time.Now().Add(trailerProbeTimeout))
	defer func() {
		_ = s.conn.SetReadDeadline(time.Time{})
	}()

	tmp := make([]byte, len(terminator))
	n, _ := s.conn.Read(tmp)
	if n > 0 {
		s.rbuf = stripTrailerPrefix(tmp[:n])
	}
}

// stripTrailerPrefix removes a leading run of terminator bytes from buf.
func stripTrailerPrefix(buf []byte) []byte {
	i := 0
	for i < len(buf) && i < len(terminator) && buf[i] == terminator[i] {
		i++
	}
	return append([]byte(nil), buf[i:]...)
}

// readWithDeadline performs one blocking read bounded by the session
// timeout.
func (s *Session) readWithDeadline(b []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return 0, err
	}
	return s.conn.Read(b)
}

// connectionLost maps a low-level read failure onto the session's fatal
// fault taxonomy. A zero-byte read (EOF) is the connection-closed fault; a
// timed-out read surfaces as a timeout so the caller can tell them apart.
func connectionLost(err error) error {
	var netErr net.Error
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("imageserver: read timed out: %w", err)
	}
	return ErrConnectionClosed
}
