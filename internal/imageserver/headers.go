package imageserver

import (
	"strconv"
	"strings"
)

// Headers is the parsed key/value preamble of one server response. The
// protocol does not guarantee any particular key set, so every recognized
// field is optional; unrecognized keys are preserved in Extra.
type Headers struct {
	// Connected carries the handshake result ("yes" on success). Only set
	// on connect responses.
	Connected string

	// ErrorReason carries the server-provided failure detail on a rejected
	// handshake.
	ErrorReason string

	// Current is the frame position as millisecond epoch text. Use
	// Timestamp to read it as an integer.
	Current string

	// ContentLength is the declared payload byte count. nil means the
	// response carries no payload and signals end of stream; it is not an
	// error.
	ContentLength *int64

	// ContentType is the payload MIME type when the server reports one.
	ContentType string

	// Extra holds every header line that did not map to a named field,
	// keyed exactly as received.
	Extra map[string]string
}

// Timestamp parses the Current field as a millisecond epoch value. The
// second return is false when the field is absent or not an integer; that is
// not a fault.
func (h Headers) Timestamp() (int64, bool) {
	if h.Current == "" {
		return 0, false
	}
	ts, err := strconv.ParseInt(h.Current, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// parseHeaders splits a header block into a Headers record. Lines are
// CRLF-separated; each line splits at the first "=" or, when no "=" is
// present, the first ":". Both separator styles produce identical results.
func parseHeaders(block []byte) Headers {
	h := Headers{Extra: make(map[string]string)}

	for _, line := range strings.Split(string(block), "\r\n") {
		var key, value string
		if i := strings.IndexByte(line, '='); i >= 0 {
			key, value = line[:i], line[i+1:]
		} else if i := strings.IndexByte(line, ':'); i >= 0 {
			key, value = line[:i], line[i+1:]
		} else {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch strings.ToLower(key) {
		case "connected":
			h.Connected = value
		case "errorreason", "error reason":
			h.ErrorReason = value
		case "current":
			h.Current = value
		case "content-length", "content length":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				h.ContentLength = &n
			}
		case "content-type", "content type":
			h.ContentType = value
		default:
			h.Extra[key] = value
		}
	}

	return h
}

// parseConnectResponse interprets a connect response. The handshake answer
// arrives as fixed-shape single-line markup rather than key/value lines on
// some server versions, so after the dictionary pass it falls back to
// scanning for the connected and errorreason elements.
func parseConnectResponse(block []byte) Headers {
	h := parseHeaders(block)
	if h.Connected != "" {
		return h
	}

	text := strings.ToLower(string(block))
	if v, ok := extractElement(text, "connected"); ok {
		h.Connected = v
	}
	if v, ok := extractElement(string(block), "errorreason"); ok {
		h.ErrorReason = v
	}
	return h
}

// extractElement pulls the text content of a fixed-shape <name>...</name>
// element out of a single-line response. Not a general XML parser.
func extractElement(text, name string) (string, bool) {
	open := "<" + name + ">"
	close := "</" + name + ">"
	i := strings.Index(text, open)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
