package imageserver

import (
	"errors"

	"github.com/conticomp/xprotect-export/internal/metrics"
)

// DefaultPipelineDepth is the default number of outstanding frame requests.
const DefaultPipelineDepth = 5

// Frame is one retrieved frame plus its header metadata.
type Frame struct {
	Headers Headers
	Payload []byte

	// Timestamp is the frame position in millisecond epoch time.
	// HasTimestamp is false when the server response carried no parsable
	// Current field.
	Timestamp    int64
	HasTimestamp bool
}

// Pipeline retrieves frames with a bounded window of outstanding advance
// requests on a single session. Keeping several requests in flight overlaps
// network round trips with frame delivery; without it every frame costs one
// full round trip.
//
// Usage follows the scanner idiom:
//
//	p := NewPipeline(sess, depth, endMs)
//	for p.Scan() {
//	    frame := p.Frame()
//	    ...
//	}
//	if err := p.Err(); err != nil { ... }
//
// Iteration stops on the first empty payload (server end of stream) or the
// first frame whose timestamp reaches endMs. The consumer cancels simply by
// not calling Scan again; responses still in flight are never read, so the
// session must be closed rather than reused afterwards.
type Pipeline struct {
	sess  *Session
	depth int
	endMs int64

	inFlight int
	started  bool
	done     bool
	cur      Frame
	err      error
}

// NewPipeline creates a pipeline over an already-connected session. Frames
// with timestamps at or past endMs terminate the iteration. depth bounds
// the outstanding request count; values below one fall back to
// DefaultPipelineDepth.
func NewPipeline(sess *Session, depth int, endMs int64) *Pipeline {
	if depth < 1 {
		depth = DefaultPipelineDepth
	}
	return &Pipeline{
		sess:  sess,
		depth: depth,
		endMs: endMs,
	}
}

// Scan advances to the next in-range frame. It returns false at end of
// stream, at the end boundary, or on error; Err distinguishes the fault
// case.
func (p *Pipeline) Scan() bool {
	if p.done || p.err != nil {
		return false
	}

	// Fill the window once, up front. After this, every received frame
	// that keeps the iteration alive is replaced by exactly one request,
	// so the in-flight count never exceeds the configured depth.
	if !p.started {
		p.started = true
		for i := 0; i < p.depth; i++ {
			if err := p.sess.sendNext(); err != nil {
				p.fail(err)
				return false
			}
			p.inFlight++
		}
		p.publishInFlight()
	}

	h, payload, err := p.sess.receive()
	if err != nil {
		p.fail(err)
		return false
	}
	p.inFlight--
	p.publishInFlight()

	// Empty payload is the server's end-of-stream signal, not a fault.
	if len(payload) == 0 {
		p.stop()
		return false
	}

	ts, ok := h.Timestamp()
	if ok && ts >= p.endMs {
		p.stop()
		return false
	}

	if err := p.sess.sendNext(); err != nil {
		p.fail(err)
		return false
	}
	p.inFlight++
	p.publishInFlight()

	p.cur = Frame{
		Headers:      h,
		Payload:      payload,
		Timestamp:    ts,
		HasTimestamp: ok,
	}
	return true
}

// Frame returns the frame produced by the last successful Scan.
func (p *Pipeline) Frame() Frame {
	return p.cur
}

// Err returns the first fault encountered, or nil when the iteration ended
// on a stop condition.
func (p *Pipeline) Err() error {
	return p.err
}

// InFlight returns the current outstanding request count.
func (p *Pipeline) InFlight() int {
	return p.inFlight
}

func (p *Pipeline) fail(err error) {
	p.err = err
	p.done = true
	metrics.IncSessionError(p.sess.CameraID(), errorLabel(err))
	p.publishInFlight()
}

func (p *Pipeline) stop() {
	p.done = true
	p.publishInFlight()
}

func (p *Pipeline) publishInFlight() {
	metrics.SetPipelineInFlight(p.sess.CameraID(), p.inFlight)
}

// errorLabel reduces a session fault to a metric label.
func errorLabel(err error) string {
	switch {
	case IsConnectionClosed(err):
		return "connection_closed"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	default:
		return "other"
	}
}
