package mascara

import (
	"encoding/json"
	"errors"
	"strings"
)

// Deframer accumulates inbound bytes and splits them into decoded
// Messages on "\r\n" boundaries (spec.md §4.1). It is not safe for
// concurrent use; one Deframer belongs to exactly one connection's
// read side, the same way llmdo/mcpc's transports own a single
// recvC per connection.
type Deframer struct {
	buf    strings.Builder
	strict bool
}

// NewDeframer returns a lenient Deframer: on a complete frame that
// fails to parse, it holds the buffer position and waits for more
// bytes rather than closing the connection (spec.md §4.1's reference
// behavior, SPEC_FULL.md Open Question 1).
func NewDeframer() *Deframer {
	return &Deframer{}
}

// NewStrictDeframer returns a Deframer that treats a parse failure on a
// terminated frame followed by at least one more terminated frame as a
// fatal FrameDecodeError. A failing frame with no terminated frame after
// it is held, as in lenient mode.
func NewStrictDeframer() *Deframer {
	return &Deframer{strict: true}
}

var errInvalidShape = errors.New("mascara: frame is not a request, response, or notification")

// Feed appends chunk to the buffer and returns every complete Message
// decoded from the front of it, in order. On a strict decoder a
// non-nil error means the caller must close the connection; any
// Messages returned alongside the error were fully parsed before the
// failure and remain valid.
func (d *Deframer) Feed(chunk []byte) ([]*Message, error) {
	d.buf.Write(chunk)
	full := d.buf.String()
	if !strings.Contains(full, frameTerminator) {
		return nil, nil
	}

	parts := strings.Split(full, frameTerminator)
	// The final element is whatever trails the last terminator seen so
	// far: "" if the buffer ends exactly on a boundary, otherwise a
	// still-partial frame. It is never treated as complete.
	pending := parts[len(parts)-1]
	complete := parts[:len(parts)-1]

	var out []*Message
	for i, frame := range complete {
		if frame == "" {
			continue
		}
		msg, err := decodeFrame(frame)
		if err != nil {
			following := complete[i+1:]
			d.rejoin(frame, following, pending)
			if d.strict && len(following) > 0 {
				return out, &FrameDecodeError{Frame: []byte(frame), Err: err}
			}
			return out, nil
		}
		out = append(out, msg)
	}

	d.buf.Reset()
	d.buf.WriteString(pending)
	return out, nil
}

// rejoin restores the buffer to hold everything from the failing frame
// onward, so a later Feed call re-attempts parsing it once more bytes
// arrive (spec.md §4.1's "hold position" rationale).
func (d *Deframer) rejoin(failed string, following []string, pending string) {
	var b strings.Builder
	b.WriteString(failed)
	b.WriteString(frameTerminator)
	for _, f := range following {
		b.WriteString(f)
		b.WriteString(frameTerminator)
	}
	b.WriteString(pending)
	d.buf.Reset()
	d.buf.WriteString(b.String())
}

func decodeFrame(frame string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(frame), &m); err != nil {
		return nil, err
	}
	if m.Classify() == KindInvalid {
		return nil, errInvalidShape
	}
	return &m, nil
}
