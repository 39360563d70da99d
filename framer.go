package mascara

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// frameTerminator is the two-byte delimiter every frame ends with
// (spec.md §2, §4.1).
const frameTerminator = "\r\n"

// Framer serializes a Message to its wire form: UTF-8 JSON followed by
// "\r\n". It carries no state; unlike the teacher's transports (which
// write directly to a socket per call), Frame returns bytes so callers
// can serialize outbound writes through a single mutex the way
// llmdo/mcpc's WebSocketTransport.Send does with its muW lock.
type Framer struct{}

// Frame encodes one Message as a complete wire frame.
func (Framer) Frame(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("mascara: encode frame: %w", err)
	}
	if bytes.Contains(body, []byte(frameTerminator)) {
		// Standard JSON string escaping keeps control characters like
		// \r and \n out of the emitted line; if they show up anyway a
		// caller marshaled something that bypassed encoding/json.
		return nil, fmt.Errorf("mascara: encoded frame contains embedded %q", frameTerminator)
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, body...)
	out = append(out, frameTerminator...)
	return out, nil
}
