package mascara

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only accepted "jsonrpc" field value.
const JSONRPCVersion = "2.0"

// Message is the decoded form of one frame. Exactly one of the four
// shapes below is populated, mirroring the JSON-RPC 2.0 positional
// profile in spec.md §3: request, success response, error response,
// or notification. Params and Result are always positional arrays;
// an object-shaped params/result is a protocol error and is rejected
// by the deframer before a Message is ever produced.
type Message struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *string           `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  []json.RawMessage `json:"params,omitempty"`
	Result  []json.RawMessage `json:"result,omitempty"`
	Error   *RPCError         `json:"error,omitempty"`
}

// MarshalJSON writes an empty non-nil Result as "result":[] rather than
// letting omitempty drop it, so an empty success keeps its result array.
func (m *Message) MarshalJSON() ([]byte, error) {
	type wire Message
	if m.Result != nil && len(m.Result) == 0 {
		return json.Marshal(struct {
			*wire
			Result []json.RawMessage `json:"result"`
		}{(*wire)(m), m.Result})
	}
	return json.Marshal((*wire)(m))
}

// Kind classifies a decoded Message.
type Kind int

const (
	// KindInvalid marks a message that satisfies none of the four
	// JSON-RPC shapes this profile recognizes.
	KindInvalid Kind = iota
	KindRequest
	KindSuccess
	KindError
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Classify determines which of the four message shapes m satisfies.
// A request has both id and method; a notification has method and no
// id; an error response has id and error (id may be null if the
// sender could not associate it with a request, spec.md §3); a
// success response has id and a (possibly empty) result array.
func (m *Message) Classify() Kind {
	if m.JSONRPC != JSONRPCVersion {
		return KindInvalid
	}
	switch {
	case m.ID != nil && m.Method != "":
		return KindRequest
	case m.ID == nil && m.Method != "":
		return KindNotification
	case m.Error != nil:
		return KindError
	case m.ID != nil && m.Result != nil:
		return KindSuccess
	default:
		return KindInvalid
	}
}

// RPCError is the standard JSON-RPC error shape (spec.md §6). The core
// defines a single generic error category; specific codes beyond the
// handful the engine itself produces are an application concern.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mascara: rpc error %d: %s", e.Code, e.Message)
}

// Error codes the core itself produces (spec.md §6, §7).
const (
	CodeInvalidMethod = -32601
	CodeInternal      = -32603
	CodeProtocol      = -32600
)

// NewRequest builds a request Message with positional params.
func NewRequest(id, method string, params []any) (*Message, error) {
	raw, err := marshalPositional(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: JSONRPCVersion, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification Message with positional params.
func NewNotification(method string, params []any) (*Message, error) {
	raw, err := marshalPositional(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewSuccess builds a success response Message with positional result.
func NewSuccess(id string, result []any) (*Message, error) {
	raw, err := marshalPositional(result)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = []json.RawMessage{}
	}
	return &Message{JSONRPC: JSONRPCVersion, ID: &id, Result: raw}, nil
}

// NewError builds an error response Message. id may be nil when the
// failure could not be correlated to a request (spec.md §3, "id may be
// null if unassociable").
func NewError(id *string, code int, message string) *Message {
	return &Message{JSONRPC: JSONRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}}
}

func marshalPositional(values []any) ([]json.RawMessage, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		if raw, ok := v.(json.RawMessage); ok {
			out[i] = raw
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("mascara: marshal positional value %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
