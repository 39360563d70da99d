package mascara

import (
	"context"
	"io"
)

// Transport is a bidirectional byte stream, matching llmdo/mcpc's
// Transport interface but expressed over io.Reader/io.Writer rather
// than a receive channel, since the deframer needs raw chunks and
// having Transport own framing (as the teacher's stdio transport did
// with Content-Length headers) would duplicate spec.md §4.1's framing
// rules in every transport implementation.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// ServerFactory produces a listener that accepts Transports. The core
// never interprets the address; it is passed through verbatim
// (spec.md §6).
type ServerFactory interface {
	Listen(ctx context.Context, network, address string) (Listener, error)
}

// Listener accepts inbound connections as Transports.
type Listener interface {
	Accept(ctx context.Context) (Transport, error)
	Close() error
	Addr() string
}

// ClientFactory produces an unconnected client Transport.
type ClientFactory interface {
	Dial(ctx context.Context, network, address string) (Transport, error)
}
