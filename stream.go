package mascara

import (
	"context"
	"sync"
)

// streamEndpoint is implemented by *Producer and *Consumer so the
// server dispatcher can recognize a handler result slot that must be
// minted into a pointer instead of marshaled as plain JSON, and know
// which kind to mint (spec.md §4.2, §4.3).
type streamEndpoint interface {
	streamKind() StreamKind
}

// Producer is a local stream endpoint that emits data. It plays two
// roles depending on which side of a pointer it sits on (spec.md
// §4.2's tie-break paragraph):
//
//   - On the minting side, a handler returns a *Producer to have a
//     "readable" pointer minted; the engine subscribes to it and turns
//     each Send into an outbound notification.
//   - On the receiving side, a "writable" pointer is bound to a local
//     *Producer that the application writes to; each Send is forwarded
//     to the peer as a notification instead of being locally queued.
//
// Both roles share the same emit-and-drain shape, so one type serves
// both; only who drains it differs.
type Producer struct {
	mu     sync.Mutex
	ch     chan any
	done   chan struct{}
	err    error
	closed bool
}

// NewProducer creates a Producer with the given buffer size for pending
// emitted items awaiting drain.
func NewProducer(buffer int) *Producer {
	return &Producer{ch: make(chan any, buffer), done: make(chan struct{})}
}

func (*Producer) streamKind() StreamKind { return KindReadable }

// Send emits one chunk. It blocks if the drain side is behind the
// buffer (spec.md §9 notes no back-pressure is defined across the
// pointer boundary itself, but a local channel still bounds memory).
// Send after End or Fail returns ErrStreamClosed.
func (p *Producer) Send(ctx context.Context, v any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrStreamClosed
	}
	p.mu.Unlock()
	select {
	case p.ch <- v:
		return nil
	case <-p.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End signals a clean end of stream.
func (p *Producer) End() { p.finish(nil) }

// Fail signals the stream ended in error. Per spec.md §9, remote peers
// only ever observe a bare null terminator identical to End; Fail
// preserves the distinction locally by recording err on this Producer,
// where the package-internal failure() reads it back. It is not
// reported to the Observer. See SPEC_FULL.md Open Question 2.
func (p *Producer) Fail(err error) { p.finish(err) }

func (p *Producer) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	close(p.done)
}

// drain is used internally by the engine (mint-side subscription, or
// receive-side forwarding) to consume emitted items in order until End
// or Fail. It is not part of the public API.
func (p *Producer) drain() <-chan any { return p.ch }
func (p *Producer) finished() <-chan struct{} { return p.done }
func (p *Producer) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Consumer is a local stream endpoint that receives data pushed into it
// by the engine. Symmetric to Producer:
//
//   - On the minting side, a handler returns a *Consumer to have a
//     "writable" pointer minted; the engine pushes each inbound
//     notification for that pointer into it, and the handler reads via
//     Recv/Items.
//   - On the receiving side, a "readable" pointer is bound to a local
//     *Consumer that the application reads from.
type Consumer struct {
	mu     sync.Mutex
	ch     chan any
	done   chan struct{}
	err    error
	closed bool
}

// NewConsumer creates a Consumer with the given buffer size for items
// pushed into it ahead of being read.
func NewConsumer(buffer int) *Consumer {
	return &Consumer{ch: make(chan any, buffer), done: make(chan struct{})}
}

func (*Consumer) streamKind() StreamKind { return KindWritable }

// ErrStreamClosed is returned by Send/Recv once an endpoint has ended.
var ErrStreamClosed = errStreamClosed{}

type errStreamClosed struct{}

func (errStreamClosed) Error() string { return "mascara: stream closed" }

// Recv blocks for the next item, returning ok=false once the stream has
// ended (cleanly or in error; Err reports which). Delivering the
// end-of-stream marker to an already-ended Consumer is a no-op
// (spec.md §8 idempotent-termination invariant): once done is closed,
// every subsequent Recv immediately returns ok=false.
func (c *Consumer) Recv(ctx context.Context) (any, bool, error) {
	select {
	case v := <-c.ch:
		return v, true, nil
	case <-c.done:
		// A push may have landed in the buffer in the instant before
		// closeStream ran; drain it before reporting end-of-stream so
		// no item is skipped.
		select {
		case v := <-c.ch:
			return v, true, nil
		default:
		}
		return nil, false, c.Err()
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Items returns a channel of items followed by a close, for range-style
// consumption: for v := range c.Items() { ... }. Errors are available
// via Err after the channel closes.
func (c *Consumer) Items() <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		ctx := context.Background()
		for {
			v, ok, _ := c.Recv(ctx)
			if !ok {
				return
			}
			out <- v
		}
	}()
	return out
}

// Err reports the terminal error, if the stream ended in one.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// push delivers one item into the consumer. Called by the engine as
// notifications for this pointer arrive (spec.md §4.3 step 4).
func (c *Consumer) push(v any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	select {
	case c.ch <- v:
	case <-c.done:
	}
}

// closeStream delivers the end-of-stream marker. Idempotent per
// spec.md §8.
func (c *Consumer) closeStream(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
}

// Close closes a Consumer from the application side (e.g. the handler
// is done reading). It has the same effect on the Consumer as receiving
// end-of-stream; it does not remove the pointer from the connection's
// stream registry.
func (c *Consumer) Close() error {
	c.closeStream(nil)
	return nil
}
