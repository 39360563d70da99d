package mascara

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Reply is the completion continuation passed to a Handler (spec.md
// §4.4). It MUST be called exactly once per invocation, synchronously
// or from another goroutine.
type Reply func(err error, values ...any)

// Handler is a user-supplied method implementation (spec.md §2's
// Handler Table, §4.4). params holds the positional request arguments
// still encoded as raw JSON, mirroring llmdo/mcpc's *json.RawMessage
// params; a handler decodes only what it needs. Any value passed to
// reply that is a *Producer or *Consumer is minted into a stream
// pointer instead of being marshaled directly (spec.md §4.3).
type Handler func(ctx context.Context, params []json.RawMessage, reply Reply)

// Observer receives events the core cannot route anywhere else:
// connection errors, unknown-method and handler errors, and messages
// that could not be correlated to anything local (spec.md §7
// categories 1-6). It
// generalizes the teacher's ClientHooks into a single interface shared
// by Server and Client. NopObserver satisfies it as a default.
type Observer interface {
	Unhandled(connID string, msg *Message)
	Errorf(connID string, err error)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) Unhandled(string, *Message) {}
func (NopObserver) Errorf(string, error)       {}

// ServerOptions configures a Server, in the shape of llmdo/mcpc's
// DialOptions.WithDefaults pattern: a struct of optional knobs with a
// defaults pass.
type ServerOptions struct {
	Scheme        string // stream-pointer scheme; defaults to DefaultScheme
	StreamBuffer  int    // defaults to 16; not read by the Server: minted endpoints keep the buffer size their handler gave them
	Observer      Observer
	Logger        zerolog.Logger
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.Scheme == "" {
		o.Scheme = DefaultScheme
	}
	if o.StreamBuffer <= 0 {
		o.StreamBuffer = 16
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	return o
}

// Server is the accept-side half of the protocol engine (spec.md §2).
// It owns a Handler Table and, for each accepted connection, a
// StreamRegistry and a serialized dispatch actor.
type Server struct {
	factory ServerFactory
	opts    ServerOptions

	mu       sync.Mutex
	handlers map[string]Handler
	conns    map[string]*serverConn

	closed bool
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewServer constructs a Server bound to handlers and a transport
// factory (spec.md §6's "construct with (handlers, serverFactory?)").
// A nil factory defaults to NetFactory (TCP/Unix).
func NewServer(handlers map[string]Handler, factory ServerFactory, opts ServerOptions) *Server {
	if factory == nil {
		factory = &NetFactory{}
	}
	h := make(map[string]Handler, len(handlers))
	for k, v := range handlers {
		h[k] = v
	}
	return &Server{factory: factory, opts: opts.withDefaults(), handlers: h, conns: make(map[string]*serverConn)}
}

// Handle registers or replaces a single handler after construction.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Listen accepts connections on network/address until ctx is canceled
// or Close is called, dispatching each to its own actor goroutine
// (spec.md §5: connections proceed independently and may run in
// parallel).
func (s *Server) Listen(ctx context.Context, network, address string) error {
	ln, err := s.factory.Listen(ctx, network, address)
	if err != nil {
		return err
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	s.group = group
	s.cancel = cancel
	s.mu.Unlock()

	for {
		t, err := ln.Accept(gctx)
		if err != nil {
			if gctx.Err() != nil {
				return group.Wait()
			}
			s.opts.Observer.Errorf("", &TransportError{Op: "accept", Err: err, Temporary: true})
			continue
		}
		conn := s.newConnection(t)
		s.mu.Lock()
		s.conns[conn.id] = conn
		s.mu.Unlock()
		group.Go(func() error {
			conn.serve(gctx)
			s.mu.Lock()
			delete(s.conns, conn.id)
			s.mu.Unlock()
			return nil
		})
	}
}

// Close stops accepting new connections and forces every accepted
// connection's transport closed, unblocking its read loop even if the
// peer is idle and never sends EOF. Canceling the listen context alone
// cannot do this: serve's read loop blocks on c.r.Read, which does not
// observe ctx. Closing each serverConn's transport directly is what
// actually tears the connection down, the same way ln.Accept's own
// ctx-vs-blocking-call race is resolved for the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, c := range conns {
		c.t.Close()
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}

// serverConn is one accepted connection's state (spec.md §3 "Connection
// State (server side)"): transport, framer/deframer, stream registry,
// and a serialized write path.
type serverConn struct {
	id     string
	server *Server
	t      Transport
	r      *bufio.Reader
	deframe *Deframer
	frame   Framer

	writeMu sync.Mutex

	streams *StreamRegistry
	log     zerolog.Logger
}

func (s *Server) newConnection(t Transport) *serverConn {
	id := uuid.NewString()
	return &serverConn{
		id:      id,
		server:  s,
		t:       t,
		r:       bufio.NewReader(t),
		deframe: NewDeframer(),
		streams: newStreamRegistry(),
		log:     s.opts.Logger.With().Str("conn", id).Logger(),
	}
}

func (c *serverConn) serve(ctx context.Context) {
	defer c.t.Close()
	defer c.streams.invalidateAll()

	buf := make([]byte, 4096)
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			msgs, ferr := c.deframe.Feed(buf[:n])
			for _, m := range msgs {
				c.dispatch(ctx, m)
			}
			if ferr != nil {
				c.log.Error().Err(ferr).Msg("frame decode error, closing connection")
				c.server.opts.Observer.Errorf(c.id, ferr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				c.server.opts.Observer.Errorf(c.id, &TransportError{Op: "read", Err: err, Temporary: false})
			}
			return
		}
	}
}

// dispatch implements spec.md §4.2's server dispatcher.
func (c *serverConn) dispatch(ctx context.Context, m *Message) {
	switch m.Classify() {
	case KindNotification:
		handled, referenceErr := c.dispatchStreamNotification(m)
		if handled {
			return
		}
		c.server.opts.Observer.Errorf(c.id, referenceErr)
		c.server.opts.Observer.Unhandled(c.id, m)
	case KindRequest:
		c.dispatchRequest(ctx, m)
	case KindSuccess, KindError:
		// Servers in this profile never issue outbound requests
		// (spec.md §4.2), so a response addressed to us is unhandled.
		c.server.opts.Observer.Unhandled(c.id, m)
	default:
		c.server.opts.Observer.Unhandled(c.id, m)
	}
}

// dispatchStreamNotification handles an inbound notification whose
// method is a registered writable pointer's Consumer. The bool result
// reports whether it was terminal for this message; dispatch never
// falls through to method-table lookup for a notification regardless
// of this result (spec.md §9's flagged bug: that fallthrough path does
// not exist at all here). The error result, when non-nil alongside a
// false handled, names the spec.md §7 category the caller should
// report to Observer.Errorf before recording the message as unhandled:
// category 5 for a method that isn't pointer-shaped at all, category 6
// for a well-formed pointer with no registered endpoint.
func (c *serverConn) dispatchStreamNotification(m *Message) (bool, error) {
	if _, err := ParsePointer(m.Method); err != nil {
		return false, &InvalidStreamReferenceError{Method: m.Method, Err: err}
	}
	consumer, ok := c.streams.consumer(m.Method)
	if !ok {
		return false, &StrayMessage{Kind: StrayUnregisteredPointer, Message: m}
	}
	if deliverToConsumer(consumer, m.Params) {
		c.streams.removeConsumer(m.Method)
	}
	return true, nil
}

func isNullParam(raw json.RawMessage) bool {
	return string(raw) == "null"
}

// deliverToConsumer pushes params in order into consumer, per spec.md
// §3 invariant 5: a sentinel null element terminates the stream. It
// scans every element rather than just the first, since a batched
// notification may carry a data chunk and the terminator together
// (e.g. ["chunk", null]). It reports whether it terminated the stream,
// so the caller knows to remove the registry entry.
func deliverToConsumer(consumer *Consumer, params []json.RawMessage) bool {
	for _, raw := range params {
		if isNullParam(raw) {
			consumer.closeStream(nil)
			return true
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			v = string(raw)
		}
		consumer.push(v)
	}
	return false
}

func (c *serverConn) dispatchRequest(ctx context.Context, m *Message) {
	c.server.mu.Lock()
	h, ok := c.server.handlers[m.Method]
	c.server.mu.Unlock()
	if !ok {
		c.server.opts.Observer.Errorf(c.id, &UnknownMethodError{Method: m.Method})
		c.writeMessage(NewError(m.ID, CodeInvalidMethod, fmt.Sprintf("Invalid method: %s", m.Method)))
		return
	}

	id := *m.ID
	var once sync.Once

	reply := func(err error, values ...any) {
		once.Do(func() {
			if err != nil {
				c.server.opts.Observer.Errorf(c.id, &HandlerError{Method: m.Method, Err: err})
				c.writeMessage(NewError(&id, CodeInternal, err.Error()))
				return
			}
			result := c.mintResults(values)
			resp, err := NewSuccess(id, result)
			if err != nil {
				c.writeMessage(NewError(&id, CodeInternal, err.Error()))
				return
			}
			c.writeMessage(resp)
		})
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				reply(fmt.Errorf("%v", r))
			}
		}()
		h(ctx, m.Params, reply)
	}()
}

// mintResults scans a handler's result values for stream endpoints and
// mints a pointer for each, per spec.md §4.3.
func (c *serverConn) mintResults(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		ep, ok := v.(streamEndpoint)
		if !ok {
			out[i] = v
			continue
		}
		ptr := mintPointer(c.server.opts.Scheme, ep.streamKind())
		switch sv := v.(type) {
		case *Producer:
			c.streams.putProducer(ptr, sv)
			go c.forwardProducer(ptr, sv)
		case *Consumer:
			c.streams.putConsumer(ptr, sv)
		}
		out[i] = ptr.String()
	}
	return out
}

// forwardProducer drains a minted readable stream, turning each Send
// into an outbound notification and, on End/Fail, a single closing
// null notification (spec.md §4.3 step 4). It must finish draining
// before emitting the null terminator (spec.md §5 ordering guarantee).
func (c *serverConn) forwardProducer(ptr Pointer, p *Producer) {
	key := ptr.String()
	defer c.streams.removeProducer(key)
	for {
		select {
		case v := <-p.drain():
			note, err := NewNotification(key, []any{v})
			if err != nil {
				c.log.Error().Err(err).Msg("encode stream notification")
				continue
			}
			c.writeMessage(note)
		case <-p.finished():
			// Drain anything buffered ahead of the end marker.
			for {
				select {
				case v := <-p.drain():
					note, _ := NewNotification(key, []any{v})
					c.writeMessage(note)
					continue
				default:
				}
				break
			}
			note, _ := NewNotification(key, []any{nil})
			c.writeMessage(note)
			return
		}
	}
}

func (c *serverConn) writeMessage(m *Message) {
	frame, err := c.frame.Frame(m)
	if err != nil {
		c.log.Error().Err(err).Msg("encode frame")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.t.Write(frame); err != nil {
		c.log.Error().Err(err).Msg("write frame")
	}
}
