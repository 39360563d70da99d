package mascara

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DialOptions configures a Client, following llmdo/mcpc's DialOptions/
// WithDefaults shape.
type DialOptions struct {
	Scheme       string // expected stream-pointer scheme; defaults to DefaultScheme
	StreamBuffer int    // buffer size for bound mirror endpoints; defaults to 16
	Observer     Observer
	Logger       zerolog.Logger
}

func (o DialOptions) withDefaults() DialOptions {
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

// NotificationHandler receives application-level notifications: those
// whose method is not pointer-shaped at all. A notification whose method
// parses as a stream pointer but has no registered endpoint goes to the
// Observer instead. Mirrors llmdo/mcpc's NotificationHandler.
type NotificationHandler func(method string, params []json.RawMessage)

// Client is the connect-side half of the protocol engine (spec.md §2).
type Client struct {
	factory ClientFactory
	opts    DialOptions

	t       Transport
	r       *bufio.Reader
	deframe *Deframer
	frame   Framer
	writeMu sync.Mutex

	calls   *CallRegistry
	streams *StreamRegistry

	seq atomic.Uint64

	notifyMu sync.RWMutex
	onNotify NotificationHandler

	closed atomic.Bool
	wg     sync.WaitGroup

	log zerolog.Logger
}

// NewClient constructs an unconnected Client. A nil factory defaults to
// NetFactory (spec.md §6's "construct with (clientFactory?)").
func NewClient(factory ClientFactory, opts DialOptions) *Client {
	if factory == nil {
		factory = &NetFactory{}
	}
	opts = opts.withDefaults()
	return &Client{
		factory: factory,
		opts:    opts,
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
		log:     opts.Logger,
	}
}

// Connect dials network/address and starts the read loop. It must be
// called at most once per Client.
func (c *Client) Connect(ctx context.Context, network, address string) error {
	t, err := c.factory.Dial(ctx, network, address)
	if err != nil {
		return err
	}
	c.t = t
	c.r = bufio.NewReader(t)
	c.deframe = NewDeframer()
	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// SetNotificationHandler installs the callback for application
// notifications.
func (c *Client) SetNotificationHandler(h NotificationHandler) {
	c.notifyMu.Lock()
	c.onNotify = h
	c.notifyMu.Unlock()
}

// Close closes the transport and waits for the read loop to exit,
// invalidating all pending calls and stream endpoints (spec.md §5).
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.t.Close()
	c.wg.Wait()
	return err
}

func (c *Client) nextID() string {
	return fmt.Sprintf("c%d", c.seq.Add(1))
}

// Invoke sends a request and blocks until a terminal response arrives
// or ctx is done (spec.md §4.4's "invoke... returns a pending-result
// handle"; blocking here is the synchronous half, mirroring
// llmdo/mcpc's sendAndWait). Any positional result element that is a
// stream-pointer string is replaced with a locally bound mirror
// endpoint before Invoke returns (spec.md §4.2 client dispatcher).
func (c *Client) Invoke(ctx context.Context, method string, params []any) ([]any, error) {
	id := c.nextID()
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	pc := c.calls.register(id)
	if err := c.writeMessage(req); err != nil {
		c.calls.forget(id)
		return nil, err
	}
	select {
	case res := <-pc.resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.values, nil
	case <-ctx.Done():
		c.calls.forget(id)
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget notification.
func (c *Client) Notify(method string, params []any) error {
	note, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.writeMessage(note)
}

func (c *Client) writeMessage(m *Message) error {
	frame, err := c.frame.Frame(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.t.Write(frame); err != nil {
		return &TransportError{Op: "write", Err: err, Temporary: true}
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.calls.invalidateAll(ErrConnectionClosed)
	defer c.streams.invalidateAll()

	buf := make([]byte, 4096)
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			msgs, ferr := c.deframe.Feed(buf[:n])
			for _, m := range msgs {
				c.dispatch(m)
			}
			if ferr != nil {
				c.log.Error().Err(ferr).Msg("frame decode error, closing connection")
				c.opts.Observer.Errorf("", ferr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				c.log.Error().Err(err).Msg("transport read error")
				c.opts.Observer.Errorf("", &TransportError{Op: "read", Err: err, Temporary: false})
			}
			return
		}
	}
}

// dispatch implements spec.md §4.2's client dispatcher.
func (c *Client) dispatch(m *Message) {
	switch m.Classify() {
	case KindSuccess:
		c.dispatchSuccess(m)
	case KindError:
		if m.ID == nil || !c.calls.complete(*m.ID, callResult{err: m.Error}) {
			c.opts.Observer.Unhandled("", m)
		}
	case KindNotification:
		handled, referenceErr := c.dispatchStreamNotification(m)
		if handled {
			return
		}
		if _, notAPointer := referenceErr.(*InvalidStreamReferenceError); notAPointer {
			// Not pointer-shaped at all: an ordinary application
			// notification, per spec.md §4.2's client "otherwise" branch.
			c.notifyMu.RLock()
			cb := c.onNotify
			c.notifyMu.RUnlock()
			if cb != nil {
				cb(m.Method, m.Params)
				return
			}
		} else {
			c.opts.Observer.Errorf("", referenceErr)
		}
		c.opts.Observer.Unhandled("", m)
	default:
		c.opts.Observer.Unhandled("", m)
	}
}

// dispatchSuccess implements spec.md §4.2: "scan each element of
// result; if it is a string matching the stream-pointer shape,
// instantiate a local mirror endpoint... replace the string with the
// endpoint."
func (c *Client) dispatchSuccess(m *Message) {
	values := make([]any, len(m.Result))
	for i, raw := range m.Result {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if ptr, perr := ParsePointer(s); perr == nil && ptr.Scheme == c.opts.Scheme {
				values[i] = c.bindPointer(ptr)
				continue
			}
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			v = string(raw)
		}
		values[i] = v
	}
	if m.ID == nil || !c.calls.complete(*m.ID, callResult{values: values}) {
		c.opts.Observer.Unhandled("", m)
	}
}

// bindPointer implements spec.md §4.3's "Binding (client reception)":
// a readable pointer (data flows minting-side -> here) is bound to a
// local Consumer the caller reads from; a writable pointer (data flows
// here -> minting side) is bound to a local Producer whose Sends are
// forwarded as outbound notifications.
func (c *Client) bindPointer(ptr Pointer) any {
	switch ptr.Kind {
	case KindReadable:
		consumer := NewConsumer(c.opts.StreamBuffer)
		c.streams.putConsumer(ptr, consumer)
		return consumer
	case KindWritable:
		producer := NewProducer(c.opts.StreamBuffer)
		c.streams.putProducer(ptr, producer)
		go c.forwardClientProducer(ptr, producer)
		return producer
	default:
		return nil
	}
}

// forwardClientProducer drains a client-bound writable mirror,
// forwarding each Send as an outbound notification and, on End/Fail, a
// closing null notification. Symmetric to serverConn.forwardProducer.
func (c *Client) forwardClientProducer(ptr Pointer, p *Producer) {
	key := ptr.String()
	defer c.streams.removeProducer(key)
	for {
		select {
		case v := <-p.drain():
			note, err := NewNotification(key, []any{v})
			if err != nil {
				continue
			}
			_ = c.writeMessage(note)
		case <-p.finished():
			for {
				select {
				case v := <-p.drain():
					note, _ := NewNotification(key, []any{v})
					_ = c.writeMessage(note)
					continue
				default:
				}
				break
			}
			note, _ := NewNotification(key, []any{nil})
			_ = c.writeMessage(note)
			return
		}
	}
}

// dispatchStreamNotification handles an inbound notification against a
// registered readable pointer's Consumer (the client's mirror source).
// See serverConn.dispatchStreamNotification for what the bool and error
// results mean.
func (c *Client) dispatchStreamNotification(m *Message) (bool, error) {
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
