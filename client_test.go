package mascara

import (
	"context"
	"encoding/json"
	"testing"
)

func TestClientDispatchSuccessCompletesPendingCall(t *testing.T) {
	c := &Client{
		opts:    DialOptions{}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	pc := c.calls.register("1")

	resp, _ := NewSuccess("1", []any{"hi"})
	c.dispatchSuccess(resp)

	res := <-pc.resultCh
	if res.err != nil || len(res.values) != 1 || res.values[0] != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestClientDispatchSuccessBindsReadablePointerToConsumer(t *testing.T) {
	c := &Client{
		opts:    DialOptions{}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	pc := c.calls.register("1")
	ptr := mintPointer(c.opts.Scheme, KindReadable)

	resp, _ := NewSuccess("1", []any{ptr.String()})
	c.dispatchSuccess(resp)

	res := <-pc.resultCh
	if res.err != nil {
		t.Fatal(res.err)
	}
	consumer, ok := res.values[0].(*Consumer)
	if !ok {
		t.Fatalf("value = %#v, want *Consumer", res.values[0])
	}
	if _, registered := c.streams.consumer(ptr.String()); !registered {
		t.Fatal("consumer was not registered in the stream registry")
	}
	_ = consumer
}

func TestClientDispatchSuccessIgnoresStringsWithMismatchedScheme(t *testing.T) {
	c := &Client{
		opts:    DialOptions{Scheme: "mascara"}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	pc := c.calls.register("1")

	resp, _ := NewSuccess("1", []any{"other://abc.readable"})
	c.dispatchSuccess(resp)

	res := <-pc.resultCh
	s, ok := res.values[0].(string)
	if !ok || s != "other://abc.readable" {
		t.Fatalf("value = %#v, want the literal string (scheme mismatch)", res.values[0])
	}
}

func TestClientDispatchErrorCompletesPendingCallWithError(t *testing.T) {
	c := &Client{
		opts:    DialOptions{}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	pc := c.calls.register("1")

	resp := NewError(strPtr("1"), CodeInvalidMethod, "Invalid method: nope")
	c.dispatch(resp)

	res := <-pc.resultCh
	if res.err == nil {
		t.Fatal("expected an error result")
	}
}

func TestClientDispatchStrayResponseIsObserved(t *testing.T) {
	obs := &recordingObserver{}
	c := &Client{
		opts:    DialOptions{Observer: obs}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	resp, _ := NewSuccess("unknown-id", []any{"x"})
	c.dispatch(resp)
	if len(obs.unhandled) != 1 {
		t.Fatalf("Observer.Unhandled call count = %d, want 1 for a stray response", len(obs.unhandled))
	}
}

func TestClientDispatchNotificationRoutesToHandler(t *testing.T) {
	c := &Client{
		opts:    DialOptions{}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	var gotMethod string
	var gotParams []json.RawMessage
	c.SetNotificationHandler(func(method string, params []json.RawMessage) {
		gotMethod = method
		gotParams = params
	})

	note, _ := NewNotification("app/event", []any{"payload"})
	c.dispatch(note)

	if gotMethod != "app/event" {
		t.Fatalf("gotMethod = %q, want %q", gotMethod, "app/event")
	}
	if len(gotParams) != 1 {
		t.Fatalf("gotParams = %v, want 1 element", gotParams)
	}
}

func TestClientDispatchUnregisteredPointerNotificationReportsUnhandled(t *testing.T) {
	obs := &recordingObserver{}
	c := &Client{
		opts:    DialOptions{Observer: obs}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	note, _ := NewNotification("mascara://ghost.writable", []any{"x"})
	c.dispatch(note)
	if len(obs.unhandled) != 1 || obs.unhandled[0] != note.Method {
		t.Fatalf("Observer.Unhandled = %v, want one call for %q", obs.unhandled, note.Method)
	}
	if len(obs.errs) != 1 {
		t.Fatalf("Observer.Errorf call count = %d, want 1", len(obs.errs))
	}
	if _, ok := obs.errs[0].(*StrayMessage); !ok {
		t.Fatalf("Errorf argument = %#v, want a *StrayMessage", obs.errs[0])
	}
}

func TestClientDispatchErrorWithNullIDReportsUnhandled(t *testing.T) {
	// A null-id error response cannot be correlated to any pending call
	// (spec.md §3), so it must reach Observer.Unhandled rather than
	// being misclassified as a malformed frame or silently dropped.
	obs := &recordingObserver{}
	c := &Client{
		opts:    DialOptions{Observer: obs}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	resp := NewError(nil, CodeInternal, "could not parse request")
	c.dispatch(resp)
	if len(obs.unhandled) != 1 {
		t.Fatalf("Observer.Unhandled call count = %d, want 1 for a null-id error", len(obs.unhandled))
	}
}

func TestClientDispatchStreamNotificationBatchedTerminatorRemovesConsumer(t *testing.T) {
	// deliverToConsumer must scan every params element, not just index
	// 0, so a batched ["chunk", null] notification both delivers the
	// chunk and removes the registry entry in the same call.
	c := &Client{
		opts:    DialOptions{}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	consumer := NewConsumer(4)
	ptr := mintPointer(c.opts.Scheme, KindReadable)
	c.streams.putConsumer(ptr, consumer)

	note, _ := NewNotification(ptr.String(), []any{"chunk", nil})
	handled, err := c.dispatchStreamNotification(note)
	if !handled || err != nil {
		t.Fatalf("dispatchStreamNotification = (%v, %v), want (true, nil)", handled, err)
	}

	v, ok, rerr := consumer.Recv(context.Background())
	if !ok || rerr != nil || v != "chunk" {
		t.Fatalf("Recv() = (%v, %v, %v)", v, ok, rerr)
	}
	if _, registered := c.streams.consumer(ptr.String()); registered {
		t.Fatal("consumer should have been removed after a batched null terminator")
	}
}

func TestClientDispatchStreamNotificationDeliversToBoundConsumer(t *testing.T) {
	c := &Client{
		opts:    DialOptions{}.withDefaults(),
		calls:   newCallRegistry(),
		streams: newStreamRegistry(),
	}
	consumer := NewConsumer(4)
	ptr := mintPointer(c.opts.Scheme, KindReadable)
	c.streams.putConsumer(ptr, consumer)

	note, _ := NewNotification(ptr.String(), []any{"chunk"})
	c.dispatch(note)

	v, ok, err := consumer.Recv(context.Background())
	if !ok || err != nil || v != "chunk" {
		t.Fatalf("Recv() = (%v, %v, %v)", v, ok, err)
	}
}
