package mascara

import (
	"context"
	"testing"
)

func TestCallRegistryCompleteIsFalseForUnknownID(t *testing.T) {
	r := newCallRegistry()
	if r.complete("nope", callResult{}) {
		t.Fatal("complete() on an unregistered id returned true")
	}
}

func TestCallRegistryCompleteIsFalseForDuplicateResponse(t *testing.T) {
	r := newCallRegistry()
	pc := r.register("1")
	if !r.complete("1", callResult{values: []any{"ok"}}) {
		t.Fatal("first complete() should succeed")
	}
	if r.complete("1", callResult{values: []any{"again"}}) {
		t.Fatal("duplicate complete() should return false")
	}
	select {
	case res := <-pc.resultCh:
		if len(res.values) != 1 || res.values[0] != "ok" {
			t.Fatalf("unexpected result: %+v", res)
		}
	default:
		t.Fatal("resultCh had nothing buffered")
	}
}

func TestCallRegistryInvalidateAllFailsPending(t *testing.T) {
	r := newCallRegistry()
	pc := r.register("1")
	r.invalidateAll(ErrConnectionClosed)
	res := <-pc.resultCh
	if res.err != ErrConnectionClosed {
		t.Fatalf("err = %v, want ErrConnectionClosed", res.err)
	}
	if r.complete("1", callResult{}) {
		t.Fatal("id should have been retired by invalidateAll")
	}
}

func TestStreamRegistryInvalidateAllClosesEndpoints(t *testing.T) {
	r := newStreamRegistry()
	p := NewProducer(1)
	c := NewConsumer(1)
	ptrP := mintPointer("mascara", KindReadable)
	ptrC := mintPointer("mascara", KindWritable)
	r.putProducer(ptrP, p)
	r.putConsumer(ptrC, c)

	r.invalidateAll()

	if err := p.failure(); err != ErrConnectionClosed {
		t.Fatalf("producer failure = %v, want ErrConnectionClosed", err)
	}
	if _, ok, err := c.Recv(context.Background()); ok || err != ErrConnectionClosed {
		t.Fatalf("consumer Recv = (_, %v, %v), want (_, false, ErrConnectionClosed)", ok, err)
	}
	if _, ok := r.producer(ptrP.String()); ok {
		t.Fatal("producer should have been removed from the registry")
	}
	if _, ok := r.consumer(ptrC.String()); ok {
		t.Fatal("consumer should have been removed from the registry")
	}
}
