package mascara

import (
	"bytes"
	"testing"
)

func TestFramerAppendsTerminator(t *testing.T) {
	m, err := NewRequest("1", "echo", []any{"hi"})
	if err != nil {
		t.Fatal(err)
	}
	var f Framer
	frame, err := f.Frame(m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(frame, []byte(frameTerminator)) {
		t.Fatalf("frame does not end with terminator: %q", frame)
	}
	if bytes.Count(frame, []byte(frameTerminator)) != 1 {
		t.Fatalf("frame contains more than one terminator: %q", frame)
	}
}

func TestFramerRoundTripsThroughDeframer(t *testing.T) {
	m, err := NewNotification("mascara://x.readable", []any{"chunk\nwith\rcontrol bytes"})
	if err != nil {
		t.Fatal(err)
	}
	var f Framer
	frame, err := f.Frame(m)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDeframer()
	msgs, err := d.Feed(frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Method != m.Method {
		t.Fatalf("Method = %q, want %q", msgs[0].Method, m.Method)
	}
}
