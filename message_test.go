package mascara

import (
	"encoding/json"
	"testing"
)

func TestClassifyRequest(t *testing.T) {
	m, err := NewRequest("1", "echo", []any{"hi"})
	if err != nil {
		t.Fatal(err)
	}
	if k := m.Classify(); k != KindRequest {
		t.Fatalf("Classify() = %v, want %v", k, KindRequest)
	}
}

func TestClassifyNotification(t *testing.T) {
	m, err := NewNotification("mascara://abc.readable", []any{"chunk"})
	if err != nil {
		t.Fatal(err)
	}
	if k := m.Classify(); k != KindNotification {
		t.Fatalf("Classify() = %v, want %v", k, KindNotification)
	}
}

func TestClassifySuccessWithEmptyResult(t *testing.T) {
	m, err := NewSuccess("1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if k := m.Classify(); k != KindSuccess {
		t.Fatalf("Classify() = %v, want %v (empty result array is still a success)", k, KindSuccess)
	}
}

func TestClassifyError(t *testing.T) {
	m := NewError(strPtr("1"), CodeInvalidMethod, "Invalid method: foo")
	if k := m.Classify(); k != KindError {
		t.Fatalf("Classify() = %v, want %v", k, KindError)
	}
}

func TestClassifyErrorWithNullID(t *testing.T) {
	// spec.md §3: "id may be null if unassociable" — a sender that
	// cannot correlate an error to any request still sends a
	// well-formed error response, and it must classify as KindError
	// rather than being rejected as malformed.
	m := NewError(nil, CodeInternal, "could not parse request")
	if k := m.Classify(); k != KindError {
		t.Fatalf("Classify() = %v, want %v for a null-id error response", k, KindError)
	}
}

func TestClassifyRoundTripThroughJSON(t *testing.T) {
	m, err := NewRequest("1", "echo", []any{42})
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back Message
	if err := json.Unmarshal(body, &back); err != nil {
		t.Fatal(err)
	}
	if back.Classify() != KindRequest {
		t.Fatalf("round-tripped message classified as %v, want request", back.Classify())
	}
}

func strPtr(s string) *string { return &s }
