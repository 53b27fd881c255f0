package session

import "strings"
import "testing"

func TestDeriveSessionIDFromUserID(t *testing.T) {
	id := DeriveSessionID([]byte(`{"metadata":{"user_id":"u-1"}}`))
	if id != "u-1" {
		t.Fatalf("got %q, want u-1", id)
	}
}

func TestDeriveSessionIDFallsBackToRandom(t *testing.T) {
	id1 := DeriveSessionID([]byte(`{}`))
	id2 := DeriveSessionID([]byte(`{}`))
	if !strings.HasPrefix(id1, "sid-") || !strings.HasPrefix(id2, "sid-") {
		t.Fatalf("expected sid- prefixed ids, got %q %q", id1, id2)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct random session ids")
	}
}
