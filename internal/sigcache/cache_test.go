package sigcache

import "testing"

const sig50 = "12345678901234567890123456789012345678901234567890"
const sig60 = sig50 + "1234567890"

func TestShortSignaturesDropped(t *testing.T) {
	c := New()
	c.CacheToolSignature("tool1", "short")
	if _, ok := c.GetToolSignature("tool1"); ok {
		t.Fatalf("short signature should have been dropped")
	}
}

func TestSessionRewindReplacesUnconditionally(t *testing.T) {
	c := New()
	c.UpdateSession("s1", sig60, 5)
	c.UpdateSession("s1", sig50, 2)
	got, _ := c.GetSession("s1")
	if got != sig50 {
		t.Fatalf("expected rewind to replace with new (shorter) signature, got %q", got)
	}
}

func TestSessionSameCountPrefersLonger(t *testing.T) {
	c := New()
	c.UpdateSession("s1", sig50, 3)
	c.UpdateSession("s1", sig60, 3)
	got, _ := c.GetSession("s1")
	if got != sig60 {
		t.Fatalf("expected same-count update to prefer the longer signature")
	}
	c.UpdateSession("s1", sig50, 3)
	got, _ = c.GetSession("s1")
	if got != sig60 {
		t.Fatalf("shorter same-count signature should not have replaced the longer one")
	}
}

func TestSessionForwardProgressionReplaces(t *testing.T) {
	c := New()
	c.UpdateSession("s1", sig60, 3)
	c.UpdateSession("s1", sig50, 4)
	got, _ := c.GetSession("s1")
	if got != sig50 {
		t.Fatalf("forward progression should always replace")
	}
}

func TestIsSignatureCompatibleOptimisticWithoutRecordedFamily(t *testing.T) {
	c := New()
	if !c.IsSignatureCompatible(sig50, "claude-opus-4-6-thinking") {
		t.Fatalf("unrecorded family should be treated as compatible")
	}
}

func TestIsSignatureCompatibleBlocksMismatch(t *testing.T) {
	c := New()
	c.CacheFamily(sig50, "claude")
	if c.IsSignatureCompatible(sig50, "gemini-3-pro-high") {
		t.Fatalf("claude-family signature must not be injected into a gemini request")
	}
	if !c.IsSignatureCompatible(sig50, "claude-opus-4-6-thinking") {
		t.Fatalf("claude-family signature should be compatible with another claude model")
	}
}
