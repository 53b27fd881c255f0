package ratelimit

import "testing"

func TestQuotaExhaustedMonotoneBackoff(t *testing.T) {
	steps := []int64{60, 300, 1800, 7200}
	tr := NewTracker()
	for n := 1; n <= 6; n++ {
		rec := tr.ParseFromError("acc1", 429, "", `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`, "", steps)
		idx := n - 1
		if idx >= len(steps) {
			idx = len(steps) - 1
		}
		want := steps[idx]
		if rec.RetryAfterSec != want {
			t.Fatalf("attempt %d: got %ds, want %ds", n, rec.RetryAfterSec, want)
		}
	}
}

func TestServerErrorDoesNotPolluteBackoff(t *testing.T) {
	steps := []int64{60, 300, 1800, 7200}
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		tr.ParseFromError("acc1", 503, "", "service temporarily unavailable", "", steps)
	}
	rec := tr.ParseFromError("acc1", 429, "", `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`, "", steps)
	if rec.RetryAfterSec != steps[0] {
		t.Fatalf("first QuotaExhausted after server errors = %ds, want %ds", rec.RetryAfterSec, steps[0])
	}
}

func TestNotFoundLocksFiveSecondsWithoutBody(t *testing.T) {
	tr := NewTracker()
	rec := tr.ParseFromError("acc1", 404, "", "model not found on this account", "", nil)
	if rec.RetryAfterSec != 5 {
		t.Fatalf("404 locked for %ds, want 5s", rec.RetryAfterSec)
	}
	if rec.Reason != ReasonServerError {
		t.Fatalf("404 classified as %v, want ReasonServerError", rec.Reason)
	}
}

func TestParseQuotaResetDelay(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1h2m3s", 3723},
		{"5m", 300},
		{"10s", 10},
		{"500ms", 1},
		{"1h2m3s500ms", 3724},
	}
	for _, c := range cases {
		got, ok := ParseQuotaResetDelay(c.in)
		if !ok || got != c.want {
			t.Errorf("ParseQuotaResetDelay(%q) = %d,%v want %d", c.in, got, ok, c.want)
		}
	}
}

func TestMarkSuccessResetsBackoffAndLockout(t *testing.T) {
	steps := []int64{60, 300, 1800, 7200}
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		tr.ParseFromError("acc1", 429, "", `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`, "", steps)
	}
	tr.MarkSuccess("acc1")
	if tr.IsRateLimited("acc1", "") {
		t.Fatalf("expected account to be clear immediately after MarkSuccess")
	}
	rec := tr.ParseFromError("acc1", 429, "", `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`, "", steps)
	if rec.RetryAfterSec != steps[0] {
		t.Fatalf("post-mark_success first failure = %ds, want %ds", rec.RetryAfterSec, steps[0])
	}
}

func TestScenarioS5BackoffLadderAndFiveXX(t *testing.T) {
	steps := []int64{60, 300, 1800, 7200}
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		rec := tr.ParseFromError("acc1", 503, "", "service temporarily unavailable", "", steps)
		if rec.RetryAfterSec != 8 {
			t.Fatalf("503 #%d locked for %ds, want 8s", i+1, rec.RetryAfterSec)
		}
	}
	first := tr.ParseFromError("acc1", 429, "", `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`, "", steps)
	if first.RetryAfterSec != 60 {
		t.Fatalf("first QuotaExhausted = %ds, want 60s", first.RetryAfterSec)
	}
	second := tr.ParseFromError("acc1", 429, "", `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`, "", steps)
	if second.RetryAfterSec != 300 {
		t.Fatalf("second QuotaExhausted = %ds, want 300s", second.RetryAfterSec)
	}
}

func TestClassifyReasonPrecedence(t *testing.T) {
	if r := ClassifyReason(`exceeded the per minute quota for this model`); r != ReasonRateLimitExceeded {
		t.Errorf("per-minute+quota body classified as %v, want RateLimitExceeded", r)
	}
	if r := ClassifyReason(`daily quota exhausted for this project`); r != ReasonQuotaExhausted {
		t.Errorf("quota body classified as %v, want QuotaExhausted", r)
	}
	if r := ClassifyReason(`something unrelated happened`); r != ReasonUnknown {
		t.Errorf("unrelated body classified as %v, want Unknown", r)
	}
}

func TestModelLevelVsAccountLevelLockKey(t *testing.T) {
	steps := []int64{60}
	tr := NewTracker()
	tr.ParseFromError("acc1", 429, "", `{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`, "gemini-3-flash", steps)
	if tr.IsRateLimited("acc1", "") {
		t.Errorf("account-wide should not be limited by a model-scoped quota lock")
	}
	if !tr.IsRateLimited("acc1", "gemini-3-flash") {
		t.Errorf("expected gemini-3-flash to be locked")
	}

	tr2 := NewTracker()
	tr2.ParseFromError("acc2", 429, "", `too many requests, rate limit exceeded`, "gemini-3-flash", steps)
	if !tr2.IsRateLimited("acc2", "") {
		t.Errorf("RateLimitExceeded should lock the whole account, not just the model")
	}
}
