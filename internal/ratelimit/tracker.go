package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
)

// Record is a lockout entry (spec §3 "Rate-limit record").
type Record struct {
	ResetTime     time.Time
	Reason        Reason
	RetryAfterSec int64
	DetectedAt    time.Time
	Model         string
}

type failureCounter struct {
	count      int
	lastUpdate time.Time
}

// Tracker is the concurrent per-(account,model) lockout tracker (C1).
// All operations are O(1); readers/writers hold the map's single mutex
// only for the duration of the map access itself (spec §5).
type Tracker struct {
	mu        sync.RWMutex
	locks     map[string]*Record
	failures  map[string]*failureCounter
	cleanupStop chan struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		locks:    make(map[string]*Record),
		failures: make(map[string]*failureCounter),
	}
}

func lockKey(accountID, model string, reason Reason) string {
	if reason == ReasonQuotaExhausted && model != "" {
		return accountID + ":" + model
	}
	return accountID
}

// ParseFromError applies spec §4.1's full classification + lockout-duration
// selection pipeline and records the resulting lockout (if the status is
// handled). Returns the Record it stored, or nil if the status is ignored.
func (t *Tracker) ParseFromError(accountID string, httpStatus int, retryAfterHeader string, bodyText string, model string, backoffSteps []int64) *Record {
	if !IsHandledStatus(httpStatus) {
		return nil
	}

	reason := t.reasonForStatus(httpStatus, bodyText)

	var waitSeconds int64
	if secs, ok := parseRetryAfterHeader(retryAfterHeader); ok {
		if secs < 2 {
			secs = 2
		}
		waitSeconds = secs
	} else if secs, ok := parseResetTimeFromBody(bodyText); ok {
		waitSeconds = secs
	} else {
		waitSeconds = t.durationFromReason(accountID, reason, httpStatus, backoffSteps)
	}

	key := lockKey(accountID, model, reason)
	rec := &Record{
		ResetTime:     time.Now().Add(time.Duration(waitSeconds) * time.Second),
		Reason:        reason,
		RetryAfterSec: waitSeconds,
		DetectedAt:    time.Now(),
		Model:         model,
	}

	t.mu.Lock()
	t.locks[key] = rec
	t.mu.Unlock()

	logging.Debug("[ratelimit] locked %s for %ds (reason=%s)", key, waitSeconds, reason)
	return rec
}

func (t *Tracker) reasonForStatus(httpStatus int, bodyText string) Reason {
	if httpStatus == 500 || httpStatus == 503 || httpStatus == 529 || httpStatus == 404 {
		return ReasonServerError
	}
	return ClassifyReason(bodyText)
}

// durationFromReason implements spec §4.1 step 3, using the caller-supplied
// backoff_steps ladder for QuotaExhausted and the tracker's own per-account
// failure counters to index into it.
func (t *Tracker) durationFromReason(accountID string, reason Reason, httpStatus int, backoffSteps []int64) int64 {
	switch reason {
	case ReasonQuotaExhausted:
		n := t.incrementFailure(accountID)
		steps := backoffSteps
		if len(steps) == 0 {
			steps = []int64{60, 300, 1800, 7200}
		}
		idx := n - 1
		if idx >= len(steps) {
			idx = len(steps) - 1
		}
		if idx < 0 {
			idx = 0
		}
		return steps[idx]
	case ReasonRateLimitExceeded:
		return 5
	case ReasonModelCapacityExhausted:
		n := t.incrementFailure(accountID)
		return capacityBackoffSeconds(n)
	case ReasonServerError:
		if httpStatus == 404 {
			return 5
		}
		return 8
	default:
		return 60
	}
}

func (t *Tracker) incrementFailure(accountID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	fc, ok := t.failures[accountID]
	if !ok || now.Sub(fc.lastUpdate) > time.Hour {
		fc = &failureCounter{}
		t.failures[accountID] = fc
	}
	fc.count++
	fc.lastUpdate = now
	return fc.count
}

func parseRetryAfterHeader(header string) (int64, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(header, 10, 64); err == nil {
		return secs, true
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		d := int64(time.Until(t).Seconds())
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// MarkSuccess removes the failure counter and clears the account-level
// lockout, but leaves model-level quota locks untouched (spec §4.1).
func (t *Tracker) MarkSuccess(accountID string) {
	t.mu.Lock()
	delete(t.failures, accountID)
	delete(t.locks, accountID)
	t.mu.Unlock()
}

// SetLockoutUntil directly sets a lockout (used by callers that already
// know the duration, e.g. C10's explicit retry-after handling).
func (t *Tracker) SetLockoutUntil(accountID string, resetTime time.Time, reason Reason, model string) {
	key := lockKey(accountID, model, reason)
	t.mu.Lock()
	t.locks[key] = &Record{ResetTime: resetTime, Reason: reason, DetectedAt: time.Now(), Model: model}
	t.mu.Unlock()
}

// IsRateLimited reports whether accountID (optionally scoped to model) is
// currently locked out.
func (t *Tracker) IsRateLimited(accountID string, model string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := time.Now()
	if rec, ok := t.locks[accountID]; ok && rec.ResetTime.After(now) {
		return true
	}
	if model != "" {
		if rec, ok := t.locks[accountID+":"+model]; ok && rec.ResetTime.After(now) {
			return true
		}
	}
	return false
}

// GetRemainingWait returns the remaining lockout duration, or 0 if not locked.
func (t *Tracker) GetRemainingWait(accountID string, model string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := time.Now()
	best := time.Duration(0)
	if rec, ok := t.locks[accountID]; ok {
		if d := rec.ResetTime.Sub(now); d > best {
			best = d
		}
	}
	if model != "" {
		if rec, ok := t.locks[accountID+":"+model]; ok {
			if d := rec.ResetTime.Sub(now); d > best {
				best = d
			}
		}
	}
	return best
}

// Clear removes every lock and failure counter for one account.
func (t *Tracker) Clear(accountID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, accountID)
	delete(t.failures, accountID)
	for k := range t.locks {
		if len(k) > len(accountID) && k[:len(accountID)+1] == accountID+":" {
			delete(t.locks, k)
		}
	}
}

// ClearAll wipes every lockout (the scheduler's "optimistic reset" escape
// hatch in spec §4.6 P2C branch).
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	t.locks = make(map[string]*Record)
	t.mu.Unlock()
}

// CleanupExpired removes every lockout whose reset_time has passed
// (spec §4.1 "Background job every 15s").
func (t *Tracker) CleanupExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for k, rec := range t.locks {
		if !rec.ResetTime.After(now) {
			delete(t.locks, k)
		}
	}
	for k, fc := range t.failures {
		if now.Sub(fc.lastUpdate) > time.Hour {
			delete(t.failures, k)
		}
	}
}

// StartCleanupLoop spawns the 15-second background sweep and returns a
// stop function. Restarting aborts the prior loop (spec §4.6 "Restarting
// the task aborts the prior handle").
func (t *Tracker) StartCleanupLoop() (stop func()) {
	if t.cleanupStop != nil {
		close(t.cleanupStop)
	}
	stopCh := make(chan struct{})
	t.cleanupStop = stopCh
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.CleanupExpired()
			case <-stopCh:
				return
			}
		}
	}()
	return func() { close(stopCh) }
}

// MinWaitAcross returns the minimum remaining wait among the given account
// ids for model, used by the scheduler's "all limited" diagnostics.
func (t *Tracker) MinWaitAcross(accountIDs []string, model string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := time.Now()
	min := time.Duration(-1)
	for _, id := range accountIDs {
		d := time.Duration(0)
		if rec, ok := t.locks[id]; ok {
			if w := rec.ResetTime.Sub(now); w > d {
				d = w
			}
		}
		if model != "" {
			if rec, ok := t.locks[id+":"+model]; ok {
				if w := rec.ResetTime.Sub(now); w > d {
					d = w
				}
			}
		}
		if min < 0 || d < min {
			min = d
		}
	}
	if min < 0 {
		return 0
	}
	return min
}
