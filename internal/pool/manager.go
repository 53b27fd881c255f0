package pool

import (
	"strings"
	"sync"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	"github.com/poemonsense/antigravity-proxy-go/internal/quota"
	"github.com/poemonsense/antigravity-proxy-go/internal/ratelimit"
)

// Manager is the in-memory account pool and scheduler (C6).
type Manager struct {
	mu sync.RWMutex

	tokens          map[string]*Token
	sessionAccounts map[string]string // session_id -> account_id

	store   AccountStore
	tracker *ratelimit.Tracker
	cfg     *config.Config

	cleanupStop func()
}

func NewManager(store AccountStore, tracker *ratelimit.Tracker, cfg *config.Config) *Manager {
	return &Manager{
		tokens:          make(map[string]*Token),
		sessionAccounts: make(map[string]string),
		store:           store,
		tracker:         tracker,
		cfg:             cfg,
	}
}

func (m *Manager) quotaConfig() quota.Config {
	return quota.Config{
		Enabled:             m.cfg.QuotaProtectionEnabled,
		ThresholdPercentage: m.cfg.QuotaThresholdPercent,
		MonitoredModels:     m.cfg.QuotaMonitoredModels,
	}
}

// LoadAccounts enumerates account files, applies invariant I1's filter, runs
// the C7 quota-protection pass, and populates the pool.
func (m *Manager) LoadAccounts() error {
	paths, err := m.store.ListAccountPaths()
	if err != nil {
		return err
	}

	tokens := make(map[string]*Token)
	now := time.Now()
	qcfg := m.quotaConfig()

	for _, path := range paths {
		rec, err := m.store.ReadAccount(path)
		if err != nil {
			logging.Warn("[pool] skipping unreadable account file %s: %v", path, err)
			continue
		}
		rec.Path = path

		// Automatic recovery: a validation block whose deadline has passed
		// is cleared in memory and on disk before the admit check runs.
		if rec.ValidationBlocked && rec.ValidationBlockedUntil <= now.Unix() {
			rec.ValidationBlocked = false
			rec.ValidationBlockedUntil = 0
			if err := m.store.SaveAccount(rec); err != nil {
				logging.Warn("[pool] failed clearing expired validation block for %s: %v", rec.AccountID, err)
			}
		}

		if !rec.admitted(now) {
			continue
		}

		if quota.Process(rec, qcfg, nil) {
			if err := m.store.SaveAccount(rec); err != nil {
				logging.Warn("[pool] failed persisting quota protection for %s: %v", rec.AccountID, err)
			}
		}

		tokens[rec.AccountID] = rec.toToken()
	}

	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()
	return nil
}

// ReloadAccount re-reads one account file; if it is no longer admitted, it
// is removed instead. A successful reload clears that account's rate-limit
// records (spec §4.6).
func (m *Manager) ReloadAccount(id string) error {
	m.mu.RLock()
	existing, ok := m.tokens[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	rec, err := m.store.ReadAccount(existing.AccountPath)
	if err != nil {
		return err
	}
	rec.Path = existing.AccountPath

	now := time.Now()
	if !rec.admitted(now) {
		m.RemoveAccount(id)
		return nil
	}

	qcfg := m.quotaConfig()
	if quota.Process(rec, qcfg, nil) {
		if err := m.store.SaveAccount(rec); err != nil {
			logging.Warn("[pool] failed persisting quota protection for %s: %v", rec.AccountID, err)
		}
	}

	token := rec.toToken()
	token.HealthScore = existing.HealthScore

	m.mu.Lock()
	m.tokens[id] = token
	m.mu.Unlock()

	m.tracker.Clear(id)
	return nil
}

// RemoveAccount cleans up every reference to id: pool entry, every
// rate-limit key prefixed with the id, every session binding pointing to
// it, and the preferred-account field if it matched (spec §4.6). Each
// mutation proceeds even if an earlier one fails.
func (m *Manager) RemoveAccount(id string) {
	m.mu.Lock()
	delete(m.tokens, id)
	for sessionID, boundID := range m.sessionAccounts {
		if boundID == id {
			delete(m.sessionAccounts, sessionID)
		}
	}
	m.mu.Unlock()

	m.tracker.Clear(id)
	m.cfg.ClearPreferredAccountIfMatches(id)
}

// MarkSuccess implements spec §4.6's success bookkeeping.
func (m *Manager) MarkSuccess(id string) {
	m.mu.Lock()
	if t, ok := m.tokens[id]; ok {
		t.HealthScore = clamp01(t.HealthScore + 0.1)
	}
	m.mu.Unlock()
	m.tracker.MarkSuccess(id)
}

// RecordFailure implements spec §4.6's failure bookkeeping.
func (m *Manager) RecordFailure(id string) {
	m.mu.Lock()
	if t, ok := m.tokens[id]; ok {
		t.HealthScore = clamp01(t.HealthScore - 0.2)
	}
	m.mu.Unlock()
}

// MarkValidationBlocked persists a manual-re-validation lock for id on disk
// and removes it from the pool immediately (spec §4.10).
func (m *Manager) MarkValidationBlocked(id string, until int64) {
	m.mu.RLock()
	tok, ok := m.tokens[id]
	m.mu.RUnlock()
	if ok {
		rec, err := m.store.ReadAccount(tok.AccountPath)
		if err == nil {
			rec.Path = tok.AccountPath
			rec.ValidationBlocked = true
			rec.ValidationBlockedUntil = until
			if err := m.store.SaveAccount(rec); err != nil {
				logging.Warn("[pool] failed persisting validation block for %s: %v", id, err)
			}
		}
	}
	m.RemoveAccount(id)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Count returns the current pool size.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

// Snapshot returns a defensive copy of every token currently in the pool,
// for callers outside this package (e.g. the warmup scheduler's account
// source adapter) that need a read-only view.
func (m *Manager) Snapshot() []*Token {
	return m.snapshot()
}

// snapshot returns a defensive copy of every token currently in the pool.
func (m *Manager) snapshot() []*Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t.clone())
	}
	return out
}

// TokenForAccount returns a snapshot of one specific account's token,
// bypassing the normal scheduling/selection algorithm entirely. Used by the
// warmup loopback path (spec §4.11), which pins its trivial request to the
// exact account a warmup task was scheduled for.
func (m *Manager) TokenForAccount(id string) (*Token, bool) {
	return m.get(id)
}

func (m *Manager) get(id string) (*Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

func (m *Manager) bindSession(sessionID, accountID string) {
	m.mu.Lock()
	m.sessionAccounts[sessionID] = accountID
	m.mu.Unlock()
}

func (m *Manager) unbindSession(sessionID string) {
	m.mu.Lock()
	delete(m.sessionAccounts, sessionID)
	m.mu.Unlock()
}

func (m *Manager) sessionBinding(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionAccounts[sessionID]
	return id, ok
}

// StartCleanupLoop spawns the 15s auto-cleanup task (spec §4.6). Restarting
// aborts any prior loop, and the returned stop func is also called
// internally on the next Start call to avoid leaking goroutines.
func (m *Manager) StartCleanupLoop() (stop func()) {
	if m.cleanupStop != nil {
		m.cleanupStop()
	}
	stop = m.tracker.StartCleanupLoop()
	m.cleanupStop = stop
	return stop
}

func accountIDFromLockKey(key string) string {
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		return key[:idx]
	}
	return key
}
