package pool

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/gwerrors"
	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	"github.com/poemonsense/antigravity-proxy-go/internal/modelmap"
)

const (
	selectionTimeout  = 5 * time.Second
	p2cCandidateLimit = 6
	safetyNetRetries  = 2
	safetyNetDelay    = 5 * time.Millisecond
)

// ErrEmptyPool is returned when the pool has no tokens at all.
var ErrEmptyPool = errors.New("account pool is empty")

// GetToken implements C6's selection algorithm (spec §4.6), wrapped in a
// 5-second timeout to break pathological contention.
func (m *Manager) GetToken(ctx context.Context, targetModel, sessionID string) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, selectionTimeout)
	defer cancel()

	type result struct {
		token *Token
		err   error
	}
	done := make(chan result, 1)
	go func() {
		t, err := m.getTokenInner(ctx, targetModel, sessionID)
		done <- result{t, err}
	}()

	select {
	case r := <-done:
		return r.token, r.err
	case <-ctx.Done():
		return nil, gwerrors.NewSelectionTimeoutError()
	}
}

func (m *Manager) getTokenInner(ctx context.Context, targetModel, sessionID string) (*Token, error) {
	candidates := m.snapshot()
	if len(candidates) == 0 {
		return nil, ErrEmptyPool
	}

	normalizedTarget := modelmap.NormalizeOrSelf(targetModel)
	sortCandidates(candidates, normalizedTarget)

	mode := m.cfg.GetSchedulingMode()

	// Step 4: preferred-account branch.
	if preferredID := m.cfg.GetPreferredAccountID(); preferredID != "" {
		if tok := findByID(candidates, preferredID); tok != nil {
			state := m.safetyNetCheck(tok)
			switch state {
			case SafetyDisabled:
				m.RemoveAccount(preferredID)
			case SafetyEnabled:
				if !m.tracker.IsRateLimited(tok.AccountID, normalizedTarget) && !tok.IsProtected(normalizedTarget) {
					return tok, nil
				}
				logging.Info("[pool] preferred account %s unavailable for %s, falling through", preferredID, normalizedTarget)
			default:
				logging.Warn("[pool] preferred account %s state unknown, falling through", preferredID)
			}
		}
	}

	attempted := make(map[string]bool)
	maxAttempts := len(candidates)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var chosen *Token
		stickyAttempt := false

		// Step 5a: sticky branch, first attempt only.
		if attempt == 0 && sessionID != "" && mode != config.ModePerformanceFirst {
			if boundID, ok := m.sessionBinding(sessionID); ok {
				if bound := findByID(candidates, boundID); bound != nil {
					if m.tracker.IsRateLimited(bound.AccountID, normalizedTarget) {
						wait := m.tracker.GetRemainingWait(bound.AccountID, normalizedTarget)
						if mode == config.ModeCacheFirst && wait <= time.Duration(m.cfg.GetMaxWaitSeconds())*time.Second {
							select {
							case <-time.After(wait):
							case <-ctx.Done():
								return nil, gwerrors.NewSelectionTimeoutError()
							}
							if !m.tracker.IsRateLimited(bound.AccountID, normalizedTarget) {
								chosen = bound
								stickyAttempt = true
							} else {
								m.unbindSession(sessionID)
							}
						} else {
							m.unbindSession(sessionID)
						}
					} else if !bound.IsProtected(normalizedTarget) {
						chosen = bound
						stickyAttempt = true
					}
				}
			}
		}

		// Step 5b: P2C branch.
		if chosen == nil {
			picked, err := m.p2cPick(candidates, normalizedTarget, attempted)
			if err != nil {
				return nil, err
			}
			if picked == nil {
				return nil, gwerrors.NewAllAccountsLimitedError(int64(m.tracker.MinWaitAcross(idsOf(candidates), normalizedTarget).Seconds()))
			}
			chosen = picked
		}

		// Step 5c: bind sticky sessions to the freshly chosen token.
		if sessionID != "" && mode != config.ModePerformanceFirst && !stickyAttempt {
			m.bindSession(sessionID, chosen.AccountID)
		}

		// Step 5d: safety net.
		switch m.safetyNetCheck(chosen) {
		case SafetyDisabled:
			attempted[chosen.AccountID] = true
			m.RemoveAccount(chosen.AccountID)
			continue
		case SafetyUnknown:
			attempted[chosen.AccountID] = true
			continue
		default:
			return chosen, nil
		}
	}

	return nil, errors.New("all accounts failed")
}

func sortCandidates(tokens []*Token, normalizedTarget string) {
	sort.SliceStable(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		qa, qb := a.QuotaFor(normalizedTarget), b.QuotaFor(normalizedTarget)
		if qa != qb {
			return qa > qb
		}
		return a.HealthScore > b.HealthScore
	})
}

func findByID(tokens []*Token, id string) *Token {
	for _, t := range tokens {
		if t.AccountID == id {
			return t
		}
	}
	return nil
}

func idsOf(tokens []*Token) []string {
	ids := make([]string, len(tokens))
	for i, t := range tokens {
		ids[i] = t.AccountID
	}
	return ids
}

// p2cPick implements spec §4.6 step 5b's power-of-two-choices selection,
// including the minimum-wait sleep-and-retry and optimistic clear_all
// escape hatches.
func (m *Manager) p2cPick(candidates []*Token, normalizedTarget string, attempted map[string]bool) (*Token, error) {
	eligible := m.unprotectedUntried(candidates, normalizedTarget, attempted)
	if len(eligible) > 0 {
		return pickTwoRandom(eligible), nil
	}

	wait := m.tracker.MinWaitAcross(idsOf(candidates), normalizedTarget)
	if wait <= 2*time.Second {
		time.Sleep(wait)
		eligible = m.unprotectedUntried(candidates, normalizedTarget, attempted)
		if len(eligible) > 0 {
			return pickTwoRandom(eligible), nil
		}
	}

	// Optimistic reset: clear every lockout and take the first untried,
	// unprotected candidate.
	m.tracker.ClearAll()
	for _, t := range candidates {
		if attempted[t.AccountID] || t.IsProtected(normalizedTarget) {
			continue
		}
		return t, nil
	}

	return nil, nil
}

func (m *Manager) unprotectedUntried(candidates []*Token, normalizedTarget string, attempted map[string]bool) []*Token {
	var out []*Token
	for _, t := range candidates {
		if attempted[t.AccountID] {
			continue
		}
		if t.IsProtected(normalizedTarget) {
			continue
		}
		if m.tracker.IsRateLimited(t.AccountID, normalizedTarget) {
			continue
		}
		out = append(out, t)
		if len(out) >= p2cCandidateLimit {
			break
		}
	}
	return out
}

func pickTwoRandom(candidates []*Token) *Token {
	if len(candidates) == 1 {
		return candidates[0]
	}
	i := rand.Intn(len(candidates))
	j := rand.Intn(len(candidates))
	for j == i {
		j = rand.Intn(len(candidates))
	}
	if candidates[i].HealthScore >= candidates[j].HealthScore {
		return candidates[i]
	}
	return candidates[j]
}

// safetyNetCheck re-reads the chosen token's source file to confirm it is
// still enabled, retrying transient read failures twice at 5ms (spec §4.6
// step 5d).
func (m *Manager) safetyNetCheck(tok *Token) SafetyState {
	var rec *AccountRecord
	var err error
	for attempt := 0; attempt <= safetyNetRetries; attempt++ {
		rec, err = m.store.ReadAccount(tok.AccountPath)
		if err == nil {
			break
		}
		time.Sleep(safetyNetDelay)
	}
	if err != nil {
		return SafetyUnknown
	}
	if rec.Disabled || (rec.ProxyDisabled && rec.ProxyDisabledReason != "quota_protection") || rec.QuotaForbidden {
		return SafetyDisabled
	}
	return SafetyEnabled
}
