package pool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/ratelimit"
)

type memStore struct {
	records map[string]*AccountRecord
}

func newMemStore(recs ...*AccountRecord) *memStore {
	m := &memStore{records: map[string]*AccountRecord{}}
	for _, r := range recs {
		r.Path = r.AccountID
		m.records[r.Path] = r
	}
	return m
}

func (m *memStore) ListAccountPaths() ([]string, error) {
	var out []string
	for p := range m.records {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) ReadAccount(path string) (*AccountRecord, error) {
	r, ok := m.records[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) SaveAccount(rec *AccountRecord) error {
	cp := *rec
	m.records[rec.Path] = &cp
	return nil
}

func testManager(recs ...*AccountRecord) (*Manager, *memStore) {
	store := newMemStore(recs...)
	tracker := ratelimit.NewTracker()
	cfg := config.Default()
	mgr := NewManager(store, tracker, cfg)
	mgr.LoadAccounts()
	return mgr, store
}

func acctRecord(id, tier string) *AccountRecord {
	return &AccountRecord{AccountID: id, AccessToken: "tok-" + id, Tier: tier, ModelQuotas: map[string]int{}}
}

func TestRemoveAccountCompleteness(t *testing.T) {
	mgr, _ := testManager(acctRecord("acc1", "PRO"), acctRecord("acc2", "PRO"))
	mgr.cfg.SetPreferredAccountID("acc1")
	mgr.bindSession("sess-a", "acc1")
	mgr.tracker.ParseFromError("acc1", 429, "", "quota exhausted", "", []int64{60})

	mgr.RemoveAccount("acc1")

	if _, ok := mgr.get("acc1"); ok {
		t.Fatalf("expected acc1 removed from pool")
	}
	if _, ok := mgr.get("acc2"); !ok {
		t.Fatalf("expected acc2 untouched")
	}
	if mgr.tracker.IsRateLimited("acc1", "") {
		t.Fatalf("expected acc1's rate-limit records cleared")
	}
	if _, ok := mgr.sessionBinding("sess-a"); ok {
		t.Fatalf("expected session binding to acc1 cleared")
	}
	if mgr.cfg.GetPreferredAccountID() != "" {
		t.Fatalf("expected preferred_account_id cleared")
	}
}

func TestValidationBlockAutoRecovery(t *testing.T) {
	rec := acctRecord("acc1", "PRO")
	rec.ValidationBlocked = true
	rec.ValidationBlockedUntil = time.Now().Add(-time.Hour).Unix()

	mgr, store := testManager(rec)

	tok, ok := mgr.get("acc1")
	if !ok {
		t.Fatalf("expected expired validation block to admit the account")
	}
	if tok.ValidationBlocked {
		t.Fatalf("expected in-memory block cleared")
	}
	onDisk, _ := store.ReadAccount("acc1")
	if onDisk.ValidationBlocked {
		t.Fatalf("expected on-disk block cleared")
	}
}

func TestValidationBlockStillActiveExcludesAccount(t *testing.T) {
	rec := acctRecord("acc1", "PRO")
	rec.ValidationBlocked = true
	rec.ValidationBlockedUntil = time.Now().Add(time.Hour).Unix()

	mgr, _ := testManager(rec)
	if _, ok := mgr.get("acc1"); ok {
		t.Fatalf("expected still-blocked account excluded from pool")
	}
}

func TestNeedsRefreshInvariant(t *testing.T) {
	now := time.Now().Unix()
	if !NeedsRefresh(now+100, now) {
		t.Fatalf("expected refresh needed with 100s remaining")
	}
	if NeedsRefresh(now+301, now) {
		t.Fatalf("expected no refresh needed with 301s remaining")
	}
}

func TestScenarioS2P2CPrefersHealth(t *testing.T) {
	mgr, _ := testManager(acctRecord("a", "PRO"), acctRecord("b", "PRO"))
	a, _ := mgr.get("a")
	b, _ := mgr.get("b")
	a.HealthScore = 0.5
	b.HealthScore = 1.0
	mgr.mu.Lock()
	mgr.tokens["a"] = a
	mgr.tokens["b"] = b
	mgr.mu.Unlock()

	for i := 0; i < 10; i++ {
		tok, err := mgr.GetToken(context.Background(), "gemini-2.5-pro", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok.AccountID != "b" {
			t.Fatalf("expected higher-health account b to win, got %s", tok.AccountID)
		}
	}
}

func TestScenarioS3PreferredAccountFallback(t *testing.T) {
	mgr, _ := testManager(acctRecord("acc1", "PRO"), acctRecord("acc2", "PRO"))
	mgr.cfg.SetPreferredAccountID("acc1")

	tok, err := mgr.GetToken(context.Background(), "gemini-2.5-pro", "")
	if err != nil || tok.AccountID != "acc1" {
		t.Fatalf("expected acc1 selected while unlimited, got %v err=%v", tok, err)
	}

	mgr.tracker.ParseFromError("acc1", 429, "60", "", "gemini-2.5-pro", []int64{60})

	tok, err = mgr.GetToken(context.Background(), "gemini-2.5-pro", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.AccountID != "acc2" {
		t.Fatalf("expected fallback to acc2, got %s", tok.AccountID)
	}
}

func TestScenarioS1SessionStickinessBalance(t *testing.T) {
	mgr, _ := testManager(acctRecord("acc1", "PRO"), acctRecord("acc2", "PRO"))
	mgr.cfg.SetSchedulingMode(config.ModeBalance)

	first, err := mgr.GetToken(context.Background(), "gemini-2.5-pro", "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := mgr.GetToken(context.Background(), "gemini-2.5-pro", "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.AccountID != first.AccountID {
		t.Fatalf("expected sticky session to return the same account, got %s then %s", first.AccountID, second.AccountID)
	}

	mgr.tracker.ParseFromError(first.AccountID, 429, "60", "", "gemini-2.5-pro", []int64{60})

	third, err := mgr.GetToken(context.Background(), "gemini-2.5-pro", "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.AccountID == first.AccountID {
		t.Fatalf("expected Balance mode to unbind and switch accounts after rate limit")
	}
	bound, ok := mgr.sessionBinding("u-1")
	if !ok || bound != third.AccountID {
		t.Fatalf("expected session now bound to %s, got %s (ok=%v)", third.AccountID, bound, ok)
	}
}
