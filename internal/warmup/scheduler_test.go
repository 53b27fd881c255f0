package warmup

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeAccounts struct{ views []AccountView }

func (f *fakeAccounts) ActiveAccounts() []AccountView { return f.views }

type fakeRefresher struct{}

func (fakeRefresher) RefreshIfNeeded(ctx context.Context, accountID string) error { return nil }

type fakeQuota struct{ quotas map[string]map[string]int }

func (f *fakeQuota) FetchQuota(ctx context.Context, accountID string) (map[string]int, bool, error) {
	return f.quotas[accountID], false, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) Warmup(ctx context.Context, accountID, model string) error {
	f.mu.Lock()
	f.calls = append(f.calls, accountID+"/"+model)
	f.mu.Unlock()
	return nil
}

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory history: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRunOnceWarmsMonitoredModelsAt100Percent(t *testing.T) {
	history := newTestHistory(t)
	accounts := &fakeAccounts{views: []AccountView{{AccountID: "acc1", Email: "a@example.com", Expiry: time.Now().Add(time.Hour).Unix()}}}
	quota := &fakeQuota{quotas: map[string]map[string]int{"acc1": {"gemini-2.5-pro": 100, "gemini-2.5-flash": 50}}}
	runner := &fakeRunner{}

	sched := NewScheduler(accounts, fakeRefresher{}, quota, runner, history, map[string]bool{"gemini-2.5-pro": true})
	sched.RunOnce(context.Background())

	if len(runner.calls) != 1 || runner.calls[0] != "acc1/gemini-2.5-pro" {
		t.Fatalf("expected one warmup call for the monitored 100%% model, got %v", runner.calls)
	}
}

func TestRunOnceSkipsUnmonitoredModel(t *testing.T) {
	history := newTestHistory(t)
	accounts := &fakeAccounts{views: []AccountView{{AccountID: "acc1", Email: "a@example.com", Expiry: time.Now().Add(time.Hour).Unix()}}}
	quota := &fakeQuota{quotas: map[string]map[string]int{"acc1": {"gemini-2.5-pro": 100}}}
	runner := &fakeRunner{}

	sched := NewScheduler(accounts, fakeRefresher{}, quota, runner, history, map[string]bool{"claude-sonnet": true})
	sched.RunOnce(context.Background())

	if len(runner.calls) != 0 {
		t.Fatalf("expected no warmup calls for unmonitored model, got %v", runner.calls)
	}
}

func TestRunOnceRespectsCooldown(t *testing.T) {
	history := newTestHistory(t)
	key := Key("a@example.com", "gemini-2.5-pro")
	if err := history.Record(key, time.Now()); err != nil {
		t.Fatalf("failed seeding history: %v", err)
	}

	accounts := &fakeAccounts{views: []AccountView{{AccountID: "acc1", Email: "a@example.com", Expiry: time.Now().Add(time.Hour).Unix()}}}
	quota := &fakeQuota{quotas: map[string]map[string]int{"acc1": {"gemini-2.5-pro": 100}}}
	runner := &fakeRunner{}

	sched := NewScheduler(accounts, fakeRefresher{}, quota, runner, history, map[string]bool{"gemini-2.5-pro": true})
	sched.RunOnce(context.Background())

	if len(runner.calls) != 0 {
		t.Fatalf("expected cooldown to suppress warmup, got %v", runner.calls)
	}
}

func TestRunOnceClearsHistoryBelow100(t *testing.T) {
	history := newTestHistory(t)
	key := Key("a@example.com", "gemini-2.5-pro")
	if err := history.Record(key, time.Now()); err != nil {
		t.Fatalf("failed seeding history: %v", err)
	}

	accounts := &fakeAccounts{views: []AccountView{{AccountID: "acc1", Email: "a@example.com", Expiry: time.Now().Add(time.Hour).Unix()}}}
	quota := &fakeQuota{quotas: map[string]map[string]int{"acc1": {"gemini-2.5-pro": 90}}}
	runner := &fakeRunner{}

	sched := NewScheduler(accounts, fakeRefresher{}, quota, runner, history, map[string]bool{"gemini-2.5-pro": true})
	sched.RunOnce(context.Background())

	inCooldown, err := history.InCooldown(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inCooldown {
		t.Fatalf("expected history cleared once quota dropped below 100")
	}
}
