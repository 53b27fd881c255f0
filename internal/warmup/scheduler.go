package warmup

import (
	"context"
	"sync"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	"github.com/poemonsense/antigravity-proxy-go/internal/pool"
)

const (
	tickInterval = 10 * time.Minute
	batchSize    = 3
	batchDelay   = 2 * time.Second
)

// AccountSource lists the accounts a warmup pass should consider.
type AccountSource interface {
	ActiveAccounts() []AccountView
}

// AccountView is the minimal per-account data the scheduler needs; it
// deliberately avoids depending on pool.Token directly so a caller can
// adapt any account representation.
type AccountView struct {
	AccountID string
	Email     string
	Expiry    int64
}

// Refresher refreshes an account's access token if it is near expiry.
type Refresher interface {
	RefreshIfNeeded(ctx context.Context, accountID string) error
}

// QuotaFetcher fetches an account's fresh per-model quota from Upstream.
type QuotaFetcher interface {
	FetchQuota(ctx context.Context, accountID string) (quotas map[string]int, isForbidden bool, err error)
}

// TaskRunner executes one warmup request against the gateway's own
// loopback endpoint, bypassing any outbound proxy.
type TaskRunner interface {
	Warmup(ctx context.Context, accountID, model string) error
}

// Scheduler runs the 10-minute warmup scan (C11).
type Scheduler struct {
	accounts AccountSource
	refresh  Refresher
	quota    QuotaFetcher
	runner   TaskRunner
	history  *History
	monitored map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewScheduler(accounts AccountSource, refresh Refresher, quota QuotaFetcher, runner TaskRunner, history *History, monitored map[string]bool) *Scheduler {
	return &Scheduler{
		accounts:  accounts,
		refresh:   refresh,
		quota:     quota,
		runner:    runner,
		history:   history,
		monitored: monitored,
		stopCh:    make(chan struct{}),
	}
}

// Start spawns the 10-minute ticker loop. Restarting aborts the prior loop.
func (s *Scheduler) Start() (stop func()) {
	s.stopOnce = sync.Once{}
	stopCh := make(chan struct{})
	s.stopCh = stopCh

	ticker := time.NewTicker(tickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(context.Background())
			case <-stopCh:
				return
			}
		}
	}()

	return func() {
		s.stopOnce.Do(func() { close(stopCh) })
	}
}

// RunOnce executes a single scan pass over every active account (spec §4.11
// steps 1-5).
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := time.Now()
	if err := s.history.CleanupOlderThan24h(now); err != nil {
		logging.Warn("[warmup] history cleanup failed: %v", err)
	}

	var tasks []func() error

	for _, acct := range s.accounts.ActiveAccounts() {
		if pool.NeedsRefresh(acct.Expiry, now.Unix()) {
			if err := s.refresh.RefreshIfNeeded(ctx, acct.AccountID); err != nil {
				logging.Warn("[warmup] refresh failed for %s: %v", acct.AccountID, err)
				continue
			}
		}

		quotas, forbidden, err := s.quota.FetchQuota(ctx, acct.AccountID)
		if err != nil {
			logging.Warn("[warmup] quota fetch failed for %s: %v", acct.AccountID, err)
			continue
		}
		if forbidden {
			continue
		}

		for model, pct := range quotas {
			key := Key(acct.Email, model)
			if pct < 100 {
				if err := s.history.Clear(key); err != nil {
					logging.Warn("[warmup] history clear failed for %s: %v", key, err)
				}
				continue
			}
			if !s.monitored[model] {
				continue
			}
			inCooldown, err := s.history.InCooldown(key)
			if err != nil {
				logging.Warn("[warmup] cooldown check failed for %s: %v", key, err)
				continue
			}
			if inCooldown {
				continue
			}

			accountID, m, k := acct.AccountID, model, key
			tasks = append(tasks, func() error {
				if err := s.runner.Warmup(ctx, accountID, m); err != nil {
					return err
				}
				return s.history.Record(k, time.Now())
			})
		}
	}

	s.runBatched(tasks)
}

// runBatched executes tasks in batches of 3 concurrently, with a 2-second
// delay between batches (spec §4.11 "Batching").
func (s *Scheduler) runBatched(tasks []func() error) {
	for start := 0; start < len(tasks); start += batchSize {
		end := start + batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		var wg sync.WaitGroup
		for _, task := range tasks[start:end] {
			wg.Add(1)
			go func(t func() error) {
				defer wg.Done()
				if err := t(); err != nil {
					logging.Warn("[warmup] task failed: %v", err)
				}
			}(task)
		}
		wg.Wait()
		if end < len(tasks) {
			time.Sleep(batchDelay)
		}
	}
}
