package warmup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	"github.com/poemonsense/antigravity-proxy-go/internal/modelmap"
	"github.com/poemonsense/antigravity-proxy-go/internal/pool"
)

// PoolAccountSource adapts pool.Manager.Snapshot into AccountSource without
// pool needing to know about this package (pool is imported by warmup, not
// the other way around).
type PoolAccountSource struct {
	Pool *pool.Manager
}

func (s *PoolAccountSource) ActiveAccounts() []AccountView {
	tokens := s.Pool.Snapshot()
	out := make([]AccountView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, AccountView{AccountID: t.AccountID, Email: t.Email, Expiry: t.Expiry})
	}
	return out
}

// oauthTokenURL and the native-app client credentials below are Google's
// published values for this OAuth client, not project secrets.
const (
	oauthTokenURL    = "https://oauth2.googleapis.com/token"
	oauthClientID    = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	oauthClientSecret = "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"
)

// OAuthRefresher implements Refresher against Google's token endpoint,
// persisting the refreshed access token back through the account store and
// reloading it into the pool. The browser-based authorization flow itself
// (code exchange, PKCE) is the out-of-scope OAuth collaborator; this only
// covers the refresh_token grant the warmup scan needs before a scan.
type OAuthRefresher struct {
	Pool   *pool.Manager
	Store  pool.AccountStore
	Client *http.Client
}

func (r *OAuthRefresher) httpClient() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

// RefreshIfNeeded refreshes accountID's access token if fewer than 300
// seconds remain before expiry (pool.NeedsRefresh), then persists the new
// token and reloads the pool entry.
func (r *OAuthRefresher) RefreshIfNeeded(ctx context.Context, accountID string) error {
	token, ok := r.Pool.TokenForAccount(accountID)
	if !ok {
		return nil
	}
	if !pool.NeedsRefresh(token.Expiry, time.Now().Unix()) {
		return nil
	}
	return r.Refresh(ctx, accountID)
}

// Refresh unconditionally exchanges accountID's refresh_token for a new
// access token, regardless of the cached expiry. Used by the dispatch
// loop's 401 handling, where the upstream has already told us the current
// access token is invalid and there is no point waiting for NeedsRefresh.
func (r *OAuthRefresher) Refresh(ctx context.Context, accountID string) error {
	token, ok := r.Pool.TokenForAccount(accountID)
	if !ok {
		return fmt.Errorf("oauth refresh: unknown account %s", accountID)
	}

	form := url.Values{
		"client_id":     {oauthClientID},
		"client_secret": {oauthClientSecret},
		"refresh_token": {token.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("oauth refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oauth refresh failed: status %d", resp.StatusCode)
	}
	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("oauth refresh decode failed: %w", err)
	}

	rec, err := r.Store.ReadAccount(token.AccountPath)
	if err != nil {
		return err
	}
	rec.Path = token.AccountPath
	rec.AccessToken = result.AccessToken
	rec.Expiry = time.Now().Unix() + result.ExpiresIn
	if err := r.Store.SaveAccount(rec); err != nil {
		return err
	}
	return r.Pool.ReloadAccount(accountID)
}

// endpointFallbacks mirrors the teacher's AntigravityEndpointFallbacks: the
// daily endpoint first, falling back to prod.
var endpointFallbacks = []string{
	"https://daily-cloudcode-pa.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

type quotaInfo struct {
	RemainingFraction *float64 `json:"remainingFraction,omitempty"`
	ResetTime         *string  `json:"resetTime,omitempty"`
}

type modelInfo struct {
	DisplayName string     `json:"displayName,omitempty"`
	QuotaInfo   *quotaInfo `json:"quotaInfo,omitempty"`
}

type fetchModelsResponse struct {
	Models map[string]*modelInfo `json:"models,omitempty"`
}

// CloudCodeQuotaFetcher implements QuotaFetcher by calling Upstream's
// v1internal:fetchAvailableModels across the daily/prod endpoint fallback,
// converting each model's remainingFraction into the 0..100 integer
// percentage the rest of the module works in.
type CloudCodeQuotaFetcher struct {
	Pool   *pool.Manager
	Client *http.Client
}

func (f *CloudCodeQuotaFetcher) httpClient() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// FetchQuota reports isForbidden when the account has no pool entry
// (removed or disabled since the scan started), which the scheduler treats
// as "skip this account" without logging an error.
func (f *CloudCodeQuotaFetcher) FetchQuota(ctx context.Context, accountID string) (map[string]int, bool, error) {
	token, ok := f.Pool.TokenForAccount(accountID)
	if !ok {
		return nil, true, nil
	}

	body := map[string]string{}
	if token.ProjectID != "" {
		body["project"] = token.ProjectID
	}
	payload, _ := json.Marshal(body)

	var lastErr error
	for _, endpoint := range endpointFallbacks {
		quotas, err := fetchQuotasFromEndpoint(ctx, f.httpClient(), endpoint, token.AccessToken, payload)
		if err != nil {
			logging.Warn("[warmup] fetchAvailableModels failed at %s: %v", endpoint, err)
			lastErr = err
			continue
		}
		return quotas, false, nil
	}
	return nil, false, lastErr
}

func fetchQuotasFromEndpoint(ctx context.Context, client *http.Client, endpoint, accessToken string, payload []byte) (map[string]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:fetchAvailableModels", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetchAvailableModels: status %d from %s", resp.StatusCode, endpoint)
	}
	var data fetchModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}

	quotas := make(map[string]int, len(data.Models))
	for modelID, info := range data.Models {
		if info == nil || info.QuotaInfo == nil {
			continue
		}
		normalized := modelmap.NormalizeOrSelf(modelID)
		switch {
		case info.QuotaInfo.RemainingFraction != nil:
			quotas[normalized] = int(*info.QuotaInfo.RemainingFraction * 100)
		case info.QuotaInfo.ResetTime != nil:
			// Missing fraction with a reset time set means exhausted.
			quotas[normalized] = 0
		}
	}
	return quotas, nil
}

// LoopbackTaskRunner implements TaskRunner by POSTing to the gateway's own
// /internal/warmup endpoint (spec §4.11 "loopback, bypassing any outbound
// proxy"): it talks to localhost directly rather than through Addr's public
// interface or d.client()'s account-proxy client.
type LoopbackTaskRunner struct {
	Addr   string // host:port the gateway itself listens on
	Client *http.Client
}

func (r *LoopbackTaskRunner) httpClient() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (r *LoopbackTaskRunner) Warmup(ctx context.Context, accountID, model string) error {
	payload, _ := json.Marshal(map[string]string{"account_id": accountID, "model": model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+r.Addr+"/internal/warmup", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("warmup loopback request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("warmup loopback failed: status %d", resp.StatusCode)
	}
	return nil
}
