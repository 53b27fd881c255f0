// Package config holds the gateway's read-mostly runtime configuration
// surface (spec §6), guarded by a single reader/writer lock.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
)

// SchedulingMode is the scheduler's stickiness/performance preference (spec §3).
type SchedulingMode string

const (
	ModeCacheFirst       SchedulingMode = "CacheFirst"
	ModeBalance          SchedulingMode = "Balance"
	ModePerformanceFirst SchedulingMode = "PerformanceFirst"
)

// Config is the gateway's full configuration surface. All fields are
// read-mostly; mutation goes through the setters, which take the write lock.
type Config struct {
	mu sync.RWMutex

	// Scheduling (C6, spec §3)
	SchedulingMode      SchedulingMode
	MaxWaitSeconds      int64
	PreferredAccountID  string

	// Model mapping (C3)
	CustomModelMapping map[string]string

	// Upstream (C5)
	UpstreamProxyURL string
	UserAgent        string

	// Quota protection (C7, spec §3)
	QuotaProtectionEnabled bool
	QuotaThresholdPercent  int
	QuotaMonitoredModels   map[string]bool

	// Warmup scheduler (C11)
	WarmupEnabled        bool
	WarmupMonitoredModels map[string]bool

	// Rate-limit tracker (C1)
	BackoffSteps []int64

	// Connection / process
	Host        string
	Port        int
	Debug       bool
	APIKey      string
	RedisAddr   string
	RedisPass   string
	SqlitePath  string
}

// Default returns a Config populated with the teacher-equivalent defaults.
func Default() *Config {
	return &Config{
		SchedulingMode:         ModeBalance,
		MaxWaitSeconds:         10,
		CustomModelMapping:     map[string]string{},
		UserAgent:              "antigravity-gateway/1.0",
		QuotaProtectionEnabled: true,
		QuotaThresholdPercent:  10,
		QuotaMonitoredModels:   map[string]bool{"gemini-3-flash": true, "gemini-3-pro-high": true, "claude": true},
		WarmupEnabled:          true,
		WarmupMonitoredModels:  map[string]bool{"gemini-3-flash": true, "gemini-3-pro-high": true},
		BackoffSteps:           []int64{60, 300, 1800, 7200},
		Host:                   "0.0.0.0",
		Port:                   8080,
		SqlitePath:             "./warmup.db",
	}
}

// Load reads a JSON config file if present, then applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var onDisk struct {
				SchedulingMode         string          `json:"scheduling_mode"`
				MaxWaitSeconds         int64           `json:"max_wait_seconds"`
				PreferredAccountID     string          `json:"preferred_account_id"`
				CustomModelMapping     map[string]string `json:"custom_model_mapping"`
				UpstreamProxyURL       string          `json:"upstream_proxy_url"`
				UserAgent              string          `json:"user_agent"`
				QuotaProtectionEnabled *bool           `json:"quota_protection_enabled"`
				QuotaThresholdPercent  int             `json:"quota_threshold_percent"`
				QuotaMonitoredModels   []string        `json:"quota_monitored_models"`
				WarmupEnabled          *bool           `json:"warmup_enabled"`
				WarmupMonitoredModels  []string        `json:"warmup_monitored_models"`
				BackoffSteps           []int64         `json:"backoff_steps"`
				Host                   string          `json:"host"`
				Port                   int             `json:"port"`
			}
			if err := json.Unmarshal(data, &onDisk); err != nil {
				logging.Warn("[config] failed to parse %s: %v", path, err)
			} else {
				if onDisk.SchedulingMode != "" {
					cfg.SchedulingMode = SchedulingMode(onDisk.SchedulingMode)
				}
				if onDisk.MaxWaitSeconds > 0 {
					cfg.MaxWaitSeconds = onDisk.MaxWaitSeconds
				}
				cfg.PreferredAccountID = onDisk.PreferredAccountID
				if onDisk.CustomModelMapping != nil {
					cfg.CustomModelMapping = onDisk.CustomModelMapping
				}
				if onDisk.UpstreamProxyURL != "" {
					cfg.UpstreamProxyURL = onDisk.UpstreamProxyURL
				}
				if onDisk.UserAgent != "" {
					cfg.UserAgent = onDisk.UserAgent
				}
				if onDisk.QuotaProtectionEnabled != nil {
					cfg.QuotaProtectionEnabled = *onDisk.QuotaProtectionEnabled
				}
				if onDisk.QuotaThresholdPercent > 0 {
					cfg.QuotaThresholdPercent = onDisk.QuotaThresholdPercent
				}
				if len(onDisk.QuotaMonitoredModels) > 0 {
					cfg.QuotaMonitoredModels = toSet(onDisk.QuotaMonitoredModels)
				}
				if onDisk.WarmupEnabled != nil {
					cfg.WarmupEnabled = *onDisk.WarmupEnabled
				}
				if len(onDisk.WarmupMonitoredModels) > 0 {
					cfg.WarmupMonitoredModels = toSet(onDisk.WarmupMonitoredModels)
				}
				if len(onDisk.BackoffSteps) > 0 {
					cfg.BackoffSteps = onDisk.BackoffSteps
				}
				if onDisk.Host != "" {
					cfg.Host = onDisk.Host
				}
				if onDisk.Port > 0 {
					cfg.Port = onDisk.Port
				}
			}
		}
	}
	cfg.loadFromEnv()
	return cfg, nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Port = p
		}
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPass = v
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
		logging.SetDebug(true)
	}
	if v := os.Getenv("UPSTREAM_PROXY_URL"); v != "" {
		c.UpstreamProxyURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SqlitePath = v
	}
}

// GetSchedulingMode returns the current scheduling mode.
func (c *Config) GetSchedulingMode() SchedulingMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SchedulingMode
}

// SetSchedulingMode updates the scheduling mode.
func (c *Config) SetSchedulingMode(m SchedulingMode) {
	c.mu.Lock()
	c.SchedulingMode = m
	c.mu.Unlock()
}

// GetPreferredAccountID returns the configured preferred account, if any.
func (c *Config) GetPreferredAccountID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PreferredAccountID
}

// SetPreferredAccountID sets (or clears, with "") the preferred account.
func (c *Config) SetPreferredAccountID(id string) {
	c.mu.Lock()
	c.PreferredAccountID = id
	c.mu.Unlock()
}

// ClearPreferredAccountIfMatches clears the preferred account id if it equals id.
// Used by C6 remove_account (invariant #9).
func (c *Config) ClearPreferredAccountIfMatches(id string) {
	c.mu.Lock()
	if c.PreferredAccountID == id {
		c.PreferredAccountID = ""
	}
	c.mu.Unlock()
}

// GetMaxWaitSeconds returns the CacheFirst stickiness max-wait.
func (c *Config) GetMaxWaitSeconds() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MaxWaitSeconds
}

// GetCustomModelMapping returns a copy of the custom mapping table.
func (c *Config) GetCustomModelMapping() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.CustomModelMapping))
	for k, v := range c.CustomModelMapping {
		out[k] = v
	}
	return out
}

// GetBackoffSteps returns the configured QuotaExhausted backoff ladder.
func (c *Config) GetBackoffSteps() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int64, len(c.BackoffSteps))
	copy(out, c.BackoffSteps)
	return out
}

// GetPublic returns a redacted view safe to expose outward.
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	redactedKey := ""
	if c.APIKey != "" {
		redactedKey = "********"
	}
	return map[string]interface{}{
		"scheduling_mode": c.SchedulingMode,
		"host":            c.Host,
		"port":            c.Port,
		"api_key":         redactedKey,
		"debug":           c.Debug,
	}
}
