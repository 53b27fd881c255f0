// Package quota implements quota-protection (C7): per-model lockout when an
// account's remaining quota for a model group falls at or below a
// configured threshold, with idempotent trigger/restore semantics.
package quota

import "github.com/poemonsense/antigravity-proxy-go/internal/modelmap"

// Config mirrors the quota-protection config surface read by C7 (spec §3).
type Config struct {
	Enabled             bool
	ThresholdPercentage int
	MonitoredModels     map[string]bool // normalized model ids
}

// Record is the minimal view over an on-disk account record that C7 needs,
// satisfied by pool.AccountRecord without either package importing the
// other's concrete type.
type Record interface {
	IsProxyDisabled() bool
	GetProxyDisabledReason() string
	ClearProxyDisabled()
	GetModelQuotas() map[string]int
	GetProtectedModels() map[string]bool
	SetProtectedModels(map[string]bool)
}

// Mirror applies a protected-models set to the in-memory token counterpart
// of a record; callers pass the token's own set field through this hook.
type Mirror func(protected map[string]bool)

// Persist writes the mutated record back to its source-of-truth file.
type Persist func() error

// Process runs C7's full per-account pass during account load: legacy
// proxy_disabled migration, per-group minimum computation, and
// trigger/restore for every monitored model. Returns whether the record was
// mutated (and therefore needs saving by the caller, alongside Persist).
func Process(rec Record, cfg Config, mirror Mirror) bool {
	if !cfg.Enabled {
		return false
	}
	quotas := rec.GetModelQuotas()
	if len(quotas) == 0 {
		return false
	}

	mutated := false

	// Legacy migration: proxy_disabled with reason quota_protection predates
	// per-model protected_models; convert it to the new representation.
	if rec.IsProxyDisabled() && rec.GetProxyDisabledReason() == "quota_protection" {
		rec.ClearProxyDisabled()
		mutated = true
	}

	groupMin := minByGroup(quotas)
	protected := rec.GetProtectedModels()

	for standardID := range cfg.MonitoredModels {
		min, known := groupMin[standardID]
		if known && min <= cfg.ThresholdPercentage {
			if !protected[standardID] {
				protected[standardID] = true
				mutated = true
			}
			continue
		}
		if protected[standardID] {
			delete(protected, standardID)
			mutated = true
		}
	}

	if mutated {
		rec.SetProtectedModels(protected)
		if mirror != nil {
			mirror(protected)
		}
	}
	return mutated
}

// minByGroup groups raw per-model quota percentages by
// normalize_to_standard_id, keeping the minimum observed per group.
func minByGroup(quotas map[string]int) map[string]int {
	out := make(map[string]int, len(quotas))
	for model, pct := range quotas {
		standardID := modelmap.NormalizeOrSelf(model)
		if cur, ok := out[standardID]; !ok || pct < cur {
			out[standardID] = pct
		}
	}
	return out
}

// TriggerQuotaProtection appends standardID to protected (set semantics),
// returning true iff it was newly added (idempotent).
func TriggerQuotaProtection(protected map[string]bool, standardID string) bool {
	if protected[standardID] {
		return false
	}
	protected[standardID] = true
	return true
}

// RestoreQuotaProtection removes standardID from protected, returning true
// iff it had been present (idempotent).
func RestoreQuotaProtection(protected map[string]bool, standardID string) bool {
	if !protected[standardID] {
		return false
	}
	delete(protected, standardID)
	return true
}
