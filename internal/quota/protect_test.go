package quota

import "testing"

type fakeRecord struct {
	proxyDisabled bool
	reason        string
	quotas        map[string]int
	protected     map[string]bool
}

func (f *fakeRecord) IsProxyDisabled() bool             { return f.proxyDisabled }
func (f *fakeRecord) GetProxyDisabledReason() string    { return f.reason }
func (f *fakeRecord) ClearProxyDisabled()               { f.proxyDisabled = false; f.reason = "" }
func (f *fakeRecord) GetModelQuotas() map[string]int    { return f.quotas }
func (f *fakeRecord) GetProtectedModels() map[string]bool {
	out := make(map[string]bool, len(f.protected))
	for k, v := range f.protected {
		out[k] = v
	}
	return out
}
func (f *fakeRecord) SetProtectedModels(m map[string]bool) { f.protected = m }

func TestProcessTriggersBelowThreshold(t *testing.T) {
	rec := &fakeRecord{
		quotas:    map[string]int{"gemini-2.5-pro": 5},
		protected: map[string]bool{},
	}
	cfg := Config{Enabled: true, ThresholdPercentage: 10, MonitoredModels: map[string]bool{"gemini-2.5-pro": true}}
	mutated := Process(rec, cfg, nil)
	if !mutated || !rec.protected["gemini-2.5-pro"] {
		t.Fatalf("expected gemini-2.5-pro to become protected, got %+v", rec.protected)
	}
}

func TestProcessRestoresAboveThreshold(t *testing.T) {
	rec := &fakeRecord{
		quotas:    map[string]int{"gemini-2.5-pro": 80},
		protected: map[string]bool{"gemini-2.5-pro": true},
	}
	cfg := Config{Enabled: true, ThresholdPercentage: 10, MonitoredModels: map[string]bool{"gemini-2.5-pro": true}}
	mutated := Process(rec, cfg, nil)
	if !mutated || rec.protected["gemini-2.5-pro"] {
		t.Fatalf("expected gemini-2.5-pro to be restored, got %+v", rec.protected)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	rec := &fakeRecord{
		quotas:    map[string]int{"gemini-2.5-pro": 5},
		protected: map[string]bool{"gemini-2.5-pro": true},
	}
	cfg := Config{Enabled: true, ThresholdPercentage: 10, MonitoredModels: map[string]bool{"gemini-2.5-pro": true}}
	mutated := Process(rec, cfg, nil)
	if mutated {
		t.Fatalf("expected no-op when already protected and still below threshold")
	}
}

func TestTriggerAndRestoreAreIdempotentSets(t *testing.T) {
	protected := map[string]bool{}
	if !TriggerQuotaProtection(protected, "m") {
		t.Fatalf("expected first trigger to report newly added")
	}
	if TriggerQuotaProtection(protected, "m") {
		t.Fatalf("expected second trigger to report no change")
	}
	if !RestoreQuotaProtection(protected, "m") {
		t.Fatalf("expected first restore to report removed")
	}
	if RestoreQuotaProtection(protected, "m") {
		t.Fatalf("expected second restore to report no change")
	}
}
