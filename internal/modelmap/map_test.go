package modelmap

import "testing"

func TestMapModelWarmupAlwaysFlash(t *testing.T) {
	if got := MapModel("claude-opus-4-6-thinking", nil, true); got != WarmupModel {
		t.Fatalf("warmup model = %q, want %q", got, WarmupModel)
	}
}

func TestMapModelExactCustomMapping(t *testing.T) {
	mapping := map[string]string{"my-model": "gemini-3-pro-high", "a*b": "ignored-if-exact"}
	for k, v := range mapping {
		if got := MapModel(k, mapping, false); got != v {
			t.Fatalf("MapModel(%q) = %q, want %q", k, got, v)
		}
	}
}

func TestMapModelWildcardSpecificity(t *testing.T) {
	mapping := map[string]string{
		"claude-*":        "loose",
		"claude-3-5-*":    "tight",
	}
	got := MapModel("claude-3-5-sonnet-20241022", mapping, false)
	if got != "tight" {
		t.Fatalf("expected the more specific wildcard to win, got %q", got)
	}
}

func TestWildcardMatchesAnchoring(t *testing.T) {
	cases := []struct {
		pattern, input string
		want           bool
	}{
		{"gpt-*-preview", "gpt-4-preview", true},
		{"gpt-*-preview", "gpt-4-preview-old", false},
		{"*-thinking", "claude-opus-4-6-thinking", true},
		{"*-thinking", "claude-opus-4-6-thinking-x", false},
	}
	for _, c := range cases {
		if got := wildcardMatches(c.pattern, c.input); got != c.want {
			t.Errorf("wildcardMatches(%q,%q) = %v, want %v", c.pattern, c.input, got, c.want)
		}
	}
}

func TestNormalizeToStandardIDIdempotent(t *testing.T) {
	inputs := []string{"gemini-3-pro-image", "gemini-2.5-flash", "gemini-3-pro-high", "claude-opus-4-6-thinking", "mystery-model"}
	for _, m := range inputs {
		first := NormalizeOrSelf(m)
		second := NormalizeOrSelf(first)
		if first != second {
			t.Errorf("normalize not idempotent for %q: %q then %q", m, first, second)
		}
	}
}

func TestNormalizeGroupsAsSpecified(t *testing.T) {
	if v, _ := NormalizeToStandardID("gemini-3-pro-image"); v != "gemini-3-pro-image" {
		t.Errorf("pro-image got %q", v)
	}
	if v, _ := NormalizeToStandardID("gemini-2.5-flash"); v != "gemini-3-flash" {
		t.Errorf("flash got %q", v)
	}
	if v, _ := NormalizeToStandardID("gemini-3-pro-high"); v != "gemini-3-pro-high" {
		t.Errorf("pro got %q", v)
	}
	if v, _ := NormalizeToStandardID("claude-sonnet-4-5-thinking"); v != "claude" {
		t.Errorf("claude got %q", v)
	}
	if _, ok := NormalizeToStandardID("text-embedding-3"); ok {
		t.Errorf("expected no normalization for unrelated model")
	}
}
