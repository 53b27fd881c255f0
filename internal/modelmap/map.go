// Package modelmap implements the gateway's model-id resolution (C3, spec §4.3):
// exact and wildcard custom mapping, a built-in alias table, and the
// normalization used for quota-protection grouping.
package modelmap

import "strings"

// WarmupModel is the fixed throwaway model used for warmup requests; it
// never consumes Pro quota (spec §4.3 step 1).
const WarmupModel = "gemini-2.5-flash"

// aliasTable is a fixed map from common client-facing aliases to canonical
// Upstream ids, grounded on the teacher's internal/config/constants.go
// ModelFallbackMap/TestModels naming conventions.
var aliasTable = map[string]string{
	"claude-3-5-sonnet":      "claude-sonnet-4-5-thinking",
	"claude-3-5-sonnet-20241022": "claude-sonnet-4-5-thinking",
	"claude-3-opus":          "claude-opus-4-6-thinking",
	"claude-3-haiku":         "claude-sonnet-4-5-thinking",
	"gpt-4":                  "gemini-3-pro-high",
	"gpt-4o":                 "gemini-3-pro-high",
	"gpt-4o-mini":            "gemini-3-flash",
	"gpt-3.5-turbo":          "gemini-3-flash",
	"gemini-pro":             "gemini-3-pro-high",
	"gemini-flash":           "gemini-3-flash",
}

// MapModel resolves a client-requested model id to the Upstream id to use,
// per spec §4.3 map_model.
func MapModel(input string, customMapping map[string]string, isWarmup bool) string {
	if isWarmup {
		return WarmupModel
	}
	if v, ok := customMapping[input]; ok {
		return v
	}
	if v, ok := bestWildcardMatch(input, customMapping); ok {
		return v
	}
	if v, ok := aliasTable[strings.ToLower(input)]; ok {
		return v
	}
	lower := strings.ToLower(input)
	if strings.HasPrefix(lower, "gemini-") || strings.Contains(lower, "thinking") {
		return input
	}
	return input
}

// bestWildcardMatch finds the custom-mapping wildcard pattern that matches
// input with the highest specificity (most non-'*' characters); ties are
// broken by map iteration order (arbitrary, per spec §4.3 step 3).
func bestWildcardMatch(input string, customMapping map[string]string) (string, bool) {
	bestSpecificity := -1
	bestTarget := ""
	found := false
	for pattern, target := range customMapping {
		if !strings.Contains(pattern, "*") {
			continue
		}
		if !wildcardMatches(pattern, input) {
			continue
		}
		spec := specificity(pattern)
		if spec > bestSpecificity {
			bestSpecificity = spec
			bestTarget = target
			found = true
		}
	}
	return bestTarget, found
}

// wildcardMatches checks that the literal segments of pattern occur in
// input in order, with the first literal anchored to the start and the
// last literal anchored to the end (spec §4.3 step 3).
func wildcardMatches(pattern, input string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return segments[0] == input
	}

	pos := 0
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		switch {
		case i == 0:
			if !strings.HasPrefix(input, seg) {
				return false
			}
			pos = len(seg)
		case i == len(segments)-1:
			if !strings.HasSuffix(input[pos:], seg) {
				return false
			}
		default:
			idx := strings.Index(input[pos:], seg)
			if idx < 0 {
				return false
			}
			pos += idx + len(seg)
		}
	}
	return true
}

func specificity(pattern string) int {
	n := 0
	for _, r := range pattern {
		if r != '*' {
			n++
		}
	}
	return n
}

// NormalizeToStandardID collapses model-id variants that share quota into a
// single canonical id, used for quota-protection grouping (spec §4.3).
// Idempotent: NormalizeToStandardID(NormalizeToStandardID(m)) == NormalizeToStandardID(m).
func NormalizeToStandardID(model string) (string, bool) {
	lower := strings.ToLower(model)
	switch {
	case lower == "gemini-3-pro-image":
		return "gemini-3-pro-image", true
	case strings.Contains(lower, "flash"):
		return "gemini-3-flash", true
	case strings.Contains(lower, "pro") && !strings.Contains(lower, "image"):
		return "gemini-3-pro-high", true
	case strings.Contains(lower, "claude") || strings.Contains(lower, "opus") ||
		strings.Contains(lower, "sonnet") || strings.Contains(lower, "haiku"):
		return "claude", true
	default:
		return "", false
	}
}

// NormalizeOrSelf returns NormalizeToStandardID(model), or model itself when
// no normalization applies — the form most callers (C6, C7) actually want.
func NormalizeOrSelf(model string) string {
	if std, ok := NormalizeToStandardID(model); ok {
		return std
	}
	return model
}
