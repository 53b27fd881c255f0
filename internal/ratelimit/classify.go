// Package ratelimit implements the per-(account,model) lockout tracker
// with reason-aware backoff (C1, spec §4.1).
package ratelimit

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Reason classifies why an account/model got rate limited.
type Reason string

const (
	ReasonQuotaExhausted        Reason = "QuotaExhausted"
	ReasonRateLimitExceeded     Reason = "RateLimitExceeded"
	ReasonModelCapacityExhausted Reason = "ModelCapacityExhausted"
	ReasonServerError           Reason = "ServerError"
	ReasonUnknown               Reason = "Unknown"
)

var handledStatuses = map[int]bool{404: true, 429: true, 500: true, 503: true, 529: true}

// IsHandledStatus reports whether a status code participates in lockout
// duration selection at all (spec §4.1 "Lockout duration selection").
func IsHandledStatus(status int) bool { return handledStatuses[status] }

type errorBody struct {
	Error struct {
		Message string        `json:"message"`
		Details []errorDetail `json:"details"`
	} `json:"error"`
}

type errorDetail struct {
	Reason   string `json:"reason"`
	Metadata struct {
		QuotaResetDelay string `json:"quotaResetDelay"`
	} `json:"metadata"`
}

// ClassifyReason determines the Reason for a given body, following spec
// §4.1's precedence: exact typed reason literal first, then substring
// scans where "per minute"/"rate limit" outrank "exhausted"/"quota" so a
// TPM error never gets misread as a quota error.
func ClassifyReason(bodyText string) Reason {
	var parsed errorBody
	if err := json.Unmarshal([]byte(bodyText), &parsed); err == nil && len(parsed.Error.Details) > 0 {
		switch parsed.Error.Details[0].Reason {
		case "QUOTA_EXHAUSTED":
			return ReasonQuotaExhausted
		case "RATE_LIMIT_EXCEEDED":
			return ReasonRateLimitExceeded
		case "MODEL_CAPACITY_EXHAUSTED":
			return ReasonModelCapacityExhausted
		}
	}

	haystack := strings.ToLower(bodyText)
	if parsed.Error.Message != "" {
		haystack = strings.ToLower(parsed.Error.Message) + " " + haystack
	}

	if strings.Contains(haystack, "per minute") || strings.Contains(haystack, "rate limit") {
		return ReasonRateLimitExceeded
	}
	if strings.Contains(haystack, "exhausted") || strings.Contains(haystack, "quota") {
		return ReasonQuotaExhausted
	}
	return ReasonUnknown
}

// durationRegex patterns, tried in the order spec §4.1 step 2 specifies.
var (
	minSecRegex       = regexp.MustCompile(`try again in (\d+)m\s*(\d+)s`)
	waitSecRegex      = regexp.MustCompile(`(?:try again in|backoff for|wait) (\d+)s`)
	resetSecRegex     = regexp.MustCompile(`quota will reset in (\d+) second`)
	retryAfterSecRegex = regexp.MustCompile(`retry after (\d+) second`)
	parenWaitRegex    = regexp.MustCompile(`\(wait (\d+)s\)`)
	quotaResetDelayPattern = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?(?:(\d+(?:\.\d+)?)ms)?$`)
)

// ParseQuotaResetDelay parses a duration string like "1h2m3s500ms" per
// spec §4.1 / invariant #6. Returns seconds (ms rounded up) and ok=false
// if nothing matched or the result is < 1 second.
func ParseQuotaResetDelay(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	m := quotaResetDelayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	if m[1] == "" && m[2] == "" && m[3] == "" && m[4] == "" {
		return 0, false
	}
	var total float64
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		total += float64(h) * 3600
	}
	if m[2] != "" {
		mi, _ := strconv.Atoi(m[2])
		total += float64(mi) * 60
	}
	if m[3] != "" {
		sec, _ := strconv.Atoi(m[3])
		total += float64(sec)
	}
	if m[4] != "" {
		ms, _ := strconv.ParseFloat(m[4], 64)
		total += math.Ceil(ms / 1000)
	}
	result := int64(math.Round(total))
	if result < 1 {
		return 0, false
	}
	return result, true
}

// parseResetTimeFromBody tries the JSON quotaResetDelay path, then the
// regex fallbacks in spec-mandated priority order. Returns seconds.
func parseResetTimeFromBody(bodyText string) (int64, bool) {
	var parsed errorBody
	if err := json.Unmarshal([]byte(bodyText), &parsed); err == nil && len(parsed.Error.Details) > 0 {
		if d := parsed.Error.Details[0].Metadata.QuotaResetDelay; d != "" {
			if secs, ok := ParseQuotaResetDelay(d); ok {
				return secs, true
			}
		}
	}

	lower := strings.ToLower(bodyText)
	if m := minSecRegex.FindStringSubmatch(lower); m != nil {
		min, _ := strconv.Atoi(m[1])
		sec, _ := strconv.Atoi(m[2])
		return int64(min*60 + sec), true
	}
	if m := waitSecRegex.FindStringSubmatch(lower); m != nil {
		sec, _ := strconv.Atoi(m[1])
		return int64(sec), true
	}
	if m := resetSecRegex.FindStringSubmatch(lower); m != nil {
		sec, _ := strconv.Atoi(m[1])
		return int64(sec), true
	}
	if m := retryAfterSecRegex.FindStringSubmatch(lower); m != nil {
		sec, _ := strconv.Atoi(m[1])
		return int64(sec), true
	}
	if m := parenWaitRegex.FindStringSubmatch(lower); m != nil {
		sec, _ := strconv.Atoi(m[1])
		return int64(sec), true
	}
	return 0, false
}

// capacityBackoffSeconds implements spec §4.1 step 3's ModelCapacityExhausted
// ladder: "5, 10, 15, 15, ... by failure count".
func capacityBackoffSeconds(failureCount int) int64 {
	switch {
	case failureCount <= 1:
		return 5
	case failureCount == 2:
		return 10
	default:
		return 15
	}
}
