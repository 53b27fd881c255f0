package gateway

import (
	"bytes"

	"github.com/poemonsense/antigravity-proxy-go/internal/gwerrors"
)

// outcome is the dispatch loop's decision for one failed attempt (spec §7).
type outcome int

const (
	outcomeRetryNextAccount outcome = iota
	outcomeValidationRequired
	outcomeFatal
	outcomeAuthRefresh
)

func classifyFailure(status int, body []byte) (outcome, *gwerrors.GatewayError) {
	if bytes.Contains(body, []byte("VALIDATION_REQUIRED")) {
		return outcomeValidationRequired, gwerrors.New(gwerrors.CodeAuth, false, "account requires re-validation")
	}

	switch {
	case status == 401:
		// The dispatch loop refreshes the account's OAuth token and retries
		// the same account once before falling back to rotation.
		return outcomeAuthRefresh, gwerrors.New(gwerrors.CodeAuth, true, "upstream returned 401")
	case status == 403:
		return outcomeFatal, gwerrors.New(gwerrors.CodeForbidden, false, "upstream returned 403: %s", string(body))
	case status == 404:
		return outcomeRetryNextAccount, gwerrors.New(gwerrors.CodeNotFound, true, "upstream returned 404")
	case status == 429:
		return outcomeRetryNextAccount, gwerrors.New(gwerrors.CodeRateLimit, true, "upstream returned 429")
	case status >= 500:
		return outcomeRetryNextAccount, gwerrors.New(gwerrors.CodeServerError, true, "upstream returned %d", status)
	default:
		return outcomeFatal, gwerrors.New(gwerrors.CodeUnknown, false, "upstream returned %d: %s", status, string(body))
	}
}
