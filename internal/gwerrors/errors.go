// Package gwerrors defines the gateway's user-visible error taxonomy (spec §7).
package gwerrors

import "fmt"

// Code is one of the user-visible failure codes in spec §7.
type Code string

const (
	CodeTimeout            Code = "timeout_error"
	CodeConnection         Code = "connection_error"
	CodeDecode             Code = "decode_error"
	CodeStream             Code = "stream_error"
	CodeUnknown            Code = "unknown_error"
	CodeAuth               Code = "auth_error"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeRateLimit          Code = "rate_limit"
	CodeServerError        Code = "server_error"
	CodeValidationBlocked  Code = "validation_blocked"
	CodeSelectionTimeout   Code = "selection_timeout"
	CodeAllAccountsLimited Code = "all_accounts_limited"
)

// GatewayError is the base error type for every failure the gateway surfaces.
type GatewayError struct {
	Message   string
	Code      Code
	Retryable bool
	Metadata  map[string]interface{}
}

func (e *GatewayError) Error() string { return e.Message }

// I18nKey returns the client-translatable key described in spec §7.
func (e *GatewayError) I18nKey() string { return fmt.Sprintf("errors.stream.%s", e.Code) }

// New builds a GatewayError.
func New(code Code, retryable bool, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Message: fmt.Sprintf(format, args...), Code: code, Retryable: retryable, Metadata: map[string]interface{}{}}
}

// RateLimitError carries the optional reset-time hint alongside the base error.
type RateLimitError struct {
	*GatewayError
	AccountID string
	ResetMs   int64
}

func NewRateLimitError(accountID string, resetMs int64, format string, args ...interface{}) *RateLimitError {
	return &RateLimitError{
		GatewayError: New(CodeRateLimit, true, format, args...),
		AccountID:    accountID,
		ResetMs:      resetMs,
	}
}

// AllAccountsLimitedError is surfaced as plain-text HTTP 503 per spec §7.
type AllAccountsLimitedError struct {
	*GatewayError
	WaitSeconds int64
}

func NewAllAccountsLimitedError(waitSeconds int64) *AllAccountsLimitedError {
	return &AllAccountsLimitedError{
		GatewayError: New(CodeAllAccountsLimited, false, "All accounts limited. Wait %ds.", waitSeconds),
		WaitSeconds:  waitSeconds,
	}
}

// SelectionTimeoutError is returned when get_token's 5s timeout elapses.
type SelectionTimeoutError struct{ *GatewayError }

func NewSelectionTimeoutError() *SelectionTimeoutError {
	return &SelectionTimeoutError{New(CodeSelectionTimeout, true, "account selection timed out")}
}

// ValidationBlockedError marks an account removed pending manual re-validation.
type ValidationBlockedError struct {
	*GatewayError
	AccountID string
	Until     int64
}

func NewValidationBlockedError(accountID string, until int64) *ValidationBlockedError {
	return &ValidationBlockedError{
		GatewayError: New(CodeValidationBlocked, false, "account %s requires re-validation", accountID),
		AccountID:    accountID,
		Until:        until,
	}
}

// HTTPStatus maps a Code to the HTTP status the handler should emit.
func HTTPStatus(code Code) int {
	switch code {
	case CodeAuth:
		return 401
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeRateLimit, CodeAllAccountsLimited:
		return 503
	case CodeServerError:
		return 502
	case CodeTimeout, CodeSelectionTimeout:
		return 504
	case CodeDecode, CodeStream, CodeValidationBlocked:
		return 502
	default:
		return 500
	}
}
