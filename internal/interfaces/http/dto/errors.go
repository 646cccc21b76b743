package dto

import (
	"net/http"

	"github.com/qbsync/backend/internal/domain/shared"
)

// API error codes. Every code has a fixed HTTP status in codeStatus.
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"

	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"

	// ErrCodeUnauthorized means QuickBooks rejected the stored credentials
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeStateInvalid means an OAuth callback carried a bad, expired or reused state
	ErrCodeStateInvalid = "ERR_STATE_INVALID"
	// ErrCodeNotConfigured means QuickBooks credentials are missing
	ErrCodeNotConfigured = "ERR_NOT_CONFIGURED"

	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeInvalidState = "ERR_INVALID_STATE"

	ErrCodeFileRequired    = "ERR_FILE_REQUIRED"
	ErrCodeUnsupportedFile = "ERR_UNSUPPORTED_FILE"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"

	// ErrCodeUpstreamUnavailable means QuickBooks could not be reached
	ErrCodeUpstreamUnavailable = "ERR_UPSTREAM_UNAVAILABLE"
)

var codeStatus = map[string]int{
	ErrCodeUnknown:             http.StatusInternalServerError,
	ErrCodeInternal:            http.StatusInternalServerError,
	ErrCodeValidation:          http.StatusBadRequest,
	ErrCodeBadRequest:          http.StatusBadRequest,
	ErrCodeInvalidInput:        http.StatusBadRequest,
	ErrCodeUnauthorized:        http.StatusUnauthorized,
	ErrCodeStateInvalid:        http.StatusBadRequest,
	ErrCodeNotConfigured:       http.StatusServiceUnavailable,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,
	ErrCodeFileRequired:        http.StatusBadRequest,
	ErrCodeUnsupportedFile:     http.StatusBadRequest,
	ErrCodeRequestTooLarge:     http.StatusRequestEntityTooLarge,
	ErrCodeUpstreamUnavailable: http.StatusBadGateway,
}

// GetHTTPStatus returns the status for an API code, 500 when unknown
func GetHTTPStatus(code string) int {
	if status, ok := StatusFor(code); ok {
		return status
	}
	return http.StatusInternalServerError
}

// StatusFor reports the status registered for code
func StatusFor(code string) (int, bool) {
	status, ok := codeStatus[code]
	return status, ok
}

// domainCodes translates shared domain error codes to API codes
var domainCodes = map[string]string{
	shared.CodeNotFound:     ErrCodeNotFound,
	shared.CodeInvalidInput: ErrCodeInvalidInput,
	shared.CodeInvalidState: ErrCodeInvalidState,
}

// NormalizeErrorCode maps a domain code to its API code. Codes without a
// mapping pass through unchanged.
func NormalizeErrorCode(code string) string {
	if api, ok := domainCodes[code]; ok {
		return api
	}
	return code
}
