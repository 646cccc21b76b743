package quickbooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/qbsync/backend/internal/domain/integration"
)

// DuplicateNameCode is the fault code for a name collision on create
const DuplicateNameCode = "6240"

// FaultError is one entry of a QuickBooks Fault
type FaultError struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
	Element string `json:"element,omitempty"`
}

// Fault is the error body QuickBooks returns. The API is inconsistent about
// key casing, which encoding/json tolerates.
type Fault struct {
	Errors []FaultError `json:"Error"`
	Type   string       `json:"type"`
}

type faultEnvelope struct {
	Fault *Fault `json:"Fault"`
}

// APIError is a QuickBooks error response
type APIError struct {
	Status int
	Type   string
	Faults []FaultError
	// Body is the raw response, kept when it did not decode as a Fault
	Body string
}

// Error implements the error interface
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "quickbooks: HTTP %d", e.Status)
	if e.Type != "" {
		b.WriteString(" " + e.Type)
	}
	for i, f := range e.Faults {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Message)
		if f.Code != "" {
			fmt.Fprintf(&b, " (%s)", f.Code)
		}
		if f.Detail != "" && f.Detail != f.Message {
			b.WriteString(": " + f.Detail)
		}
	}
	if len(e.Faults) == 0 && e.Body != "" {
		b.WriteString(": " + truncate(e.Body, 500))
	}
	return b.String()
}

// Unwrap maps the HTTP status onto the integration sentinels
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return integration.ErrPlatformAuthFailed
	case e.Status == http.StatusTooManyRequests:
		return integration.ErrPlatformRateLimited
	case e.Status >= 500:
		return integration.ErrPlatformUnavailable
	default:
		return integration.ErrPlatformRequestFailed
	}
}

// Is reports a duplicate-name fault as integration.ErrDuplicateName
func (e *APIError) Is(target error) bool {
	return target == integration.ErrDuplicateName && e.isDuplicateName()
}

func (e *APIError) isDuplicateName() bool {
	for _, f := range e.Faults {
		if f.Code == DuplicateNameCode ||
			strings.Contains(f.Message, "Duplicate") ||
			strings.Contains(f.Detail, "Duplicate") {
			return true
		}
	}
	return len(e.Faults) == 0 && strings.Contains(e.Body, "Duplicate")
}

// IsDuplicateName reports whether err is a QuickBooks duplicate-name fault
func IsDuplicateName(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.isDuplicateName()
	}
	return errors.Is(err, integration.ErrDuplicateName)
}

// parseAPIError builds an APIError from an error response body
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var env faultEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Fault != nil && len(env.Fault.Errors) > 0 {
		apiErr.Type = env.Fault.Type
		apiErr.Faults = env.Fault.Errors
		return apiErr
	}
	apiErr.Body = strings.TrimSpace(string(body))
	return apiErr
}

// faultInBody detects a Fault returned with a 2xx status
func faultInBody(status int, body []byte) *APIError {
	if len(body) == 0 {
		return nil
	}
	var env faultEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Fault == nil || len(env.Fault.Errors) == 0 {
		return nil
	}
	return &APIError{Status: status, Type: env.Fault.Type, Faults: env.Fault.Errors}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
