package csvimport

import (
	"errors"
	"fmt"
	"strings"
)

// Codes recorded against rows of an import. The ERR_SYNC_* codes are
// attached to the first row of a transaction that could not be posted.
const (
	ErrCodeImportUnknown = "ERR_IMPORT_UNKNOWN"

	ErrCodeImportInvalidFile     = "ERR_IMPORT_INVALID_FILE"
	ErrCodeImportEmptyFile       = "ERR_IMPORT_EMPTY_FILE"
	ErrCodeImportInvalidEncoding = "ERR_IMPORT_INVALID_ENCODING"
	ErrCodeImportMissingHeader   = "ERR_IMPORT_MISSING_HEADER"
	ErrCodeImportNoDataRows      = "ERR_IMPORT_NO_DATA_ROWS"

	ErrCodeImportRequiredField = "ERR_IMPORT_REQUIRED_FIELD"
	ErrCodeImportInvalidType   = "ERR_IMPORT_INVALID_TYPE"
	ErrCodeImportInvalidLength = "ERR_IMPORT_INVALID_LENGTH"

	ErrCodeSyncFailed     = "ERR_SYNC_FAILED"
	ErrCodeSyncNoLines    = "ERR_SYNC_NO_BILLABLE_LINES"
	ErrCodeSyncDuplicated = "ERR_SYNC_ALREADY_POSTED"
)

var (
	ErrEmptyFile           = errors.New("csvimport: file is empty")
	ErrInvalidEncoding     = errors.New("csvimport: invalid file encoding, expected UTF-8")
	ErrMissingHeader       = errors.New("csvimport: missing header row")
	ErrNoDataRows          = errors.New("csvimport: file contains no data rows")
	ErrUnsupportedFileType = errors.New("csvimport: unsupported file type")
	ErrInvalidSpreadsheet  = errors.New("csvimport: invalid spreadsheet")
)

// MissingColumnsError names the required columns absent from the header.
// It matches ErrMissingHeader under errors.Is.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Columns, ", ")
}

func (e *MissingColumnsError) Unwrap() error { return ErrMissingHeader }

// RowError is a problem found in one row. Warnings are reported but do not
// reject the row.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
	Warning bool   `json:"warning,omitempty"`
}

func (e RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
}

// NewRowError builds a RowError without an offending value
func NewRowError(row int, column, code, message string) RowError {
	return RowError{Row: row, Column: column, Code: code, Message: message}
}

const defaultMaxErrors = 100

// ErrorCollection gathers row problems for one file. Counts are exact;
// only the first max entries are kept.
type ErrorCollection struct {
	entries  []RowError
	max      int
	errs     int
	warnings int
}

// NewErrorCollection keeps at most max entries; max <= 0 means 100
func NewErrorCollection(max int) *ErrorCollection {
	if max <= 0 {
		max = defaultMaxErrors
	}
	return &ErrorCollection{max: max}
}

// Add records e
func (ec *ErrorCollection) Add(e RowError) {
	if e.Warning {
		ec.warnings++
	} else {
		ec.errs++
	}
	if len(ec.entries) < ec.max {
		ec.entries = append(ec.entries, e)
	}
}

// Record adds a problem with the offending value, as a warning when warn is set
func (ec *ErrorCollection) Record(row int, column, code, message, value string, warn bool) {
	ec.Add(RowError{Row: row, Column: column, Code: code, Message: message, Value: value, Warning: warn})
}

// AddWarning records a problem that does not reject the row
func (ec *ErrorCollection) AddWarning(row int, column, code, message, value string) {
	ec.Record(row, column, code, message, value, true)
}

// AddRequiredError records an empty required column
func (ec *ErrorCollection) AddRequiredError(row int, column string) {
	ec.Add(NewRowError(row, column, ErrCodeImportRequiredField, fmt.Sprintf("field '%s' is required", column)))
}

// AddTypeError records a value that does not parse as expected
func (ec *ErrorCollection) AddTypeError(row int, column, expected, value string) {
	ec.Record(row, column, ErrCodeImportInvalidType, "expected "+expected, value, false)
}

// Errors returns the kept entries, errors and warnings interleaved in row order
func (ec *ErrorCollection) Errors() []RowError { return ec.entries }

// Count is the number of kept entries
func (ec *ErrorCollection) Count() int { return len(ec.entries) }

// TotalCount is the number of errors seen, warnings excluded
func (ec *ErrorCollection) TotalCount() int { return ec.errs }

// WarningCount is the number of warnings seen
func (ec *ErrorCollection) WarningCount() int { return ec.warnings }

// HasErrors reports whether any row was rejected
func (ec *ErrorCollection) HasErrors() bool { return ec.errs > 0 }

// IsTruncated reports whether entries were dropped at the limit
func (ec *ErrorCollection) IsTruncated() bool { return ec.errs+ec.warnings > ec.max }

// Clear forgets everything recorded so far
func (ec *ErrorCollection) Clear() {
	ec.entries = ec.entries[:0]
	ec.errs, ec.warnings = 0, 0
}

// ErrorSummary counts kept entries by code
func (ec *ErrorCollection) ErrorSummary() map[string]int {
	out := make(map[string]int)
	for _, e := range ec.entries {
		out[e.Code]++
	}
	return out
}

func (ec *ErrorCollection) String() string {
	if len(ec.entries) == 0 {
		return "no errors"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s), %d warning(s)", ec.errs, ec.warnings)
	if ec.IsTruncated() {
		fmt.Fprintf(&b, " (showing first %d)", ec.max)
	}
	b.WriteString(":\n")
	for _, e := range ec.entries {
		fmt.Fprintf(&b, "  - %s\n", e.Error())
	}
	return b.String()
}
