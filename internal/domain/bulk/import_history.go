package bulk

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qbsync/backend/internal/domain/shared"
)

// ImportSource records how a file entered the pipeline
type ImportSource string

const (
	ImportSourceUpload  ImportSource = "upload"
	ImportSourceWatcher ImportSource = "watcher"
	ImportSourceCLI     ImportSource = "cli"
)

// IsValid checks if the source is valid
func (s ImportSource) IsValid() bool {
	switch s {
	case ImportSourceUpload, ImportSourceWatcher, ImportSourceCLI:
		return true
	}
	return false
}

// ImportStatus represents the status of an import operation
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
	ImportStatusCancelled  ImportStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s ImportStatus) IsValid() bool {
	switch s {
	case ImportStatusPending, ImportStatusProcessing, ImportStatusCompleted,
		ImportStatusFailed, ImportStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed || s == ImportStatusCancelled
}

// ImportErrorDetail represents a detailed error for a specific row
type ImportErrorDetail struct {
	Row       int    `json:"row"`
	InvoiceNo string `json:"invoice_no,omitempty"`
	Column    string `json:"column,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Value     string `json:"value,omitempty"`
	Warning   bool   `json:"warning,omitempty"`
}

// ImportHistory tracks one billing file through the sync pipeline
type ImportHistory struct {
	shared.Record
	FileName          string              `json:"file_name"`
	FileHash          string              `json:"file_hash"`
	FileSize          int64               `json:"file_size"`
	Source            ImportSource        `json:"source"`
	TotalRows         int                 `json:"total_rows"`
	TotalTransactions int                 `json:"total_transactions"`
	SuccessCount      int                 `json:"success_count"`
	SkippedCount      int                 `json:"skipped_count"`
	ErrorCount        int                 `json:"error_count"`
	Status            ImportStatus        `json:"status"`
	Destination       string              `json:"destination,omitempty"`
	ErrorDetails      []ImportErrorDetail `json:"error_details,omitempty"`
	StartedAt         *time.Time          `json:"started_at,omitempty"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
}

// NewImportHistory creates a new import history record
func NewImportHistory(fileName, fileHash string, fileSize int64, source ImportSource) (*ImportHistory, error) {
	if fileName == "" {
		return nil, shared.NewDomainError("INVALID_FILE_NAME", "File name cannot be empty")
	}
	if fileSize < 0 {
		return nil, shared.NewDomainError("INVALID_FILE_SIZE", "File size cannot be negative")
	}
	if !source.IsValid() {
		return nil, shared.NewDomainError("INVALID_SOURCE", fmt.Sprintf("Invalid import source: %s", source))
	}

	return &ImportHistory{
		Record:            shared.NewRecord(),
		FileName:          fileName,
		FileHash:          fileHash,
		FileSize:          fileSize,
		Source:            source,
		Status:            ImportStatusPending,
		ErrorDetails:      make([]ImportErrorDetail, 0),
	}, nil
}

// StartProcessing marks the import as started once the file has been read
func (h *ImportHistory) StartProcessing(totalRows, totalTransactions int) error {
	if h.Status != ImportStatusPending {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot start processing from state: %s", h.Status))
	}
	if totalRows < 0 || totalTransactions < 0 {
		return shared.NewDomainError("INVALID_TOTAL_ROWS", "Totals cannot be negative")
	}

	h.Status = ImportStatusProcessing
	h.TotalRows = totalRows
	h.TotalTransactions = totalTransactions
	now := time.Now()
	h.StartedAt = &now
	h.Touch(now)

	return nil
}

// Complete records the outcome of a processed file. The import counts as
// failed when any transaction failed, since the file is then routed to the
// error directory.
func (h *ImportHistory) Complete(successCount, skippedCount, errorCount int, destination string, details []ImportErrorDetail) error {
	if h.Status != ImportStatusProcessing {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot complete from state: %s", h.Status))
	}

	status := ImportStatusCompleted
	if errorCount > 0 {
		status = ImportStatusFailed
	}

	h.Status = status
	h.SuccessCount = successCount
	h.SkippedCount = skippedCount
	h.ErrorCount = errorCount
	h.Destination = destination
	h.setDetails(details)
	now := time.Now()
	h.CompletedAt = &now
	h.Touch(now)

	return nil
}

// Fail marks the import as failed before or during processing
func (h *ImportHistory) Fail(destination string, details []ImportErrorDetail) error {
	if h.Status.IsTerminal() {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot fail from terminal state: %s", h.Status))
	}

	h.Status = ImportStatusFailed
	h.Destination = destination
	h.setDetails(details)
	if h.ErrorCount == 0 {
		h.ErrorCount = 1
	}
	now := time.Now()
	h.CompletedAt = &now
	h.Touch(now)

	return nil
}

// Cancel marks the import as cancelled
func (h *ImportHistory) Cancel() error {
	if h.Status.IsTerminal() {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot cancel from terminal state: %s", h.Status))
	}

	h.Status = ImportStatusCancelled
	now := time.Now()
	h.CompletedAt = &now
	h.Touch(now)

	return nil
}

func (h *ImportHistory) setDetails(details []ImportErrorDetail) {
	if details == nil {
		details = make([]ImportErrorDetail, 0)
	}
	h.ErrorDetails = details
}

// IsCompleted returns true if every transaction was posted or skipped
func (h *ImportHistory) IsCompleted() bool {
	return h.Status == ImportStatusCompleted
}

// IsFailed returns true if the import failed
func (h *ImportHistory) IsFailed() bool {
	return h.Status == ImportStatusFailed
}

// HasErrors returns true if there are any errors
func (h *ImportHistory) HasErrors() bool {
	return len(h.ErrorDetails) > 0
}

// ErrorDetailsJSON returns the error details as a JSON string
func (h *ImportHistory) ErrorDetailsJSON() (string, error) {
	if len(h.ErrorDetails) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(h.ErrorDetails)
	if err != nil {
		return "", fmt.Errorf("failed to marshal error details: %w", err)
	}
	return string(data), nil
}

// SetErrorDetailsFromJSON parses error details from a JSON string
func (h *ImportHistory) SetErrorDetailsFromJSON(jsonStr string) error {
	if jsonStr == "" || jsonStr == "[]" {
		h.ErrorDetails = make([]ImportErrorDetail, 0)
		return nil
	}
	var details []ImportErrorDetail
	if err := json.Unmarshal([]byte(jsonStr), &details); err != nil {
		return fmt.Errorf("failed to unmarshal error details: %w", err)
	}
	h.ErrorDetails = details
	return nil
}

// SuccessRate returns the share of transactions posted or skipped, as a percentage
func (h *ImportHistory) SuccessRate() float64 {
	if h.TotalTransactions == 0 {
		return 0
	}
	return float64(h.SuccessCount+h.SkippedCount) / float64(h.TotalTransactions) * 100
}

// Duration returns the duration of the import operation
func (h *ImportHistory) Duration() time.Duration {
	if h.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if h.CompletedAt != nil {
		end = *h.CompletedAt
	}
	return end.Sub(*h.StartedAt)
}
