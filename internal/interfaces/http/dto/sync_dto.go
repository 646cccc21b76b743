package dto

import (
	"time"

	"github.com/qbsync/backend/internal/domain/bulk"
)

// UploadResponse is the body of POST /upload. Success is false whenever the
// file was routed to the error directory; Logs carries the run's messages.
type UploadResponse struct {
	Success      bool                `json:"success"`
	Logs         []string            `json:"logs"`
	FileName     string              `json:"file_name,omitempty"`
	Destination  string              `json:"destination,omitempty"`
	HistoryID    string              `json:"history_id,omitempty"`
	Posted       int                 `json:"posted"`
	Skipped      int                 `json:"skipped"`
	Failed       int                 `json:"failed"`
	Transactions []TransactionResult `json:"transactions,omitempty"`
	Error        *ErrorInfo          `json:"error,omitempty"`
}

// TransactionResult reports what happened to one invoice number
type TransactionResult struct {
	InvoiceNo  string `json:"invoice_no"`
	Kind       string `json:"kind"`
	Customer   string `json:"customer"`
	Lines      int    `json:"lines"`
	Total      string `json:"total"`
	Outcome    string `json:"outcome"`
	DocumentID string `json:"document_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewUploadError builds a rejected-upload body that keeps the logs contract
func NewUploadError(code, message, requestID string) UploadResponse {
	return UploadResponse{
		Success: false,
		Logs:    []string{message},
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
}

// CallbackRequest holds the query of the OAuth redirect
type CallbackRequest struct {
	Code    string `form:"code" binding:"required"`
	RealmID string `form:"realmId" binding:"required,numeric"`
	State   string `form:"state" binding:"required"`
}

// CallbackResponse is returned once tokens are stored
type CallbackResponse struct {
	Success bool   `json:"success"`
	RealmID string `json:"realm_id"`
}

// HistoryListRequest holds GET /history query parameters
type HistoryListRequest struct {
	Page        int    `form:"page" binding:"omitempty,min=1"`
	PageSize    int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Status      string `form:"status" binding:"omitempty,oneof=pending processing completed failed cancelled"`
	Source      string `form:"source" binding:"omitempty,oneof=upload watcher cli"`
	FileName    string `form:"file_name" binding:"omitempty,max=255"`
	StartedFrom string `form:"started_from" binding:"omitempty,datetime=2006-01-02"`
	StartedTo   string `form:"started_to" binding:"omitempty,datetime=2006-01-02"`
	SortBy      string `form:"sort_by" binding:"omitempty,max=32"`
	SortOrder   string `form:"sort_order" binding:"omitempty,oneof=asc desc"`
}

// ImportHistoryResponse is the API view of one import
type ImportHistoryResponse struct {
	ID                string                   `json:"id"`
	FileName          string                   `json:"file_name"`
	FileHash          string                   `json:"file_hash,omitempty"`
	FileSize          int64                    `json:"file_size"`
	Source            string                   `json:"source"`
	Status            string                   `json:"status"`
	TotalRows         int                      `json:"total_rows"`
	TotalTransactions int                      `json:"total_transactions"`
	SuccessCount      int                      `json:"success_count"`
	SkippedCount      int                      `json:"skipped_count"`
	ErrorCount        int                      `json:"error_count"`
	Destination       string                   `json:"destination,omitempty"`
	ErrorDetails      []bulk.ImportErrorDetail `json:"error_details,omitempty"`
	StartedAt         *time.Time               `json:"started_at,omitempty"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
}

// NewImportHistoryResponse converts a domain import history
func NewImportHistoryResponse(h *bulk.ImportHistory) ImportHistoryResponse {
	return ImportHistoryResponse{
		ID:                h.ID.String(),
		FileName:          h.FileName,
		FileHash:          h.FileHash,
		FileSize:          h.FileSize,
		Source:            string(h.Source),
		Status:            string(h.Status),
		TotalRows:         h.TotalRows,
		TotalTransactions: h.TotalTransactions,
		SuccessCount:      h.SuccessCount,
		SkippedCount:      h.SkippedCount,
		ErrorCount:        h.ErrorCount,
		Destination:       h.Destination,
		ErrorDetails:      h.ErrorDetails,
		StartedAt:         h.StartedAt,
		CompletedAt:       h.CompletedAt,
		CreatedAt:         h.CreatedAt,
	}
}

// NewImportHistoryList converts a page of import histories. Error details
// are left out of list items; fetch a single import to see them.
func NewImportHistoryList(items []*bulk.ImportHistory) []ImportHistoryResponse {
	out := make([]ImportHistoryResponse, 0, len(items))
	for _, h := range items {
		r := NewImportHistoryResponse(h)
		r.ErrorDetails = nil
		out = append(out, r)
	}
	return out
}
