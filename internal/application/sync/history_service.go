package syncapp

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qbsync/backend/internal/domain/bulk"
	csvimport "github.com/qbsync/backend/internal/infrastructure/import"
)

// ErrNoErrorsToExport is returned by GetErrorsCSV for an import without errors
var ErrNoErrorsToExport = errors.New("sync: no errors to export")

// HistoryService manages import history tracking and retrieval
type HistoryService struct {
	historyRepo bulk.ImportHistoryRepository
}

// NewHistoryService creates a new HistoryService
func NewHistoryService(historyRepo bulk.ImportHistoryRepository) *HistoryService {
	return &HistoryService{
		historyRepo: historyRepo,
	}
}

// CreateHistory creates a new import history record
func (s *HistoryService) CreateHistory(
	ctx context.Context,
	fileName, fileHash string,
	fileSize int64,
	source bulk.ImportSource,
) (*bulk.ImportHistory, error) {
	history, err := bulk.NewImportHistory(fileName, fileHash, fileSize, source)
	if err != nil {
		return nil, err
	}

	if err := s.historyRepo.Save(ctx, history); err != nil {
		return nil, fmt.Errorf("failed to save import history: %w", err)
	}

	return history, nil
}

// StartProcessing marks an import as started
func (s *HistoryService) StartProcessing(ctx context.Context, history *bulk.ImportHistory, totalRows, totalTransactions int) error {
	if err := history.StartProcessing(totalRows, totalTransactions); err != nil {
		return err
	}
	return s.historyRepo.Save(ctx, history)
}

// CompleteImport records the outcome of a processed file
func (s *HistoryService) CompleteImport(
	ctx context.Context,
	history *bulk.ImportHistory,
	successCount, skippedCount, errorCount int,
	destination string,
	details []bulk.ImportErrorDetail,
) error {
	if err := history.Complete(successCount, skippedCount, errorCount, destination, details); err != nil {
		return err
	}
	return s.historyRepo.Save(ctx, history)
}

// FailImport marks an import as failed
func (s *HistoryService) FailImport(
	ctx context.Context,
	history *bulk.ImportHistory,
	destination string,
	details []bulk.ImportErrorDetail,
) error {
	if err := history.Fail(destination, details); err != nil {
		return err
	}
	return s.historyRepo.Save(ctx, history)
}

// GetHistory retrieves a specific import history by ID
func (s *HistoryService) GetHistory(ctx context.Context, historyID uuid.UUID) (*bulk.ImportHistory, error) {
	return s.historyRepo.FindByID(ctx, historyID)
}

// ListHistoryFilter defines the filter options for listing import histories
type ListHistoryFilter struct {
	Status      string
	Source      string
	FileName    string
	StartedFrom *time.Time
	StartedTo   *time.Time
	SortBy      string
	SortOrder   string
}

// ListHistory retrieves import history with pagination and filtering.
// Unknown status or source values are ignored rather than rejected.
func (s *HistoryService) ListHistory(
	ctx context.Context,
	filter ListHistoryFilter,
	page, pageSize int,
) (*bulk.ImportHistoryListResult, error) {
	repoFilter := bulk.ImportHistoryFilter{
		FileName:    strings.TrimSpace(filter.FileName),
		StartedFrom: filter.StartedFrom,
		StartedTo:   filter.StartedTo,
		SortBy:      filter.SortBy,
		SortOrder:   filter.SortOrder,
	}

	if filter.Status != "" {
		status := bulk.ImportStatus(filter.Status)
		if status.IsValid() {
			repoFilter.Status = &status
		}
	}

	if filter.Source != "" {
		source := bulk.ImportSource(filter.Source)
		if source.IsValid() {
			repoFilter.Source = &source
		}
	}

	return s.historyRepo.FindAll(ctx, repoFilter, page, pageSize)
}

// FindPreviousImport returns the latest import of identical file content,
// or nil when the content has not been seen before.
func (s *HistoryService) FindPreviousImport(ctx context.Context, fileHash string) *bulk.ImportHistory {
	if fileHash == "" {
		return nil
	}
	history, err := s.historyRepo.FindLatestByFileHash(ctx, fileHash)
	if err != nil {
		return nil
	}
	return history
}

// GetErrorsCSV generates a CSV string of error details for download
func (s *HistoryService) GetErrorsCSV(ctx context.Context, historyID uuid.UUID) (string, string, error) {
	history, err := s.historyRepo.FindByID(ctx, historyID)
	if err != nil {
		return "", "", err
	}

	if len(history.ErrorDetails) == 0 {
		return "", "", ErrNoErrorsToExport
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Row", "Invoice No.", "Column", "Error Code", "Error Message", "Value", "Warning"})
	for _, e := range history.ErrorDetails {
		_ = w.Write([]string{
			strconv.Itoa(e.Row), e.InvoiceNo, e.Column, e.Code, e.Message, e.Value,
			strconv.FormatBool(e.Warning),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", "", fmt.Errorf("write errors csv: %w", err)
	}

	return buf.String(), fmt.Sprintf("sync_errors_%s.csv", history.ID.String()[:8]), nil
}

// DeleteHistory deletes an import history record
func (s *HistoryService) DeleteHistory(ctx context.Context, historyID uuid.UUID) error {
	return s.historyRepo.Delete(ctx, historyID)
}

// rowErrorDetails converts reader errors into history details
func rowErrorDetails(errs []csvimport.RowError) []bulk.ImportErrorDetail {
	details := make([]bulk.ImportErrorDetail, len(errs))
	for i, e := range errs {
		details[i] = bulk.ImportErrorDetail{
			Row:     e.Row,
			Column:  e.Column,
			Code:    e.Code,
			Message: e.Message,
			Value:   e.Value,
			Warning: e.Warning,
		}
	}
	return details
}
