package syncapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/qbsync/backend/internal/domain/bulk"
	"github.com/qbsync/backend/internal/domain/shared"
	csvimport "github.com/qbsync/backend/internal/infrastructure/import"
)

func createTestHistory(t *testing.T) *bulk.ImportHistory {
	t.Helper()
	h, err := bulk.NewImportHistory("billing.csv", "abc123", 1024, bulk.ImportSourceUpload)
	require.NoError(t, err)
	return h
}

func TestHistoryService_CreateHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		repo := new(MockImportHistoryRepository)
		service := NewHistoryService(repo)
		repo.On("Save", ctx, mock.AnythingOfType("*bulk.ImportHistory")).Return(nil)

		history, err := service.CreateHistory(ctx, "billing.csv", "abc123", 1024, bulk.ImportSourceWatcher)
		require.NoError(t, err)
		assert.Equal(t, "billing.csv", history.FileName)
		assert.Equal(t, bulk.ImportSourceWatcher, history.Source)
		assert.Equal(t, bulk.ImportStatusPending, history.Status)
		repo.AssertExpectations(t)
	})

	t.Run("invalid source", func(t *testing.T) {
		repo := new(MockImportHistoryRepository)
		service := NewHistoryService(repo)

		_, err := service.CreateHistory(ctx, "billing.csv", "", 1024, bulk.ImportSource("ftp"))
		require.Error(t, err)
		repo.AssertNotCalled(t, "Save")
	})

	t.Run("save error", func(t *testing.T) {
		repo := new(MockImportHistoryRepository)
		service := NewHistoryService(repo)
		repo.On("Save", ctx, mock.Anything).Return(errBoom)

		_, err := service.CreateHistory(ctx, "billing.csv", "", 1, bulk.ImportSourceCLI)
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestHistoryService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := new(MockImportHistoryRepository)
	service := NewHistoryService(repo)
	repo.On("Save", ctx, mock.AnythingOfType("*bulk.ImportHistory")).Return(nil)

	history := createTestHistory(t)
	require.NoError(t, service.StartProcessing(ctx, history, 10, 4))
	assert.Equal(t, bulk.ImportStatusProcessing, history.Status)

	details := []bulk.ImportErrorDetail{{Row: 3, InvoiceNo: "INV-3", Code: csvimport.ErrCodeSyncFailed, Message: "boom"}}
	require.NoError(t, service.CompleteImport(ctx, history, 3, 0, 1, "data/error/x.csv", details))
	assert.Equal(t, bulk.ImportStatusFailed, history.Status)
	assert.Equal(t, 1, history.ErrorCount)

	err := service.FailImport(ctx, history, "", nil)
	assert.Error(t, err, "terminal imports cannot fail again")
	repo.AssertNumberOfCalls(t, "Save", 2)
}

func TestHistoryService_ListHistory(t *testing.T) {
	ctx := context.Background()
	repo := new(MockImportHistoryRepository)
	service := NewHistoryService(repo)

	failed := bulk.ImportStatusFailed
	upload := bulk.ImportSourceUpload
	expected := bulk.ImportHistoryFilter{Status: &failed, Source: &upload, FileName: "billing", SortBy: "file_name"}
	result := &bulk.ImportHistoryListResult{Page: 2, PageSize: 10}
	repo.On("FindAll", ctx, expected, 2, 10).Return(result, nil)

	got, err := service.ListHistory(ctx, ListHistoryFilter{
		Status:   "failed",
		Source:   "upload",
		FileName: "  billing ",
		SortBy:   "file_name",
	}, 2, 10)
	require.NoError(t, err)
	assert.Same(t, result, got)

	repo.On("FindAll", ctx, bulk.ImportHistoryFilter{}, 1, 20).Return(&bulk.ImportHistoryListResult{}, nil)
	_, err = service.ListHistory(ctx, ListHistoryFilter{Status: "bogus", Source: "ftp"}, 1, 20)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestHistoryService_FindPreviousImport(t *testing.T) {
	ctx := context.Background()
	repo := new(MockImportHistoryRepository)
	service := NewHistoryService(repo)

	prev := createTestHistory(t)
	repo.On("FindLatestByFileHash", ctx, "abc123").Return(prev, nil)
	repo.On("FindLatestByFileHash", ctx, "other").Return(nil, shared.ErrNotFound)

	assert.Same(t, prev, service.FindPreviousImport(ctx, "abc123"))
	assert.Nil(t, service.FindPreviousImport(ctx, "other"))
	assert.Nil(t, service.FindPreviousImport(ctx, ""))
}

func TestHistoryService_GetErrorsCSV(t *testing.T) {
	ctx := context.Background()
	repo := new(MockImportHistoryRepository)
	service := NewHistoryService(repo)

	history := createTestHistory(t)
	history.ErrorDetails = []bulk.ImportErrorDetail{
		{Row: 4, InvoiceNo: "INV-4", Code: csvimport.ErrCodeSyncFailed, Message: `customer "A, B" failed`},
		{Row: 5, Column: "Quantity", Code: csvimport.ErrCodeImportInvalidType, Message: "not a number", Value: "x", Warning: true},
	}
	repo.On("FindByID", ctx, history.ID).Return(history, nil)

	content, name, err := service.GetErrorsCSV(ctx, history.ID)
	require.NoError(t, err)
	assert.Equal(t, "sync_errors_"+history.ID.String()[:8]+".csv", name)
	assert.Contains(t, content, "Row,Invoice No.,Column,Error Code,Error Message,Value,Warning\n")
	assert.Contains(t, content, `4,INV-4,,ERR_SYNC_FAILED,"customer ""A, B"" failed",,false`)
	assert.Contains(t, content, "5,,Quantity,ERR_IMPORT_INVALID_TYPE,not a number,x,true")

	empty := createTestHistory(t)
	repo.On("FindByID", ctx, empty.ID).Return(empty, nil)
	_, _, err = service.GetErrorsCSV(ctx, empty.ID)
	assert.ErrorIs(t, err, ErrNoErrorsToExport)
}

func TestRowErrorDetails(t *testing.T) {
	details := rowErrorDetails([]csvimport.RowError{
		{Row: 2, Column: "Invoice No.", Code: csvimport.ErrCodeImportRequiredField, Message: "required"},
		{Row: 3, Column: "Quantity", Code: csvimport.ErrCodeImportInvalidType, Message: "bad", Value: "x", Warning: true},
	})
	require.Len(t, details, 2)
	assert.Equal(t, bulk.ImportErrorDetail{Row: 2, Column: "Invoice No.", Code: csvimport.ErrCodeImportRequiredField, Message: "required"}, details[0])
	assert.True(t, details[1].Warning)
}
