package bulk

import (
	"errors"
	"testing"
	"time"

	"github.com/qbsync/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportSource_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		source ImportSource
		want   bool
	}{
		{"upload", ImportSourceUpload, true},
		{"watcher", ImportSourceWatcher, true},
		{"cli", ImportSourceCLI, true},
		{"invalid", ImportSource("ftp"), false},
		{"empty", ImportSource(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.source.IsValid())
		})
	}
}

func TestImportStatus_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		status ImportStatus
		want   bool
	}{
		{"pending", ImportStatusPending, true},
		{"processing", ImportStatusProcessing, true},
		{"completed", ImportStatusCompleted, true},
		{"failed", ImportStatusFailed, true},
		{"cancelled", ImportStatusCancelled, true},
		{"invalid", ImportStatus("invalid"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsValid())
		})
	}
}

func TestImportStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status ImportStatus
		want   bool
	}{
		{"pending", ImportStatusPending, false},
		{"processing", ImportStatusProcessing, false},
		{"completed", ImportStatusCompleted, true},
		{"failed", ImportStatusFailed, true},
		{"cancelled", ImportStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestNewImportHistory(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		size     int64
		source   ImportSource
		wantCode string
	}{
		{"valid", "billing.csv", 1024, ImportSourceUpload, ""},
		{"empty file name", "", 10, ImportSourceUpload, "INVALID_FILE_NAME"},
		{"negative size", "billing.csv", -1, ImportSourceWatcher, "INVALID_FILE_SIZE"},
		{"invalid source", "billing.csv", 10, ImportSource("mail"), "INVALID_SOURCE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewImportHistory(tt.fileName, "abc123", tt.size, tt.source)
			if tt.wantCode != "" {
				require.Error(t, err)
				var domainErr *shared.DomainError
				require.True(t, errors.As(err, &domainErr))
				assert.Equal(t, tt.wantCode, domainErr.Code)
				assert.Nil(t, h)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.fileName, h.FileName)
			assert.Equal(t, "abc123", h.FileHash)
			assert.Equal(t, ImportStatusPending, h.Status)
			assert.Equal(t, 1, h.Version)
			assert.NotNil(t, h.ErrorDetails)
			assert.Nil(t, h.StartedAt)
		})
	}
}

func newHistory(t *testing.T) *ImportHistory {
	t.Helper()
	h, err := NewImportHistory("billing.csv", "hash", 2048, ImportSourceCLI)
	require.NoError(t, err)
	return h
}

func TestImportHistory_Lifecycle(t *testing.T) {
	t.Run("complete with all posted", func(t *testing.T) {
		h := newHistory(t)
		require.NoError(t, h.StartProcessing(12, 4))
		assert.Equal(t, ImportStatusProcessing, h.Status)
		assert.NotNil(t, h.StartedAt)

		require.NoError(t, h.Complete(3, 1, 0, "processed/20240101_000000_billing.csv", nil))
		assert.True(t, h.IsCompleted())
		assert.False(t, h.HasErrors())
		assert.Equal(t, 3, h.SuccessCount)
		assert.Equal(t, 1, h.SkippedCount)
		assert.Equal(t, float64(100), h.SuccessRate())
		assert.NotNil(t, h.CompletedAt)
		assert.Equal(t, 3, h.Version)
	})

	t.Run("complete with a failed transaction is a failure", func(t *testing.T) {
		h := newHistory(t)
		require.NoError(t, h.StartProcessing(4, 2))
		details := []ImportErrorDetail{{Row: 3, InvoiceNo: "INV-2", Code: "SYNC_FAILED", Message: "create invoice: 400"}}
		require.NoError(t, h.Complete(1, 0, 1, "error/x.csv", details))
		assert.True(t, h.IsFailed())
		assert.True(t, h.HasErrors())
		assert.Equal(t, float64(50), h.SuccessRate())
	})

	t.Run("fail before processing", func(t *testing.T) {
		h := newHistory(t)
		require.NoError(t, h.Fail("error/x.csv", []ImportErrorDetail{{Code: "IMPORT_MISSING_HEADER", Message: "missing required columns: Invoice No."}}))
		assert.True(t, h.IsFailed())
		assert.Equal(t, 1, h.ErrorCount)
		assert.Zero(t, h.Duration())
	})

	t.Run("cancel", func(t *testing.T) {
		h := newHistory(t)
		require.NoError(t, h.Cancel())
		assert.Equal(t, ImportStatusCancelled, h.Status)
	})

	t.Run("invalid transitions", func(t *testing.T) {
		h := newHistory(t)
		assert.Error(t, h.Complete(0, 0, 0, "", nil))
		require.NoError(t, h.StartProcessing(1, 1))
		assert.Error(t, h.StartProcessing(1, 1))
		require.NoError(t, h.Complete(1, 0, 0, "", nil))
		assert.Error(t, h.Fail("", nil))
		assert.Error(t, h.Cancel())
	})

	t.Run("negative totals", func(t *testing.T) {
		h := newHistory(t)
		assert.Error(t, h.StartProcessing(-1, 0))
	})
}

func TestImportHistory_ErrorDetailsJSON(t *testing.T) {
	h := newHistory(t)

	s, err := h.ErrorDetailsJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	h.ErrorDetails = []ImportErrorDetail{
		{Row: 2, Column: "Quantity", Code: "IMPORT_INVALID_TYPE", Message: "expected number", Value: "x", Warning: true},
	}
	s, err = h.ErrorDetailsJSON()
	require.NoError(t, err)

	restored := newHistory(t)
	require.NoError(t, restored.SetErrorDetailsFromJSON(s))
	assert.Equal(t, h.ErrorDetails, restored.ErrorDetails)

	require.NoError(t, restored.SetErrorDetailsFromJSON(""))
	assert.Empty(t, restored.ErrorDetails)
	assert.Error(t, restored.SetErrorDetailsFromJSON("{not json"))
}

func TestImportHistory_Duration(t *testing.T) {
	h := newHistory(t)
	start := time.Now().Add(-2 * time.Minute)
	end := start.Add(90 * time.Second)
	h.StartedAt = &start
	h.CompletedAt = &end
	assert.Equal(t, 90*time.Second, h.Duration())
}
