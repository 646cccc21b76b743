package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	syncapp "github.com/qbsync/backend/internal/application/sync"
	"github.com/qbsync/backend/internal/domain/bulk"
	"github.com/qbsync/backend/internal/domain/shared"
	"github.com/qbsync/backend/internal/interfaces/http/dto"
)

const defaultHistoryPageSize = 20

// HistoryQueries is the read side of the import history service
type HistoryQueries interface {
	ListHistory(ctx context.Context, filter syncapp.ListHistoryFilter, page, pageSize int) (*bulk.ImportHistoryListResult, error)
	GetHistory(ctx context.Context, historyID uuid.UUID) (*bulk.ImportHistory, error)
	GetErrorsCSV(ctx context.Context, historyID uuid.UUID) (string, string, error)
	DeleteHistory(ctx context.Context, historyID uuid.UUID) error
}

// HistoryHandler serves the import history
type HistoryHandler struct {
	BaseHandler
	history HistoryQueries
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(history HistoryQueries) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// ListHistory returns a page of imports, newest first
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	var req dto.HistoryListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultHistoryPageSize
	}

	filter := syncapp.ListHistoryFilter{
		Status:    req.Status,
		Source:    req.Source,
		FileName:  req.FileName,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	// Dates were validated by binding
	if req.StartedFrom != "" {
		if t, err := time.Parse(time.DateOnly, req.StartedFrom); err == nil {
			filter.StartedFrom = &t
		}
	}
	if req.StartedTo != "" {
		if t, err := time.Parse(time.DateOnly, req.StartedTo); err == nil {
			endOfDay := t.Add(24*time.Hour - time.Nanosecond)
			filter.StartedTo = &endOfDay
		}
	}

	result, err := h.history.ListHistory(c.Request.Context(), filter, req.Page, req.PageSize)
	if err != nil {
		h.InternalError(c, "Failed to list import history")
		return
	}

	h.SuccessWithMeta(c, dto.NewImportHistoryList(result.Items), result.TotalCount, req.Page, req.PageSize)
}

// GetHistory returns one import including its error details
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	id, ok := h.historyID(c)
	if !ok {
		return
	}

	history, err := h.history.GetHistory(c.Request.Context(), id)
	if err != nil {
		h.historyError(c, err)
		return
	}

	h.Success(c, dto.NewImportHistoryResponse(history))
}

// GetErrors downloads the error details of an import as CSV
func (h *HistoryHandler) GetErrors(c *gin.Context) {
	id, ok := h.historyID(c)
	if !ok {
		return
	}

	content, fileName, err := h.history.GetErrorsCSV(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.NotFound(c, "Import history not found")
			return
		}
		if errors.Is(err, syncapp.ErrNoErrorsToExport) {
			h.NotFound(c, "No errors recorded for this import")
			return
		}
		h.InternalError(c, "Failed to export errors")
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+fileName)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(content))
}

// DeleteHistory removes an import record
func (h *HistoryHandler) DeleteHistory(c *gin.Context) {
	id, ok := h.historyID(c)
	if !ok {
		return
	}

	if err := h.history.DeleteHistory(c.Request.Context(), id); err != nil {
		h.historyError(c, err)
		return
	}

	h.NoContent(c)
}

func (h *HistoryHandler) historyID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid history ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *HistoryHandler) historyError(c *gin.Context, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		h.NotFound(c, "Import history not found")
		return
	}
	h.HandleError(c, err)
}
