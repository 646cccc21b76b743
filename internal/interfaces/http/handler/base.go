// Package handler holds the gin handlers of the upload service.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qbsync/backend/internal/domain/integration"
	"github.com/qbsync/backend/internal/domain/shared"
	"github.com/qbsync/backend/internal/interfaces/http/dto"
	"github.com/qbsync/backend/internal/interfaces/http/middleware"
)

// platformFailures maps QuickBooks failures to the code and message shown
// to the caller. The underlying error text is never exposed.
var platformFailures = []struct {
	targets []error
	code    string
	message string
}{
	{[]error{integration.ErrPlatformNotConfigured}, dto.ErrCodeNotConfigured, "QuickBooks is not configured"},
	{[]error{integration.ErrPlatformAuthFailed, integration.ErrPlatformTokenExpired}, dto.ErrCodeUnauthorized, "QuickBooks rejected the authorization"},
	{[]error{integration.ErrPlatformUnavailable, integration.ErrPlatformRateLimited}, dto.ErrCodeUpstreamUnavailable, "QuickBooks is temporarily unavailable"},
}

// BaseHandler writes the JSON envelope shared by the API handlers
type BaseHandler struct{}

// Success answers 200 with data
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.OK(data))
}

// SuccessWithMeta answers 200 with one page of a list
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.Paged(data, total, page, pageSize))
}

// NoContent answers 204
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error answers status with an error envelope tagged with the request id
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.Failure(code, message, middleware.GetRequestID(c)))
}

// ErrorWithCode answers with the status registered for code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError answers 400 listing the fields rejected by binding
func (h *BaseHandler) ValidationError(c *gin.Context, err error) {
	middleware.HandleValidationError(c, err)
}

// HandleError answers for err. Domain errors keep their code, with 422
// when the code has no registered status; platform errors get a fixed
// message; anything else is a 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var de *shared.DomainError
	if errors.As(err, &de) {
		code := dto.NormalizeErrorCode(de.Code)
		status, known := dto.StatusFor(code)
		if !known {
			status = http.StatusUnprocessableEntity
		}
		h.Error(c, status, code, de.Message)
		return
	}

	for _, pf := range platformFailures {
		for _, target := range pf.targets {
			if errors.Is(err, target) {
				h.ErrorWithCode(c, pf.code, pf.message)
				return
			}
		}
	}
	h.InternalError(c, "An unexpected error occurred")
}
