package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qbsync/backend/internal/interfaces/http/dto"
)

// BodyLimit caps request bodies at max bytes. A declared Content-Length
// over the cap is refused with 413 before the handler runs; otherwise
// reads past the cap fail with *http.MaxBytesError.
func BodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength <= max {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
			c.Next()
			return
		}
		msg := fmt.Sprintf("Request body exceeds maximum allowed size of %d bytes", max)
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
			dto.NewUploadError(dto.ErrCodeRequestTooLarge, msg, GetRequestID(c)))
	}
}
