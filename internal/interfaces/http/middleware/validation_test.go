package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbsync/backend/internal/interfaces/http/dto"
)

func TestHandleValidationError(t *testing.T) {
	type query struct {
		Page    int    `form:"page" binding:"omitempty,min=1"`
		RealmID string `form:"realmId" binding:"required,numeric"`
		Status  string `form:"status" binding:"omitempty,oneof=completed failed"`
	}

	SetupValidator()

	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		var q query
		if err := c.ShouldBindQuery(&q); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	t.Run("returns field details for invalid input", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test?page=0&realmId=abc&status=odd", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.Equal(t, "req-1", resp.Error.RequestID)

		fields := map[string]string{}
		for _, d := range resp.Error.Details {
			fields[d.Field] = d.Message
		}
		assert.Equal(t, "Must be at least 1", fields["page"])
		assert.Equal(t, "Must be numeric", fields["realmId"])
		assert.Equal(t, "Must be one of: completed failed", fields["status"])
	})

	t.Run("returns success for valid input", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test?realmId=9130", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestFormatValidationErrors_NonValidatorError(t *testing.T) {
	resp := FormatValidationErrors(errors.New("strconv.ParseInt: parsing \"x\": invalid syntax"), "")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Empty(t, resp.Error.Details)
}

func TestGetValidationMessage(t *testing.T) {
	type sample struct {
		Required string `validate:"required"`
		Short    string `validate:"min=5"`
		Date     string `validate:"datetime=2006-01-02"`
	}

	err := validator.New().Struct(sample{Short: "ab", Date: "01/02/2024"})
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	got := map[string]string{}
	for _, e := range verrs {
		got[e.Field()] = getValidationMessage(e)
	}
	assert.Equal(t, "This field is required", got["Required"])
	assert.Equal(t, "Must be at least 5 characters", got["Short"])
	assert.Equal(t, "Must be a date in the format 2006-01-02", got["Date"])
}
