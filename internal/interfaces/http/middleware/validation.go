package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/qbsync/backend/internal/interfaces/http/dto"
)

// SetupValidator makes gin's validator report fields under the key the
// client sent (form, then json) instead of the Go field name
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"form", "json"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			switch name {
			case "-":
				return ""
			case "":
				continue
			default:
				return name
			}
		}
		return fld.Name
	})
}

// FormatValidationErrors builds the 400 body for a binding error. Only
// validator errors carry per-field details; a parse failure such as a
// non-numeric page yields the bare message.
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details = make([]dto.ValidationDetail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: getValidationMessage(fe)})
		}
	}
	return dto.Invalid(requestID, details)
}

// HandleValidationError writes the 400 validation response
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

func getValidationMessage(fe validator.FieldError) string {
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Must be at least %s%s", fe.Param(), unit)
	case "max":
		return fmt.Sprintf("Must be at most %s%s", fe.Param(), unit)
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "numeric":
		return "Must be numeric"
	case "datetime":
		return "Must be a date in the format " + fe.Param()
	case "uuid", "uuid4":
		return "Must be a UUID"
	default:
		return "Invalid value"
	}
}
