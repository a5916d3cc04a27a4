package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/storefront/backend/internal/interfaces/http/dto"
)

// SetupValidator makes binding errors name fields by their json or form tag
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		return name
	})
}

// FormatValidationErrors turns a binding error into a 400 body
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail

	var verrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &verrs):
		for _, e := range verrs {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: validationMessage(e),
			})
		}
	case errors.As(err, &typeErr):
		details = append(details, dto.ValidationDetail{Field: typeErr.Field, Message: "Has the wrong type"})
	case errors.As(err, &syntaxErr):
		details = append(details, dto.ValidationDetail{Field: "body", Message: "Malformed JSON"})
	default:
		details = append(details, dto.ValidationDetail{Field: "body", Message: err.Error()})
	}

	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError writes a 400 validation error response
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

var simpleMessages = map[string]string{
	"required": "This field is required",
	"uuid":     "Invalid UUID format",
	"url":      "Invalid URL format",
	"numeric":  "Must be numeric",
	"email":    "Invalid email format",
}

var boundMessages = map[string]string{
	"oneof": "Must be one of: ",
	"gte":   "Must be greater than or equal to ",
	"lte":   "Must be less than or equal to ",
	"gt":    "Must be greater than ",
	"lt":    "Must be less than ",
}

func validationMessage(e validator.FieldError) string {
	if msg, ok := simpleMessages[e.Tag()]; ok {
		return msg
	}
	if prefix, ok := boundMessages[e.Tag()]; ok {
		return prefix + e.Param()
	}

	unit := ""
	if e.Kind() == reflect.String {
		unit = " characters"
	} else if e.Kind() == reflect.Slice || e.Kind() == reflect.Map {
		unit = " items"
	}
	switch e.Tag() {
	case "min":
		return "Must be at least " + e.Param() + unit
	case "max":
		return "Must be at most " + e.Param() + unit
	case "len":
		return "Must be exactly " + e.Param() + unit
	default:
		return "Invalid value"
	}
}
