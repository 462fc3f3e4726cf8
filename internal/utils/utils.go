package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type CustomErrorResponse struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct tag validation for values that do not pass through
// gin binding, such as socket payloads.
func Validate(v any) error {
	return validate.Struct(v)
}

func ValidationErr(err validator.ValidationErrors) []CustomErrorResponse {
	var errors []CustomErrorResponse
	for _, fieldErr := range err {
		errors = append(errors, CustomErrorResponse{
			Field:   fieldErr.Field(),
			Tag:     fieldErr.ActualTag(),
			Message: GetErrorMessage(fieldErr),
		})
	}
	return errors
}

// Summary flattens validation errors into one line for event replies.
func Summary(err validator.ValidationErrors) string {
	parts := make([]string, 0, len(err))
	for _, fe := range err {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), GetErrorMessage(fe)))
	}
	return strings.Join(parts, "; ")
}

func GetErrorMessage(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required":
		return "This field is required."
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", fe.Param())
	case "min":
		return fmt.Sprintf("Must have at least %s items.", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s.", fe.Param())
	case "dive":
		return "Contains an invalid item."
	default:
		return "Unknown validation error."
	}
}
