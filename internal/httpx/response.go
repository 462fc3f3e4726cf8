package httpx

import (
	"errors"
	"net/http"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func Created(c *gin.Context, v any) {
	c.JSON(http.StatusCreated, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// Status maps an error kind onto an HTTP status code.
func Status(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err with the status its kind maps to. Internal and
// persistence errors are not echoed to the client.
func Error(c *gin.Context, err error) {
	code := Status(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
		Err(c, code, "internal error")
		return
	}
	Err(c, code, apperr.Message(err))
}

// BindErr renders a gin binding failure.
func BindErr(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
		return
	}
	Err(c, http.StatusBadRequest, err.Error())
}
