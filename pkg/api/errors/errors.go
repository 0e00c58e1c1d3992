package errors

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/models"
)

// FromDomain maps a service error to its HTTP response. Internal errors are
// logged by the echo error logger and never exposed to the client.
func FromDomain(c echo.Context, err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		switch de.Code {
		case domain.ErrCodeNotFound:
			return c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: de.Message,
			})
		case domain.ErrCodeValidation:
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: de.Message,
			})
		case domain.ErrCodeInvalidTransition:
			return c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "invalid_transition",
				Message: de.Message,
			})
		case domain.ErrCodeLockHeld:
			return c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "lock_held",
				Message: de.Message,
			})
		case domain.ErrCodeConflict:
			return c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "conflict",
				Message: de.Message,
			})
		}
	}

	return InternalError(c, err)
}

// ValidationError returns a generic validation error without exposing internal details
func ValidationError(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: message,
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	c.Logger().Errorf("internal error: path=%s err=%v", c.Request().URL.Path, err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// NotFoundError returns a generic not found error
func NotFoundError(c echo.Context, resource string) error {
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: resource + " not found",
	})
}
