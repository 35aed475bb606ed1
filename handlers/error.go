package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"agv-simulator/internal/instance"
	"agv-simulator/internal/messaging"
	"agv-simulator/internal/robot"
	"agv-simulator/models"
	"agv-simulator/redis"
	"agv-simulator/utils"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// toAppError maps fleet and robot errors onto HTTP errors.
func toAppError(err error) error {
	var appErr *utils.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, instance.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, redis.ErrNotCached):
		return utils.NewNotFoundError(err.Error())
	case errors.Is(err, instance.ErrAlreadyExists):
		return utils.NewConflictError(err.Error(), err)
	case errors.Is(err, instance.ErrInvalidDescriptor),
		errors.Is(err, models.ErrMalformedPayload),
		errors.Is(err, models.ErrInvalidOrder),
		errors.Is(err, robot.ErrIdentityChanged):
		return utils.NewBadRequestError(err.Error(), err)
	case errors.Is(err, robot.ErrNotRunning):
		return utils.NewConflictError(err.Error(), err)
	case errors.Is(err, messaging.ErrNotConnected), errors.Is(err, robot.ErrBusy):
		return utils.NewServiceUnavailableError(err.Error(), err)
	default:
		return utils.NewInternalServerError("An unexpected internal error occurred.", err)
	}
}

// NewHTTPErrorHandler returns the central error handler of the echo server.
func NewHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			msg := http.StatusText(httpErr.Code)
			if s, ok := httpErr.Message.(string); ok {
				msg = s
			}
			c.JSON(httpErr.Code, utils.ErrorResponse(msg))
			return
		}

		var appErr *utils.AppError
		if !errors.As(err, &appErr) {
			logger.Error("Unhandled error occurred",
				"error_type", fmt.Sprintf("%T", err),
				"path", c.Path(),
				slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, utils.ErrorResponse("An unexpected internal error occurred."))
			return
		}

		if internalErr := appErr.Unwrap(); internalErr != nil {
			logger.Info("Error handled",
				"status_code", appErr.Code,
				"error_message", appErr.Message,
				"path", c.Path(),
				slog.Any("internal_error", internalErr))
		}
		c.JSON(appErr.Code, utils.ErrorResponse(appErr.Message))
	}
}
