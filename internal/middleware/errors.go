package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/pennywise/pennywise/internal/apperr"
)

type errorBody struct {
	Message   string            `json:"message"`
	Code      string            `json:"code"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// ErrorHandler renders errors as JSON. Classified errors expose their message
// and field details; anything else becomes an opaque 500 and is logged.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		body := errorBody{RequestID: RequestIDFrom(c)}
		status := statusOf(err)

		var appErr *apperr.Error
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &appErr):
			body.Message = appErr.Message
			body.Code = appErr.Kind.String()
			body.Fields = appErr.Fields
			if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindUpstream {
				logger.Error("request failed", slog.String("request_id", body.RequestID), slog.Any("error", err))
			}
		case errors.As(err, &fiberErr):
			body.Message = fiberErr.Message
			body.Code = codeForStatus(fiberErr.Code)
		default:
			body.Message = "internal error"
			body.Code = apperr.KindInternal.String()
			logger.Error("unhandled error", slog.String("request_id", body.RequestID), slog.Any("error", err))
		}
		return c.Status(status).JSON(body)
	}
}

func statusOf(err error) int {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Kind.Status()
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return apperr.KindValidation.String()
	case fiber.StatusUnauthorized:
		return apperr.KindUnauthorized.String()
	case fiber.StatusForbidden:
		return apperr.KindForbidden.String()
	case fiber.StatusNotFound:
		return apperr.KindNotFound.String()
	case fiber.StatusConflict:
		return apperr.KindConflict.String()
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	}
	if status >= fiber.StatusInternalServerError {
		return apperr.KindInternal.String()
	}
	return "error"
}
