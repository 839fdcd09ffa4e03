package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"go.uber.org/zap"
)

// ErrorHandler renders every handler error as {"error": ...} with a status
// derived from the domain sentinel it wraps.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := StatusFor(err)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}

		message := err.Error()
		if code == fiber.StatusInternalServerError {
			message = "internal server error"
		}
		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNoPushToken):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateCall), errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrTransport):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
