package handlerUtil

import (
	"errors"
	"optifocus/pkg/log"
	"optifocus/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// StatusError is the literal status value of every error body.
const StatusError = "ERROR"

type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type ErrorHandler struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

// Handle writes err as {"status":"ERROR","error":...}. Domain errors keep
// their status code, anything else is a 500 carrying the error text.
func (h *ErrorHandler) Handle(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	fields := log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
		"operation":  operation,
	}

	var respErr *response.Error
	if errors.As(err, &respErr) {
		fields["code"] = respErr.Code
		if respErr.Code >= fiber.StatusInternalServerError {
			h.logger.WithFields(fields).Error("Operation failed with error response")
		} else {
			h.logger.WithFields(fields).Warn("Operation failed with error response")
		}
		return c.Status(respErr.Code).JSON(ErrorResponse{Status: StatusError, Error: err.Error()})
	}

	log.ErrorWithTraceID(h.logger, fields, "Unexpected error")

	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Status: StatusError, Error: err.Error()})
}

// HandleValidationError answers 400 with message, the machine-readable
// reason the client expects.
func (h *ErrorHandler) HandleValidationError(c *fiber.Ctx, requestID string, err error, path string, message string) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
	}).Warn("Validation failed")

	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Status: StatusError, Error: message})
}

func (h *ErrorHandler) HandleRequestTimeout(c *fiber.Ctx) error {
	return c.Status(fiber.StatusRequestTimeout).JSON(ErrorResponse{Status: StatusError, Error: "request timeout"})
}

func (h *ErrorHandler) HandleUnauthorized(c *fiber.Ctx, requestID string, message string) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"path":       c.Path(),
		"message":    message,
	}).Warn("Unauthorized access")

	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Status: StatusError, Error: message})
}

func (h *ErrorHandler) HandleSuccess(c *fiber.Ctx, statusCode int, data interface{}) error {
	if data == nil {
		return c.SendStatus(statusCode)
	}
	return c.Status(statusCode).JSON(data)
}
