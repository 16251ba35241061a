package config

import (
	"errors"
	"optifocus/internal/middleware"
	"optifocus/pkg/handlerUtil"
	"optifocus/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

func NewFiber(logger *logrus.Logger) *fiber.App {
	app := fiber.New(
		fiber.Config{
			AppName:           "OptiFocus Measurement API",
			BodyLimit:         utils.MaxImageSize,
			DisableKeepalive:  false,
			StrictRouting:     true,
			CaseSensitive:     true,
			EnablePrintRoutes: false,
			JSONEncoder:       jsoniter.Marshal,
			JSONDecoder:       jsoniter.Unmarshal,
			ErrorHandler:      newErrorHandler(logger),
		})

	app.Use(recover.New())
	app.Use(cors.New())

	return app
}

// newErrorHandler renders errors that escape the handlers, such as an
// oversized body or an unknown route, in the API error shape. Requests
// rejected before routing never reach the request ID middleware, so the
// header is filled in here.
func newErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if len(c.Response().Header.Peek(middleware.RequestIDKey)) == 0 {
			requestID := c.Get(middleware.RequestIDKey)
			if requestID == "" {
				requestID = ulid.Make().String()
			}
			c.Set(middleware.RequestIDKey, requestID)
		}

		code := fiber.StatusInternalServerError
		message := err.Error()

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = fiberErr.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"path":  c.Path(),
				"error": err.Error(),
			}).Error("Unhandled error")
		}

		return c.Status(code).JSON(handlerUtil.ErrorResponse{
			Status: handlerUtil.StatusError,
			Error:  message,
		})
	}
}
