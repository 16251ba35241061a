package middleware

import (
	"fmt"
	"optifocus/pkg/log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewLoggingMiddleware logs one line per request. Image payloads are
// replaced by their size.
func (m *middleware) NewLoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()

		logFields := log.Fields{
			"request_id":    m.GetRequestID(c),
			"method":        c.Method(),
			"path":          c.Path(),
			"status":        status,
			"latency_ms":    latency.Milliseconds(),
			"ip":            c.IP(),
			"user_agent":    c.Get("User-Agent"),
			"response_size": len(c.Response().Body()),
		}

		if body := c.Request().Body(); len(body) > 0 {
			logFields["request_body"] = sanitizeRequestBody(string(c.Request().Header.ContentType()), body)
		}

		entry := m.log.WithFields(logFields)
		switch {
		case err != nil || status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Success")
		}

		return err
	}
}

var sensitiveFields = []string{"password", "token", "secret", "authorization"}

func sanitizeRequestBody(contentType string, body []byte) string {
	if strings.HasPrefix(contentType, "multipart/") {
		return fmt.Sprintf("[multipart body, %d bytes]", len(body))
	}

	var jsonBody map[string]interface{}
	if err := json.Unmarshal(body, &jsonBody); err != nil {
		return fmt.Sprintf("[non-JSON body, %d bytes]", len(body))
	}

	if img, ok := jsonBody["image_b64"].(string); ok {
		jsonBody["image_b64"] = fmt.Sprintf("[%d chars]", len(img))
	}

	for _, field := range sensitiveFields {
		if _, exists := jsonBody[field]; exists {
			jsonBody[field] = "[SECRET]"
		}
	}

	sanitized, err := json.Marshal(jsonBody)
	if err != nil {
		return "[sanitization-failed]"
	}

	return string(sanitized)
}
