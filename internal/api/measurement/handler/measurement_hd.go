package measurementHandler

import (
	"context"
	"errors"
	"optifocus/internal/api/measurement"
	contextPkg "optifocus/pkg/context"
	"optifocus/pkg/handlerUtil"
	jwtPkg "optifocus/pkg/jwt"
	"optifocus/pkg/log"
	"optifocus/pkg/utils"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const MeasurementIDHeader = "X-Measurement-ID"

// Process accepts either a JSON body {"image_b64": "..."} or a multipart
// upload with an "image" file and answers with the measurement contract.
func (h *MeasurementHandler) Process(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), h.processTimeout)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
	}).Debug("Processing measurement request")

	var (
		outcome *measurement.ProcessOutcome
		err     error
	)

	if strings.HasPrefix(string(ctx.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		raw, imageB64, ferr := h.readMultipart(ctx)
		if ferr != nil {
			return errHandler.Handle(ctx, requestID, ferr, ctx.Path(), "read_multipart")
		}
		if raw == nil && imageB64 == "" {
			return errHandler.HandleValidationError(ctx, requestID, errors.New("no image in form"), ctx.Path(), measurement.ErrImageRequired.Error())
		}

		if raw != nil {
			outcome, err = h.measurementService.ProcessImage(c, raw)
		} else {
			outcome, err = h.measurementService.ProcessBase64(c, imageB64)
		}
	} else {
		// the body is parsed as JSON whatever the declared content type
		var req measurement.ProcessRequest
		if perr := json.Unmarshal(ctx.Body(), &req); perr != nil {
			return errHandler.HandleValidationError(ctx, requestID, perr, ctx.Path(), measurement.ErrImageRequired.Error())
		}
		if verr := h.validator.Struct(req); verr != nil {
			return errHandler.HandleValidationError(ctx, requestID, verr, ctx.Path(), measurement.ErrImageRequired.Error())
		}

		outcome, err = h.measurementService.ProcessBase64(c, req.ImageB64)
	}

	if err != nil {
		if errors.Is(c.Err(), context.DeadlineExceeded) {
			return errHandler.HandleRequestTimeout(ctx)
		}
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "process_measurement")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		if outcome.MeasurementID != "" {
			ctx.Set(MeasurementIDHeader, outcome.MeasurementID)
		}
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, outcome.Response)
	}
}

// readMultipart returns the uploaded "image" file, or the "image_b64" form
// value when no file was sent.
func (h *MeasurementHandler) readMultipart(ctx *fiber.Ctx) ([]byte, string, error) {
	file, err := ctx.FormFile("image")
	if err != nil {
		return nil, ctx.FormValue("image_b64"), nil
	}

	if err := h.utils.ValidateImageFile(file); err != nil {
		return nil, "", mapUploadError(err)
	}

	src, err := file.Open()
	if err != nil {
		return nil, "", err
	}
	defer src.Close()

	raw, err := h.utils.ReadImageFile(src)
	if err != nil {
		return nil, "", mapUploadError(err)
	}

	return raw, "", nil
}

func mapUploadError(err error) error {
	switch {
	case errors.Is(err, utils.ErrFileTooLarge):
		return measurement.ErrFileTooLarge
	case errors.Is(err, utils.ErrNotAnImage):
		return measurement.ErrInvalidFileType
	default:
		return err
	}
}

// handleWebSocket measures one image per message. Binary messages carry
// the encoded image, text messages carry base64 or {"image_b64": ...}.
func (h *MeasurementHandler) handleWebSocket(c *websocket.Conn) {
	requestID, _ := c.Locals("X-Request-ID").(string)
	logger := h.log.WithField("request_id", requestID)

	logger.Info("Measurement WebSocket client connected")
	defer logger.Info("Measurement WebSocket client disconnected")

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			logger.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	maxReadTimeout := 60 * time.Second

	for {
		if err := c.SetReadDeadline(time.Now().Add(maxReadTimeout)); err != nil {
			logger.Errorf("Error setting read deadline: %v", err)
			break
		}

		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("Measurement WebSocket error: %v", err)
			}
			break
		}

		var reply interface{}
		outcome, err := h.processMessage(requestID, messageType, message)
		if err != nil {
			logger.WithError(err).Warn("Error processing WebSocket measurement")
			reply = handlerUtil.ErrorResponse{Status: handlerUtil.StatusError, Error: err.Error()}
		} else {
			reply = outcome.Response
		}

		if err := c.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
			logger.Errorf("Error setting write deadline: %v", err)
			break
		}

		if err := c.WriteJSON(reply); err != nil {
			logger.Errorf("Error writing JSON response: %v", err)
			break
		}
	}
}

func (h *MeasurementHandler) processMessage(requestID string, messageType int, message []byte) (*measurement.ProcessOutcome, error) {
	ctx, cancel := context.WithTimeout(contextPkg.WithRequestID(context.Background(), requestID), h.processTimeout)
	defer cancel()

	switch messageType {
	case websocket.BinaryMessage:
		if len(message) == 0 {
			return nil, measurement.ErrImageRequired
		}
		return h.measurementService.ProcessImage(ctx, message)
	case websocket.TextMessage:
		text := strings.TrimSpace(string(message))
		if strings.HasPrefix(text, "{") {
			var req measurement.ProcessRequest
			if err := json.Unmarshal([]byte(text), &req); err != nil {
				return nil, measurement.ErrImageRequired
			}
			text = req.ImageB64
		}
		return h.measurementService.ProcessBase64(ctx, text)
	default:
		return nil, errors.New("unsupported message type")
	}
}

func (h *MeasurementHandler) ListMeasurements(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 10*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	list, err := h.measurementService.ListMeasurements(c, ctx.QueryInt("page", 1), ctx.QueryInt("limit", 20))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "list_measurements")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, list)
	}
}

func (h *MeasurementHandler) GetMeasurement(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 10*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	m, err := h.measurementService.GetMeasurement(c, ctx.Params("id"))
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "get_measurement")
	}

	select {
	case <-c.Done():
		return errHandler.HandleRequestTimeout(ctx)
	default:
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, m)
	}
}

func (h *MeasurementHandler) DeleteMeasurement(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(contextPkg.FromFiberCtx(ctx), 10*time.Second)
	defer cancel()

	errHandler := handlerUtil.New(h.log)

	operator, err := jwtPkg.GetOperatorLoginData(ctx)
	if err != nil {
		return errHandler.HandleUnauthorized(ctx, requestID, "unauthorized")
	}

	if err := h.measurementService.DeleteMeasurement(c, ctx.Params("id")); err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "delete_measurement")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"id":         ctx.Params("id"),
		"operator":   operator.Username,
	}).Info("Measurement deleted")

	return errHandler.HandleSuccess(ctx, fiber.StatusNoContent, nil)
}
