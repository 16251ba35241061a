package measurementHandler

import (
	measurementService "optifocus/internal/api/measurement/service"
	"optifocus/internal/middleware"
	"optifocus/pkg/utils"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const defaultProcessTimeout = 15 * time.Second

type MeasurementHandler struct {
	log                *logrus.Logger
	validator          *validator.Validate
	middleware         middleware.Middleware
	measurementService measurementService.IMeasurementService
	utils              utils.IUtils
	processTimeout     time.Duration
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	ms measurementService.IMeasurementService,
	utils utils.IUtils,
) *MeasurementHandler {
	return &MeasurementHandler{
		log:                log,
		validator:          validator,
		middleware:         middleware,
		measurementService: ms,
		utils:              utils,
		processTimeout:     processTimeoutFromEnv(),
	}
}

func (h *MeasurementHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	srv.Post("/process", h.middleware.NewRateLimiter, h.Process)
	srv.Use("/process/ws", wsMiddleware)
	srv.Get("/process/ws", websocket.New(h.handleWebSocket))

	v1 := srv.Group("/api/v1")
	v1.Post("/process", h.middleware.NewRateLimiter, h.Process)

	history := v1.Group("/measurements", h.middleware.NewTokenMiddleware)
	history.Get("", h.ListMeasurements)
	history.Get("/:id", h.GetMeasurement)
	history.Delete("/:id", h.DeleteMeasurement)
}

func processTimeoutFromEnv() time.Duration {
	timeout, err := time.ParseDuration(os.Getenv("PROCESS_TIMEOUT"))
	if err != nil || timeout <= 0 {
		return defaultProcessTimeout
	}
	return timeout
}
