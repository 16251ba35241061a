package config

import (
	"context"
	"errors"
	"fmt"
	"optifocus/database/postgres"
	measurementHandler "optifocus/internal/api/measurement/handler"
	measurementRepository "optifocus/internal/api/measurement/repository"
	measurementService "optifocus/internal/api/measurement/service"
	"optifocus/internal/middleware"
	"optifocus/pkg/gemini"
	"optifocus/pkg/redis"
	"optifocus/pkg/s3"
	"optifocus/pkg/spectacle"
	"optifocus/pkg/utils"
	websocketPkg "optifocus/pkg/websocket"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type ServerOption func(*Server) error

type Server struct {
	engine             *fiber.App
	db                 *sqlx.DB
	log                *logrus.Logger
	middleware         middleware.Middleware
	validator          *validator.Validate
	utils              utils.IUtils
	handlers           []handler
	redisServer        redis.IRedis
	visionWebsocket    websocketPkg.IWebsocket
	geminiClient       gemini.IGemini
	s3Client           s3.ItfS3
	frameDetector      measurementService.FrameDetector
	measurementService measurementService.IMeasurementService
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.visionWebsocket == nil {
		return nil, fmt.Errorf("vision websocket client is required")
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log)
	}
	if server.validator == nil {
		server.validator = NewValidator()
	}
	if server.utils == nil {
		server.utils = utils.New()
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

// WithDatabase connects to Postgres and migrates the schema. Without DB_HOST
// the server runs with measurement history disabled.
func WithDatabase() ServerOption {
	return func(s *Server) error {
		db, err := postgres.New()
		if errors.Is(err, postgres.ErrNotConfigured) {
			if s.log != nil {
				s.log.Info("DB_HOST not set, measurement history disabled")
			}
			return nil
		}
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to connect to database: %v", err)
			}
			return fmt.Errorf("failed to create database connection: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return err
		}

		s.db = db
		return nil
	}
}

func WithRedisServer(redisServer redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.redisServer = redisServer
		return nil
	}
}

func WithWebSocket(webSocket websocketPkg.IWebsocket) ServerOption {
	return func(s *Server) error {
		s.visionWebsocket = webSocket
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log)
		return nil
	}
}

func WithS3Client() ServerOption {
	return func(s *Server) error {
		client, err := s3.New()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to initialize S3 client: %v", err)
			}
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if client == nil {
			if s.log != nil {
				s.log.Info("AWS_BUCKET_NAME not set, photo archiving disabled")
			}
			return nil
		}
		s.s3Client = client
		return nil
	}
}

func WithGeminiClient() ServerOption {
	return func(s *Server) error {
		client, err := gemini.NewGeminiClient(context.Background())
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to create Gemini client: %v", err)
			}
			return fmt.Errorf("failed to create Gemini client: %w", err)
		}
		s.geminiClient = client
		return nil
	}
}

// WithFrameDetector selects the spectacle frame detector from FRAME_DETECTOR:
// "static" (default), "remote" for the Python vision service, or "gemini".
func WithFrameDetector() ServerOption {
	return func(s *Server) error {
		kind := strings.ToLower(strings.TrimSpace(os.Getenv("FRAME_DETECTOR")))
		if kind == "" {
			kind = "static"
		}

		switch kind {
		case "static":
			s.frameDetector = spectacle.NewStaticDetector()
		case "remote":
			if s.visionWebsocket == nil {
				return fmt.Errorf("remote frame detector needs the vision websocket client")
			}
			s.frameDetector = s.visionWebsocket
		case "gemini":
			if s.geminiClient == nil {
				if err := WithGeminiClient()(s); err != nil {
					return err
				}
			}
			s.frameDetector = spectacle.NewGeminiDetector(s.geminiClient, s.log)
		default:
			return fmt.Errorf("unknown FRAME_DETECTOR %q", kind)
		}

		if s.log != nil {
			s.log.Infof("Using %s frame detector", kind)
		}
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) RegisterHandler() {
	if s.frameDetector == nil {
		s.frameDetector = spectacle.NewStaticDetector()
	}

	// Measurement
	var measurementRepo measurementRepository.Repository
	if s.db != nil {
		measurementRepo = measurementRepository.New(s.db, s.log)
	}

	s.measurementService = measurementService.NewMeasurementService(
		s.log,
		measurementRepo,
		s.redisServer,
		s.s3Client,
		s.utils,
		s.visionWebsocket,
		s.frameDetector,
		redis.TTLFromEnv(),
	)
	measurementHandlers := measurementHandler.New(s.log, s.validator, s.middleware, s.measurementService, s.utils)

	s.handlers = append(s.handlers, measurementHandlers)
}

// Warmup runs a blank frame through the vision collaborators once.
func (s *Server) Warmup(ctx context.Context) {
	if s.measurementService == nil {
		return
	}
	s.measurementService.Warmup(ctx)
}

func (s *Server) Run() error {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())

	s.setupHealthCheck()

	for _, h := range s.handlers {
		h.Start(s.engine)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "10000"
	}

	return s.engine.Listen(fmt.Sprintf("0.0.0.0:%s", port))
}

// Shutdown stops accepting requests and releases every client the server
// owns.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.engine.ShutdownWithContext(ctx)

	s.visionWebsocket.CloseConnections()

	if s.geminiClient != nil {
		if cerr := s.geminiClient.Close(); cerr != nil {
			s.log.Warnf("Failed to close Gemini client: %v", cerr)
		}
	}
	if s.redisServer != nil {
		if cerr := s.redisServer.Close(); cerr != nil {
			s.log.Warnf("Failed to close Redis client: %v", cerr)
		}
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			s.log.Warnf("Failed to close database: %v", cerr)
		}
	}

	return err
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"status": "ok",
		})
	})
}
