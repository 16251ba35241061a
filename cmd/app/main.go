package main

import (
	"context"
	"optifocus/internal/api/measurement"
	"optifocus/internal/config"
	"optifocus/pkg/log"
	"optifocus/pkg/redis"
	websocketPkg "optifocus/pkg/websocket"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	logger := log.NewLogger()
	if err := godotenv.Load(); err != nil {
		logger.Infof("No .env file loaded: %v", err)
	}

	fiberApp := config.NewFiber(logger)
	validator := config.NewValidator()
	redisServer := redis.New()
	websocket := websocketPkg.NewAIWebSocketClient(logger)

	services := []measurement.DetectionType{measurement.PupilDetection}
	if strings.EqualFold(os.Getenv("FRAME_DETECTOR"), "remote") {
		services = append(services, measurement.SpectacleDetection)
	}
	websocketPkg.ConnectInBackground(websocket, logger, services...)

	server, err := config.NewServer(
		config.WithFiber(fiberApp),
		config.WithLogger(logger),
		config.WithValidator(validator),
		config.WithDatabase(),
		config.WithRedisServer(redisServer),
		config.WithWebSocket(websocket),
		config.WithMiddleware(),
		config.WithS3Client(),
		config.WithFrameDetector(),
		config.WithUtils(),
	)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	warmupCtx, cancelWarmup := context.WithTimeout(context.Background(), 30*time.Second)
	server.Warmup(warmupCtx)
	cancelWarmup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.Info("Server started successfully")

	<-sigChan
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
}
