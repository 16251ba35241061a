package websocketPkg

import (
	"context"
	"encoding/base64"
	"fmt"
	"optifocus/internal/api/measurement"
	"optifocus/internal/entity"
	"optifocus/pkg/utils"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type IWebsocket interface {
	ProcessBGR(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error)
	ProcessFrame(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error)
	IsConnected(detectionType measurement.DetectionType) bool
	Reconnect(detectionType measurement.DetectionType) error
	CloseConnections()
}

// conn pairs a connection with a lock that covers one request/response
// exchange, so concurrent callers never read each other's replies.
type conn struct {
	ws       *websocket.Conn
	exchange sync.Mutex
}

type webSocketClient struct {
	log          *logrus.Logger
	urls         map[measurement.DetectionType]string
	conns        map[measurement.DetectionType]*conn
	mu           sync.Mutex
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

type Option func(*webSocketClient)

func WithURL(detectionType measurement.DetectionType, url string) Option {
	return func(c *webSocketClient) {
		c.urls[detectionType] = url
	}
}

func WithTimeouts(read, write time.Duration) Option {
	return func(c *webSocketClient) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

func WithPingInterval(interval time.Duration) Option {
	return func(c *webSocketClient) {
		c.pingInterval = interval
	}
}

// NewAIWebSocketClient returns a client for the Python vision services and
// starts connecting in the background. Failed connections are retried on
// demand by the next request.
func NewAIWebSocketClient(log *logrus.Logger, opts ...Option) IWebsocket {
	client := &webSocketClient{
		log: log,
		urls: map[measurement.DetectionType]string{
			measurement.PupilDetection:     getEnv("AI_PUPIL_DETECTION_URL", "ws://localhost:8000/api/v1/pupil/ws"),
			measurement.SpectacleDetection: getEnv("AI_SPECTACLE_DETECTION_URL", "ws://localhost:8000/api/v1/spectacle/ws"),
		},
		conns:        make(map[measurement.DetectionType]*conn),
		pingInterval: 30 * time.Second,
		readTimeout:  20 * time.Second,
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// ConnectInBackground dials the given services once, logging failures.
func ConnectInBackground(c IWebsocket, log *logrus.Logger, types ...measurement.DetectionType) {
	for _, detectionType := range types {
		go func(t measurement.DetectionType) {
			if err := c.Reconnect(t); err != nil {
				log.Warnf("Initial connection to %s failed: %v. Will retry on demand.", getDetectionTypeName(t), err)
				return
			}
			log.Infof("Successfully connected to %s service", getDetectionTypeName(t))
		}(detectionType)
	}
}

func (c *webSocketClient) IsConnected(detectionType measurement.DetectionType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conns[detectionType] != nil
}

func (c *webSocketClient) Reconnect(detectionType measurement.DetectionType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.conns[detectionType]; existing != nil {
		existing.ws.Close()
		delete(c.conns, detectionType)
	}

	url := c.urls[detectionType]
	if url == "" {
		return fmt.Errorf("URL for %s not configured", getDetectionTypeName(detectionType))
	}

	c.log.Debugf("Connecting to %s at %s", getDetectionTypeName(detectionType), url)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	ws.SetPingHandler(func(appData string) error {
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
		if err != nil {
			c.log.Warnf("Error sending pong: %v", err)
		}
		return nil
	})

	cn := &conn{ws: ws}
	c.conns[detectionType] = cn

	go c.keepAlive(detectionType, cn)

	return nil
}

func (c *webSocketClient) CloseConnections() {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()

	for t, cn := range c.conns {
		cn.ws.Close()
		delete(c.conns, t)
	}
}

func (c *webSocketClient) keepAlive(detectionType measurement.DetectionType, cn *conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.conns[detectionType] != cn {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		cn.exchange.Lock()
		err := cn.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout))
		cn.exchange.Unlock()

		if err != nil {
			c.log.Warnf("Ping failed for %s, marking connection as dead: %v", getDetectionTypeName(detectionType), err)
			c.drop(detectionType, cn)
			return
		}
	}
}

func (c *webSocketClient) drop(detectionType measurement.DetectionType, cn *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conns[detectionType] == cn {
		delete(c.conns, detectionType)
	}
	cn.ws.Close()
}

func (c *webSocketClient) getConnection(detectionType measurement.DetectionType) (*conn, error) {
	c.mu.Lock()
	cn := c.conns[detectionType]
	c.mu.Unlock()

	if cn != nil {
		return cn, nil
	}

	if err := c.Reconnect(detectionType); err != nil {
		return nil, fmt.Errorf("cannot connect to %s service: %w", getDetectionTypeName(detectionType), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cn = c.conns[detectionType]
	if cn == nil {
		return nil, fmt.Errorf("not connected to %s service", getDetectionTypeName(detectionType))
	}
	return cn, nil
}

// ProcessBGR runs the pupil backend on frame.
func (c *webSocketClient) ProcessBGR(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error) {
	return c.process(ctx, measurement.PupilDetection, frame)
}

// ProcessFrame runs the spectacle frame detector on frame.
func (c *webSocketClient) ProcessFrame(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error) {
	return c.process(ctx, measurement.SpectacleDetection, frame)
}

func (c *webSocketClient) process(ctx context.Context, detectionType measurement.DetectionType, frame *entity.Frame) (entity.BackendResult, error) {
	name := getDetectionTypeName(detectionType)

	encoded, err := utils.EncodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("error encoding %s frame: %w", name, err)
	}
	payload := base64.StdEncoding.EncodeToString(encoded)

	cn, err := c.getConnection(detectionType)
	if err != nil {
		return nil, err
	}

	cn.exchange.Lock()
	defer cn.exchange.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cn.ws.SetWriteDeadline(c.deadline(ctx, c.writeTimeout))

	c.log.Debugf("Sending %s frame of size: %d bytes", name, len(payload))
	if err := cn.ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		c.drop(detectionType, cn)
		return nil, fmt.Errorf("error sending %s frame: %w", name, err)
	}

	cn.ws.SetReadDeadline(c.deadline(ctx, c.readTimeout))

	_, message, err := cn.ws.ReadMessage()
	if err != nil {
		c.drop(detectionType, cn)
		return nil, fmt.Errorf("error reading %s message: %w", name, err)
	}

	cn.ws.SetReadDeadline(time.Time{})
	cn.ws.SetWriteDeadline(time.Time{})

	var result entity.BackendResult
	if err := json.Unmarshal(message, &result); err != nil {
		return nil, fmt.Errorf("error unmarshaling %s response: %w", name, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%s service returned an empty response", name)
	}

	if msg, ok := result["error"].(string); ok && msg != "" && len(result) == 1 {
		return nil, fmt.Errorf("%s service error: %s", name, msg)
	}

	c.log.WithFields(logrus.Fields{
		"service": name,
		"keys":    len(result),
	}).Debug("Received response from AI service")

	return result, nil
}

// deadline is the earlier of now+timeout and the context deadline.
func (c *webSocketClient) deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDetectionTypeName(detectionType measurement.DetectionType) string {
	switch detectionType {
	case measurement.PupilDetection:
		return "Pupil Detection"
	case measurement.SpectacleDetection:
		return "Spectacle Detection"
	default:
		return "Unknown Detection"
	}
}
