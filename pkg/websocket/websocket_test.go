package websocketPkg

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"optifocus/internal/api/measurement"
	"optifocus/internal/entity"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu       sync.Mutex
	received [][]byte
	reply    func(msg []byte) []byte
}

func (f *fakeService) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.received = append(f.received, msg)
			f.mu.Unlock()

			if err := conn.WriteMessage(websocket.TextMessage, f.reply(msg)); err != nil {
				return
			}
		}
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestClient(url string) IWebsocket {
	return NewAIWebSocketClient(logrus.New(),
		WithURL(measurement.PupilDetection, url),
		WithURL(measurement.SpectacleDetection, url),
		WithTimeouts(2*time.Second, time.Second),
	)
}

func TestProcessBGRSendsBase64AndDecodesReply(t *testing.T) {
	svc := &fakeService{reply: func([]byte) []byte {
		return []byte(`{"status":"OK","pd_mm":63.27,"left_center":[100,120],"warnings":[]}`)
	}}
	server := httptest.NewServer(svc.handler(t))
	defer server.Close()

	client := newTestClient(wsURL(server))
	defer client.CloseConnections()

	frame := &entity.Frame{Width: 1, Height: 1, Data: []byte{0, 0, 0}, Encoded: []byte("jpeg-bytes")}
	result, err := client.ProcessBGR(context.Background(), frame)
	require.NoError(t, err)
	require.Equal(t, "OK", result["status"])
	require.Equal(t, 63.27, result["pd_mm"])
	require.Equal(t, []interface{}{float64(100), float64(120)}, result["left_center"])

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.received, 1)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), string(svc.received[0]))
	require.True(t, client.IsConnected(measurement.PupilDetection))
}

func TestProcessFrameEncodesInMemoryFrames(t *testing.T) {
	svc := &fakeService{reply: func([]byte) []byte { return []byte(`{"detected":false}`) }}
	server := httptest.NewServer(svc.handler(t))
	defer server.Close()

	client := newTestClient(wsURL(server))
	defer client.CloseConnections()

	result, err := client.ProcessFrame(context.Background(), entity.NewBlankFrame(320, 240))
	require.NoError(t, err)
	require.Equal(t, false, result["detected"])
	require.True(t, client.IsConnected(measurement.SpectacleDetection))
}

func TestProcessReturnsServiceError(t *testing.T) {
	svc := &fakeService{reply: func([]byte) []byte { return []byte(`{"error":"no face"}`) }}
	server := httptest.NewServer(svc.handler(t))
	defer server.Close()

	client := newTestClient(wsURL(server))
	defer client.CloseConnections()

	_, err := client.ProcessBGR(context.Background(), &entity.Frame{Encoded: []byte("x")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no face")
}

func TestProcessRejectsNonObjectReply(t *testing.T) {
	svc := &fakeService{reply: func([]byte) []byte { return []byte(`[1,2,3]`) }}
	server := httptest.NewServer(svc.handler(t))
	defer server.Close()

	client := newTestClient(wsURL(server))
	defer client.CloseConnections()

	_, err := client.ProcessBGR(context.Background(), &entity.Frame{Encoded: []byte("x")})
	require.Error(t, err)
}

func TestProcessFailsWhenServiceUnreachable(t *testing.T) {
	client := newTestClient("ws://127.0.0.1:1/unreachable")
	defer client.CloseConnections()

	_, err := client.ProcessBGR(context.Background(), &entity.Frame{Encoded: []byte("x")})
	require.Error(t, err)
	require.False(t, client.IsConnected(measurement.PupilDetection))
}

func TestProcessSerializesConcurrentCallers(t *testing.T) {
	svc := &fakeService{reply: func(msg []byte) []byte {
		raw, _ := base64.StdEncoding.DecodeString(string(msg))
		return []byte(`{"echo":"` + string(raw) + `"}`)
	}}
	server := httptest.NewServer(svc.handler(t))
	defer server.Close()

	client := newTestClient(wsURL(server))
	defer client.CloseConnections()
	require.NoError(t, client.Reconnect(measurement.PupilDetection))

	var wg sync.WaitGroup
	for _, word := range []string{"alpha", "bravo", "charlie", "delta"} {
		wg.Add(1)
		go func(word string) {
			defer wg.Done()
			result, err := client.ProcessBGR(context.Background(), &entity.Frame{Encoded: []byte(word)})
			if err != nil {
				t.Errorf("process %s: %v", word, err)
				return
			}
			if result["echo"] != word {
				t.Errorf("expected echo %q, got %v", word, result["echo"])
			}
		}(word)
	}
	wg.Wait()
}

func TestKeepAliveDropsDeadConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	client := NewAIWebSocketClient(logrus.New(),
		WithURL(measurement.PupilDetection, wsURL(server)),
		WithPingInterval(20*time.Millisecond),
	)
	defer client.CloseConnections()

	require.NoError(t, client.Reconnect(measurement.PupilDetection))

	require.Eventually(t, func() bool {
		return !client.IsConnected(measurement.PupilDetection)
	}, 2*time.Second, 10*time.Millisecond)
}
