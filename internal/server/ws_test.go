package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpromonet/gin-detect/internal/detect"
)

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestWebsocketStream(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialWS(t, env, "?conf_threshold=0.4")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pngBytes(t, 100, 50)))
	var got []remoteResult
	require.NoError(t, conn.ReadJSON(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "person", got[0].Label)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-6)
	assert.InDeltaSlice(t, []float32{0.4, 0.1, 0.8, 0.3}, got[0].Box, 1e-6)
	assert.Equal(t, "2", got[1].Label)
	assert.Equal(t, detect.Options{Confidence: 0.4, IoU: 0.45}, env.detector.lastOpts())

	// text frames are answered with an error and the stream continues
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	var wsErr struct {
		Error string `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.Equal(t, "expected a binary image frame", wsErr.Error)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")))
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.True(t, strings.HasPrefix(wsErr.Error, "Could not open image"), wsErr.Error)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pngBytes(t, 10, 10)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Len(t, got, 2)
	assert.EqualValues(t, 3, env.metrics.Requests.Load())
	assert.EqualValues(t, 1, env.metrics.Rejected.Load())
}

func TestWebsocketBadThreshold(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/ws?iou_threshold=2", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "iou_threshold must be between 0 and 1, got 2", decodeDetail(t, rec))
}

func TestWebsocketOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowOrigins = []string{"http://allowed.example"}
	env := newTestEnv(t, cfg)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestToRemote(t *testing.T) {
	got := toRemote([]detect.Prediction{
		{XYXY: [4]float64{20, 10, 60, 30}, Confidence: ptr(0.75), Class: ptr(3), Name: "car"},
		{XYXY: [4]float64{0, 0, 100, 50}, Class: ptr(7)},
		{XYXY: [4]float64{0, 0, 10, 10}},
	}, 100, 50)

	require.Len(t, got, 3)
	assert.Equal(t, "car", got[0].Label)
	assert.InDelta(t, 0.75, got[0].Confidence, 1e-6)
	assert.InDeltaSlice(t, []float32{0.2, 0.2, 0.6, 0.6}, got[0].Box, 1e-6)
	assert.Equal(t, "7", got[1].Label)
	assert.Zero(t, got[1].Confidence)
	assert.Equal(t, []float32{0, 0, 1, 1}, got[1].Box)
	assert.Empty(t, got[2].Label)

	assert.Empty(t, toRemote(nil, 10, 10))
}
