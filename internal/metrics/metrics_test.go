package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Requests.Add(3)
	m.Rejected.Add(1)
	m.Uploads.Add(2)
	m.ObserveInference(42*time.Millisecond, 5)
	m.ActiveClients.Add(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	for _, line := range []string{
		"detect_requests_total 3",
		"detect_rejected_total 1",
		"detect_uploads_saved_total 2",
		"detect_predictions_total 5",
		"detect_inference_latency_ms 42",
		"detect_ws_clients 1",
		"detect_inference_seconds_count 1",
	} {
		assert.Contains(t, text, line)
	}
}
