package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpromonet/gin-detect/internal/detect"
)

var uploadedSrc = regexp.MustCompile(`src="/uploads/([^"]+)"`)

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	html := rec.Body.String()
	for _, needle := range []string{
		"<title>Object Detection</title>",
		`action="/upload"`,
		`name="file"`,
		`/static/style.css`,
		`value="0.25"`,
	} {
		assert.Contains(t, html, needle)
	}
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
	assert.Contains(t, rec.Body.String(), ":root")
}

func TestUploadRendersResult(t *testing.T) {
	env := newTestEnv(t, nil)
	data := pngBytes(t, 40, 50)
	rec := env.do(uploadRequest(t, "/upload", "street.png", "image/png", data, map[string]string{"iou_threshold": "0.6"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	html := rec.Body.String()
	assert.Contains(t, html, "street.png")
	assert.Contains(t, html, "40&times;50")
	assert.Contains(t, html, "<td>10.0, 20.0, 30.0, 40.0</td>")
	assert.Contains(t, html, "<td>0.900</td>")
	assert.Contains(t, html, "<td>person</td>")
	assert.Equal(t, detect.Options{Confidence: 0.25, IoU: 0.6}, env.detector.lastOpts())

	matches := uploadedSrc.FindAllStringSubmatch(html, -1)
	require.Len(t, matches, 2)
	original, annotated := matches[0][1], matches[1][1]
	assert.True(t, strings.HasSuffix(original, ".png"))
	assert.True(t, strings.HasSuffix(annotated, "_annotated.jpg"))

	saved, err := os.ReadFile(env.store.Path(original))
	require.NoError(t, err)
	assert.Equal(t, data, saved)
	_, err = os.Stat(env.store.Path(annotated))
	require.NoError(t, err)
	assert.EqualValues(t, 1, env.metrics.Uploads.Load())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/uploads/"+original, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())
}

func TestUploadNoDetections(t *testing.T) {
	env := newTestEnv(t, nil)
	env.detector.predictions = []detect.Prediction{}
	rec := env.do(uploadRequest(t, "/upload", "empty.jpg", "image/png", pngBytes(t, 4, 4), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No objects detected.")
}

func TestUploadErrorRendersIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(uploadRequest(t, "/upload", "notes.txt", "text/plain", []byte("hello"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `<p class="error">File must be an image</p>`)

	entries, err := os.ReadDir(env.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads are not saved")
}

func TestUploadsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/uploads/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRows(t *testing.T) {
	got := rows([]detect.Prediction{{XYXY: [4]float64{1, 2, 3, 4}}})
	require.Len(t, got, 1)
	assert.Equal(t, row{Index: 1, Box: "1.0, 2.0, 3.0, 4.0", Confidence: "-", Class: "-"}, got[0])
}
