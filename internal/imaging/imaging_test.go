package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpromonet/gin-detect/internal/detect"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	data := pngBytes(t, 2, 2)

	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
		wantErr  bool
	}{
		{"declared image", "image/jpeg", []byte("not really"), "image/jpeg", false},
		{"declared with params", "image/png; q=1", nil, "image/png", false},
		{"missing type sniffs", "", data, "image/png", false},
		{"octet stream sniffs", "application/octet-stream", data, "image/png", false},
		{"declared text", "text/plain", data, "text/plain", true},
		{"sniffed text", "", []byte("hello world"), "text/plain", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sniff(tt.declared, tt.data)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotImage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	img, format, err := Decode(pngBytes(t, 5, 3))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 5, 3), img.Bounds())
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 10, A: 255}, img.RGBAAt(1, 1))

	_, _, err = Decode([]byte("garbage"))
	assert.Error(t, err)
}

func TestAnnotate(t *testing.T) {
	src, _, err := Decode(pngBytes(t, 20, 20))
	require.NoError(t, err)

	out := Annotate(src, []detect.Prediction{{XYXY: [4]float64{2, 2, 15, 15}}})
	assert.Equal(t, boxColor, out.RGBAAt(2, 2))
	assert.Equal(t, boxColor, out.RGBAAt(15, 10))
	assert.Equal(t, boxColor, out.RGBAAt(13, 15))
	assert.Equal(t, boxColor, out.RGBAAt(4, 4))
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 10, A: 255}, out.RGBAAt(5, 5))
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 10, A: 255}, out.RGBAAt(16, 16), "outside the box")
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 10, A: 255}, out.RGBAAt(8, 8))
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 10, A: 255}, src.RGBAAt(2, 2), "source untouched")

	edge := Annotate(src, []detect.Prediction{{XYXY: [4]float64{-5, 10, 30, 25}}})
	assert.Equal(t, boxColor, edge.RGBAAt(0, 12), "clipped to the image")

	jpg, err := EncodeJPEG(out)
	require.NoError(t, err)
	mediaType, err := Sniff("", jpg)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mediaType)
}
