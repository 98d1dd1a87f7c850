// Package imaging validates and decodes uploaded images and draws
// predictions on them.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime"
	"strings"

	// registered decoders
	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mpromonet/gin-detect/internal/detect"
)

var ErrNotImage = errors.New("file must be an image")

// Sniff returns the media type of an upload. The declared multipart type is
// trusted unless it is missing or generic, in which case the bytes decide.
func Sniff(declared string, data []byte) (string, error) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || mediaType == "application/octet-stream" {
		mediaType = mimetype.Detect(data).String()
		mediaType, _, _ = mime.ParseMediaType(mediaType)
	}
	if top, _, _ := strings.Cut(mediaType, "/"); top != "image" {
		return mediaType, fmt.Errorf("%w: got %q", ErrNotImage, mediaType)
	}
	return mediaType, nil
}

// Decode parses any registered format into an RGBA bitmap, dropping
// palette and color model differences before inference.
func Decode(data []byte) (*image.RGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	return toRGBA(img), format, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

var boxColor = color.RGBA{0, 255, 0, 255}

const boxThickness = 3

// Annotate returns a copy of img with an outline per prediction. Outlines
// are drawn inside the box, x2 and y2 included.
func Annotate(img image.Image, predictions []detect.Prediction) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(out, image.Point{}, img, b, draw.Src, nil)

	fill := image.NewUniform(boxColor)
	for _, p := range predictions {
		r := image.Rect(int(p.XYXY[0]), int(p.XYXY[1]), int(p.XYXY[2])+1, int(p.XYXY[3])+1)
		edges := [...]image.Rectangle{
			{r.Min, image.Pt(r.Max.X, r.Min.Y+boxThickness)},
			{image.Pt(r.Min.X, r.Max.Y-boxThickness), r.Max},
			{r.Min, image.Pt(r.Min.X+boxThickness, r.Max.Y)},
			{image.Pt(r.Max.X-boxThickness, r.Min.Y), r.Max},
		}
		for _, e := range edges {
			draw.Draw(out, e.Intersect(r), fill, image.Point{}, draw.Src)
		}
	}
	return out
}

func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
