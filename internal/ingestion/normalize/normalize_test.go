package normalize

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
)

func writeJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(100 + (x*50)/w)
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: 120, A: 255})
		}
	}
	p := filepath.Join(dir, "original.jpg")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
	return p
}

func TestImageNormalizeDownscalesToGrayPNG(t *testing.T) {
	dir := t.TempDir()
	in := writeJPEG(t, dir, 400, 200)
	before, err := os.ReadFile(in)
	require.NoError(t, err)

	n := NewImage(nil, ImageConfig{MaxDimension: 100, Grayscale: true, ContrastStretch: true})
	out, err := n.Normalize(context.Background(), in, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "normalized.png"), out)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, format, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
	_, isGray := img.(*image.Gray)
	assert.True(t, isGray, "expected grayscale output, got %T", img)

	after, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, before, after, "input must not be modified")
}

func TestImageNormalizeKeepsSmallColorImages(t *testing.T) {
	dir := t.TempDir()
	in := writeJPEG(t, dir, 40, 30)

	n := NewImage(nil, ImageConfig{MaxDimension: 100})
	out, err := n.Normalize(context.Background(), in, dir)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestImageNormalizePassesThroughNonImages(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "original.pdf")
	require.NoError(t, os.WriteFile(in, []byte("%PDF-1.7 not an image"), 0o600))

	out, err := NewImage(nil, ImageConfig{Grayscale: true}).Normalize(context.Background(), in, dir)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestImageNormalizeRejectsOversizedImages(t *testing.T) {
	dir := t.TempDir()
	in := writeJPEG(t, dir, 400, 200)

	n := NewImage(nil, ImageConfig{MaxDimension: 100, Grayscale: true, MaxPixels: 400*200 - 1})
	out, err := n.Normalize(context.Background(), in, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
	assert.Empty(t, out)

	_, statErr := os.Stat(filepath.Join(dir, "normalized.png"))
	assert.True(t, os.IsNotExist(statErr), "no output may be written for a rejected image")

	n = NewImage(nil, ImageConfig{MaxDimension: 100, MaxPixels: 400 * 200})
	_, err = n.Normalize(context.Background(), in, dir)
	require.NoError(t, err)
}

func TestNewImageDefaultsPixelLimit(t *testing.T) {
	assert.Equal(t, DefaultMaxPixels, NewImage(nil, ImageConfig{}).cfg.MaxPixels)
	assert.Equal(t, int64(10), NewImage(nil, ImageConfig{MaxPixels: 10}).cfg.MaxPixels)
}

func TestStretchGray(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 1))
	g.Pix = []uint8{100, 150, 200}
	stretchGray(g)
	assert.Equal(t, []uint8{0, 128, 255}, g.Pix)

	flat := image.NewGray(image.Rect(0, 0, 2, 1))
	flat.Pix = []uint8{7, 7}
	stretchGray(flat)
	assert.Equal(t, []uint8{7, 7}, flat.Pix)
}

func TestPassthrough(t *testing.T) {
	out, err := Passthrough{}.Normalize(context.Background(), "/tmp/x.txt", "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.txt", out)
}
