package normalize

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

// DefaultMaxPixels caps the decoded size of an image (40 megapixels).
const DefaultMaxPixels int64 = 40_000_000

// Passthrough hands the input to the next stage unchanged.
type Passthrough struct{}

func (Passthrough) Normalize(ctx context.Context, inputPath string, workDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return inputPath, nil
}

type ImageConfig struct {
	// MaxDimension bounds the longer side in pixels; 0 disables downscaling.
	MaxDimension    int
	Grayscale       bool
	ContrastStretch bool
	// MaxPixels rejects images whose width*height exceeds it before any pixel
	// data is decoded; 0 means DefaultMaxPixels.
	MaxPixels int64
}

// Image prepares raster images for OCR: optional grayscale conversion,
// a linear contrast stretch and downscaling, written as PNG. Inputs that are
// not a decodable image pass through untouched.
type Image struct {
	log *logger.Logger
	cfg ImageConfig
}

func NewImage(log *logger.Logger, cfg ImageConfig) *Image {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	return &Image{log: log.With("service", "ImageNormalizer"), cfg: cfg}
}

func (n *Image) Normalize(ctx context.Context, inputPath string, workDir string) (string, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	hdr, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			n.log.Debug("input is not a raster image; passing through", "path", filepath.Base(inputPath))
			return inputPath, nil
		}
		return "", fmt.Errorf("decode image header: %w", err)
	}
	if pixels := int64(hdr.Width) * int64(hdr.Height); pixels > n.cfg.MaxPixels {
		n.log.Warn("image exceeds pixel limit", "width", hdr.Width, "height", hdr.Height, "max_pixels", n.cfg.MaxPixels)
		return "", fmt.Errorf("%w: image is %dx%d, limit is %d pixels", perrors.ErrInvalidInput, hdr.Width, hdr.Height, n.cfg.MaxPixels)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind input: %w", err)
	}

	img, format, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out := n.process(img)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(workDir, "normalized.png")
	if err := writePNG(dst, out); err != nil {
		return "", fmt.Errorf("encode normalized image: %w", err)
	}
	b := out.Bounds()
	n.log.Debug("image normalized", "format", format, "width", b.Dx(), "height", b.Dy())
	return dst, nil
}

func (n *Image) process(src image.Image) image.Image {
	var img draw.Image
	if n.cfg.Grayscale {
		img = toGray(src)
		if n.cfg.ContrastStretch {
			stretchGray(img.(*image.Gray))
		}
	} else {
		b := src.Bounds()
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
		img = rgba
	}
	return downscale(img, n.cfg.MaxDimension)
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return gray
}

// stretchGray remaps luminance so the darkest pixel becomes 0 and the
// brightest 255. Flat images are left alone.
func stretchGray(g *image.Gray) {
	lo, hi := uint8(255), uint8(0)
	for _, p := range g.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi <= lo || (lo == 0 && hi == 255) {
		return
	}
	span := float64(hi - lo)
	for i, p := range g.Pix {
		g.Pix[i] = uint8((float64(p-lo)*255)/span + 0.5)
	}
}

func downscale(img draw.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	nw, nh := maxDim, maxDim
	if w >= h {
		nh = max(1, h*maxDim/w)
	} else {
		nw = max(1, w*maxDim/h)
	}
	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(image.Rect(0, 0, nw, nh))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, nw, nh))
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := png.Encode(w, img); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
