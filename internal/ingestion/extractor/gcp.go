package extractor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/gcp"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type ImageOCR interface {
	OCRImageBytes(ctx context.Context, img []byte, mimeType string) (*gcp.VisionOCRResult, error)
}

type DocumentOCR interface {
	ProcessBytes(ctx context.Context, req gcp.DocAIProcessBytesRequest) (*gcp.DocAIResult, error)
}

// GCP routes images through Cloud Vision and PDFs/TIFFs through Document AI.
// Text files, and PDFs when no Document AI processor is configured, fall back
// to the native extractor.
type GCP struct {
	log      *logger.Logger
	vision   ImageOCR
	docai    DocumentOCR
	docCfg   gcp.DocAIConfig
	native   *Native
	maxBytes int64
}

func NewGCP(log *logger.Logger, vision ImageOCR, docai DocumentOCR, docCfg gcp.DocAIConfig, native *Native) *GCP {
	if log == nil {
		log = logger.NewNop()
	}
	if native == nil {
		native = NewNative(log, 0)
	}
	return &GCP{
		log:      log.With("extractor", "gcp"),
		vision:   vision,
		docai:    docai,
		docCfg:   docCfg,
		native:   native,
		maxBytes: 20 * 1024 * 1024,
	}
}

func (g *GCP) Extract(ctx context.Context, path string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	mime := baseMIME(mt)

	switch {
	case strings.HasPrefix(mime, "image/") && mime != "image/tiff":
		if g.vision == nil {
			return "", nil
		}
		data, err := g.read(path)
		if err != nil {
			return "", err
		}
		res, err := g.vision.OCRImageBytes(ctx, data, mime)
		if err != nil {
			return "", fmt.Errorf("vision ocr: %w", err)
		}
		if res == nil {
			return "", nil
		}
		g.log.Debug("Vision OCR complete", "mime", mime, "chars", len(res.PrimaryText), "confidence", res.Confidence)
		return tidy(res.PrimaryText), nil

	case mime == "application/pdf" || mime == "image/tiff":
		if g.docai == nil || !g.docCfg.Configured() {
			return g.native.Extract(ctx, path)
		}
		data, err := g.read(path)
		if err != nil {
			return "", err
		}
		res, err := g.docai.ProcessBytes(ctx, gcp.DocAIProcessBytesRequest{
			DocAIConfig: g.docCfg,
			MimeType:    mime,
			Data:        data,
		})
		if err != nil {
			return "", fmt.Errorf("documentai: %w", err)
		}
		return docAIText(res), nil

	default:
		return g.native.Extract(ctx, path)
	}
}

func (g *GCP) read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if info.Size() > g.maxBytes {
		return nil, fmt.Errorf("file too large for online OCR: %d bytes (max %d)", info.Size(), g.maxBytes)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return b, nil
}

func docAIText(res *gcp.DocAIResult) string {
	if res == nil {
		return ""
	}
	if t := tidy(res.PrimaryText); t != "" {
		return t
	}
	var b strings.Builder
	for _, seg := range append(append([]gcp.Segment{}, res.Segments...), res.Tables...) {
		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
	}
	return b.String()
}
