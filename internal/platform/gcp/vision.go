package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type Vision interface {
	OCRImageBytes(ctx context.Context, img []byte, mimeType string) (*VisionOCRResult, error)
	Close() error
}

type VisionOCRResult struct {
	Provider    string    `json:"provider"`
	MimeType    string    `json:"mime_type,omitempty"`
	PrimaryText string    `json:"primary_text"`
	Confidence  float64   `json:"confidence"`
	Segments    []Segment `json:"segments,omitempty"`
}

type visionService struct {
	log          *logger.Logger
	visionClient *vision.ImageAnnotatorClient
	timeout      time.Duration
}

func NewVision(log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Vision")

	vClient, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	slog.Info("Vision initialized")
	return &visionService{log: slog, visionClient: vClient, timeout: 60 * time.Second}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.visionClient == nil {
		return nil
	}
	return s.visionClient.Close()
}

func (s *visionService) OCRImageBytes(ctx context.Context, img []byte, mimeType string) (*VisionOCRResult, error) {
	if len(img) == 0 {
		return &VisionOCRResult{Provider: "gcp_vision", MimeType: mimeType}, nil
	}

	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: img},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
			},
		}},
	}
	resp, err := s.visionClient.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 {
		return &VisionOCRResult{Provider: "gcp_vision", MimeType: mimeType}, nil
	}
	return buildVisionResult(resp.Responses[0], mimeType)
}

func buildVisionResult(r *visionpb.AnnotateImageResponse, mimeType string) (*VisionOCRResult, error) {
	out := &VisionOCRResult{Provider: "gcp_vision", MimeType: mimeType}
	if r == nil {
		return out, nil
	}
	if r.Error != nil && r.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r.Error.Message)
	}
	fta := r.FullTextAnnotation
	if fta == nil || strings.TrimSpace(fta.Text) == "" {
		return out, nil
	}

	out.PrimaryText = strings.TrimSpace(fta.Text)

	var confSum float64
	var confN int
	for i, pg := range fta.Pages {
		if pg == nil {
			continue
		}
		for _, b := range pg.Blocks {
			if b == nil {
				continue
			}
			confSum += float64(b.Confidence)
			confN++
		}
		out.Segments = append(out.Segments, Segment{
			Text: collapseWhitespace(fta.Text),
			Page: intPtr(i + 1),
			Kind: "ocr_text",
		})
	}
	if confN > 0 {
		out.Confidence = confSum / float64(confN)
	}
	if len(out.Segments) == 0 {
		out.Segments = []Segment{{Text: collapseWhitespace(fta.Text), Page: intPtr(1), Kind: "ocr_text"}}
	}
	return out, nil
}
