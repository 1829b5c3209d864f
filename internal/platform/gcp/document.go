package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/envutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type Document interface {
	ProcessBytes(ctx context.Context, req DocAIProcessBytesRequest) (*DocAIResult, error)
	Close() error
}

// DocAIConfig names the processor used for raw document OCR.
type DocAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
}

func DocAIConfigFromEnv() DocAIConfig {
	return DocAIConfig{
		ProjectID:        envutil.String("DOCUMENTAI_PROJECT_ID", envutil.String("GCP_PROJECT_ID", "")),
		Location:         envutil.String("DOCUMENTAI_LOCATION", "us"),
		ProcessorID:      envutil.String("DOCUMENTAI_PROCESSOR_ID", ""),
		ProcessorVersion: envutil.String("DOCUMENTAI_PROCESSOR_VERSION", ""),
	}
}

func (c DocAIConfig) Configured() bool {
	return processorName(c.ProjectID, c.Location, c.ProcessorID, c.ProcessorVersion) != ""
}

type DocAIProcessBytesRequest struct {
	DocAIConfig
	MimeType  string
	Data      []byte
	FieldMask []string
}

type DocAIResult struct {
	Provider    string    `json:"provider"`
	Processor   string    `json:"processor"`
	MimeType    string    `json:"mime_type"`
	PrimaryText string    `json:"primary_text"`
	Segments    []Segment `json:"segments,omitempty"`
	Tables      []Segment `json:"tables,omitempty"`
}

type documentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
}

func NewDocument(log *logger.Logger, location string) (Document, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Document")

	location = strings.TrimSpace(location)
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog.Info("Document AI initialized", "endpoint", endpoint)
	return &documentService{log: slog, docClient: c}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ProcessBytes(ctx context.Context, req DocAIProcessBytesRequest) (*DocAIResult, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if len(req.Data) == 0 {
		return &DocAIResult{Provider: "gcp_documentai", MimeType: req.MimeType}, nil
	}
	if req.MimeType == "" {
		req.MimeType = "application/pdf"
	}

	name := processorName(req.ProjectID, req.Location, req.ProcessorID, req.ProcessorVersion)
	if name == "" {
		return nil, fmt.Errorf("documentai processor not configured")
	}

	r := &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  req.Data,
				MimeType: req.MimeType,
			},
		},
	}
	if len(req.FieldMask) > 0 {
		r.FieldMask = &fieldmaskpb.FieldMask{Paths: req.FieldMask}
	}

	resp, err := s.docClient.ProcessDocument(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil {
		return buildDocAIResult(nil, name, req.MimeType), nil
	}
	return buildDocAIResult(resp.Document, name, req.MimeType), nil
}

// buildDocAIResult flattens a processed document into per-page text segments
// and one markdown segment per table. Pages without paragraphs fall back to
// their lines, then blocks.
func buildDocAIResult(doc *documentaipb.Document, processor string, mimeType string) *DocAIResult {
	out := &DocAIResult{
		Provider:  "gcp_documentai",
		Processor: processor,
		MimeType:  mimeType,
	}
	if doc == nil {
		return out
	}
	out.PrimaryText = strings.TrimSpace(doc.Text)

	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		page := intPtr(int(p.PageNumber))
		if text := pageText(doc.Text, p); text != "" {
			out.Segments = append(out.Segments, Segment{Text: text, Page: page, Kind: "docai_page_text"})
		}
		for _, t := range p.Tables {
			if md := renderMarkdownTable(tableRows(doc.Text, t)); md != "" {
				out.Tables = append(out.Tables, Segment{Text: md, Page: page, Kind: "table_text"})
			}
		}
	}

	if len(out.Segments) == 0 && out.PrimaryText != "" {
		out.Segments = append(out.Segments, Segment{Text: out.PrimaryText, Kind: "docai_primary_text"})
	}
	return out
}

func pageText(full string, p *documentaipb.Document_Page) string {
	var layouts []*documentaipb.Document_Page_Layout
	for _, para := range p.Paragraphs {
		if para != nil {
			layouts = append(layouts, para.Layout)
		}
	}
	if len(layouts) == 0 {
		for _, l := range p.Lines {
			if l != nil {
				layouts = append(layouts, l.Layout)
			}
		}
	}
	if len(layouts) == 0 {
		for _, b := range p.Blocks {
			if b != nil {
				layouts = append(layouts, b.Layout)
			}
		}
	}

	parts := make([]string, 0, len(layouts))
	for _, l := range layouts {
		if l == nil {
			continue
		}
		if t := strings.TrimSpace(textFromAnchor(full, l.TextAnchor)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// textFromAnchor concatenates the anchored spans of full, clamping indices
// that fall outside it.
func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := min(max(int(seg.StartIndex), 0), len(full))
		end := min(int(seg.EndIndex), len(full))
		if start < end {
			b.WriteString(full[start:end])
		}
	}
	return b.String()
}

// tableRows returns the header row first. Tables without a header row use
// their first body row as one.
func tableRows(full string, t *documentaipb.Document_Page_Table) [][]string {
	if t == nil {
		return nil
	}
	var rows [][]string
	for _, r := range t.HeaderRows {
		if r != nil {
			rows = append(rows, rowCells(full, r))
			break
		}
	}
	for _, r := range t.BodyRows {
		if r != nil {
			rows = append(rows, rowCells(full, r))
		}
	}
	return rows
}

func rowCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	cells := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		if c != nil && c.Layout != nil {
			cells[i] = strings.TrimSpace(textFromAnchor(full, c.Layout.TextAnchor))
		}
	}
	return cells
}

// renderMarkdownTable pads ragged rows to the widest one and escapes pipes.
func renderMarkdownTable(rows [][]string) string {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return ""
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	var b strings.Builder
	line := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "|", "\\|")
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}
	line(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range rows[1:] {
		line(r)
	}
	return b.String()
}

func processorName(project, location, processorID, version string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	version = strings.TrimSpace(version)

	if project == "" || location == "" || processorID == "" {
		return ""
	}
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if version != "" {
		return base + "/processorVersions/" + version
	}
	return base
}
