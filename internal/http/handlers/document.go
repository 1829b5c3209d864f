package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/paperbridge-backend/internal/domain/documents"
	"github.com/yungbote/paperbridge-backend/internal/http/response"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
	"github.com/yungbote/paperbridge-backend/internal/services"
)

const DefaultMaxUploadBytes int64 = 32 << 20

type DocumentHandler struct {
	log        *logger.Logger
	documents  services.DocumentService
	processing services.ProcessingService
	maxUpload  int64
}

func NewDocumentHandler(log *logger.Logger, documents services.DocumentService, processing services.ProcessingService, maxUpload int64) *DocumentHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &DocumentHandler{
		log:        log.With("handler", "DocumentHandler"),
		documents:  documents,
		processing: processing,
		maxUpload:  maxUpload,
	}
}

type documentJSON struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	FilePath  string    `json:"file_path"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDocumentJSON(d *types.Document) documentJSON {
	return documentJSON{
		ID:        d.ID,
		Title:     d.Title,
		FilePath:  d.Locator,
		Content:   d.Content,
		Tags:      d.TagNames(),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func toDocumentsJSON(docs []*types.Document) []documentJSON {
	out := make([]documentJSON, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentJSON(d))
	}
	return out
}

type processingJSON struct {
	Status  string `json:"status"`
	Version int    `json:"version,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GET /api/documents
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context())
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"documents": toDocumentsJSON(docs)})
}

// POST /api/documents
func (h *DocumentHandler) Upload(c *gin.Context) {
	data, filename, err := h.readUpload(c)
	if err != nil {
		h.respondUploadErr(c, err)
		return
	}

	res, err := h.documents.Upload(c.Request.Context(), services.UploadInput{
		Filename:  filename,
		Title:     c.PostForm("title"),
		Subfolder: c.PostForm("subfolder"),
		Tags:      formTags(c),
		Data:      data,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}

	proc := processingJSON{Status: "skipped"}
	switch {
	case !res.Processed:
	case res.ProcessingErr != nil:
		proc = processingJSON{Status: "failed", Stage: response.StageOf(res.ProcessingErr), Error: res.ProcessingErr.Error()}
	case res.Outcome != nil && res.Outcome.Version != nil:
		proc = processingJSON{Status: "complete", Version: res.Outcome.Version.VersionNumber}
	}
	response.RespondCreated(c, gin.H{"document": toDocumentJSON(res.Document), "processing": proc})
}

// GET /api/documents/search?tag=&match=exact|contains
func (h *DocumentHandler) Search(c *gin.Context) {
	match := strings.ToLower(strings.TrimSpace(c.DefaultQuery("match", "exact")))
	if match != "exact" && match != "contains" {
		response.RespondError(c, http.StatusBadRequest, "invalid_match", fmt.Errorf("match must be exact or contains"))
		return
	}
	docs, err := h.documents.SearchByTag(c.Request.Context(), c.Query("tag"), match == "contains")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"documents": toDocumentsJSON(docs)})
}

// GET /api/documents/folders
func (h *DocumentHandler) Folders(c *gin.Context) {
	folders, err := h.documents.Folders(c.Request.Context())
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"folders": folders})
}

// GET /api/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := parseDocumentID(c)
	if !ok {
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"document": toDocumentJSON(doc)})
}

type updateDocumentRequest struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	FilePath *string   `json:"file_path"`
	Tags     *[]string `json:"tags"`
}

// PUT /api/documents/:id
func (h *DocumentHandler) Update(c *gin.Context) {
	id, ok := parseDocumentID(c)
	if !ok {
		return
	}
	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	upd := types.DocumentUpdate{Title: req.Title, Content: req.Content, Locator: req.FilePath, Tags: req.Tags}
	if upd.Empty() {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", fmt.Errorf("no fields to update"))
		return
	}
	doc, err := h.documents.Update(c.Request.Context(), id, upd)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"document": toDocumentJSON(doc)})
}

// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := parseDocumentID(c)
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), id); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/documents/:id/file
func (h *DocumentHandler) File(c *gin.Context) {
	id, ok := parseDocumentID(c)
	if !ok {
		return
	}
	f, err := h.documents.OpenFile(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	defer f.File.Close()

	c.Header("Content-Type", f.ContentType)
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": f.Filename}))
	c.Header("X-Content-Type-Options", "nosniff")
	info, err := f.File.Stat()
	modTime := time.Time{}
	if err == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(c.Writer, c.Request, f.Filename, modTime, f.File)
}

// GET /api/documents/:id/history
func (h *DocumentHandler) History(c *gin.Context) {
	id, ok := parseDocumentID(c)
	if !ok {
		return
	}
	versions, err := h.documents.History(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"versions": versions})
}

type processRequest struct {
	ChangeDescription string `json:"change_description"`
}

// POST /api/documents/:id/process
func (h *DocumentHandler) Process(c *gin.Context) {
	id, ok := parseDocumentID(c)
	if !ok {
		return
	}
	var req processRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	out, err := h.processing.Process(c.Request.Context(), id, req.ChangeDescription)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"document": toDocumentJSON(out.Document), "version": out.Version})
}

// POST /api/documents/:id/versions
func (h *DocumentHandler) AddVersion(c *gin.Context) {
	id, ok := parseDocumentID(c)
	if !ok {
		return
	}
	data, filename, err := h.readUpload(c)
	if err != nil {
		h.respondUploadErr(c, err)
		return
	}
	out, err := h.processing.AddRevision(c.Request.Context(), id, filename, data, c.PostForm("change_description"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"document": toDocumentJSON(out.Document), "version": out.Version})
}

var errUploadTooLarge = errors.New("upload exceeds size limit")

func (h *DocumentHandler) readUpload(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+(1<<20))
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, "", errUploadTooLarge
		}
		return nil, "", fmt.Errorf("%w: multipart field \"file\" required: %w", perrors.ErrInvalidInput, err)
	}
	if fh.Size > h.maxUpload {
		return nil, "", errUploadTooLarge
	}
	data, err := readFileHeader(fh, h.maxUpload)
	if err != nil {
		return nil, "", err
	}
	return data, fh.Filename, nil
}

func (h *DocumentHandler) respondUploadErr(c *gin.Context, err error) {
	if errors.Is(err, errUploadTooLarge) {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", err)
		return
	}
	response.RespondErr(c, err)
}

func readFileHeader(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	return data, nil
}

// formTags accepts repeated "tags" fields and comma-separated values.
func formTags(c *gin.Context) []string {
	var out []string
	for _, v := range c.PostFormArray("tags") {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func parseDocumentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return uuid.Nil, false
	}
	return id, true
}
