package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/paperbridge-backend/internal/data/repos"
	"github.com/yungbote/paperbridge-backend/internal/data/repos/testutil"
	httpH "github.com/yungbote/paperbridge-backend/internal/http/handlers"
	"github.com/yungbote/paperbridge-backend/internal/ingestion/embedder"
	"github.com/yungbote/paperbridge-backend/internal/ingestion/extractor"
	"github.com/yungbote/paperbridge-backend/internal/ingestion/normalize"
	"github.com/yungbote/paperbridge-backend/internal/ingestion/pipeline"
	"github.com/yungbote/paperbridge-backend/internal/observability"
	"github.com/yungbote/paperbridge-backend/internal/platform/blobstore"
	"github.com/yungbote/paperbridge-backend/internal/services"
)

func newTestRouter(t *testing.T, x pipeline.Extractor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := testutil.Logger(t)
	db := testutil.DB(t)

	store, err := blobstore.New(log, filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	require.NoError(t, store.Init())

	if x == nil {
		x = extractor.NewNative(log, 0)
	}
	p, err := pipeline.New(log, store, normalize.Passthrough{}, x, embedder.None{}, pipeline.WithWorkRoot(t.TempDir()))
	require.NoError(t, err)

	docs := repos.NewDocumentRepo(db, log)
	versions := repos.NewDocumentVersionRepo(db, log, nil)
	processing := services.NewProcessingService(db, log, store, p, docs, versions, nil)
	documents := services.NewDocumentService(db, log, store, docs, versions, processing, nil, services.DocumentServiceOptions{ProcessOnUpload: true})

	return NewRouter(RouterConfig{
		Log:             log,
		Metrics:         observability.New(),
		DocumentHandler: httpH.NewDocumentHandler(log, documents, processing, 1<<20),
		HealthHandler:   httpH.NewHealthHandler(db),
	})
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func do(t *testing.T, r *gin.Engine, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type uploadResponse struct {
	Document struct {
		ID       string   `json:"id"`
		Title    string   `json:"title"`
		FilePath string   `json:"file_path"`
		Content  string   `json:"content"`
		Tags     []string `json:"tags"`
	} `json:"document"`
	Processing struct {
		Status  string `json:"status"`
		Version int    `json:"version"`
		Stage   string `json:"stage"`
	} `json:"processing"`
}

func upload(t *testing.T, r *gin.Engine, filename, content string, fields map[string]string) uploadResponse {
	t.Helper()
	body, ct := multipartBody(t, filename, []byte(content), fields)
	rec := do(t, r, stdhttp.MethodPost, "/api/documents", body, ct)
	require.Equal(t, stdhttp.StatusCreated, rec.Code, rec.Body.String())
	var out uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code  string `json:"code"`
			Stage string `json:"stage"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code, env.Error.Stage
}

func TestUploadAndFetch(t *testing.T) {
	r := newTestRouter(t, nil)

	up := upload(t, r, "minutes.txt", "quarterly review", map[string]string{"title": "Minutes", "tags": "board, q3"})
	assert.Equal(t, "Minutes", up.Document.Title)
	assert.Equal(t, "quarterly review", up.Document.Content)
	assert.Equal(t, []string{"board", "q3"}, up.Document.Tags)
	assert.True(t, strings.HasPrefix(up.Document.FilePath, pipeline.VersionsFolder+"/minutes-"), up.Document.FilePath)
	assert.Equal(t, "complete", up.Processing.Status)
	assert.Equal(t, 1, up.Processing.Version)

	rec := do(t, r, stdhttp.MethodGet, "/api/documents/"+up.Document.ID, nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Minutes"`)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), up.Document.ID)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/"+up.Document.ID+"/file", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "quarterly review", rec.Body.String())
	assert.Equal(t, `inline; filename=Minutes.txt`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/"+up.Document.ID+"/history", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	var hist struct {
		Versions []struct {
			VersionNumber int    `json:"version_number"`
			FilePath      string `json:"file_path"`
		} `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Versions, 1)
	assert.Equal(t, 1, hist.Versions[0].VersionNumber)
	assert.Equal(t, up.Document.FilePath, hist.Versions[0].FilePath)
}

func TestUploadErrors(t *testing.T) {
	r := newTestRouter(t, nil)

	body, ct := multipartBody(t, "", nil, map[string]string{"title": "no file"})
	rec := do(t, r, stdhttp.MethodPost, "/api/documents", body, ct)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	code, _ := errorCode(t, rec)
	assert.Equal(t, "invalid_input", code)

	body, ct = multipartBody(t, "a.txt", []byte("x"), map[string]string{"subfolder": "../../etc"})
	rec = do(t, r, stdhttp.MethodPost, "/api/documents", body, ct)
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	code, _ = errorCode(t, rec)
	assert.Equal(t, "path_escape", code)

	body, ct = multipartBody(t, "big.bin", bytes.Repeat([]byte{1}, (1<<20)+10), nil)
	rec = do(t, r, stdhttp.MethodPost, "/api/documents", body, ct)
	assert.Equal(t, stdhttp.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnknownAndInvalidIDs(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := do(t, r, stdhttp.MethodGet, "/api/documents/not-a-uuid", nil, "")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/6f1c1d4e-5b7a-4a8e-9a1c-2c7b1d9e0f11", nil, "")
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	code, _ := errorCode(t, rec)
	assert.Equal(t, "not_found", code)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/6f1c1d4e-5b7a-4a8e-9a1c-2c7b1d9e0f11/history", nil, "")
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}

func TestSearchByTag(t *testing.T) {
	r := newTestRouter(t, nil)
	upload(t, r, "a.txt", "a", map[string]string{"tags": "Invoices"})
	upload(t, r, "b.txt", "b", map[string]string{"tags": "receipts"})

	rec := do(t, r, stdhttp.MethodGet, "/api/documents/search?tag=Invoices", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"a.txt"`)
	assert.NotContains(t, rec.Body.String(), `"title":"b.txt"`)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/search?tag=invoice", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"title":"a.txt"`)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/search?tag=EIPT&match=contains", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"b.txt"`)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/search?tag=x&match=fuzzy", nil, "")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
}

func TestUpdateAndDelete(t *testing.T) {
	r := newTestRouter(t, nil)
	up := upload(t, r, "a.txt", "a", nil)

	rec := do(t, r, stdhttp.MethodPut, "/api/documents/"+up.Document.ID, strings.NewReader(`{"title":"Renamed","tags":["x","y"]}`), "application/json")
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"title":"Renamed"`)
	assert.Contains(t, rec.Body.String(), `"tags":["x","y"]`)

	rec = do(t, r, stdhttp.MethodPut, "/api/documents/"+up.Document.ID, strings.NewReader(`{}`), "application/json")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec = do(t, r, stdhttp.MethodPut, "/api/documents/"+up.Document.ID, strings.NewReader(`{"file_path":"missing.txt"}`), "application/json")
	assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec = do(t, r, stdhttp.MethodDelete, "/api/documents/"+up.Document.ID, nil, "")
	assert.Equal(t, stdhttp.StatusNoContent, rec.Code)

	rec = do(t, r, stdhttp.MethodDelete, "/api/documents/"+up.Document.ID, nil, "")
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
}

func TestProcessStageFailure(t *testing.T) {
	failing := pipeline.ExtractorFunc(func(ctx context.Context, path string) (string, error) {
		return "", errors.New("ocr engine offline")
	})
	r := newTestRouter(t, failing)

	up := upload(t, r, "scan.txt", "text", nil)
	assert.Equal(t, "failed", up.Processing.Status)
	assert.Equal(t, "extract", up.Processing.Stage)
	assert.Equal(t, "", up.Document.Content)

	rec := do(t, r, stdhttp.MethodPost, "/api/documents/"+up.Document.ID+"/process", nil, "")
	assert.Equal(t, stdhttp.StatusUnprocessableEntity, rec.Code)
	code, stage := errorCode(t, rec)
	assert.Equal(t, "stage_failed", code)
	assert.Equal(t, "extract", stage)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/"+up.Document.ID+"/history", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "version_number")
}

func TestProcessAndNewRevision(t *testing.T) {
	r := newTestRouter(t, nil)
	up := upload(t, r, "plan.txt", "draft", map[string]string{"subfolder": "projects"})

	rec := do(t, r, stdhttp.MethodPost, "/api/documents/"+up.Document.ID+"/process", strings.NewReader(`{"change_description":"rerun"}`), "application/json")
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"version_number":2`)
	assert.Contains(t, rec.Body.String(), `"change_description":"rerun"`)

	body, ct := multipartBody(t, "plan.txt", []byte("final"), map[string]string{"change_description": "final cut"})
	rec = do(t, r, stdhttp.MethodPost, "/api/documents/"+up.Document.ID+"/versions", body, ct)
	require.Equal(t, stdhttp.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"version_number":3`)
	assert.Contains(t, rec.Body.String(), `"content":"final"`)

	rec = do(t, r, stdhttp.MethodGet, "/api/documents/folders", nil, "")
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.JSONEq(t, `{"folders":["projects"]}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := do(t, r, stdhttp.MethodGet, "/healthcheck", nil, "")
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, r, stdhttp.MethodGet, "/metrics", nil, "")
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pb_api_requests_total")
}
