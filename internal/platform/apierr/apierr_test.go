package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/yungbote/paperbridge-backend/internal/ingestion/pipeline"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"path escape", fmt.Errorf("store: %w", perrors.ErrPathEscape), http.StatusBadRequest, "path_escape"},
		{"invalid input", perrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{"not found", fmt.Errorf("get: %w", perrors.ErrNotFound), http.StatusNotFound, "not_found"},
		{"stage failed", &pipeline.StageError{Stage: pipeline.StageExtract, Err: errors.New("ocr down")}, http.StatusUnprocessableEntity, "stage_failed"},
		{"stage wrapping invalid input", &pipeline.StageError{Stage: pipeline.StagePersist, Err: fmt.Errorf("%w: empty upload", perrors.ErrInvalidInput)}, http.StatusUnprocessableEntity, "stage_failed"},
		{"stage wrapping not found", &pipeline.StageError{Stage: pipeline.StageNormalize, Err: perrors.ErrNotFound}, http.StatusUnprocessableEntity, "stage_failed"},
		{"conflict", perrors.ErrConflict, http.StatusConflict, "conflict"},
		{"storage io", perrors.ErrStorageIO, http.StatusInternalServerError, "storage_io"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
		{"already mapped", New(http.StatusRequestEntityTooLarge, "too_large", nil), http.StatusRequestEntityTooLarge, "too_large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromError(tc.err)
			if got.Status != tc.status || got.Code != tc.code {
				t.Fatalf("want %d %s, got %d %s", tc.status, tc.code, got.Status, got.Code)
			}
		})
	}
	if FromError(nil) != nil {
		t.Fatalf("nil error should map to nil")
	}
}
