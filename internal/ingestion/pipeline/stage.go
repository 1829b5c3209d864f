package pipeline

import (
	"context"
	"fmt"

	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
)

type Stage string

const (
	StageNormalize Stage = "normalize"
	StageExtract   Stage = "extract"
	StageEmbed     Stage = "embed"
	StagePersist   Stage = "persist"
)

// Stages lists the processing stages in execution order.
var Stages = []Stage{StageNormalize, StageExtract, StageEmbed}

// Normalizer prepares a document for extraction. It writes any output into
// workDir and returns its path, or returns inputPath unchanged. It must never
// modify inputPath.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string, workDir string) (string, error)
}

// Extractor returns the text found in the file at path. An empty string means
// no text was found and is not an error.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Embedder returns one vector per input text, in input order. An empty vector
// means no embedding is available for that text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type NormalizerFunc func(ctx context.Context, inputPath string, workDir string) (string, error)

func (f NormalizerFunc) Normalize(ctx context.Context, inputPath string, workDir string) (string, error) {
	return f(ctx, inputPath, workDir)
}

type ExtractorFunc func(ctx context.Context, path string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// StageError reports which stage aborted a run. It matches ErrStageFailed
// and the underlying cause under errors.Is.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{perrors.ErrStageFailed}
	}
	return []error{perrors.ErrStageFailed, e.Err}
}

func stageFailed(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
