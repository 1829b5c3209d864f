package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/paperbridge-backend/internal/domain/documents"
	"github.com/yungbote/paperbridge-backend/internal/observability"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/blobstore"
	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

// VersionsFolder is the blob subfolder that holds normalized artifacts. An
// artifact of a blob in folder F is stored under versions/F.
const VersionsFolder = "versions"

// SourceFolder returns the user-facing folder of a locator, looking through
// the versions prefix of artifacts.
func SourceFolder(locator string) string {
	f := blobstore.Folder(locator)
	if f == VersionsFolder {
		return ""
	}
	return strings.TrimPrefix(f, VersionsFolder+"/")
}

type Pipeline struct {
	log        *logger.Logger
	store      blobstore.Store
	normalizer Normalizer
	extractor  Extractor
	embedder   Embedder
	spec       *Spec
	metrics    *observability.Metrics
	workRoot   string
}

type Option func(*Pipeline)

func WithSpec(spec *Spec) Option { return func(p *Pipeline) { p.spec = spec } }

func WithMetrics(m *observability.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithWorkRoot sets the parent of per-run scratch directories (default os.TempDir()).
func WithWorkRoot(dir string) Option { return func(p *Pipeline) { p.workRoot = dir } }

func New(log *logger.Logger, store blobstore.Store, n Normalizer, x Extractor, e Embedder, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if n == nil || x == nil || e == nil {
		return nil, fmt.Errorf("normalizer, extractor and embedder are required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	p := &Pipeline{
		log:        log.With("service", "ProcessingPipeline"),
		store:      store,
		normalizer: n,
		extractor:  x,
		embedder:   e,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.spec == nil {
		p.spec = DefaultSpec()
	}
	return p, nil
}

// Run processes the blob at locator through normalize, extract and embed,
// then stores the normalized artifact as a new blob. Nothing is written to
// the store unless every stage succeeds.
func (p *Pipeline) Run(ctx context.Context, locator string) (documents.ProcessingResult, *Run, error) {
	ctx = ctxutil.Default(ctx)
	run := newRun(locator)
	started := time.Now()
	log := p.log.With("run_id", run.ID.String(), "locator", locator)

	ctx, span := observability.Tracer().Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("pipeline.locator", locator), attribute.String("pipeline.run_id", run.ID.String()))
	defer span.End()

	res, err := p.run(ctx, log, run, locator)
	if err != nil {
		var se *StageError
		stage := Stage("")
		if errors.As(err, &se) {
			stage = se.Stage
		}
		run.fail(stage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.ObservePipelineRun(string(StateFailed), time.Since(started))
		log.Warn("pipeline run failed", "stage", string(stage), "error", err)
		return documents.ProcessingResult{}, run, err
	}

	run.advance(StateComplete)
	p.metrics.ObservePipelineRun(string(StateComplete), time.Since(started))
	log.Info("pipeline run complete",
		"artifact_locator", res.Locator(),
		"text_len", len(res.Text()),
		"embedding_dims", len(res.Embedding()),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, run, nil
}

func (p *Pipeline) run(ctx context.Context, log *logger.Logger, run *Run, locator string) (documents.ProcessingResult, error) {
	srcPath, err := p.store.Resolve(locator)
	if err != nil {
		return documents.ProcessingResult{}, err
	}

	workDir, cleanup, err := p.prepareWorkDir()
	if err != nil {
		return documents.ProcessingResult{}, err
	}
	defer cleanup()

	inputPath, err := copyIntoWorkDir(srcPath, workDir)
	if err != nil {
		return documents.ProcessingResult{}, fmt.Errorf("%w: stage input copy: %w", perrors.ErrStorageIO, err)
	}

	normalizedPath, err := runStage(ctx, p, run, StageNormalize, func(sctx context.Context) (string, error) {
		out, err := p.normalizer.Normalize(sctx, inputPath, workDir)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", errors.New("normalizer returned no output path")
		}
		if _, err := os.Stat(out); err != nil {
			return "", fmt.Errorf("normalized output unavailable: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return documents.ProcessingResult{}, err
	}

	text, err := runStage(ctx, p, run, StageExtract, func(sctx context.Context) (string, error) {
		return p.extractor.Extract(sctx, normalizedPath)
	})
	if err != nil {
		return documents.ProcessingResult{}, err
	}

	vector, err := runStage(ctx, p, run, StageEmbed, func(sctx context.Context) ([]float32, error) {
		vecs, err := p.embedder.Embed(sctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("embedder returned %d vectors for 1 input", len(vecs))
		}
		return vecs[0], nil
	})
	if err != nil {
		return documents.ProcessingResult{}, err
	}

	artifact, err := p.persist(ctx, locator, normalizedPath)
	if err != nil {
		return documents.ProcessingResult{}, stageFailed(StagePersist, err)
	}
	log.Debug("artifact stored", "artifact_locator", artifact)

	return documents.NewProcessingResult(artifact, text, vector), nil
}

// runStage executes fn under the stage timeout. A stage that ignores its
// context is abandoned when the deadline passes.
func runStage[T any](ctx context.Context, p *Pipeline, run *Run, stage Stage, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	run.advance(stageStates[stage])

	timeout := p.spec.Timeout(stage)
	sctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	sctx, span := observability.Tracer().Start(sctx, "pipeline."+string(stage))
	defer span.End()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	started := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(sctx)
		done <- result{val: v, err: err}
	}()

	var out result
	select {
	case out = <-done:
	case <-sctx.Done():
		out = result{err: fmt.Errorf("aborted after %s: %w", time.Since(started).Round(time.Millisecond), sctx.Err())}
	}

	status := "ok"
	if out.err != nil {
		status = "failed"
		if errors.Is(out.err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	p.metrics.ObservePipelineStage(string(stage), status, time.Since(started))
	span.SetAttributes(attribute.String("pipeline.stage.status", status))

	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		return zero, stageFailed(stage, out.err)
	}
	return out.val, nil
}

func (p *Pipeline) persist(ctx context.Context, srcLocator, normalizedPath string) (string, error) {
	data, err := os.ReadFile(normalizedPath)
	if err != nil {
		return "", fmt.Errorf("%w: read normalized output: %w", perrors.ErrStorageIO, err)
	}
	orig := blobstore.OriginalName(srcLocator)
	ext := filepath.Ext(normalizedPath)
	if ext == "" || ext == ".bin" {
		ext = path.Ext(orig)
	}
	name := strings.TrimSuffix(orig, path.Ext(orig)) + ext
	loc, err := p.store.Store(ctx, data, name, path.Join(VersionsFolder, SourceFolder(srcLocator)))
	if err != nil {
		return "", err
	}
	p.metrics.ObserveBlobStored(VersionsFolder, len(data))
	return loc, nil
}

func (p *Pipeline) prepareWorkDir() (string, func(), error) {
	dir, err := os.MkdirTemp(p.workRoot, "pb_run_*")
	if err != nil {
		return "", func() {}, fmt.Errorf("%w: work dir: %w", perrors.ErrStorageIO, err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// copyIntoWorkDir gives stages a private copy so the stored original is never touched.
func copyIntoWorkDir(srcPath, workDir string) (string, error) {
	ext := strings.ToLower(filepath.Ext(srcPath))
	if ext == "" {
		ext = ".bin"
	}
	dst := filepath.Join(workDir, "original"+ext)

	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}
