package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/paperbridge-backend/internal/observability"
	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/blobstore"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func newStore(t *testing.T) blobstore.Store {
	t.Helper()
	s, err := blobstore.New(nil, filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	require.NoError(t, s.Init())
	return s
}

func upperNormalizer(rec *recorder) Normalizer {
	return NormalizerFunc(func(ctx context.Context, in, workDir string) (string, error) {
		rec.add("normalize")
		b, err := os.ReadFile(in)
		if err != nil {
			return "", err
		}
		out := filepath.Join(workDir, "normalized.txt")
		return out, os.WriteFile(out, []byte(strings.ToUpper(string(b))), 0o600)
	})
}

func readExtractor(rec *recorder) Extractor {
	return ExtractorFunc(func(ctx context.Context, p string) (string, error) {
		rec.add("extract")
		b, err := os.ReadFile(p)
		return string(b), err
	})
}

func lenEmbedder(rec *recorder) Embedder {
	return EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		rec.add("embed")
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = []float32{float32(len(t))}
		}
		return out, nil
	})
}

func blobCount(t *testing.T, store blobstore.Store) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(store.Root(), func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestRunStagesInOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	loc, err := store.Store(ctx, []byte("hello world"), "note.txt", "")
	require.NoError(t, err)

	rec := &recorder{}
	m := observability.New()
	p, err := New(nil, store, upperNormalizer(rec), readExtractor(rec), lenEmbedder(rec), WithMetrics(m), WithWorkRoot(t.TempDir()))
	require.NoError(t, err)

	res, run, err := p.Run(ctx, loc)
	require.NoError(t, err)

	assert.Equal(t, []string{"normalize", "extract", "embed"}, rec.calls)
	assert.Equal(t, "HELLO WORLD", res.Text())
	assert.Equal(t, []float32{11}, res.Embedding())
	assert.True(t, strings.HasPrefix(res.Locator(), VersionsFolder+"/note-"), "artifact %q", res.Locator())
	assert.True(t, strings.HasSuffix(res.Locator(), ".txt"), "artifact %q", res.Locator())
	assert.NotEqual(t, loc, res.Locator())

	assert.Equal(t, StateComplete, run.State)
	assert.Equal(t, []State{StateStored, StateNormalizing, StateExtracting, StateEmbedding, StateComplete}, run.States())
	assert.NotNil(t, run.FinishedAt)

	original, err := store.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(original), "original blob must not be mutated")

	artifact, err := store.Load(ctx, res.Locator())
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD", string(artifact))

	assert.Equal(t, float64(1), m.PipelineStageCount("extract", "ok"))
}

func TestRunStageFailureLeavesStoreUntouched(t *testing.T) {
	boom := errors.New("boom")
	failing := map[Stage]func(rec *recorder) (Normalizer, Extractor, Embedder){
		StageNormalize: func(rec *recorder) (Normalizer, Extractor, Embedder) {
			return NormalizerFunc(func(context.Context, string, string) (string, error) { return "", boom }), readExtractor(rec), lenEmbedder(rec)
		},
		StageExtract: func(rec *recorder) (Normalizer, Extractor, Embedder) {
			return upperNormalizer(rec), ExtractorFunc(func(context.Context, string) (string, error) { return "", boom }), lenEmbedder(rec)
		},
		StageEmbed: func(rec *recorder) (Normalizer, Extractor, Embedder) {
			return upperNormalizer(rec), readExtractor(rec), EmbedderFunc(func(context.Context, []string) ([][]float32, error) { return nil, boom })
		},
	}

	for stage, build := range failing {
		t.Run(string(stage), func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()
			loc, err := store.Store(ctx, []byte("payload"), "doc.txt", "")
			require.NoError(t, err)

			n, x, e := build(&recorder{})
			p, err := New(nil, store, n, x, e, WithWorkRoot(t.TempDir()))
			require.NoError(t, err)

			res, run, err := p.Run(ctx, loc)
			require.Error(t, err)
			assert.ErrorIs(t, err, perrors.ErrStageFailed)
			assert.ErrorIs(t, err, boom)

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, stage, se.Stage)

			assert.Equal(t, StateFailed, run.State)
			assert.Equal(t, stage, run.FailedStage)
			assert.Equal(t, "", res.Locator())
			assert.Equal(t, 1, blobCount(t, store), "no artifact may be written")
		})
	}
}

func TestRunEmptyTextIsValid(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	loc, err := store.Store(ctx, []byte{0x89, 'P', 'N', 'G'}, "scan.png", "")
	require.NoError(t, err)

	passthrough := NormalizerFunc(func(_ context.Context, in, _ string) (string, error) { return in, nil })
	blank := ExtractorFunc(func(context.Context, string) (string, error) { return "", nil })
	none := EmbedderFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		return make([][]float32, len(texts)), nil
	})

	p, err := New(nil, store, passthrough, blank, none, WithWorkRoot(t.TempDir()))
	require.NoError(t, err)

	res, run, err := p.Run(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "", res.Text())
	assert.False(t, res.HasEmbedding())
	assert.Equal(t, StateComplete, run.State)
	assert.True(t, strings.HasSuffix(res.Locator(), ".png"))
}

func TestRunStageTimeout(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	loc, err := store.Store(ctx, []byte("x"), "slow.txt", "")
	require.NoError(t, err)

	rec := &recorder{}
	stuck := ExtractorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return "late", nil
	})
	p, err := New(nil, store, upperNormalizer(rec), stuck, lenEmbedder(rec),
		WithSpec(DefaultSpec().WithTimeout(StageExtract, 30*time.Millisecond)),
		WithWorkRoot(t.TempDir()),
	)
	require.NoError(t, err)

	_, run, err := p.Run(ctx, loc)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrStageFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StageExtract, run.FailedStage)
	assert.NotContains(t, rec.calls, "embed")
}

func TestRunEmbedderMisalignment(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	loc, err := store.Store(ctx, []byte("x"), "a.txt", "")
	require.NoError(t, err)

	rec := &recorder{}
	two := EmbedderFunc(func(context.Context, []string) ([][]float32, error) { return [][]float32{{1}, {2}}, nil })
	p, err := New(nil, store, upperNormalizer(rec), readExtractor(rec), two, WithWorkRoot(t.TempDir()))
	require.NoError(t, err)

	_, run, err := p.Run(ctx, loc)
	require.Error(t, err)
	assert.Equal(t, StageEmbed, run.FailedStage)
}

func TestRunRejectsBadLocator(t *testing.T) {
	store := newStore(t)
	rec := &recorder{}
	p, err := New(nil, store, upperNormalizer(rec), readExtractor(rec), lenEmbedder(rec))
	require.NoError(t, err)

	_, _, err = p.Run(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, perrors.ErrPathEscape)

	_, _, err = p.Run(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.Empty(t, rec.calls)
}

func TestRunStagePanicBecomesStageError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	loc, err := store.Store(ctx, []byte("x"), "a.txt", "")
	require.NoError(t, err)

	rec := &recorder{}
	panics := NormalizerFunc(func(context.Context, string, string) (string, error) { panic("bad image") })
	p, err := New(nil, store, panics, readExtractor(rec), lenEmbedder(rec), WithWorkRoot(t.TempDir()))
	require.NoError(t, err)

	_, run, err := p.Run(ctx, loc)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrStageFailed)
	assert.Equal(t, StageNormalize, run.FailedStage)
}

func TestSourceFolder(t *testing.T) {
	assert.Equal(t, "", SourceFolder("a.txt"))
	assert.Equal(t, "", SourceFolder("versions/a.txt"))
	assert.Equal(t, "projects/alpha", SourceFolder("projects/alpha/a.txt"))
	assert.Equal(t, "projects/alpha", SourceFolder("versions/projects/alpha/a.txt"))
}
