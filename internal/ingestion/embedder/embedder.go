package embedder

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

// None is the placeholder embedder: every text gets an empty vector.
type None struct{}

func (None) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{}
	}
	return out, nil
}

// Client is satisfied by the OpenAI embeddings client.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Options struct {
	BatchSize   int
	Concurrency int
	// MaxChars truncates each text before it is sent; 0 disables truncation.
	MaxChars int
}

// Batched fans texts out to a remote embeddings Client in bounded batches.
// Blank texts are not sent and receive an empty vector.
type Batched struct {
	log    *logger.Logger
	client Client
	opts   Options
}

func NewBatched(log *logger.Logger, client Client, opts Options) *Batched {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxChars < 0 {
		opts.MaxChars = 0
	}
	return &Batched{log: log.With("embedder", "batched"), client: client, opts: opts}
}

func (b *Batched) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx = ctxutil.Default(ctx)
	out := make([][]float32, len(texts))
	idx := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = []float32{}
			continue
		}
		idx = append(idx, i)
	}
	if len(idx) == 0 {
		return out, nil
	}
	if b.client == nil {
		return nil, fmt.Errorf("embeddings client not configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)

	for start := 0; start < len(idx); start += b.opts.BatchSize {
		batch := idx[start:min(start+b.opts.BatchSize, len(idx))]
		g.Go(func() error {
			inputs := make([]string, len(batch))
			for j, i := range batch {
				inputs[j] = truncate(texts[i], b.opts.MaxChars)
			}
			vecs, err := b.client.Embed(gctx, inputs)
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedding count mismatch (got %d want %d)", len(vecs), len(batch))
			}
			// batches own disjoint indices of out
			for j, i := range batch {
				out[i] = vecs[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b.log.Debug("Embedded texts", "texts", len(texts), "sent", len(idx))
	return out, nil
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	r := []rune(s)
	return string(r[:maxChars])
}
