package extractor

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

const DefaultMaxNativeBytes int64 = 10 * 1024 * 1024

// Native reads text directly out of text-like files (plain text, markdown,
// CSV, JSON, XML, HTML). Anything else yields empty text.
type Native struct {
	log      *logger.Logger
	maxBytes int64
}

func NewNative(log *logger.Logger, maxBytes int64) *Native {
	if log == nil {
		log = logger.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxNativeBytes
	}
	return &Native{log: log.With("extractor", "native"), maxBytes: maxBytes}
}

func (n *Native) Extract(ctx context.Context, path string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if !isText(mt) {
		n.log.Debug("No native text for content type", "mime", baseMIME(mt))
		return "", nil
	}
	return n.readText(path, isHTML(mt))
}

func (n *Native) readText(path string, html bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, n.maxBytes))
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	s := sanitizeUTF8(string(b))
	if html {
		s = stripTags(s)
	}
	return tidy(s), nil
}
