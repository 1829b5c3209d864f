package documents

// ProcessingResult is the output of one complete pipeline run. It is
// immutable: constructors and accessors copy.
type ProcessingResult struct {
	locator   string
	text      string
	embedding []float32
}

func NewProcessingResult(locator, text string, embedding []float32) ProcessingResult {
	return ProcessingResult{
		locator:   locator,
		text:      text,
		embedding: append([]float32(nil), embedding...),
	}
}

func (r ProcessingResult) Locator() string { return r.locator }
func (r ProcessingResult) Text() string    { return r.text }

// Embedding returns a copy; an empty slice means no embedding was computed.
func (r ProcessingResult) Embedding() []float32 {
	return append([]float32(nil), r.embedding...)
}

func (r ProcessingResult) HasEmbedding() bool { return len(r.embedding) > 0 }
