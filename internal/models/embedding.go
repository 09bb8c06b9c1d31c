package models

// Chunk is a span of extracted document text, the unit of embedding and retrieval.
type Chunk struct {
	Content        string
	SourceFilename string
	PageNumber     int
	ChunkID        int
}

// ChunkEmbedding pairs a chunk with its vector.
type ChunkEmbedding struct {
	Chunk
	Embedding []float32
}

// Page is the text of one page (or sheet, or whole file for unpaged formats).
type Page struct {
	SourceFilename string
	PageNumber     int
	Text           string
}

type PromptResponse struct {
	Query   string
	Chunks  []Chunk
	Content string
}

// Sources lists distinct "file#page" references of the retrieved chunks, in order.
func (r *PromptResponse) Sources() []string {
	seen := make(map[string]struct{}, len(r.Chunks))
	var out []string
	for _, c := range r.Chunks {
		ref := c.Ref()
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
