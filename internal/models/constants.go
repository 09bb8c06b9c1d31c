package models

import (
	"fmt"
	"strconv"
)

const (
	DefaultTopK = 4

	// Metadata keys stored alongside each chunk in the vector index.
	MetaSource  = "source"
	MetaPage    = "page"
	MetaChunkID = "chunk_id"
)

// PromptTemplate is the fixed answer instruction. Placeholders use Go template syntax.
var PromptTemplate = `
You are a helpful Assistant that can answer questions about text based on the text script.
Answer the following question in at least 300 words: {{.question}}
By searching the following text script: {{.docs}}
Only use the factual information from the transcript to answer the question.
If you feel like you don't have enough information to answer the question, say 'I don't know'.
Your answer should be detailed.
`

// Ref is the "file#page" reference of a chunk.
func (c Chunk) Ref() string {
	return fmt.Sprintf("%s#%d", c.SourceFilename, c.PageNumber)
}

// ID is stable across builds of the same documents.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s-%d-%d", c.SourceFilename, c.PageNumber, c.ChunkID)
}

// Metadata flattens the chunk position into string metadata.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		MetaSource:  c.SourceFilename,
		MetaPage:    strconv.Itoa(c.PageNumber),
		MetaChunkID: strconv.Itoa(c.ChunkID),
	}
}

// ChunkFromMetadata is the inverse of Chunk.Metadata.
func ChunkFromMetadata(content string, meta map[string]string) Chunk {
	page, _ := strconv.Atoi(meta[MetaPage])
	id, _ := strconv.Atoi(meta[MetaChunkID])
	return Chunk{
		Content:        content,
		SourceFilename: meta[MetaSource],
		PageNumber:     page,
		ChunkID:        id,
	}
}
