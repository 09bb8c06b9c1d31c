// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/require"
)

// WritePDF writes a PDF with one page per entry of pages, each page holding
// its lines in Helvetica.
func WritePDF(t *testing.T, path string, pages ...[]string) {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	doc.SetFont("Helvetica", "", 11)
	for _, lines := range pages {
		doc.AddPage()
		for _, line := range lines {
			doc.Cell(0, 8, line)
			doc.Ln(8)
		}
	}
	require.NoError(t, doc.OutputFileAndClose(path))
}

// LetterEmbedder is a deterministic embedder: letter frequencies plus a bias
// term, so no vector is ever zero. It counts its calls.
type LetterEmbedder struct {
	mu           sync.Mutex
	Err          error
	QueryCalls   int
	DocumentSeen int
}

func (e *LetterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = Letters(text)
	}
	e.DocumentSeen += len(texts)
	return out, nil
}

func (e *LetterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	e.QueryCalls++
	return Letters(text), nil
}

// Letters returns the 27-dimensional letter vector of text.
func Letters(text string) []float32 {
	v := make([]float32, 27)
	v[26] = 0.01
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}
