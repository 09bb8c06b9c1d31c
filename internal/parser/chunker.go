package parser

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"document-rag/internal/apperr"
	"document-rag/internal/config"
	"document-rag/internal/models"
)

// Splitter cuts pages into overlapping chunks. Chunks never cross pages.
type Splitter struct {
	strategy string
	size     int
	overlap  int
}

func NewSplitter(cfg config.ChunkingConfig) (*Splitter, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = config.StrategyWindow
	}
	if cfg.Size <= 0 {
		return nil, apperr.Config("new splitter", fmt.Errorf("chunk size must be greater than zero, got %d", cfg.Size))
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, apperr.Config("new splitter", fmt.Errorf("chunk overlap %d must be in [0, %d)", cfg.Overlap, cfg.Size))
	}
	switch cfg.Strategy {
	case config.StrategyWindow, config.StrategyRecursive:
	default:
		return nil, apperr.Config("new splitter", fmt.Errorf("unknown chunking strategy %q", cfg.Strategy))
	}
	return &Splitter{strategy: cfg.Strategy, size: cfg.Size, overlap: cfg.Overlap}, nil
}

// Split chunks every page. ChunkID restarts at 1 on each page.
func (s *Splitter) Split(pages []models.Page) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range pages {
		parts, err := s.splitText(page.Text)
		if err != nil {
			return nil, apperr.Data("split page", fmt.Errorf("%s page %d: %w", page.SourceFilename, page.PageNumber, err))
		}
		id := 0
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id++
			chunks = append(chunks, models.Chunk{
				Content:        part,
				SourceFilename: page.SourceFilename,
				PageNumber:     page.PageNumber,
				ChunkID:        id,
			})
		}
	}
	return chunks, nil
}

func (s *Splitter) splitText(content string) ([]string, error) {
	if s.strategy == config.StrategyRecursive {
		splitter := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(s.size),
			textsplitter.WithChunkOverlap(s.overlap),
		)
		return splitter.SplitText(content)
	}
	return chunkContent(content, s.size, s.overlap), nil
}

// chunkContent cuts content into windows of maxChars runes. Each window starts
// maxChars-overlapChars runes after the previous one, so neighbours share
// exactly overlapChars runes. The last window may be shorter.
func chunkContent(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 || content == "" {
		return nil
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		overlapChars = 0
	}

	runes := []rune(content)
	if len(runes) <= maxChars {
		return []string{content}
	}

	step := maxChars - overlapChars
	var chunks []string
	for start := 0; ; start += step {
		end := min(start+maxChars, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
