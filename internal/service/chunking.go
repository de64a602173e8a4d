package service

import (
	"strings"
	"unicode"
)

// ChunkConfig controls how extracted text is split for retrieval.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	Overlap   int
	MaxChunks int
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:  1200,
		MinChars:  400,
		Overlap:   150,
		MaxChunks: 5000,
	}
}

// chunkText splits text into overlapping windows of at most MaxChars runes. A window
// ends at the last paragraph break after MinChars if there is one, otherwise at the
// last whitespace.
func chunkText(text string, cfg ChunkConfig) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	runes := []rune(clean)
	if len(runes) <= cfg.MaxChars {
		return []string{clean}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		if cfg.MaxChunks > 0 && len(chunks) >= cfg.MaxChunks {
			break
		}

		end := start + cfg.MaxChars
		if end > len(runes) {
			end = len(runes)
		}
		if end < len(runes) {
			end = cutPoint(runes, start, end, cfg.MinChars)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}

		next := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			next = end - cfg.Overlap
			for next < end && !unicode.IsSpace(runes[next-1]) {
				next++
			}
		}
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

func cutPoint(runes []rune, start, end, minChars int) int {
	floor := start + minChars
	if floor >= end {
		floor = start
	}
	for i := end; i > floor+1; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
