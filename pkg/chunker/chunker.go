package chunker

import (
	"fmt"
	"strings"
)

// MinChunkLength is the shortest chunk worth indexing. Filtering is the
// ingestion caller's job; Chunk itself emits everything it splits.
const MinChunkLength = 50

// Chunk splits text into bounded, overlapping segments.
//
// The text is first split on blank-line-delimited paragraphs. A paragraph that
// fits within maxLen is emitted whole; a longer one is cut by sliding a window
// of maxLen characters with overlap characters of back-step, so consecutive
// windows share their boundary text and no content falls in a gap.
//
// Empty input yields no chunks. overlap must be smaller than maxLen or the
// window would never advance.
func Chunk(text string, maxLen, overlap int) ([]string, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("chunker: max length must be positive, got %d", maxLen)
	}
	if overlap < 0 || overlap >= maxLen {
		return nil, fmt.Errorf("chunker: overlap %d must be in [0, %d)", overlap, maxLen)
	}

	text = strings.ReplaceAll(text, "\r", "")

	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		if len(runes) <= maxLen {
			chunks = append(chunks, para)
			continue
		}

		start := 0
		for start < len(runes) {
			end := start + maxLen
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, string(runes[start:end]))
			if end >= len(runes) {
				break
			}
			start = end - overlap
		}
	}

	return chunks, nil
}

// NormalizeWhitespace collapses all runs of whitespace to single spaces and
// trims the ends. Page text extracted from PDFs arrives with arbitrary line
// breaks and padding; callers normalize before comparing or previewing.
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
