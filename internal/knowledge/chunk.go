package knowledge

import "strings"

// Default chunking parameters for locally indexed documents.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// SplitText cuts content into chunks of at most size runes, preferring
// paragraph, line and word boundaries in that order. overlap runes are
// carried from the end of one chunk into the next so sentences cut at
// a boundary stay searchable from both sides.
func SplitText(content string, size, overlap int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if size <= 0 {
		return []string{content}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(content)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := end
		window := string(runes[start:end])
		for _, sep := range []string{"\n\n", "\n", " "} {
			if idx := strings.LastIndex(window, sep); idx > 0 {
				if at := len([]rune(window[:idx])); at > size/2 {
					cut = start + at
					break
				}
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}
