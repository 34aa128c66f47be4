package channel

import (
	"strings"
	"unicode"
)

// ChunkText splits text into pieces of at most limit runes. It breaks at the
// last newline inside the window, then the last space, and cuts mid-word only
// when neither exists.
func ChunkText(text string, limit int) []string {
	rest := strings.TrimSpace(text)
	if rest == "" {
		return nil
	}
	if limit <= 0 {
		return []string{rest}
	}
	var chunks []string
	for rest != "" {
		runes := []rune(rest)
		if len(runes) <= limit {
			chunks = append(chunks, rest)
			break
		}
		head := string(runes[:limit])
		cut := len(head)
		if !unicode.IsSpace(runes[limit]) {
			cut = breakPoint(head)
		}
		if piece := strings.TrimSpace(head[:cut]); piece != "" {
			chunks = append(chunks, piece)
		}
		rest = strings.TrimSpace(rest[cut:])
	}
	return chunks
}

// breakPoint returns the byte offset in window to split at.
func breakPoint(window string) int {
	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return i
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i
	}
	return len(window)
}
