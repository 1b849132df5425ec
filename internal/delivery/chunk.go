package delivery

import (
	"strings"
	"unicode/utf8"
)

// DefaultTextLimit is the default maximum chunk size in bytes.
const DefaultTextLimit = 4000

// ChunkText splits text into pieces of at most limit bytes. Splits prefer
// paragraph, line, sentence and word boundaries, in that order, and fall
// back to a hard split on a rune boundary. Concatenating the chunks yields
// the original text exactly.
func ChunkText(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultTextLimit
	}

	var chunks []string
	remaining := text
	for len(remaining) > limit {
		at := findSplitPoint(remaining, limit)
		chunks = append(chunks, remaining[:at])
		remaining = remaining[at:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// findSplitPoint returns the byte offset to split at, in (0, maxLen].
func findSplitPoint(text string, maxLen int) int {
	searchArea := text[:maxLen]
	minSplit := maxLen / 2

	if idx := strings.LastIndex(searchArea, "\n\n"); idx > minSplit {
		return idx + 2
	}
	if idx := strings.LastIndex(searchArea, "\n"); idx > minSplit {
		return idx + 1
	}
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(searchArea, sep); idx > minSplit && idx+len(sep) > best {
			best = idx + len(sep)
		}
	}
	if best > 0 {
		return best
	}
	if idx := strings.LastIndex(searchArea, " "); idx > minSplit {
		return idx + 1
	}

	// Hard split, never inside a multi-byte rune
	at := maxLen
	for at > 0 && !utf8.RuneStart(text[at]) {
		at--
	}
	if at == 0 {
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	return at
}

// splitCaption takes the leading piece of text that fits a caption and
// chunks the remainder for follow-up messages.
func splitCaption(text string, captionLimit, textLimit int) (string, []string) {
	if text == "" {
		return "", nil
	}
	if captionLimit <= 0 {
		captionLimit = DefaultCaptionLimit
	}
	head := ChunkText(text, captionLimit)[0]
	return head, ChunkText(text[len(head):], textLimit)
}
