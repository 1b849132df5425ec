package whatsapp

import (
	"regexp"
	"strings"
)

var (
	boldPattern    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underPattern   = regexp.MustCompile(`__(.+?)__`)
	strikePattern  = regexp.MustCompile(`~~(.+?)~~`)
	headerPattern  = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	linkPattern    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	imagePattern   = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	htmlTagPattern = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	bulletPattern  = regexp.MustCompile(`(?m)^(\s*)[-*]\s+`)
)

// FormatMessage converts markdown to WhatsApp formatting:
// *bold*, _italic_, ~strike~ and ``` code fences.
// Text inside code fences is left untouched.
func FormatMessage(markdown string) string {
	if markdown == "" {
		return ""
	}

	parts := strings.Split(markdown, "```")
	for i := range parts {
		if i%2 == 1 {
			continue // inside a fence
		}
		parts[i] = formatProse(parts[i])
	}
	text := strings.Join(parts, "```")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

func formatProse(text string) string {
	// Images before links, they share the bracket syntax
	text = imagePattern.ReplaceAllString(text, "$2")
	text = linkPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkPattern.FindStringSubmatch(m)
		if sub[1] == sub[2] {
			return sub[2]
		}
		return sub[1] + " (" + sub[2] + ")"
	})
	text = headerPattern.ReplaceAllString(text, "*$1*")
	text = bulletPattern.ReplaceAllString(text, "$1• ")
	text = boldPattern.ReplaceAllString(text, "*$1*")
	text = underPattern.ReplaceAllString(text, "*$1*")
	text = strikePattern.ReplaceAllString(text, "~$1~")
	return htmlTagPattern.ReplaceAllString(text, "")
}
