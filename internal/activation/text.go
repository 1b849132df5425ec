package activation

import (
	"strings"
	"unicode"
)

// StripControl removes zero-width and bidi control characters that clients
// inject around mentions.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x200B && r <= 0x200F: // zero-width space/joiners, LRM, RLM
			return -1
		case r >= 0x202A && r <= 0x202E: // bidi embeddings and overrides
			return -1
		case r >= 0x2060 && r <= 0x2064: // word joiner, invisible operators
			return -1
		case r >= 0x2066 && r <= 0x2069: // bidi isolates
			return -1
		case r == 0xFEFF:
			return -1
		}
		return r
	}, s)
}

// NormalizeE164 reduces a phone number or user jid to "+<digits>".
// Returns "" when there are no digits.
func NormalizeE164(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "whatsapp:")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	d := digits(s)
	if d == "" {
		return ""
	}
	return "+" + d
}

func digits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r < 128 && unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
