package whatsapp

import "testing"

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"bold", "this is **important**", "this is *important*"},
		{"underscore bold", "__loud__", "*loud*"},
		{"strike", "~~gone~~", "~gone~"},
		{"header", "## Summary\ntext", "*Summary*\ntext"},
		{"link", "see [docs](https://example.com)", "see docs (https://example.com)"},
		{"bare link", "[https://example.com](https://example.com)", "https://example.com"},
		{"image", "![chart](https://example.com/c.png)", "https://example.com/c.png"},
		{"bullets", "- one\n* two", "• one\n• two"},
		{"html", "<b>hi</b> there", "hi there"},
		{"comparison kept", "a < b > c", "a < b > c"},
		{"blank lines", "a\n\n\n\nb", "a\n\nb"},
		{"fence untouched", "```\n**raw** <x>\n```", "```\n**raw** <x>\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMessage(tt.in); got != tt.want {
				t.Errorf("FormatMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
