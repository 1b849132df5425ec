package delivery

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkTextReconstructs(t *testing.T) {
	inputs := []string{
		"short",
		strings.Repeat("word ", 300),
		strings.Repeat("Sentence one. Sentence two! Question? ", 80),
		strings.Repeat("para line\n", 50) + "\n\n" + strings.Repeat("x", 700),
		strings.Repeat("é", 1000),
		strings.Repeat("😀", 400),
		strings.Repeat("a", 5000),
	}
	for _, limit := range []int{7, 100, 333, 1024} {
		for _, in := range inputs {
			chunks := ChunkText(in, limit)
			if got := strings.Join(chunks, ""); got != in {
				t.Fatalf("limit %d: reconstruction mismatch", limit)
			}
			for _, c := range chunks {
				if len(c) > limit {
					t.Fatalf("limit %d: chunk of %d bytes", limit, len(c))
				}
				if !utf8.ValidString(c) {
					t.Fatalf("limit %d: chunk splits a rune: %q", limit, c)
				}
			}
		}
	}
}

func TestChunkTextPrefersBoundaries(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	chunks := ChunkText(text, 100)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 60)+"\n\n" {
		t.Fatalf("chunks = %q", chunks)
	}

	text = strings.Repeat("word ", 30)
	for _, c := range ChunkText(text, 40) {
		if !strings.HasSuffix(c, " ") {
			t.Fatalf("chunk %q split mid-word", c)
		}
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if ChunkText("", 10) != nil {
		t.Fatal("empty text should produce no chunks")
	}
}

func TestSplitCaption(t *testing.T) {
	text := strings.Repeat("caption words ", 20)
	head, rest := splitCaption(text, 50, 100)
	if len(head) > 50 {
		t.Fatalf("caption %d bytes", len(head))
	}
	if head+strings.Join(rest, "") != text {
		t.Fatal("caption and rest must reconstruct the text")
	}

	head, rest = splitCaption("fits", 50, 100)
	if head != "fits" || rest != nil {
		t.Fatalf("head=%q rest=%q", head, rest)
	}
}
