package tokens

import (
	"fmt"
	"testing"
)

func TestFallbackCount(t *testing.T) {
	var e *Estimator
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"日本語です", 2}, // runes, not bytes
	}
	for _, tt := range tests {
		if got := e.Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
	if (&Estimator{}).Count("12345678") != 2 {
		t.Error("estimator without an encoding should use the rune estimate")
	}
}

func TestMemoIsBounded(t *testing.T) {
	e := &Estimator{}
	for i := 0; i < memoSize+10; i++ {
		e.Count(fmt.Sprintf("[alice] message %d", i))
	}
	if len(e.memo) != memoSize || len(e.order) != memoSize {
		t.Fatalf("memo = %d entries, order = %d", len(e.memo), len(e.order))
	}
	if _, ok := e.memo["[alice] message 0"]; ok {
		t.Error("oldest entry should have been evicted")
	}
	if got := e.Count("[alice] message 5000"); got != runeEstimate("[alice] message 5000") {
		t.Errorf("Count = %d", got)
	}
}
