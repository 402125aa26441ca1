package tokenizer

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTokensInContent(t *testing.T) {
	tok := Default()

	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"one two three four five", 6},
		{"héllo", 2},
	}
	for _, tc := range cases {
		if got := tok.TokensInContent(tc.text); got != tc.want {
			t.Errorf("TokensInContent(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestTokensInWords(t *testing.T) {
	tok := Default()
	if got := tok.TokensInWords(10); got != 15 {
		t.Errorf("TokensInWords(10) = %d, want 15", got)
	}
	if got := tok.TokensInWords(3); got != 5 {
		t.Errorf("TokensInWords(3) = %d, want 5", got)
	}
	if got := tok.TokensInWords(0); got != 0 {
		t.Errorf("TokensInWords(0) = %d, want 0", got)
	}
}

func TestNewFallsBackToDefaults(t *testing.T) {
	tok := New(0, -1)
	if tok.CharactersPerToken() != DefaultCharactersPerToken {
		t.Errorf("expected default characters per token, got %d", tok.CharactersPerToken())
	}
	if got := tok.TokensInWords(2); got != 3 {
		t.Errorf("expected default tokens per word, got %d", got)
	}
}

func TestTrimContentWholeWords(t *testing.T) {
	tok := Default()

	got := tok.TrimContent("one two three four five", 2)
	if got != "one two" {
		t.Fatalf("TrimContent = %q, want %q", got, "one two")
	}
	if utf8.RuneCountInString(got) > 8 {
		t.Errorf("trimmed text exceeds budget: %q", got)
	}
}

func TestTrimContentBacksOffPartialWord(t *testing.T) {
	tok := Default()

	// 26 chars -> 7 tokens; budget 3 cuts after "alphabet s"
	got := tok.TrimContent("alphabet soup gamma delta!", 3)
	if strings.HasSuffix(got, "sou") || strings.HasSuffix(got, "so") {
		t.Fatalf("trimmed text ends mid-word: %q", got)
	}
	if got != "alphabet" {
		t.Fatalf("TrimContent = %q, want %q", got, "alphabet")
	}
}

func TestTrimContentBacksOffAfterPunctuation(t *testing.T) {
	tok := Default()

	// 19 chars -> 5 tokens; budget 2 cuts after "abc de-", inside "de-fgh"
	got := tok.TrimContent("abc de-fgh ijklmnop", 2)
	if got != "abc" {
		t.Fatalf("TrimContent = %q, want %q", got, "abc")
	}
}

func TestTrimContentUnderBudget(t *testing.T) {
	tok := Default()

	text := "short text"
	if got := tok.TrimContent(text, 100); got != text {
		t.Errorf("expected unchanged text, got %q", got)
	}
}

func TestTrimContentCollapsesDoubleBreaks(t *testing.T) {
	tok := Default()

	got := tok.TrimContent("first\n\nsecond", 100)
	if got != "first second" {
		t.Errorf("expected collapsed breaks, got %q", got)
	}
}

func TestTrimContentSingleLongWord(t *testing.T) {
	tok := Default()

	got := tok.TrimContent("supercalifragilistic", 2)
	if got != "" {
		t.Errorf("expected empty result for unsplittable word, got %q", got)
	}
}

func TestTrimContentZeroBudget(t *testing.T) {
	tok := Default()
	if got := tok.TrimContent("anything at all", 0); got != "" {
		t.Errorf("expected empty result for zero budget, got %q", got)
	}
}

func TestTrimContentIdempotent(t *testing.T) {
	texts := []string{
		"one two three four five",
		"The quick brown fox jumps over the lazy dog.\n\nIt was not amused.",
		"alphabet soup gamma delta",
		"  padded   text with    gaps  ",
		"a b c d e f g h i j k l m n o p",
		"punctuation, commas; and-dashes: everywhere!",
		"abc de-fgh ijklmnop",
		"",
	}
	budgets := []int{0, 1, 2, 3, 5, 8, 13, 50}

	for _, ratio := range []int{1, 3, 4, 7} {
		tok := New(ratio, DefaultTokensPerWord)
		for _, text := range texts {
			for _, max := range budgets {
				once := tok.TrimContent(text, max)
				twice := tok.TrimContent(once, max)
				if once != twice {
					t.Errorf("ratio %d, max %d: not idempotent for %q: %q -> %q", ratio, max, text, once, twice)
				}
			}
		}
	}
}

func TestTrimContentNeverEndsMidWord(t *testing.T) {
	tok := Default()
	text := "classification engines attach labels deterministically to content"
	words := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		words[w] = true
	}

	for max := 1; max < tok.TokensInContent(text); max++ {
		got := tok.TrimContent(text, max)
		for _, w := range strings.Fields(got) {
			if !words[w] {
				t.Errorf("max %d: partial word %q in %q", max, w, got)
			}
		}
	}
}
