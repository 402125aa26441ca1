package tokenizer

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultCharactersPerToken is the character/token ratio used when none is configured.
	DefaultCharactersPerToken = 4
	// DefaultTokensPerWord is the token/word ratio used when none is configured.
	DefaultTokensPerWord = 1.5
)

// Tokenizer estimates token cost of text and trims text to a token budget.
// The estimates are pure functions of character length, so trimming is stable.
type Tokenizer struct {
	charactersPerToken int
	tokensPerWord      float64
}

// New creates a tokenizer. Non-positive ratios fall back to the defaults.
func New(charactersPerToken int, tokensPerWord float64) *Tokenizer {
	if charactersPerToken <= 0 {
		charactersPerToken = DefaultCharactersPerToken
	}
	if tokensPerWord <= 0 {
		tokensPerWord = DefaultTokensPerWord
	}
	return &Tokenizer{
		charactersPerToken: charactersPerToken,
		tokensPerWord:      tokensPerWord,
	}
}

// Default returns a tokenizer using the default ratios.
func Default() *Tokenizer {
	return New(DefaultCharactersPerToken, DefaultTokensPerWord)
}

// CharactersPerToken returns the configured ratio.
func (t *Tokenizer) CharactersPerToken() int { return t.charactersPerToken }

// TokensInContent estimates the number of tokens in text.
func (t *Tokenizer) TokensInContent(text string) int {
	chars := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(chars) / float64(t.charactersPerToken)))
}

// TokensInWords estimates the tokens needed for a response of the given word count.
// Used to reserve budget for generated output rather than to measure existing text.
func (t *Tokenizer) TokensInWords(words int) int {
	if words <= 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * t.tokensPerWord))
}

// TrimContent trims text so its estimated cost fits maxTokens.
// Double line breaks are collapsed first. Text that is strictly under budget
// is returned as is; otherwise it is cut at the character budget and, if the
// cut lands inside a word, backed off to the previous whitespace.
func (t *Tokenizer) TrimContent(text string, maxTokens int) string {
	text = strings.ReplaceAll(text, "\n\n", " ")

	tokens := t.TokensInContent(text)
	if tokens < maxTokens {
		return text
	}
	if maxTokens <= 0 {
		return ""
	}

	runes := []rune(text)
	charsToTrim := (tokens - maxTokens) * t.charactersPerToken
	cut := len(runes) - charsToTrim
	if cut <= 0 {
		return ""
	}

	trimmed := runes[:cut]
	if cut < len(runes) && isWordRune(runes[cut]) {
		trimmed = backOffToSpace(trimmed)
	}

	return strings.TrimSpace(string(trimmed))
}

// backOffToSpace drops the trailing partial word. A cut with no earlier
// whitespace yields nothing rather than a word fragment.
func backOffToSpace(runes []rune) []rune {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return runes[:i]
		}
	}
	return runes[:0]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_'
}
