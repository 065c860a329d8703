// Package tokenizer provides text tokenisation for the search engine.
// It lower-cases input and splits on non-alphanumeric boundaries. Every
// token is kept: positions are dense, so the n-th token of a column
// always has position n-1. Phrase and proximity matching depend on that.
package tokenizer

import (
	"strings"
	"unicode"
)

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into a slice of lowercased Tokens. Position is the
// 0-based index of the token within the text's token stream. Empty input
// yields an empty slice.
func Tokenize(text string) []Token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	for pos, word := range words {
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
	}
	return tokens
}
