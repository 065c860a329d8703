package query

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString // quoted phrase content, quotes stripped
	tokColon
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

// lex splits query text into tokens. Words are runs of characters other
// than whitespace, quotes, and colons; keyword recognition happens in the
// parser.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		r := rune(input[i])
		switch {
		case unicode.IsSpace(r):
			i++
		case r == ':':
			tokens = append(tokens, token{kind: tokColon, text: ":", offset: i})
			i++
		case r == '"':
			end := strings.IndexByte(input[i+1:], '"')
			if end < 0 {
				return nil, &SyntaxError{
					Token:  input[i:],
					Offset: i,
					Reason: "unterminated phrase",
				}
			}
			tokens = append(tokens, token{
				kind:   tokString,
				text:   input[i+1 : i+1+end],
				offset: i,
			})
			i += end + 2
		default:
			start := i
			for i < len(input) {
				c := rune(input[i])
				if unicode.IsSpace(c) || c == '"' || c == ':' {
					break
				}
				i++
			}
			tokens = append(tokens, token{kind: tokWord, text: input[start:i], offset: start})
		}
	}
	tokens = append(tokens, token{kind: tokEOF, offset: len(input)})
	return tokens, nil
}
