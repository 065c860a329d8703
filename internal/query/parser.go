package query

import (
	"strconv"
	"strings"

	"github.com/searchlite/searchlite/internal/tokenizer"
)

// DefaultSlop is the proximity window of a NEAR without an explicit slop.
const DefaultSlop = 10

// Parser compiles query text against a fixed column schema.
//
// Grammar (keywords case-insensitive):
//
//	Query      := OrExpr
//	OrExpr     := AndNotExpr ( "OR" AndNotExpr )*
//	AndNotExpr := NearExpr ( ("AND"|"NOT") NearExpr )*
//	NearExpr   := Atom ( "NEAR" ["/" slop] Atom )*
//	Atom       := [column ":"] ( Term | Prefix | "\"" Term+ "\"" )
//
// NEAR binds tighter than AND/NOT, which bind tighter than OR. AND and NOT
// are left-associative: a NOT b NOT c evaluates as (a\b)\c.
type Parser struct {
	Columns     []string
	DefaultSlop int
}

// Parse is a convenience wrapper using DefaultSlop.
func Parse(text string, columns []string) (Node, error) {
	p := &Parser{Columns: columns, DefaultSlop: DefaultSlop}
	return p.Parse(text)
}

// Parse compiles query text into an AST, or fails with a *SyntaxError or
// *UnknownColumnError.
func (p *Parser) Parse(text string) (Node, error) {
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	st := &parseState{
		tokens:  tokens,
		columns: make(map[string]int, len(p.Columns)),
		slop:    p.DefaultSlop,
	}
	if st.slop <= 0 {
		st.slop = DefaultSlop
	}
	for i, col := range p.Columns {
		st.columns[strings.ToLower(col)] = i
	}
	node, err := st.parseOr()
	if err != nil {
		return nil, err
	}
	if st.cur().kind != tokEOF {
		return nil, st.errorf("expected end of query")
	}
	return node, nil
}

type parseState struct {
	tokens  []token
	pos     int
	columns map[string]int
	slop    int
}

func (st *parseState) cur() token  { return st.tokens[st.pos] }
func (st *parseState) peek() token { return st.tokens[st.pos+1] }
func (st *parseState) advance()    { st.pos++ }

func (st *parseState) errorf(reason string) error {
	tok := st.cur()
	return &SyntaxError{Token: tok.text, Offset: tok.offset, Reason: reason}
}

func (st *parseState) parseOr() (Node, error) {
	left, err := st.parseAndNot()
	if err != nil {
		return nil, err
	}
	for isKeyword(st.cur(), "OR") {
		st.advance()
		right, err := st.parseAndNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (st *parseState) parseAndNot() (Node, error) {
	left, err := st.parseNear()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch {
		case isKeyword(st.cur(), "AND"):
			op = OpAnd
		case isKeyword(st.cur(), "NOT"):
			op = OpNot
		default:
			return left, nil
		}
		st.advance()
		right, err := st.parseNear()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (st *parseState) parseNear() (Node, error) {
	first, err := st.parseAtom()
	if err != nil {
		return nil, err
	}
	operands := []*Phrase{first}
	var slops []int
	for {
		slop, ok, err := st.nearSlop()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		st.advance()
		next, err := st.parseAtom()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
		slops = append(slops, slop)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return &Near{Operands: operands, Slops: slops}, nil
}

// nearSlop reports whether the current token is a NEAR operator and returns
// its slop.
func (st *parseState) nearSlop() (int, bool, error) {
	tok := st.cur()
	if tok.kind != tokWord {
		return 0, false, nil
	}
	upper := strings.ToUpper(tok.text)
	if upper == "NEAR" {
		return st.slop, true, nil
	}
	if rest, ok := strings.CutPrefix(upper, "NEAR/"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return 0, false, st.errorf("invalid NEAR slop")
		}
		return n, true, nil
	}
	return 0, false, nil
}

func (st *parseState) parseAtom() (*Phrase, error) {
	column := -1
	if st.cur().kind == tokWord && st.peek().kind == tokColon {
		name := st.cur().text
		idx, ok := st.columns[strings.ToLower(name)]
		if !ok {
			return nil, &UnknownColumnError{Column: name}
		}
		column = idx
		st.advance()
		st.advance()
	}
	tok := st.cur()
	switch tok.kind {
	case tokString:
		words := strings.Fields(tok.text)
		if len(words) == 0 {
			return nil, st.errorf("empty phrase")
		}
		terms := make([]PhraseTerm, 0, len(words))
		for _, w := range words {
			term, err := st.phraseTerm(w)
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
		}
		st.advance()
		return &Phrase{Column: column, Terms: terms}, nil
	case tokWord:
		if isAnyKeyword(tok) {
			return nil, st.errorf("expected term")
		}
		term, err := st.phraseTerm(tok.text)
		if err != nil {
			return nil, err
		}
		st.advance()
		return &Phrase{Column: column, Terms: []PhraseTerm{term}}, nil
	default:
		return nil, st.errorf("expected term")
	}
}

// phraseTerm normalises one raw word into a term or prefix slot.
func (st *parseState) phraseTerm(raw string) (PhraseTerm, error) {
	prefix := strings.HasSuffix(raw, "*")
	text := strings.TrimSuffix(raw, "*")
	tokens := tokenizer.Tokenize(text)
	if len(tokens) != 1 {
		return PhraseTerm{}, &SyntaxError{
			Token:  raw,
			Offset: st.cur().offset,
			Reason: "expected a single term",
		}
	}
	return PhraseTerm{Text: tokens[0].Term, Prefix: prefix}, nil
}

func isKeyword(tok token, kw string) bool {
	return tok.kind == tokWord && strings.EqualFold(tok.text, kw)
}

func isAnyKeyword(tok token) bool {
	if tok.kind != tokWord {
		return false
	}
	upper := strings.ToUpper(tok.text)
	return upper == "AND" || upper == "OR" || upper == "NOT" ||
		upper == "NEAR" || strings.HasPrefix(upper, "NEAR/")
}
