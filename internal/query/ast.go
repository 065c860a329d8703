// Package query compiles query text into an AST of phrase, proximity, and
// boolean nodes, and evaluates it against an index view into an ascending
// set of document ids.
package query

// Node is a query AST node: Phrase, Near, or Binary.
type Node interface {
	node()
}

// PhraseTerm is one slot of a phrase. A prefix slot matches any term with
// the given leading characters.
type PhraseTerm struct {
	Text   string
	Prefix bool
}

// Phrase matches documents where its slots occur at consecutive positions
// within one column. A single bare term or prefix atom is a one-slot Phrase.
// Column restricts matching to one column index; -1 means any column.
type Phrase struct {
	Column int
	Terms  []PhraseTerm
}

// Near matches documents where, within one column, every adjacent operand
// pair lies within its slop. Slops[i] is the maximum token distance between
// Operands[i] and Operands[i+1].
type Near struct {
	Operands []*Phrase
	Slops    []int
}

// BinOp is a boolean set operator.
type BinOp int

const (
	OpAnd BinOp = iota
	OpOr
	OpNot // set difference, left minus right
)

func (op BinOp) String() string {
	switch op {
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpNot:
		return "NOT"
	}
	return "?"
}

// Binary combines two subqueries with a boolean set operator.
type Binary struct {
	Op    BinOp
	Left  Node
	Right Node
}

func (*Phrase) node() {}
func (*Near) node()   {}
func (*Binary) node() {}
