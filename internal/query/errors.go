package query

import (
	"fmt"

	pkgerrors "github.com/searchlite/searchlite/pkg/errors"
)

// SyntaxError reports malformed query text, carrying the offending token and
// its byte offset in the query string.
type SyntaxError struct {
	Token  string
	Offset int
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("query syntax error at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("query syntax error at %q (offset %d): %s", e.Token, e.Offset, e.Reason)
}

func (e *SyntaxError) Is(target error) bool {
	return target == pkgerrors.ErrQuerySyntax
}

// UnknownColumnError reports a column qualifier naming no indexed column.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q", e.Column)
}

func (e *UnknownColumnError) Is(target error) bool {
	return target == pkgerrors.ErrUnknownColumn
}
