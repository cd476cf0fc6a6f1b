package sqltree

import "fmt"

// ParseError represents a lexing or grouping error with position information.
type ParseError struct {
	Pos     Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnterminatedComment = "unterminated block comment"
	ErrUnbalancedOpen      = "unbalanced parenthesis: missing )"
	ErrUnbalancedClose     = "unbalanced parenthesis: unexpected )"
	ErrUnterminatedCase    = "CASE without matching END"
)
