package sqltree

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
type TokenType int

//nolint:revive // TOKEN_* names are intentionally ALL_CAPS for SQL token conventions
const (
	// TOKEN_EOF represents end of input.
	TOKEN_EOF TokenType = iota
	// TOKEN_ILLEGAL represents an unrecognized character.
	TOKEN_ILLEGAL

	// TOKEN_IDENT represents an identifier (bare, "quoted" or `quoted`).
	TOKEN_IDENT
	// TOKEN_NUMBER represents a numeric literal.
	TOKEN_NUMBER // 123, 45.67, 1e10
	// TOKEN_STRING represents a string literal.
	TOKEN_STRING // 'hello'
	// TOKEN_PARAM represents a bind parameter.
	TOKEN_PARAM // ?, $1, :name, @name

	TOKEN_PLUS      // +
	TOKEN_MINUS     // -
	TOKEN_STAR      // *
	TOKEN_SLASH     // /
	TOKEN_PERCENT   // %
	TOKEN_DPIPE     // ||
	TOKEN_DCOLON    // ::
	TOKEN_EQ        // = or ==
	TOKEN_NE        // != or <>
	TOKEN_LT        // <
	TOKEN_GT        // >
	TOKEN_LE        // <=
	TOKEN_GE        // >=
	TOKEN_DOT       // .
	TOKEN_COMMA     // ,
	TOKEN_SEMICOLON // ;
	TOKEN_LPAREN    // (
	TOKEN_RPAREN    // )
	TOKEN_LBRACKET  // [
	TOKEN_RBRACKET  // ]

	// Keywords (alphabetical)
	TOKEN_ALL
	TOKEN_AND
	TOKEN_AS
	TOKEN_ASC
	TOKEN_BETWEEN
	TOKEN_BY
	TOKEN_CASE
	TOKEN_CAST
	TOKEN_CREATE
	TOKEN_CROSS
	TOKEN_DELETE
	TOKEN_DESC
	TOKEN_DISTINCT
	TOKEN_DROP
	TOKEN_ELSE
	TOKEN_END
	TOKEN_EXCEPT
	TOKEN_EXISTS
	TOKEN_FALSE
	TOKEN_FROM
	TOKEN_FULL
	TOKEN_GROUP
	TOKEN_HAVING
	TOKEN_ILIKE
	TOKEN_IN
	TOKEN_INNER
	TOKEN_INSERT
	TOKEN_INTERSECT
	TOKEN_INTO
	TOKEN_IS
	TOKEN_JOIN
	TOKEN_LATERAL
	TOKEN_LEFT
	TOKEN_LIKE
	TOKEN_LIMIT
	TOKEN_NATURAL
	TOKEN_NOT
	TOKEN_NULL
	TOKEN_OFFSET
	TOKEN_ON
	TOKEN_OR
	TOKEN_ORDER
	TOKEN_OUTER
	TOKEN_OVER
	TOKEN_PARTITION
	TOKEN_QUALIFY
	TOKEN_RECURSIVE
	TOKEN_REPLACE
	TOKEN_RIGHT
	TOKEN_SELECT
	TOKEN_SET
	TOKEN_THEN
	TOKEN_TRUE
	TOKEN_UNION
	TOKEN_UPDATE
	TOKEN_USING
	TOKEN_VALUES
	TOKEN_VIEW
	TOKEN_WHEN
	TOKEN_WHERE
	TOKEN_WITH
)

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position // start of the token
	End     int      // 0-based byte offset just past the token
}

// Position represents a location in the source code.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// String returns "line:column".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

// IsKeyword reports whether t is a reserved keyword.
func (t TokenType) IsKeyword() bool {
	return t >= TOKEN_ALL && t <= TOKEN_WITH
}

// tokenNames maps token types to their string representations.
var tokenNames = map[TokenType]string{
	TOKEN_EOF:     "EOF",
	TOKEN_ILLEGAL: "ILLEGAL",

	TOKEN_IDENT:  "IDENT",
	TOKEN_NUMBER: "NUMBER",
	TOKEN_STRING: "STRING",
	TOKEN_PARAM:  "PARAM",

	TOKEN_PLUS:      "+",
	TOKEN_MINUS:     "-",
	TOKEN_STAR:      "*",
	TOKEN_SLASH:     "/",
	TOKEN_PERCENT:   "%",
	TOKEN_DPIPE:     "||",
	TOKEN_DCOLON:    "::",
	TOKEN_EQ:        "=",
	TOKEN_NE:        "!=",
	TOKEN_LT:        "<",
	TOKEN_GT:        ">",
	TOKEN_LE:        "<=",
	TOKEN_GE:        ">=",
	TOKEN_DOT:       ".",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_LBRACKET:  "[",
	TOKEN_RBRACKET:  "]",
}

// keywords maps lowercase keyword strings to their token types.
var keywords = map[string]TokenType{
	"all":       TOKEN_ALL,
	"and":       TOKEN_AND,
	"as":        TOKEN_AS,
	"asc":       TOKEN_ASC,
	"between":   TOKEN_BETWEEN,
	"by":        TOKEN_BY,
	"case":      TOKEN_CASE,
	"cast":      TOKEN_CAST,
	"create":    TOKEN_CREATE,
	"cross":     TOKEN_CROSS,
	"delete":    TOKEN_DELETE,
	"desc":      TOKEN_DESC,
	"distinct":  TOKEN_DISTINCT,
	"drop":      TOKEN_DROP,
	"else":      TOKEN_ELSE,
	"end":       TOKEN_END,
	"except":    TOKEN_EXCEPT,
	"exists":    TOKEN_EXISTS,
	"false":     TOKEN_FALSE,
	"from":      TOKEN_FROM,
	"full":      TOKEN_FULL,
	"group":     TOKEN_GROUP,
	"having":    TOKEN_HAVING,
	"ilike":     TOKEN_ILIKE,
	"in":        TOKEN_IN,
	"inner":     TOKEN_INNER,
	"insert":    TOKEN_INSERT,
	"intersect": TOKEN_INTERSECT,
	"into":      TOKEN_INTO,
	"is":        TOKEN_IS,
	"join":      TOKEN_JOIN,
	"lateral":   TOKEN_LATERAL,
	"left":      TOKEN_LEFT,
	"like":      TOKEN_LIKE,
	"limit":     TOKEN_LIMIT,
	"natural":   TOKEN_NATURAL,
	"not":       TOKEN_NOT,
	"null":      TOKEN_NULL,
	"offset":    TOKEN_OFFSET,
	"on":        TOKEN_ON,
	"or":        TOKEN_OR,
	"order":     TOKEN_ORDER,
	"outer":     TOKEN_OUTER,
	"over":      TOKEN_OVER,
	"partition": TOKEN_PARTITION,
	"qualify":   TOKEN_QUALIFY,
	"recursive": TOKEN_RECURSIVE,
	"replace":   TOKEN_REPLACE,
	"right":     TOKEN_RIGHT,
	"select":    TOKEN_SELECT,
	"set":       TOKEN_SET,
	"then":      TOKEN_THEN,
	"true":      TOKEN_TRUE,
	"union":     TOKEN_UNION,
	"update":    TOKEN_UPDATE,
	"using":     TOKEN_USING,
	"values":    TOKEN_VALUES,
	"view":      TOKEN_VIEW,
	"when":      TOKEN_WHEN,
	"where":     TOKEN_WHERE,
	"with":      TOKEN_WITH,
}

func init() {
	for word, tok := range keywords {
		tokenNames[tok] = strings.ToUpper(word)
	}
}

// LookupIdent returns the token type for the given lowercase word.
// If the word is a keyword, the keyword token type is returned.
// Otherwise, TOKEN_IDENT is returned.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return TOKEN_IDENT
}
