package syntax

// TokenKind is the lexical class of a token.
type TokenKind uint8

const (
	KindError    TokenKind = 0
	KindIdent    TokenKind = 1 // identifier, keyword or bare value run
	KindString   TokenKind = 2 // quoted value, Value holds the unquoted text
	KindNumber   TokenKind = 3
	KindOperator TokenKind = 4 // run of = ! < > ~
	KindLParen   TokenKind = 5
	KindRParen   TokenKind = 6
	KindComma    TokenKind = 7
)

func (k TokenKind) String() string {
	switch k {
	case KindIdent:
		return "Ident"
	case KindString:
		return "String"
	case KindNumber:
		return "Number"
	case KindOperator:
		return "Operator"
	case KindLParen:
		return "LParen"
	case KindRParen:
		return "RParen"
	case KindComma:
		return "Comma"
	default:
		return "Error"
	}
}

// keywords recognised by the grammar. Matching is case-insensitive.
var keywords = map[string]bool{
	"FIND": true, "COUNT": true, "AGGREGATE": true, "UPDATE": true, "EXPLAIN": true,
	"FROM": true, "JOIN": true, "AS": true, "ON": true, "WHERE": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "IS": true,
	"NULL": true, "EMPTY": true, "EXISTS": true,
	"LIKE": true, "MATCH": true, "CONTAINS": true, "INCLUDES": true, "EXCLUDES": true,
	"BEFORE": true, "AFTER": true, "DURING": true, "BETWEEN": true,
	"WAS": true, "CHANGED": true, "TO": true, "BY": true,
	"ORDER": true, "GROUP": true, "HAVING": true, "ASC": true, "DESC": true,
	"LIMIT": true, "OFFSET": true, "SET": true,
}

// StatementKeywords open a statement.
var StatementKeywords = []string{"FIND", "COUNT", "AGGREGATE", "UPDATE", "EXPLAIN"}

