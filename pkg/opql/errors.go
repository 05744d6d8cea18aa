package opql

import "fmt"

// SyntaxError reports malformed query text at a byte offset.
type SyntaxError struct {
	Pos   int    `json:"pos"`
	Token string `json:"token"`
	Msg   string `json:"message"`
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("syntax error at %d near %q: %s", e.Pos, e.Token, e.Msg)
}

// ValidationError reports a well-formed query that references something
// the schema does not know, such as an unknown field or entity.
type ValidationError struct {
	Entity string `json:"entity,omitempty"`
	Field  string `json:"field,omitempty"`
	Msg    string `json:"message"`
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("validation error: field %q: %s", e.Field, e.Msg)
	case e.Entity != "":
		return fmt.Sprintf("validation error: entity %q: %s", e.Entity, e.Msg)
	default:
		return "validation error: " + e.Msg
	}
}
