// Package syntax turns raw OPQL text into an explicit token stream.
// The cursor analyzer and the parser both consume this stream, so the
// lexical rules live in exactly one place.
package syntax

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a lexeme with byte offsets into the source text.
type Token struct {
	Kind  TokenKind `json:"kind"`
	Text  string    `json:"text"`  // raw slice of the source
	Value string    `json:"value"` // unquoted value for strings, Text otherwise
	Start int       `json:"start"`
	End   int       `json:"end"`

	// Unterminated is set on a string token whose closing quote is missing.
	Unterminated bool `json:"unterminated,omitempty"`
}

// Keyword returns the upper-cased keyword for an identifier token, or "".
func (t Token) Keyword() string {
	if t.Kind != KindIdent {
		return ""
	}
	u := upper(t.Text)
	if keywords[u] {
		return u
	}
	return ""
}

// Is reports whether the token is the given keyword.
func (t Token) Is(keyword string) bool {
	return t.Kind == KindIdent && strings.EqualFold(t.Text, keyword)
}

// Quote wraps s in double quotes, escaping only the quote and backslash,
// so that the scanner reads it back as s.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

func isOperatorChar(c byte) bool {
	return c == '=' || c == '!' || c == '<' || c == '>' || c == '~'
}

func isBoundary(c byte) bool {
	return c == '(' || c == ')' || c == ',' || c == '"' || c == '\'' || isOperatorChar(c)
}

// single-pass scanner, no regexes
type fastScanner struct {
	text string
	n    int
}

// Scan tokenizes text. It never fails: malformed input such as an
// unterminated string still yields tokens, leaving the judgement to callers.
func Scan(text string) []Token {
	fs := fastScanner{text: text, n: len(text)}
	var tokens []Token
	i := 0

	for i < fs.n {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}

		c := text[i]
		switch {
		case c == '(':
			tokens = append(tokens, Token{Kind: KindLParen, Text: "(", Value: "(", Start: i, End: i + 1})
			i++
		case c == ')':
			tokens = append(tokens, Token{Kind: KindRParen, Text: ")", Value: ")", Start: i, End: i + 1})
			i++
		case c == ',':
			tokens = append(tokens, Token{Kind: KindComma, Text: ",", Value: ",", Start: i, End: i + 1})
			i++
		case c == '"' || c == '\'':
			tok := fs.quoted(i)
			tokens = append(tokens, tok)
			i = tok.End
		case isOperatorChar(c):
			j := i
			for j < fs.n && isOperatorChar(text[j]) {
				j++
			}
			tokens = append(tokens, Token{Kind: KindOperator, Text: text[i:j], Value: text[i:j], Start: i, End: j})
			i = j
		default:
			tok := fs.word(i)
			tokens = append(tokens, tok)
			i = tok.End
		}
	}

	return tokens
}

func (s *fastScanner) quoted(start int) Token {
	quote := s.text[start]
	var b strings.Builder
	i := start + 1
	for i < s.n {
		c := s.text[i]
		if c == '\\' && i+1 < s.n {
			b.WriteByte(s.text[i+1])
			i += 2
			continue
		}
		if c == quote {
			return Token{Kind: KindString, Text: s.text[start : i+1], Value: b.String(), Start: start, End: i + 1}
		}
		b.WriteByte(c)
		i++
	}
	return Token{Kind: KindString, Text: s.text[start:], Value: b.String(), Start: start, End: s.n, Unterminated: true}
}

func (s *fastScanner) word(start int) Token {
	i := start
	for i < s.n {
		r, size := utf8.DecodeRuneInString(s.text[i:])
		if unicode.IsSpace(r) || isBoundary(s.text[i]) {
			break
		}
		i += size
	}
	raw := s.text[start:i]
	kind := KindIdent
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		kind = KindNumber
	}
	return Token{Kind: kind, Text: raw, Value: raw, Start: start, End: i}
}

func upper(s string) string {
	return strings.ToUpper(s)
}
