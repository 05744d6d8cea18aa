package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(tokens []Token) []TokenKind {
	out := make([]TokenKind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}
	return out
}

func TestScan_Statement(t *testing.T) {
	tokens := Scan(`FIND tasks WHERE status = "In Progress" AND priority>=2`)
	require.Len(t, tokens, 10)

	assert.Equal(t, []TokenKind{
		KindIdent, KindIdent, KindIdent, KindIdent, KindOperator, KindString,
		KindIdent, KindIdent, KindOperator, KindNumber,
	}, kinds(tokens))

	assert.Equal(t, "In Progress", tokens[5].Value)
	assert.Equal(t, `"In Progress"`, tokens[5].Text)
	assert.Equal(t, ">=", tokens[8].Text)
	assert.Equal(t, "WHERE", tokens[2].Keyword())
	assert.Equal(t, "", tokens[3].Keyword())
}

func TestScan_Offsets(t *testing.T) {
	text := "status IN (open,done)"
	for _, tok := range Scan(text) {
		assert.Equal(t, tok.Text, text[tok.Start:tok.End])
	}
}

func TestScan_ListAndParens(t *testing.T) {
	tokens := Scan("labels IN ('bug', 'ui')")
	assert.Equal(t, []TokenKind{
		KindIdent, KindIdent, KindLParen, KindString, KindComma, KindString, KindRParen,
	}, kinds(tokens))
	assert.Equal(t, "bug", tokens[3].Value)
}

func TestScan_UnterminatedString(t *testing.T) {
	tokens := Scan(`title ~ "half open`)
	require.Len(t, tokens, 3)
	assert.True(t, tokens[2].Unterminated)
	assert.Equal(t, "half open", tokens[2].Value)
	assert.Equal(t, len(`title ~ "half open`), tokens[2].End)
}

func TestScan_EscapedQuote(t *testing.T) {
	tokens := Scan(`title = 'it\'s'`)
	require.Len(t, tokens, 3)
	assert.Equal(t, "it's", tokens[2].Value)
	assert.False(t, tokens[2].Unterminated)
}

func TestScan_DatesAreIdentifiers(t *testing.T) {
	tokens := Scan("created_at AFTER 2024-01-05")
	require.Len(t, tokens, 3)
	assert.Equal(t, KindIdent, tokens[2].Kind)
	assert.Equal(t, KindNumber, Scan("-3")[0].Kind)
}

func TestScan_Empty(t *testing.T) {
	assert.Empty(t, Scan(""))
	assert.Empty(t, Scan("   \t\n"))
}

func TestQuote_ScansBack(t *testing.T) {
	for _, raw := range []string{"", "plain", "a\nb\tc", `it's "quoted"`, `C:\\path\\`} {
		tokens := Scan(Quote(raw))
		require.Len(t, tokens, 1, raw)
		assert.Equal(t, KindString, tokens[0].Kind)
		assert.Equal(t, raw, tokens[0].Value)
		assert.False(t, tokens[0].Unterminated)
	}
}
