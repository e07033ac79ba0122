package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSVLineEmptyInputYieldsSingleEmptyField(t *testing.T) {
	assert.Equal(t, []string{""}, ParseCSVLine(""))
}

func TestParseCSVLineNoCommasYieldsOneField(t *testing.T) {
	assert.Equal(t, []string{"hello"}, ParseCSVLine("hello"))
}

func TestParseCSVLineTrimsUnquotedWhitespace(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseCSVLine(" a , b ,c "))
}

func TestParseCSVLineQuotedCommaIsLiteral(t *testing.T) {
	assert.Equal(t, []string{"a,b", "c"}, ParseCSVLine(`"a,b",c`))
}

func TestParseCSVLineEscapedQuoteInsideQuotes(t *testing.T) {
	assert.Equal(t, []string{`say "hi"`}, ParseCSVLine(`"say ""hi"""`))
}

func TestParseCSVLineRoundTrip(t *testing.T) {
	cases := [][]string{
		{"a", "b", "c"},
		{"has,comma", "plain"},
		{`has "quote"`, "plain"},
		{""},
	}
	for _, fields := range cases {
		line := SerializeCSVLine(fields)
		assert.Equal(t, fields, ParseCSVLine(line))
	}
}

func TestParseCSVLineIsIdempotentUnderReserialization(t *testing.T) {
	line := `"a,b",c," say ""hi"" "`
	first := ParseCSVLine(line)
	second := ParseCSVLine(SerializeCSVLine(first))
	assert.Equal(t, first, second)
}

func TestParseCSVRowsRespectsQuotedNewlines(t *testing.T) {
	data := "a,b\n\"embedded\nnewline\",c\nlast,row"
	rows := ParseCSVRows(data, 10)
	assert.Equal(t, [][]string{
		{"a", "b"},
		{"embedded\nnewline", "c"},
		{"last", "row"},
	}, rows)
}

func TestParseCSVRowsRespectsMaxRows(t *testing.T) {
	data := "1\n2\n3\n4\n5"
	rows := ParseCSVRows(data, 2)
	assert.Len(t, rows, 2)
	assert.Equal(t, []string{"1"}, rows[0])
	assert.Equal(t, []string{"2"}, rows[1])
}

func TestParseCSVRowsEmptyInputYieldsNoRows(t *testing.T) {
	assert.Empty(t, ParseCSVRows("", 100))
}
