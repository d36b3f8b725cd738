package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"2,153,209.39", 2153209.39, true},
		{"(2,045,725.53)", -2045725.53, true},
		{"( 1,000.00 )", -1000, true},
		{"-42.5", -42.5, true},
		{"1000", 1000, true},
		{"USD 1,250.00", 1250, true},
		{"-", 0, false},
		{"—", 0, false},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseAmount(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 1e-9, "input %q", tc.in)
		}
	}
}

func TestParseStatementDate(t *testing.T) {
	for _, in := range []string{"10-Jan-2025", "2025-01-10", "10/01/2025", "Jan 10, 2025"} {
		d, err := ParseStatementDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, "2025-01-10", d.Format("2006-01-02"), in)
	}

	_, err := ParseStatementDate("10th of January")
	assert.Error(t, err)
}

func TestColAliases(t *testing.T) {
	idx := mapColumns([]string{"Acc Number", "Currency", "Amount in CCY"})
	rec := []string{"ACC-1", "USD", "1,000"}

	assert.Equal(t, "ACC-1", col(rec, idx, "Account", "AccNumber"))
	assert.Equal(t, "1,000", col(rec, idx, "Amount in CCY"))
	assert.Equal(t, "", col(rec, idx, "Type"))
}

func TestFieldValue(t *testing.T) {
	lines := statementLines(`
┌──────────────┐
Account Number : 049-12345
Currency
   USD
Net  Balance   2,153,209.39
`)

	assert.Equal(t, "049-12345", fieldValue(lines, "Account Number"))
	assert.Equal(t, "USD", fieldValue(lines, "Currency"))
	assert.Equal(t, "2,153,209.39", fieldValue(lines, "Net Balance"))
	assert.Equal(t, "", fieldValue(lines, "Missing Field"))
}
