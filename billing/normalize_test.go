package billing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"12.50", 12.50},
		{"  7.25 ", 7.25},
		{"0.0000000001", 0.0000000001},
		{"1.23456789012345", 1.2345678901}, // rounded to 10 places
		{"3.0852e-06", 0.0000030852},
		{"-0.5", -0.5},
		{"", 0.0},
		{"nan", 0.0},
		{"not-a-number", 0.0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, formatFloat(tc.in), 1e-12, "formatFloat(%q)", tc.in)
	}
}

func TestCleanDate(t *testing.T) {
	got := cleanDate("2025-03-01T00:00:00Z")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *got)

	got = cleanDate("2025-03-15")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, cleanDate(""))
	assert.Nil(t, cleanDate("nan"))
	assert.Nil(t, cleanDate("NaN"))
	assert.Nil(t, cleanDate("03/15/2025"))
	assert.Nil(t, cleanDate("yesterday"))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, isBlank(""))
	assert.True(t, isBlank("   "))
	assert.True(t, isBlank("nan"))
	assert.True(t, isBlank("NAN"))
	assert.False(t, isBlank("Amazon EC2"))
	assert.False(t, isBlank("0"))
}

func TestLoadCSV_SkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bill.csv")
	contents := "lineItem/UsageAccountId,lineItem/BlendedCost\n" +
		"111122223333,12.50\n" +
		"999900001111,7\"25\n" + // bare quote, row skipped
		"444455556666,7.25\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	table, err := loadCSV(path)
	require.NoError(t, err)
	require.Len(t, table.rows, 2)

	v, ok := table.get(table.rows[0], "lineItem/BlendedCost")
	assert.True(t, ok)
	assert.Equal(t, "12.50", v)

	_, ok = table.get(table.rows[0], "product/region")
	assert.False(t, ok)
}

func TestLoadCSV_ShortRowLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bill.csv")
	contents := "a,b,c\n1,2\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	table, err := loadCSV(path)
	require.NoError(t, err)
	require.Len(t, table.rows, 1)

	// Column exists in the header but the row is short.
	v, ok := table.get(table.rows[0], "c")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}
