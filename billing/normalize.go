package billing

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudfocus/tbilling_backend/config"
)

// formatFloat coerces a CUR numeric field to a finite float64. Parsing goes
// through decimal rounded to 10 places, which flattens scientific-notation
// and precision artifacts from the source format. Anything non-numeric
// (including "nan" and blanks) becomes 0.
func formatFloat(value string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0.0
	}
	return d.Round(10).InexactFloat64()
}

// cleanDate parses an ISO-prefixed CUR timestamp ("2006-01-02T15:04:05Z")
// down to its date. Blank, "nan" or unparseable input yields nil; the row is
// still processed.
func cleanDate(value string) *time.Time {
	s := strings.TrimSpace(value)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil
	}
	datePart, _, _ := strings.Cut(s, "T")
	t, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		config.GetLogger().WithField("value", value).Warn("error parsing date")
		return nil
	}
	return &t
}

// isBlank reports whether a CUR string field is missing for practical
// purposes: empty after trimming, or the literal "nan" the source format
// writes for absent values.
func isBlank(value string) bool {
	s := strings.TrimSpace(value)
	return s == "" || strings.EqualFold(s, "nan")
}

// csvTable is a CUR file loaded fully into memory as string-typed rows; all
// type coercion is explicit and local to the consumer.
type csvTable struct {
	columns map[string]int
	rows    [][]string
}

// get returns the row's value for the named column, and whether the column
// exists in the file at all. Unexpected columns are simply never asked for.
func (t *csvTable) get(row []string, column string) (string, bool) {
	idx, ok := t.columns[column]
	if !ok || idx >= len(row) {
		return "", ok
	}
	return row[idx], true
}

// loadCSV reads the whole file. Rows with a mismatched field count are
// logged and skipped; they never abort the rest of the file.
func loadCSV(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	table := &csvTable{columns: make(map[string]int, len(header))}
	for i, name := range header {
		table.columns[strings.TrimSpace(name)] = i
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			config.GetLogger().WithField("file", path).Warn("skipping malformed CSV row")
			continue
		}
		table.rows = append(table.rows, row)
	}
	return table, nil
}
