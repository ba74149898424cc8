package report

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportReportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	rows := []ReportRow{
		reportRow("2025-03-01", "111122223333", "Amazon EC2", 42.50),
		reportRow("2025-03-01", "444455556666", "Amazon S3", 3.25),
	}

	require.NoError(t, ExportReportXLSX(rows, path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	sheet := f.GetSheetName(0)

	header, err := f.GetCellValue(sheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Date", header)

	accountId, err := f.GetCellValue(sheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "111122223333", accountId)

	service, err := f.GetCellValue(sheet, "E3")
	require.NoError(t, err)
	assert.Equal(t, "Amazon S3", service)
}
