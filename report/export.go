package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

var reportHeaders = []string{
	"Date", "Account ID", "Account Name", "Account Email",
	"Service", "Cost", "Cost Unit", "Usage", "Usage Unit",
}

// ExportReportXLSX writes the billing report to a spreadsheet at path.
func ExportReportXLSX(rows []ReportRow, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for col, header := range reportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
	}

	for i, row := range rows {
		values := []any{
			row.Date, row.AccountId, row.AccountName, row.AccountEmail,
			row.Service, row.Cost, row.CostUnit, row.Usage, row.UsageUnit,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("error exporting report to %s: %w", path, err)
	}
	return nil
}
