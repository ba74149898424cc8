package billing

import (
	"context"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/cloudfocus/tbilling_backend/config"
	"github.com/cloudfocus/tbilling_backend/models"
	"github.com/cloudfocus/tbilling_backend/utils"
)

type IngestStatus string

const (
	// IngestStatusCreated means at least one invoice was created this run.
	IngestStatusCreated IngestStatus = "created"
	// IngestStatusAlreadyExists means an invoice already covers the period.
	IngestStatusAlreadyExists IngestStatus = "already_exists"
	// IngestStatusNoFiles means discovery found no billing files.
	IngestStatusNoFiles IngestStatus = "no_files"
)

// IngestResult is the structured outcome returned to the trigger surface.
type IngestResult struct {
	Status   IngestStatus `json:"status"`
	Invoices []string     `json:"invoices,omitempty"`
}

// CheckAndIngest is the monthly ingestion trigger: idempotent per billing
// period. If no invoice exists for the previous full calendar month it
// discovers, fetches and extracts that month's CUR files, creates one
// invoice per CSV and runs the reconciliation engine on each, explicitly and
// synchronously. A reconciliation failure for one invoice is logged and does
// not abort the remaining files; the extracted staging directory is removed
// only after invoices were created.
func CheckAndIngest(ctx context.Context, db *gorm.DB, fetcher *S3FileFetcher, cfg *config.BillingConfig, today time.Time) (*IngestResult, error) {
	logger := config.GetLogger()

	billStart, billEnd := utils.BillingPeriod(today)
	invoiceDate := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	exists, err := models.RootInvoiceExists(ctx, db, billStart, billEnd)
	if err != nil {
		return nil, err
	}
	if exists {
		return &IngestResult{Status: IngestStatusAlreadyExists}, nil
	}

	extractedFiles, err := GetThisMonthCSVBills(ctx, fetcher, cfg, today)
	if err != nil {
		return nil, err
	}
	if len(extractedFiles) == 0 {
		return &IngestResult{Status: IngestStatusNoFiles}, nil
	}

	result := &IngestResult{Status: IngestStatusCreated}
	for _, csvFile := range extractedFiles {
		if _, err := os.Stat(csvFile); err != nil {
			config.LogError(logger, "billing", "CheckAndIngest", "missing extracted file", csvFile, err)
			continue
		}

		invoice, err := models.CreateRootInvoice(ctx, db, csvFile, invoiceDate, billStart, billEnd)
		if err != nil {
			config.LogError(logger, "billing", "CheckAndIngest", "create invoice", csvFile, err)
			return nil, err
		}

		// Reconciliation runs explicitly, right after invoice creation. If
		// it fails the invoice persists without line items; reported via
		// logs, not retried.
		if err := ReconcileInvoiceCSV(ctx, db, invoice); err != nil {
			config.LogError(logger, "billing", "CheckAndIngest", "reconcile", invoice.ID, err)
		}

		result.Invoices = append(result.Invoices, csvFile)
	}

	if len(result.Invoices) > 0 {
		if err := os.RemoveAll(cfg.ExtractedDir); err != nil {
			config.LogError(logger, "billing", "CheckAndIngest", "cleanup extracted dir", cfg.ExtractedDir, err)
		} else {
			logger.Info("deleted extracted folder")
		}
	}
	return result, nil
}
