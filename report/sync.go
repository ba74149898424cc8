package report

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cloudfocus/tbilling_backend/config"
	"github.com/cloudfocus/tbilling_backend/models"
)

// SyncCostManagement upserts the report rows into the cost-management
// ledger. Each row resolves (or lazily creates) its account, then inserts or
// overwrites the record keyed by (billing_date, account_id, service). The
// monthly rollup is recomputed explicitly whenever a new record is created,
// never on update. Returns the number of rows processed.
func SyncCostManagement(ctx context.Context, db *gorm.DB, rows []ReportRow) (int, error) {
	logger := config.GetLogger()

	processed := 0
	for _, row := range rows {
		billingDate, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return processed, fmt.Errorf("invalid report date %q: %w", row.Date, err)
		}

		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := models.GetOrCreateAwsAccount(ctx, tx, row.AccountId)
			if err != nil {
				return err
			}

			record := models.AwsCostManagement{
				AwsAccountId: account.ID,
				BillingDate:  billingDate,
				AccountId:    row.AccountId,
				AccountName:  row.AccountName,
				AccountEmail: row.AccountEmail,
				Service:      row.Service,
				Cost:         row.Cost,
				CostUnit:     row.CostUnit,
				Usage:        row.Usage,
				UsageUnit:    row.UsageUnit,
			}
			created, err := models.UpsertCostManagement(ctx, tx, &record)
			if err != nil {
				return err
			}
			if created {
				return models.RecomputeMonthlyCost(ctx, tx, account, billingDate)
			}
			return nil
		})
		if err != nil {
			config.LogError(logger, "report", "SyncCostManagement", "upsert", row, err)
			return processed, err
		}
		processed++
	}
	return processed, nil
}
