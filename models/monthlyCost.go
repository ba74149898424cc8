package models

import (
	"context"
	"time"

	"github.com/cloudfocus/tbilling_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MonthlyCostByAccount is the per-account-per-month rollup over the Cost
// Explorer ledger. It is always fully recomputed from AwsCostManagement, so
// it cannot drift from the ledger the way an incremented counter could.
type MonthlyCostByAccount struct {
	BaseModel
	AwsAccountId uuid.UUID `gorm:"type:char(36);uniqueIndex:idx_monthly_account_month,priority:1" json:"aws_account_id"`
	Month        time.Time `gorm:"uniqueIndex:idx_monthly_account_month,priority:2" json:"month"`
	TotalCost    float64   `gorm:"default:0" json:"total_cost"`
}

// RecomputeMonthlyCost refreshes the rollup for the account and the month of
// billingDate by summing all matching cost records. Accounts with no
// customer grouping configured are skipped silently.
func RecomputeMonthlyCost(ctx context.Context, tx *gorm.DB, account *AwsAccount, billingDate time.Time) error {
	if account.CustomerId == nil {
		return nil
	}

	monthStart := utils.BeginningOfMonth(billingDate)
	nextMonth := monthStart.AddDate(0, 1, 0)

	rollup := MonthlyCostByAccount{
		AwsAccountId: account.ID,
		Month:        monthStart,
	}
	if err := tx.WithContext(ctx).
		Where("aws_account_id = ? AND month = ?", account.ID, monthStart).
		FirstOrCreate(&rollup).Error; err != nil {
		return err
	}

	var total float64
	if err := tx.WithContext(ctx).Model(&AwsCostManagement{}).
		Where("aws_account_id = ? AND billing_date >= ? AND billing_date < ?",
			account.ID, monthStart, nextMonth).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&total).Error; err != nil {
		return err
	}

	return tx.WithContext(ctx).Model(&rollup).Update("total_cost", total).Error
}
