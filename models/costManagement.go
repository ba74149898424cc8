package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AwsCostManagement is the Cost Explorer-sourced ledger, parallel to and
// coarser than the CUR line items: one row per (billing_date, account_id,
// service), upserted on every sync. Account name and email are denormalized
// snapshots from the Organizations listing at sync time.
type AwsCostManagement struct {
	BaseModel
	AwsAccountId uuid.UUID `gorm:"type:char(36);index" json:"aws_account_id"`

	BillingDate  time.Time `gorm:"uniqueIndex:idx_cost_day_account_service,priority:1" json:"billing_date"`
	AccountId    string    `gorm:"size:64;uniqueIndex:idx_cost_day_account_service,priority:2" json:"account_id"`
	Service      string    `gorm:"size:191;uniqueIndex:idx_cost_day_account_service,priority:3" json:"service"`
	AccountName  string    `gorm:"size:255" json:"account_name"`
	AccountEmail string    `gorm:"size:255" json:"account_email"`
	Cost         float64   `gorm:"default:0" json:"cost"`
	CostUnit     string    `gorm:"size:25" json:"cost_unit"`
	Usage        float64   `gorm:"default:0" json:"usage"`
	UsageUnit    string    `gorm:"size:25;default:-" json:"usage_unit"`
}

// UpsertCostManagement inserts or updates the record for the composite key
// (billing_date, account_id, service). Returns whether a new row was
// created: the monthly rollup is recomputed on creation only, and the caller
// does that explicitly.
func UpsertCostManagement(ctx context.Context, tx *gorm.DB, record *AwsCostManagement) (bool, error) {
	var existing AwsCostManagement
	err := tx.WithContext(ctx).
		Where("billing_date = ? AND account_id = ? AND service = ?",
			record.BillingDate, record.AccountId, record.Service).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := tx.WithContext(ctx).Create(record).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	err = tx.WithContext(ctx).Model(&existing).
		Select("aws_account_id", "account_name", "account_email", "cost", "cost_unit", "usage", "usage_unit").
		Updates(map[string]any{
			"aws_account_id": record.AwsAccountId,
			"account_name":   record.AccountName,
			"account_email":  record.AccountEmail,
			"cost":           record.Cost,
			"cost_unit":      record.CostUnit,
			"usage":          record.Usage,
			"usage_unit":     record.UsageUnit,
		}).Error
	if err != nil {
		return false, err
	}
	record.ID = existing.ID
	return false, nil
}
