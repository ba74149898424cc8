package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AWSAccountInvoice is the per-account rollup for one billing period: the
// sum of that account's line-item blended costs within the period. Unique
// per (aws_account_id, bill_start_date, bill_end_date); the total is
// overwritten, not added to, on each ingestion run.
type AWSAccountInvoice struct {
	BaseModel
	AwsAccountId  uuid.UUID `gorm:"type:char(36);uniqueIndex:idx_account_period,priority:1" json:"aws_account_id"`
	TotalAmount   float64   `gorm:"default:0" json:"total_amount"`
	InvoiceDate   time.Time `json:"invoice_date"`
	BillStartDate time.Time `gorm:"uniqueIndex:idx_account_period,priority:2" json:"bill_start_date"`
	BillEndDate   time.Time `gorm:"uniqueIndex:idx_account_period,priority:3" json:"bill_end_date"`
}

// UpsertAccountInvoice creates the rollup for (account, period) or replaces
// its total when it already exists. The period scopes the recompute to one
// invoice run, so replacing is correct even across re-runs.
func UpsertAccountInvoice(ctx context.Context, tx *gorm.DB, accountId uuid.UUID, invoice *RootInvoice, total float64) error {
	var existing AWSAccountInvoice
	err := tx.WithContext(ctx).
		Where("aws_account_id = ? AND bill_start_date = ? AND bill_end_date = ?",
			accountId, invoice.BillStartDate, invoice.BillEndDate).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record := AWSAccountInvoice{
			AwsAccountId:  accountId,
			TotalAmount:   total,
			InvoiceDate:   invoice.InvoiceDate,
			BillStartDate: invoice.BillStartDate,
			BillEndDate:   invoice.BillEndDate,
		}
		return tx.WithContext(ctx).Create(&record).Error
	}
	if err != nil {
		return err
	}

	return tx.WithContext(ctx).Model(&existing).Update("total_amount", total).Error
}
