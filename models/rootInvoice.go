package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// RootInvoice represents one billing-period source file batch: one row per
// CSV file ingested for a billing period. Immutable after creation except for
// the file reference; deletion is an admin action, never done by the
// pipeline.
type RootInvoice struct {
	BaseModel
	InvoiceFile   string    `gorm:"size:512" json:"invoice_file"`
	InvoiceDate   time.Time `json:"invoice_date"`
	BillStartDate time.Time `gorm:"index:idx_invoice_period,priority:1" json:"bill_start_date"`
	BillEndDate   time.Time `gorm:"index:idx_invoice_period,priority:2" json:"bill_end_date"`
}

// RootInvoiceExists reports whether any invoice covers the given billing
// period [billStart, billEnd). The ingestion trigger is a no-op when true.
func RootInvoiceExists(ctx context.Context, tx *gorm.DB, billStart, billEnd time.Time) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&RootInvoice{}).
		Where("bill_start_date = ? AND bill_end_date = ?", billStart, billEnd).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateRootInvoice persists an invoice for one extracted CSV file. The
// caller is responsible for explicitly running the reconciliation engine
// afterwards; nothing is triggered implicitly on save.
func CreateRootInvoice(ctx context.Context, tx *gorm.DB, filePath string, invoiceDate, billStart, billEnd time.Time) (*RootInvoice, error) {
	invoice := RootInvoice{
		InvoiceFile:   filePath,
		InvoiceDate:   invoiceDate,
		BillStartDate: billStart,
		BillEndDate:   billEnd,
	}
	if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}
