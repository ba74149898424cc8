package billing

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfocus/tbilling_backend/models"
)

func TestCheckAndIngest_EndToEnd(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	today := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	prefix := "reports/hourly/20250201-20250301/"

	csvBody := []byte("lineItem/UsageAccountId,product/ProductName,product/region,lineItem/BlendedCost\n" +
		"111122223333,Amazon EC2,us-east-1,12.50\n" +
		"111122223333,Amazon S3,us-east-1,7.25\n")

	client := &mockS3{
		pages: [][]string{{prefix + "bill-1.csv.gz"}},
		objects: map[string][]byte{
			prefix + "bill-1.csv.gz": gzipBytes(t, csvBody),
		},
	}
	f := newTestFetcher(client)
	cfg := billingTestConfig(t)

	result, err := CheckAndIngest(ctx, db, f, cfg, today)
	require.NoError(t, err)
	assert.Equal(t, IngestStatusCreated, result.Status)
	require.Len(t, result.Invoices, 1)

	var invoice models.RootInvoice
	require.NoError(t, db.First(&invoice).Error)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), invoice.BillStartDate.UTC())
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), invoice.BillEndDate.UTC())

	var itemCount int64
	require.NoError(t, db.Model(&models.AccountService{}).Count(&itemCount).Error)
	assert.Equal(t, int64(2), itemCount)

	var rollup models.AWSAccountInvoice
	require.NoError(t, db.First(&rollup).Error)
	assert.InDelta(t, 19.75, rollup.TotalAmount, 1e-9)

	// Staging directory is removed once invoices exist.
	_, err = os.Stat(cfg.ExtractedDir)
	assert.True(t, os.IsNotExist(err))
}

func TestCheckAndIngest_IdempotentPerPeriod(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	today := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	prefix := "reports/hourly/20250201-20250301/"

	csvBody := []byte("lineItem/UsageAccountId,product/ProductName,product/region,lineItem/BlendedCost\n" +
		"111122223333,Amazon EC2,us-east-1,1.00\n")

	client := &mockS3{
		pages: [][]string{{prefix + "bill-1.csv.gz"}},
		objects: map[string][]byte{
			prefix + "bill-1.csv.gz": gzipBytes(t, csvBody),
		},
	}
	f := newTestFetcher(client)
	cfg := billingTestConfig(t)

	first, err := CheckAndIngest(ctx, db, f, cfg, today)
	require.NoError(t, err)
	assert.Equal(t, IngestStatusCreated, first.Status)

	second, err := CheckAndIngest(ctx, db, f, cfg, today)
	require.NoError(t, err)
	assert.Equal(t, IngestStatusAlreadyExists, second.Status)
	assert.Empty(t, second.Invoices)

	var invoiceCount int64
	require.NoError(t, db.Model(&models.RootInvoice{}).Count(&invoiceCount).Error)
	assert.Equal(t, int64(1), invoiceCount)
}

func TestCheckAndIngest_NoFiles(t *testing.T) {
	db := setupTestDB(t)
	client := &mockS3{pages: [][]string{{}}}
	f := newTestFetcher(client)
	cfg := billingTestConfig(t)

	result, err := CheckAndIngest(context.Background(), db, f, cfg, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, IngestStatusNoFiles, result.Status)
}
