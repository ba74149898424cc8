package models_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cloudfocus/tbilling_backend/config"
	"github.com/cloudfocus/tbilling_backend/models"
	"github.com/cloudfocus/tbilling_backend/utils"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "models_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	previous := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() { config.SetDB(previous) })

	models.MigrateTable()
	return db
}

func TestUpsertAccountInvoice_OverwritesTotal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	account, err := models.GetOrCreateAwsAccount(ctx, db, "111122223333")
	require.NoError(t, err)

	invoice, err := models.CreateRootInvoice(ctx, db, "/tmp/bill.csv",
		time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, models.UpsertAccountInvoice(ctx, db, account.ID, invoice, 19.75))
	require.NoError(t, models.UpsertAccountInvoice(ctx, db, account.ID, invoice, 25.00))

	var rollups []models.AWSAccountInvoice
	require.NoError(t, db.Find(&rollups).Error)
	require.Len(t, rollups, 1)
	assert.InDelta(t, 25.00, rollups[0].TotalAmount, 1e-9)
}

func TestGetOrCreateAwsAccount_Placeholder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	account, err := models.GetOrCreateAwsAccount(ctx, db, "111122223333")
	require.NoError(t, err)
	assert.Equal(t, "AWS Account 111122223333", account.Name)
	assert.NotEqual(t, uuid.Nil, account.ID)

	again, err := models.GetOrCreateAwsAccount(ctx, db, "111122223333")
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID)
}

func TestGetAwsAccountByAccountId(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created, err := models.GetOrCreateAwsAccount(ctx, db, "111122223333")
	require.NoError(t, err)

	found, err := models.GetAwsAccountByAccountId(ctx, "111122223333")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = models.GetAwsAccountByAccountId(ctx, "000000000000")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestRecomputeMonthlyCost_FullRecompute(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	customerId := uuid.New()
	account, err := models.GetOrCreateAwsAccount(ctx, db, "111122223333")
	require.NoError(t, err)
	require.NoError(t, db.Model(account).Update("customer_id", customerId).Error)
	account.CustomerId = &customerId

	// Records arrive out of order within the month; the recompute always
	// yields the fresh sum.
	for _, day := range []int{15, 3, 27} {
		record := models.AwsCostManagement{
			AwsAccountId: account.ID,
			BillingDate:  time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC),
			AccountId:    account.AccountId,
			Service:      "Amazon EC2",
			Cost:         float64(day),
		}
		require.NoError(t, db.Create(&record).Error)
	}
	// Adjacent month, excluded from the sum.
	outside := models.AwsCostManagement{
		AwsAccountId: account.ID,
		BillingDate:  time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		AccountId:    account.AccountId,
		Service:      "Amazon EC2",
		Cost:         100,
	}
	require.NoError(t, db.Create(&outside).Error)

	require.NoError(t, models.RecomputeMonthlyCost(ctx, db, account,
		time.Date(2025, 3, 27, 0, 0, 0, 0, time.UTC)))

	var rollup models.MonthlyCostByAccount
	require.NoError(t, db.Where("aws_account_id = ?", account.ID).First(&rollup).Error)
	assert.InDelta(t, 45.0, rollup.TotalCost, 1e-9)
}

func TestRecomputeMonthlyCost_SkipsUngroupedAccounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	account, err := models.GetOrCreateAwsAccount(ctx, db, "111122223333")
	require.NoError(t, err)

	require.NoError(t, models.RecomputeMonthlyCost(ctx, db, account,
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	var count int64
	require.NoError(t, db.Model(&models.MonthlyCostByAccount{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestServiceKey(t *testing.T) {
	assert.Equal(t, "Amazon EC2|us-east-1", models.ServiceKey("Amazon EC2", "us-east-1"))
	assert.Equal(t, "Amazon Route 53|global", models.ServiceKey("Amazon Route 53", models.GlobalRegion))
}
