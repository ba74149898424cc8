package billing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cloudfocus/tbilling_backend/config"
	"github.com/cloudfocus/tbilling_backend/models"
)

// ErrInvoiceAlreadyReconciled is returned when line items already exist for
// the invoice. Re-running reconciliation would duplicate the ledger, so it
// is an explicit error rather than silently additive.
var ErrInvoiceAlreadyReconciled = errors.New("invoice already has line items")

const bulkBatchSize = 500

// pendingLineItem holds a not-yet-persisted line item together with the
// natural keys of its account and service. The foreign keys are resolved
// against the refreshed lookups inside the commit transaction, after the
// conflict-ignored bulk creates have settled which rows actually won.
type pendingLineItem struct {
	item       models.AccountService
	accountId  string
	serviceKey string
}

// ReconcileInvoiceCSV parses the invoice's CSV and persists its line items,
// lazily creating any accounts and services the rows reference, then upserts
// the per-account invoice rollups. The whole commit is one transaction: a
// failure leaves the invoice without line items and the ledger untouched.
func ReconcileInvoiceCSV(ctx context.Context, db *gorm.DB, invoice *models.RootInvoice) error {
	logger := config.GetLogger()

	var existing int64
	if err := db.WithContext(ctx).Model(&models.AccountService{}).
		Where("invoice_id = ?", invoice.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return ErrInvoiceAlreadyReconciled
	}

	if _, err := os.Stat(invoice.InvoiceFile); err != nil {
		return fmt.Errorf("CSV file not found: %s", invoice.InvoiceFile)
	}

	table, err := loadCSV(invoice.InvoiceFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", invoice.InvoiceFile, err)
	}

	existingAccounts, err := loadAccountLookup(ctx, db)
	if err != nil {
		return err
	}
	existingServices, err := loadServiceLookup(ctx, db)
	if err != nil {
		return err
	}

	newAccounts := make(map[string]*models.AwsAccount)
	newServices := make(map[string]*models.Service)
	var pending []pendingLineItem

	// Per-account blended-cost totals accumulated across the whole file.
	accountTotals := make(map[string]float64)

	for _, row := range table.rows {
		parsed, ok := buildLineItem(table, row, invoice, logger)
		if !ok {
			continue
		}
		accountId := parsed.accountId
		serviceKey := models.ServiceKey(parsed.serviceName, parsed.region)

		if _, seen := existingAccounts[accountId]; !seen {
			if _, seen := newAccounts[accountId]; !seen {
				newAccounts[accountId] = &models.AwsAccount{
					AccountId: accountId,
					Name:      fmt.Sprintf("AWS Account %s", accountId),
				}
			}
		}

		if _, seen := existingServices[serviceKey]; !seen {
			if _, seen := newServices[serviceKey]; !seen {
				newServices[serviceKey] = &models.Service{Name: parsed.serviceName, Region: parsed.region}
			}
		}

		pending = append(pending, pendingLineItem{item: parsed.item, accountId: accountId, serviceKey: serviceKey})
		accountTotals[accountId] += parsed.item.BlendedCost
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(newAccounts) > 0 {
			accounts := make([]*models.AwsAccount, 0, len(newAccounts))
			for _, acc := range newAccounts {
				accounts = append(accounts, acc)
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(accounts, bulkBatchSize).Error; err != nil {
				return err
			}
			// A conflict-ignored create means our in-memory row may not be
			// the one stored; reload before resolving references.
			if existingAccounts, err = loadAccountLookup(ctx, tx); err != nil {
				return err
			}
		}

		if len(newServices) > 0 {
			services := make([]*models.Service, 0, len(newServices))
			for _, srv := range newServices {
				services = append(services, srv)
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(services, bulkBatchSize).Error; err != nil {
				return err
			}
			if existingServices, err = loadServiceLookup(ctx, tx); err != nil {
				return err
			}
		}

		items := make([]*models.AccountService, 0, len(pending))
		for i := range pending {
			p := &pending[i]
			account, ok := existingAccounts[p.accountId]
			if !ok {
				return fmt.Errorf("account %s missing after bulk create", p.accountId)
			}
			service, ok := existingServices[p.serviceKey]
			if !ok {
				return fmt.Errorf("service %s missing after bulk create", p.serviceKey)
			}
			p.item.AwsAccountId = account.ID
			p.item.ServiceId = service.ID
			items = append(items, &p.item)
		}
		if len(items) > 0 {
			if err := tx.CreateInBatches(items, bulkBatchSize).Error; err != nil {
				return err
			}
		}

		for accountId, total := range accountTotals {
			account := existingAccounts[accountId]
			if err := models.UpsertAccountInvoice(ctx, tx, account.ID, invoice, total); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		config.LogError(logger, "billing", "ReconcileInvoiceCSV", "commit", invoice.ID, err)
		return err
	}

	logger.WithFields(logrus.Fields{
		"invoice": invoice.ID,
		"rows":    len(pending),
		"file":    invoice.InvoiceFile,
	}).Info("successfully processed invoice CSV")
	return nil
}

// parsedRow is the outcome of coercing one string-typed CSV row: the line
// item plus the natural keys of the account and service it references.
type parsedRow struct {
	accountId   string
	serviceName string
	region      string
	item        models.AccountService
}

// buildLineItem turns one CSV row into a parsedRow. Returns ok=false for
// rows that cannot identify their account; those are logged and skipped
// without aborting the file.
func buildLineItem(table *csvTable, row []string, invoice *models.RootInvoice, logger *logrus.Logger) (parsedRow, bool) {
	rawAccount, _ := table.get(row, "lineItem/UsageAccountId")
	accountId := strings.TrimSpace(rawAccount)
	if accountId == "" {
		logger.Warn("skipping row without usage account id")
		return parsedRow{}, false
	}

	serviceName, _ := table.get(row, "product/ProductName")
	if isBlank(serviceName) {
		serviceName, _ = table.get(row, "lineItem/LineItemDescription")
		if isBlank(serviceName) {
			serviceName = models.UnknownServiceName
		}
	}
	serviceName = strings.TrimSpace(serviceName)

	region, regionPresent := table.get(row, "product/region")
	if !regionPresent {
		region = models.DefaultRegion
	} else if isBlank(region) {
		region = models.GlobalRegion
	} else {
		region = strings.TrimSpace(region)
	}

	get := func(column string) string {
		v, _ := table.get(row, column)
		return v
	}
	getOr := func(column, fallback string) string {
		v, present := table.get(row, column)
		if !present {
			return fallback
		}
		return v
	}

	item := models.AccountService{
		InvoiceId:      invoice.ID,
		BlendedCost:    formatFloat(get("lineItem/BlendedCost")),
		UsageAmount:    formatFloat(get("lineItem/UsageAmount")),
		UnblendedCost:  formatFloat(get("lineItem/UnblendedCost")),
		UsageStartDate: cleanDate(get("lineItem/UsageStartDate")),
		UsageEndDate:   cleanDate(get("lineItem/UsageEndDate")),

		ProductDescription: get("product/description"),
		TaxType:            get("lineItem/TaxType"),
		LineItemId:         get("identity/LineItemId"),
		ProductCode:        get("lineItem/ProductCode"),
		CurrencyCode:       getOr("lineItem/CurrencyCode", "USD"),

		PublicOnDemandCostPricing: formatFloat(get("pricing/publicOnDemandRate")),
		UsageUnitPricing:          get("pricing/unit"),
		UsageTermPricing:          get("pricing/term"),
		PublicOnDemandRatePricing: formatFloat(get("pricing/publicOnDemandCost")),

		SavingsPlanUsedCommitment:        formatFloat(get("savingsPlan/UsedCommitment")),
		SavingsPlanRate:                  formatFloat(get("savingsPlan/SavingsPlanRate")),
		SavingsPlanTotalCommitmentToDate: formatFloat(get("savingsPlan/TotalCommitmentToDate")),
		SavingsPlanEffectiveCost:         formatFloat(get("savingsPlan/SavingsPlanEffectiveCost")),
		SavingsPlanArn:                   get("savingsPlan/SavingsPlanARN"),
		SavingsPlanRecurringCommitmentForBillingPeriod:        formatFloat(get("savingsPlan/RecurringCommitmentForBillingPeriod")),
		SavingsPlanAmortizedUpfrontCommitmentForBillingPeriod: formatFloat(get("savingsPlan/AmortizedUpfrontCommitmentForBillingPeriod")),
	}

	return parsedRow{accountId: accountId, serviceName: serviceName, region: region, item: item}, true
}

func loadAccountLookup(ctx context.Context, tx *gorm.DB) (map[string]*models.AwsAccount, error) {
	var accounts []*models.AwsAccount
	if err := tx.WithContext(ctx).Find(&accounts).Error; err != nil {
		return nil, err
	}
	lookup := make(map[string]*models.AwsAccount, len(accounts))
	for _, acc := range accounts {
		lookup[acc.AccountId] = acc
	}
	return lookup, nil
}

func loadServiceLookup(ctx context.Context, tx *gorm.DB) (map[string]*models.Service, error) {
	var services []*models.Service
	if err := tx.WithContext(ctx).Find(&services).Error; err != nil {
		return nil, err
	}
	lookup := make(map[string]*models.Service, len(services))
	for _, srv := range services {
		lookup[models.ServiceKey(srv.Name, srv.Region)] = srv
	}
	return lookup, nil
}
