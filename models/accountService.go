package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountService is one CUR line item: a per-row cost record tying an
// account and a service to the invoice the row came from. Numeric fields are
// always finite floats; absence in the source defaults to 0, never null.
// Rows are bulk-created per ingestion run and never updated in place.
type AccountService struct {
	BaseModel
	AwsAccountId uuid.UUID `gorm:"type:char(36);index:idx_account_invoice,priority:1" json:"aws_account_id"`
	ServiceId    uuid.UUID `gorm:"type:char(36);index" json:"service_id"`
	InvoiceId    uuid.UUID `gorm:"type:char(36);index:idx_account_invoice,priority:2" json:"invoice_id"`

	Invoice *RootInvoice `gorm:"foreignKey:InvoiceId;constraint:OnDelete:CASCADE" json:"-"`

	BlendedCost    float64 `gorm:"default:0" json:"blended_cost"`     // lineItem/BlendedCost
	UsageAmount    float64 `gorm:"default:0" json:"usage_amount"`     // lineItem/UsageAmount
	UnblendedCost  float64 `gorm:"default:0" json:"unblended_cost"`   // lineItem/UnblendedCost
	UsageStartDate *time.Time `gorm:"index" json:"usage_start_date"`  // lineItem/UsageStartDate
	UsageEndDate   *time.Time `gorm:"index" json:"usage_end_date"`    // lineItem/UsageEndDate

	ProductDescription string `gorm:"type:text" json:"product_description"` // product/description
	TaxType            string `gorm:"size:255" json:"tax_type"`             // lineItem/TaxType
	LineItemId         string `gorm:"size:255" json:"line_item_id"`         // identity/LineItemId
	ProductCode        string `gorm:"size:255" json:"product_code"`         // lineItem/ProductCode
	CurrencyCode       string `gorm:"size:10;default:USD" json:"currency_code"` // lineItem/CurrencyCode

	PublicOnDemandCostPricing float64 `gorm:"default:0" json:"public_on_demand_cost_pricing"` // pricing/publicOnDemandRate
	UsageUnitPricing          string  `gorm:"size:255" json:"usage_unit_pricing"`             // pricing/unit
	UsageTermPricing          string  `gorm:"size:255" json:"usage_term_pricing"`             // pricing/term
	PublicOnDemandRatePricing float64 `gorm:"default:0" json:"public_on_demand_rate_pricing"` // pricing/publicOnDemandCost

	SavingsPlanUsedCommitment                           float64 `gorm:"default:0" json:"savings_plan_used_commitment"`                   // savingsPlan/UsedCommitment
	SavingsPlanRate                                     float64 `gorm:"default:0" json:"savings_plan_rate"`                              // savingsPlan/SavingsPlanRate
	SavingsPlanTotalCommitmentToDate                    float64 `gorm:"default:0" json:"savings_plan_total_commitment_to_date"`          // savingsPlan/TotalCommitmentToDate
	SavingsPlanEffectiveCost                            float64 `gorm:"default:0" json:"savings_plan_effective_cost"`                    // savingsPlan/SavingsPlanEffectiveCost
	SavingsPlanArn                                      string  `gorm:"size:255" json:"savings_plan_arn"`                                // savingsPlan/SavingsPlanARN
	SavingsPlanRecurringCommitmentForBillingPeriod      float64 `gorm:"default:0" json:"savings_plan_recurring_commitment"`              // savingsPlan/RecurringCommitmentForBillingPeriod
	SavingsPlanAmortizedUpfrontCommitmentForBillingPeriod float64 `gorm:"default:0" json:"savings_plan_amortized_upfront_commitment"`    // savingsPlan/AmortizedUpfrontCommitmentForBillingPeriod

	ExtraRateType  string  `gorm:"size:50;default:Percentage" json:"extra_rate_type"`
	ExtraRateValue float64 `gorm:"default:0" json:"extra_rate_value"`
}
