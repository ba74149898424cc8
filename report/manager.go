package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	ceTypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgTypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/sirupsen/logrus"

	"github.com/cloudfocus/tbilling_backend/config"
)

// Cost Explorer and Organizations are global services homed in us-east-1.
const managerRegion = "us-east-1"

// OrganizationsAPI is the slice of the Organizations client the manager uses.
type OrganizationsAPI interface {
	ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error)
	InviteAccountToOrganization(ctx context.Context, params *organizations.InviteAccountToOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.InviteAccountToOrganizationOutput, error)
	DescribeHandshake(ctx context.Context, params *organizations.DescribeHandshakeInput, optFns ...func(*organizations.Options)) (*organizations.DescribeHandshakeOutput, error)
	ListHandshakesForOrganization(ctx context.Context, params *organizations.ListHandshakesForOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.ListHandshakesForOrganizationOutput, error)
	CreateAccount(ctx context.Context, params *organizations.CreateAccountInput, optFns ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error)
	DescribeCreateAccountStatus(ctx context.Context, params *organizations.DescribeCreateAccountStatusInput, optFns ...func(*organizations.Options)) (*organizations.DescribeCreateAccountStatusOutput, error)
}

// CostExplorerAPI is the slice of the Cost Explorer client the manager uses.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// STSAPI resolves the payer account identity.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Manager talks to the consolidated-billing payer account: listing linked
// accounts, querying cost and usage, and running the organization invite
// workflow.
type Manager struct {
	Org    OrganizationsAPI
	CE     CostExplorerAPI
	STS    STSAPI
	logger *logrus.Logger
}

// NewManager builds the AWS clients from the billing configuration.
func NewManager(ctx context.Context, cfg *config.BillingConfig) (*Manager, error) {
	awsCfg, err := cfg.AWSConfig(ctx, managerRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AWS clients: %w", err)
	}
	return &Manager{
		Org:    organizations.NewFromConfig(awsCfg),
		CE:     costexplorer.NewFromConfig(awsCfg),
		STS:    sts.NewFromConfig(awsCfg),
		logger: config.GetLogger(),
	}, nil
}

// LinkedAccount is one active member account of the organization.
type LinkedAccount struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MasterAccountId returns the account id of the credentials in use.
func (m *Manager) MasterAccountId(ctx context.Context) (string, error) {
	out, err := m.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Account), nil
}

// GetLinkedAccounts lists every ACTIVE account in the organization.
func (m *Manager) GetLinkedAccounts(ctx context.Context) ([]LinkedAccount, error) {
	var accounts []LinkedAccount
	var nextToken *string
	for {
		out, err := m.Org.ListAccounts(ctx, &organizations.ListAccountsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("error fetching linked accounts: %w", err)
		}
		for _, account := range out.Accounts {
			if account.Status != orgTypes.AccountStatusActive {
				continue
			}
			accounts = append(accounts, LinkedAccount{
				Id:    aws.ToString(account.Id),
				Name:  aws.ToString(account.Name),
				Email: aws.ToString(account.Email),
			})
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return accounts, nil
}

// GetCostAndUsage queries cost and usage between start and end at monthly
// granularity, grouped by service and linked account. accountId, when
// non-empty, restricts the query to that member account.
func (m *Manager) GetCostAndUsage(ctx context.Context, start, end time.Time, accountId string) (*costexplorer.GetCostAndUsageOutput, error) {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &ceTypes.DateInterval{
			Start: aws.String(start.Format("2006-01-02")),
			End:   aws.String(end.Format("2006-01-02")),
		},
		Granularity: ceTypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost", "UsageQuantity"},
		GroupBy: []ceTypes.GroupDefinition{
			{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
			{Type: ceTypes.GroupDefinitionTypeDimension, Key: aws.String("LINKED_ACCOUNT")},
		},
	}
	if accountId != "" {
		input.Filter = &ceTypes.Expression{
			Dimensions: &ceTypes.DimensionValues{
				Key:    ceTypes.DimensionLinkedAccount,
				Values: []string{accountId},
			},
		}
	}
	return m.CE.GetCostAndUsage(ctx, input)
}

// ReportRow is one flattened entry of the billing report: the cost and usage
// of one service for one account in one time period.
type ReportRow struct {
	Date         string  `json:"date"`
	AccountId    string  `json:"account_id"`
	AccountName  string  `json:"account_name"`
	AccountEmail string  `json:"account_email"`
	Service      string  `json:"service"`
	Cost         float64 `json:"cost"`
	CostUnit     string  `json:"cost_unit"`
	Usage        float64 `json:"usage"`
	UsageUnit    string  `json:"usage_unit"`
}

// GenerateBillingReport queries cost and usage from startDate through
// tomorrow (so the current day's partial data is included) and reshapes the
// grouped time series into flat report rows.
func (m *Manager) GenerateBillingReport(ctx context.Context, startDate time.Time) ([]ReportRow, error) {
	accounts, err := m.GetLinkedAccounts(ctx)
	if err != nil {
		return nil, err
	}

	end := time.Now().UTC().AddDate(0, 0, 1)
	costData, err := m.GetCostAndUsage(ctx, startDate, end, "")
	if err != nil {
		return nil, err
	}

	return reshapeReport(costData, accounts), nil
}

// reshapeReport flattens a grouped Cost Explorer response into report rows,
// joining in the account name/email snapshots from the Organizations
// listing. Accounts missing from the listing get "Unknown" snapshots.
func reshapeReport(costData *costexplorer.GetCostAndUsageOutput, accounts []LinkedAccount) []ReportRow {
	nameById := make(map[string]string, len(accounts))
	emailById := make(map[string]string, len(accounts))
	for _, acc := range accounts {
		nameById[acc.Id] = acc.Name
		emailById[acc.Id] = acc.Email
	}

	var rows []ReportRow
	for _, result := range costData.ResultsByTime {
		timePeriod := ""
		if result.TimePeriod != nil {
			timePeriod = aws.ToString(result.TimePeriod.Start)
		}
		for _, group := range result.Groups {
			if len(group.Keys) < 2 {
				continue
			}
			service := group.Keys[0]
			accountId := group.Keys[1]

			cost, costUnit := metricValue(group.Metrics, "UnblendedCost")
			usage, usageUnit := metricValue(group.Metrics, "UsageQuantity")

			name, ok := nameById[accountId]
			if !ok {
				name = "Unknown"
			}
			email, ok := emailById[accountId]
			if !ok {
				email = "Unknown"
			}

			rows = append(rows, ReportRow{
				Date:         timePeriod,
				AccountId:    accountId,
				AccountName:  name,
				AccountEmail: email,
				Service:      service,
				Cost:         cost,
				CostUnit:     costUnit,
				Usage:        usage,
				UsageUnit:    usageUnit,
			})
		}
	}
	return rows
}

func metricValue(metrics map[string]ceTypes.MetricValue, name string) (float64, string) {
	metric, ok := metrics[name]
	if !ok {
		return 0, ""
	}
	amount, _ := strconv.ParseFloat(aws.ToString(metric.Amount), 64)
	return amount, aws.ToString(metric.Unit)
}

// CostAlert flags an account whose unblended cost for the current month
// exceeds a threshold.
type CostAlert struct {
	AccountId string  `json:"account_id"`
	Cost      float64 `json:"cost"`
	Threshold float64 `json:"threshold"`
}

// GetAccountCostAlerts checks the current month's cost per account/service
// group against the threshold.
func (m *Manager) GetAccountCostAlerts(ctx context.Context, threshold float64) ([]CostAlert, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	costData, err := m.GetCostAndUsage(ctx, start, now, "")
	if err != nil {
		return nil, err
	}

	var alerts []CostAlert
	for _, result := range costData.ResultsByTime {
		for _, group := range result.Groups {
			if len(group.Keys) < 2 {
				continue
			}
			cost, _ := metricValue(group.Metrics, "UnblendedCost")
			if cost > threshold {
				alerts = append(alerts, CostAlert{
					AccountId: group.Keys[1],
					Cost:      cost,
					Threshold: threshold,
				})
			}
		}
	}
	return alerts, nil
}

// Invitation is the outcome of inviting an account into the organization.
type Invitation struct {
	InvitationId string `json:"invitation_id"`
	AccountId    string `json:"account_id"`
	Status       string `json:"status"`
}

// InviteAccount invites an existing AWS account to join the organization.
// An account that is already a member reports ACCEPTED; an already-pending
// invitation reports OPEN. Both are normal outcomes, not errors.
func (m *Manager) InviteAccount(ctx context.Context, accountId, targetEmail string) (*Invitation, error) {
	input := &organizations.InviteAccountToOrganizationInput{
		Target: &orgTypes.HandshakeParty{
			Id:   aws.String(accountId),
			Type: orgTypes.HandshakePartyTypeAccount,
		},
	}
	if targetEmail != "" {
		input.Notes = aws.String(fmt.Sprintf("Invitation for %s", targetEmail))
	}

	out, err := m.Org.InviteAccountToOrganization(ctx, input)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "already a member"):
			return &Invitation{AccountId: accountId, Status: string(orgTypes.HandshakeStateAccepted)}, nil
		case strings.Contains(err.Error(), "already exists"):
			return &Invitation{AccountId: accountId, Status: string(orgTypes.HandshakeStateOpen)}, nil
		default:
			config.LogError(m.logger, "report", "InviteAccount", "invite", accountId, err)
			return nil, err
		}
	}

	m.logger.WithField("account_id", accountId).Info("invitation sent")
	return &Invitation{
		InvitationId: aws.ToString(out.Handshake.Id),
		AccountId:    accountId,
		Status:       string(out.Handshake.State),
	}, nil
}

// CheckInvitationStatus returns the current state of an invitation.
func (m *Manager) CheckInvitationStatus(ctx context.Context, invitationId string) (string, error) {
	out, err := m.Org.DescribeHandshake(ctx, &organizations.DescribeHandshakeInput{
		HandshakeId: aws.String(invitationId),
	})
	if err != nil {
		return "", fmt.Errorf("error checking invitation status: %w", err)
	}
	return string(out.Handshake.State), nil
}

// ListPendingInvitations lists the organization's outstanding invites.
func (m *Manager) ListPendingInvitations(ctx context.Context) ([]orgTypes.Handshake, error) {
	out, err := m.Org.ListHandshakesForOrganization(ctx, &organizations.ListHandshakesForOrganizationInput{
		Filter: &orgTypes.HandshakeFilter{ActionType: orgTypes.ActionTypeInviteAccountToOrganization},
	})
	if err != nil {
		return nil, fmt.Errorf("error listing pending invitations: %w", err)
	}
	return out.Handshakes, nil
}

// CreatedAccount describes a freshly provisioned organization account.
type CreatedAccount struct {
	AccountId   string `json:"account_id"`
	AccountName string `json:"account_name"`
	Email       string `json:"email"`
	RoleName    string `json:"role_name"`
}

const createAccountPollInterval = 10 * time.Second

// CreateAccountDefaultRole is the IAM role provisioned in new member
// accounts when none is specified.
const CreateAccountDefaultRole = "OrganizationAccountAccessRole"

// CreateAccount provisions a new AWS account in the organization and polls
// until creation finishes.
func (m *Manager) CreateAccount(ctx context.Context, accountName, email, roleName string) (*CreatedAccount, error) {
	if roleName == "" {
		roleName = CreateAccountDefaultRole
	}

	out, err := m.Org.CreateAccount(ctx, &organizations.CreateAccountInput{
		AccountName:            aws.String(accountName),
		Email:                  aws.String(email),
		RoleName:               aws.String(roleName),
		IamUserAccessToBilling: orgTypes.IAMUserAccessToBillingAllow,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}

	requestId := out.CreateAccountStatus.Id
	for {
		statusOut, err := m.Org.DescribeCreateAccountStatus(ctx, &organizations.DescribeCreateAccountStatusInput{
			CreateAccountRequestId: requestId,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating account: %w", err)
		}

		status := statusOut.CreateAccountStatus
		switch status.State {
		case orgTypes.CreateAccountStateSucceeded:
			accountId := aws.ToString(status.AccountId)
			m.logger.WithField("account_id", accountId).Info("account created successfully")
			return &CreatedAccount{
				AccountId:   accountId,
				AccountName: accountName,
				Email:       email,
				RoleName:    roleName,
			}, nil
		case orgTypes.CreateAccountStateFailed:
			return nil, fmt.Errorf("account creation failed: %s", status.FailureReason)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(createAccountPollInterval):
		}
	}
}
