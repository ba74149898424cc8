package report

import (
	"context"

	orgTypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"gorm.io/gorm"

	"github.com/cloudfocus/tbilling_backend/models"
	"github.com/cloudfocus/tbilling_backend/utils"
)

// RegisterAccountInvitation invites accountId into the organization and
// records the outcome on the account row. This is an explicit call made by
// the account registration path; nothing is triggered implicitly on save.
func RegisterAccountInvitation(ctx context.Context, db *gorm.DB, m *Manager, accountId, targetEmail string) (*Invitation, error) {
	account, err := models.GetOrCreateAwsAccount(ctx, db, accountId)
	if err != nil {
		return nil, err
	}

	invitation, err := m.InviteAccount(ctx, accountId, targetEmail)
	if err != nil {
		return nil, err
	}

	if err := models.UpdateInvitationState(ctx, account,
		invitationStatus(invitation.Status), invitation.InvitationId); err != nil {
		return nil, err
	}
	return invitation, nil
}

// RefreshInvitationState re-reads the handshake for an account's outstanding
// invitation and updates the tracked status. Accounts that were never invited
// return ErrorRecordNotFound.
func RefreshInvitationState(ctx context.Context, m *Manager, accountId string) (*models.AwsAccount, error) {
	account, err := models.GetAwsAccountByAccountId(ctx, accountId)
	if err != nil {
		return nil, err
	}
	if account.InvitationId == "" {
		return nil, utils.ErrorRecordNotFound
	}

	state, err := m.CheckInvitationStatus(ctx, account.InvitationId)
	if err != nil {
		return nil, err
	}

	if err := models.UpdateInvitationState(ctx, account,
		invitationStatus(state), account.InvitationId); err != nil {
		return nil, err
	}
	return account, nil
}

// invitationStatus maps a handshake state to the account's tracked status.
func invitationStatus(handshakeState string) models.InvitationStatus {
	switch orgTypes.HandshakeState(handshakeState) {
	case orgTypes.HandshakeStateAccepted:
		return models.InvitationStatusAccepted
	case orgTypes.HandshakeStateDeclined, orgTypes.HandshakeStateCanceled, orgTypes.HandshakeStateExpired:
		return models.InvitationStatusRejected
	default:
		return models.InvitationStatusPending
	}
}
