package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudfocus/tbilling_backend/config"
	"github.com/cloudfocus/tbilling_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusRejected InvitationStatus = "rejected"
)

// AwsAccount is a shared reference entity: one row per AWS account id ever
// seen in a CUR file or a Cost Explorer response. Rows are created lazily and
// their natural key (account_id) is never updated in place.
type AwsAccount struct {
	BaseModel
	AccountId string `gorm:"size:64;uniqueIndex" json:"account_id"`
	Name      string `gorm:"size:255" json:"name"`
	Email     string `gorm:"size:255" json:"email"`

	// Optional link to the customer grouping owning this account. Rollups
	// are skipped for accounts that have not been assigned one yet.
	CustomerId *uuid.UUID `gorm:"type:char(36);index" json:"customer_id"`

	Invitation       bool             `gorm:"default:false" json:"invitation"`
	InvitationStatus InvitationStatus `gorm:"size:10;default:pending" json:"invitation_status"`
	InvitationId     string           `gorm:"size:255" json:"invitation_id"`
}

// GetAwsAccountByAccountId fetches an account by its external account id.
func GetAwsAccountByAccountId(ctx context.Context, accountId string) (*AwsAccount, error) {
	db := config.GetDB()

	var account AwsAccount
	err := db.WithContext(ctx).Where("account_id = ?", accountId).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOrCreateAwsAccount resolves an account by its external account id,
// creating a placeholder row the first time the id is referenced.
func GetOrCreateAwsAccount(ctx context.Context, tx *gorm.DB, accountId string) (*AwsAccount, error) {
	var account AwsAccount
	err := tx.WithContext(ctx).Where("account_id = ?", accountId).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	account = AwsAccount{
		AccountId: accountId,
		Name:      fmt.Sprintf("AWS Account %s", accountId),
	}
	if err := tx.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateInvitationState records the outcome of an organization invite on the
// account row and appends the field changes to the change log. Bulk-inserted
// rows never pass through here; the change log only tracks this slow path.
func UpdateInvitationState(ctx context.Context, account *AwsAccount, status InvitationStatus, invitationId string) error {
	db := config.GetDB()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var logs []ChangeLog
		if account.InvitationStatus != status {
			logs = append(logs, NewChangeLog("AwsAccount", account.ID, "invitation_status",
				string(account.InvitationStatus), string(status)))
		}
		if account.InvitationId != invitationId {
			logs = append(logs, NewChangeLog("AwsAccount", account.ID, "invitation_id",
				account.InvitationId, invitationId))
		}

		account.Invitation = true
		account.InvitationStatus = status
		account.InvitationId = invitationId
		if err := tx.Model(account).
			Select("invitation", "invitation_status", "invitation_id").
			Updates(account).Error; err != nil {
			return err
		}
		if len(logs) > 0 {
			if err := tx.Create(&logs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
