package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeLog is an append-only record of a single field change on an entity.
// It replaces a self-diffing save hook: writers append entries explicitly,
// and the bulk-insert reconciliation path never produces any.
type ChangeLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EntityType string    `gorm:"size:64;index:idx_changelog_entity,priority:1" json:"entity_type"`
	EntityId   uuid.UUID `gorm:"type:char(36);index:idx_changelog_entity,priority:2" json:"entity_id"`
	Field      string    `gorm:"size:64" json:"field"`
	OldValue   string    `gorm:"type:text" json:"old_value"`
	NewValue   string    `gorm:"type:text" json:"new_value"`
	ChangedAt  time.Time `gorm:"autoCreateTime" json:"changed_at"`
}

func NewChangeLog(entityType string, entityId uuid.UUID, field, oldValue, newValue string) ChangeLog {
	return ChangeLog{
		EntityType: entityType,
		EntityId:   entityId,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
	}
}
