package models

import "time"

const (
	ChangeTypeCreated         = "created"
	ChangeTypeRenewed         = "renewed"
	ChangeTypePaymentFailed   = "payment_failed"
	ChangeTypeRecovered       = "recovered"
	ChangeTypeCancelScheduled = "cancel_scheduled"
	ChangeTypeCancelled       = "cancelled"
	ChangeTypeReactivated     = "reactivated"
	ChangeTypeExpired         = "expired"
	ChangeTypeSuperseded      = "superseded"
)

// SubscriptionChangeLog is the append-only audit trail. One row per applied
// lifecycle transition; replayed or stale events write nothing.
type SubscriptionChangeLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	SubscriptionID string    `gorm:"type:char(36);not null;index" json:"subscription_id"`
	ChangeType     string    `gorm:"type:varchar(40);not null;index" json:"change_type"`
	FromPlanID     string    `gorm:"type:varchar(50);default:''" json:"from_plan_id"`
	ToPlanID       string    `gorm:"type:varchar(50);default:''" json:"to_plan_id"`
	Reason         string    `gorm:"type:varchar(255);default:''" json:"reason"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
