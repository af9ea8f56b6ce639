package models

import "time"

const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// PaymentTransaction is the append-only money ledger. The gateway reference is
// unique, which makes replayed charge events land on the same row.
type PaymentTransaction struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	SubscriptionID *string    `gorm:"type:char(36);default:null;index" json:"subscription_id,omitempty"`
	Reference      string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"reference"`
	AmountKobo     int64      `gorm:"not null" json:"amount_kobo"`
	Currency       string     `gorm:"type:varchar(8);not null;default:'NGN'" json:"currency"`
	Status         string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Channel        string     `gorm:"type:varchar(40);default:''" json:"channel"`
	PlanID         string     `gorm:"type:varchar(50);default:''" json:"plan_id"`
	PaidAt         *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
