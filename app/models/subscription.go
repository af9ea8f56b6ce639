package models

import "time"

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription is one paid term for a user. Rows are never deleted; a
// re-subscription expires the previous row and creates a fresh one, so the
// table doubles as the long-term subscription history.
type Subscription struct {
	ID                       string     `gorm:"type:char(36);primaryKey" json:"id"`
	UserID                   uint       `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	PlanID                   string     `gorm:"type:varchar(50);not null" json:"plan_id"`
	Status                   string     `gorm:"type:varchar(20);not null;default:'active';index:idx_subscriptions_user_status,priority:2" json:"status"`
	CurrentPeriodStart       time.Time  `gorm:"type:timestamp;not null" json:"current_period_start"`
	CurrentPeriodEnd         time.Time  `gorm:"type:timestamp;not null;index" json:"current_period_end"`
	CancelAtPeriodEnd        bool       `gorm:"default:false" json:"cancel_at_period_end"`
	GraceDeadline            *time.Time `gorm:"type:timestamp;default:null;index" json:"grace_deadline,omitempty"`
	PaystackSubscriptionCode string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	PaystackCustomerCode     string     `gorm:"type:varchar(191);default:''" json:"-"`
	NextPaymentDueAt         *time.Time `gorm:"type:timestamp;default:null" json:"next_payment_due_at,omitempty"`
	LastPaymentAt            *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_at,omitempty"`
	LastPaymentRef           string     `gorm:"type:varchar(191);default:''" json:"-"`
	CreatedAt                time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HoldsAccess reports whether the subscription grants plan access at the given
// instant. Cancelled terms keep access until the paid period runs out when the
// user opted to cancel at period end.
func (s *Subscription) HoldsAccess(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	case SubscriptionStatusCancelled:
		return s.CancelAtPeriodEnd && now.Before(s.CurrentPeriodEnd)
	default:
		return false
	}
}

// InGrace reports whether a past-due subscription still sits inside its grace
// window at the given instant.
func (s *Subscription) InGrace(now time.Time) bool {
	return s.Status == SubscriptionStatusPastDue && s.GraceDeadline != nil && now.Before(*s.GraceDeadline)
}
