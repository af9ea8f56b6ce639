package models

import "time"

// UnlimitedQuota marks a counter whose plan imposes no cap.
const UnlimitedQuota int64 = -1

// UsageCounter is one per-user, per-usage-type tally for a single rolling
// window. The limit is snapshotted when the row is created; plan changes take
// effect with the next window.
type UsageCounter struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index:ux_usage_counters_window,unique,priority:1" json:"user_id"`
	UsageType   string    `gorm:"type:varchar(50);not null;index:ux_usage_counters_window,unique,priority:2" json:"usage_type"`
	PeriodStart time.Time `gorm:"type:timestamp;not null;index:ux_usage_counters_window,unique,priority:3" json:"period_start"`
	PeriodEnd   time.Time `gorm:"type:timestamp;not null" json:"period_end"`
	Count       int64     `gorm:"not null;default:0" json:"count"`
	UsageLimit  int64     `gorm:"not null;default:0" json:"usage_limit"`
	PlanID      string    `gorm:"type:varchar(50);default:''" json:"plan_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Remaining returns how many units are left in the window, or UnlimitedQuota
// when the counter has no cap.
func (c *UsageCounter) Remaining() int64 {
	if c.UsageLimit < 0 {
		return UnlimitedQuota
	}
	if r := c.UsageLimit - c.Count; r > 0 {
		return r
	}
	return 0
}
