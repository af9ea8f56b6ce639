package models

import "time"

// EngineStat holds one daily telemetry counter (quota denials, webhook
// outcomes). Counters accumulate in Redis and are flushed here in batches.
type EngineStat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Date      string    `gorm:"type:char(10);not null;index:ux_engine_stats_date_metric,unique,priority:1" json:"date"`
	Metric    string    `gorm:"type:varchar(100);not null;index:ux_engine_stats_date_metric,unique,priority:2" json:"metric"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
