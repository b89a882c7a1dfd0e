package domain

import "time"

// ScheduleExternalRef records a platform-side identifier returned when a
// schedule was published, keyed by (schedule_id, provider). Some gateways
// cross-post and return one reference per provider.
type ScheduleExternalRef struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ScheduleID uint      `gorm:"not null;uniqueIndex:ux_schedule_provider,priority:1"`
	Provider   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_schedule_provider,priority:2"`
	RefID      string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (ScheduleExternalRef) TableName() string { return "schedule_external_refs" }
