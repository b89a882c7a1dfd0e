// Package domain defines the persistence models for scheduled publishing and
// timeslot optimisation. These types are mapped with GORM and form the core
// data layer shared by the scheduler engine and the optimiser worker.
package domain

import (
	"strings"
	"time"
)

// Schedule status values. Transitions are one-way: scheduled -> posted or
// scheduled -> failed.
const (
	StatusScheduled = "scheduled"
	StatusPosted    = "posted"
	StatusFailed    = "failed"
)

// Schedule is a single planned publish action for one content item on one
// channel. Rows are created by the content-planning layer and mutated only by
// the scheduler engine.
//
// Fields:
//   - ScheduledAt: publish time, always stored in UTC.
//   - Status: one of scheduled, posted, failed (enforced by DB constraint).
//   - ErrorMessage: diagnostic text on failure, or the success marker (id/url)
//     on posting.
type Schedule struct {
	ID            uint      `json:"id"              gorm:"primaryKey"`
	OrgID         string    `json:"org_id"          gorm:"type:varchar(64);not null;index:idx_schedules_org_created,priority:1"`
	ContentItemID uint      `json:"content_item_id" gorm:"not null"`
	ChannelID     uint      `json:"channel_id"      gorm:"not null;index"`
	ScheduledAt   time.Time `json:"scheduled_at"    gorm:"not null;index:idx_schedules_due,priority:2"`
	Status        string    `json:"status"          gorm:"type:varchar(16);not null;default:'scheduled';index:idx_schedules_due,priority:1;check:status IN ('scheduled','posted','failed')"`
	ErrorMessage  *string   `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"      gorm:"index:idx_schedules_org_created,priority:2"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Schedule.
func (Schedule) TableName() string { return "schedules" }

// IsTerminal reports whether the schedule has left the scheduled state.
func (s Schedule) IsTerminal() bool {
	return s.Status == StatusPosted || s.Status == StatusFailed
}

// ScheduleMetrics holds performance observations for a posted schedule, one
// row per schedule. Component rates are optional because platforms report
// them at different times; Applied gates the single bandit update.
type ScheduleMetrics struct {
	ID             uint      `json:"id"              gorm:"primaryKey"`
	ScheduleID     uint      `json:"schedule_id"     gorm:"not null;uniqueIndex"`
	CTR            *float64  `json:"ctr,omitempty"             gorm:"column:ctr"`
	EngagementRate *float64  `json:"engagement_rate,omitempty"`
	ReachNorm      *float64  `json:"reach_norm,omitempty"`
	ConvRate       *float64  `json:"conv_rate,omitempty"`
	Applied        bool      `json:"applied"         gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for ScheduleMetrics.
func (ScheduleMetrics) TableName() string { return "schedule_metrics" }

// OptimiserState accumulates bandit evidence for one arm of one organization.
// Key has the form "{provider}:{format}:{weekday}:{hour}".
//
// Rewards is a cumulative sum of clamped [0,1] rewards, not an average.
type OptimiserState struct {
	ID           uint      `json:"id"             gorm:"primaryKey"`
	OrgID        string    `json:"org_id"         gorm:"type:varchar(64);not null;uniqueIndex:ux_optimiser_org_key,priority:1"`
	Key          string    `json:"key"            gorm:"type:varchar(191);not null;uniqueIndex:ux_optimiser_org_key,priority:2"`
	Pulls        int64     `json:"pulls"          gorm:"not null;default:0;check:pulls >= 0"`
	Rewards      float64   `json:"rewards"        gorm:"not null;default:0"`
	LastActionAt time.Time `json:"last_action_at"`
}

// TableName returns the database table name for OptimiserState.
func (OptimiserState) TableName() string { return "optimiser_states" }

// Channel is a connected social account. Provider is the platform name used
// as the first segment of bandit arm keys (e.g. "instagram").
type Channel struct {
	ID              uint      `json:"id"               gorm:"primaryKey"`
	OrgID           string    `json:"org_id"           gorm:"type:varchar(64);not null;index"`
	Provider        string    `json:"provider"         gorm:"type:varchar(32);not null;index"`
	Name            string    `json:"name"             gorm:"type:varchar(255)"`
	ExternalAccount string    `json:"external_account" gorm:"type:varchar(255)"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName returns the database table name for Channel.
func (Channel) TableName() string { return "channels" }

// ContentItem is the publishable payload referenced by a schedule.
type ContentItem struct {
	ID           uint      `json:"id"            gorm:"primaryKey"`
	OrgID        string    `json:"org_id"        gorm:"type:varchar(64);not null;index"`
	Caption      string    `json:"caption"       gorm:"type:text;not null"`
	Format       string    `json:"format"        gorm:"type:varchar(32);not null;default:'post'"`
	MediaPaths   string    `json:"media_paths"   gorm:"type:text"` // newline separated
	FirstComment *string   `json:"first_comment,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for ContentItem.
func (ContentItem) TableName() string { return "content_items" }

// Media splits MediaPaths into individual paths, skipping blank lines.
func (c ContentItem) Media() []string {
	if strings.TrimSpace(c.MediaPaths) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(c.MediaPaths, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
