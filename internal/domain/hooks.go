package domain

import (
	"time"

	"gorm.io/gorm"
)

// utc converts a set time to UTC. SQLite compares DATETIME columns as text,
// so a value stored with a zone offset would sort wrongly against UTC bounds.
func utc(t *time.Time) {
	if !t.IsZero() {
		*t = t.UTC()
	}
}

// stamp fills unset auto timestamps with the current UTC time ahead of
// GORM, which would use local time.
func stamp(ts ...*time.Time) {
	now := time.Now().UTC()
	for _, t := range ts {
		if t.IsZero() {
			*t = now
		}
	}
}

// BeforeSave normalizes time fields to UTC.
func (s *Schedule) BeforeSave(*gorm.DB) error {
	utc(&s.ScheduledAt)
	utc(&s.CreatedAt)
	utc(&s.UpdatedAt)
	return nil
}

// BeforeCreate stamps CreatedAt and UpdatedAt in UTC.
func (s *Schedule) BeforeCreate(*gorm.DB) error {
	stamp(&s.CreatedAt, &s.UpdatedAt)
	return nil
}

func (m *ScheduleMetrics) BeforeSave(*gorm.DB) error {
	utc(&m.CreatedAt)
	utc(&m.UpdatedAt)
	return nil
}

func (m *ScheduleMetrics) BeforeCreate(*gorm.DB) error {
	stamp(&m.CreatedAt, &m.UpdatedAt)
	return nil
}

func (o *OptimiserState) BeforeSave(*gorm.DB) error {
	utc(&o.LastActionAt)
	return nil
}
