// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for schedule
// performance metrics.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/domain"
)

// GetScheduleMetrics returns the metrics row for a schedule, or ErrNotFound.
func GetScheduleMetrics(ctx context.Context, db *gorm.DB, scheduleID uint) (*domain.ScheduleMetrics, error) {
	var m domain.ScheduleMetrics
	if err := db.WithContext(ctx).Where("schedule_id = ?", scheduleID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkMetricsApplied flips applied from false to true in a single conditional
// UPDATE. It reports whether this call made the transition; false means the
// row is missing or another worker applied it first.
func MarkMetricsApplied(ctx context.Context, db *gorm.DB, scheduleID uint) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ScheduleMetrics{}).
		Where("schedule_id = ? AND applied = ?", scheduleID, false).
		Updates(map[string]any{
			"applied":    true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
