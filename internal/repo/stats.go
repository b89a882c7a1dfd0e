// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/domain"
)

// OptimiserStats returns the number of arm states for an org (restricted to
// prefix when non-empty), the greatest LastActionAt among them and the total
// pulls. Any bandit update changes at least one of the three values.
//
// When the org has no states, count is 0 and lastAction is nil.
func OptimiserStats(ctx context.Context, db *gorm.DB, orgID, prefix string) (count int64, lastAction *time.Time, pulls int64, err error) {
	q := statesQuery(ctx, db, orgID, prefix).Model(&domain.OptimiserState{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, 0, err
	}
	if count == 0 {
		return 0, nil, 0, nil
	}

	// Latest last_action_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		LastActionAt time.Time
	}
	if err = statesQuery(ctx, db, orgID, prefix).Model(&domain.OptimiserState{}).
		Select("last_action_at").Order("last_action_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, 0, err
	}

	var sum struct {
		Total int64
	}
	if err = statesQuery(ctx, db, orgID, prefix).Model(&domain.OptimiserState{}).
		Select("COALESCE(SUM(pulls), 0) AS total").Scan(&sum).Error; err != nil {
		return 0, nil, 0, err
	}
	return count, &row.LastActionAt, sum.Total, nil
}
