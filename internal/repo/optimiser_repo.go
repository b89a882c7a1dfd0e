// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for bandit arm
// state and the schedule history the optimiser derives candidate arms from.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-post-scheduler/internal/domain"
)

// ArmObservation is one historical schedule projected onto the fields that
// make up a bandit arm key.
type ArmObservation struct {
	Provider    string
	Format      string
	ScheduledAt time.Time
}

// ListOptimiserStates returns all arm states for an org whose key starts with
// prefix (empty prefix matches all), ordered by id.
func ListOptimiserStates(ctx context.Context, db *gorm.DB, orgID, prefix string) ([]domain.OptimiserState, error) {
	var out []domain.OptimiserState
	err := statesQuery(ctx, db, orgID, prefix).Order("id ASC").Find(&out).Error
	return out, err
}

// ListOptimiserStatesPage returns a page of arm states plus the total count.
// Page numbering starts at 1.
func ListOptimiserStatesPage(ctx context.Context, db *gorm.DB, orgID, prefix string, page, pageSize int) ([]domain.OptimiserState, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int64
	if err := statesQuery(ctx, db, orgID, prefix).Model(&domain.OptimiserState{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []domain.OptimiserState
	err := statesQuery(ctx, db, orgID, prefix).
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func statesQuery(ctx context.Context, db *gorm.DB, orgID, prefix string) *gorm.DB {
	q := db.WithContext(ctx).Where("org_id = ?", orgID)
	if prefix != "" {
		q = q.Where(`key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	}
	return q
}

// escapeLike escapes LIKE wildcards so provider names match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// UpsertOptimiserState records one pull of an arm. A missing row is created
// with pulls=1 and rewards=reward; an existing row gets pulls+1 and
// rewards+reward in the same statement, so concurrent writers never lose an
// increment.
func UpsertOptimiserState(ctx context.Context, db *gorm.DB, orgID, key string, reward float64, now time.Time) error {
	now = now.UTC()
	row := domain.OptimiserState{
		OrgID:        orgID,
		Key:          key,
		Pulls:        1,
		Rewards:      reward,
		LastActionAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "org_id"}, {Name: "key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"pulls":          gorm.Expr("optimiser_states.pulls + 1"),
				"rewards":        gorm.Expr("optimiser_states.rewards + ?", reward),
				"last_action_at": now,
			}),
		}).
		Create(&row).Error
}

// ListArmHistory returns the org's schedules since the given time, joined to
// their channel provider and content format, most recent first. An empty
// provider matches every channel.
func ListArmHistory(ctx context.Context, db *gorm.DB, orgID, provider string, since time.Time) ([]ArmObservation, error) {
	q := db.WithContext(ctx).
		Table("schedules AS s").
		Select("ch.provider AS provider, ci.format AS format, s.scheduled_at AS scheduled_at").
		Joins("JOIN channels ch ON ch.id = s.channel_id").
		Joins("JOIN content_items ci ON ci.id = s.content_item_id").
		Where("s.org_id = ? AND s.scheduled_at >= ?", orgID, since.UTC())
	if provider != "" {
		q = q.Where("ch.provider = ?", provider)
	}
	var out []ArmObservation
	err := q.Order("s.scheduled_at DESC, s.id DESC").Scan(&out).Error
	return out, err
}
