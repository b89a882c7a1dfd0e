// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the external
// reference identifiers returned by publishing platforms.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-post-scheduler/internal/domain"
)

// ErrDuplicate indicates that a reference already exists for the given
// (schedule_id, provider) pair.
var ErrDuplicate = errors.New("duplicate")

// CreateExternalRef inserts a reference. An existing (schedule_id, provider)
// row is left untouched and reported as ErrDuplicate; the insert uses
// ON CONFLICT DO NOTHING so the enclosing Postgres transaction stays usable.
func CreateExternalRef(ctx context.Context, db *gorm.DB, scheduleID uint, provider, refID string) (*domain.ScheduleExternalRef, error) {
	rec := &domain.ScheduleExternalRef{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		Provider:   provider,
		RefID:      refID,
		CreatedAt:  time.Now().UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "schedule_id"}, {Name: "provider"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		if IsDuplicate(res.Error) {
			return nil, ErrDuplicate
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrDuplicate
	}
	return rec, nil
}

// ListExternalRefs returns the references stored for a schedule, ordered by provider.
func ListExternalRefs(ctx context.Context, db *gorm.DB, scheduleID uint) ([]domain.ScheduleExternalRef, error) {
	var out []domain.ScheduleExternalRef
	err := db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("provider ASC").
		Find(&out).Error
	return out, err
}

// IsDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
