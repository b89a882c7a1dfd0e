// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for schedules and
// the channel/content rows they reference.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Status transitions only apply to rows still in the scheduled state;
//     a transition on a terminal row returns ErrNotFound.
//   - On other DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-post-scheduler/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// FetchDueSchedules returns up to limit schedules with status=scheduled and
// scheduled_at <= now. On Postgres the rows are claimed with
// FOR UPDATE SKIP LOCKED, so concurrent transactions never receive the same
// row; the claim lasts until the caller's transaction ends. Rows whose ids
// are in exclude are passed over.
func FetchDueSchedules(ctx context.Context, db *gorm.DB, now time.Time, limit int, exclude ...uint) ([]domain.Schedule, error) {
	q := db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.StatusScheduled, now.UTC()).
		Order("scheduled_at ASC, id ASC")
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if supportsRowLocks(db) {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked})
	}
	var out []domain.Schedule
	err := q.Find(&out).Error
	return out, err
}

// GetSchedule fetches a schedule by ID.
func GetSchedule(ctx context.Context, db *gorm.DB, id uint) (*domain.Schedule, error) {
	var s domain.Schedule
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListPostedSince returns posted schedules created at or after since.
func ListPostedSince(ctx context.Context, db *gorm.DB, since time.Time) ([]domain.Schedule, error) {
	var out []domain.Schedule
	err := db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", domain.StatusPosted, since.UTC()).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// MarkPosted moves a scheduled row to posted and stores the success marker.
func MarkPosted(ctx context.Context, db *gorm.DB, id uint, marker string) error {
	return transition(ctx, db, id, domain.StatusPosted, marker)
}

// MarkFailed moves a scheduled row to failed and stores the error text.
func MarkFailed(ctx context.Context, db *gorm.DB, id uint, msg string) error {
	return transition(ctx, db, id, domain.StatusFailed, msg)
}

func transition(ctx context.Context, db *gorm.DB, id uint, status, msg string) error {
	res := db.WithContext(ctx).
		Model(&domain.Schedule{}).
		Where("id = ? AND status = ?", id, domain.StatusScheduled).
		Updates(map[string]any{
			"status":        status,
			"error_message": msg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetChannel fetches a channel by ID, or ErrNotFound.
func GetChannel(ctx context.Context, db *gorm.DB, id uint) (*domain.Channel, error) {
	var c domain.Channel
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContentItem fetches a content item by ID, or ErrNotFound.
func GetContentItem(ctx context.Context, db *gorm.DB, id uint) (*domain.ContentItem, error) {
	var c domain.ContentItem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
