package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/bandit"
	"github.com/tbourn/go-post-scheduler/internal/utils"
)

// Suggester recommends timeslots for an organization and provider.
type Suggester interface {
	SuggestTimeslots(ctx context.Context, orgID, provider string, n int) ([]bandit.Suggestion, error)
}

// RewardScorer scores a schedule's recorded metrics. ok is false while the
// metrics are missing or incomplete.
type RewardScorer interface {
	ComputeReward(ctx context.Context, scheduleID uint) (r float64, ok bool, err error)
}

// Handlers serves the ops API. db is only read.
type Handlers struct {
	db        *gorm.DB
	suggester Suggester
	rewards   RewardScorer
}

// New builds Handlers. rewards may be nil, in which case schedule responses
// omit the reward.
func New(db *gorm.DB, s Suggester, rewards RewardScorer) *Handlers {
	return &Handlers{db: db, suggester: s, rewards: rewards}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size, defaulting to 1 and 20 and
// capping page_size at 100.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = max(utils.AtoiDefault(c.Query("page"), 1), 1)
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}
