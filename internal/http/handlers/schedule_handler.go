package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-post-scheduler/internal/domain"
	"github.com/tbourn/go-post-scheduler/internal/repo"
)

// ExternalRefView is a platform reference stored for a posted schedule.
type ExternalRefView struct {
	Provider  string    `json:"provider"`
	RefID     string    `json:"ref_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduleResponse is a schedule with its platform references and, once
// metrics are complete, its reward.
type ScheduleResponse struct {
	domain.Schedule
	ExternalRefs []ExternalRefView `json:"external_refs"`
	Reward       *float64          `json:"reward,omitempty"`
}

// GetSchedule handles GET /schedules/:id.
func (h *Handlers) GetSchedule(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "schedule id must be a positive integer")
		return
	}

	s, err := repo.GetSchedule(ctx, h.db, uint(id))
	if errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "schedule not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, err.Error())
		return
	}

	refs, err := repo.ListExternalRefs(ctx, h.db, s.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, err.Error())
		return
	}
	resp := ScheduleResponse{Schedule: *s, ExternalRefs: make([]ExternalRefView, 0, len(refs))}
	for _, r := range refs {
		resp.ExternalRefs = append(resp.ExternalRefs, ExternalRefView{Provider: r.Provider, RefID: r.RefID, CreatedAt: r.CreatedAt})
	}

	if h.rewards != nil {
		r, present, err := h.rewards.ComputeReward(ctx, s.ID)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, err.Error())
			return
		}
		if present {
			resp.Reward = &r
		}
	}
	ok(c, http.StatusOK, resp)
}
