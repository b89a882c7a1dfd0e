package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-post-scheduler/internal/bandit"
	"github.com/tbourn/go-post-scheduler/internal/repo"
	"github.com/tbourn/go-post-scheduler/internal/utils"
)

const (
	defaultSuggestions = 5
	maxSuggestions     = 50
)

// SuggestionsResponse lists recommended timeslots in selection order.
type SuggestionsResponse struct {
	OrgID       string              `json:"org_id"`
	Provider    string              `json:"provider"`
	Suggestions []bandit.Suggestion `json:"suggestions"`
}

// ArmView is one bandit arm with its mean reward.
type ArmView struct {
	Key          string    `json:"key"`
	Pulls        int64     `json:"pulls"`
	Rewards      float64   `json:"rewards"`
	MeanReward   float64   `json:"mean_reward"`
	LastActionAt time.Time `json:"last_action_at"`
}

// ListArmsResponse wraps a page of arms.
type ListArmsResponse struct {
	Arms       []ArmView  `json:"arms"`
	Pagination Pagination `json:"pagination"`
}

// Suggestions handles GET /orgs/:org_id/suggestions?provider=&n=.
func (h *Handlers) Suggestions(c *gin.Context) {
	org := strings.TrimSpace(c.Param("org_id"))
	provider := strings.TrimSpace(c.Query("provider"))
	if provider == "" || strings.Contains(provider, ":") {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "provider is required and must not contain ':'")
		return
	}
	n := utils.AtoiDefault(c.Query("n"), defaultSuggestions)
	if n < 1 || n > maxSuggestions {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("n must be between 1 and %d", maxSuggestions))
		return
	}

	out, err := h.suggester.SuggestTimeslots(c.Request.Context(), org, provider, n)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSuggestFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, SuggestionsResponse{OrgID: org, Provider: provider, Suggestions: out})
}

// ListArms handles GET /orgs/:org_id/arms?prefix=&page=&page_size=. It sets
// a weak ETag derived from the arm count, total pulls and latest update, and
// answers 304 when If-None-Match matches.
func (h *Handlers) ListArms(c *gin.Context) {
	ctx := c.Request.Context()
	org := strings.TrimSpace(c.Param("org_id"))
	prefix := c.Query("prefix")
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, last, pulls, err := repo.OptimiserStats(ctx, h.db, org, prefix); err == nil {
		var ts int64
		if last != nil {
			ts = last.UnixNano()
		}
		sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%s|%d|%d|%d|%d|%d", org, prefix, count, pulls, ts, page, pageSize)))
		etag := fmt.Sprintf(`W/"arms-%s"`, sum)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	states, total, err := repo.ListOptimiserStatesPage(ctx, h.db, org, prefix, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	arms := make([]ArmView, 0, len(states))
	for _, st := range states {
		v := ArmView{Key: st.Key, Pulls: st.Pulls, Rewards: st.Rewards, LastActionAt: st.LastActionAt}
		if st.Pulls > 0 {
			v.MeanReward = st.Rewards / float64(st.Pulls)
		}
		arms = append(arms, v)
	}
	ok(c, http.StatusOK, ListArmsResponse{Arms: arms, Pagination: newPagination(page, pageSize, total)})
}
