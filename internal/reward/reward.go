// Package reward turns raw post-performance metrics into a bounded scalar
// reward used as bandit feedback.
//
// The composite is a fixed weighted sum of four rates, each clamped to [0,1]
// first. Any missing or non-finite component invalidates the whole reward
// rather than being zeroed, so bad analytics never leak into the optimiser.
package reward

import (
	"context"
	"errors"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/domain"
	"github.com/tbourn/go-post-scheduler/internal/observability"
	"github.com/tbourn/go-post-scheduler/internal/repo"
)

// Component weights; they sum to 1.
const (
	WeightCTR        = 0.4
	WeightEngagement = 0.3
	WeightReach      = 0.2
	WeightConversion = 0.1
)

// ErrInvalidMetrics describes why a metrics row produced no reward. It is
// only used for logging; Compute reports absence with its bool result.
var ErrInvalidMetrics = errors.New("metrics incomplete or non-finite")

// Compute returns the reward for m and true, or (0, false) when any
// component is missing, NaN or infinite. A returned reward is always finite
// and within [0,1].
func Compute(m domain.ScheduleMetrics) (float64, bool) {
	parts := [4]*float64{m.CTR, m.EngagementRate, m.ReachNorm, m.ConvRate}
	var v [4]float64
	for i, p := range parts {
		if p == nil || !isFinite(*p) {
			return 0, false
		}
		v[i] = clamp01(*p)
	}

	r := WeightCTR*v[0] + WeightEngagement*v[1] + WeightReach*v[2] + WeightConversion*v[3]
	if !isFinite(r) {
		return 0, true
	}
	return clamp01(r), true
}

// Validate returns ErrInvalidMetrics when Compute would report absence.
func Validate(m domain.ScheduleMetrics) error {
	if _, ok := Compute(m); !ok {
		return ErrInvalidMetrics
	}
	return nil
}

// Clamp01 bounds v to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 { return clamp01(v) }

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Calculator loads metrics rows and scores them.
type Calculator struct {
	DB *gorm.DB
}

// ComputeReward loads the metrics for scheduleID and scores them. A missing
// metrics row yields (0, false, nil); only database failures return an error.
func (c *Calculator) ComputeReward(ctx context.Context, scheduleID uint) (float64, bool, error) {
	ctx, span := observability.Tracer("reward").Start(ctx, "ComputeReward",
		trace.WithAttributes(attribute.Int64("schedule.id", int64(scheduleID))),
	)
	defer span.End()

	m, err := repo.GetScheduleMetrics(ctx, c.DB, scheduleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	r, ok := Compute(*m)
	span.SetAttributes(attribute.Bool("reward.present", ok))
	return r, ok, nil
}
