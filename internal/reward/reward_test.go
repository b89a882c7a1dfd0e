package reward

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-post-scheduler/internal/domain"
	"github.com/tbourn/go-post-scheduler/internal/repo"
)

func f(v float64) *float64 { return &v }

func metrics(ctr, eng, reach, conv *float64) domain.ScheduleMetrics {
	return domain.ScheduleMetrics{CTR: ctr, EngagementRate: eng, ReachNorm: reach, ConvRate: conv}
}

func TestCompute_WeightedSum(t *testing.T) {
	r, ok := Compute(metrics(f(0.1), f(0.2), f(0.5), f(0.05)))
	if !ok {
		t.Fatalf("expected a reward")
	}
	if math.Abs(r-0.205) > 1e-12 {
		t.Fatalf("expected 0.205, got %v", r)
	}
}

func TestCompute_FailClosed(t *testing.T) {
	cases := map[string]domain.ScheduleMetrics{
		"nan ctr":      metrics(f(math.NaN()), f(0.2), f(0.5), f(0.05)),
		"inf ctr":      metrics(f(math.Inf(1)), f(0.2), f(0.5), f(0.05)),
		"neg inf conv": metrics(f(0.1), f(0.2), f(0.5), f(math.Inf(-1))),
		"missing ctr":  metrics(nil, f(0.2), f(0.5), f(0.05)),
		"missing conv": metrics(f(0.1), f(0.2), f(0.5), nil),
		"all missing":  {},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			if r, ok := Compute(m); ok {
				t.Fatalf("expected absent, got %v", r)
			}
			if err := Validate(m); !errors.Is(err, ErrInvalidMetrics) {
				t.Fatalf("expected ErrInvalidMetrics, got %v", err)
			}
		})
	}
}

func TestCompute_ClampsComponents(t *testing.T) {
	r, ok := Compute(metrics(f(2.0), f(-0.5), f(1.5), f(0.01)))
	if !ok {
		t.Fatalf("expected a reward")
	}
	// 0.4*1 + 0.3*0 + 0.2*1 + 0.1*0.01
	if math.Abs(r-0.601) > 1e-12 {
		t.Fatalf("expected 0.601, got %v", r)
	}

	hi, _ := Compute(metrics(f(9), f(9), f(9), f(9)))
	lo, _ := Compute(metrics(f(-9), f(-9), f(-9), f(-9)))
	if math.Abs(hi-1) > 1e-12 || hi > 1 || lo != 0 {
		t.Fatalf("expected bounds [0,1], got lo=%v hi=%v", lo, hi)
	}
}

func TestCompute_AlwaysBounded(t *testing.T) {
	vals := []float64{-1e308, -2, -0.1, 0, 0.3, 0.999, 1, 1.0001, 7, 1e308, math.SmallestNonzeroFloat64}
	for _, a := range vals {
		for _, b := range vals {
			r, ok := Compute(metrics(f(a), f(b), f(a), f(b)))
			if !ok {
				t.Fatalf("finite input (%v,%v) must produce a reward", a, b)
			}
			if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 || r > 1 {
				t.Fatalf("reward out of bounds for (%v,%v): %v", a, b, r)
			}
		}
	}
}

func TestClamp01(t *testing.T) {
	if Clamp01(math.NaN()) != 0 || Clamp01(-3) != 0 || Clamp01(3) != 1 || Clamp01(0.25) != 0.25 {
		t.Fatalf("Clamp01 returned unexpected values")
	}
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestCalculator_ComputeReward(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	c := &Calculator{DB: db}

	if _, ok, err := c.ComputeReward(ctx, 1); ok || err != nil {
		t.Fatalf("missing metrics: expected (absent, nil), got ok=%v err=%v", ok, err)
	}

	if err := db.Create(&domain.ScheduleMetrics{ScheduleID: 1, CTR: f(0.1), EngagementRate: f(0.2), ReachNorm: f(0.5), ConvRate: f(0.05)}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Create(&domain.ScheduleMetrics{ScheduleID: 2, CTR: f(0.1)}).Error; err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	r, ok, err := c.ComputeReward(ctx, 1)
	if err != nil || !ok || math.Abs(r-0.205) > 1e-12 {
		t.Fatalf("expected 0.205, got r=%v ok=%v err=%v", r, ok, err)
	}
	if _, ok, err := c.ComputeReward(ctx, 2); ok || err != nil {
		t.Fatalf("partial metrics: expected absent, got ok=%v err=%v", ok, err)
	}
}
