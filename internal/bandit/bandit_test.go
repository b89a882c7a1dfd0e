package bandit

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-post-scheduler/internal/domain"
	"github.com/tbourn/go-post-scheduler/internal/repo"
)

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

// fixedSampler returns scripted draws; Beta draws are keyed by alpha so
// tests can tell arms apart.
type fixedSampler struct {
	beta    map[float64]float64
	uniform float64
	calls   int
}

func (f *fixedSampler) Beta(alpha, _ float64) float64 { f.calls++; return f.beta[alpha] }
func (f *fixedSampler) Uniform() float64 { f.calls++; return f.uniform }

// Monday 2025-01-06 07:30 UTC.
var monday = time.Date(2025, 1, 6, 7, 30, 0, 0, time.UTC)

func TestDeriveKey(t *testing.T) {
	if got := DeriveKey("instagram", "reel", monday); got != "instagram:reel:Mon:07" {
		t.Fatalf("DeriveKey = %q", got)
	}
	// Non-UTC input is converted first: 23:15 in UTC-5 is Tuesday 04:15 UTC.
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2025, 1, 6, 23, 15, 0, 0, est)
	if got := DeriveKey("tiktok", "post", local); got != "tiktok:post:Tue:04" {
		t.Fatalf("DeriveKey(non-UTC) = %q", got)
	}
}

func TestParseKey(t *testing.T) {
	p, f, wd, h, ok := ParseKey("instagram:reel:Sat:09")
	if !ok || p != "instagram" || f != "reel" || wd != time.Saturday || h != 9 {
		t.Fatalf("ParseKey = %q %q %v %d %v", p, f, wd, h, ok)
	}
	for _, bad := range []string{"", "a:b:c", "a:b:Xyz:09", "a:b:Mon:24", "a:b:Mon:xx"} {
		if _, _, _, _, ok := ParseKey(bad); ok {
			t.Fatalf("ParseKey(%q) should fail", bad)
		}
	}
}

func TestNextOccurrence(t *testing.T) {
	got, ok := NextOccurrence(monday, time.Monday, 7)
	if !ok || !got.Equal(monday.Truncate(time.Hour).Add(7*24*time.Hour)) {
		t.Fatalf("same slot must resolve to next week, got %v ok=%v", got, ok)
	}
	got, ok = NextOccurrence(monday, time.Monday, 8)
	if !ok || !got.Equal(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("later same day, got %v", got)
	}
	got, ok = NextOccurrence(monday, time.Sunday, 0)
	if !ok || !got.Equal(time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Sunday midnight, got %v", got)
	}
}

func TestThompsonSample_EmptyAndTies(t *testing.T) {
	o := &Optimiser{Sampler: &fixedSampler{uniform: 0.5}}
	if _, ok := o.ThompsonSample(nil); ok {
		t.Fatalf("empty input must be absent")
	}

	states := []domain.OptimiserState{{Key: "a"}, {Key: "b"}, {Key: "c"}}
	key, ok := o.ThompsonSample(states)
	if !ok || key != "a" {
		t.Fatalf("tie must go to first-seen arm, got %q", key)
	}
}

func TestThompsonSample_ColdStartUsesUniform(t *testing.T) {
	// Pulled arm: pulls=1 rewards=1 -> scale 10, successes 10, alpha 11.
	s := &fixedSampler{beta: map[float64]float64{11: 0.9}, uniform: 0.95}
	o := &Optimiser{Sampler: s}
	states := []domain.OptimiserState{
		{Key: "strong", Pulls: 1, Rewards: 1},
		{Key: "cold", Pulls: 0, Rewards: 0},
	}
	if key, _ := o.ThompsonSample(states); key != "cold" {
		t.Fatalf("cold arm with higher uniform draw must win, got %q", key)
	}
	if s.calls != 2 {
		t.Fatalf("expected one draw per arm, got %d", s.calls)
	}
}

func TestPosterior(t *testing.T) {
	cases := []struct {
		st          domain.OptimiserState
		alpha, beta float64
	}{
		{domain.OptimiserState{Pulls: 10, Rewards: 8}, 81, 21},
		{domain.OptimiserState{Pulls: 0, Rewards: 0}, 1, 11},
		{domain.OptimiserState{Pulls: 2, Rewards: 5}, 21, 2},   // successes capped at scale, failures floor 1
		{domain.OptimiserState{Pulls: 3, Rewards: -1}, 1, 31},  // negative rewards floor at 0
		{domain.OptimiserState{Pulls: 1, Rewards: math.NaN()}, 1, 11},
	}
	for _, tc := range cases {
		a, b := posterior(tc.st)
		if a != tc.alpha || b != tc.beta {
			t.Fatalf("posterior(%+v) = (%v,%v); want (%v,%v)", tc.st, a, b, tc.alpha, tc.beta)
		}
	}
}

func TestThompsonSample_PrefersHigherReward(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	o := New(db)

	for i := 0; i < 10; i++ {
		if err := o.UpdateState(ctx, db, "org", "ig:post:Mon:09", 0.8); err != nil {
			t.Fatalf("update A: %v", err)
		}
		if err := o.UpdateState(ctx, db, "org", "ig:post:Tue:18", 0.2); err != nil {
			t.Fatalf("update B: %v", err)
		}
	}
	states, err := repo.ListOptimiserStates(ctx, db, "org", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	wins := map[string]int{}
	for i := 0; i < 200; i++ {
		k, _ := o.ThompsonSample(states)
		wins[k]++
	}
	if wins["ig:post:Mon:09"] <= wins["ig:post:Tue:18"] {
		t.Fatalf("expected A selected more often than B, got %v", wins)
	}
}

func TestThompsonSample_ColdArmStillExplored(t *testing.T) {
	o := New(nil)
	states := []domain.OptimiserState{
		{Key: "strong", Pulls: 10, Rewards: 9.5},
		{Key: "cold", Pulls: 0},
	}
	cold := 0
	for i := 0; i < 5000; i++ {
		if k, _ := o.ThompsonSample(states); k == "cold" {
			cold++
		}
	}
	if cold == 0 {
		t.Fatalf("unpulled arm was never selected in 5000 trials")
	}
}

func TestUpdateState_ClampsAndIncrements(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	o := New(db)
	o.Now = func() time.Time { return monday }

	for _, r := range []float64{5, -1, math.NaN(), 0.25} {
		if err := o.UpdateState(ctx, nil, "org", "ig:post:Mon:07", r); err != nil {
			t.Fatalf("UpdateState(%v): %v", r, err)
		}
	}
	var st domain.OptimiserState
	if err := db.Where("org_id = ? AND key = ?", "org", "ig:post:Mon:07").First(&st).Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if st.Pulls != 4 || math.Abs(st.Rewards-1.25) > 1e-9 {
		t.Fatalf("expected pulls=4 rewards=1.25, got %+v", st)
	}
	if !st.LastActionAt.Equal(monday) {
		t.Fatalf("expected last_action_at=%v, got %v", monday, st.LastActionAt)
	}
}

func TestSuggestTimeslots_NonPositiveN(t *testing.T) {
	o := New(newDB(t))
	got, err := o.SuggestTimeslots(context.Background(), "org", "ig", 0)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %v err=%v", got, err)
	}
}

func TestSuggestTimeslots_SynthesizesHourlySlots(t *testing.T) {
	o := New(newDB(t))
	o.Now = func() time.Time { return monday }

	got, err := o.SuggestTimeslots(context.Background(), "org", "ig", 3)
	if err != nil {
		t.Fatalf("SuggestTimeslots: %v", err)
	}
	want := []Suggestion{
		{Key: "ig:post:Mon:08", When: "2025-01-06T08:00:00Z"},
		{Key: "ig:post:Mon:09", When: "2025-01-06T09:00:00Z"},
		{Key: "ig:post:Mon:10", When: "2025-01-06T10:00:00Z"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d suggestions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("suggestion %d = %+v; want %+v", i, got[i], want[i])
		}
	}
}

func TestSuggestTimeslots_FromHistory(t *testing.T) {
	db := newDB(t)
	o := New(db)
	o.Now = func() time.Time { return monday }

	ch := &domain.Channel{OrgID: "org", Provider: "ig"}
	db.Create(ch)
	ci := &domain.ContentItem{OrgID: "org", Caption: "x", Format: "reel"}
	db.Create(ci)
	// Friday 2025-01-03 18:00 twice, Thursday 2025-01-02 12:00 once.
	for _, at := range []time.Time{
		time.Date(2025, 1, 3, 18, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 3, 18, 5, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC),
	} {
		s := domain.Schedule{OrgID: "org", ChannelID: ch.ID, ContentItemID: ci.ID, ScheduledAt: at, Status: domain.StatusPosted}
		if err := db.Create(&s).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	keys, err := o.GetCandidates(context.Background(), "org", "ig", 0)
	if err != nil || len(keys) != 2 || keys[0] != "ig:reel:Fri:18" || keys[1] != "ig:reel:Thu:12" {
		t.Fatalf("GetCandidates = %v err=%v", keys, err)
	}

	got, err := o.SuggestTimeslots(context.Background(), "org", "ig", 5)
	if err != nil {
		t.Fatalf("SuggestTimeslots: %v", err)
	}
	if len(got) != 2 || got[0].Key != "ig:reel:Fri:18" || got[0].When != "2025-01-10T18:00:00Z" {
		t.Fatalf("unexpected history suggestions: %+v", got)
	}
}

func TestSuggestTimeslots_FromStateDistinct(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	o := New(db)
	o.Now = func() time.Time { return monday }

	for _, k := range []string{"ig:post:Wed:10", "ig:post:Thu:11", "ig:reel:Fri:20"} {
		if err := o.UpdateState(ctx, db, "org", k, 0.5); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	// Other provider and other org must not leak into results.
	_ = o.UpdateState(ctx, db, "org", "tiktok:post:Mon:09", 1)
	_ = o.UpdateState(ctx, db, "other", "ig:post:Sat:09", 1)

	got, err := o.SuggestTimeslots(ctx, "org", "ig", 3)
	if err != nil {
		t.Fatalf("SuggestTimeslots: %v", err)
	}
	if len(got) == 0 || len(got) > 3 {
		t.Fatalf("expected 1..3 suggestions, got %v", got)
	}
	seen := map[string]bool{}
	for _, s := range got {
		if seen[s.Key] {
			t.Fatalf("duplicate key %q in %v", s.Key, got)
		}
		seen[s.Key] = true
		if s.Key[:3] != "ig:" {
			t.Fatalf("foreign arm leaked: %q", s.Key)
		}
		when, err := time.Parse(time.RFC3339, s.When)
		if err != nil || !when.After(monday) || when.Sub(monday) > 7*24*time.Hour {
			t.Fatalf("bad when %q for %q", s.When, s.Key)
		}
	}
}

func TestSuggestTimeslots_DrawBudgetIsTwiceN(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	s := &fixedSampler{beta: map[float64]float64{}, uniform: 0.5}
	o := New(db)
	o.Sampler = s
	o.Now = func() time.Time { return monday }

	_ = o.UpdateState(ctx, db, "org", "ig:post:Wed:10", 0.5)
	_ = o.UpdateState(ctx, db, "org", "ig:post:Thu:11", 0.5)

	// Constant draws always pick the first arm, so only one distinct key
	// appears and the loop stops after 2n draws of 2 arms each.
	got, err := o.SuggestTimeslots(ctx, "org", "ig", 2)
	if err != nil {
		t.Fatalf("SuggestTimeslots: %v", err)
	}
	if len(got) != 1 || got[0].Key != "ig:post:Wed:10" {
		t.Fatalf("expected single distinct pick, got %v", got)
	}
	if s.calls != 2*2*2 {
		t.Fatalf("expected %d sampler calls, got %d", 8, s.calls)
	}
}
