// Package bandit learns which publishing timeslot performs best per
// organization using Thompson sampling over Beta-distributed arms.
//
// An arm is a (provider, format, weekday, hour) tuple encoded as
// "provider:format:Mon:07". Each arm accumulates a pull count and a
// cumulative reward in [0, pulls]; sampling turns those into a Beta posterior
// and picks the arm with the highest draw.
package bandit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat/distuv"
	"gorm.io/gorm"

	"github.com/tbourn/go-post-scheduler/internal/domain"
	"github.com/tbourn/go-post-scheduler/internal/observability"
	"github.com/tbourn/go-post-scheduler/internal/repo"
	"github.com/tbourn/go-post-scheduler/internal/reward"
)

const (
	// evidenceScale converts pulls and rewards into pseudo-counts.
	evidenceScale = 10

	// DefaultHistoryWindow bounds the schedule history used for candidates.
	DefaultHistoryWindow = 28 * 24 * time.Hour

	// DefaultFormat is used for synthesized arms when nothing is known.
	DefaultFormat = "post"

	// scanHours is the look-ahead window when resolving an arm to a datetime.
	scanHours = 7 * 24
)

// Sampler draws the random numbers used by Thompson sampling.
type Sampler interface {
	// Beta draws from Beta(alpha, beta).
	Beta(alpha, beta float64) float64
	// Uniform draws from [0, 1).
	Uniform() float64
}

// gonumSampler draws from gonum distributions backed by the global source,
// which is safe for concurrent use.
type gonumSampler struct{}

func (gonumSampler) Beta(alpha, beta float64) float64 {
	return distuv.Beta{Alpha: alpha, Beta: beta}.Rand()
}

func (gonumSampler) Uniform() float64 {
	return distuv.UnitUniform.Rand()
}

// Suggestion is one recommended timeslot. When is the next matching
// datetime in RFC 3339 (UTC), or empty when it cannot be resolved.
type Suggestion struct {
	Key  string `json:"key"`
	When string `json:"when,omitempty"`
}

// Optimiser implements arm selection and state updates. The zero value is
// not usable; DB is required, every other field has a default.
type Optimiser struct {
	DB            *gorm.DB
	Sampler       Sampler
	DefaultFormat string
	HistoryWindow time.Duration
	Now           func() time.Time
}

// New returns an Optimiser with gonum sampling and default windows.
func New(db *gorm.DB) *Optimiser {
	return &Optimiser{
		DB:            db,
		Sampler:       gonumSampler{},
		DefaultFormat: DefaultFormat,
		HistoryWindow: DefaultHistoryWindow,
		Now:           time.Now,
	}
}

// DeriveKey builds the arm key for a provider, a content format and a
// publish time, using the UTC weekday abbreviation and zero-padded hour.
func DeriveKey(provider, format string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s:%s:%s:%02d", provider, format, t.Weekday().String()[:3], t.Hour())
}

// ParseKey splits an arm key into its parts. ok is false when the weekday or
// hour segments are malformed.
func ParseKey(key string) (provider, format string, weekday time.Weekday, hour int, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return "", "", 0, 0, false
	}
	n := len(parts)
	hour, err := strconv.Atoi(parts[n-1])
	if err != nil || hour < 0 || hour > 23 {
		return "", "", 0, 0, false
	}
	wd, found := weekdayByAbbrev[parts[n-2]]
	if !found {
		return "", "", 0, 0, false
	}
	return parts[0], strings.Join(parts[1:n-2], ":"), wd, hour, true
}

var weekdayByAbbrev = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
}

// ThompsonSample draws once per arm and returns the key with the highest
// draw. Arms that were never pulled draw uniformly so they keep being
// explored. Ties go to the arm seen first. ok is false for no arms.
func (o *Optimiser) ThompsonSample(states []domain.OptimiserState) (string, bool) {
	s := o.sampler()
	best, bestKey, found := math.Inf(-1), "", false
	for _, st := range states {
		var draw float64
		if st.Pulls == 0 {
			draw = s.Uniform()
		} else {
			alpha, beta := posterior(st)
			draw = s.Beta(alpha, beta)
		}
		if !found || draw > best {
			best, bestKey, found = draw, st.Key, true
		}
	}
	return bestKey, found
}

// posterior maps arm evidence to Beta parameters.
func posterior(st domain.OptimiserState) (alpha, beta float64) {
	pulls := st.Pulls
	if pulls < 1 {
		pulls = 1
	}
	scale := float64(pulls) * evidenceScale
	successes := st.Rewards * evidenceScale
	if math.IsNaN(successes) || successes < 0 {
		successes = 0
	}
	if successes > scale {
		successes = scale
	}
	failures := math.Max(1, scale-successes)
	return 1 + successes, 1 + failures
}

// UpdateState records one pull of key for orgID with reward clamped to
// [0,1]. It always increments, so callers must guard against applying the
// same observation twice. Pass a transaction as db to commit the update
// together with that guard.
func (o *Optimiser) UpdateState(ctx context.Context, db *gorm.DB, orgID, key string, r float64) error {
	ctx, span := observability.Tracer("bandit").Start(ctx, "UpdateState",
		trace.WithAttributes(
			attribute.String("org.id", orgID),
			attribute.String("arm.key", key),
		),
	)
	defer span.End()

	if db == nil {
		db = o.DB
	}
	r = reward.Clamp01(r)
	if err := repo.UpsertOptimiserState(ctx, db, orgID, key, r, o.now()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("update arm %s: %w", key, err)
	}
	return nil
}

// GetCandidates returns up to n distinct arm keys seen in the org's
// schedule history for provider within the history window, most recent
// first. n <= 0 returns every distinct key.
func (o *Optimiser) GetCandidates(ctx context.Context, orgID, provider string, n int) ([]string, error) {
	window := o.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	obs, err := repo.ListArmHistory(ctx, o.DB, orgID, provider, o.now().Add(-window))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(obs))
	var out []string
	for _, ob := range obs {
		k := DeriveKey(ob.Provider, ob.Format, ob.ScheduledAt)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out, nil
}

// SuggestTimeslots recommends up to n timeslots for provider, in selection
// order. With learned state it collects distinct Thompson picks over at most
// 2n draws; without state it falls back to recent history and then to the
// next n hourly slots.
func (o *Optimiser) SuggestTimeslots(ctx context.Context, orgID, provider string, n int) ([]Suggestion, error) {
	ctx, span := observability.Tracer("bandit").Start(ctx, "SuggestTimeslots",
		trace.WithAttributes(
			attribute.String("org.id", orgID),
			attribute.String("provider", provider),
			attribute.Int("n", n),
		),
	)
	defer span.End()

	out := []Suggestion{}
	if n <= 0 {
		return out, nil
	}
	now := o.now().UTC()

	states, err := repo.ListOptimiserStates(ctx, o.DB, orgID, provider+":")
	if err != nil {
		return nil, err
	}

	if len(states) == 0 {
		keys, err := o.GetCandidates(ctx, orgID, provider, n)
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			for _, k := range keys {
				out = append(out, Suggestion{Key: k, When: nextWhen(now, k)})
			}
			return out, nil
		}
		base := now.Truncate(time.Hour)
		for i := 1; i <= n; i++ {
			t := base.Add(time.Duration(i) * time.Hour)
			out = append(out, Suggestion{Key: DeriveKey(provider, o.format(), t), When: t.Format(time.RFC3339)})
		}
		return out, nil
	}

	picked := make(map[string]struct{}, n)
	for draw := 0; draw < 2*n && len(out) < n; draw++ {
		k, ok := o.ThompsonSample(states)
		if !ok {
			break
		}
		if _, dup := picked[k]; dup {
			continue
		}
		picked[k] = struct{}{}
		out = append(out, Suggestion{Key: k, When: nextWhen(now, k)})
	}
	span.SetAttributes(attribute.Int("suggestions", len(out)))
	return out, nil
}

// NextOccurrence returns the first whole hour strictly after now whose UTC
// weekday and hour match, scanning one week ahead.
func NextOccurrence(now time.Time, weekday time.Weekday, hour int) (time.Time, bool) {
	base := now.UTC().Truncate(time.Hour)
	for h := 1; h <= scanHours; h++ {
		t := base.Add(time.Duration(h) * time.Hour)
		if t.Weekday() == weekday && t.Hour() == hour {
			return t, true
		}
	}
	return time.Time{}, false
}

func nextWhen(now time.Time, key string) string {
	_, _, wd, hour, ok := ParseKey(key)
	if !ok {
		return ""
	}
	t, found := NextOccurrence(now, wd, hour)
	if !found {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (o *Optimiser) sampler() Sampler {
	if o.Sampler != nil {
		return o.Sampler
	}
	return gonumSampler{}
}

func (o *Optimiser) format() string {
	if o.DefaultFormat != "" {
		return o.DefaultFormat
	}
	return DefaultFormat
}

func (o *Optimiser) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
