package domain

import (
	"reflect"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Channel{}, &ContentItem{}, &Schedule{}, &ScheduleMetrics{}, &OptimiserState{}, &ScheduleExternalRef{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		Schedule{}.TableName():            "schedules",
		ScheduleMetrics{}.TableName():     "schedule_metrics",
		OptimiserState{}.TableName():      "optimiser_states",
		Channel{}.TableName():             "channels",
		ContentItem{}.TableName():         "content_items",
		ScheduleExternalRef{}.TableName(): "schedule_external_refs",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestSchedule_IsTerminal(t *testing.T) {
	for status, want := range map[string]bool{
		StatusScheduled: false,
		StatusPosted:    true,
		StatusFailed:    true,
	} {
		if got := (Schedule{Status: status}).IsTerminal(); got != want {
			t.Fatalf("IsTerminal(%q) = %v; want %v", status, got, want)
		}
	}
}

func TestContentItem_Media(t *testing.T) {
	if got := (ContentItem{}).Media(); got != nil {
		t.Fatalf("empty MediaPaths should yield nil, got %v", got)
	}
	item := ContentItem{MediaPaths: "a.jpg\n\n  b.mp4  \n"}
	if got := item.Media(); !reflect.DeepEqual(got, []string{"a.jpg", "b.mp4"}) {
		t.Fatalf("Media() = %v", got)
	}
}

func TestMigrations_IndexesAndConstraints(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	for _, idx := range []struct {
		model any
		name  string
	}{
		{&Schedule{}, "idx_schedules_due"},
		{&Schedule{}, "idx_schedules_org_created"},
		{&ScheduleMetrics{}, "idx_schedule_metrics_schedule_id"},
		{&OptimiserState{}, "ux_optimiser_org_key"},
		{&ScheduleExternalRef{}, "ux_schedule_provider"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("expected index %s on %T", idx.name, idx.model)
		}
	}

	s := Schedule{OrgID: "acme", ContentItemID: 1, ChannelID: 1, ScheduledAt: time.Now().UTC(), Status: "bogus"}
	if err := db.Create(&s).Error; err == nil {
		t.Fatalf("expected status check constraint to reject %q", s.Status)
	}

	ok := Schedule{OrgID: "acme", ContentItemID: 1, ChannelID: 1, ScheduledAt: time.Now().UTC()}
	if err := db.Create(&ok).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var got Schedule
	if err := db.First(&got, ok.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != StatusScheduled {
		t.Fatalf("default status = %q; want %q", got.Status, StatusScheduled)
	}

	a := OptimiserState{OrgID: "acme", Key: "x:post:Mon:07"}
	b := a
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("create state: %v", err)
	}
	if err := db.Create(&b).Error; err == nil {
		t.Fatalf("expected unique (org_id, key) violation")
	}
}
