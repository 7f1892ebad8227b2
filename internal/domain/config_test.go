package domain

import (
	"slices"
	"testing"
	"time"
)

func TestDefaultDeckConfigIsValid(t *testing.T) {
	if err := DefaultDeckConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to validate, but got %v", err)
	}
}

func TestSanitizeResetsInvalidFields(t *testing.T) {
	conf := DefaultDeckConfig()
	conf.New.Delays = []float64{1, -5}
	conf.Rev.Ease4 = 0
	conf.Lapse.MinInt = 0
	conf.Rev.PerDay = 50

	reset := conf.Sanitize()

	for _, field := range []string{"New.Delays", "Rev.Ease4", "Lapse.MinInt"} {
		if !slices.Contains(reset, field) {
			t.Errorf("Expected %s to be reset, but reset list was %v", field, reset)
		}
	}
	if !slices.Equal(conf.New.Delays, []float64{1, 10}) {
		t.Errorf("Expected default delays, but got %v", conf.New.Delays)
	}
	if conf.Rev.Ease4 != 1.3 || conf.Lapse.MinInt != 1 {
		t.Errorf("Expected defaults for ease4 and minInt, but got %v and %d", conf.Rev.Ease4, conf.Lapse.MinInt)
	}
	if conf.Rev.PerDay != 50 {
		t.Errorf("Expected valid fields to be kept, but perDay became %d", conf.Rev.PerDay)
	}
}

func TestSanitizeAllowsEmptyDelays(t *testing.T) {
	conf := DefaultDeckConfig()
	conf.Lapse.Delays = nil
	if reset := conf.Sanitize(); len(reset) != 0 {
		t.Errorf("Expected empty relearning steps to be accepted, but got resets %v", reset)
	}
}

func TestCollectionToday(t *testing.T) {
	col := &Collection{
		Created:      time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		RolloverHour: 4,
	}
	testCases := []struct {
		name  string
		now   time.Time
		today int64
	}{
		{name: "creation day", now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), today: 0},
		{name: "before rollover", now: time.Date(2025, 6, 2, 3, 59, 0, 0, time.UTC), today: 0},
		{name: "after rollover", now: time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC), today: 1},
		{name: "two weeks", now: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC), today: 14},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := col.Today(tc.now); got != tc.today {
				t.Errorf("Expected day %d, but got %d", tc.today, got)
			}
		})
	}
}

func TestCollectionTodayCreatedBeforeRollover(t *testing.T) {
	col := &Collection{
		Created:      time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC),
		RolloverHour: 4,
	}
	testCases := []struct {
		name  string
		now   time.Time
		today int64
	}{
		{name: "at creation", now: time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC), today: 0},
		{name: "before rollover", now: time.Date(2025, 6, 1, 3, 59, 0, 0, time.UTC), today: 0},
		{name: "after rollover", now: time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC), today: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := col.Today(tc.now); got != tc.today {
				t.Errorf("Expected day %d, but got %d", tc.today, got)
			}
		})
	}
}

func TestCollectionDayCutoff(t *testing.T) {
	col := &Collection{RolloverHour: 4}
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	want := time.Date(2025, 6, 16, 4, 0, 0, 0, time.UTC)
	if got := col.DayCutoff(now); !got.Equal(want) {
		t.Errorf("Expected cutoff %v, but got %v", want, got)
	}

	early := time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC)
	want = time.Date(2025, 6, 15, 4, 0, 0, 0, time.UTC)
	if got := col.DayCutoff(early); !got.Equal(want) {
		t.Errorf("Expected cutoff %v, but got %v", want, got)
	}

	col.RolloverHour = -2
	want = time.Date(2025, 6, 15, 22, 0, 0, 0, time.UTC)
	if got := col.DayCutoff(now); !got.Equal(want) {
		t.Errorf("Expected negative rollover to wrap to 22:00, but got %v", got)
	}
}
