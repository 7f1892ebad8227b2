package sched

import (
	"testing"

	"github.com/conorfennell/knoldeck/internal/domain"
)

func TestSetDueDate(t *testing.T) {
	f := newFixture(t)
	c := f.addNote("n1", domain.DefaultDeckID)[0]
	f.open()

	n, err := f.s.SetDueDate(f.ctx, []int64{c.ID}, 3, 3)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 card changed, but got %d %v", n, err)
	}
	got := f.card(c.ID)
	if got.Type != domain.TypeReview || got.Queue != domain.QueueReview {
		t.Errorf("Expected a review card, but got %v/%v", got.Type, got.Queue)
	}
	if got.Due != studyToday+3 || got.Interval != 3 || got.Factor != 2500 {
		t.Errorf("Expected due %d interval 3 factor 2500, but got due %d interval %d factor %d", studyToday+3, got.Due, got.Interval, got.Factor)
	}
	if _, err := f.s.SetDueDate(f.ctx, []int64{c.ID}, 5, 2); err == nil {
		t.Error("Expected an inverted range to be rejected")
	}
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	f.addNote("a", domain.DefaultDeckID)
	f.addNote("b", domain.DefaultDeckID)
	f.addNote("c", domain.DefaultDeckID)
	rev := f.makeReview(f.addNote("d", domain.DefaultDeckID)[0], 30, studyToday+10)
	f.open()
	if got := f.s.Collection().NextPosition; got != 5 {
		t.Fatalf("Expected next position 5 after four notes, but got %d", got)
	}

	if n, err := f.s.Forget(f.ctx, []int64{rev.ID}); err != nil || n != 1 {
		t.Fatalf("Expected 1 card forgotten, but got %d %v", n, err)
	}
	got := f.card(rev.ID)
	if got.Type != domain.TypeNew || got.Queue != domain.QueueNew || got.Due != 5 || got.Interval != 0 {
		t.Errorf("Expected a new card at position 5, but got %+v", got)
	}
	if got := f.s.Collection().NextPosition; got != 6 {
		t.Errorf("Expected next position 6, but got %d", got)
	}

	if _, err := f.s.Undo(f.ctx); err != nil {
		t.Fatalf("Failed to undo: %v", err)
	}
	if got := f.card(rev.ID); got.Type != domain.TypeReview || got.Interval != 30 {
		t.Errorf("Expected the review card restored, but got %+v", got)
	}
	if got := f.s.Collection().NextPosition; got != 5 {
		t.Errorf("Expected next position 5 after undo, but got %d", got)
	}
}

func TestReposition(t *testing.T) {
	f := newFixture(t)
	a := f.addNote("a", domain.DefaultDeckID)[0]
	b := f.addNote("b", domain.DefaultDeckID)[0]
	c := f.addNote("c", domain.DefaultDeckID)[0]
	f.open()

	testCases := []struct {
		name     string
		ids      []int64
		start    int64
		shift    bool
		expected map[int64]int64
	}{
		{
			name:     "Shift",
			ids:      []int64{c.ID},
			start:    2,
			shift:    true,
			expected: map[int64]int64{a.ID: 1, b.ID: 3, c.ID: 2},
		},
		{
			name:     "No shift",
			ids:      []int64{a.ID},
			start:    10,
			expected: map[int64]int64{a.ID: 10, b.ID: 3, c.ID: 2},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.s.Reposition(f.ctx, tc.ids, tc.start, 1, tc.shift); err != nil {
				t.Fatalf("Failed to reposition: %v", err)
			}
			for id, due := range tc.expected {
				if got := f.card(id).Due; got != due {
					t.Errorf("Expected card %d at %d, but got %d", id, due, got)
				}
			}
		})
	}
	if got := f.s.Collection().NextPosition; got != 11 {
		t.Errorf("Expected next position after the highest card, but got %d", got)
	}

	if _, err := f.s.Undo(f.ctx); err != nil {
		t.Fatalf("Failed to undo: %v", err)
	}
	if got := f.card(a.ID).Due; got != 1 {
		t.Errorf("Expected card %d back at 1, but got %d", a.ID, got)
	}
	if got := f.s.Collection().NextPosition; got != 4 {
		t.Errorf("Expected next position 4 after undo, but got %d", got)
	}
}

func TestRepositionIgnoresReviewCards(t *testing.T) {
	f := newFixture(t)
	rev := f.makeReview(f.addNote("a", domain.DefaultDeckID)[0], 5, studyToday)
	f.open()

	n, err := f.s.Reposition(f.ctx, []int64{rev.ID}, 1, 1, false)
	if err != nil || n != 0 {
		t.Errorf("Expected nothing repositioned, but got %d %v", n, err)
	}
	if got := f.card(rev.ID).Due; got != studyToday {
		t.Errorf("Expected the review due unchanged, but got %d", got)
	}
}
