package sched

import (
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
)

func TestFilteredDeckEarlyReview(t *testing.T) {
	f := newFixture(t)
	a := f.makeReview(f.addNote("a", domain.DefaultDeckID)[0], 10, studyToday+5)
	b := f.makeReview(f.addNote("b", domain.DefaultDeckID)[0], 10, studyToday+6)
	f.open()

	id, err := f.s.CreateFilteredDeck(f.ctx, "Cram", FilteredOptions{
		Terms:   []domain.FilterTerm{{Search: "deck:Default", Limit: 10, Order: domain.OrderDue}},
		Resched: true,
	})
	if err != nil {
		t.Fatalf("Failed to create filtered deck: %v", err)
	}
	if got := f.s.Collection().CurrentDeck; got != id {
		t.Errorf("Expected the filtered deck to be selected, but got deck %d", got)
	}
	for _, c := range []*domain.Card{a, b} {
		got := f.card(c.ID)
		if got.DeckID != id || got.OriginalDeck != domain.DefaultDeckID || got.OriginalDue != c.Due {
			t.Errorf("Expected card %d borrowed with its due kept, but got %+v", c.ID, got)
		}
		if got.Due >= 0 {
			t.Errorf("Expected a filtered position, but got due %d", got.Due)
		}
	}
	if got := f.counts(); got.Review != 2 {
		t.Fatalf("Expected 2 borrowed reviews, but got %+v", got)
	}

	served := f.next()
	if served.ID != a.ID {
		t.Fatalf("Expected the earliest due card first, but got %d", served.ID)
	}
	got := f.answer(served, domain.Good)
	if got.Interval != 13 || got.Due != studyToday+13 {
		t.Errorf("Expected an early review of 13 days, but got interval %d due %d", got.Interval, got.Due)
	}
	if got.DeckID != domain.DefaultDeckID || got.IsFiltered() || got.OriginalDue != 0 {
		t.Errorf("Expected the card back home, but got deck %d odid %d odue %d", got.DeckID, got.OriginalDeck, got.OriginalDue)
	}
	entries, _ := f.db.Revlog(f.ctx, a.ID)
	if len(entries) != 1 || entries[0].Kind != domain.ReviewCram {
		t.Errorf("Expected one cram entry, but got %d", len(entries))
	}

	n, err := f.s.EmptyFiltered(f.ctx, id)
	if err != nil || n != 1 {
		t.Fatalf("Expected to return 1 card, but got %d %v", n, err)
	}
	if got := f.card(b.ID); got.DeckID != domain.DefaultDeckID || got.Due != b.Due || got.Queue != domain.QueueReview {
		t.Errorf("Expected card %d restored, but got %+v", b.ID, got)
	}
	if n, err := f.s.EmptyFiltered(f.ctx, id); err != nil || n != 0 {
		t.Errorf("Expected emptying again to move nothing, but got %d %v", n, err)
	}
}

func TestPreviewDeck(t *testing.T) {
	f := newFixture(t)
	a := f.addNote("a", domain.DefaultDeckID)[0]
	b := f.addNote("b", domain.DefaultDeckID)[0]
	f.open()

	id, err := f.s.CreateFilteredDeck(f.ctx, "Preview", FilteredOptions{
		Terms:        []domain.FilterTerm{{Search: "is:new", Limit: 10, Order: domain.OrderAdded}},
		PreviewDelay: 10,
	})
	if err != nil {
		t.Fatalf("Failed to create preview deck: %v", err)
	}
	if got := f.card(a.ID); got.Queue != domain.QueueReview {
		t.Errorf("Expected previewed new cards in the review queue, but got %v", got.Queue)
	}

	got := f.answer(f.next(), domain.Good)
	if got.ID != a.ID {
		t.Fatalf("Expected card %d first, but got %d", a.ID, got.ID)
	}
	if got.Queue != domain.QueueNew || got.Due != a.Due || got.Reps != 0 || got.DeckID != domain.DefaultDeckID {
		t.Errorf("Expected the card returned untouched, but got %+v", got)
	}

	now := studyStart.Unix()
	got = f.answer(f.next(), domain.Again)
	if got.ID != b.ID || got.Queue != domain.QueuePreview || got.Due != now+600 {
		t.Errorf("Expected card %d back in preview in ten minutes, but got %+v", b.ID, got)
	}

	if _, err := f.s.EmptyFiltered(f.ctx, id); err != nil {
		t.Fatalf("Failed to empty preview deck: %v", err)
	}
	if got := f.card(b.ID); got.Queue != domain.QueueNew || got.Due != b.Due || got.IsFiltered() {
		t.Errorf("Expected card %d new again, but got %+v", b.ID, got)
	}
}

func TestPreviewAgainWaitsPastCollapse(t *testing.T) {
	f := newFixture(t)
	a := f.addNote("a", domain.DefaultDeckID)[0]
	f.open()

	if _, err := f.s.CreateFilteredDeck(f.ctx, "Preview", FilteredOptions{
		Terms:        []domain.FilterTerm{{Search: "is:new", Limit: 10, Order: domain.OrderAdded}},
		PreviewDelay: 60,
	}); err != nil {
		t.Fatalf("Failed to create preview deck: %v", err)
	}
	got := f.answer(f.next(), domain.Again)
	if got.ID != a.ID || got.Queue != domain.QueuePreview {
		t.Fatalf("Expected card %d in preview, but got %+v", a.ID, got)
	}

	if got := f.counts(); got != (Counts{}) {
		t.Errorf("Expected nothing left before the preview delay, but got %+v", got)
	}
	c, err := f.s.NextCard(f.ctx)
	if err != nil || c != nil {
		t.Errorf("Expected no card before the preview delay, but got %+v %v", c, err)
	}
	tree, err := f.s.DeckTree(f.ctx)
	if err != nil {
		t.Fatalf("Failed to build deck tree: %v", err)
	}
	for _, node := range tree {
		if node.Learn != 0 {
			t.Errorf("Expected no learning cards in %s, but got %d", node.Name, node.Learn)
		}
	}

	f.clock.Advance(61 * time.Minute)
	if err := f.s.Reset(f.ctx); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}
	if got := f.counts(); got.Learn != 1 {
		t.Errorf("Expected the previewed card due again, but got %+v", got)
	}
	if c := f.next(); c.ID != a.ID {
		t.Errorf("Expected card %d, but got %d", a.ID, c.ID)
	}
}

func TestFilteredSkipsWithheldCards(t *testing.T) {
	f := newFixture(t)
	a := f.addNote("a", domain.DefaultDeckID)[0]
	b := f.addNote("b", domain.DefaultDeckID)[0]
	f.open()
	if _, err := f.s.Suspend(f.ctx, []int64{a.ID}); err != nil {
		t.Fatalf("Failed to suspend: %v", err)
	}

	id, err := f.s.CreateFilteredDeck(f.ctx, "Cram", FilteredOptions{
		Terms:   []domain.FilterTerm{{Search: "", Limit: 10}},
		Resched: true,
	})
	if err != nil {
		t.Fatalf("Failed to create filtered deck: %v", err)
	}
	if got := f.card(a.ID); got.IsFiltered() {
		t.Errorf("Expected the suspended card to stay home, but it moved to deck %d", got.DeckID)
	}
	if got := f.card(b.ID); got.DeckID != id {
		t.Errorf("Expected card %d in the filtered deck, but got deck %d", b.ID, got.DeckID)
	}

	n, err := f.s.RebuildFiltered(f.ctx, id)
	if err != nil || n != 1 {
		t.Errorf("Expected a rebuild to take 1 card, but got %d %v", n, err)
	}
	if _, err := f.s.EmptyFiltered(f.ctx, domain.DefaultDeckID); !errors.Is(err, ErrNotFiltered) {
		t.Errorf("Expected ErrNotFiltered, but got %v", err)
	}
}
