package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
)

func addNote(t *testing.T, db *DB, guid string, deckID int64, tags ...string) []*domain.Card {
	t.Helper()
	cards, err := db.AddNote(context.Background(), &domain.Note{
		GUID:     guid,
		Question: "What is " + guid + "?",
		Answer:   guid,
		Tags:     tags,
	}, deckID)
	if err != nil {
		t.Fatalf("Failed to add note %s: %v", guid, err)
	}
	return cards
}

func TestMigrationManagerVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migration-test.db")

	mgr, err := NewMigrationManager(dbPath)
	if err != nil {
		t.Fatalf("Failed to create migration manager: %v", err)
	}
	if err := mgr.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	version, dirty, err := mgr.Version()
	if err != nil {
		t.Fatalf("Failed to get migration version: %v", err)
	}
	if dirty || version != 1 {
		t.Errorf("Expected clean version 1, but got version %d dirty=%v", version, dirty)
	}
	if err := mgr.Up(); err != nil {
		t.Errorf("Expected a second Up to be a no-op, but got %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Failed to close migration manager: %v", err)
	}
}

func TestSeededCollection(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	col, err := db.Collection(ctx)
	if err != nil {
		t.Fatalf("Failed to load collection: %v", err)
	}
	if col.RolloverHour != 4 || col.CollapseTime != 20*time.Minute || col.CurrentDeck != domain.DefaultDeckID {
		t.Errorf("Expected seeded defaults, but got %+v", col)
	}

	decks, err := db.Decks(ctx)
	if err != nil {
		t.Fatalf("Failed to load decks: %v", err)
	}
	if len(decks) != 1 || decks[0].Name != "Default" || decks[0].ConfigID != domain.DefaultConfigID {
		t.Fatalf("Expected the Default deck, but got %+v", decks)
	}

	conf, err := db.DeckConfig(ctx, domain.DefaultConfigID)
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	if conf.New.PerDay != 20 || len(conf.New.Delays) != 2 {
		t.Errorf("Expected an empty stored config to read as defaults, but got %+v", conf.New)
	}
}

func TestAddNoteRealizesCards(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	first := addNote(t, db, "one", domain.DefaultDeckID)
	second := addNote(t, db, "two", domain.DefaultDeckID, domain.ReverseTag)

	if len(first) != 1 || len(second) != 2 {
		t.Fatalf("Expected 1 and 2 cards, but got %d and %d", len(first), len(second))
	}
	if first[0].Due != 1 || second[0].Due != 2 || second[1].Due != 2 {
		t.Errorf("Expected sibling cards to share the next position, but got %d, %d, %d",
			first[0].Due, second[0].Due, second[1].Due)
	}

	siblings, err := db.QueryCards(ctx, store.CardQuery{NoteID: second[0].NoteID})
	if err != nil {
		t.Fatalf("Failed to query siblings: %v", err)
	}
	if len(siblings) != 2 || siblings[1].Ord != 1 {
		t.Errorf("Expected two ordinals for a reverse note, but got %+v", siblings)
	}

	col, _ := db.Collection(ctx)
	if col.NextPosition != 3 {
		t.Errorf("Expected next position 3, but got %d", col.NextPosition)
	}
}

func TestQueryAndCountCards(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	var cards []*domain.Card
	for _, guid := range []string{"a", "b", "c", "d"} {
		cards = append(cards, addNote(t, db, guid, domain.DefaultDeckID)...)
	}
	cards[1].Queue, cards[1].Type, cards[1].Due, cards[1].Interval = domain.QueueReview, domain.TypeReview, 10, 5
	cards[2].Queue, cards[2].Type, cards[2].Due, cards[2].Interval = domain.QueueReview, domain.TypeReview, 20, 3
	if err := db.UpdateCards(ctx, cards[1], cards[2]); err != nil {
		t.Fatalf("Failed to update cards: %v", err)
	}

	testCases := []struct {
		name     string
		query    store.CardQuery
		expected []int64
	}{
		{
			name:     "Due reviews",
			query:    store.CardQuery{Queues: []domain.Queue{domain.QueueReview}, DueAtMost: store.DueAtMost(15)},
			expected: []int64{cards[1].ID},
		},
		{
			name:     "Interval order",
			query:    store.CardQuery{Queues: []domain.Queue{domain.QueueReview}, Order: store.ByIntervalAsc},
			expected: []int64{cards[2].ID, cards[1].ID},
		},
		{
			name:     "New paged",
			query:    store.CardQuery{Queues: []domain.Queue{domain.QueueNew}, Order: store.ByDue, Limit: 1, Offset: 1},
			expected: []int64{cards[3].ID},
		},
		{
			name:     "Excluded",
			query:    store.CardQuery{DeckIDs: []int64{domain.DefaultDeckID}, ExcludeIDs: []int64{cards[0].ID, cards[3].ID}},
			expected: []int64{cards[1].ID, cards[2].ID},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := db.QueryCards(ctx, tc.query)
			if err != nil {
				t.Fatalf("Expected no error, but got %v", err)
			}
			if len(got) != len(tc.expected) {
				t.Fatalf("Expected %d cards, but got %d", len(tc.expected), len(got))
			}
			for i, c := range got {
				if c.ID != tc.expected[i] {
					t.Errorf("Expected card %d at %d, but got %d", tc.expected[i], i, c.ID)
				}
			}
			n, err := db.CountCards(ctx, store.CardQuery{Queues: tc.query.Queues, DueAtMost: tc.query.DueAtMost, DeckIDs: tc.query.DeckIDs, ExcludeIDs: tc.query.ExcludeIDs})
			if err != nil {
				t.Fatalf("Expected no count error, but got %v", err)
			}
			if tc.query.Limit == 0 && n != len(tc.expected) {
				t.Errorf("Expected count %d, but got %d", len(tc.expected), n)
			}
		})
	}
}

func TestSearchCards(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	spanish := &domain.Deck{Name: "Spanish", ConfigID: domain.DefaultConfigID, Resched: true}
	verbs := &domain.Deck{Name: "Spanish::Verbs", ConfigID: domain.DefaultConfigID, Resched: true}
	for _, d := range []*domain.Deck{spanish, verbs} {
		if err := db.SaveDeck(ctx, d); err != nil {
			t.Fatalf("Failed to save deck: %v", err)
		}
	}
	a := addNote(t, db, "hablar", verbs.ID, "verb")[0]
	b := addNote(t, db, "casa", spanish.ID, "noun")[0]
	addNote(t, db, "apple", domain.DefaultDeckID)

	got, err := db.SearchCards(ctx, store.CardSearch{Expr: "deck:spanish", Order: domain.OrderAdded})
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Errorf("Expected the deck and its child in added order, but got %+v", got)
	}

	got, err = db.SearchCards(ctx, store.CardSearch{Expr: "tag:verb or apple", Order: domain.OrderDue, Limit: 1})
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("Expected the limit to keep the earliest due card, but got %+v", got)
	}

	if _, err := db.SearchCards(ctx, store.CardSearch{Expr: "is:"}); err == nil {
		t.Error("Expected a syntax error")
	}
}

func TestTransactRollsBack(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	card := addNote(t, db, "x", domain.DefaultDeckID)[0]

	boom := errors.New("boom")
	err := db.Transact(ctx, func(tx store.Store) error {
		c, err := tx.Card(ctx, card.ID)
		if err != nil {
			return err
		}
		c.Queue = domain.QueueSuspended
		if err := tx.UpdateCards(ctx, c); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the callback error, but got %v", err)
	}

	got, err := db.Card(ctx, card.ID)
	if err != nil {
		t.Fatalf("Failed to reload card: %v", err)
	}
	if got.Queue != domain.QueueNew {
		t.Errorf("Expected the update to be rolled back, but queue is %v", got.Queue)
	}

	if _, err := db.Card(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}

func TestRevlogIDsStayUnique(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	first := &domain.RevlogEntry{ID: 1000, CardID: 1, Ease: domain.Good, Taken: 2 * time.Second}
	second := &domain.RevlogEntry{ID: 1000, CardID: 1, Ease: domain.Again}
	for _, e := range []*domain.RevlogEntry{first, second} {
		if err := db.AddRevlog(ctx, e); err != nil {
			t.Fatalf("Failed to add revlog: %v", err)
		}
	}
	if second.ID != 1001 {
		t.Errorf("Expected a colliding id to shift to 1001, but got %d", second.ID)
	}

	entries, _ := db.Revlog(ctx, 1)
	if len(entries) != 2 || entries[0].Taken != 2*time.Second {
		t.Fatalf("Expected 2 entries, but got %+v", entries)
	}
	if err := db.RemoveRevlog(ctx, second.ID); err != nil {
		t.Fatalf("Failed to remove revlog: %v", err)
	}
	entries, _ = db.Revlog(ctx, 1)
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry after removal, but got %d", len(entries))
	}
}

func TestDeckRoundTripKeepsOverrides(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	limit := 5
	filtered := &domain.Deck{
		Name:         "Cram",
		Filtered:     true,
		Terms:        []domain.FilterTerm{{Search: "is:due", Limit: 100, Order: domain.OrderRandom}},
		PreviewDelay: 10,
		Delays:       []float64{1, 5},
		NewLimit:     &limit,
	}
	if err := db.SaveDeck(ctx, filtered); err != nil {
		t.Fatalf("Failed to save deck: %v", err)
	}
	filtered.NewToday.Add(14, 3)
	if err := db.SaveDeck(ctx, filtered); err != nil {
		t.Fatalf("Failed to update deck: %v", err)
	}

	decks, _ := db.Decks(ctx)
	var got *domain.Deck
	for _, d := range decks {
		if d.ID == filtered.ID {
			got = d
		}
	}
	if got == nil {
		t.Fatal("Expected to find the saved deck")
	}
	if !got.Filtered || len(got.Terms) != 1 || got.Terms[0].Order != domain.OrderRandom {
		t.Errorf("Expected terms to round trip, but got %+v", got.Terms)
	}
	if got.NewLimit == nil || *got.NewLimit != 5 || got.ReviewLimit != nil {
		t.Errorf("Expected only the new limit override, but got %v and %v", got.NewLimit, got.ReviewLimit)
	}
	if got.NewToday.For(14) != 3 {
		t.Errorf("Expected counter 3, but got %d", got.NewToday.For(14))
	}
}

func TestUnreadableDeckConfigFallsBack(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	if _, err := db.q.ExecContext(ctx, `UPDATE deck_config SET config = '{"new": 12' WHERE id = 1`); err != nil {
		t.Fatalf("Failed to corrupt config: %v", err)
	}
	conf, err := db.DeckConfig(ctx, domain.DefaultConfigID)
	if err != nil {
		t.Fatalf("Expected a fallback, but got %v", err)
	}
	if conf.Rev.PerDay != 200 || conf.Name != "Default" {
		t.Errorf("Expected defaults with the stored name, but got %+v", conf)
	}
}

func TestRemoveSourceDeletesItsNotes(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	id, err := db.InsertSource(ctx, "/tmp/notes", "local")
	if err != nil {
		t.Fatalf("Failed to insert source: %v", err)
	}
	if _, err := db.AddNote(ctx, &domain.Note{GUID: "g", Question: "q", SourceID: id}, domain.DefaultDeckID); err != nil {
		t.Fatalf("Failed to add note: %v", err)
	}
	addNote(t, db, "other", domain.DefaultDeckID)

	if err := db.RemoveSource(ctx, id); err != nil {
		t.Fatalf("Failed to remove source: %v", err)
	}
	n, _ := db.CountCards(ctx, store.CardQuery{})
	if n != 1 {
		t.Errorf("Expected only the unrelated card to remain, but got %d", n)
	}
	if err := db.RemoveSource(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a second removal, but got %v", err)
	}
}
