package sched

import (
	"errors"
	"testing"

	"github.com/conorfennell/knoldeck/internal/decks"
	"github.com/conorfennell/knoldeck/internal/domain"
)

func findNode(nodes []*DeckNode, name string) *DeckNode {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
		if found := findNode(n.Children, name); found != nil {
			return found
		}
	}
	return nil
}

func TestDeckTreeCounts(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	childID, err := s.CreateDeck(f.ctx, "Parent::Child")
	if err != nil {
		t.Fatalf("Failed to create deck: %v", err)
	}
	parent, ok := s.arena.ByName("Parent")
	if !ok {
		t.Fatal("Expected the parent to be created")
	}
	f.addNote("p", parent.ID)
	for _, guid := range []string{"c1", "c2", "c3"} {
		f.addNote(guid, childID)
	}
	if err := s.Reset(f.ctx); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}

	two := 2
	testCases := []struct {
		name      string
		limit     *int
		parentNew int
		childNew  int
	}{
		{name: "Config limits", parentNew: 4, childNew: 3},
		{name: "Parent override", limit: &two, parentNew: 2, childNew: 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.SetDeckLimits(f.ctx, parent.ID, tc.limit, nil); err != nil {
				t.Fatalf("Failed to set limits: %v", err)
			}
			tree, err := s.DeckTree(f.ctx)
			if err != nil {
				t.Fatalf("Failed to build tree: %v", err)
			}
			p, c := findNode(tree, "Parent"), findNode(tree, "Parent::Child")
			if p == nil || c == nil {
				t.Fatal("Expected both decks in the tree")
			}
			if len(p.Children) != 1 || p.Children[0] != c {
				t.Errorf("Expected the child nested under its parent")
			}
			if p.New != tc.parentNew || c.New != tc.childNew {
				t.Errorf("Expected new counts %d/%d, but got %d/%d", tc.parentNew, tc.childNew, p.New, c.New)
			}
		})
	}
}

func TestCreateAndRenameDecks(t *testing.T) {
	f := newFixture(t)
	s := f.open()

	first, err := s.CreateDeck(f.ctx, "Lang::Spanish")
	if err != nil {
		t.Fatalf("Failed to create deck: %v", err)
	}
	again, err := s.CreateDeck(f.ctx, "Lang::Spanish")
	if err != nil || again != first {
		t.Errorf("Expected create to return the existing deck %d, but got %d %v", first, again, err)
	}

	if _, err := s.CreateFilteredDeck(f.ctx, "Cram", FilteredOptions{
		Terms: []domain.FilterTerm{{Search: "is:due", Limit: 10}},
	}); err != nil {
		t.Fatalf("Failed to create filtered deck: %v", err)
	}
	if _, err := s.CreateFilteredDeck(f.ctx, "Cram", FilteredOptions{}); !errors.Is(err, decks.ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, but got %v", err)
	}

	lang, _ := s.arena.ByName("Lang")
	testCases := []struct {
		name     string
		act      func() error
		expected error
	}{
		{name: "Create under filtered", act: func() error { _, err := s.CreateDeck(f.ctx, "Cram::X"); return err }, expected: decks.ErrFilteredParent},
		{name: "Rename under filtered", act: func() error { return s.RenameDeck(f.ctx, lang.ID, "Cram::Lang") }, expected: decks.ErrFilteredParent},
		{name: "Rename", act: func() error { return s.RenameDeck(f.ctx, lang.ID, "Languages") }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.act(); !errors.Is(err, tc.expected) {
				t.Errorf("Expected %v, but got %v", tc.expected, err)
			}
		})
	}

	if _, ok := s.arena.ByName("Languages::Spanish"); !ok {
		t.Error("Expected the child to follow its renamed parent")
	}
	if _, ok := s.arena.ByName("Cram::X"); ok {
		t.Error("Expected no deck under the filtered deck")
	}
	if got := s.FindDecks("spn"); len(got) != 1 || got[0].Name != "Languages::Spanish" {
		t.Errorf("Expected a fuzzy match on Spanish, but got %d decks", len(got))
	}
}

func TestRemoveDeckConfigNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	deckID, err := s.CreateDeck(f.ctx, "Fast")
	if err != nil {
		t.Fatalf("Failed to create deck: %v", err)
	}
	conf := domain.DefaultDeckConfig()
	conf.ID = 0
	conf.Name = "Fast"
	conf.New.PerDay = 50
	if err := s.SaveDeckConfig(f.ctx, conf); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	if conf.ID == 0 {
		t.Fatal("Expected the new config to get an id")
	}
	if err := s.AssignDeckConfig(f.ctx, deckID, conf.ID); err != nil {
		t.Fatalf("Failed to assign config: %v", err)
	}

	out, err := s.RemoveDeckConfig(f.ctx, conf.ID, false)
	if err != nil || !out.RequiresConfirmation {
		t.Fatalf("Expected a confirmation request, but got %+v %v", out, err)
	}
	if d, _ := s.arena.Get(deckID); d.ConfigID != conf.ID {
		t.Errorf("Expected nothing changed before confirming, but deck uses %d", d.ConfigID)
	}

	out, err = s.RemoveDeckConfig(f.ctx, conf.ID, true)
	if err != nil || out.RequiresConfirmation {
		t.Fatalf("Expected the config removed, but got %+v %v", out, err)
	}
	if d := f.deck(deckID); d.ConfigID != domain.DefaultConfigID {
		t.Errorf("Expected the deck on the default config, but got %d", d.ConfigID)
	}
	confs, _ := s.DeckConfigs(f.ctx)
	if len(confs) != 1 {
		t.Errorf("Expected only the default config left, but got %d", len(confs))
	}
	if _, err := s.RemoveDeckConfig(f.ctx, domain.DefaultConfigID, true); err == nil {
		t.Error("Expected removing the default config to fail")
	}
}

func TestSaveDeckConfigValidates(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	conf := domain.DefaultDeckConfig()
	conf.New.InitialFactor = 100
	if err := s.SaveDeckConfig(f.ctx, conf); err == nil {
		t.Error("Expected an invalid starting ease to be rejected")
	}
}

func TestSelectDeckLimitsStudy(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	other, err := s.CreateDeck(f.ctx, "Other")
	if err != nil {
		t.Fatalf("Failed to create deck: %v", err)
	}
	f.addNote("home", domain.DefaultDeckID)
	c := f.addNote("away", other)[0]

	if err := s.SelectDeck(f.ctx, other); err != nil {
		t.Fatalf("Failed to select deck: %v", err)
	}
	if got := f.counts(); got.New != 1 {
		t.Errorf("Expected only the selected deck counted, but got %+v", got)
	}
	if got := f.next(); got.ID != c.ID {
		t.Errorf("Expected card %d from the selected deck, but got %d", c.ID, got.ID)
	}
	if err := s.SelectDeck(f.ctx, 999); !errors.Is(err, ErrUnknownDeck) {
		t.Errorf("Expected ErrUnknownDeck, but got %v", err)
	}
}
