package domain

import "testing"

func TestRestoredQueue(t *testing.T) {
	testCases := []struct {
		name     string
		cardType CardType
		due      int64
		expected Queue
	}{
		{name: "New", cardType: TypeNew, due: 12, expected: QueueNew},
		{name: "Review", cardType: TypeReview, due: 300, expected: QueueReview},
		{name: "Learning intraday", cardType: TypeLearning, due: 1_700_000_000, expected: QueueLearning},
		{name: "Learning day-based", cardType: TypeLearning, due: 300, expected: QueueDayLearning},
		{name: "Relearning intraday", cardType: TypeRelearning, due: 1_700_000_000, expected: QueueLearning},
		{name: "Relearning day-based", cardType: TypeRelearning, due: 42, expected: QueueDayLearning},
		{name: "Threshold is day-based", cardType: TypeLearning, due: SecondsDueThreshold, expected: QueueDayLearning},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RestoredQueue(tc.cardType, tc.due); got != tc.expected {
				t.Errorf("Expected queue %v, but got %v", tc.expected, got)
			}
		})
	}
}

func TestLeftEncoding(t *testing.T) {
	card := &Card{Left: 2003}
	if card.StepsRemaining() != 3 {
		t.Errorf("Expected 3 steps remaining, but got %d", card.StepsRemaining())
	}
	if card.StepsToday() != 2 {
		t.Errorf("Expected 2 steps today, but got %d", card.StepsToday())
	}
}

func TestSetUserFlagKeepsHighBits(t *testing.T) {
	card := &Card{Flags: 0b1010_0011}
	card.SetUserFlag(5)

	if card.UserFlag() != 5 {
		t.Errorf("Expected flag 5, but got %d", card.UserFlag())
	}
	if card.Flags&^FlagMask != 0b1010_0000 {
		t.Errorf("Expected reserved bits to be preserved, but got %b", card.Flags)
	}

	card.SetUserFlag(0)
	if card.Flags != 0b1010_0000 {
		t.Errorf("Expected clearing the flag to leave only reserved bits, but got %b", card.Flags)
	}
}

func TestHomeDeck(t *testing.T) {
	card := &Card{DeckID: 7}
	if card.HomeDeck() != 7 || card.IsFiltered() {
		t.Errorf("Expected unfiltered card to live in deck 7, but got %d", card.HomeDeck())
	}
	card.OriginalDeck, card.DeckID = 7, 9
	if card.HomeDeck() != 7 || !card.IsFiltered() {
		t.Errorf("Expected filtered card to report home deck 7, but got %d", card.HomeDeck())
	}
}

func TestDayCounter(t *testing.T) {
	var c DayCounter
	c.Add(10, 1)
	c.Add(10, 2)
	if c.For(10) != 3 {
		t.Errorf("Expected 3 for today, but got %d", c.For(10))
	}
	if c.For(11) != 0 {
		t.Errorf("Expected a stale counter to read 0, but got %d", c.For(11))
	}
	c.Add(11, 1)
	if c.Day != 11 || c.Count != 1 {
		t.Errorf("Expected counter to restart on a new day, but got %+v", c)
	}
}

func TestNormalizeDeckName(t *testing.T) {
	testCases := map[string]string{
		"Languages":                 "Languages",
		" Languages :: Japanese ":   "Languages::Japanese",
		"a::::b":                    "a::b",
		"::":                        "",
		"Spanish::Verbs::Irregular": "Spanish::Verbs::Irregular",
	}
	for input, expected := range testCases {
		if got := NormalizeDeckName(input); got != expected {
			t.Errorf("NormalizeDeckName(%q): expected %q, but got %q", input, expected, got)
		}
	}
	if ParentName("a::b::c") != "a::b" || ParentName("a") != "" {
		t.Error("Expected ParentName to strip the last component")
	}
}

func TestNoteTags(t *testing.T) {
	note := &Note{Tags: []string{"Reverse"}}
	if !note.HasTag(ReverseTag) {
		t.Error("Expected tag lookup to ignore case")
	}
	if len(note.TemplateOrds()) != 2 {
		t.Errorf("Expected a reverse note to realize 2 cards, but got %d", len(note.TemplateOrds()))
	}
	if !note.AddTag(LeechTag) || note.AddTag("LEECH") {
		t.Error("Expected AddTag to add once and then report no change")
	}
}
