package parser

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name          string
		input         string
		expectedNotes int
		expectedQ     string
		expectedA     string
		expectedC     string
	}{
		{
			name:          "Simple Q&A",
			input:         "Q: What is the capital of France?\nA: Paris",
			expectedNotes: 1,
			expectedQ:     "What is the capital of France?",
			expectedA:     "Paris",
		},
		{
			name:          "Simple Q, A, and C",
			input:         "Q: What is 1+1?\nA: 2\nC: Basic arithmetic",
			expectedNotes: 1,
			expectedQ:     "What is 1+1?",
			expectedA:     "2",
			expectedC:     "Basic arithmetic",
		},
		{
			name: "Multiline Answer",
			input: `
Q: What are the primary colors?
A: Red
Blue
Yellow
`,
			expectedNotes: 1,
			expectedQ:     "What are the primary colors?",
			expectedA:     "Red\nBlue\nYellow",
		},
		{
			name: "Two Notes",
			input: `
Q: First question
A: First answer

Q: Second question
A: Second answer
`,
			expectedNotes: 2,
		},
		{
			name: "Note with all fields and multiline",
			input: `
Q: What is Go?
A: A statically typed, compiled programming language.
It was designed at Google.
C: Programming Languages
`,
			expectedNotes: 1,
			expectedQ:     "What is Go?",
			expectedA:     "A statically typed, compiled programming language.\nIt was designed at Google.",
			expectedC:     "Programming Languages",
		},
		{
			name:          "No notes, just text",
			input:         "This is a file with no questions.",
			expectedNotes: 0,
		},
		{
			name:          "Prefixes with no space",
			input:         "Q:Question\nA:Answer",
			expectedNotes: 1,
			expectedQ:     "Question",
			expectedA:     "Answer",
		},
		{
			name:          "Separator ends a note",
			input:         "Q: One\nA: 1\n---\nstray text\nQ: Two\nA: 2",
			expectedNotes: 2,
		},
		{
			name:          "Answer without question is dropped",
			input:         "A: orphan\n---\n",
			expectedNotes: 0,
		},
		{
			name:          "Meta lines do not continue the answer",
			input:         "Q: Capital of Spain?\nA: Madrid\nT: geo\nnot part of the answer",
			expectedNotes: 1,
			expectedQ:     "Capital of Spain?",
			expectedA:     "Madrid",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			notes, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}

			if len(notes) != tc.expectedNotes {
				t.Fatalf("Expected %d notes, but got %d", tc.expectedNotes, len(notes))
			}

			if tc.expectedNotes == 1 {
				note := notes[0]
				if note.Question != tc.expectedQ {
					t.Errorf("Expected Question to be '%s', but got '%s'", tc.expectedQ, note.Question)
				}
				if note.Answer != tc.expectedA {
					t.Errorf("Expected Answer to be '%s', but got '%s'", tc.expectedA, note.Answer)
				}
				if note.Context != tc.expectedC {
					t.Errorf("Expected Context to be '%s', but got '%s'", tc.expectedC, note.Context)
				}
			}
		})
	}
}

func TestParseDeckAndTags(t *testing.T) {
	input := `
D: Languages :: Spanish
Q: Hola
A: Hello
T: greeting, reverse

Q: Adiós
A: Goodbye
D: Languages::Spanish::Farewells
T: farewell
---
Q: No deck
A: Default
`
	notes, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() returned an unexpected error: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("Expected 3 notes, but got %d", len(notes))
	}

	testCases := []struct {
		deck string
		tags []string
	}{
		{deck: "Languages::Spanish", tags: []string{"greeting", "reverse"}},
		{deck: "Languages::Spanish::Farewells", tags: []string{"farewell"}},
		{deck: "", tags: nil},
	}
	for i, tc := range testCases {
		t.Run(notes[i].Question, func(t *testing.T) {
			if notes[i].Deck != tc.deck {
				t.Errorf("Expected deck %q, but got %q", tc.deck, notes[i].Deck)
			}
			if !slices.Equal(notes[i].Tags, tc.tags) {
				t.Errorf("Expected tags %v, but got %v", tc.tags, notes[i].Tags)
			}
		})
	}
	if got := notes[0].TemplateOrds(); len(got) != 2 {
		t.Errorf("Expected the reverse tag to realize 2 cards, but got %d", len(got))
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("Q: In a file?\nA: Yes\n"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	notes, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() returned an unexpected error: %v", err)
	}
	if len(notes) != 1 || notes[0].Answer != "Yes" {
		t.Errorf("Expected one note answered Yes, but got %+v", notes)
	}
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
