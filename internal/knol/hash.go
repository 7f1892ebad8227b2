// Package knol derives stable note identities from note content.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// Normalize concatenates the note's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them. Deck and tags are not part of the content, so moving
// or retagging a note keeps its identity and its scheduling history.
func Normalize(note domain.Note) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		p = strings.TrimSpace(p)
		return p
	}

	q := normalizePart(note.Question)
	a := normalizePart(note.Answer)
	c := normalizePart(note.Context)

	// Joined with a newline so "question" and "answer" never become
	// "questionanswer".
	return strings.Join([]string{q, a, c}, "\n")
}

// Hash normalizes a note and returns its SHA-256 hash as a hex string.
func Hash(note domain.Note) string {
	sum := sha256.Sum256([]byte(Normalize(note)))
	return fmt.Sprintf("%x", sum)
}

// Assign sets the GUID of every note to its content hash.
func Assign(notes []domain.Note) {
	for i := range notes {
		notes[i].GUID = Hash(notes[i])
	}
}
