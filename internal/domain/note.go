package domain

import (
	"slices"
	"strings"
)

// LeechTag is added to a note whose card keeps lapsing.
const LeechTag = "leech"

// ReverseTag makes a note realize a second, reversed card.
const ReverseTag = "reverse"

// Note represents a single question-answer-context entry. Its cards are the
// reviewable items realized from it.
type Note struct {
	ID       int64
	GUID     string
	SourceID int64
	Question string
	Answer   string
	Context  string
	Deck     string // deck name requested by the source, may be empty
	Tags     []string
	Mod      int64
}

// Clone returns a copy of the note with its own tag slice.
func (n *Note) Clone() *Note {
	out := *n
	out.Tags = slices.Clone(n.Tags)
	return &out
}

// HasTag reports whether the note carries tag, ignoring case.
func (n *Note) HasTag(tag string) bool {
	return slices.ContainsFunc(n.Tags, func(t string) bool {
		return strings.EqualFold(t, tag)
	})
}

// AddTag adds tag unless it is already present. It reports whether the note changed.
func (n *Note) AddTag(tag string) bool {
	if tag == "" || n.HasTag(tag) {
		return false
	}
	n.Tags = append(n.Tags, tag)
	return true
}

// TemplateOrds lists the card ordinals the note realizes.
func (n *Note) TemplateOrds() []int {
	if n.HasTag(ReverseTag) {
		return []int{0, 1}
	}
	return []int{0}
}
