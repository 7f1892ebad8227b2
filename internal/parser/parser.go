// Package parser extracts notes from markdown files.
//
// A note starts with a "Q:" line and may carry "A:", "C:" (context), "D:"
// (deck) and "T:" (tags) lines. Question, answer and context continue over
// following lines until the next prefix; deck and tags are single lines.
// A line of "---" ends the current note.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/knoldeck/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	deckPrefix     = "D:"
	tagsPrefix     = "T:"
	separator      = "---"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
	readingMeta // after a D: or T: line, until the next block
)

// blockState reports which multi-line block a line starts, if any, and the
// text following its prefix.
func blockState(line string) (state, string, bool) {
	switch {
	case strings.HasPrefix(line, questionPrefix):
		return readingQuestion, cut(line, questionPrefix), true
	case strings.HasPrefix(line, answerPrefix):
		return readingAnswer, cut(line, answerPrefix), true
	case strings.HasPrefix(line, contextPrefix):
		return readingContext, cut(line, contextPrefix), true
	}
	return seeking, "", false
}

// ParseFile reads a file from the given path and extracts all notes.
func ParseFile(path string) ([]domain.Note, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// cut returns the text after prefix with one leading space removed.
func cut(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}

// parseTags splits a tag line on commas and whitespace.
func parseTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// Parse reads from an io.Reader and extracts all notes.
func Parse(r io.Reader) ([]domain.Note, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var notes []domain.Note
	var current domain.Note
	var block []string
	currentState := seeking

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.Join(block, "\n")
		switch currentState {
		case readingQuestion:
			current.Question = content
		case readingAnswer:
			current.Answer = content
		case readingContext:
			current.Context = content
		}
		block = nil
	}

	finishNote := func() {
		flushBlock()
		if current.Question != "" {
			current.Question = strings.TrimRight(current.Question, "\n")
			current.Answer = strings.TrimRight(current.Answer, "\n")
			current.Context = strings.TrimRight(current.Context, "\n")
			notes = append(notes, current)
		}
		current = domain.Note{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == separator {
			finishNote()
			continue
		}

		switch {
		case strings.HasPrefix(line, deckPrefix):
			flushBlock()
			current.Deck = domain.NormalizeDeckName(cut(line, deckPrefix))
			if currentState != seeking {
				currentState = readingMeta
			}
			continue
		case strings.HasPrefix(line, tagsPrefix):
			flushBlock()
			for _, tag := range parseTags(cut(line, tagsPrefix)) {
				current.AddTag(tag)
			}
			if currentState != seeking {
				currentState = readingMeta
			}
			continue
		}

		next, rest, isBlock := blockState(line)
		if !isBlock {
			if currentState != seeking && currentState != readingMeta {
				block = append(block, line)
			}
			continue
		}

		flushBlock()
		// A new question always starts a new note.
		if next == readingQuestion && (currentState != seeking || current.Question != "") {
			finishNote()
		}
		currentState = next
		block = append(block, rest)
	}

	finishNote() // Finish the very last note in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return notes, nil
}
