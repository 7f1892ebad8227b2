package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sched"
)

// cardJSON is a card as the client sees it. The scheduling fields are sent
// back unchanged with an answer so that a card changed in the meantime is
// detected.
type cardJSON struct {
	ID           int64  `json:"id"`
	NoteID       int64  `json:"noteId"`
	DeckID       int64  `json:"deckId"`
	Ord          int    `json:"ord"`
	Type         int    `json:"type"`
	Queue        int    `json:"queue"`
	Due          int64  `json:"due"`
	Interval     int    `json:"interval"`
	Factor       int    `json:"factor"`
	Reps         int    `json:"reps"`
	Lapses       int    `json:"lapses"`
	Left         int    `json:"left"`
	OriginalDue  int64  `json:"originalDue"`
	OriginalDeck int64  `json:"originalDeck"`
	Flags        int    `json:"flags"`
	Question     string `json:"question,omitempty"`
	Answer       string `json:"answer,omitempty"`
	Context      string `json:"context,omitempty"`
}

func toCardJSON(c *domain.Card) cardJSON {
	return cardJSON{
		ID:           c.ID,
		NoteID:       c.NoteID,
		DeckID:       c.DeckID,
		Ord:          c.Ord,
		Type:         int(c.Type),
		Queue:        int(c.Queue),
		Due:          c.Due,
		Interval:     c.Interval,
		Factor:       c.Factor,
		Reps:         c.Reps,
		Lapses:       c.Lapses,
		Left:         c.Left,
		OriginalDue:  c.OriginalDue,
		OriginalDeck: c.OriginalDeck,
		Flags:        c.Flags,
	}
}

func (c cardJSON) card() *domain.Card {
	return &domain.Card{
		ID:           c.ID,
		NoteID:       c.NoteID,
		DeckID:       c.DeckID,
		Ord:          c.Ord,
		Type:         domain.CardType(c.Type),
		Queue:        domain.Queue(c.Queue),
		Due:          c.Due,
		Interval:     c.Interval,
		Factor:       c.Factor,
		Reps:         c.Reps,
		Lapses:       c.Lapses,
		Left:         c.Left,
		OriginalDue:  c.OriginalDue,
		OriginalDeck: c.OriginalDeck,
		Flags:        c.Flags,
	}
}

// withNote fills in the note text. The reverse card swaps question and
// answer.
func (s *Server) withNote(ctx context.Context, c *domain.Card) (cardJSON, error) {
	out := toCardJSON(c)
	note, err := s.db.Note(ctx, c.NoteID)
	if err != nil {
		return out, err
	}
	out.Question, out.Answer, out.Context = note.Question, note.Answer, note.Context
	if c.Ord == 1 {
		out.Question, out.Answer = out.Answer, out.Question
	}
	return out, nil
}

type studyResponse struct {
	Card   *cardJSON    `json:"card"`
	Counts sched.Counts `json:"counts"`
	Today  int64        `json:"today"`
}

// study answers with the card, if any, and the remaining counts.
func (s *Server) study(w http.ResponseWriter, r *http.Request, c *domain.Card) {
	counts, err := s.session.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := studyResponse{Counts: counts, Today: s.session.Today()}
	if c != nil {
		view, err := s.withNote(r.Context(), c)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Card = &view
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetCounts reports the cards left today in the selected decks.
func (s *Server) handleGetCounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.study(w, r, nil)
	}
}

// handleGetNext serves the next card to study. The card is null when
// nothing is left today.
func (s *Server) handleGetNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.session.NextCard(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.study(w, r, c)
	}
}

type answerRequest struct {
	Card cardJSON `json:"card"`
	Ease int      `json:"ease"`
}

type answerResponse struct {
	Card   cardJSON     `json:"card"`
	Counts sched.Counts `json:"counts"`
}

// handlePostAnswer grades the card the client was shown.
func (s *Server) handlePostAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		c, err := s.session.Answer(r.Context(), req.Card.card(), domain.Ease(req.Ease))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		counts, err := s.session.Counts(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, answerResponse{Card: toCardJSON(c), Counts: counts})
	}
}

type intervalJSON struct {
	Ease    string `json:"ease"`
	Seconds int64  `json:"seconds"`
}

// handleGetIntervals previews the delay each answer button would give.
func (s *Server) handleGetIntervals() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		c, err := s.db.Card(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out := make([]intervalJSON, 0, 4)
		for ease := domain.Again; ease <= domain.Easy; ease++ {
			d, err := s.session.NextInterval(r.Context(), c, ease)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			out = append(out, intervalJSON{Ease: ease.String(), Seconds: int64(d.Seconds())})
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

type undoResponse struct {
	Undone string `json:"undone"`
}

// handlePostUndo reverts the most recent scheduling change.
func (s *Server) handlePostUndo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := s.session.Undo(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, undoResponse{Undone: name})
	}
}

type cardAction int

const (
	actionSuspend cardAction = iota
	actionUnsuspend
	actionBury
	actionFlag
)

type cardsRequest struct {
	IDs    []int64 `json:"ids"`
	Flag   int     `json:"flag"`
	Manual *bool   `json:"manual"`
}

type changedResponse struct {
	Changed int `json:"changed"`
}

// handleCardAction applies a bulk state change to the listed cards.
func (s *Server) handleCardAction(action cardAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cardsRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		var (
			n   int
			err error
		)
		ctx := r.Context()
		switch action {
		case actionSuspend:
			n, err = s.session.Suspend(ctx, req.IDs)
		case actionUnsuspend:
			n, err = s.session.Unsuspend(ctx, req.IDs)
		case actionBury:
			manual := req.Manual == nil || *req.Manual
			n, err = s.session.Bury(ctx, req.IDs, manual)
		case actionFlag:
			if req.Flag < 0 || req.Flag > domain.FlagMask {
				s.writeError(w, r, badRequest(fmt.Errorf("invalid flag %d", req.Flag)))
				return
			}
			n, err = s.session.SetFlag(ctx, req.IDs, req.Flag)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, changedResponse{Changed: n})
	}
}

type unburyRequest struct {
	DeckID int64  `json:"deckId"`
	Kind   string `json:"kind"`
}

// handlePostUnbury restores buried cards, in one deck tree or everywhere.
func (s *Server) handlePostUnbury() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unburyRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		var (
			n   int
			err error
		)
		if req.DeckID == 0 {
			n, err = s.session.UnburyAll(r.Context())
		} else {
			kind, perr := sched.ParseUnburyKind(req.Kind)
			if perr != nil {
				s.writeError(w, r, badRequest(perr))
				return
			}
			n, err = s.session.UnburyDeck(r.Context(), req.DeckID, kind)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, changedResponse{Changed: n})
	}
}
