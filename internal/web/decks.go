package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sched"
	"github.com/conorfennell/knoldeck/internal/store"
)

type deckJSON struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Filtered bool   `json:"filtered"`
}

// handleGetDecks returns the deck tree with today's counts. With ?q= it
// returns the decks whose names fuzzily match instead.
func (s *Server) handleGetDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "" {
			found := s.session.FindDecks(q)
			out := make([]deckJSON, len(found))
			for i, d := range found {
				out[i] = deckJSON{ID: d.ID, Name: d.Name, Filtered: d.Filtered}
			}
			s.writeJSON(w, http.StatusOK, out)
			return
		}
		tree, err := s.session.DeckTree(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tree)
	}
}

type createDeckRequest struct {
	Name string `json:"name"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

// handlePostDeck creates a normal deck and any missing parents.
func (s *Server) handlePostDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createDeckRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		id, err := s.session.CreateDeck(r.Context(), req.Name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, idResponse{ID: id})
	}
}

// handleSelectDeck makes a deck and its children the study scope.
func (s *Server) handleSelectDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.session.SelectDeck(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.study(w, r, nil)
	}
}

type filteredRequest struct {
	Name         string              `json:"name"`
	Terms        []domain.FilterTerm `json:"terms"`
	Resched      *bool               `json:"resched"`
	PreviewDelay *int                `json:"previewDelay"`
	Delays       []float64           `json:"delays"`
}

// defaultPreviewDelay is the minutes before a previewed card returns when
// the request does not say.
const defaultPreviewDelay = 10

func (req filteredRequest) options() (sched.FilteredOptions, error) {
	opts := sched.FilteredOptions{
		Terms:        req.Terms,
		Resched:      req.Resched == nil || *req.Resched,
		PreviewDelay: defaultPreviewDelay,
		Delays:       req.Delays,
	}
	if req.PreviewDelay != nil {
		opts.PreviewDelay = *req.PreviewDelay
	}
	if len(opts.Terms) == 0 {
		return opts, badRequest(errors.New("a filtered deck needs at least one search term"))
	}
	for _, t := range opts.Terms {
		if t.Limit <= 0 {
			return opts, badRequest(fmt.Errorf("term %q needs a positive limit", t.Search))
		}
	}
	if opts.PreviewDelay < 0 {
		return opts, badRequest(fmt.Errorf("invalid preview delay %d", opts.PreviewDelay))
	}
	return opts, nil
}

type rebuildResponse struct {
	ID    int64 `json:"id"`
	Cards int   `json:"cards"`
}

// handlePostFiltered creates a filtered deck, fills it and selects it.
func (s *Server) handlePostFiltered() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req filteredRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		opts, err := req.options()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		id, err := s.session.CreateFilteredDeck(r.Context(), req.Name, opts)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		n, err := s.db.CountCards(r.Context(), store.CardQuery{DeckIDs: []int64{id}})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, rebuildResponse{ID: id, Cards: n})
	}
}

// handleRebuildFiltered empties a filtered deck and searches again.
func (s *Server) handleRebuildFiltered() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		n, err := s.session.RebuildFiltered(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rebuildResponse{ID: id, Cards: n})
	}
}

// handleEmptyFiltered returns a filtered deck's cards to their home decks.
func (s *Server) handleEmptyFiltered() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		n, err := s.session.EmptyFiltered(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rebuildResponse{ID: id, Cards: n})
	}
}
