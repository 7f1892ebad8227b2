package web

import (
	"net/http"
	"strings"

	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/sync"
)

type sourcesResponse struct {
	Sources []storage.Source `json:"sources"`
}

func (s *Server) writeSources(w http.ResponseWriter, r *http.Request, status int) {
	sources, err := s.syncer.Sources(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sources == nil {
		sources = []storage.Source{}
	}
	s.writeJSON(w, status, sourcesResponse{Sources: sources})
}

// handleGetSources lists the note sources.
func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSources(w, r, http.StatusOK)
	}
}

type addSourceRequest struct {
	Path string `json:"path"`
}

// handlePostSource adds a new source and returns the source list.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addSourceRequest
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		path := strings.TrimSpace(req.Path)
		if path == "" {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "path cannot be empty"})
			return
		}
		if _, err := s.syncer.AddSource(r.Context(), path); err != nil {
			s.writeError(w, r, badRequest(err))
			return
		}
		s.writeSources(w, r, http.StatusCreated)
	}
}

// handleDeleteSource deletes a source with its notes and cards.
func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.syncer.RemoveSource(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSources(w, r, http.StatusOK)
	}
}

type syncResponse struct {
	Reports []sync.Report `json:"reports"`
}

// handlePostSync runs a sync in the foreground and reports what changed.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := s.syncer.RunAll(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if reports == nil {
			reports = []sync.Report{}
		}
		s.writeJSON(w, http.StatusOK, syncResponse{Reports: reports})
	}
}
