// Package web serves the study session as a JSON API.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/conorfennell/knoldeck/internal/decks"
	"github.com/conorfennell/knoldeck/internal/sched"
	"github.com/conorfennell/knoldeck/internal/search"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/store"
	"github.com/conorfennell/knoldeck/internal/sync"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server holds the dependencies for the HTTP server.
type Server struct {
	db      *storage.DB
	session *sched.Session
	syncer  *sync.Syncer
	router  *http.ServeMux
	log     *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, session *sched.Session, syncer *sync.Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:      db,
		session: session,
		syncer:  syncer,
		router:  http.NewServeMux(),
		log:     logger,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	// Decks
	s.router.HandleFunc("GET /api/decks", s.handleGetDecks())
	s.router.HandleFunc("POST /api/decks", s.handlePostDeck())
	s.router.HandleFunc("POST /api/decks/{id}/select", s.handleSelectDeck())
	s.router.HandleFunc("POST /api/filtered", s.handlePostFiltered())
	s.router.HandleFunc("POST /api/filtered/{id}/rebuild", s.handleRebuildFiltered())
	s.router.HandleFunc("POST /api/filtered/{id}/empty", s.handleEmptyFiltered())

	// Study
	s.router.HandleFunc("GET /api/counts", s.handleGetCounts())
	s.router.HandleFunc("GET /api/next", s.handleGetNext())
	s.router.HandleFunc("POST /api/answer", s.handlePostAnswer())
	s.router.HandleFunc("GET /api/cards/{id}/intervals", s.handleGetIntervals())
	s.router.HandleFunc("POST /api/undo", s.handlePostUndo())

	// Card state
	s.router.HandleFunc("POST /api/cards/suspend", s.handleCardAction(actionSuspend))
	s.router.HandleFunc("POST /api/cards/unsuspend", s.handleCardAction(actionUnsuspend))
	s.router.HandleFunc("POST /api/cards/bury", s.handleCardAction(actionBury))
	s.router.HandleFunc("POST /api/cards/flag", s.handleCardAction(actionFlag))
	s.router.HandleFunc("POST /api/unbury", s.handlePostUnbury())

	// Source management
	s.router.HandleFunc("GET /api/sources", s.handleGetSources())
	s.router.HandleFunc("POST /api/sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /api/sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("POST /api/sync", s.handlePostSync())
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sched.ErrUnknownDeck), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sched.ErrStaleCard), errors.Is(err, sched.ErrNothingToUndo),
		errors.Is(err, decks.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, sched.ErrInvalidEase), errors.Is(err, sched.ErrNotFiltered),
		errors.Is(err, decks.ErrInvalidName), errors.Is(err, decks.ErrFilteredParent),
		errors.Is(err, search.ErrSyntax), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(err)
	}
	return nil
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, r.PathValue("id"))
	}
	return id, nil
}
