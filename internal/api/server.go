// Package api serves the plan over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/accreditationplan/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API of the planner.
type Server struct {
	router         chi.Router
	sessions       *session.Registry
	log            *slog.Logger
	maxUploadBytes int64
}

func NewServer(sessions *session.Registry, log *slog.Logger, maxUploadBytes int64) *Server {
	if log == nil {
		log = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	s := &Server{sessions: sessions, log: log, maxUploadBytes: maxUploadBytes}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Get("/api/plans", s.handleList)
		r.Route("/api/plan", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/upload", s.handleUpload)
			r.Post("/open", s.handleOpen)
			r.Patch("/items/{itemID}", s.handleUpdateItem)
			r.Post("/items/{itemID}/generate", s.handleGenerateItem)
			r.Post("/generate", s.handleGenerateAll)
			r.Post("/summary", s.handleSummary)
			r.Get("/export", s.handleExport)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session returns the caller's session with the request credential applied.
// The credential lives only as long as the request that carries it; a
// request without the header clears it.
func (s *Server) session(r *http.Request) *session.Session {
	sess := s.sessions.Get(userFrom(r.Context()))
	sess.SetAPIKey(r.Header.Get(HeaderAPIKey))
	return sess
}
