// Package http exposes a small health endpoint with job counters.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"trackdrop/internal/domain"
)

// Server is the HTTP adapter for the health endpoint.
type Server struct {
	repo   domain.JobRepository
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates the health server.
func NewServer(repo domain.JobRepository, addr string, log zerolog.Logger) *Server {
	s := &Server{repo: repo, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealth(w, r)
	})
	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

type healthResponse struct {
	Status    string `json:"status"`
	Delivered int64  `json:"delivered"`
	Failed    int64  `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	var err error
	if resp.Delivered, err = s.repo.CountByState(r.Context(), domain.StateDelivered); err != nil {
		s.log.Warn().Err(err).Msg("health counter query failed")
	}
	if resp.Failed, err = s.repo.CountByState(r.Context(), domain.StateFailed); err != nil {
		s.log.Warn().Err(err).Msg("health counter query failed")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
