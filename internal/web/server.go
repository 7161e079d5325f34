// Package web provides a lightweight dashboard and JSON API for
// running and browsing diagnoses.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/user/circuitdiag/internal/diagnose"
	"github.com/user/circuitdiag/internal/storage"
	"github.com/user/circuitdiag/internal/util"
)

// Server is the web server.
type Server struct {
	db       *storage.DB
	config   *util.Config
	engine   *diagnose.Engine
	port     int
	hub      *Hub
	handlers *Handlers
	srv      *http.Server
}

// NewServer creates a new web server.
func NewServer(db *storage.DB, cfg *util.Config, engine *diagnose.Engine, port int) *Server {
	return &Server{
		db:     db,
		config: cfg,
		engine: engine,
		port:   port,
		hub:    NewHub(),
	}
}

// Handler returns the routed handler. Asynchronous diagnoses started
// through it are cancelled when ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.handlers = NewHandlers(ctx, s.db, s.config, s.engine, s.hub)
	h := s.handlers

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", h.Dashboard)
	mux.HandleFunc("POST /api/diagnose", h.APIDiagnose)
	mux.HandleFunc("GET /api/diagnoses", h.APIGetDiagnoses)
	mux.HandleFunc("GET /api/diagnoses/{id}", h.APIGetDiagnosis)
	mux.HandleFunc("GET /api/services/{id}/chart.png", h.HistoryChart)
	mux.HandleFunc("GET /api/status", h.APIGetStatus)
	mux.HandleFunc("GET /ws/progress", h.ProgressWS)
	mux.HandleFunc("GET /report", h.DownloadReport)
	return mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.srv = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.port),
		Handler:     s.Handler(ctx),
		ReadTimeout: 15 * time.Second,
		// synchronous diagnoses probe several devices
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	util.Info("Web server starting on port %d", s.port)

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the web server and waits for background diagnoses.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.srv.Shutdown(ctx)
	if s.handlers != nil {
		s.handlers.Wait()
	}
	return err
}
