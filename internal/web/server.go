// Package web serves the pipeline's JSON API and live progress streams.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lucasnoah/docfactory/internal/analytics"
	"github.com/lucasnoah/docfactory/internal/events"
	"github.com/lucasnoah/docfactory/internal/orchestrator"
	"github.com/lucasnoah/docfactory/internal/pipeline"
	"github.com/lucasnoah/docfactory/internal/scoring"
)

// Pipeline is the part of the orchestrator the server drives.
type Pipeline interface {
	Run(ctx context.Context) (*pipeline.Metrics, error)
	RunStage(ctx context.Context, name string) (*pipeline.StageMetrics, error)
	Status() orchestrator.Status
	Metrics() *pipeline.Metrics
	StageDetails(name string) (pipeline.StageMetrics, error)
}

// Subscriber is the part of the event hub the streams use.
type Subscriber interface {
	Subscribe(fn events.Handler) func()
}

// Options configures a Server. Only Pipeline is required.
type Options struct {
	Pipeline Pipeline
	Events   Subscriber
	History  *scoring.History
	Ledger   analytics.DB
	Store    *pipeline.Store
	Addr     string
	Log      *slog.Logger
}

// Server exposes the runner over HTTP.
type Server struct {
	pipe    Pipeline
	events  Subscriber
	history *scoring.History
	ledger  analytics.DB
	store   *pipeline.Store
	addr    string
	log     *slog.Logger

	// runs started over HTTP outlive the request; they use base.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		pipe:    opts.Pipeline,
		events:  opts.Events,
		history: opts.History,
		ledger:  opts.Ledger,
		store:   opts.Store,
		addr:    opts.Addr,
		log:     log,
		base:    base,
		cancel:  cancel,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/validation", s.handleValidation)
	mux.HandleFunc("GET /api/stages/{name}", s.handleStage)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("POST /api/stages/{name}/run", s.handleRunStage)
	mux.HandleFunc("GET /api/scores", s.handleScores)
	mux.HandleFunc("GET /api/scores/{version}", s.handleScore)
	mux.HandleFunc("GET /api/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRunDetail)
	mux.HandleFunc("GET /events", s.handleEventStream)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Start listens on the configured address until ctx is cancelled, then shuts
// down and cancels any run it started.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("docfactory API listening", "url", "http://"+s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close cancels background runs and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) background(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.base); err != nil {
			s.log.Error("background run failed", "run", name, "error", err)
		}
	}()
}
