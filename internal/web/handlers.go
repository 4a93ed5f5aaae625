package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/lucasnoah/docfactory/internal/orchestrator"
	"github.com/lucasnoah/docfactory/internal/scoring"
	"github.com/lucasnoah/docfactory/internal/stage"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Warn("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipe.Status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipe.Metrics())
}

// handleValidation returns the verdict of the current run, or the one saved
// with the last release.
func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	if v := s.pipe.Metrics().Validation; v != nil {
		s.writeJSON(w, http.StatusOK, v)
		return
	}
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no validation available"))
		return
	}
	v, err := s.store.LoadValidation()
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, errors.New("no validation available"))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	m, err := s.pipe.StageDetails(r.PathValue("name"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

type accepted struct {
	Started string `json:"started"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.pipe.Status().Running {
		s.writeError(w, http.StatusConflict, orchestrator.ErrAlreadyRunning)
		return
	}
	s.background("pipeline", func(ctx context.Context) error {
		_, err := s.pipe.Run(ctx)
		return err
	})
	s.writeJSON(w, http.StatusAccepted, accepted{Started: "pipeline"})
}

func (s *Server) handleRunStage(w http.ResponseWriter, r *http.Request) {
	key, ok := stage.Resolve(r.PathValue("name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, orchestrator.ErrUnknownStage)
		return
	}
	if s.pipe.Status().Running {
		s.writeError(w, http.StatusConflict, orchestrator.ErrAlreadyRunning)
		return
	}
	s.background(key, func(ctx context.Context) error {
		_, err := s.pipe.RunStage(ctx, key)
		return err
	})
	s.writeJSON(w, http.StatusAccepted, accepted{Started: key})
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, []scoring.Summary{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.history.ListScores())
}

// handleScore serves one score snapshot; "latest" is the newest history entry.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, scoring.ErrNotFound)
		return
	}
	version := r.PathValue("version")
	var (
		score *scoring.QualityScore
		err   error
	)
	if version == "latest" {
		score, err = s.history.GetBaseline("")
	} else {
		score, err = s.history.GetScore(version)
	}
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, errNoLedger)
		return
	}
	rep, err := buildReport(s.ledger, r.URL.Query().Get("since"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, errNoLedger)
		return
	}
	timeline, err := runTimeline(s.ledger, r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, timeline)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownStage),
		errors.Is(err, scoring.ErrNotFound),
		errors.Is(err, errRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
