package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/pipeline"
	"github.com/sells-group/devtools-research/internal/store"
)

type researchRequest struct {
	Query string `json:"query"`
}

type researchResponse struct {
	RunID  string          `json:"run_id"`
	Status model.RunStatus `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query, err := pipeline.ValidateQuery(req.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	runID := s.newID()
	if _, err := s.store.CreateRun(r.Context(), runID, query); err != nil {
		s.log.Error("api: create run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not record run")
		return
	}

	s.wg.Add(1)
	go s.execute(runID, query)

	writeJSON(w, http.StatusAccepted, researchResponse{RunID: runID, Status: model.RunStatusRunning})
}

// execute runs one query to completion and records its outcome.
func (s *Server) execute(runID, query string) {
	defer s.wg.Done()
	log := s.log.With(zap.String("run_id", runID))

	outcome, runErr := s.runner.RunWithID(s.runCtx, runID, query, s.broker.ForRun(runID))

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(s.runCtx), saveTimeout)
	defer cancel()

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if outcome == nil {
		log.Error("api: run returned no outcome", zap.Error(runErr))
		if err := s.store.UpdateRunStatus(saveCtx, runID, model.RunStatusFailed); err != nil {
			log.Error("api: update run status failed", zap.Error(err))
		}
		return
	}
	if err := s.store.SaveOutcome(saveCtx, outcome, errMsg); err != nil {
		log.Error("api: save outcome failed", zap.Error(err))
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Query:  q.Get("q"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.log.Error("api: list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.Error("api: get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("api: invalid integer %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
