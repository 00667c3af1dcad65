package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/store"
)

// handleEvents streams a run's progress as Server-Sent Events. A client
// reconnecting with Last-Event-ID (or ?last_event_id=) first receives the
// events it missed. The stream ends after the run's terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	lastID := lastEventID(r)

	if !s.broker.Known(runID) {
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
		if run.Status.Terminal() {
			s.replayStored(w, run)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	setStreamHeaders(w)

	backlog, ch, cancel := s.broker.Subscribe(runID, lastID, subscribeBuffer)
	defer cancel()

	fmt.Fprintf(w, ": connected to run %s\n\n", runID)
	for _, ev := range backlog {
		writeEvent(w, ev)
		lastID = ev.Seq
	}
	flusher.Flush()

	hb := time.NewTicker(s.heartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("api: sse client disconnected", zap.String("run_id", runID))
			return
		case ev, open := <-ch:
			if !open {
				// Pick up anything published between the last delivery and
				// the terminal close that the buffer dropped.
				missed, _, done := s.broker.Subscribe(runID, lastID, 0)
				done()
				for _, m := range missed {
					writeEvent(w, m)
				}
				flusher.Flush()
				return
			}
			if ev.Seq <= lastID {
				continue
			}
			lastID = s.writeLive(w, runID, ev, lastID)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeLive writes ev after filling any gap the subscriber buffer dropped
// from the broker's history, and returns the sequence now delivered.
func (s *Server) writeLive(w http.ResponseWriter, runID string, ev model.Event, lastID uint64) uint64 {
	if ev.Seq > lastID+1 {
		missed, _, done := s.broker.Subscribe(runID, lastID, 0)
		done()
		for _, m := range missed {
			if m.Seq >= ev.Seq {
				break
			}
			writeEvent(w, m)
		}
	}
	writeEvent(w, ev)
	return ev.Seq
}

// replayStored answers for a finished run the broker no longer tracks with
// a single terminal event built from the stored record.
func (s *Server) replayStored(w http.ResponseWriter, run *model.Run) {
	setStreamHeaders(w)
	ev := model.WorkflowFailed(run.Error)
	if run.Status != model.RunStatusFailed && run.Result != nil {
		ev = model.WorkflowFinished(*run.Result)
	}
	ev.RunID = run.ID
	ev.Timestamp = run.UpdatedAt
	fmt.Fprintf(w, ": connected to run %s\n\n", run.ID)
	writeEvent(w, ev)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeEvent(w http.ResponseWriter, ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if ev.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", ev.Seq)
	}
	fmt.Fprintf(w, "event: %s\n", ev.Kind)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func lastEventID(r *http.Request) uint64 {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	if v := r.URL.Query().Get("last_event_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
