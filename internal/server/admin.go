package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	status := experiment.Status(r.URL.Query().Get("status"))

	experiments, err := s.engine.List(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	response := []experimentResponse{}
	for _, x := range experiments {
		response = append(response, toExperimentResponse(x))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req experiment.NewExperiment
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	x, err := s.engine.CreateExperiment(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExperimentResponse(x))
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	x, err := s.engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentResponse(x))
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTransition applies start, pause, cancel or finish. Transitions
// that do not apply to the current status leave it unchanged.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var (
		x   *experiment.Experiment
		err error
	)
	switch vars["transition"] {
	case "start":
		x, err = s.engine.Start(r.Context(), id)
	case "pause":
		x, err = s.engine.Pause(r.Context(), id)
	case "cancel":
		x, err = s.engine.Cancel(r.Context(), id)
	case "finish":
		x, err = s.engine.Finish(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentResponse(x))
}

type completeRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	action, err := experiment.ParseCompletionAction(req.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	x, err := s.engine.Complete(r.Context(), mux.Vars(r)["id"], action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentResponse(x))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Report(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report))
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.engine.TimeSeries(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if series == nil {
		series = []store.DailyPoint{}
	}
	writeJSON(w, http.StatusOK, series)
}

// handleTotals sums buckets, optionally narrowed by ?arm=, ?from= and
// ?to= (YYYY-MM-DD, inclusive).
func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	filter, err := parseStatsFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	totals, err := s.engine.Aggregate(r.Context(), mux.Vars(r)["id"], filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func parseStatsFilter(r *http.Request) (store.StatsFilter, error) {
	q := r.URL.Query()
	var filter store.StatsFilter

	if v := q.Get("arm"); v != "" {
		arm, err := experiment.ParseArm(v)
		if err != nil {
			return filter, err
		}
		filter.Arm = &arm
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be YYYY-MM-DD", experiment.ErrInvalidInput, p.key)
		}
		*p.dst = t
	}
	return filter, nil
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	x, err := s.engine.OnSubjectRetracted(r.Context(), experiment.SubjectRef(mux.Vars(r)["subject"]))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if x == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentResponse(x))
}
