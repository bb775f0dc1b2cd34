package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/store"
)

type HealthResponse struct {
	Status          string `json:"status"`
	ExperimentCount int    `json:"experiment_count"`
	DBSizeBytes     int64  `json:"db_size_bytes"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	experiments, err := s.engine.List(ctx, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var dbSize int64
	if s.db != nil {
		row := s.db.QueryRowContext(ctx, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&dbSize); err != nil {
			s.logger.Warn().Err(err).Msg("failed to read database size")
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		ExperimentCount: len(experiments),
		DBSizeBytes:     dbSize,
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
	})
}

type runningTest struct {
	ID                string                `json:"id"`
	Subject           experiment.SubjectRef `json:"subject"`
	Goal              experiment.Goal       `json:"goal"`
	AddParticipantURL string                `json:"add_participant_url"`
	LogConversionURL  string                `json:"log_conversion_url"`
}

// handleRunningTests lists running experiments for the browser tracker.
func (s *Server) handleRunningTests(w http.ResponseWriter, r *http.Request) {
	running, err := s.engine.List(r.Context(), experiment.StatusRunning)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Return empty array instead of null
	response := []runningTest{}
	for _, x := range running {
		response = append(response, runningTest{
			ID:                x.ID,
			Subject:           x.SubjectRef,
			Goal:              x.Goal,
			AddParticipantURL: "/api/tests/" + x.ID + "/add_participant",
			LogConversionURL:  "/api/tests/" + x.ID + "/log_conversion",
		})
	}
	writeJSON(w, http.StatusOK, response)
}

type addParticipantResponse struct {
	Version      experiment.Arm `json:"version"`
	TestFinished bool           `json:"test_finished"`
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	arm, finished, err := s.engine.AddParticipant(r.Context(), mux.Vars(r)["id"], nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, addParticipantResponse{Version: arm, TestFinished: finished})
}

type logConversionRequest struct {
	Version string `json:"version"`
}

func (s *Server) handleLogConversion(w http.ResponseWriter, r *http.Request) {
	var req logConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	arm, err := experiment.ParseArm(req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.RecordConversion(r.Context(), mux.Vars(r)["id"], arm); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct{}{})
}

type serveResponse struct {
	ExperimentID string                 `json:"experiment_id,omitempty"`
	Version      experiment.Arm         `json:"version"`
	Revision     experiment.RevisionRef `json:"revision,omitempty"`
	Enrolled     bool                   `json:"enrolled"`
}

// versionCookieMaxAge keeps a visitor on the same version for the
// lifetime of a typical experiment.
const versionCookieMaxAge = 90 * 24 * 60 * 60

// versionCookie names the cookie pinning a visitor's version of one experiment.
func versionCookie(experimentID string) string {
	return "pagesplit-" + experimentID + "-version"
}

// handleServe tells the content layer which version of a subject to
// render. Visitors sending DNT: 1 are never enrolled. A visitor carrying
// the experiment's version cookie keeps that version and is not counted
// again.
func (s *Server) handleServe(w http.ResponseWriter, r *http.Request) {
	subject := experiment.SubjectRef(mux.Vars(r)["subject"])
	trackable := r.Header.Get("DNT") != "1"

	var prior *experiment.Arm
	x, err := s.engine.ActiveForSubject(r.Context(), subject)
	switch {
	case err == nil:
		prior = priorArm(r, x.ID)
	case !errors.Is(err, store.ErrNotFound):
		s.writeError(w, r, err)
		return
	}

	served, err := s.engine.Serve(r.Context(), subject, trackable, prior)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := serveResponse{Version: served.Arm, Revision: served.Revision, Enrolled: served.Enrolled}
	if served.Experiment != nil {
		resp.ExperimentID = served.Experiment.ID
		http.SetCookie(w, &http.Cookie{
			Name:     versionCookie(served.Experiment.ID),
			Value:    string(served.Arm),
			Path:     "/",
			MaxAge:   versionCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// priorArm reads the version cookie for experimentID. Unreadable values
// are ignored so the visitor is simply enrolled again.
func priorArm(r *http.Request, experimentID string) *experiment.Arm {
	c, err := r.Cookie(versionCookie(experimentID))
	if err != nil {
		return nil
	}
	arm, err := experiment.ParseArm(c.Value)
	if err != nil {
		return nil
	}
	return &arm
}

type goalReachedRequest struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	// Participations maps experiment ids to the version the visitor saw.
	Participations map[string]string `json:"participations"`
}

func (s *Server) handleGoalReached(w http.ResponseWriter, r *http.Request) {
	var req goalReachedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Type == "" {
		writeJSONError(w, http.StatusBadRequest, "type is required")
		return
	}

	participations := make(map[string]experiment.Arm, len(req.Participations))
	for id, version := range req.Participations {
		arm, err := experiment.ParseArm(version)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		participations[id] = arm
	}

	n, err := s.engine.GoalReached(r.Context(), experiment.Goal{Type: req.Type, TargetRef: req.Target}, participations)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recorded": n})
}

func (s *Server) handleGoalTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Goals().List())
}
