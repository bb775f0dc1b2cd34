package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/stats"
	"github.com/pagesplit/pagesplit/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps engine errors onto status codes. Client mistakes are
// only logged at debug.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, experiment.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrSubjectBusy), errors.Is(err, experiment.ErrNotRunning):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSONError(w, status, "internal server error")
		return
	}
	s.logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	writeJSONError(w, status, err.Error())
}

type experimentResponse struct {
	ID                  string                      `json:"id"`
	Name                string                      `json:"name"`
	SubjectRef          experiment.SubjectRef       `json:"subject_ref"`
	VariantRef          experiment.RevisionRef      `json:"variant_ref"`
	Goal                experiment.Goal             `json:"goal"`
	SampleSize          int64                       `json:"sample_size"`
	Status              experiment.Status           `json:"status"`
	WinningArm          *experiment.Arm             `json:"winning_arm"`
	FirstStartedAt      *time.Time                  `json:"first_started_at,omitempty"`
	CurrentRunStartedAt *time.Time                  `json:"current_run_started_at,omitempty"`
	PreviousRunSeconds  float64                     `json:"previous_run_seconds"`
	CompletionAction    experiment.CompletionAction `json:"completion_action,omitempty"`
	PendingAction       experiment.CompletionAction `json:"pending_action,omitempty"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

func toExperimentResponse(x *experiment.Experiment) experimentResponse {
	return experimentResponse{
		ID:                  x.ID,
		Name:                x.Name,
		SubjectRef:          x.SubjectRef,
		VariantRef:          x.VariantRef,
		Goal:                x.Goal,
		SampleSize:          x.SampleSize,
		Status:              x.Status,
		WinningArm:          x.WinningArm,
		FirstStartedAt:      x.FirstStartedAt,
		CurrentRunStartedAt: x.CurrentRunStartedAt,
		PreviousRunSeconds:  x.PreviousRunDuration.Seconds(),
		CompletionAction:    x.CompletionAction,
		PendingAction:       x.PendingAction,
		CreatedAt:           x.CreatedAt,
		UpdatedAt:           x.UpdatedAt,
	}
}

type armResponse struct {
	Arm          experiment.Arm `json:"arm"`
	Participants int64          `json:"participants"`
	Conversions  int64          `json:"conversions"`
	Rate         float64        `json:"conversion_rate"`
	CILower      float64        `json:"ci_lower"`
	CIUpper      float64        `json:"ci_upper"`
}

type reportResponse struct {
	Experiment          experimentResponse `json:"experiment"`
	Arms                []armResponse      `json:"arms"`
	Confidence          float64            `json:"confidence"`
	Leading             *experiment.Arm    `json:"leading"`
	Winner              *experiment.Arm    `json:"winner"`
	RunningSeconds      float64            `json:"running_seconds"`
	ParticipantsPerDay  float64            `json:"participants_per_day"`
	EstimatedCompletion *time.Time         `json:"estimated_completion,omitempty"`
	Series              []store.DailyPoint `json:"series"`
}

func toReportResponse(r *engine.Report) reportResponse {
	resp := reportResponse{
		Experiment:          toExperimentResponse(r.Experiment),
		Confidence:          r.Stats.ConfidenceLevel,
		Leading:             r.Stats.Leading,
		Winner:              r.Stats.Winner,
		RunningSeconds:      r.RunningDuration.Seconds(),
		ParticipantsPerDay:  r.ParticipantsPerDay,
		EstimatedCompletion: r.EstimatedCompletion,
		Series:              r.Series,
	}
	if resp.Series == nil {
		resp.Series = []store.DailyPoint{}
	}
	for _, a := range r.Stats.Arms {
		resp.Arms = append(resp.Arms, toArmResponse(a))
	}
	return resp
}

func toArmResponse(a stats.ArmResult) armResponse {
	return armResponse{
		Arm:          a.Arm,
		Participants: a.Participants,
		Conversions:  a.Conversions,
		Rate:         a.Rate,
		CILower:      a.CILower,
		CIUpper:      a.CIUpper,
	}
}
