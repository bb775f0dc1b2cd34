// Package experiment holds the experiment model, its lifecycle state
// machine and the participant balancer. Nothing in here touches storage.
package experiment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotRunning   = errors.New("experiment is not running")
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusFinished  Status = "finished"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Arm string

const (
	ArmControl Arm = "control"
	ArmVariant Arm = "variant"
)

// Arms lists both arms in report order.
var Arms = []Arm{ArmControl, ArmVariant}

func ParseArm(s string) (Arm, error) {
	switch Arm(strings.ToLower(strings.TrimSpace(s))) {
	case ArmControl:
		return ArmControl, nil
	case ArmVariant:
		return ArmVariant, nil
	}
	return "", fmt.Errorf("%w: unknown arm %q", ErrInvalidInput, s)
}

// Other returns the opposite arm.
func (a Arm) Other() Arm {
	if a == ArmControl {
		return ArmVariant
	}
	return ArmControl
}

type CompletionAction string

const (
	ActionDoNothing CompletionAction = "do-nothing"
	ActionRevert    CompletionAction = "revert"
	ActionPublish   CompletionAction = "publish"
)

func ParseCompletionAction(s string) (CompletionAction, error) {
	switch a := CompletionAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionDoNothing, ActionRevert, ActionPublish:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown completion action %q", ErrInvalidInput, s)
}

// SubjectRef identifies the content unit under test (e.g. a page id).
type SubjectRef string

// RevisionRef points at a stored content revision.
type RevisionRef string

// Goal describes the success event. Type is a goal-type slug from the
// registry, TargetRef optionally narrows it (e.g. the page to visit).
type Goal struct {
	Type      string `json:"type" validate:"required,max=255"`
	TargetRef string `json:"target_ref,omitempty" validate:"max=255"`
}

// Matches reports whether an event of this goal type on target counts
// as a conversion for g.
func (g Goal) Matches(event Goal) bool {
	if g.Type != event.Type {
		return false
	}
	return g.TargetRef == "" || g.TargetRef == event.TargetRef
}

type Experiment struct {
	ID         string
	Name       string
	SubjectRef SubjectRef
	VariantRef RevisionRef
	Goal       Goal
	SampleSize int64
	Status     Status
	WinningArm *Arm

	FirstStartedAt      *time.Time
	CurrentRunStartedAt *time.Time
	PreviousRunDuration time.Duration

	CompletionAction CompletionAction
	// PendingAction is the decision being applied to content while the
	// experiment is still finished. PendingSince identifies that claim.
	PendingAction CompletionAction
	PendingSince  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewExperiment is the creation input accepted by the engine.
type NewExperiment struct {
	Name       string `json:"name" validate:"required,max=255"`
	SubjectRef string `json:"subject_ref" validate:"required,max=255"`
	VariantRef string `json:"variant_ref" validate:"required,max=255"`
	Goal       Goal   `json:"goal" validate:"required"`
	SampleSize int64  `json:"sample_size" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the creation input. Failures wrap ErrInvalidInput.
func (n NewExperiment) Validate() error {
	if err := validate.Struct(n); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidInput, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
