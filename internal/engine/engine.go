// Package engine ties the experiment model, the hourly store and the
// statistics together. Every method runs synchronously on the caller's
// goroutine; the engine starts no goroutines of its own.
package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pagesplit/pagesplit/internal/experiment"
	"github.com/pagesplit/pagesplit/internal/goals"
	"github.com/pagesplit/pagesplit/internal/store"
)

// Publisher applies completion decisions to the content system. The
// engine only issues the instruction.
type Publisher interface {
	// Publish makes revision the live content of subject.
	Publish(ctx context.Context, subject experiment.SubjectRef, revision experiment.RevisionRef) error
	// Revert publishes a new version of subject matching the control content.
	Revert(ctx context.Context, subject experiment.SubjectRef) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, experiment.SubjectRef, experiment.RevisionRef) error {
	return nil
}

func (nopPublisher) Revert(context.Context, experiment.SubjectRef) error {
	return nil
}

// DefaultPublishTimeout bounds one Complete call's publisher instruction.
const DefaultPublishTimeout = time.Minute

type Engine struct {
	store          store.Store
	goals          goals.Registry
	publisher      Publisher
	publishTimeout time.Duration
	rnd            experiment.RandSource
	now            func() time.Time
	logger         zerolog.Logger
	metrics        *Metrics
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRand sets the tie-breaking randomness used by ChooseArm.
func WithRand(rnd experiment.RandSource) Option {
	return func(e *Engine) {
		e.rnd = rnd
	}
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithPublishTimeout bounds each publisher call made by Complete. A
// completion claim older than twice this value is considered abandoned.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.publishTimeout = d
	}
}

func WithRegistry(r goals.Registry) Option {
	return func(e *Engine) {
		e.goals = r
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New returns an engine backed by st. Without options it uses the wall
// clock, a time-seeded random source, a publisher that does nothing, the
// built-in goal types and a private metrics registry.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		publisher:      nopPublisher{},
		publishTimeout: DefaultPublishTimeout,
		rnd:            experiment.NewTimeSeededRand(),
		now:            time.Now,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	// Timestamps are persisted with millisecond precision; truncating here
	// keeps durations computed in memory identical to the stored ones.
	clock := e.now
	e.now = func() time.Time {
		return clock().UTC().Truncate(time.Millisecond)
	}

	if e.publishTimeout <= 0 {
		e.publishTimeout = DefaultPublishTimeout
	}
	if e.goals == nil {
		// Builtin types never collide.
		e.goals, _ = goals.NewRegistry()
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return e
}

// Goals returns the goal type catalog the engine validates against.
func (e *Engine) Goals() goals.Registry {
	return e.goals
}

// ChooseArm picks the arm for a new participant given the current counts.
func (e *Engine) ChooseArm(controlCount, variantCount int64) experiment.Arm {
	return experiment.ChooseArm(controlCount, variantCount, e.rnd)
}
