// Package publisher carries completion decisions to the content system.
package publisher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/experiment"
)

const (
	KindNop     = "nop"
	KindLog     = "log"
	KindWebhook = "webhook"
)

var (
	_ engine.Publisher = Nop{}
	_ engine.Publisher = (*Log)(nil)
	_ engine.Publisher = (*Webhook)(nil)
)

// New builds the publisher named by kind.
func New(kind, webhookURL string, logger zerolog.Logger) (engine.Publisher, error) {
	switch kind {
	case "", KindNop:
		return Nop{}, nil
	case KindLog:
		return NewLog(logger), nil
	case KindWebhook:
		return NewWebhook(webhookURL, WithWebhookLogger(logger))
	}
	return nil, fmt.Errorf("%w: unknown publisher %q", experiment.ErrInvalidInput, kind)
}

// Nop accepts every instruction and does nothing.
type Nop struct{}

func (Nop) Publish(context.Context, experiment.SubjectRef, experiment.RevisionRef) error {
	return nil
}

func (Nop) Revert(context.Context, experiment.SubjectRef) error {
	return nil
}

// Log records instructions in the log for an operator to apply by hand.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, subject experiment.SubjectRef, revision experiment.RevisionRef) error {
	l.logger.Info().
		Str("subject", string(subject)).
		Str("revision", string(revision)).
		Msg("publish variant revision")
	return nil
}

func (l *Log) Revert(_ context.Context, subject experiment.SubjectRef) error {
	l.logger.Info().
		Str("subject", string(subject)).
		Msg("republish control content")
	return nil
}
