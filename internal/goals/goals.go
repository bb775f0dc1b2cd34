// Package goals is the catalog of goal event types an experiment can
// measure. The catalog is built once at startup and handed to the engine.
package goals

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

// VisitPage is the built-in goal: the visitor reached a given page.
const VisitPage = "visit-page"

// EventType describes one kind of goal event.
type EventType struct {
	Slug           string `json:"slug" mapstructure:"slug"`
	Name           string `json:"name" mapstructure:"name"`
	RequiresTarget bool   `json:"requires_target" mapstructure:"requires_target"`
}

// Registry resolves goal type slugs.
type Registry interface {
	Lookup(slug string) (EventType, bool)
	List() []EventType
}

type staticRegistry struct {
	types map[string]EventType
}

// Builtin returns the event types that are always available.
func Builtin() []EventType {
	return []EventType{
		{Slug: VisitPage, Name: "Visit page", RequiresTarget: true},
	}
}

// NewRegistry returns a registry holding the built-in types plus extra.
// A configured type may not reuse a slug.
func NewRegistry(extra ...EventType) (Registry, error) {
	r := &staticRegistry{types: make(map[string]EventType)}
	for _, t := range append(Builtin(), extra...) {
		t.Slug = strings.TrimSpace(t.Slug)
		if t.Slug == "" {
			return nil, fmt.Errorf("%w: goal type without slug", experiment.ErrInvalidInput)
		}
		if _, dup := r.types[t.Slug]; dup {
			return nil, fmt.Errorf("%w: duplicate goal type %q", experiment.ErrInvalidInput, t.Slug)
		}
		if t.Name == "" {
			t.Name = t.Slug
		}
		r.types[t.Slug] = t
	}
	return r, nil
}

func (r *staticRegistry) Lookup(slug string) (EventType, bool) {
	t, ok := r.types[slug]
	return t, ok
}

// List returns all types sorted by slug.
func (r *staticRegistry) List() []EventType {
	list := make([]EventType, 0, len(r.types))
	for _, t := range r.types {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Slug < list[j].Slug })
	return list
}

// Check validates goal against the registry. Failures wrap
// experiment.ErrInvalidInput.
func Check(r Registry, goal experiment.Goal) error {
	t, ok := r.Lookup(goal.Type)
	if !ok {
		return fmt.Errorf("%w: unknown goal type %q", experiment.ErrInvalidInput, goal.Type)
	}
	if t.RequiresTarget && goal.TargetRef == "" {
		return fmt.Errorf("%w: goal type %q requires a target", experiment.ErrInvalidInput, goal.Type)
	}
	return nil
}
