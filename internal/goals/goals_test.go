package goals

import (
	"errors"
	"testing"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

func TestNewRegistry_Builtin(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vp, ok := r.Lookup(VisitPage)
	if !ok {
		t.Fatal("expected visit-page to be registered")
	}
	if !vp.RequiresTarget {
		t.Error("visit-page should require a target")
	}
}

func TestNewRegistry_Configured(t *testing.T) {
	r, err := NewRegistry(
		EventType{Slug: "signup"},
		EventType{Slug: "add-to-cart", Name: "Add to cart"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list := r.List()
	want := []string{"add-to-cart", "signup", VisitPage}
	if len(list) != len(want) {
		t.Fatalf("got %d types, want %d", len(list), len(want))
	}
	for i, slug := range want {
		if list[i].Slug != slug {
			t.Errorf("list[%d]: got %s, want %s", i, list[i].Slug, slug)
		}
	}

	signup, _ := r.Lookup("signup")
	if signup.Name != "signup" {
		t.Errorf("got Name %q, want slug as default name", signup.Name)
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		extra []EventType
	}{
		{"empty slug", []EventType{{Slug: "  "}}},
		{"duplicate builtin", []EventType{{Slug: VisitPage}}},
		{"duplicate configured", []EventType{{Slug: "signup"}, {Slug: "signup"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.extra...)
			if !errors.Is(err, experiment.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	r, err := NewRegistry(EventType{Slug: "signup"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		goal    experiment.Goal
		wantErr bool
	}{
		{"visit page with target", experiment.Goal{Type: VisitPage, TargetRef: "page:5"}, false},
		{"visit page without target", experiment.Goal{Type: VisitPage}, true},
		{"targetless type", experiment.Goal{Type: "signup"}, false},
		{"unknown type", experiment.Goal{Type: "purchase"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(r, tt.goal)
			if tt.wantErr && !errors.Is(err, experiment.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
