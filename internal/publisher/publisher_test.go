package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

func TestNew(t *testing.T) {
	tests := []struct {
		kind    string
		url     string
		wantErr bool
	}{
		{"", "", false},
		{KindNop, "", false},
		{KindLog, "", false},
		{KindWebhook, "https://cms.example.com/hooks/ab", false},
		{KindWebhook, "", true},
		{KindWebhook, "ftp://cms.example.com", true},
		{"carrier-pigeon", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind+" "+tt.url, func(t *testing.T) {
			p, err := New(tt.kind, tt.url, zerolog.Nop())
			if tt.wantErr {
				if !errors.Is(err, experiment.ErrInvalidInput) {
					t.Errorf("got %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p == nil {
				t.Fatal("expected a publisher")
			}
		})
	}
}

func TestWebhook_Publish(t *testing.T) {
	var got Instruction
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("got method %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("got Content-Type %s, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := w.Publish(context.Background(), "page:home", "revision:7"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	want := Instruction{Action: experiment.ActionPublish, Subject: "page:home", Revision: "revision:7"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestWebhook_RevertRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := w.Revert(context.Background(), "page:home"); err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("got %d calls, want 2", n)
	}
}

func TestWebhook_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	w, err := NewWebhook(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := w.Publish(context.Background(), "page:home", "revision:7"); err == nil {
		t.Fatal("expected an error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
}
