package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bft-labs/fallbatch/internal/domain"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Backend[string, string] {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	b, err := NewBackend[string, string](Config{BaseURL: srv.URL + "/", AuthToken: "secret"})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	return b
}

func TestBackend_ProcessOne(t *testing.T) {
	b := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ProcessPath {
			t.Errorf("path = %s, want %s", r.URL.Path, ProcessPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req ProcessRequest[string]
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "echo:" + req.Item})
	})

	got, err := b.ProcessOne(context.Background(), "hi")
	if err != nil {
		t.Fatalf("ProcessOne() error = %v", err)
	}
	if got != "echo:hi" {
		t.Errorf("ProcessOne() = %q, want echo:hi", got)
	}
}

func TestBackend_ProcessBatch(t *testing.T) {
	b := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest[string]
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := BatchResponse[string]{}
		for _, it := range req.Items {
			out.Results = append(out.Results, "b:"+it)
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	got, err := b.ProcessBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(got) != 2 || got[0] != "b:a" || got[1] != "b:b" {
		t.Errorf("ProcessBatch() = %v", got)
	}
}

func TestBackend_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			wantErr: domain.ErrStatus,
		},
		{
			name: "null result",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"result":null}`))
			},
			wantErr: domain.ErrEmptyResult,
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantErr: domain.ErrEmptyResult,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			wantErr: domain.ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestServer(t, tt.handler)
			_, err := b.ProcessOne(context.Background(), "x")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ProcessOne() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackend_StatusErrorDetails(t *testing.T) {
	b := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})

	_, err := b.ProcessOne(context.Background(), "x")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadRequest || se.Body != "nope" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestBackend_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b, err := NewBackend[string, string](Config{BaseURL: url})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ProcessOne(context.Background(), "x"); !errors.Is(err, domain.ErrTransport) {
		t.Errorf("ProcessOne() error = %v, want ErrTransport", err)
	}
}

func TestNewBackend_RequiresURL(t *testing.T) {
	if _, err := NewBackend[string, string](Config{}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("NewBackend() error = %v, want ErrInvalidConfig", err)
	}
}
