package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakePinger reports err after an optional delay.
type fakePinger struct {
	name  string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func readyOf(t *testing.T, pingers ...Pinger) (int, readyResponse) {
	t.Helper()

	s := newTestServer()
	s.pingers = pingers
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newTestServer().handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected ok, got %q", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	cases := []struct {
		name       string
		errs       []error
		wantStatus int
		wantReady  bool
	}{
		{"no dependencies", nil, http.StatusOK, true},
		{"all healthy", []error{nil, nil, nil}, http.StatusOK, true},
		{"index down", []error{nil, down, nil}, http.StatusServiceUnavailable, false},
		{"everything down", []error{down, down}, http.StatusServiceUnavailable, false},
	}

	names := []string{"sqlite", "qdrant", "llm"}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var pingers []Pinger
			for i, err := range tc.errs {
				pingers = append(pingers, &fakePinger{name: names[i], err: err})
			}

			status, resp := readyOf(t, pingers...)
			if status != tc.wantStatus {
				t.Errorf("status: expected %d, got %d", tc.wantStatus, status)
			}
			if resp.Ready != tc.wantReady {
				t.Errorf("ready: expected %v, got %v", tc.wantReady, resp.Ready)
			}
			if len(resp.Checks) != len(tc.errs) {
				t.Fatalf("expected %d checks, got %d", len(tc.errs), len(resp.Checks))
			}
			for i, c := range resp.Checks {
				if c.Name != names[i] {
					t.Errorf("check %d: expected %q in registration order, got %q", i, names[i], c.Name)
				}
				if wantOK := tc.errs[i] == nil; c.OK != wantOK || (c.Error == "") != wantOK {
					t.Errorf("check %q: ok=%v error=%q", c.Name, c.OK, c.Error)
				}
			}
		})
	}
}

// TestHandleReady_ProbesConcurrently verifies that slow probes overlap
// instead of adding up, and a failure does not cut the others short.
func TestHandleReady_ProbesConcurrently(t *testing.T) {
	t.Parallel()

	slow := []*fakePinger{
		{name: "sqlite", delay: 200 * time.Millisecond},
		{name: "qdrant", delay: 200 * time.Millisecond, err: errors.New("down")},
		{name: "llm", delay: 200 * time.Millisecond},
	}

	start := time.Now()
	status, resp := readyOf(t, slow[0], slow[1], slow[2])
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("probes took %v, expected them to run in parallel", elapsed)
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", status)
	}
	if !resp.Checks[0].OK || !resp.Checks[2].OK {
		t.Errorf("healthy probes were reported failed: %+v", resp.Checks)
	}
	for _, p := range slow {
		if p.calls.Load() != 1 {
			t.Errorf("%s: expected 1 probe, got %d", p.name, p.calls.Load())
		}
	}
}
