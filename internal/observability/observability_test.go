package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyDBErr(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&pgconn.PgError{Code: "23505"}, "unique_violation"},
		{&pgconn.PgError{Code: "23503"}, "fk_violation"},
		{&pgconn.PgError{Code: "99999"}, "pg_99999"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("connection refused"), "connection"},
		{errors.New("weird"), "unknown"},
	}
	for _, tt := range tests {
		if got := classifyDBErr(tt.err); got != tt.want {
			t.Fatalf("classifyDBErr(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestObserveDB_CountsErrors(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	_ = p.ObserveDB("users.get", func() error { return nil })
	err := p.ObserveDB("users.get", func() error { return &pgconn.PgError{Code: "23505"} })
	if err == nil {
		t.Fatalf("expected error to pass through")
	}

	got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("users.get", "unique_violation"))
	if got != 1 {
		t.Fatalf("got %v errors, want 1", got)
	}
}

func TestNilPromIsSafe(t *testing.T) {
	var p *Prom
	called := false
	_ = p.ObserveDB("x", func() error { called = true; return nil })
	p.ObserveAuth("login", "ok")
	p.ObserveCrypto("encrypt", nil)
	if !called {
		t.Fatalf("fn should run with nil Prom")
	}
}

func TestJobMetricsSnapshot(t *testing.T) {
	m := NewJobMetrics()
	m.IncRuns()
	m.IncRuns()
	m.IncFailed()
	m.AddRemoved(5)
	m.AddRemoved(-1)
	m.ObserveDuration(10 * time.Millisecond)
	m.ObserveDuration(30 * time.Millisecond)

	s := m.Snapshot()
	if s.Runs != 2 || s.Failed != 1 || s.Removed != 5 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.AverageDuration != 20*time.Millisecond || s.MaxDuration != 30*time.Millisecond {
		t.Fatalf("unexpected durations: %+v", s)
	}
	if s.LastRun == nil {
		t.Fatalf("expected last run to be set")
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "dev")
	log.DebugContext(context.Background(), "hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["trace_id"]; ok {
		t.Fatalf("no span in context, trace_id should be absent")
	}
}

func TestLogger_RequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "production")
	ctx := WithRequestID(context.Background(), "req-123")
	log.InfoContext(ctx, "handled")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["request_id"] != "req-123" {
		t.Fatalf("got request_id %v", rec["request_id"])
	}
}
