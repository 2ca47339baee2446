package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func TestObserveDB_NilPromRunsFn(t *testing.T) {
	var p *Prom
	called := false

	err := p.ObserveDB("users.get", func() error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run, called=%v err=%v", called, err)
	}
}

func TestObserveDB_ClassifiesErrors(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	_ = p.ObserveDB("users.create", func() error { return &pgconn.PgError{Code: "23505"} })
	_ = p.ObserveDB("users.get", func() error { return pgx.ErrNoRows })

	if got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("users.create", "unique_violation")); got != 1 {
		t.Fatalf("expected one unique_violation, got %v", got)
	}
	if got := testutil.CollectAndCount(p.DbErrorsTotal); got != 1 {
		t.Fatalf("no_rows must not count as an error, series=%d", got)
	}
}

func TestClassifyDBErr(t *testing.T) {
	tests := map[string]error{
		"deadlock":   &pgconn.PgError{Code: "40P01"},
		"pg_42P01":   &pgconn.PgError{Code: "42P01"},
		"timeout":    context.DeadlineExceeded,
		"connection": errors.New("failed to connect: connection refused"),
		"unknown":    errors.New("boom"),
	}

	for want, err := range tests {
		if got := classifyDBErr(err); got != want {
			t.Fatalf("classify(%v): got %q want %q", err, got, want)
		}
	}
}

func TestGinHandleMiddleware_CountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := NewProm(prometheus.NewRegistry())

	r := gin.New()
	r.Use(p.GinHandleMiddleware())
	r.GET("/api/users/current", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/current", nil))

	if got := testutil.ToFloat64(p.RequestsTotal.WithLabelValues("GET", "/api/users/current", "401")); got != 1 {
		t.Fatalf("expected 1 request counted, got %v", got)
	}
}

func TestTraceHandler_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "prod")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if rec["trace_id"] != traceID.String() || rec["span_id"] != spanID.String() {
		t.Fatalf("missing trace ids: %v", rec)
	}
}

func TestNewLogger_LevelByEnv(t *testing.T) {
	var buf bytes.Buffer

	NewLoggerTo(&buf, "prod").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be disabled outside dev: %s", buf.String())
	}

	NewLoggerTo(&buf, "dev").Debug("visible")
	if buf.Len() == 0 {
		t.Fatalf("debug should be enabled in dev")
	}
}

func TestInitTracer_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "accounthub", "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown failed: %v", err)
	}
}
