package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type fakePinger struct {
	err      error
	deadline bool
}

func (f *fakePinger) Ping(ctx context.Context) error {
	_, f.deadline = ctx.Deadline()
	return f.err
}

func runHealth(t *testing.T, p pinger) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)

	usage := func() PoolUsage { return PoolUsage{Open: 2, InUse: 1, Max: 10} }
	if err := healthHandler(p, usage, time.Second)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	p := &fakePinger{}
	rec, body := runHealth(t, p)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", body["status"])
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected pool object, got %T", body["pool"])
	}
	if pool["open"] != float64(2) || pool["in_use"] != float64(1) || pool["max"] != float64(10) {
		t.Errorf("unexpected pool usage %v", pool)
	}
	if _, ok := body["latency_ms"].(float64); !ok {
		t.Errorf("expected numeric latency_ms, got %v", body["latency_ms"])
	}
	if !p.deadline {
		t.Error("expected ping context to carry a deadline")
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	rec, body := runHealth(t, &fakePinger{err: errors.New("connection refused")})

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected status unhealthy, got %v", body["status"])
	}
	if body["error"] != "connection refused" {
		t.Errorf("expected error message, got %v", body["error"])
	}
	if _, ok := body["pool"].(map[string]interface{}); !ok {
		t.Errorf("expected pool usage on failure, got %v", body["pool"])
	}
}
