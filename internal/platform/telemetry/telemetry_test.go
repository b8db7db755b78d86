package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func newRegistered(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}
	return m, reg
}

func TestMetrics_Register(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		m, reg := newRegistered(t)
		m.ObserveQuery("diagnose", "ok")
		m.ObservePopulation(8, nil)

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() returned error: %v", err)
		}
		found := map[string]bool{}
		for _, f := range families {
			found[f.GetName()] = true
		}
		for _, name := range []string{MetricQueriesTotal, MetricPopulationLoadsTotal, MetricPopulationPatients, MetricHTTPActiveRequests} {
			if !found[name] {
				t.Errorf("metric %s not found in gathered metrics", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics().Register(reg); err != nil {
			t.Fatalf("first Register() returned error: %v", err)
		}
		if err := NewMetrics().Register(reg); err == nil {
			t.Error("expected error on duplicate registration")
		}
	})
}

func TestMetrics_ObserveQuery(t *testing.T) {
	m, _ := newRegistered(t)

	m.ObserveQuery("diagnose", "ok")
	m.ObserveQuery("diagnose", "ok")
	m.ObserveQuery("diagnose", "unknown_patient")

	if got := testutil.ToFloat64(m.queries.WithLabelValues("diagnose", "ok")); got != 2 {
		t.Errorf("expected 2 ok diagnoses, got %v", got)
	}
	if got := testutil.ToFloat64(m.queries.WithLabelValues("diagnose", "unknown_patient")); got != 1 {
		t.Errorf("expected 1 lookup failure, got %v", got)
	}
}

func TestMetrics_ObservePopulation(t *testing.T) {
	m, _ := newRegistered(t)
	fixed := time.Unix(1700000000, 0)
	m.now = func() time.Time { return fixed }

	m.ObservePopulation(8, nil)
	m.ObservePopulation(0, errors.New("boom"))

	if got := testutil.ToFloat64(m.patients); got != 8 {
		t.Errorf("expected 8 patients after failed reload, got %v", got)
	}
	if got := testutil.ToFloat64(m.loadedAt); got != 1700000000 {
		t.Errorf("expected loaded timestamp, got %v", got)
	}
	if got := testutil.ToFloat64(m.populationLoads.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed load, got %v", got)
	}
}

func TestMetrics_PopulationLoadsLabel(t *testing.T) {
	m, reg := newRegistered(t)
	m.ObservePopulation(8, nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != MetricPopulationLoadsTotal {
			continue
		}
		labels := mf.GetMetric()[0].GetLabel()
		if len(labels) != 1 || labels[0].GetName() != "outcome" || labels[0].GetValue() != "ok" {
			t.Errorf("expected a single outcome=ok label, got %v", labels)
		}
		return
	}
	t.Fatalf("metric %s not gathered", MetricPopulationLoadsTotal)
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	m, _ := newRegistered(t)
	e := echo.New()
	e.Use(m.Middleware())
	e.POST("/api/v1/diagnoses", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/api/v1/population", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "population not loaded")
	})

	for i := 0; i < 3; i++ {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/diagnoses", nil))
	}
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/population", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/v1/diagnoses", "200")); got != 3 {
		t.Errorf("expected 3 diagnose requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/population", "503")); got != 1 {
		t.Errorf("expected 1 failed population request, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpActive); got != 0 {
		t.Errorf("expected no active requests, got %v", got)
	}

	metric := &dto.Metric{}
	h := m.httpDuration.WithLabelValues("POST", "/api/v1/diagnoses", "200").(prometheus.Histogram)
	if err := h.Write(metric); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 3 {
		t.Errorf("expected 3 duration samples, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestHandler_Exposition(t *testing.T) {
	m, reg := newRegistered(t)
	m.ObserveQuery("similarity", "ok")

	e := echo.New()
	e.GET("/metrics", Handler(reg))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `dxmatch_queries_total{operation="similarity",outcome="ok"} 1`) {
		t.Errorf("expected query counter in exposition, got:\n%s", body)
	}
}
