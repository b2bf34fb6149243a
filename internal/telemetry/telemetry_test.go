package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{}, quietLogger())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled {
		t.Fatalf("expected disabled provider")
	}
	if p.MetricsHandler() != nil {
		t.Fatalf("expected no metrics handler")
	}
	p.RecordPrediction(context.Background(), "ok", "safe", 1.5, 0.08)
	p.RecordHTTPRequest(context.Background(), "/api/check", 200, 2)
	_, span := p.StartSpan(context.Background(), "predict", map[string]interface{}{"token": "x"})
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	p.RecordPrediction(context.Background(), "ok", "safe", 1, 0)
	p.RecordHTTPRequest(context.Background(), "/", 200, 1)
	if p.Tracer() == nil || p.Meter() == nil {
		t.Fatalf("expected noop tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestPrometheusProviderServesMetrics(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{
		Enabled:  true,
		Protocol: "prometheus",
		Service:  "phishcheck",
		Version:  "test",
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	p.RecordPrediction(context.Background(), "ok", "malicious", 3.2, 0.985)
	p.RecordHTTPRequest(context.Background(), "/api/check", 200, 4)

	h := p.MetricsHandler()
	if h == nil {
		t.Fatalf("expected metrics handler")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"phishcheck_predictions_total", "phishcheck_risk_score", "phishcheck_http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s:\n%s", want, body)
		}
	}
}

func TestSecondPrometheusProviderDoesNotConflict(t *testing.T) {
	for i := 0; i < 2; i++ {
		p, err := NewProvider(context.Background(), Config{Enabled: true, Protocol: "prometheus"}, quietLogger())
		if err != nil {
			t.Fatalf("provider %d: %v", i, err)
		}
		_ = p.Shutdown(context.Background())
	}
}

func TestUnsupportedProtocol(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, Protocol: "carrier-pigeon"}, quietLogger())
	if err == nil {
		t.Fatalf("expected error for unsupported protocol")
	}
}
