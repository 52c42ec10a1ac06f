package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_ServesMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := Init(context.Background(), TelemetryConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordConversationEnd(context.Background(), "generate")

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"advisorsim_conversation_endings", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics is missing %q", want)
		}
	}
}

func TestInit_ExportsSpans(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	exp := tracetest.NewInMemoryExporter()
	tel, err := Init(context.Background(), TelemetryConfig{TraceExporter: exp})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := StartSpan(context.Background(), "report.generate")
	span.End()

	if err := tel.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	// The in-memory exporter forgets its spans on shutdown.
	spans := exp.GetSpans()
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(spans) != 1 || spans[0].Name != "report.generate" {
		t.Errorf("spans = %v, want one report.generate span", spans)
	}
}
