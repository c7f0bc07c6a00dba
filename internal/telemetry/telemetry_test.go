package telemetry

import (
	"context"
	"testing"

	"github.com/alexbotov/progression/internal/config"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestSetupDisabled(t *testing.T) {
	before := otel.GetTracerProvider()

	cases := []struct {
		name string
		cfg  config.TelemetryConfig
	}{
		{"Disabled", config.TelemetryConfig{Endpoint: "http://localhost:4318"}},
		{"NoEndpoint", config.TelemetryConfig{Enabled: true}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), c.cfg)
			if err != nil {
				t.Fatalf("Setup failed: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("No-op shutdown failed: %v", err)
			}
			if otel.GetTracerProvider() != before {
				t.Error("Expected the global provider to stay untouched")
			}
		})
	}
}

func TestResource(t *testing.T) {
	res := newResource("progression-test")
	v, ok := res.Set().Value(semconv.ServiceNameKey)
	if !ok || v.AsString() != "progression-test" {
		t.Errorf("Expected service name progression-test, got %v", v.AsString())
	}
}
