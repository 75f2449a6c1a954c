package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
				Endpoint:       "localhost:4317",
				EnableInsecure: true,
			},
		},
		{
			name:   "without endpoint (no-op)",
			config: TraceConfig{ServiceName: "test-service"},
		},
		{
			name:   "with sampling",
			config: TraceConfig{Endpoint: "localhost:4317", SamplingRate: 0.5, EnableInsecure: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil {
				t.Fatal("NewTracer() returned nil")
			}
			if tracer.tracer == nil {
				t.Error("tracer.tracer is nil")
			}
			if tracer.config.ServiceName == "" {
				t.Error("service name should default")
			}
		})
	}
}

func TestTracer_NilReceiver(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.TraceTurn(context.Background(), "sess")
	defer span.End()
	if ctx == nil {
		t.Fatal("nil context")
	}
	RecordError(span, errors.New("boom"))
	SetAttributes(span, "iteration", 3, "ok", true, 42, "skipped")
}

func TestTracer_Helpers(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.TraceLLMRequest(context.Background(), "anthropic", "claude", 1)
	span.End()
	_, span = tracer.TraceApproval(ctx, "delete_file")
	span.End()
	_, span = tracer.TraceToolExecution(ctx, "read_file", "call_1")
	RecordError(span, nil)
	span.End()
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		val  any
		want attribute.Type
	}{
		{"s", attribute.STRING},
		{1, attribute.INT64},
		{int64(2), attribute.INT64},
		{1.5, attribute.FLOAT64},
		{true, attribute.BOOL},
		{struct{}{}, attribute.STRING},
	}
	for _, tt := range tests {
		if got := attributeFromValue("k", tt.val).Value.Type(); got != tt.want {
			t.Errorf("attributeFromValue(%v) type = %v, want %v", tt.val, got, tt.want)
		}
	}
}
