package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/costgate/pkg/ledger"
)

func TestNew_Disabled(t *testing.T) {
	tr, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tr.Enabled() {
		t.Error("Enabled() = true for disabled config")
	}

	_, span := tr.Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracer produced a recording span")
	}
	span.End()

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_ExportsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tr, err := New(Config{
		Enabled:     true,
		Sampler:     SamplerAlways,
		ServiceName: "costgate-test",
	}, WithExporter(exp), WithoutGlobal())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := tr.Start(context.Background(), "gateway.call")
	span.SetAttributes(KeyAttributes(ledger.UserKey("alice", "stable", "openai"))...)
	RecordError(span, errors.New("boom"))
	span.End()

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "gateway.call" {
		t.Errorf("span name = %q", got.Name)
	}
	if got.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", got.Status.Code)
	}

	attrs := map[attribute.Key]string{}
	for _, kv := range got.Attributes {
		attrs[kv.Key] = kv.Value.Emit()
	}
	if attrs[AttrLane] != "stable" || attrs[AttrProvider] != "openai" || attrs[AttrUser] != "alice" {
		t.Errorf("attributes = %v", attrs)
	}

	var service string
	for _, kv := range got.Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "costgate-test" {
		t.Errorf("service.name = %q", service)
	}
}

func TestKeyAttributes_GlobalOmitsUser(t *testing.T) {
	for _, kv := range KeyAttributes(ledger.GlobalKey("stable", "openai")) {
		if kv.Key == AttrUser {
			t.Errorf("global key carries %s", AttrUser)
		}
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{"always", SamplerAlways, 0, false},
		{"never", SamplerNever, 0, false},
		{"ratio", SamplerRatio, 0.5, false},
		{"empty means ratio", "", 0.1, false},
		{"ratio too high", SamplerRatio, 1.5, true},
		{"ratio negative", SamplerRatio, -0.1, true},
		{"unknown", "sometimes", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createSampler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s == nil {
				t.Error("createSampler() returned nil sampler")
			}
		})
	}
}

func TestSampler_NeverDropsRootSpans(t *testing.T) {
	s, err := createSampler(SamplerNever, 0)
	if err != nil {
		t.Fatal(err)
	}
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp), sdktrace.WithSampler(s))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	span.End()

	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("exported %d spans with never sampler", n)
	}
}
