// Package gateway runs governed chat calls: it admits a call against the
// ledger, sends it through the named provider, and settles the reservation
// with the provider's reported usage.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/costgate/pkg/executor"
	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/providers"
	"mercator-hq/costgate/pkg/telemetry/tracing"
)

// Ledger is the subset of *ledger.Ledger the gateway needs.
type Ledger interface {
	Admit(ctx context.Context, key ledger.Key, reservationID string, estimate ledger.Usage) (ledger.Decision, error)
	Commit(ctx context.Context, key ledger.Key, reservationID string, actual ledger.Usage) error
	Rollback(ctx context.Context, key ledger.Key, reservationID string, mode ledger.RollbackMode) error
}

// AdmissionDeniedError is returned when the ledger refuses a call.
type AdmissionDeniedError struct {
	// Key is the ledger key that was checked.
	Key ledger.Key

	// Decision carries the reason and fallback provider.
	Decision ledger.Decision
}

// Error implements the error interface.
func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("admission denied for %s: %s (fallback %q)", e.Key, e.Decision.Reason, e.Decision.Fallback)
}

// CallSpec describes one governed call.
type CallSpec struct {
	// Key selects the bucket and, through Key.Provider, the provider.
	Key ledger.Key

	// Estimate is reserved for the duration of the call.
	Estimate ledger.Usage

	// Messages is the conversation to send.
	Messages []providers.Message

	// Temperature controls sampling randomness.
	Temperature float64

	// Model overrides the provider's default model.
	Model string

	// ReservationID is generated when empty.
	ReservationID string
}

// Result is the outcome of a successful call.
type Result struct {
	// Response is the provider's completion.
	Response *providers.ChatResponse

	// Key is the key the call was charged to; it differs from the requested
	// key when CallWithFallback degraded.
	Key ledger.Key

	// ReservationID is the settled reservation.
	ReservationID string

	// Actual is the usage committed to the ledger.
	Actual ledger.Usage

	// Degraded is true when the call was served by the fallback provider.
	Degraded bool
}

// Gateway couples the ledger with the provider registry.
type Gateway struct {
	ledger    Ledger
	providers *providers.Registry
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTracerProvider traces calls with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) { g.tracer = tp.Tracer(tracing.InstrumentationName + "/gateway") }
}

// New creates a Gateway.
func New(l Ledger, registry *providers.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		ledger:    l,
		providers: registry,
		logger:    slog.Default().With("component", "gateway"),
		tracer:    otel.Tracer(tracing.InstrumentationName + "/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Call admits, executes and settles one call.
//
// On provider failure the reservation is released. If the caller's context
// was cancelled after a request reached the backend the reservation is kept,
// since the backend may already have consumed quota. A cancellation before
// anything was sent releases it.
func (g *Gateway) Call(ctx context.Context, spec CallSpec) (res *Result, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.call", trace.WithAttributes(tracing.KeyAttributes(spec.Key)...))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	p, err := g.providers.Get(spec.Key.Provider)
	if err != nil {
		return nil, err
	}

	id := spec.ReservationID
	if id == "" {
		id = ledger.NewReservationID()
	}
	span.SetAttributes(tracing.AttrReservationID.String(id))

	decision, err := g.ledger.Admit(ctx, spec.Key, id, spec.Estimate)
	if err != nil {
		return nil, fmt.Errorf("admission failed: %w", err)
	}
	span.SetAttributes(tracing.AttrAdmitted.Bool(decision.Allowed))
	if !decision.Allowed {
		span.SetAttributes(tracing.AttrDenyReason.String(decision.Reason))
		return nil, &AdmissionDeniedError{Key: spec.Key, Decision: decision}
	}

	resp, err := p.Chat(ctx, &providers.ChatRequest{
		Model:       spec.Model,
		Messages:    spec.Messages,
		Temperature: spec.Temperature,
	})
	if err != nil {
		mode := ledger.RollbackRelease
		if ctx.Err() != nil && executor.Dispatched(err) {
			mode = ledger.RollbackKeep
		}
		if rbErr := g.ledger.Rollback(context.WithoutCancel(ctx), spec.Key, id, mode); rbErr != nil {
			g.logger.Warn("rollback failed", "key", spec.Key.String(), "reservation_id", id, "error", rbErr)
		}
		g.logger.Warn("provider call failed",
			"key", spec.Key.String(),
			"reservation_id", id,
			"rollback", string(mode),
			"error", err,
		)
		return nil, err
	}

	actual := actualUsage(resp, spec.Estimate)
	span.SetAttributes(tracing.AttrModel.String(resp.Model))
	span.SetAttributes(tracing.UsageAttributes(actual)...)
	if err := g.ledger.Commit(context.WithoutCancel(ctx), spec.Key, id, actual); err != nil {
		g.logger.Warn("commit failed", "key", spec.Key.String(), "reservation_id", id, "error", err)
	}

	return &Result{Response: resp, Key: spec.Key, ReservationID: id, Actual: actual}, nil
}

// CallWithFallback is Call, degrading to the fallback provider when the call
// is denied or fails with a retryable error. The fallback is charged to the
// same lane and user under the fallback provider's key.
func (g *Gateway) CallWithFallback(ctx context.Context, spec CallSpec) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.call_with_fallback", trace.WithAttributes(tracing.KeyAttributes(spec.Key)...))
	defer span.End()

	res, err := g.Call(ctx, spec)
	if err == nil {
		span.SetAttributes(tracing.AttrDegraded.Bool(false))
		return res, nil
	}

	fallback := ledger.ProviderLocal
	var denied *AdmissionDeniedError
	switch {
	case errors.As(err, &denied):
		if denied.Decision.Fallback != "" {
			fallback = denied.Decision.Fallback
		}
	case executor.IsRetryable(err):
	default:
		tracing.RecordError(span, err)
		return nil, err
	}
	if fallback == spec.Key.Provider || ctx.Err() != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	g.logger.Info("degrading to fallback provider",
		"key", spec.Key.String(),
		"fallback", fallback,
		"cause", err,
	)

	degraded := spec
	degraded.Key.Provider = fallback
	degraded.Model = ""
	degraded.ReservationID = ""
	res, fbErr := g.Call(ctx, degraded)
	if fbErr != nil {
		err = errors.Join(err, fmt.Errorf("fallback %q: %w", fallback, fbErr))
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracing.AttrDegraded.Bool(true), tracing.AttrProvider.String(fallback))
	res.Degraded = true
	return res, nil
}

// actualUsage converts reported usage, falling back to the estimate when the
// backend reported none.
func actualUsage(resp *providers.ChatResponse, estimate ledger.Usage) ledger.Usage {
	if resp.Usage.Total() == 0 {
		return estimate
	}
	return ledger.Usage{
		InputUnits:  resp.Usage.PromptTokens,
		OutputUnits: resp.Usage.CompletionTokens,
		Cost:        resp.Cost,
	}
}
