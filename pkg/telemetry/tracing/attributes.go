package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/costgate/pkg/ledger"
)

// Attribute keys in the costgate.* namespace.
const (
	AttrLane          = attribute.Key("costgate.lane")
	AttrProvider      = attribute.Key("costgate.provider")
	AttrUser          = attribute.Key("costgate.user_id")
	AttrReservationID = attribute.Key("costgate.reservation_id")
	AttrAdmitted      = attribute.Key("costgate.admitted")
	AttrDenyReason    = attribute.Key("costgate.deny_reason")
	AttrDegraded      = attribute.Key("costgate.degraded")
	AttrInputUnits    = attribute.Key("costgate.units.input")
	AttrOutputUnits   = attribute.Key("costgate.units.output")
	AttrCost          = attribute.Key("costgate.cost")
	AttrModel         = attribute.Key("costgate.model")
)

// KeyAttributes describes a ledger key. The user is omitted for the global
// bucket.
func KeyAttributes(key ledger.Key) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrLane.String(key.Lane),
		AttrProvider.String(key.Provider),
	}
	if key.UserID != "" {
		attrs = append(attrs, AttrUser.String(key.UserID))
	}
	return attrs
}

// UsageAttributes describes committed usage.
func UsageAttributes(u ledger.Usage) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrInputUnits.Int64(u.InputUnits),
		AttrOutputUnits.Int64(u.OutputUnits),
		AttrCost.Float64(u.Cost),
	}
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
