// Package observability provides marking engine instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for marking engine telemetry.
var (
	// Policy attributes
	AttrPolicyName    = attribute.Key("spifmark.policy.name")
	AttrPolicyVersion = attribute.Key("spifmark.policy.version")
	AttrPolicySource  = attribute.Key("spifmark.policy.source")

	// Equivalency attributes
	AttrTableName = attribute.Key("spifmark.table.name")
	AttrCountry   = attribute.Key("spifmark.country")
	AttrTerm      = attribute.Key("spifmark.term")

	// Decision attributes
	AttrDecisionAllow  = attribute.Key("spifmark.decision.allow")
	AttrDecisionReason = attribute.Key("spifmark.decision.reason")
	AttrDecisionMs     = attribute.Key("spifmark.decision.latency_ms")

	// Coherence attributes
	AttrRuleID       = attribute.Key("spifmark.rule.id")
	AttrRuleSeverity = attribute.Key("spifmark.rule.severity")

	// Sweep attributes
	AttrSweepRunID = attribute.Key("spifmark.sweep.run_id")
)

// PolicyOperation creates attributes for policy load and validation spans.
func PolicyOperation(name, version, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyName.String(name),
		AttrPolicyVersion.String(version),
		AttrPolicySource.String(source),
	}
}

// ResolutionOperation creates attributes for equivalency lookups.
func ResolutionOperation(table, country, term string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTableName.String(table),
		AttrCountry.String(country),
		AttrTerm.String(term),
	}
}

// DecisionOperation creates attributes for access decision evaluation.
func DecisionOperation(country, reason string, allow bool, latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCountry.String(country),
		AttrDecisionReason.String(reason),
		AttrDecisionAllow.Bool(allow),
		AttrDecisionMs.Float64(latencyMs),
	}
}

// CoherenceOperation creates attributes for rule evaluation.
func CoherenceOperation(ruleID, severity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRuleID.String(ruleID),
		AttrRuleSeverity.String(severity),
	}
}

// SweepOperation creates attributes for store sweep runs.
func SweepOperation(runID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSweepRunID.String(runID),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
