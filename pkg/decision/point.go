// Package decision implements the reference policy decision point.
//
// Every evaluation is fail-closed: an error anywhere in the chain denies.
// Decisions carry deterministic hashes (JCS canonical JSON, SHA-256) so an
// audit trail can prove which decision was made, and every evaluation emits
// an audit event.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/arclight-labs/spifmark/pkg/audit"
	"github.com/arclight-labs/spifmark/pkg/coherence"
	"github.com/arclight-labs/spifmark/pkg/equivalency"
	"github.com/arclight-labs/spifmark/pkg/identity"
	"github.com/arclight-labs/spifmark/pkg/label"
)

// Reason codes carried on every decision. Denials are specific enough for
// an operator to act on without exposing label internals to the requester.
const (
	ReasonAllow                 = "ALLOW"
	ReasonNilRequest            = "REASON_NIL_REQUEST"
	ReasonTimeout               = "REASON_TIMEOUT"
	ReasonUnresolvedClearance   = "REASON_UNRESOLVED_CLEARANCE"
	ReasonIncoherentLabel       = "REASON_INCOHERENT_LABEL"
	ReasonCannotClassify        = "REASON_CANNOT_CLASSIFY"
	ReasonInsufficientClearance = "REASON_INSUFFICIENT_CLEARANCE"
	ReasonNotReleasable         = "REASON_NOT_RELEASABLE"
	ReasonCOINotHeld            = "REASON_COI_NOT_HELD"
	ReasonHashFailure           = "REASON_HASH_FAILURE"
)

// MessageCannotClassify is the only text rendered when the resource's
// classification cannot be determined. No marking fragment ever accompanies
// it.
const MessageCannotClassify = "access denied: unable to determine classification"

// Decision is the canonical output of one evaluation.
type Decision struct {
	Allow         bool                       `json:"allow"`
	ReasonCode    string                     `json:"reason_code"`
	Message       string                     `json:"message,omitempty"`
	SubjectID     string                     `json:"subject_id,omitempty"`
	SubjectLevel  equivalency.CanonicalLevel `json:"subject_level,omitempty"`
	ResourceLevel equivalency.CanonicalLevel `json:"resource_level,omitempty"`
	PolicyRef     string                     `json:"policy_ref"`
	DecisionHash  string                     `json:"decision_hash"`
	EvaluatedAt   time.Time                  `json:"evaluated_at"`
}

// Point evaluates subject access against resource labels. All collaborators
// are injected; the point itself holds no mutable state and is safe for
// concurrent use.
type Point struct {
	resolver  *equivalency.Map
	validator *coherence.Validator
	authority label.CountryCode
	policyRef string
	auditor   audit.Logger
	now       func() time.Time
}

// Option configures a Point.
type Option func(*Point)

// WithAuthority sets the vocabulary key resource classifications resolve
// under. Defaults to the NATO institutional key.
func WithAuthority(c label.CountryCode) Option {
	return func(p *Point) { p.authority = c }
}

// WithPolicyRef sets the policy reference bound into every decision,
// typically "<table-name>/<version>".
func WithPolicyRef(ref string) Option {
	return func(p *Point) { p.policyRef = ref }
}

// WithAuditor overrides the audit logger.
func WithAuditor(l audit.Logger) Option {
	return func(p *Point) { p.auditor = l }
}

// WithClock overrides the evaluation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Point) { p.now = now }
}

// NewPoint builds a decision point over the given equivalency map and
// coherence validator.
func NewPoint(resolver *equivalency.Map, validator *coherence.Validator, opts ...Option) (*Point, error) {
	if resolver == nil {
		return nil, fmt.Errorf("nil equivalency map")
	}
	if validator == nil {
		return nil, fmt.Errorf("nil coherence validator")
	}
	p := &Point{
		resolver:  resolver,
		validator: validator,
		authority: equivalency.CountryNATO,
		policyRef: "spifmark:unversioned",
		auditor:   audit.NewLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Evaluate decides whether the subject may access a resource carrying the
// given label. The returned error reports evaluation-infrastructure
// failures (such as an unwritable audit sink); callers must treat any
// non-nil error as a denial regardless of the decision content.
func (p *Point) Evaluate(ctx context.Context, subject *identity.Subject, resource *label.SecurityLabel) (*Decision, error) {
	if subject == nil || resource == nil {
		return p.finish(ctx, subject, resource, p.deny(ReasonNilRequest, ""))
	}

	select {
	case <-ctx.Done():
		return p.finish(ctx, subject, resource, p.deny(ReasonTimeout, ""))
	default:
	}

	subjectLevel, ok := p.resolver.Resolve(subject.Country, subject.Clearance)
	if !ok {
		d := p.deny(ReasonUnresolvedClearance, "")
		d.SubjectID = subject.ID
		return p.finish(ctx, subject, resource, d)
	}

	if verdict := p.validator.Validate(ctx, resource); !verdict.Valid {
		d := p.deny(ReasonIncoherentLabel, "")
		d.SubjectID = subject.ID
		return p.finish(ctx, subject, resource, d)
	}

	resourceLevel, ok := p.resolver.Resolve(p.authority, resource.Classification)
	if !ok {
		d := p.deny(ReasonCannotClassify, MessageCannotClassify)
		d.SubjectID = subject.ID
		return p.finish(ctx, subject, resource, d)
	}

	d := &Decision{
		SubjectID:     subject.ID,
		SubjectLevel:  subjectLevel,
		ResourceLevel: resourceLevel,
		PolicyRef:     p.policyRef,
	}

	switch {
	case !subjectLevel.Meets(resourceLevel):
		d.ReasonCode = ReasonInsufficientClearance
	case !releasableTo(resource, subject.Country):
		d.ReasonCode = ReasonNotReleasable
	case !holdsRequiredCOI(resource, subject):
		d.ReasonCode = ReasonCOINotHeld
	default:
		d.Allow = true
		d.ReasonCode = ReasonAllow
	}
	return p.finish(ctx, subject, resource, d)
}

func (p *Point) deny(reason, message string) *Decision {
	return &Decision{
		ReasonCode: reason,
		Message:    message,
		PolicyRef:  p.policyRef,
	}
}

// finish stamps, hashes and audits the decision. A hash failure replaces
// the decision outright: an unhashable decision cannot be proven later, so
// it must not grant anything.
func (p *Point) finish(ctx context.Context, subject *identity.Subject, resource *label.SecurityLabel, d *Decision) (*Decision, error) {
	hash, err := ComputeDecisionHash(d)
	if err != nil {
		d = p.deny(ReasonHashFailure, "")
		if subject != nil {
			d.SubjectID = subject.ID
		}
	} else {
		d.DecisionHash = hash
	}
	d.EvaluatedAt = p.now().UTC()

	if subject != nil {
		ctx = identity.WithSubject(ctx, subject)
	}
	resourceRef := ""
	if resource != nil {
		resourceRef = "label:" + resource.Classification
	}
	if err := p.auditor.Record(ctx, audit.EventDecision, "evaluate", resourceRef, map[string]interface{}{
		"allow":         d.Allow,
		"reason_code":   d.ReasonCode,
		"decision_hash": d.DecisionHash,
		"policy_ref":    d.PolicyRef,
	}); err != nil {
		return d, fmt.Errorf("audit decision: %w", err)
	}
	return d, nil
}

func releasableTo(resource *label.SecurityLabel, country label.CountryCode) bool {
	if len(resource.ReleasableTo) == 0 {
		return true
	}
	for _, c := range resource.ReleasableTo {
		if c == country {
			return true
		}
	}
	return false
}

func holdsRequiredCOI(resource *label.SecurityLabel, subject *identity.Subject) bool {
	if !resource.HasCOI() {
		return true
	}
	switch resource.Operator() {
	case label.COIOperatorAny:
		for _, id := range resource.COI {
			if subject.HoldsCOI(id) {
				return true
			}
		}
		return false
	default:
		for _, id := range resource.COI {
			if !subject.HoldsCOI(id) {
				return false
			}
		}
		return true
	}
}

// ComputeDecisionHash produces a deterministic SHA-256 hash of the decision
// using JCS canonicalization. The hash and timestamp fields are excluded so
// re-evaluating identical inputs reproduces the hash byte for byte.
func ComputeDecisionHash(d *Decision) (string, error) {
	hashInput := struct {
		Allow         bool                       `json:"allow"`
		ReasonCode    string                     `json:"reason_code"`
		Message       string                     `json:"message,omitempty"`
		SubjectID     string                     `json:"subject_id,omitempty"`
		SubjectLevel  equivalency.CanonicalLevel `json:"subject_level,omitempty"`
		ResourceLevel equivalency.CanonicalLevel `json:"resource_level,omitempty"`
		PolicyRef     string                     `json:"policy_ref"`
	}{
		Allow:         d.Allow,
		ReasonCode:    d.ReasonCode,
		Message:       d.Message,
		SubjectID:     d.SubjectID,
		SubjectLevel:  d.SubjectLevel,
		ResourceLevel: d.ResourceLevel,
		PolicyRef:     d.PolicyRef,
	}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize decision: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
