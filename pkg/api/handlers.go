package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/arclight-labs/spifmark/pkg/identity"
	"github.com/arclight-labs/spifmark/pkg/label"
	"github.com/arclight-labs/spifmark/pkg/marking"
	"github.com/arclight-labs/spifmark/pkg/spif"
)

// MarkingRequest is the input to POST /v1/markings.
type MarkingRequest struct {
	Classification string   `json:"classification"`
	ReleasableTo   []string `json:"releasable_to,omitempty"`
	Caveats        []string `json:"caveats,omitempty"`
	COI            []string `json:"coi,omitempty"`
}

// handleMarkings renders display and portion markings for one resource.
func (s *Server) handleMarkings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req MarkingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Classification == "" {
		WriteBadRequest(w, "Missing required field: classification")
		return
	}

	countries := make([]label.CountryCode, 0, len(req.ReleasableTo))
	for _, c := range req.ReleasableTo {
		code := label.ParseCountryCode(c)
		if s.releasable != nil && !s.releasable(string(code)) {
			WriteUnprocessable(w, fmt.Sprintf("Releasability code %q is not accepted by this deployment", code))
			return
		}
		countries = append(countries, code)
	}
	var opts marking.Options
	for _, c := range req.Caveats {
		opts.Caveats = append(opts.Caveats, label.Caveat(c))
	}
	for _, id := range req.COI {
		opts.COI = append(opts.COI, label.COIID(id))
	}

	gen, err := s.generator.Generate(r.Context(), req.Classification, countries, opts)
	if err != nil {
		s.writeMarkingError(w, err)
		return
	}

	s.recordMarking(r.Context())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(gen)
}

// writeMarkingError maps generation failures to responses. On any failure
// the response carries no marking fragments at all: an unknown
// classification is the caller's defect (422), an unloadable policy means
// the engine cannot mark anything (503).
func (s *Server) writeMarkingError(w http.ResponseWriter, err error) {
	var unknown *spif.UnknownClassificationError
	if errors.As(err, &unknown) {
		WriteUnprocessable(w, unknown.Error())
		return
	}
	if errors.Is(err, marking.ErrNoReleasabilitySet) {
		WriteUnprocessable(w, "Policy defines no releasability tag set")
		return
	}
	var loadErr *spif.PolicyLoadError
	if errors.As(err, &loadErr) {
		s.logger.Error("policy unavailable", "error", err)
		WriteServiceUnavailable(w, "Security policy is not loadable")
		return
	}
	WriteInternal(w, err)
}

// handleValidate runs the coherence validator over a submitted label.
// Violations come back in the verdict body, not as an HTTP error: an
// incoherent label is a valid question with an unfavorable answer.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var l label.SecurityLabel
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if l.Classification == "" {
		WriteBadRequest(w, "Missing required field: classification")
		return
	}

	verdict := s.validator.Validate(r.Context(), &l)
	s.recordViolations(r.Context(), int64(len(verdict.Violations)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(verdict)
}

// DecisionRequest is the input to POST /v1/decisions. When the request
// carries a bearer token the subject comes from the validated token and the
// inline subject is ignored; the inline form is for trusted internal
// callers evaluating on someone's behalf.
type DecisionRequest struct {
	Subject *identity.Subject    `json:"subject,omitempty"`
	Label   *label.SecurityLabel `json:"label"`
}

// handleDecisions evaluates one subject/label pair.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	subject := req.Subject
	if auth := r.Header.Get("Authorization"); auth != "" {
		if s.tokens == nil {
			WriteUnauthorized(w, "Bearer tokens are not accepted by this deployment")
			return
		}
		raw := strings.TrimPrefix(auth, "Bearer ")
		if raw == auth {
			WriteUnauthorized(w, "Authorization header must use the Bearer scheme")
			return
		}
		sub, err := s.tokens.Validate(raw)
		if err != nil {
			WriteUnauthorized(w, "Invalid token")
			return
		}
		subject = sub
	}

	if subject == nil || req.Label == nil {
		WriteBadRequest(w, "Missing required fields: subject, label")
		return
	}
	subject.Country = label.ParseCountryCode(string(subject.Country))

	d, err := s.point.Evaluate(r.Context(), subject, req.Label)
	if err != nil {
		// The decision could not be audited, so it is not granted.
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d)
}

// handleEquivalency serves the canonical equivalency export. The content
// hash doubles as the ETag so synchronized consumers poll cheaply.
func (s *Server) handleEquivalency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, s.exportHash) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"`+s.exportHash+`"`)
	_, _ = w.Write(s.exportBody)
}

// handleHealthz reports readiness. A policy that fails to load makes the
// instance degraded: it must not mark or decide anything.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	model, err := s.loader.Policy(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":         "ok",
		"policy":         model.PolicyName,
		"policy_version": model.Version,
	})
}
