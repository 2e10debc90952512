// Package marking renders display and portion markings from a
// classification, releasability, and caveats, using the marking grammar the
// policy declares.
package marking

import (
	"context"
	"errors"
	"strings"

	"github.com/arclight-labs/spifmark/pkg/label"
	"github.com/arclight-labs/spifmark/pkg/spif"
)

// Separator is the canonical marking segment separator.
const Separator = "//"

// Options carries the optional marking inputs.
type Options struct {
	Caveats []label.Caveat `json:"caveats,omitempty"`
	COI     []label.COIID  `json:"coi,omitempty"`
}

// GeneratedMarking is the rendered result for one labeled resource.
//
// COI values are recorded but never rendered into DisplayMarking: COI
// membership is an authorization input, routed to the decision layer, and
// the marking grammar in force does not carry a COI segment. Callers that
// need COI in display text compose it themselves.
type GeneratedMarking struct {
	Classification      string              `json:"classification"`
	DisplayMarking      string              `json:"display_marking"`
	PortionMarking      string              `json:"portion_marking"`
	ReleasabilityPhrase string              `json:"releasability_phrase,omitempty"`
	ReleasableTo        []label.CountryCode `json:"releasable_to,omitempty"`
	Caveats             []label.Caveat      `json:"caveats,omitempty"`
	COI                 []label.COIID       `json:"coi,omitempty"`
	PolicyVersion       string              `json:"policy_version"`
}

// Render generates a marking against an already-loaded policy model.
//
// The display marking seeds with the classification's display phrase. A
// non-empty releasableTo appends one releasability segment: codes joined
// with the releasability tag set's separator and prefixed with its prefix.
// Codes absent from the tag set render as given, never dropped: losing a
// releasability entry widens effective disclosure. Caveats append one
// segment each, in caller order. The portion marking is always the bare
// "(CODE)" form; releasability and caveats never extend it.
func Render(model *spif.PolicyModel, classification string, releasableTo []label.CountryCode, opts Options) (*GeneratedMarking, error) {
	def, err := model.Classification(classification)
	if err != nil {
		return nil, err
	}

	gen := &GeneratedMarking{
		Classification: def.Name,
		DisplayMarking: def.DisplayPhrase,
		PortionMarking: "(" + def.PortionCode + ")",
		ReleasableTo:   append([]label.CountryCode(nil), releasableTo...),
		Caveats:        append([]label.Caveat(nil), opts.Caveats...),
		COI:            append([]label.COIID(nil), opts.COI...),
		PolicyVersion:  model.Version,
	}

	if len(releasableTo) > 0 {
		phrase, err := releasabilityPhrase(model, releasableTo)
		if err != nil {
			return nil, err
		}
		gen.ReleasabilityPhrase = phrase
		gen.DisplayMarking += Separator + phrase
	}
	for _, caveat := range opts.Caveats {
		gen.DisplayMarking += Separator + string(caveat)
	}
	return gen, nil
}

// ErrNoReleasabilitySet reports a label carrying releasability against a
// policy that declares no releasability tag set. Rendering without the
// declared qualifier grammar would drop the "REL TO" prefix and change the
// marking's meaning, so this fails instead.
var ErrNoReleasabilitySet = errors.New("policy defines no releasability tag set")

func releasabilityPhrase(model *spif.PolicyModel, releasableTo []label.CountryCode) (string, error) {
	rel, ok := model.Releasability()
	if !ok {
		return "", ErrNoReleasabilitySet
	}

	codes := make([]string, 0, len(releasableTo))
	for _, cc := range releasableTo {
		code := string(label.ParseCountryCode(string(cc)))
		// Registered codes take the tag set's canonical casing; codes
		// outside the set render as given rather than being dropped.
		if tag, found := rel.Tag(code); found {
			code = tag.Code
		}
		codes = append(codes, code)
	}
	return rel.Qualifier.Prefix + strings.Join(codes, rel.Qualifier.Separator), nil
}

// Generator binds marking generation to a policy loader.
type Generator struct {
	loader *spif.Loader
}

// NewGenerator creates a Generator over the given loader.
func NewGenerator(loader *spif.Loader) *Generator {
	return &Generator{loader: loader}
}

// Generate renders a marking against the current policy, loading it on
// first use.
func (g *Generator) Generate(ctx context.Context, classification string, releasableTo []label.CountryCode, opts Options) (*GeneratedMarking, error) {
	model, err := g.loader.Policy(ctx)
	if err != nil {
		return nil, err
	}
	return Render(model, classification, releasableTo, opts)
}

// FromLabel renders the marking a full security label implies.
func (g *Generator) FromLabel(ctx context.Context, l *label.SecurityLabel) (*GeneratedMarking, error) {
	return g.Generate(ctx, l.Classification, l.ReleasableTo, Options{
		Caveats: l.Caveats,
		COI:     l.COI,
	})
}
