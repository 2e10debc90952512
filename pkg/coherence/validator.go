package coherence

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/arclight-labs/spifmark/pkg/label"
)

// Builtin rule identifiers, stable for audit and API consumers.
const (
	RuleOperatorValid        = "coi-operator-valid"
	RuleRequiredWithOperator = "coi-required-with-operator"
	RuleRegistered           = "coi-registered"
	RuleDuplicates           = "coi-duplicates"
)

// Validator checks label COI coherence: four builtin rules plus any CEL
// rule bundles supplied at construction. Immutable after New; safe for
// concurrent use.
type Validator struct {
	catalog Catalog
	bundles []*RuleBundle
	rules   []compiledRule
}

type compiledRule struct {
	id       string
	name     string
	priority int
	program  cel.Program
}

// Option configures a Validator.
type Option func(*Validator)

// WithBundle adds a CEL rule bundle. Bundles compile at construction;
// a rule that fails screening or compilation rejects the whole validator
// rather than silently dropping the rule.
func WithBundle(bundle *RuleBundle) Option {
	return func(v *Validator) { v.bundles = append(v.bundles, bundle) }
}

// NewValidator builds a validator over the given COI catalog.
func NewValidator(catalog Catalog, opts ...Option) (*Validator, error) {
	v := &Validator{catalog: catalog}
	for _, opt := range opts {
		opt(v)
	}

	env, err := cel.NewEnv(
		cel.Variable("label", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("coherence env: %w", err)
	}

	for _, bundle := range v.bundles {
		for _, rule := range bundle.Rules {
			if !rule.Enabled {
				continue
			}
			forbidden, err := screenExpression(env, rule.Expression)
			if err != nil {
				return nil, fmt.Errorf("rule %q parse: %w", rule.ID, err)
			}
			if len(forbidden) > 0 {
				return nil, fmt.Errorf("rule %q rejected: %s", rule.ID, forbidden[0])
			}

			ast, issues := env.Compile(rule.Expression)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("rule %q compile: %w", rule.ID, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("rule %q program: %w", rule.ID, err)
			}
			v.rules = append(v.rules, compiledRule{
				id:       rule.ID,
				name:     rule.Name,
				priority: rule.Priority,
				program:  prg,
			})
		}
	}

	// Highest priority first, then id, so violation order is stable.
	sort.Slice(v.rules, func(i, j int) bool {
		if v.rules[i].priority != v.rules[j].priority {
			return v.rules[i].priority > v.rules[j].priority
		}
		return v.rules[i].id < v.rules[j].id
	})

	return v, nil
}

// Validate runs every rule against the label and accumulates violations.
// The verdict is Valid only when no rule fired.
func (v *Validator) Validate(ctx context.Context, l *label.SecurityLabel) *Verdict {
	verdict := &Verdict{Valid: true}
	if l == nil {
		verdict.add("label", "label", "no label supplied")
		return verdict
	}

	v.checkOperator(verdict, l)
	v.checkDuplicates(verdict, l)
	v.checkRegistered(ctx, verdict, l)
	v.runRules(verdict, l)

	return verdict
}

func (v *Validator) checkOperator(verdict *Verdict, l *label.SecurityLabel) {
	if l.COIOperator != "" && !l.COIOperator.Valid() {
		verdict.add(RuleOperatorValid, "coi_operator",
			fmt.Sprintf("operator %q is not ALL or ANY", l.COIOperator))
	}
	if l.COIOperator != "" && len(l.COI) == 0 {
		verdict.add(RuleRequiredWithOperator, "coi",
			fmt.Sprintf("operator %q set on a label with no COI", l.COIOperator))
	}
}

func (v *Validator) checkDuplicates(verdict *Verdict, l *label.SecurityLabel) {
	seen := make(map[label.COIID]bool, len(l.COI))
	reported := make(map[label.COIID]bool)
	for _, id := range l.COI {
		if seen[id] && !reported[id] {
			verdict.add(RuleDuplicates, "coi", fmt.Sprintf("COI %q listed more than once", id))
			reported[id] = true
		}
		seen[id] = true
	}
}

func (v *Validator) checkRegistered(ctx context.Context, verdict *Verdict, l *label.SecurityLabel) {
	if v.catalog == nil {
		return
	}
	for _, id := range l.COI {
		ok, err := v.catalog.Registered(ctx, id)
		if err != nil {
			verdict.add(RuleRegistered, "coi",
				fmt.Sprintf("COI %q could not be verified: %v", id, err))
			continue
		}
		if !ok {
			verdict.add(RuleRegistered, "coi", fmt.Sprintf("COI %q is not registered", id))
		}
	}
}

func (v *Validator) runRules(verdict *Verdict, l *label.SecurityLabel) {
	if len(v.rules) == 0 {
		return
	}
	input := labelInput(l)
	for _, rule := range v.rules {
		val, _, err := rule.program.Eval(input)
		if err != nil {
			verdict.add(rule.id, "label", fmt.Sprintf("rule evaluation failed: %v", err))
			continue
		}
		pass, ok := val.Value().(bool)
		if !ok {
			verdict.add(rule.id, "label", "rule did not evaluate to a boolean")
			continue
		}
		if !pass {
			msg := rule.name
			if msg == "" {
				msg = "rule " + rule.id + " failed"
			}
			verdict.add(rule.id, "label", msg)
		}
	}
}

// labelInput flattens the label into the CEL evaluation scope. The
// operator is the effective one (defaulted to ALL), matching what the
// authorization layer will enforce.
func labelInput(l *label.SecurityLabel) map[string]any {
	coi := make([]string, len(l.COI))
	for i, id := range l.COI {
		coi[i] = string(id)
	}
	releasable := make([]string, len(l.ReleasableTo))
	for i, cc := range l.ReleasableTo {
		releasable[i] = string(cc)
	}
	caveats := make([]string, len(l.Caveats))
	for i, c := range l.Caveats {
		caveats[i] = string(c)
	}
	return map[string]any{
		"label": map[string]any{
			"classification": l.Classification,
			"releasable_to":  releasable,
			"coi":            coi,
			"coi_operator":   string(l.Operator()),
			"caveats":        caveats,
		},
	}
}
