package coherence

import (
	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// screenExpression parses a rule expression and walks its AST for
// constructs that make label validation non-reproducible: now() (verdicts
// must not depend on wall clock), float literals (no tolerant numeric
// comparison in a classification check), and map iteration via
// keys()/values() (order is unspecified).
func screenExpression(env *cel.Env, source string) ([]string, error) {
	parsed, issues := env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	var found []string
	expr := parsed.Expr() //nolint:staticcheck // Deprecated but no alternative for AST traversal yet
	walkExpr(expr, &found)
	return found, nil
}

func walkExpr(e *exprpb.Expr, found *[]string) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, isDouble := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); isDouble {
			*found = append(*found, "floating point literals are forbidden")
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*found = append(*found, "now() is forbidden")
		case "keys", "values":
			*found = append(*found, "map iteration (keys/values) is forbidden")
		}
		if call.Target != nil {
			walkExpr(call.Target, found)
		}
		for _, arg := range call.Args {
			walkExpr(arg, found)
		}

	case *exprpb.Expr_SelectExpr:
		walkExpr(k.SelectExpr.Operand, found)

	case *exprpb.Expr_IdentExpr:
		// No children.

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			walkExpr(el, found)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				walkExpr(entry.GetMapKey(), found)
			}
			walkExpr(entry.Value, found)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		walkExpr(comp.IterRange, found)
		walkExpr(comp.AccuInit, found)
		walkExpr(comp.LoopCondition, found)
		walkExpr(comp.LoopStep, found)
		walkExpr(comp.Result, found)
	}
}
