package velesql

import "fmt"

// ValidationError reports a semantic error found after a query parses
// successfully: an unknown column, a dimension mismatch on a NEAR
// parameter, a mistyped join predicate, or inconsistent aggregation.
type ValidationError struct {
	Kind string
	Msg  string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("velesql: %s: %s", e.Kind, e.Msg) }

// Schema is the minimal collection introspection the validator needs:
// which columns exist, which are vector-valued and at what
// dimensionality, and the bound parameter's vector dimension (supplied
// by the caller at validate time, since VelesQL has no DDL for
// parameter types).
type Schema struct {
	// Columns maps column name to its declared kind ("scalar" or "vector").
	Columns map[string]string
	// VectorDims maps vector column name to its dimensionality.
	VectorDims map[string]int
	// ParamDims maps bound parameter name to the dimensionality of the
	// vector value supplied for it, when the parameter is vector-typed.
	ParamDims map[string]int
}

func (s *Schema) hasColumn(name string) bool {
	if name == "*" {
		return true
	}
	_, ok := s.Columns[name]
	return ok
}

// Validate checks sel against schema, returning every problem found
// rather than stopping at the first (so a caller can surface all of
// them at once).
func Validate(sel *Select, schema *Schema) []error {
	v := &validator{schema: schema}
	v.walkSelect(sel)
	return v.errs
}

type validator struct {
	schema *Schema
	errs   []error
}

func (v *validator) fail(kind, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

func (v *validator) walkSelect(sel *Select) {
	for _, item := range sel.Columns {
		if item.Star {
			continue
		}
		v.checkExpr(item.Expr)
	}
	for _, j := range sel.Joins {
		if j.On != nil {
			v.checkExpr(j.On)
		}
		for _, col := range j.Using {
			if !v.schema.hasColumn(col) {
				v.fail("JoinTyping", "USING column %q does not exist", col)
			}
		}
	}
	if sel.Where != nil {
		v.checkExpr(sel.Where)
	}
	hasAggregate := false
	for _, item := range sel.Columns {
		if item.Expr != nil && containsAggregate(item.Expr) {
			hasAggregate = true
		}
	}
	if len(sel.GroupBy) > 0 {
		for _, g := range sel.GroupBy {
			v.checkExpr(g)
		}
	} else if hasAggregate {
		for _, item := range sel.Columns {
			if item.Expr != nil && !containsAggregate(item.Expr) {
				if _, ok := item.Expr.(*ColumnRef); ok {
					v.fail("Aggregate", "column %q is not aggregated and not in GROUP BY", describeExpr(item.Expr))
				}
			}
		}
	}
	if sel.Having != nil {
		v.checkExpr(sel.Having)
	}
	for _, o := range sel.OrderBy {
		v.checkExpr(o.Expr)
	}
	if sel.Combined != nil {
		v.walkSelect(sel.Combined)
	}
}

func (v *validator) checkExpr(e Expr) {
	switch n := e.(type) {
	case *ColumnRef:
		if !v.schema.hasColumn(n.Column) {
			v.fail("ColumnExistence", "column %q does not exist", n.Column)
		}
	case *NearExpr:
		v.checkNear(n)
	case *BinaryExpr:
		v.checkExpr(n.Left)
		v.checkExpr(n.Right)
	case *UnaryExpr:
		v.checkExpr(n.Operand)
	case *LikeExpr:
		v.checkExpr(n.Target)
		v.checkExpr(n.Pattern)
	case *InExpr:
		v.checkExpr(n.Target)
		for _, item := range n.List {
			v.checkExpr(item)
		}
	case *CallExpr:
		for _, a := range n.Args {
			if col, ok := a.(*ColumnRef); ok && col.Column == "*" {
				continue
			}
			v.checkExpr(a)
		}
	case *Literal, *Param:
		// nothing to check in isolation
	}
}

func (v *validator) checkNear(n *NearExpr) {
	if !v.schema.hasColumn(n.Column.Column) {
		v.fail("ColumnExistence", "NEAR column %q does not exist", n.Column.Column)
		return
	}
	if v.schema.Columns[n.Column.Column] != "vector" {
		v.fail("NearDimension", "column %q is not a vector column", n.Column.Column)
		return
	}
	wantDim, ok := v.schema.VectorDims[n.Column.Column]
	if !ok {
		return
	}
	gotDim, ok := v.schema.ParamDims[n.Param.Name]
	if !ok {
		v.fail("NearDimension", "no bound dimensionality for parameter %q", n.Param.Name)
		return
	}
	if gotDim != wantDim {
		v.fail("NearDimension", "parameter %q has dimension %d, column %q expects %d",
			n.Param.Name, gotDim, n.Column.Column, wantDim)
	}
}

var aggregateNames = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

func containsAggregate(e Expr) bool {
	switch n := e.(type) {
	case *CallExpr:
		if aggregateNames[upper(n.Name)] {
			return true
		}
		for _, a := range n.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case *BinaryExpr:
		return containsAggregate(n.Left) || containsAggregate(n.Right)
	case *UnaryExpr:
		return containsAggregate(n.Operand)
	}
	return false
}

func describeExpr(e Expr) string {
	switch n := e.(type) {
	case *ColumnRef:
		if n.Table != "" {
			return n.Table + "." + n.Column
		}
		return n.Column
	default:
		return "<expr>"
	}
}
