package collection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/velesdb/velesdb/pkg/velesql"
)

// execRow is one row flowing through the plan executor: a point id
// (zero for synthetic aggregation rows), an optional ANN score, and a
// payload-shaped value bag.
type execRow struct {
	ID      int64
	Score   float32
	Payload map[string]any
}

// Query runs a VelesQL statement against this collection: parse,
// plan, execute. A collection is a single table, so queries with
// JOIN or a UNION/INTERSECT/EXCEPT combinator are rejected — those
// require a multi-table engine this embedded planner does not have.
// Bind parameters referenced by `$name` (including NEAR's vector
// parameter) are supplied in params.
func (c *Collection) Query(queryText string, params map[string]any) ([]Result, error) {
	p, err := velesql.NewParser(queryText)
	if err != nil {
		return nil, fmt.Errorf("collection: query: %w", err)
	}
	sel, err := p.ParseSelect()
	if err != nil {
		return nil, fmt.Errorf("collection: query: %w", err)
	}
	if len(sel.Joins) > 0 {
		return nil, fmt.Errorf("collection: query: joins are not supported against a single collection")
	}
	if sel.SetOp != velesql.SetOpNone {
		return nil, fmt.Errorf("collection: query: set operations are not supported against a single collection")
	}
	if err := checkNearParams(sel.Where, params, c.opts.Dim); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	planner := velesql.NewPlanner(map[string]velesql.Stats{sel.From.Name: {Rows: c.exists.Len()}}, 1)
	op, err := planner.Plan(sel)
	if err != nil {
		return nil, fmt.Errorf("collection: query: %w", err)
	}

	rows, err := c.execOp(op, sel, params)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(rows))
	for i, r := range rows {
		results[i] = Result{ID: r.ID, Score: r.Score, Payload: r.Payload}
	}
	return results, nil
}

func (c *Collection) execOp(op *velesql.Op, sel *velesql.Select, params map[string]any) ([]execRow, error) {
	switch op.Kind {
	case velesql.OpScan:
		ids := c.exists.ToSlice()
		rows := make([]execRow, 0, len(ids))
		for _, id := range ids {
			payload, err := c.getLocked(id)
			if err != nil {
				continue
			}
			rows = append(rows, execRow{ID: id, Payload: payload})
		}
		return rows, nil

	case velesql.OpFilter:
		child, err := c.execOp(op.Children[0], sel, params)
		if err != nil {
			return nil, err
		}
		f, err := exprToFilter(op.Predicate, params)
		if err != nil {
			return nil, err
		}
		out := make([]execRow, 0, len(child))
		for _, r := range child {
			if f.Match(r.Payload) {
				out = append(out, r)
			}
		}
		return out, nil

	case velesql.OpNearTopK:
		vec, err := nearVector(op.Near, params, c.opts.Dim)
		if err != nil {
			return nil, err
		}
		oversample := op.Oversample
		if oversample <= 0 {
			oversample = 1
		}
		results, err := c.searchLocked(vec, SearchOptions{K: op.K * oversample})
		if err != nil {
			return nil, err
		}
		rows := make([]execRow, len(results))
		for i, r := range results {
			rows[i] = execRow{ID: r.ID, Score: r.Score, Payload: r.Payload}
		}
		return rows, nil

	case velesql.OpGroupAgg:
		child, err := c.execOp(op.Children[0], sel, params)
		if err != nil {
			return nil, err
		}
		return execGroupAgg(op, sel, child, params)

	case velesql.OpSort:
		child, err := c.execOp(op.Children[0], sel, params)
		if err != nil {
			return nil, err
		}
		sortRows(child, op.OrderBy)
		return child, nil

	case velesql.OpProject:
		child, err := c.execOp(op.Children[0], sel, params)
		if err != nil {
			return nil, err
		}
		return projectRows(child, op.Columns), nil

	case velesql.OpLimit:
		child, err := c.execOp(op.Children[0], sel, params)
		if err != nil {
			return nil, err
		}
		lo := op.Offset
		if lo < 0 {
			lo = 0
		}
		if lo > len(child) {
			return nil, nil
		}
		hi := len(child)
		if op.Limit > 0 && lo+op.Limit < hi {
			hi = lo + op.Limit
		}
		return child[lo:hi], nil

	case velesql.OpJoin, velesql.OpSetOp:
		return nil, fmt.Errorf("collection: query: %s is not supported against a single collection", op.Kind)
	}
	return nil, fmt.Errorf("collection: query: unsupported plan operator %s", op.Kind)
}

// checkNearParams walks a WHERE clause for NEAR predicates and
// confirms each one's bound vector parameter is present and matches
// the collection's dimension, since the planner's own validator
// operates against a caller-supplied schema this single-table
// executor doesn't require callers to build.
func checkNearParams(e velesql.Expr, params map[string]any, dim int) error {
	for _, near := range collectNear(e) {
		vec, err := nearVector(near, params, dim)
		if err != nil {
			return err
		}
		_ = vec
	}
	return nil
}

func collectNear(e velesql.Expr) []*velesql.NearExpr {
	switch n := e.(type) {
	case nil:
		return nil
	case *velesql.NearExpr:
		return []*velesql.NearExpr{n}
	case *velesql.BinaryExpr:
		return append(collectNear(n.Left), collectNear(n.Right)...)
	case *velesql.UnaryExpr:
		return collectNear(n.Operand)
	}
	return nil
}

func nearVector(near *velesql.NearExpr, params map[string]any, dim int) ([]float32, error) {
	if near == nil || near.Param == nil {
		return nil, fmt.Errorf("collection: query: malformed NEAR predicate")
	}
	raw, ok := params[near.Param.Name]
	if !ok {
		return nil, fmt.Errorf("collection: query: missing bind parameter $%s", near.Param.Name)
	}
	var vec []float32
	switch v := raw.(type) {
	case []float32:
		vec = v
	case []float64:
		vec = make([]float32, len(v))
		for i, f := range v {
			vec[i] = float32(f)
		}
	default:
		return nil, fmt.Errorf("collection: query: bind parameter $%s is not a vector", near.Param.Name)
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("collection: query: bind parameter $%s has dimension %d, collection expects %d", near.Param.Name, len(vec), dim)
	}
	return vec, nil
}

var comparisonFilterOp = map[string]FilterOperator{
	"=":  FilterEQ,
	"!=": FilterNE,
	"<>": FilterNE,
	">":  FilterGT,
	">=": FilterGTE,
	"<":  FilterLT,
	"<=": FilterLTE,
}

// exprToFilter translates a WHERE/HAVING predicate into a payload
// filter tree. The planner lifts a top-level NEAR (alone or as a direct
// operand of a top-level AND) into a NearTopK op, leaving only the
// remainder (if any) behind a Filter op; a NEAR anywhere else reaches
// here and is rejected.
func exprToFilter(e velesql.Expr, params map[string]any) (*Filter, error) {
	switch n := e.(type) {
	case nil:
		return nil, nil
	case *velesql.BinaryExpr:
		switch n.Op {
		case "AND":
			l, err := exprToFilter(n.Left, params)
			if err != nil {
				return nil, err
			}
			r, err := exprToFilter(n.Right, params)
			if err != nil {
				return nil, err
			}
			return And(l, r), nil
		case "OR":
			l, err := exprToFilter(n.Left, params)
			if err != nil {
				return nil, err
			}
			r, err := exprToFilter(n.Right, params)
			if err != nil {
				return nil, err
			}
			return Or(l, r), nil
		default:
			op, ok := comparisonFilterOp[n.Op]
			if !ok {
				return nil, fmt.Errorf("collection: query: unsupported operator %q", n.Op)
			}
			col, ok := n.Left.(*velesql.ColumnRef)
			if !ok {
				return nil, fmt.Errorf("collection: query: comparisons must have a column on the left")
			}
			val, err := literalValue(n.Right, params)
			if err != nil {
				return nil, err
			}
			return NewFilter(op, col.Column, val), nil
		}
	case *velesql.UnaryExpr:
		switch n.Op {
		case "NOT":
			child, err := exprToFilter(n.Operand, params)
			if err != nil {
				return nil, err
			}
			return Not(child), nil
		case "IS NULL", "IS NOT NULL":
			col, ok := n.Operand.(*velesql.ColumnRef)
			if !ok {
				return nil, fmt.Errorf("collection: query: IS NULL requires a column")
			}
			op := FilterISNULL
			if n.Op == "IS NOT NULL" {
				op = FilterISNOTNULL
			}
			return NewFilter(op, col.Column, nil), nil
		}
		return nil, fmt.Errorf("collection: query: unsupported unary operator %q", n.Op)
	case *velesql.LikeExpr:
		col, ok := n.Target.(*velesql.ColumnRef)
		if !ok {
			return nil, fmt.Errorf("collection: query: LIKE requires a column target")
		}
		pat, err := literalValue(n.Pattern, params)
		if err != nil {
			return nil, err
		}
		patStr, _ := pat.(string)
		var f *Filter
		if n.CaseFold {
			f = NewFilter(FilterLIKE, col.Column, strings.ToLower(patStr))
		} else {
			f = NewFilter(FilterLIKE, col.Column, patStr)
		}
		if n.Negate {
			f = Not(f)
		}
		return f, nil
	case *velesql.InExpr:
		col, ok := n.Target.(*velesql.ColumnRef)
		if !ok {
			return nil, fmt.Errorf("collection: query: IN requires a column target")
		}
		values := make([]any, len(n.List))
		for i, item := range n.List {
			v, err := literalValue(item, params)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		f := NewFilter(FilterIN, col.Column, values)
		if n.Negate {
			f = Not(f)
		}
		return f, nil
	case *velesql.NearExpr:
		return nil, fmt.Errorf("collection: query: NEAR must be the sole or ANDed top-level predicate")
	}
	return nil, fmt.Errorf("collection: query: unsupported predicate expression")
}

func literalValue(e velesql.Expr, params map[string]any) (any, error) {
	switch n := e.(type) {
	case *velesql.Literal:
		return n.Value, nil
	case *velesql.Param:
		v, ok := params[n.Name]
		if !ok {
			return nil, fmt.Errorf("collection: query: missing bind parameter $%s", n.Name)
		}
		return v, nil
	}
	return nil, fmt.Errorf("collection: query: expected a literal or bind parameter")
}

func sortRows(rows []execRow, orderBy []velesql.OrderItem) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, item := range orderBy {
			col, ok := item.Expr.(*velesql.ColumnRef)
			if !ok {
				continue
			}
			a := fieldValue(rows[i].Payload, col.Column)
			b := fieldValue(rows[j].Payload, col.Column)
			af, aok := asFloat64(a)
			bf, bok := asFloat64(b)
			var less, greater bool
			if aok && bok {
				less, greater = af < bf, af > bf
			} else {
				as, bs := fmt.Sprint(a), fmt.Sprint(b)
				less, greater = as < bs, as > bs
			}
			if item.Desc {
				less, greater = greater, less
			}
			if less {
				return true
			}
			if greater {
				return false
			}
		}
		return false
	})
}

func fieldValue(payload map[string]any, field string) any {
	if payload == nil {
		return nil
	}
	return payload[field]
}

// projectRows narrows each row's payload to the named columns. A
// star item, or any projected item that is not a plain column
// reference (an aggregate result already shaped by execGroupAgg, for
// instance), leaves rows untouched.
func projectRows(rows []execRow, columns []velesql.SelectItem) []execRow {
	allPlain := true
	for _, item := range columns {
		if item.Star {
			return rows
		}
		if _, ok := item.Expr.(*velesql.ColumnRef); !ok {
			allPlain = false
		}
	}
	if !allPlain {
		return rows
	}
	out := make([]execRow, len(rows))
	for i, r := range rows {
		proj := make(map[string]any, len(columns))
		for _, item := range columns {
			col := item.Expr.(*velesql.ColumnRef)
			key := col.Column
			if item.Alias != "" {
				key = item.Alias
			}
			if v, ok := r.Payload[col.Column]; ok {
				proj[key] = v
			}
		}
		out[i] = execRow{ID: r.ID, Score: r.Score, Payload: proj}
	}
	return out
}

var aggregateCallNames = map[string]AggregationType{
	"COUNT": AggregationCount,
	"SUM":   AggregationSum,
	"AVG":   AggregationAvg,
	"MIN":   AggregationMin,
	"MAX":   AggregationMax,
}

// execGroupAgg reduces rows by the GroupAgg op's GROUP BY columns,
// using the first aggregate function named in the SELECT list (one
// aggregate per query is what this embedded executor supports; a
// richer multi-aggregate projection belongs to a real relational
// engine, not a single-collection facade).
func execGroupAgg(op *velesql.Op, sel *velesql.Select, rows []execRow, params map[string]any) ([]execRow, error) {
	groupBy := make([]string, 0, len(op.GroupBy))
	for _, e := range op.GroupBy {
		col, ok := e.(*velesql.ColumnRef)
		if !ok {
			return nil, fmt.Errorf("collection: query: GROUP BY only supports plain columns")
		}
		groupBy = append(groupBy, col.Column)
	}

	req := AggregationRequest{Type: AggregationCount, GroupBy: groupBy}
	if call := findAggregateCall(sel.Columns); call != nil {
		aggType, ok := aggregateCallNames[strings.ToUpper(call.Name)]
		if !ok {
			return nil, fmt.Errorf("collection: query: unsupported aggregate function %q", call.Name)
		}
		req.Type = aggType
		if len(call.Args) == 1 {
			if col, ok := call.Args[0].(*velesql.ColumnRef); ok {
				req.Field = col.Column
			}
		}
	}
	if op.Having != nil {
		having, err := havingFunc(op.Having, params)
		if err != nil {
			return nil, err
		}
		req.Having = having
	}

	payloads := make([]map[string]any, len(rows))
	for i, r := range rows {
		payloads[i] = r.Payload
	}
	results, err := Aggregate(payloads, req)
	if err != nil {
		return nil, err
	}

	out := make([]execRow, len(results))
	for i, r := range results {
		payload := make(map[string]any, len(r.GroupKeys)+2)
		for k, v := range r.GroupKeys {
			payload[k] = v
		}
		payload["value"] = r.Value
		payload["count"] = r.Count
		out[i] = execRow{Payload: payload}
	}
	return out, nil
}

func findAggregateCall(columns []velesql.SelectItem) *velesql.CallExpr {
	for _, item := range columns {
		if call, ok := item.Expr.(*velesql.CallExpr); ok {
			if _, ok := aggregateCallNames[strings.ToUpper(call.Name)]; ok {
				return call
			}
		}
	}
	return nil
}

// havingFunc builds a HAVING predicate function from a comparison
// between an aggregate call and a literal/bind parameter, the only
// shape this executor's single-aggregate GROUP BY supports.
func havingFunc(e velesql.Expr, params map[string]any) (func(map[string]any, float64, int) bool, error) {
	bin, ok := e.(*velesql.BinaryExpr)
	if !ok {
		return nil, fmt.Errorf("collection: query: unsupported HAVING predicate")
	}
	op, ok := comparisonFilterOp[bin.Op]
	if !ok {
		return nil, fmt.Errorf("collection: query: unsupported HAVING operator %q", bin.Op)
	}
	bound, err := literalValue(bin.Right, params)
	if err != nil {
		return nil, err
	}
	b, ok := asFloat64(bound)
	if !ok {
		return nil, fmt.Errorf("collection: query: HAVING bound must be numeric")
	}
	return func(_ map[string]any, value float64, count int) bool {
		switch op {
		case FilterEQ:
			return value == b
		case FilterNE:
			return value != b
		case FilterGT:
			return value > b
		case FilterGTE:
			return value >= b
		case FilterLT:
			return value < b
		case FilterLTE:
			return value <= b
		}
		return false
	}, nil
}
