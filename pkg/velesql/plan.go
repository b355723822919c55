package velesql

import (
	"fmt"
	"sort"
	"strings"
)

// OpKind names a logical/physical plan operator.
type OpKind int

const (
	OpScan OpKind = iota
	OpFilter
	OpProject
	OpNearTopK
	OpJoin
	OpGroupAgg
	OpSort
	OpLimit
	OpSetOp
)

func (k OpKind) String() string {
	switch k {
	case OpScan:
		return "Scan"
	case OpFilter:
		return "Filter"
	case OpProject:
		return "Project"
	case OpNearTopK:
		return "NearTopK"
	case OpJoin:
		return "Join"
	case OpGroupAgg:
		return "GroupAgg"
	case OpSort:
		return "Sort"
	case OpLimit:
		return "Limit"
	case OpSetOp:
		return "SetOp"
	}
	return "Unknown"
}

// JoinStrategy is the physical algorithm chosen for a Join op.
type JoinStrategy int

const (
	NestedLoopJoin JoinStrategy = iota
	HashJoin
)

// Stats describes what the planner knows (or estimates) about a
// table's cardinality, used to turn selectivity heuristics into row
// and cost estimates.
type Stats struct {
	// Rows is the table's total row count.
	Rows int
}

// Op is one node of a physical plan tree.
type Op struct {
	Kind OpKind

	// Scan
	Table string

	// Filter / Having
	Predicate Expr

	// Project
	Columns []SelectItem

	// NearTopK
	Near       *NearExpr
	K          int
	PreFilter  bool // true: predicate judged selective, no Oversample set; false: Oversample set for the post-filter
	Oversample int

	// Join
	JoinKind     JoinKind
	JoinOn       Expr
	JoinStrategy JoinStrategy

	// GroupAgg
	GroupBy []Expr
	Having  Expr

	// Sort
	OrderBy []OrderItem

	// Limit
	Limit  int
	Offset int

	// SetOp
	SetOp    SetOpKind
	SetOpAll bool

	Children []*Op

	EstimatedRows int
	EstimatedCost float64
}

// costWeights are the per-operator cost coefficients: base I/O cost
// per estimated row, and cpu cost per row scaled by a row "width".
const (
	ioCostPerRow  = 1.0
	cpuCostPerRow = 0.1
	defaultWidth  = 1.0
)

func opCost(estimatedRows int, width float64) float64 {
	rows := float64(estimatedRows)
	return ioCostPerRow*rows + cpuCostPerRow*rows*width
}

// selectivity estimates the fraction of rows a predicate passes,
// using the heuristics named by the cost model: equality, range,
// LIKE with a leading literal vs. a leading wildcard, and NEAR (whose
// selectivity is k/total).
func selectivity(e Expr, totalRows, nearK int) float64 {
	switch n := e.(type) {
	case *BinaryExpr:
		switch n.Op {
		case "=":
			return 0.1
		case "<", "<=", ">", ">=":
			return 0.3
		case "AND":
			return selectivity(n.Left, totalRows, nearK) * selectivity(n.Right, totalRows, nearK)
		case "OR":
			a := selectivity(n.Left, totalRows, nearK)
			b := selectivity(n.Right, totalRows, nearK)
			return a + b - a*b
		}
	case *LikeExpr:
		if pat, ok := n.Pattern.(*Literal); ok {
			if s, ok := pat.Value.(string); ok && len(s) > 0 && !strings.HasPrefix(s, "%") && !strings.HasPrefix(s, "_") {
				return 0.2
			}
		}
		return 0.9
	case *NearExpr:
		if totalRows <= 0 {
			return 1.0
		}
		return float64(nearK) / float64(totalRows)
	case *UnaryExpr:
		if n.Op == "NOT" {
			return 1.0 - selectivity(n.Operand, totalRows, nearK)
		}
	}
	return 0.5
}

// Planner turns a validated AST into a cost-estimated physical plan,
// caching plans by their canonical query string so repeated queries
// skip re-planning (and re-parsing, for callers that route through
// Prepare).
type Planner struct {
	tableStats map[string]Stats
	cache      *PlanCache
}

// NewPlanner builds a planner over the given per-table row-count
// statistics, with an LRU plan cache of the given capacity.
func NewPlanner(tableStats map[string]Stats, cacheCapacity int) *Planner {
	return &Planner{tableStats: tableStats, cache: NewPlanCache(cacheCapacity)}
}

// Prepare lexes, parses, validates against schema, plans, and caches
// a query in one call, returning the cached plan on a canonical-text
// hit.
func (pl *Planner) Prepare(query string, schema *Schema) (*Op, error) {
	canon := Canonicalize(query)
	if plan, ok := pl.cache.Get(canon); ok {
		return plan, nil
	}
	p, err := NewParser(query)
	if err != nil {
		return nil, err
	}
	sel, err := p.ParseSelect()
	if err != nil {
		return nil, err
	}
	if errs := Validate(sel, schema); len(errs) > 0 {
		return nil, errs[0]
	}
	plan, err := pl.Plan(sel)
	if err != nil {
		return nil, err
	}
	pl.cache.Put(canon, plan)
	return plan, nil
}

// Plan builds a cost-estimated physical plan for sel without touching
// the cache.
func (pl *Planner) Plan(sel *Select) (*Op, error) {
	rows := pl.rowsFor(sel.From.Name)

	root := &Op{Kind: OpScan, Table: sel.From.Name, EstimatedRows: rows}
	root.EstimatedCost = opCost(rows, defaultWidth)

	for _, j := range sel.Joins {
		rightRows := pl.rowsFor(j.Table.Name)
		root = pl.planJoin(root, j, rightRows)
	}

	if sel.Where != nil {
		near, rest := extractNear(sel.Where)
		if near != nil {
			root = pl.planNear(root, near, rest)
		} else {
			filtered := int(float64(root.EstimatedRows) * selectivity(sel.Where, root.EstimatedRows, 0))
			root = &Op{
				Kind:          OpFilter,
				Predicate:     sel.Where,
				Children:      []*Op{root},
				EstimatedRows: maxInt(filtered, 1),
			}
			root.EstimatedCost = root.Children[0].EstimatedCost + opCost(root.EstimatedRows, defaultWidth)
		}
	}

	if len(sel.GroupBy) > 0 {
		groupRows := maxInt(root.EstimatedRows/4, 1)
		root = &Op{
			Kind:          OpGroupAgg,
			GroupBy:       sel.GroupBy,
			Having:        sel.Having,
			Children:      []*Op{root},
			EstimatedRows: groupRows,
		}
		root.EstimatedCost = root.Children[0].EstimatedCost + opCost(groupRows, defaultWidth*2)
	}

	if len(sel.OrderBy) > 0 {
		root = &Op{
			Kind:          OpSort,
			OrderBy:       sel.OrderBy,
			Children:      []*Op{root},
			EstimatedRows: root.EstimatedRows,
		}
		n := float64(root.EstimatedRows)
		logN := 1.0
		for t := n; t > 1; t /= 2 {
			logN++
		}
		root.EstimatedCost = root.Children[0].EstimatedCost + cpuCostPerRow*n*logN
	}

	root = &Op{
		Kind:          OpProject,
		Columns:       sel.Columns,
		Children:      []*Op{root},
		EstimatedRows: root.EstimatedRows,
	}
	root.EstimatedCost = root.Children[0].EstimatedCost + opCost(root.EstimatedRows, defaultWidth)
	proj := root

	if sel.Limit != nil {
		lim := *sel.Limit
		off := 0
		if sel.Offset != nil {
			off = *sel.Offset
		}
		rows := minInt(proj.EstimatedRows, lim+off)
		root = &Op{
			Kind:          OpLimit,
			Limit:         lim,
			Offset:        off,
			Children:      []*Op{proj},
			EstimatedRows: rows,
			EstimatedCost: proj.EstimatedCost,
		}
	}

	if sel.SetOp != SetOpNone && sel.Combined != nil {
		rightPlan, err := pl.Plan(sel.Combined)
		if err != nil {
			return nil, err
		}
		combined := root.EstimatedRows + rightPlan.EstimatedRows
		root = &Op{
			Kind:          OpSetOp,
			SetOp:         sel.SetOp,
			SetOpAll:      sel.SetOpAll,
			Children:      []*Op{root, rightPlan},
			EstimatedRows: combined,
			EstimatedCost: root.EstimatedCost + rightPlan.EstimatedCost,
		}
	}

	return root, nil
}

func (pl *Planner) rowsFor(table string) int {
	if s, ok := pl.tableStats[table]; ok && s.Rows > 0 {
		return s.Rows
	}
	return 1000
}

// planJoin chooses nested-loop for a small build side and hash-join
// otherwise, and orders operands smallest-output-first (the left
// child carries forward the running plan, so a smaller right side is
// always preferred as the probe/build input).
func (pl *Planner) planJoin(left *Op, j Join, rightRows int) *Op {
	strategy := HashJoin
	if rightRows < 128 {
		strategy = NestedLoopJoin
	}
	right := &Op{Kind: OpScan, Table: j.Table.Name, EstimatedRows: rightRows}
	right.EstimatedCost = opCost(rightRows, defaultWidth)

	// smallest-output-first: put the smaller side on the left so the
	// join's working set stays bounded by the build side.
	children := []*Op{left, right}
	if rightRows < left.EstimatedRows {
		children = []*Op{right, left}
	}

	estRows := maxInt(left.EstimatedRows, rightRows)
	op := &Op{
		Kind:         OpJoin,
		JoinKind:     j.Kind,
		JoinOn:       j.On,
		JoinStrategy: strategy,
		Children:     children,
		EstimatedRows: estRows,
	}
	op.EstimatedCost = left.EstimatedCost + right.EstimatedCost + opCost(estRows, defaultWidth*2)
	return op
}

// extractNear pulls a single top-level NEAR predicate (optionally
// ANDed with other predicates) out of a WHERE clause, returning the
// NEAR node and the remaining predicate (nil if nothing remains).
func extractNear(e Expr) (*NearExpr, Expr) {
	switch n := e.(type) {
	case *NearExpr:
		return n, nil
	case *BinaryExpr:
		if n.Op == "AND" {
			if near, ok := n.Left.(*NearExpr); ok {
				return near, n.Right
			}
			if near, ok := n.Right.(*NearExpr); ok {
				return near, n.Left
			}
		}
	}
	return nil, e
}

// planNear builds a NearTopK op, choosing pre-filter vs. post-filter
// for the remaining predicate by its selectivity estimate: below 0.2
// the op is marked PreFilter; otherwise Oversample is set to about
// 1/selectivity. Either way the predicate stays in a Filter op above
// the NearTopK and is evaluated on the ANN results; no bitmap is built.
func (pl *Planner) planNear(child *Op, near *NearExpr, rest Expr) *Op {
	const defaultK = 10
	k := defaultK
	op := &Op{
		Kind:          OpNearTopK,
		Near:          near,
		K:             k,
		Children:      []*Op{child},
		EstimatedRows: k,
	}
	if rest != nil {
		sel := selectivity(rest, child.EstimatedRows, k)
		op.PreFilter = sel < 0.2
		if !op.PreFilter {
			op.Oversample = maxInt(int(1.0/maxFloat(sel, 0.01)), 1)
		}
		op = &Op{
			Kind:          OpFilter,
			Predicate:     rest,
			Children:      []*Op{op},
			EstimatedRows: maxInt(int(float64(k)*sel), 1),
		}
	}
	op.EstimatedCost = child.EstimatedCost + opCost(op.EstimatedRows, defaultWidth)
	return op
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Canonicalize normalizes a query string for plan-cache keying:
// collapsed whitespace, uppercased keywords are left as written by the
// caller (VelesQL keywords are already case-insensitive at the lexer
// level), trimmed of surrounding space.
func Canonicalize(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}

// Explain renders a plan tree as an indented, human-readable string
// for debugging and the cmd/velesdb "explain" surface.
func Explain(op *Op) string {
	var b strings.Builder
	explainNode(&b, op, 0)
	return b.String()
}

func explainNode(b *strings.Builder, op *Op, depth int) {
	fmt.Fprintf(b, "%s%s rows=%d cost=%.2f\n", strings.Repeat("  ", depth), op.Kind, op.EstimatedRows, op.EstimatedCost)
	for _, child := range op.Children {
		explainNode(b, child, depth+1)
	}
}

// sortOpsByEstimatedRows is a small helper for callers that want to
// inspect a set of candidate scans in smallest-first order.
func sortOpsByEstimatedRows(ops []*Op) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].EstimatedRows < ops[j].EstimatedRows })
}
