// Package velesql implements the embedded query language: a
// lexer, recursive-descent parser, validator, and cost-based physical
// planner for a SQL-like subset extended with vector-NEAR predicates.
package velesql

// JoinKind names a JOIN's outer-ness.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	RightJoin
	FullJoin
)

// SetOpKind names a UNION/INTERSECT/EXCEPT combinator.
type SetOpKind int

const (
	SetOpNone SetOpKind = iota
	SetOpUnion
	SetOpIntersect
	SetOpExcept
)

// Select is the parsed AST for one (possibly combined) SELECT
// statement.
type Select struct {
	Columns   []SelectItem
	From      TableRef
	Joins     []Join
	Where     Expr
	GroupBy   []Expr
	Having    Expr
	OrderBy   []OrderItem
	Limit     *int
	Offset    *int
	With      map[string]any
	SetOp     SetOpKind
	SetOpAll  bool
	Combined  *Select // right-hand side of a UNION/INTERSECT/EXCEPT
}

// SelectItem is one projected column, optionally aliased.
type SelectItem struct {
	Expr  Expr
	Alias string
	Star  bool
}

// TableRef names a FROM source (a collection) with an optional alias.
type TableRef struct {
	Name  string
	Alias string
}

// Join is one JOIN clause.
type Join struct {
	Kind  JoinKind
	Table TableRef
	On    Expr
	Using []string
}

// OrderItem is one ORDER BY term.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Expr is any node of a predicate/projection expression tree.
type Expr interface {
	exprMarker()
}

// ColumnRef references col or alias.col.
type ColumnRef struct {
	Table  string
	Column string
}

func (*ColumnRef) exprMarker() {}

// Literal is a constant value: nil, bool, int64, float64, or string.
type Literal struct {
	Value any
}

func (*Literal) exprMarker() {}

// Param references a $name bind parameter.
type Param struct {
	Name string
}

func (*Param) exprMarker() {}

// BinaryExpr is a two-operand operator: comparisons, AND/OR, arithmetic.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprMarker() {}

// UnaryExpr is a one-operand operator: NOT, unary -.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (*UnaryExpr) exprMarker() {}

// LikeExpr is a LIKE/ILIKE predicate.
type LikeExpr struct {
	Target      Expr
	Pattern     Expr
	CaseFold    bool // true for ILIKE
	Negate      bool
}

func (*LikeExpr) exprMarker() {}

// NearExpr is the vector-similarity predicate extension:
// col NEAR $param [USING metric] [WITHIN radius].
type NearExpr struct {
	Column *ColumnRef
	Param  *Param
	Metric string // "", cosine, euclidean, dot, hamming, jaccard
	Within *float64
}

func (*NearExpr) exprMarker() {}

// CallExpr is a function call, used for aggregates (COUNT, SUM, AVG,
// MIN, MAX) and scalar helpers.
type CallExpr struct {
	Name string
	Args []Expr
}

func (*CallExpr) exprMarker() {}

// InExpr is `expr IN (a, b, c)`.
type InExpr struct {
	Target Expr
	List   []Expr
	Negate bool
}

func (*InExpr) exprMarker() {}
