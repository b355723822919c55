package velesql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSimpleScanFilterProject(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 1000}}, 16)
	sel := parse(t, "SELECT id FROM docs WHERE price < 100")
	op, err := pl.Plan(sel)
	require.NoError(t, err)
	assert.Equal(t, OpProject, op.Kind)
	require.Len(t, op.Children, 1)
	assert.Equal(t, OpFilter, op.Children[0].Kind)
}

func TestPlanNearTopKWithPostFilter(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 10000}}, 16)
	sel := parse(t, "SELECT id FROM docs WHERE vector NEAR $q AND price < 100 LIMIT 5")
	op, err := pl.Plan(sel)
	require.NoError(t, err)
	// walk down through Limit -> Project -> Filter -> NearTopK
	assert.Equal(t, OpLimit, op.Kind)
	proj := op.Children[0]
	assert.Equal(t, OpProject, proj.Kind)
	filter := proj.Children[0]
	assert.Equal(t, OpFilter, filter.Kind)
	near := filter.Children[0]
	assert.Equal(t, OpNearTopK, near.Kind)
}

func TestPlanLimitBoundsEstimatedRows(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 1000}}, 16)
	sel := parse(t, "SELECT id FROM docs LIMIT 5")
	op, err := pl.Plan(sel)
	require.NoError(t, err)
	assert.Equal(t, OpLimit, op.Kind)
	assert.Equal(t, 5, op.EstimatedRows)
}

func TestPlanJoinOrdersSmallestOutputFirst(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 10000}, "tags": {Rows: 10}}, 16)
	sel := parse(t, "SELECT id FROM docs JOIN tags ON docs.id = tags.doc_id")
	op, err := pl.Plan(sel)
	require.NoError(t, err)
	proj := op
	join := proj.Children[0]
	require.Equal(t, OpJoin, join.Kind)
	assert.Equal(t, "tags", join.Children[0].Table)
	assert.Equal(t, NestedLoopJoin, join.JoinStrategy)
}

func TestPlanJoinUsesHashJoinForLargeBuildSide(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 10000}, "tags": {Rows: 5000}}, 16)
	sel := parse(t, "SELECT id FROM docs JOIN tags ON docs.id = tags.doc_id")
	op, err := pl.Plan(sel)
	require.NoError(t, err)
	join := op.Children[0]
	assert.Equal(t, HashJoin, join.JoinStrategy)
}

func TestSelectivityHeuristics(t *testing.T) {
	eq := &BinaryExpr{Op: "=", Left: &ColumnRef{Column: "a"}, Right: &Literal{Value: int64(1)}}
	assert.InDelta(t, 0.1, selectivity(eq, 1000, 0), 1e-9)

	rng := &BinaryExpr{Op: "<", Left: &ColumnRef{Column: "a"}, Right: &Literal{Value: int64(1)}}
	assert.InDelta(t, 0.3, selectivity(rng, 1000, 0), 1e-9)

	likeLiteral := &LikeExpr{Target: &ColumnRef{Column: "a"}, Pattern: &Literal{Value: "foo%"}}
	assert.InDelta(t, 0.2, selectivity(likeLiteral, 1000, 0), 1e-9)

	likeWildcard := &LikeExpr{Target: &ColumnRef{Column: "a"}, Pattern: &Literal{Value: "%foo"}}
	assert.InDelta(t, 0.9, selectivity(likeWildcard, 1000, 0), 1e-9)

	near := &NearExpr{Column: &ColumnRef{Column: "vector"}, Param: &Param{Name: "q"}}
	assert.InDelta(t, 0.01, selectivity(near, 1000, 10), 1e-9)
}

func TestPreFilterChosenForHighlySelectiveRemainder(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 10000}}, 16)
	sel := parse(t, "SELECT id FROM docs WHERE vector NEAR $q AND category = 'rare' LIMIT 5")
	op, err := pl.Plan(sel)
	require.NoError(t, err)
	near := op.Children[0].Children[0].Children[0]
	require.Equal(t, OpNearTopK, near.Kind)
	assert.True(t, near.PreFilter)
}

func TestPlanCacheHitsOnCanonicalQuery(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 1000}}, 16)
	schema := docsSchema()
	op1, err := pl.Prepare("SELECT id FROM docs WHERE price < 100", schema)
	require.NoError(t, err)
	op2, err := pl.Prepare("SELECT   id   FROM docs WHERE price < 100", schema)
	require.NoError(t, err)
	assert.Same(t, op1, op2)
	assert.Equal(t, 1, pl.cache.Len())
}

func TestPrepareRejectsInvalidQuery(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 1000}}, 16)
	_, err := pl.Prepare("SELECT ghost FROM docs", docsSchema())
	assert.Error(t, err)
}

func TestExplainRendersTree(t *testing.T) {
	pl := NewPlanner(map[string]Stats{"docs": {Rows: 1000}}, 16)
	sel := parse(t, "SELECT id FROM docs WHERE price < 100")
	op, err := pl.Plan(sel)
	require.NoError(t, err)
	out := Explain(op)
	assert.Contains(t, out, "Project")
	assert.Contains(t, out, "Filter")
	assert.Contains(t, out, "Scan")
}

func TestCanonicalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "SELECT id FROM docs", Canonicalize("SELECT   id\nFROM   docs"))
}
