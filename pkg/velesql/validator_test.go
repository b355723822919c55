package velesql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docsSchema() *Schema {
	return &Schema{
		Columns: map[string]string{
			"id": "scalar", "price": "scalar", "category": "scalar", "vector": "vector",
		},
		VectorDims: map[string]int{"vector": 128},
		ParamDims:  map[string]int{"q": 128, "wrong": 64},
	}
}

func TestValidateAcceptsWellFormedQuery(t *testing.T) {
	sel := parse(t, "SELECT id FROM docs WHERE vector NEAR $q AND price < 100 LIMIT 5")
	errs := Validate(sel, docsSchema())
	assert.Empty(t, errs)
}

func TestValidateRejectsUnknownColumn(t *testing.T) {
	sel := parse(t, "SELECT nope FROM docs")
	errs := Validate(sel, docsSchema())
	require.Len(t, errs, 1)
	var ve *ValidationError
	require.ErrorAs(t, errs[0], &ve)
	assert.Equal(t, "ColumnExistence", ve.Kind)
}

func TestValidateRejectsDimensionMismatch(t *testing.T) {
	sel := parse(t, "SELECT id FROM docs WHERE vector NEAR $wrong")
	errs := Validate(sel, docsSchema())
	require.Len(t, errs, 1)
	var ve *ValidationError
	require.ErrorAs(t, errs[0], &ve)
	assert.Equal(t, "NearDimension", ve.Kind)
}

func TestValidateRejectsNearOnScalarColumn(t *testing.T) {
	sel := parse(t, "SELECT id FROM docs WHERE price NEAR $q")
	errs := Validate(sel, docsSchema())
	require.NotEmpty(t, errs)
}

func TestValidateRejectsUngroupedColumn(t *testing.T) {
	sel := parse(t, "SELECT category, COUNT(*) FROM docs")
	errs := Validate(sel, docsSchema())
	require.NotEmpty(t, errs)
}

func TestValidateAcceptsGroupedColumn(t *testing.T) {
	sel := parse(t, "SELECT category, COUNT(*) FROM docs GROUP BY category")
	errs := Validate(sel, docsSchema())
	assert.Empty(t, errs)
}

func TestValidateRejectsUnknownUsingColumn(t *testing.T) {
	sel := parse(t, "SELECT id FROM docs JOIN tags USING (ghost)")
	errs := Validate(sel, docsSchema())
	require.NotEmpty(t, errs)
}

func TestValidateReportsAllErrorsNotJustFirst(t *testing.T) {
	sel := parse(t, "SELECT ghost1, ghost2 FROM docs")
	errs := Validate(sel, docsSchema())
	assert.Len(t, errs, 2)
}
