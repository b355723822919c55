package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velesdb/velesdb/pkg/collection"
)

func TestCreateAndReopenCollection(t *testing.T) {
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	opts := collection.DefaultOptions(4)
	c, err := db.Create("docs", opts)
	require.NoError(t, err)
	require.NoError(t, c.Upsert(collection.Point{ID: 1, Vector: []float32{1, 0, 0, 0}}))
	require.NoError(t, db.Close("docs"))

	reopened, err := db.Open("docs", collection.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	require.NoError(t, db.Close("docs"))
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = db.Create("docs", collection.DefaultOptions(4))
	require.NoError(t, err)
	_, err = db.Create("docs", collection.DefaultOptions(4))
	assert.Error(t, err)
}

func TestOpenUnknownCollectionErrors(t *testing.T) {
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = db.Open("ghost", collection.Options{})
	assert.Error(t, err)
}

func TestListReturnsCollectionNames(t *testing.T) {
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = db.Create("a", collection.DefaultOptions(4))
	require.NoError(t, err)
	_, err = db.Create("b", collection.DefaultOptions(4))
	require.NoError(t, err)

	names, err := db.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestSecondOpenOfSameCollectionReturnsSameHandle(t *testing.T) {
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	c1, err := db.Create("docs", collection.DefaultOptions(4))
	require.NoError(t, err)
	c2, err := db.Open("docs", collection.Options{})
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestDropRemovesCollectionDirectory(t *testing.T) {
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = db.Create("docs", collection.DefaultOptions(4))
	require.NoError(t, err)
	require.NoError(t, db.Drop("docs"))

	names, err := db.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCloseAllClosesEveryOpenCollection(t *testing.T) {
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = db.Create("a", collection.DefaultOptions(4))
	require.NoError(t, err)
	_, err = db.Create("b", collection.DefaultOptions(4))
	require.NoError(t, err)
	require.NoError(t, db.CloseAll())
}
