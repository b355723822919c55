package payloadlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "payload.log"))
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(1, []byte(`{"name":"alice"}`)))
	got, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"alice"}`, string(got))
}

func TestUpdateOverwritesLatest(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "payload.log"))
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(1, []byte("v1")))
	require.NoError(t, l.Append(1, []byte("v2")))

	got, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
	assert.Equal(t, 1, l.Len())
}

func TestDeleteThenGetNotFound(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "payload.log"))
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(1, []byte("v1")))
	require.NoError(t, l.Delete(1))

	_, err = l.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopenRebuildsIndexFromScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.log")

	l, err := Open(path)
	require.NoError(t, err)
	for i := int64(1); i <= 100; i++ {
		require.NoError(t, l.Append(i, []byte("payload")))
	}
	require.NoError(t, l.Append(1, []byte("updated")))
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 100, reopened.Len())
	got, err := reopened.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "updated", string(got))
}

func TestReopenTruncatesTornTailRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.log")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(1, []byte("complete")))
	require.NoError(t, l.Append(2, []byte("also complete")))
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())

	// Simulate a crash mid-write: append a handful of garbage bytes
	// that look like the start of a record header but never complete.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0xFF, 0xFF, 0x7F, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.Len())
	got, err := reopened.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "complete", string(got))

	// The recovered file must no longer contain the torn tail bytes.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len("complete")+len("also complete")+2*recordHeaderSize+2*4+13))
}

func TestCompactDropsTombstonesAndOldVersions(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "payload.log"))
	require.NoError(t, err)
	defer l.Close()

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, l.Append(i, []byte("v1")))
	}
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, l.Delete(i))
	}
	require.NoError(t, l.Append(6, []byte("v2")))

	require.NoError(t, l.Compact())

	assert.Equal(t, 5, l.Len())
	got, err := l.Get(6)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	for i := int64(1); i <= 5; i++ {
		_, err := l.Get(i)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}
