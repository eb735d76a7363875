package feed

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.db")

	j, err := OpenJournal(path)
	require.NoError(t, err)

	_, found, err := j.LastOffset("g1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, j.SetOffset("g1", 42))
	offset, found, err := j.LastOffset("g1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 42, offset)

	// Offsets only ever advance; a replayed smaller offset is ignored.
	require.NoError(t, j.SetOffset("g1", 7))
	offset, _, err = j.LastOffset("g1")
	require.NoError(t, err)
	assert.EqualValues(t, 42, offset)

	require.NoError(t, j.SetOffset("g1", 43))
	offset, _, err = j.LastOffset("g1")
	require.NoError(t, err)
	assert.EqualValues(t, 43, offset)

	// Groups are independent.
	require.NoError(t, j.SetOffset("g2", 5))
	offset, found, err = j.LastOffset("g2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 5, offset)

	require.NoError(t, j.Close())

	// Offsets survive reopen.
	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()
	offset, found, err = j.LastOffset("g1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 43, offset)
}
