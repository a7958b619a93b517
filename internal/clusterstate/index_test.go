package clusterstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexTracksLatestGeneration(t *testing.T) {
	idx, err := OpenIndex(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	_, found, err := idx.LatestGeneration()
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, idx.RecordGeneration(1, 10))
	require.NoError(t, idx.RecordGeneration(3, 12))
	require.NoError(t, idx.RecordGeneration(2, 11))

	gen, found, err := idx.LatestGeneration()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(3), gen)

	gens, err := idx.Generations()
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{1, 2, 3}, gens)

	require.NoError(t, idx.Forget(1))
	gens, err = idx.Generations()
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{2, 3}, gens)
}
