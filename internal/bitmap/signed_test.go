package bitmap

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/require"
)

func TestMaterialize(t *testing.T) {
	universe := roaring.BitmapOf(1, 2, 3, 4, 5)

	include := Include(roaring.BitmapOf(2, 4))
	require.True(t, include.IsInclude())
	require.Equal(t, []uint32{2, 4}, include.Materialize(universe).ToArray())

	exclude := Exclude(roaring.BitmapOf(2, 4))
	require.True(t, exclude.IsExclude())
	require.Equal(t, []uint32{1, 3, 5}, exclude.Materialize(universe).ToArray())
}

func TestRankStrict(t *testing.T) {
	b := roaring.BitmapOf(10, 20, 30)

	require.Equal(t, 0, RankStrict(b, 10))
	require.Equal(t, 1, RankStrict(b, 11))
	require.Equal(t, 1, RankStrict(b, 20))
	require.Equal(t, 3, RankStrict(b, 31))
}

func TestRemoveSmallestAndTakeFirst(t *testing.T) {
	b := roaring.BitmapOf(1, 2, 3, 4, 5)

	require.Equal(t, []uint32{3, 4, 5}, RemoveSmallest(b, 2).ToArray())
	require.Equal(t, []uint32{1, 2}, TakeFirst(b, 2).ToArray())
	require.Equal(t, []uint32{1, 2, 3, 4, 5}, RemoveSmallest(b, 0).ToArray())
	require.Empty(t, TakeFirst(b, 0).ToArray())
}
