package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntersectSorted(t *testing.T) {
	require.Equal(t, []uint32{2, 4}, intersectSorted([]uint32{1, 2, 3, 4}, []uint32{2, 4, 6}))
	require.Equal(t, []uint32{}, intersectSorted([]uint32{1, 2}, []uint32{3, 4}))
}

func TestUnionSorted(t *testing.T) {
	require.Equal(t, []uint32{1, 2, 3, 4, 6}, unionSorted([]uint32{1, 2, 3, 4}, []uint32{2, 4, 6}))
	require.Equal(t, []uint32{1, 2, 3, 4}, unionSorted([]uint32{1, 3}, []uint32{2, 4}))
}
