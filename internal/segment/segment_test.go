package segment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSegment(t *testing.T) *DiskReader {
	t.Helper()
	w, err := NewWriter(t.TempDir(), 0)
	require.NoError(t, err)

	doc := "hello world"
	require.NoError(t, w.Append(1, "user-1", map[string]any{"color": "red"}, &doc))
	require.NoError(t, w.Append(3, "user-3", map[string]any{"color": "blue"}, nil))
	require.NoError(t, w.Append(7, "user-7", nil, nil))

	r, err := w.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestDiskReaderCountAndMax(t *testing.T) {
	ctx := context.Background()
	r := newTestSegment(t)

	count, err := r.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t, uint32(7), r.CurrentMaxOffsetID())
}

func TestDiskReaderRankAndSelect(t *testing.T) {
	ctx := context.Background()
	r := newTestSegment(t)

	rank, err := r.GetOffsetIDRank(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 2, rank)

	rank, err = r.GetOffsetIDRank(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 0, rank)

	off, err := r.GetOffsetIDAtIndex(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(3), off)

	ids, err := r.GetAllOffsetIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 3, 7}, ids)
}

func TestDiskReaderLookup(t *testing.T) {
	ctx := context.Background()
	r := newTestSegment(t)

	userID, err := r.GetUserIDForOffsetID(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, "user-3", userID)

	_, err = r.GetUserIDForOffsetID(ctx, 2)
	require.ErrorIs(t, err, ErrNotFound)

	rec, err := r.GetDataForOffsetID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), rec.OffsetID)
	require.Equal(t, "user-1", rec.UserID)
	require.Equal(t, "red", rec.Metadata["color"])
	require.NotNil(t, rec.Document)
	require.Equal(t, "hello world", *rec.Document)
}
