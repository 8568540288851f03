package query

import (
	"context"
	"testing"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/materializer"
	"github.com/mrshabel/vectorq/internal/segment"
	"github.com/stretchr/testify/require"
)

func sampleLog(t *testing.T) map[uint32]*materializer.Entry {
	t.Helper()
	ctx := context.Background()
	logs := []apiv1.LogRecord{
		{LogOffset: 1, OffsetID: 1, Operation: apiv1.OperationAdd, UserID: "u1",
			Metadata: apiv1.Metadata{"hello": "world"}},
		{LogOffset: 2, OffsetID: 2, Operation: apiv1.OperationAdd, UserID: "u2",
			Metadata: apiv1.Metadata{"bye": "world"}},
		{LogOffset: 3, OffsetID: 3, Operation: apiv1.OperationAdd, UserID: "u3",
			Metadata: apiv1.Metadata{"hello": "world", "hello_again": "new_world"}},
		{LogOffset: 4, OffsetID: 1, Operation: apiv1.OperationUpdate,
			Metadata: apiv1.Metadata{"hello_again": "new_world"}},
	}
	entries, err := materializer.Materialize(ctx, nil, logs)
	require.NoError(t, err)
	return entries
}

func TestMergeAndHydrate(t *testing.T) {
	ctx := context.Background()
	entries := sampleLog(t)

	rows, err := MergeAndHydrate(ctx, MergeInput{
		UserOffsetIDs:     []uint32{1, 3},
		FilteredOffsetIDs: []uint32{1, 2, 3},
		Log:               entries,
		IncludeMetadata:   true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, uint32(1), rows[0].OffsetID)
	require.Equal(t, "world", rows[0].Metadata["hello"])
	require.Equal(t, "new_world", rows[0].Metadata["hello_again"])

	require.Equal(t, uint32(3), rows[1].OffsetID)
	require.Equal(t, "world", rows[1].Metadata["hello"])
	require.Equal(t, "new_world", rows[1].Metadata["hello_again"])
}

func TestMergeAndHydrateFullScan(t *testing.T) {
	ctx := context.Background()
	entries := sampleLog(t)

	rows, err := MergeAndHydrate(ctx, MergeInput{Log: entries})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []uint32{1, 2, 3}, []uint32{rows[0].OffsetID, rows[1].OffsetID, rows[2].OffsetID})
}

func TestMergeAndHydrateDeletedIDIsHidden(t *testing.T) {
	ctx := context.Background()
	entries := sampleLog(t)
	entries[2].Operation = apiv1.MaterializedDeleteExisting

	rows, err := MergeAndHydrate(ctx, MergeInput{Log: entries})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.NotEqual(t, uint32(2), r.OffsetID)
	}
}

// TestMergeAndHydrateSegmentOverlayFullScan mirrors the original Rust
// worker's test_merge_and_hydrate_full_scan: both restricting id lists
// are nil, so MergeAndHydrate must fall back to overlayUniverse and
// union the committed segment with the log overlay, letting the log's
// view of offset id 1 (touched by an Update) win over the segment's.
func TestMergeAndHydrateSegmentOverlayFullScan(t *testing.T) {
	ctx := context.Background()

	w, err := segment.NewWriter(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, w.Append(1, "u1", map[string]any{"hello": "world", "bye": "world"}, strPtr("cats")))
	require.NoError(t, w.Append(2, "u2", map[string]any{"hello": "world", "bye": "world"}, strPtr("dogs")))
	reader, err := w.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	logs := []apiv1.LogRecord{
		{LogOffset: 1, OffsetID: 3, Operation: apiv1.OperationAdd, UserID: "u3",
			Metadata: apiv1.Metadata{"hello": "new_world", "hello_again": "new_world"}, Document: strPtr("dogs")},
		{LogOffset: 2, OffsetID: 1, Operation: apiv1.OperationUpdate,
			Metadata: apiv1.Metadata{"hello": "new_world", "hello_again": "new_world"}},
	}
	entries, err := materializer.Materialize(ctx, reader, logs)
	require.NoError(t, err)

	rows, err := MergeAndHydrate(ctx, MergeInput{
		Log:             entries,
		Reader:          reader,
		IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []uint32{1, 2, 3}, []uint32{rows[0].OffsetID, rows[1].OffsetID, rows[2].OffsetID})

	// offset 1: segment's original row is superseded by the log's Update.
	require.Equal(t, "u1", rows[0].UserID)
	require.Equal(t, "new_world", rows[0].Metadata["hello"])
	require.Equal(t, "new_world", rows[0].Metadata["hello_again"])
	require.Equal(t, "world", rows[0].Metadata["bye"])
	require.Equal(t, "cats", *rows[0].Document)

	// offset 2: untouched by the log, hydrated straight from the segment.
	require.Equal(t, "u2", rows[1].UserID)
	require.Equal(t, "world", rows[1].Metadata["hello"])
	require.Equal(t, "dogs", *rows[1].Document)

	// offset 3: log-only Add, never in the segment.
	require.Equal(t, "u3", rows[2].UserID)
	require.Equal(t, "new_world", rows[2].Metadata["hello"])
	require.Equal(t, "dogs", *rows[2].Document)
}

func strPtr(s string) *string { return &s }
