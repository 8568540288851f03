package materializer

import (
	"context"
	"testing"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/segment"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestMaterializeAddAndUpdateWithinChunk(t *testing.T) {
	ctx := context.Background()

	logs := []apiv1.LogRecord{
		{LogOffset: 1, OffsetID: 10, Operation: apiv1.OperationAdd, UserID: "u1",
			Metadata: apiv1.Metadata{"hello": "world"}, Document: strPtr("doc1")},
		{LogOffset: 2, OffsetID: 10, Operation: apiv1.OperationUpdate, UserID: "u1",
			Metadata: apiv1.Metadata{"hello_again": "new_world"}},
	}

	entries, err := Materialize(ctx, nil, logs)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[10]
	require.Equal(t, apiv1.MaterializedAdd, e.Operation)
	require.Equal(t, "world", e.Metadata["hello"])
	require.Equal(t, "new_world", e.Metadata["hello_again"])
	require.Equal(t, "doc1", *e.Document)
}

func TestMaterializeUpdateAgainstSegmentBaseline(t *testing.T) {
	ctx := context.Background()

	w, err := segment.NewWriter(t.TempDir(), 0)
	require.NoError(t, err)
	doc := "segment doc"
	require.NoError(t, w.Append(5, "seg-user", map[string]any{"color": "red"}, &doc))
	reader, err := w.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	logs := []apiv1.LogRecord{
		{LogOffset: 1, OffsetID: 5, Operation: apiv1.OperationUpdate,
			Metadata: apiv1.Metadata{"color": "blue"}},
	}

	entries, err := Materialize(ctx, reader, logs)
	require.NoError(t, err)

	e := entries[5]
	require.Equal(t, apiv1.MaterializedUpdateExisting, e.Operation)
	require.Equal(t, "seg-user", e.UserID)
	require.Equal(t, "blue", e.Metadata["color"])
	require.Equal(t, "segment doc", *e.Document)
}

func TestMaterializeDeleteAndOverwrite(t *testing.T) {
	ctx := context.Background()

	logs := []apiv1.LogRecord{
		{LogOffset: 1, OffsetID: 1, Operation: apiv1.OperationDelete},
		{LogOffset: 2, OffsetID: 2, Operation: apiv1.OperationOverwriteExisting, UserID: "u2",
			Metadata: apiv1.Metadata{"k": "v"}},
	}

	entries, err := Materialize(ctx, nil, logs)
	require.NoError(t, err)

	require.Equal(t, apiv1.MaterializedDeleteExisting, entries[1].Operation)
	require.Equal(t, apiv1.MaterializedOverwriteExisting, entries[2].Operation)
	require.Equal(t, "v", entries[2].Metadata["k"])
}

func TestMaterializeMetadataDeleteKey(t *testing.T) {
	ctx := context.Background()

	logs := []apiv1.LogRecord{
		{LogOffset: 1, OffsetID: 1, Operation: apiv1.OperationAdd,
			Metadata: apiv1.Metadata{"a": "1", "b": "2"}},
		{LogOffset: 2, OffsetID: 1, Operation: apiv1.OperationUpdate,
			Metadata: apiv1.Metadata{"b": nil}},
	}

	entries, err := Materialize(ctx, nil, logs)
	require.NoError(t, err)

	e := entries[1]
	_, hasB := e.Metadata["b"]
	require.False(t, hasB)
	require.Equal(t, "1", e.Metadata["a"])
}
