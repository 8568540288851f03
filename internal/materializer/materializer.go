// Package materializer folds raw mutation log records into terminal
// per-offset-id state, adapted from the original Rust worker's log
// materialization pass (original_source/rust/worker) but expressed here
// as a plain collapsing reduce over apiv1.LogRecord, the way the
// teacher folds raft log entries into FSM state in
// internal/log/distributed.go's fsm.Apply.
package materializer

import (
	"context"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/segment"
)

// Entry is the terminal state of one offset id after folding every log
// record that touched it.
type Entry struct {
	OffsetID  uint32
	Operation apiv1.MaterializedOperation
	UserID    string
	Metadata  apiv1.Metadata
	Document  *string
}

// Materialize folds logs (assumed already ordered by LogOffset) against
// reader (which may be nil for an uninitialized segment) and returns
// one Entry per distinct offset id touched by the log, keyed by offset
// id for O(1) lookup by the query operators.
//
// An Add introduces a brand new id, while Update/Delete/OverwriteExisting
// refer to an id already present in the segment or added earlier in this
// same log window. An Update that follows an Add (or OverwriteExisting)
// of the same id in the window is merged onto it and keeps that
// terminal operation; a later Add, Delete or OverwriteExisting replaces
// whatever the id had before.
func Materialize(ctx context.Context, reader segment.Reader, logs []apiv1.LogRecord) (map[uint32]*Entry, error) {
	out := make(map[uint32]*Entry, len(logs))

	for _, rec := range logs {
		switch rec.Operation {
		case apiv1.OperationAdd:
			out[rec.OffsetID] = &Entry{
				OffsetID:  rec.OffsetID,
				Operation: apiv1.MaterializedAdd,
				UserID:    rec.UserID,
				Metadata:  rec.Metadata.Clone(),
				Document:  rec.Document,
			}

		case apiv1.OperationDelete:
			out[rec.OffsetID] = &Entry{
				OffsetID:  rec.OffsetID,
				Operation: apiv1.MaterializedDeleteExisting,
				UserID:    rec.UserID,
			}

		case apiv1.OperationOverwriteExisting:
			out[rec.OffsetID] = &Entry{
				OffsetID:  rec.OffsetID,
				Operation: apiv1.MaterializedOverwriteExisting,
				UserID:    rec.UserID,
				Metadata:  rec.Metadata.Clone(),
				Document:  rec.Document,
			}

		case apiv1.OperationUpdate:
			prev := out[rec.OffsetID]
			if prev == nil {
				base, err := loadBase(ctx, reader, rec.OffsetID)
				if err != nil {
					return nil, err
				}
				prev = base
			}
			out[rec.OffsetID] = mergeUpdate(prev, rec)
		}
	}

	return out, nil
}

// loadBase fetches the pre-log state of offset id o from the segment so
// an in-place Update can merge against it. A nil reader (uninitialized
// segment) or a miss yields a zero-value base, matching the original's
// treatment of updates against a segment that does not yet carry the id.
func loadBase(ctx context.Context, reader segment.Reader, o uint32) (*Entry, error) {
	if reader == nil {
		return &Entry{OffsetID: o, Operation: apiv1.MaterializedUpdateExisting}, nil
	}
	rec, err := reader.GetDataForOffsetID(ctx, o)
	if err == segment.ErrNotFound {
		return &Entry{OffsetID: o, Operation: apiv1.MaterializedUpdateExisting}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Entry{
		OffsetID:  o,
		Operation: apiv1.MaterializedUpdateExisting,
		UserID:    rec.UserID,
		Metadata:  rec.Metadata.Clone(),
		Document:  rec.Document,
	}, nil
}

// mergeUpdate folds an Update log record onto the previously known state
// of its offset id: metadata keys are merged key-by-key (new values win,
// a nil value deletes the key), the document is replaced wholesale when
// present, and the user id carries over unchanged.
func mergeUpdate(prev *Entry, rec apiv1.LogRecord) *Entry {
	merged := &Entry{
		OffsetID:  rec.OffsetID,
		Operation: apiv1.MaterializedUpdateExisting,
		UserID:    prev.UserID,
		Document:  prev.Document,
	}
	if prev.Operation == apiv1.MaterializedAdd || prev.Operation == apiv1.MaterializedOverwriteExisting {
		merged.Operation = prev.Operation
	}

	metadata := prev.Metadata.Clone()
	if metadata == nil && len(rec.Metadata) > 0 {
		metadata = apiv1.Metadata{}
	}
	for k, v := range rec.Metadata {
		if v == nil {
			delete(metadata, k)
			continue
		}
		metadata[k] = v
	}
	merged.Metadata = metadata

	if rec.Document != nil {
		merged.Document = rec.Document
	}
	return merged
}
