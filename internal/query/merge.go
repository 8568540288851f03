package query

import (
	"context"
	"sort"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/materializer"
	"github.com/mrshabel/vectorq/internal/segment"
)

// MergeInput is the MergeAndHydrate operator's request, grounded on the
// original Rust worker's MergeMetadataResultsOperator: a pair of
// optional restricting id lists (nil means "no restriction from this
// source"). When either is supplied it is used as the candidate set
// directly (conjoined if both are); only when both are nil does the
// operator fall back to the full log-overlaid segment as the candidate
// set. The result is then paginated and hydrated into records.
type MergeInput struct {
	// UserOffsetIDs restricts to an explicit caller-supplied id list,
	// e.g. a get-by-id request. nil means unrestricted.
	UserOffsetIDs []uint32
	// FilteredOffsetIDs restricts to the output of a prior filter stage
	// (metadata/full-text match). nil means unrestricted.
	FilteredOffsetIDs []uint32
	Log               map[uint32]*materializer.Entry
	Reader            segment.Reader
	Skip, Fetch       uint32
	// IncludeMetadata controls whether Metadata/Document get hydrated at
	// all; when false only OffsetID/UserID are populated, saving a
	// segment read per row for callers that only need ids.
	IncludeMetadata bool
}

// Hydrated is one fully materialized output row.
type Hydrated struct {
	OffsetID uint32
	UserID   string
	Metadata apiv1.Metadata
	Document *string
}

// MergeAndHydrate resolves the candidate offset id set (see MergeInput),
// applies the skip/fetch window, and hydrates each surviving offset id
// into a record — preferring the log's view over the segment's for any
// id the log touched.
func MergeAndHydrate(ctx context.Context, in MergeInput) ([]Hydrated, error) {
	merged, err := mergedOffsetIDs(ctx, in)
	if err != nil {
		return nil, internalErr("merge", err)
	}

	window := windowSlice(merged, in.Skip, in.Fetch)

	out := make([]Hydrated, 0, len(window))
	for _, id := range window {
		row, err := hydrate(ctx, in.Reader, in.Log, id, in.IncludeMetadata)
		if err != nil {
			return nil, internalErr("merge", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// mergedOffsetIDs resolves the candidate id list, grounded on the
// original Rust worker's match over (filtered_offset_ids,
// user_offset_ids): when either restricting list is supplied it is used
// directly (conjoined when both are present), and the log/segment
// overlay is only built in the no-restriction fallback case.
func mergedOffsetIDs(ctx context.Context, in MergeInput) ([]uint32, error) {
	switch {
	case in.FilteredOffsetIDs != nil && in.UserOffsetIDs != nil:
		fids := sortedCopy(in.FilteredOffsetIDs)
		uids := sortedCopy(in.UserOffsetIDs)
		return intersectSorted(fids, uids), nil
	case in.FilteredOffsetIDs != nil:
		return sortedCopy(in.FilteredOffsetIDs), nil
	case in.UserOffsetIDs != nil:
		return sortedCopy(in.UserOffsetIDs), nil
	default:
		return overlayUniverse(ctx, in.Reader, in.Log)
	}
}

func sortedCopy(ids []uint32) []uint32 {
	out := append([]uint32(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// overlayUniverse returns every live offset id visible to the query: the
// segment's ids with anything the log touched removed, unioned with the
// log's own live ids — so an id the log updated appears exactly once,
// carrying the log's view, and an id the log deleted does not appear at
// all.
func overlayUniverse(ctx context.Context, reader segment.Reader, log map[uint32]*materializer.Entry) ([]uint32, error) {
	var segmentIDs []uint32
	if reader != nil {
		var err error
		segmentIDs, err = reader.GetAllOffsetIDs(ctx)
		if err != nil {
			return nil, err
		}
	}

	untouched := make([]uint32, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		if _, ok := log[id]; !ok {
			untouched = append(untouched, id)
		}
	}

	liveLog := make([]uint32, 0, len(log))
	for id, e := range log {
		if e.Operation != apiv1.MaterializedDeleteExisting {
			liveLog = append(liveLog, id)
		}
	}
	sort.Slice(liveLog, func(i, j int) bool { return liveLog[i] < liveLog[j] })

	return unionSorted(untouched, liveLog), nil
}

// hydrate resolves offset id o to a record, preferring the log's
// materialized entry when present (it is always the freshest view) and
// falling back to the segment otherwise. Metadata/Document are only
// populated when includeMetadata is set — ids are always cheap, but
// pulling metadata/document costs a segment read per row when the log
// didn't already carry it.
func hydrate(ctx context.Context, reader segment.Reader, log map[uint32]*materializer.Entry, o uint32, includeMetadata bool) (Hydrated, error) {
	if e, ok := log[o]; ok {
		row := Hydrated{OffsetID: o, UserID: e.UserID}
		if includeMetadata {
			row.Metadata = e.Metadata
			row.Document = e.Document
		}
		return row, nil
	}
	if reader == nil {
		// an uninitialized segment is empty: nothing but the log can carry o
		return Hydrated{}, segment.ErrNotFound
	}
	if !includeMetadata {
		userID, err := reader.GetUserIDForOffsetID(ctx, o)
		if err != nil {
			return Hydrated{}, err
		}
		return Hydrated{OffsetID: o, UserID: userID}, nil
	}
	rec, err := reader.GetDataForOffsetID(ctx, o)
	if err != nil {
		return Hydrated{}, err
	}
	return Hydrated{OffsetID: o, UserID: rec.UserID, Metadata: rec.Metadata, Document: rec.Document}, nil
}
