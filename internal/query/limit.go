package query

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/bitmap"
	"github.com/mrshabel/vectorq/internal/materializer"
	"github.com/mrshabel/vectorq/internal/segment"
)

// LimitInput is the Limit operator's request: a previously-computed
// filter (Include(B)/Exclude(B) over offset ids, e.g. the output of a
// metadata or full-text match stage; the same Filter is applied to the
// log's live ids and to the segment's ids), the materialized log
// overlay on top of the segment, and the skip/fetch pagination window.
type LimitInput struct {
	Filter bitmap.Signed
	Log    map[uint32]*materializer.Entry
	Reader segment.Reader
	Skip   uint32
	Fetch  uint32
}

// Limit resolves the skip/fetch window against Filter, respecting the
// log overlay, and returns the resulting offset ids in ascending order.
// A Fetch of 0 means "no limit": return everything from Skip onward.
//
// Two resolution paths, both grounded on the original Rust worker's
// LimitOperator::run:
//
//   - Filter.IsInclude(): the candidate set B is already concrete and
//     almost always small relative to the full segment, so the merged
//     view is built directly as a bitmap union and windowed in one
//     pass — no segment scan needed.
//   - Filter.IsExclude(): B denotes "everything except these", which
//     may be the entire segment, so the window is resolved with
//     skipScanner's seek+scan instead of materializing the merged set.
func Limit(ctx context.Context, in LimitInput) ([]uint32, error) {
	liveLogIDs, deadOrUpdatedLogIDs := splitLog(in.Log)

	if in.Filter.IsInclude() {
		return limitInclude(in, liveLogIDs, deadOrUpdatedLogIDs)
	}
	return limitExclude(ctx, in, liveLogIDs, deadOrUpdatedLogIDs)
}

// splitLog separates a materialized log into live offset ids (Add,
// UpdateExisting, OverwriteExisting — anything the query should still
// see) and the full set of ids the log touched at all (including
// deletes), the latter needed to mask stale segment-side copies.
func splitLog(log map[uint32]*materializer.Entry) (live []uint32, touched *roaring.Bitmap) {
	live = make([]uint32, 0, len(log))
	touched = roaring.New()
	for id, e := range log {
		touched.Add(id)
		if e.Operation != apiv1.MaterializedDeleteExisting {
			live = append(live, id)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	return live, touched
}

func limitInclude(in LimitInput, liveLogIDs []uint32, touched *roaring.Bitmap) ([]uint32, error) {
	rbm := in.Filter.Set()

	logMatched := make([]uint32, 0, len(liveLogIDs))
	for _, id := range liveLogIDs {
		if rbm.Contains(id) {
			logMatched = append(logMatched, id)
		}
	}

	segMatched := roaring.AndNot(rbm, touched)
	merged := unionSorted(logMatched, toSortedSlice(segMatched))
	return windowSlice(merged, in.Skip, in.Fetch), nil
}

func limitExclude(ctx context.Context, in LimitInput, liveLogIDs []uint32, touched *roaring.Bitmap) ([]uint32, error) {
	rbm := in.Filter.Set()

	activeDomain := make([]uint32, 0, len(liveLogIDs))
	for _, id := range liveLogIDs {
		if !rbm.Contains(id) {
			activeDomain = append(activeDomain, id)
		}
	}

	if in.Reader == nil {
		return windowSlice(activeDomain, in.Skip, in.Fetch), nil
	}

	supersededInSegment := roaring.New()
	it := touched.Iterator()
	for it.HasNext() {
		id := it.Next()
		rank, err := in.Reader.GetOffsetIDRank(ctx, id)
		if err != nil {
			return nil, internalErr("limit", err)
		}
		next, err := in.Reader.GetOffsetIDRank(ctx, id+1)
		if err != nil {
			return nil, internalErr("limit", err)
		}
		if next > rank {
			supersededInSegment.Add(id)
		}
	}

	scanner := &skipScanner{
		reader:  in.Reader,
		logIDs:  activeDomain,
		segMask: roaring.Or(rbm, supersededInSegment),
	}

	// activeDomain is sorted ascending, so its own max (if any) is its
	// last element; the log can assign offset ids above the segment's
	// compacted max, and the search space must cover those too.
	universe := in.Reader.CurrentMaxOffsetID()
	if n := len(activeDomain); n > 0 && activeDomain[n-1] > universe {
		universe = activeDomain[n-1]
	}
	universe++
	start, err := scanner.seekStartingIndex(ctx, int(in.Skip), universe)
	if err != nil {
		return nil, internalErr("limit", err)
	}

	fetch := int(in.Fetch)
	if in.Fetch == 0 {
		segCount, err := in.Reader.Count(ctx)
		if err != nil {
			return nil, internalErr("limit", err)
		}
		fetch = len(activeDomain) + segCount
	}

	return scanner.seekAndScan(ctx, start, fetch)
}

func toSortedSlice(b *roaring.Bitmap) []uint32 {
	out := make([]uint32, 0, b.GetCardinality())
	it := b.Iterator()
	for it.HasNext() {
		out = append(out, it.Next())
	}
	return out
}

func windowSlice(s []uint32, skip, fetch uint32) []uint32 {
	if int(skip) >= len(s) {
		return []uint32{}
	}
	end := len(s)
	if fetch != 0 && int(skip)+int(fetch) < end {
		end = int(skip) + int(fetch)
	}
	return s[skip:end]
}
