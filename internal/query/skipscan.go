package query

import (
	"context"

	"github.com/RoaringBitmap/roaring"

	"github.com/mrshabel/vectorq/internal/bitmap"
	"github.com/mrshabel/vectorq/internal/segment"
)

// skipScanner resolves a skip/fetch window over the imaginary merged,
// ascending sequence of (live log offset ids) ∪ (segment offset ids
// not masked out), without ever materializing that merged sequence.
// Grounded on the original Rust worker's SkipScanner (limit.rs): a
// binary search ("seek") finds the starting offset id for a given skip
// count via a joint-rank function, then a two-way merge ("scan")
// collects fetch ids forward from there.
type skipScanner struct {
	reader  segment.Reader
	logIDs  []uint32 // sorted, ascending, already filtered+live
	segMask *roaring.Bitmap
}

// jointRank returns the number of elements of the merged sequence
// strictly less than o: the log side ranked by a plain slice scan, the
// segment side ranked by the segment's own rank index minus whatever
// of that range segMask excludes.
func (s *skipScanner) jointRank(ctx context.Context, o uint32) (int, error) {
	logRank := 0
	for logRank < len(s.logIDs) && s.logIDs[logRank] < o {
		logRank++
	}
	if s.reader == nil {
		return logRank, nil
	}
	segRank, err := s.reader.GetOffsetIDRank(ctx, o)
	if err != nil {
		return 0, err
	}
	masked := bitmap.RankStrict(s.segMask, o)
	return logRank + (segRank - masked), nil
}

// seekStartingIndex finds the smallest offset id o such that exactly
// skip elements of the merged sequence are strictly less than o (the
// partition point between the skipped prefix and the rest). size is an
// exclusive upper bound on offset id values to search over.
func (s *skipScanner) seekStartingIndex(ctx context.Context, skip int, size uint32) (uint32, error) {
	base := uint32(0)
	for size > 0 {
		half := size / 2
		mid := base + half
		rank, err := s.jointRank(ctx, mid)
		if err != nil {
			return 0, err
		}
		if rank >= skip {
			size = half
		} else {
			base = mid + 1
			size -= half + 1
		}
	}
	return base, nil
}

// seekAndScan collects up to fetch merged-sequence offset ids, in
// ascending order, starting from the first one >= start. On ties
// between the log and segment sides (an offset id present in both and
// not in segMask; Limit puts every segment id the log touched into
// segMask, so it does not produce such ties) the segment-side
// occurrence is taken and the log-side pointer also advances, so the id
// is only emitted once.
func (s *skipScanner) seekAndScan(ctx context.Context, start uint32, fetch int) ([]uint32, error) {
	result := make([]uint32, 0, fetch)

	logIdx := 0
	for logIdx < len(s.logIDs) && s.logIDs[logIdx] < start {
		logIdx++
	}

	var segIdx, segCount int
	if s.reader != nil {
		var err error
		segIdx, err = s.reader.GetOffsetIDRank(ctx, start)
		if err != nil {
			return nil, err
		}
		segCount, err = s.reader.Count(ctx)
		if err != nil {
			return nil, err
		}
	}

	nextSegVal := func() (uint32, bool, error) {
		for s.reader != nil && segIdx < segCount {
			v, err := s.reader.GetOffsetIDAtIndex(ctx, segIdx)
			if err != nil {
				return 0, false, err
			}
			if s.segMask.Contains(v) {
				segIdx++
				continue
			}
			return v, true, nil
		}
		return 0, false, nil
	}

	for len(result) < fetch {
		logValid := logIdx < len(s.logIDs)
		segVal, segValid, err := nextSegVal()
		if err != nil {
			return nil, err
		}
		if !logValid && !segValid {
			break
		}

		switch {
		case logValid && segValid:
			logVal := s.logIDs[logIdx]
			switch {
			case logVal < segVal:
				result = append(result, logVal)
				logIdx++
			case segVal < logVal:
				result = append(result, segVal)
				segIdx++
			default:
				result = append(result, segVal)
				segIdx++
				logIdx++
			}
		case logValid:
			result = append(result, s.logIDs[logIdx])
			logIdx++
		default:
			result = append(result, segVal)
			segIdx++
		}
	}

	return result, nil
}
