// Package query implements the read-path query-finalization core: the
// Limit operator (C5) and MergeAndHydrate operator (C6), grounded on the
// original Rust worker's limit.rs and merge_metadata_results.rs but
// expressed as plain Go slice algebra plus the SkipScanner merge/seek
// machinery (C4).
package query

// intersectSorted returns the sorted conjunction of two ascending,
// duplicate-free uint32 slices.
func intersectSorted(a, b []uint32) []uint32 {
	out := make([]uint32, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// unionSorted returns the sorted disjunction of two ascending,
// duplicate-free uint32 slices.
func unionSorted(a, b []uint32) []uint32 {
	out := make([]uint32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
