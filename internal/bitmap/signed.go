// Package bitmap implements the signed candidate-set algebra (C1): a
// value that is either an inclusion bitmap or an exclusion bitmap over
// the universe of offset ids.
package bitmap

import "github.com/RoaringBitmap/roaring"

// Signed is a tagged Include(B)/Exclude(B) candidate set of offset ids.
// Exclude(empty) means "everything".
type Signed struct {
	exclude bool
	set     *roaring.Bitmap
}

// Include returns a signed bitmap meaning "only offset ids in b are
// allowed".
func Include(b *roaring.Bitmap) Signed {
	if b == nil {
		b = roaring.New()
	}
	return Signed{exclude: false, set: b}
}

// Exclude returns a signed bitmap meaning "all offset ids except those
// in b are allowed".
func Exclude(b *roaring.Bitmap) Signed {
	if b == nil {
		b = roaring.New()
	}
	return Signed{exclude: true, set: b}
}

// IsInclude reports whether this is an Include(B) value.
func (s Signed) IsInclude() bool { return !s.exclude }

// IsExclude reports whether this is an Exclude(B) value.
func (s Signed) IsExclude() bool { return s.exclude }

// Set returns the underlying bitmap B, regardless of tag.
func (s Signed) Set() *roaring.Bitmap { return s.set }

// Materialize resolves the signed bitmap against a concrete universe:
// Include(B) -> B ∩ U, Exclude(B) -> U − B.
func (s Signed) Materialize(universe *roaring.Bitmap) *roaring.Bitmap {
	if s.exclude {
		return roaring.AndNot(universe, s.set)
	}
	return roaring.And(s.set, universe)
}

// RankStrict returns the number of elements of b strictly less than
// target. roaring.Bitmap.Rank is inclusive (counts elements <= target),
// so the element itself is subtracted back out when present.
func RankStrict(b *roaring.Bitmap, target uint32) int {
	r := b.Rank(target)
	if b.Contains(target) {
		r--
	}
	return int(r)
}

// RemoveSmallest drops the smallest n elements of b, returning a new
// bitmap. It walks b in full.
func RemoveSmallest(b *roaring.Bitmap, n uint32) *roaring.Bitmap {
	if n == 0 {
		return b.Clone()
	}
	out := roaring.New()
	it := b.Iterator()
	var skipped uint32
	for it.HasNext() {
		v := it.Next()
		if skipped < n {
			skipped++
			continue
		}
		out.Add(v)
	}
	return out
}

// TakeFirst keeps only the smallest n elements of b.
func TakeFirst(b *roaring.Bitmap, n uint32) *roaring.Bitmap {
	out := roaring.New()
	it := b.Iterator()
	var taken uint32
	for it.HasNext() && taken < n {
		out.Add(it.Next())
		taken++
	}
	return out
}
