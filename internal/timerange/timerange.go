// Package timerange implements the sorted, disjoint half-open interval
// algebra used to represent buffered/played/seekable ranges throughout the
// playback engine.
package timerange

import (
	"math"
	"sort"
)

// Range is a half-open interval [Start, End) in seconds.
type Range struct {
	Start float64
	End   float64
}

// Ranges is a sorted, disjoint sequence of half-open intervals.
type Ranges []Range

// Len returns the number of intervals.
func (r Ranges) Len() int { return len(r) }

// RangeStart returns the start of the interval at i. Panics if i is out of
// range: indexing is a precondition the caller must satisfy.
func (r Ranges) RangeStart(i int) float64 { return r[i].Start }

// RangeEnd returns the end of the interval at i. Panics if i is out of
// range.
func (r Ranges) RangeEnd(i int) float64 { return r[i].End }

// Find returns the interval containing t, if any.
func (r Ranges) Find(t float64) (Range, bool) {
	for _, iv := range r {
		if iv.Start <= t && t < iv.End {
			return iv, true
		}
	}
	return Range{}, false
}

// Contains reports whether some interval fully covers [a, b].
func (r Ranges) Contains(a, b float64) bool {
	for _, iv := range r {
		if iv.Start <= a && b <= iv.End {
			return true
		}
	}
	return false
}

// HighestEnd returns the maximum End across all intervals, or 0 if empty.
func (r Ranges) HighestEnd() float64 {
	var h float64
	for _, iv := range r {
		if iv.End > h {
			h = iv.End
		}
	}
	return h
}

// Clone returns an independent copy.
func (r Ranges) Clone() Ranges {
	out := make(Ranges, len(r))
	copy(out, r)
	return out
}

// StretchLastTo returns a copy of r with its final interval's End raised to
// end, if end is greater. Used when a source buffer or media source becomes
// Ended and the trailing buffered range is extended to the overall highest
// end before intersecting (spec §4.4, §4.5).
func (r Ranges) StretchLastTo(end float64) Ranges {
	if len(r) == 0 {
		return r
	}
	out := r.Clone()
	last := len(out) - 1
	if end > out[last].End {
		out[last].End = end
	}
	return out
}

// Union merges r with other, coalescing intervals whose gap is at most
// tol. The result is sorted and disjoint.
func Union(r, other Ranges, tol float64) Ranges {
	all := make(Ranges, 0, len(r)+len(other))
	all = append(all, r...)
	all = append(all, other...)
	if len(all) == 0 {
		return Ranges{}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End < all[j].End
	})

	out := make(Ranges, 0, len(all))
	cur := all[0]
	for _, iv := range all[1:] {
		if iv.Start <= cur.End+tol {
			// Overlaps or is within tolerance: extend, unless fully contained.
			if iv.End > cur.End {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	out = append(out, cur)
	return out
}

// Union merges the receiver with other using Union(r, other, tol).
func (r Ranges) Union(other Ranges, tol float64) Ranges {
	return Union(r, other, tol)
}

// Intersect returns the pointwise intersection of r and other.
func Intersect(r, other Ranges) Ranges {
	out := Ranges{}
	i, j := 0, 0
	for i < len(r) && j < len(other) {
		start := max(r[i].Start, other[j].Start)
		end := min(r[i].End, other[j].End)
		if start < end {
			out = append(out, Range{Start: start, End: end})
		}
		if r[i].End < other[j].End {
			i++
		} else if other[j].End < r[i].End {
			j++
		} else {
			i++
			j++
		}
	}
	return out
}

// Intersect returns the pointwise intersection of the receiver and other.
func (r Ranges) Intersect(other Ranges) Ranges {
	return Intersect(r, other)
}

// Invert returns the gaps of r within (-inf, +inf): the complement of r,
// including the unbounded intervals before the first and after the last
// entry.
func Invert(r Ranges) Ranges {
	negInf := math.Inf(-1)
	posInf := math.Inf(1)

	if len(r) == 0 {
		return Ranges{{Start: negInf, End: posInf}}
	}

	out := make(Ranges, 0, len(r)+1)
	cursor := negInf
	for _, iv := range r {
		if iv.Start > cursor {
			out = append(out, Range{Start: cursor, End: iv.Start})
		}
		cursor = iv.End
	}
	out = append(out, Range{Start: cursor, End: posInf})
	return out
}

// Invert returns the complement of the receiver.
func (r Ranges) Invert() Ranges {
	return Invert(r)
}

// Subtract returns r with every interval of other removed.
func Subtract(r, other Ranges) Ranges {
	return Intersect(r, Invert(other))
}

// Subtract returns the receiver with every interval of other removed.
func (r Ranges) Subtract(other Ranges) Ranges {
	return Subtract(r, other)
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
