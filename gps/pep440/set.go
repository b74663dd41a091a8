// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pep440

import (
	"sort"
	"strings"
)

type boundKind uint8

const (
	boundUnbounded boundKind = iota
	boundInclusive
	boundExclusive
)

type bound struct {
	kind boundKind
	v    Version
}

func unbounded() bound          { return bound{kind: boundUnbounded} }
func inclusive(v Version) bound { return bound{kind: boundInclusive, v: v} }
func exclusive(v Version) bound { return bound{kind: boundExclusive, v: v} }

type interval struct {
	lo, hi bound
}

// cmpLo orders two lower bounds by where they start admitting versions.
func cmpLo(a, b bound) int {
	switch {
	case a.kind == boundUnbounded && b.kind == boundUnbounded:
		return 0
	case a.kind == boundUnbounded:
		return -1
	case b.kind == boundUnbounded:
		return 1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	switch {
	case a.kind == b.kind:
		return 0
	case a.kind == boundInclusive:
		return -1
	}
	return 1
}

// cmpHi orders two upper bounds by where they stop admitting versions.
func cmpHi(a, b bound) int {
	switch {
	case a.kind == boundUnbounded && b.kind == boundUnbounded:
		return 0
	case a.kind == boundUnbounded:
		return 1
	case b.kind == boundUnbounded:
		return -1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	switch {
	case a.kind == b.kind:
		return 0
	case a.kind == boundInclusive:
		return 1
	}
	return -1
}

func (iv interval) empty() bool {
	if iv.lo.kind == boundUnbounded || iv.hi.kind == boundUnbounded {
		return false
	}
	c := iv.lo.v.Compare(iv.hi.v)
	if c > 0 {
		return true
	}
	return c == 0 && (iv.lo.kind == boundExclusive || iv.hi.kind == boundExclusive)
}

func (iv interval) contains(v Version) bool {
	switch iv.lo.kind {
	case boundInclusive:
		if v.Compare(iv.lo.v) < 0 {
			return false
		}
	case boundExclusive:
		if v.Compare(iv.lo.v) <= 0 {
			return false
		}
	}
	switch iv.hi.kind {
	case boundInclusive:
		return v.Compare(iv.hi.v) <= 0
	case boundExclusive:
		return v.Compare(iv.hi.v) < 0
	}
	return true
}

// touches reports whether a's upper bound meets or overlaps b's lower bound,
// so that the two intervals form one contiguous range. a must not start after
// b.
func touches(a, b interval) bool {
	if a.hi.kind == boundUnbounded || b.lo.kind == boundUnbounded {
		return true
	}
	c := a.hi.v.Compare(b.lo.v)
	if c != 0 {
		return c > 0
	}
	return a.hi.kind == boundInclusive || b.lo.kind == boundInclusive
}

// A VersionSet is a set of versions, kept as a sorted list of disjoint,
// non-adjacent intervals. It is the solver's representation of a version
// constraint; the zero value is the empty set.
type VersionSet struct {
	ivs []interval
}

// Empty returns the set containing no versions.
func Empty() VersionSet { return VersionSet{} }

// Any returns the set containing every version.
func Any() VersionSet {
	return VersionSet{ivs: []interval{{lo: unbounded(), hi: unbounded()}}}
}

// Singleton returns the set containing exactly v.
func Singleton(v Version) VersionSet {
	return VersionSet{ivs: []interval{{lo: inclusive(v), hi: inclusive(v)}}}
}

// AtLeast returns the set of versions greater than or equal to v.
func AtLeast(v Version) VersionSet {
	return newSet(interval{lo: inclusive(v), hi: unbounded()})
}

// Below returns the set of versions strictly less than v.
func Below(v Version) VersionSet {
	return newSet(interval{lo: unbounded(), hi: exclusive(v)})
}

// Between returns the half-open range [lo, hi).
func Between(lo, hi Version) VersionSet {
	return newSet(interval{lo: inclusive(lo), hi: exclusive(hi)})
}

func newSet(ivs ...interval) VersionSet {
	out := make([]interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.empty() {
			out = append(out, iv)
		}
	}
	return normalize(out)
}

// normalize sorts intervals and merges those that overlap or touch.
func normalize(ivs []interval) VersionSet {
	if len(ivs) == 0 {
		return VersionSet{}
	}
	sort.SliceStable(ivs, func(i, j int) bool {
		return cmpLo(ivs[i].lo, ivs[j].lo) < 0
	})

	out := []interval{ivs[0]}
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if touches(*last, iv) {
			if cmpHi(iv.hi, last.hi) > 0 {
				last.hi = iv.hi
			}
			continue
		}
		out = append(out, iv)
	}
	return VersionSet{ivs: out}
}

// IsEmpty reports whether the set admits no version.
func (s VersionSet) IsEmpty() bool {
	return len(s.ivs) == 0
}

// IsAny reports whether the set admits every version.
func (s VersionSet) IsAny() bool {
	return len(s.ivs) == 1 && s.ivs[0].lo.kind == boundUnbounded && s.ivs[0].hi.kind == boundUnbounded
}

// Contains reports whether v is in the set.
func (s VersionSet) Contains(v Version) bool {
	// Intervals are sorted; find the first whose upper bound does not end
	// before v.
	i := sort.Search(len(s.ivs), func(i int) bool {
		hi := s.ivs[i].hi
		switch hi.kind {
		case boundUnbounded:
			return true
		case boundInclusive:
			return v.Compare(hi.v) <= 0
		}
		return v.Compare(hi.v) < 0
	})
	return i < len(s.ivs) && s.ivs[i].contains(v)
}

// Intersect returns the versions in both s and o.
func (s VersionSet) Intersect(o VersionSet) VersionSet {
	var out []interval
	i, j := 0, 0
	for i < len(s.ivs) && j < len(o.ivs) {
		a, b := s.ivs[i], o.ivs[j]
		iv := interval{lo: a.lo, hi: a.hi}
		if cmpLo(b.lo, iv.lo) > 0 {
			iv.lo = b.lo
		}
		if cmpHi(b.hi, iv.hi) < 0 {
			iv.hi = b.hi
		}
		if !iv.empty() {
			out = append(out, iv)
		}
		if cmpHi(a.hi, b.hi) < 0 {
			i++
		} else {
			j++
		}
	}
	return VersionSet{ivs: out}
}

// Union returns the versions in either s or o.
func (s VersionSet) Union(o VersionSet) VersionSet {
	all := make([]interval, 0, len(s.ivs)+len(o.ivs))
	all = append(all, s.ivs...)
	all = append(all, o.ivs...)
	return normalize(all)
}

// Complement returns every version not in s.
func (s VersionSet) Complement() VersionSet {
	if len(s.ivs) == 0 {
		return Any()
	}

	var out []interval
	lo := unbounded()
	for _, iv := range s.ivs {
		if iv.lo.kind != boundUnbounded {
			out = append(out, interval{lo: lo, hi: flip(iv.lo)})
		}
		if iv.hi.kind == boundUnbounded {
			return newSet(out...)
		}
		lo = flip(iv.hi)
	}
	out = append(out, interval{lo: lo, hi: unbounded()})
	return newSet(out...)
}

// Difference returns the versions in s but not in o.
func (s VersionSet) Difference(o VersionSet) VersionSet {
	return s.Intersect(o.Complement())
}

func flip(b bound) bound {
	switch b.kind {
	case boundInclusive:
		return exclusive(b.v)
	case boundExclusive:
		return inclusive(b.v)
	}
	return b
}

// Subset reports whether every version in s is also in o.
func (s VersionSet) Subset(o VersionSet) bool {
	return s.Difference(o).IsEmpty()
}

// Disjoint reports whether s and o share no version.
func (s VersionSet) Disjoint(o VersionSet) bool {
	return s.Intersect(o).IsEmpty()
}

// Equal reports whether s and o contain the same versions.
func (s VersionSet) Equal(o VersionSet) bool {
	if len(s.ivs) != len(o.ivs) {
		return false
	}
	for i := range s.ivs {
		if cmpLo(s.ivs[i].lo, o.ivs[i].lo) != 0 || cmpHi(s.ivs[i].hi, o.ivs[i].hi) != 0 {
			return false
		}
	}
	return true
}

// SingletonVersion returns the one version the set contains, if it is a
// point set.
func (s VersionSet) SingletonVersion() (Version, bool) {
	if len(s.ivs) != 1 {
		return Version{}, false
	}
	iv := s.ivs[0]
	if iv.lo.kind != boundInclusive || iv.lo.v.sen != notSentinel {
		return Version{}, false
	}
	if iv.hi.kind == boundInclusive && iv.lo.v.Compare(iv.hi.v) == 0 {
		return iv.lo.v, true
	}
	if iv.hi.kind == boundInclusive && iv.hi.v.sen == maxLocal && iv.lo.v.Compare(iv.hi.v.withSentinel(notSentinel)) == 0 {
		return iv.lo.v, true
	}
	return Version{}, false
}

// LowerBound returns the smallest version admitted, or false if the set is
// unbounded below or empty.
func (s VersionSet) LowerBound() (Version, bool) {
	if len(s.ivs) == 0 || s.ivs[0].lo.kind == boundUnbounded {
		return Version{}, false
	}
	return s.ivs[0].lo.v.withSentinel(notSentinel), true
}

// String renders the set in specifier syntax. Disjoint pieces are joined with
// " || ".
func (s VersionSet) String() string {
	if s.IsEmpty() {
		return "<none>"
	}
	if s.IsAny() {
		return "*"
	}

	parts := make([]string, 0, len(s.ivs))
	for _, iv := range s.ivs {
		parts = append(parts, iv.String())
	}
	return strings.Join(parts, " || ")
}

// Specifiers renders the set as a conjunction of clauses when it can be
// expressed as one; sets with gaps become a lower/upper range with "!="
// clauses for the holes. ok is false if the set cannot be expressed.
func (s VersionSet) Specifiers() (Specifiers, bool) {
	if s.IsAny() {
		return nil, true
	}
	if s.IsEmpty() {
		return nil, false
	}
	if v, ok := s.SingletonVersion(); ok {
		return Specifiers{{Op: OpEqual, Version: v}}, true
	}

	var out Specifiers
	first, last := s.ivs[0], s.ivs[len(s.ivs)-1]
	if spec, ok := loSpecifier(first.lo); ok {
		out = append(out, spec)
	}
	for i := 0; i+1 < len(s.ivs); i++ {
		gap := interval{lo: flip(s.ivs[i].hi), hi: flip(s.ivs[i+1].lo)}
		spec, ok := holeSpecifier(gap)
		if !ok {
			return nil, false
		}
		out = append(out, spec)
	}
	if spec, ok := hiSpecifier(last.hi); ok {
		out = append(out, spec)
	}
	return out, true
}

func loSpecifier(b bound) (Specifier, bool) {
	switch b.kind {
	case boundInclusive:
		return Specifier{Op: OpGreaterEqual, Version: b.v.withSentinel(notSentinel)}, true
	case boundExclusive:
		return Specifier{Op: OpGreater, Version: b.v.withSentinel(notSentinel)}, true
	}
	return Specifier{}, false
}

func hiSpecifier(b bound) (Specifier, bool) {
	switch b.kind {
	case boundInclusive:
		return Specifier{Op: OpLessEqual, Version: b.v.withSentinel(notSentinel)}, true
	case boundExclusive:
		return Specifier{Op: OpLess, Version: b.v.withSentinel(notSentinel)}, true
	}
	return Specifier{}, false
}

// holeSpecifier expresses a missing range as "!=V" or "!=V.*".
func holeSpecifier(gap interval) (Specifier, bool) {
	if gap.lo.kind == boundInclusive && gap.hi.kind == boundInclusive {
		if gap.lo.v.sen == notSentinel && (gap.hi.v.sen == maxLocal || gap.lo.v.Compare(gap.hi.v) == 0) {
			return Specifier{Op: OpNotEqual, Version: gap.lo.v}, true
		}
	}
	if gap.lo.kind == boundInclusive && gap.lo.v.sen == minDev && gap.hi.kind == boundExclusive && gap.hi.v.sen == minDev {
		p := Specifier{Op: OpNotEqual, Version: gap.lo.v.withSentinel(notSentinel), Wildcard: true}
		if prefixSet(p.Version).Equal(newSet(gap)) {
			return p, true
		}
	}
	return Specifier{}, false
}

func (iv interval) String() string {
	if iv.lo.kind == boundInclusive && iv.hi.kind == boundInclusive && iv.lo.v.sen == notSentinel {
		if iv.lo.v.Compare(iv.hi.v) == 0 || (iv.hi.v.sen == maxLocal && !iv.lo.v.IsLocal()) {
			return "==" + iv.lo.v.String()
		}
	}

	var parts []string
	if spec, ok := loSpecifier(iv.lo); ok {
		parts = append(parts, spec.String())
	}
	if spec, ok := hiSpecifier(iv.hi); ok {
		parts = append(parts, spec.String())
	}
	return strings.Join(parts, ", ")
}

// Above returns the set of versions strictly greater than v.
func Above(v Version) VersionSet {
	return newSet(interval{lo: exclusive(v), hi: unbounded()})
}

// AtMost returns the set of versions less than or equal to v.
func AtMost(v Version) VersionSet {
	return newSet(interval{lo: unbounded(), hi: inclusive(v)})
}

// A Range is one contiguous piece of a VersionSet.
type Range struct {
	iv interval
}

// Ranges returns the contiguous pieces of s in ascending order.
func (s VersionSet) Ranges() []Range {
	out := make([]Range, len(s.ivs))
	for i, iv := range s.ivs {
		out[i] = Range{iv: iv}
	}
	return out
}

// Lower returns the lower bound of r. ok is false if r is unbounded below.
func (r Range) Lower() (v Version, inclusive bool, ok bool) {
	if r.iv.lo.kind == boundUnbounded {
		return Version{}, false, false
	}
	return r.iv.lo.v, r.iv.lo.kind == boundInclusive, true
}

// Upper returns the upper bound of r. ok is false if r is unbounded above.
func (r Range) Upper() (v Version, inclusive bool, ok bool) {
	if r.iv.hi.kind == boundUnbounded {
		return Version{}, false, false
	}
	return r.iv.hi.v, r.iv.hi.kind == boundInclusive, true
}

// Set returns r as a VersionSet of its own.
func (r Range) Set() VersionSet {
	return VersionSet{ivs: []interval{r.iv}}
}

// String renders the range as a specifier list.
func (r Range) String() string {
	return r.iv.String()
}

// Floor returns the lowest possible version with v's epoch and release
// segment. It sorts before every dev release and pre-release of v.
func (v Version) Floor() Version {
	return v.Final().withSentinel(minDev)
}

// IsFloor reports whether v was produced by Floor.
func (v Version) IsFloor() bool {
	return v.sen == minDev
}

// Plain strips any boundary marker from v, leaving the version it was
// derived from.
func (v Version) Plain() Version {
	return v.withSentinel(notSentinel)
}

// BumpRelease returns the final release after v at the given release segment
// index, truncating the segments that follow. BumpRelease(1) of 3.8.2 is 3.9.
func (v Version) BumpRelease(i int) Version {
	rel := make([]int, i+1)
	copy(rel, v.release)
	rel[i]++
	return Version{epoch: v.epoch, release: rel, post: noPost, dev: noDev}
}

// FromRelease builds a final release version from its segments.
func FromRelease(segs ...int) Version {
	rel := make([]int, len(segs))
	copy(rel, segs)
	return Version{release: rel, post: noPost, dev: noDev}
}
