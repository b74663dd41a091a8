// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package markers implements PEP 508 environment markers as a boolean
// algebra over environment axes. Markers are kept in disjunctive normal form
// with one domain per axis in each conjunction, which makes intersection,
// negation, and disjointness checks exact for the version and string axes the
// resolver forks on.
package markers

import (
	"sort"
	"strings"

	"github.com/pydep/pydep/gps/pep440"
)

// Axis names an environment variable a marker can test.
type Axis string

// Environment axes. python_version is accepted when parsing but is stored as
// a range of python_full_version.
const (
	PythonFullVersion            Axis = "python_full_version"
	PythonVersion                Axis = "python_version"
	ImplementationName           Axis = "implementation_name"
	ImplementationVersion        Axis = "implementation_version"
	OSName                       Axis = "os_name"
	PlatformMachine              Axis = "platform_machine"
	PlatformPythonImplementation Axis = "platform_python_implementation"
	PlatformRelease              Axis = "platform_release"
	PlatformSystem               Axis = "platform_system"
	PlatformVersion              Axis = "platform_version"
	SysPlatform                  Axis = "sys_platform"
	Extra                        Axis = "extra"
)

// axisOrder fixes the order axes appear in within a rendered conjunction.
var axisOrder = map[Axis]int{
	PythonFullVersion:            0,
	ImplementationName:           1,
	ImplementationVersion:        2,
	OSName:                       3,
	PlatformMachine:              4,
	PlatformPythonImplementation: 5,
	PlatformRelease:              6,
	PlatformSystem:               7,
	PlatformVersion:              8,
	SysPlatform:                  9,
}

type domainKind uint8

const (
	kindVersion domainKind = iota
	kindString
	kindOpaque
)

// strSet is a finite set of strings, or the complement of one.
type strSet struct {
	neg  bool
	vals []string
}

func (s strSet) contains(x string) bool {
	i := sort.SearchStrings(s.vals, x)
	found := i < len(s.vals) && s.vals[i] == x
	return found != s.neg
}

func (s strSet) isEmpty() bool { return !s.neg && len(s.vals) == 0 }
func (s strSet) isAny() bool   { return s.neg && len(s.vals) == 0 }

func (s strSet) complement() strSet {
	return strSet{neg: !s.neg, vals: s.vals}
}

func (s strSet) intersect(o strSet) strSet {
	switch {
	case !s.neg && !o.neg:
		return strSet{vals: setAnd(s.vals, o.vals)}
	case s.neg && o.neg:
		return strSet{neg: true, vals: setOr(s.vals, o.vals)}
	case !s.neg:
		return strSet{vals: setMinus(s.vals, o.vals)}
	}
	return strSet{vals: setMinus(o.vals, s.vals)}
}

func (s strSet) union(o strSet) strSet {
	return s.complement().intersect(o.complement()).complement()
}

func (s strSet) equal(o strSet) bool {
	if s.neg != o.neg || len(s.vals) != len(o.vals) {
		return false
	}
	for i := range s.vals {
		if s.vals[i] != o.vals[i] {
			return false
		}
	}
	return true
}

func setAnd(a, b []string) []string {
	var out []string
	for _, x := range a {
		i := sort.SearchStrings(b, x)
		if i < len(b) && b[i] == x {
			out = append(out, x)
		}
	}
	return out
}

func setOr(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, x := range append(append([]string{}, a...), b...) {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}

func setMinus(a, b []string) []string {
	var out []string
	for _, x := range a {
		i := sort.SearchStrings(b, x)
		if i >= len(b) || b[i] != x {
			out = append(out, x)
		}
	}
	return out
}

// opaqueAtom is a comparison the algebra does not model, such as a substring
// test. It is treated as an independent boolean variable.
type opaqueAtom struct {
	axis       Axis
	op         string
	value      string
	valueFirst bool
}

func (a opaqueAtom) key() string {
	if a.valueFirst {
		return "~" + quote(a.value) + " " + a.op + " " + string(a.axis)
	}
	return "~" + string(a.axis) + " " + a.op + " " + quote(a.value)
}

// truth is the one-element universe opaque domains range over.
const truth = "1"

// A domain constrains one axis within a conjunction.
type domain struct {
	axis Axis
	kind domainKind
	vs   pep440.VersionSet
	ss   strSet
	atom opaqueAtom
}

func (d domain) key() string {
	if d.kind == kindOpaque {
		return d.atom.key()
	}
	return string(d.axis)
}

func (d domain) isEmpty() bool {
	if d.kind == kindVersion {
		return d.vs.IsEmpty()
	}
	return d.ss.isEmpty()
}

func (d domain) isAny() bool {
	if d.kind == kindVersion {
		return d.vs.IsAny()
	}
	return d.ss.isAny()
}

func (d domain) intersect(o domain) domain {
	if d.kind == kindVersion {
		d.vs = d.vs.Intersect(o.vs)
	} else {
		d.ss = d.ss.intersect(o.ss)
	}
	return d
}

func (d domain) union(o domain) domain {
	if d.kind == kindVersion {
		d.vs = d.vs.Union(o.vs)
	} else {
		d.ss = d.ss.union(o.ss)
	}
	return d
}

func (d domain) complement() domain {
	if d.kind == kindVersion {
		d.vs = d.vs.Complement()
	} else {
		d.ss = d.ss.complement()
	}
	return d
}

func (d domain) subset(o domain) bool {
	if d.kind == kindVersion {
		return d.vs.Subset(o.vs)
	}
	return d.ss.intersect(o.ss.complement()).isEmpty()
}

func (d domain) equal(o domain) bool {
	if d.kind == kindVersion {
		return d.vs.Equal(o.vs)
	}
	return d.ss.equal(o.ss)
}

// conj is a conjunction with at most one domain per key, sorted by key.
type conj []domain

func lessDomain(a, b domain) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra < rb
	}
	return a.key() < b.key()
}

func rank(d domain) int {
	switch {
	case d.kind == kindOpaque:
		return len(axisOrder)
	case d.axis == Extra:
		return len(axisOrder) + 1
	}
	return axisOrder[d.axis]
}

func (c conj) find(key string) (domain, bool) {
	for _, d := range c {
		if d.key() == key {
			return d, true
		}
	}
	return domain{}, false
}

// and intersects two conjunctions. ok is false if the result is
// unsatisfiable.
func (c conj) and(o conj) (conj, bool) {
	out := make(conj, 0, len(c)+len(o))
	out = append(out, c...)
outer:
	for _, d := range o {
		for i := range out {
			if out[i].key() == d.key() {
				out[i] = out[i].intersect(d)
				if out[i].isEmpty() {
					return nil, false
				}
				continue outer
			}
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return lessDomain(out[i], out[j]) })
	return out, true
}

// implies reports whether every environment matching c also matches o.
func (c conj) implies(o conj) bool {
	for _, d := range o {
		cd, ok := c.find(d.key())
		if !ok || !cd.subset(d) {
			return false
		}
	}
	return true
}

// mergeable reports whether c and o have the same keys and differ in the
// domain of at most one, returning that key's index.
func (c conj) mergeable(o conj) (int, bool) {
	if len(c) != len(o) {
		return 0, false
	}
	diff := -1
	for i := range c {
		if c[i].key() != o[i].key() {
			return 0, false
		}
		if !c[i].equal(o[i]) {
			if diff >= 0 {
				return 0, false
			}
			diff = i
		}
	}
	return diff, true
}

// A Marker is a boolean expression over the environment. The zero value is
// the marker that is always true.
type Marker struct {
	dnf   []conj
	never bool
}

// True returns the marker matching every environment.
func True() Marker { return Marker{} }

// False returns the marker matching no environment.
func False() Marker { return Marker{never: true} }

// IsFalse reports whether m matches no environment.
func (m Marker) IsFalse() bool {
	return m.never
}

// IsTrue reports whether m matches every environment.
func (m Marker) IsTrue() bool {
	if m.never {
		return false
	}
	if len(m.dnf) == 0 {
		return true
	}
	return m.Not().IsFalse()
}

func fromConjs(cs []conj) Marker {
	if len(cs) == 0 {
		return False()
	}
	return simplify(cs)
}

func atomMarker(d domain) Marker {
	if d.isEmpty() {
		return False()
	}
	if d.isAny() {
		return True()
	}
	return Marker{dnf: []conj{{d}}}
}

// And returns the intersection of m and o.
func (m Marker) And(o Marker) Marker {
	switch {
	case m.never || o.never:
		return False()
	case len(m.dnf) == 0:
		return o
	case len(o.dnf) == 0:
		return m
	}

	var out []conj
	for _, a := range m.dnf {
		for _, b := range o.dnf {
			if c, ok := a.and(b); ok {
				out = append(out, c)
			}
		}
	}
	return fromConjs(out)
}

// Or returns the union of m and o.
func (m Marker) Or(o Marker) Marker {
	switch {
	case m.never:
		return o
	case o.never:
		return m
	case len(m.dnf) == 0 || len(o.dnf) == 0:
		return True()
	}
	out := make([]conj, 0, len(m.dnf)+len(o.dnf))
	out = append(out, m.dnf...)
	out = append(out, o.dnf...)
	return fromConjs(out)
}

// Not returns the complement of m.
func (m Marker) Not() Marker {
	if m.never {
		return True()
	}
	if len(m.dnf) == 0 {
		return False()
	}

	result := True()
	for _, c := range m.dnf {
		negated := False()
		for _, d := range c {
			negated = negated.Or(atomMarker(d.complement()))
		}
		result = result.And(negated)
		if result.never {
			break
		}
	}
	return result
}

// Disjoint reports whether no environment matches both m and o.
func (m Marker) Disjoint(o Marker) bool {
	return m.And(o).IsFalse()
}

// Implies reports whether every environment matching m also matches o.
func (m Marker) Implies(o Marker) bool {
	return m.And(o.Not()).IsFalse()
}

// Equal reports whether m and o match the same environments.
func (m Marker) Equal(o Marker) bool {
	if m.String() == o.String() {
		return true
	}
	return m.Implies(o) && o.Implies(m)
}

// simplify drops conjunctions implied by others and merges pairs that differ
// in a single domain, until neither applies.
func simplify(cs []conj) Marker {
	work := make([]conj, 0, len(cs))
	for _, c := range cs {
		if len(c) == 0 {
			return True()
		}
		work = append(work, c)
	}

	for changed := true; changed; {
		changed = false
	scan:
		for i := 0; i < len(work); i++ {
			for j := 0; j < len(work); j++ {
				if i == j {
					continue
				}
				if work[i].implies(work[j]) {
					work = append(work[:i], work[i+1:]...)
					changed = true
					break scan
				}
				if j < i {
					continue
				}
				if k, ok := work[i].mergeable(work[j]); ok && k >= 0 {
					merged := append(conj{}, work[i]...)
					merged[k] = merged[k].union(work[j][k])
					if merged[k].isAny() {
						merged = append(merged[:k], merged[k+1:]...)
					}
					if len(merged) == 0 {
						return True()
					}
					work[i] = merged
					work = append(work[:j], work[j+1:]...)
					changed = true
					break scan
				}
			}
		}
	}

	sort.SliceStable(work, func(i, j int) bool {
		return work[i].String() < work[j].String()
	})
	return Marker{dnf: work}
}

// Python returns the marker matching interpreters whose full version lies in
// set.
func Python(set pep440.VersionSet) Marker {
	return atomMarker(domain{axis: PythonFullVersion, kind: kindVersion, vs: set})
}

// FromRequiresPython converts a requires-python bound into a marker over
// python_full_version.
func FromRequiresPython(specs pep440.Specifiers) Marker {
	return Python(specs.VersionSet())
}

// StringEquals returns the marker "axis == value" for a string axis.
func StringEquals(axis Axis, value string) Marker {
	if axis == Extra {
		value = normalizeExtra(value)
	}
	return atomMarker(domain{axis: axis, kind: kindString, ss: strSet{vals: []string{value}}})
}

// PythonRange returns the python_full_version values m can be true for.
// Conjunctions that do not test the Python version contribute every version.
func (m Marker) PythonRange() pep440.VersionSet {
	if m.never {
		return pep440.Empty()
	}
	if len(m.dnf) == 0 {
		return pep440.Any()
	}
	set := pep440.Empty()
	for _, c := range m.dnf {
		d, ok := c.find(string(PythonFullVersion))
		if !ok {
			return pep440.Any()
		}
		set = set.Union(d.vs)
	}
	return set
}

// WithoutPython drops every python_full_version test from m, widening it.
func (m Marker) WithoutPython() Marker {
	return m.drop(func(d domain) bool { return d.axis == PythonFullVersion && d.kind == kindVersion })
}

// SimplifyPython removes Python version tests that are implied by the given
// requires-python range. Markers in a lockfile are written relative to the
// project's requires-python this way.
func (m Marker) SimplifyPython(requires pep440.VersionSet) Marker {
	if m.never || len(m.dnf) == 0 {
		return m
	}
	var out []conj
	for _, c := range m.dnf {
		nc := make(conj, 0, len(c))
		unsat := false
		for _, d := range c {
			if d.axis == PythonFullVersion && d.kind == kindVersion {
				if requires.Subset(d.vs) {
					continue
				}
				if requires.Disjoint(d.vs) {
					unsat = true
					break
				}
			}
			nc = append(nc, d)
		}
		if !unsat {
			out = append(out, nc)
		}
	}
	return fromConjs(out)
}

// WithoutExtras drops every extra test from m.
func (m Marker) WithoutExtras() Marker {
	return m.drop(func(d domain) bool { return d.axis == Extra && d.kind == kindString })
}

func (m Marker) drop(match func(domain) bool) Marker {
	if m.never || len(m.dnf) == 0 {
		return m
	}
	out := make([]conj, 0, len(m.dnf))
	for _, c := range m.dnf {
		nc := make(conj, 0, len(c))
		for _, d := range c {
			if !match(d) {
				nc = append(nc, d)
			}
		}
		out = append(out, nc)
	}
	return fromConjs(out)
}

// Extras returns the normalized extra names m tests for, sorted.
func (m Marker) Extras() []string {
	seen := make(map[string]bool)
	for _, c := range m.dnf {
		for _, d := range c {
			if d.axis == Extra && d.kind == kindString {
				for _, v := range d.ss.vals {
					seen[v] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func normalizeExtra(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		if r == '-' || r == '_' || r == '.' {
			if !dash {
				b.WriteByte('-')
			}
			dash = true
			continue
		}
		dash = false
		b.WriteRune(r)
	}
	return b.String()
}
