// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package markers

import (
	"strings"

	"github.com/pydep/pydep/gps/pep440"
)

// String renders m in canonical PEP 508 form. The true marker renders as the
// empty string; the false marker as "python_version < '0'".
func (m Marker) String() string {
	if m.never {
		return "python_version < '0'"
	}
	parts := make([]string, 0, len(m.dnf))
	for _, c := range m.dnf {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " or ")
}

func (c conj) String() string {
	parts := make([]string, 0, len(c))
	for _, d := range c {
		s := d.String()
		if len(c) > 1 && strings.Contains(s, " or ") {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " and ")
}

func quote(s string) string {
	if strings.Contains(s, "'") {
		return `"` + s + `"`
	}
	return "'" + s + "'"
}

func (d domain) String() string {
	switch d.kind {
	case kindOpaque:
		if d.ss.contains(truth) {
			return d.atom.String()
		}
		return d.atom.negate().String()
	case kindString:
		return renderStrings(d.axis, d.ss)
	}
	if d.axis == PythonFullVersion {
		return renderPython(d.vs)
	}
	return renderVersions(string(d.axis), d.vs)
}

func (a opaqueAtom) String() string {
	if a.valueFirst {
		return quote(a.value) + " " + a.op + " " + string(a.axis)
	}
	return string(a.axis) + " " + a.op + " " + quote(a.value)
}

var negatedOps = map[string]string{
	"in": "not in", "not in": "in",
	"==": "!=", "!=": "==",
	"<": ">=", ">=": "<",
	">": "<=", "<=": ">",
}

func (a opaqueAtom) negate() opaqueAtom {
	if n, ok := negatedOps[a.op]; ok {
		a.op = n
	}
	return a
}

func renderStrings(axis Axis, s strSet) string {
	op, join := "==", " or "
	if s.neg {
		op, join = "!=", " and "
	}
	parts := make([]string, len(s.vals))
	for i, v := range s.vals {
		parts[i] = string(axis) + " " + op + " " + quote(v)
	}
	return strings.Join(parts, join)
}

// renderVersions renders a version domain with PEP 440 specifier semantics.
func renderVersions(axis string, vs pep440.VersionSet) string {
	var ors []string
	for _, r := range vs.Ranges() {
		var ands []string
		lo, loInc, hasLo := r.Lower()
		hi, hiInc, hasHi := r.Upper()
		if hasLo && hasHi && loInc && hiInc && lo.Equal(hi.Plain()) {
			ors = append(ors, axis+" == "+quote(lo.Plain().String()))
			continue
		}
		if hasLo {
			op := ">"
			if loInc {
				op = ">="
			}
			ands = append(ands, axis+" "+op+" "+quote(lo.Plain().String()))
		}
		if hasHi {
			op := "<"
			if hiInc {
				op = "<="
			}
			ands = append(ands, axis+" "+op+" "+quote(hi.Plain().String()))
		}
		ors = append(ors, strings.Join(ands, " and "))
	}
	return strings.Join(ors, " or ")
}

// renderPython renders a python_full_version domain, preferring the
// python_version spelling where a bound falls on a minor-version boundary.
func renderPython(vs pep440.VersionSet) string {
	ranges := vs.Ranges()

	// A single hole shaped like one minor version is "!=".
	if len(ranges) == 2 {
		if gap := vs.Complement().Ranges(); len(gap) == 1 {
			if v, ok := minorRange(gap[0]); ok {
				return "python_version != " + quote(v)
			}
		}
	}

	var ors []string
	for _, r := range ranges {
		if v, ok := minorRange(r); ok {
			ors = append(ors, "python_version == "+quote(v))
			continue
		}
		var ands []string
		if lo, inc, ok := r.Lower(); ok {
			ands = append(ands, pythonBound(lo, inc, true))
		}
		if hi, inc, ok := r.Upper(); ok {
			ands = append(ands, pythonBound(hi, inc, false))
		}
		ors = append(ors, strings.Join(ands, " and "))
	}
	return strings.Join(ors, " or ")
}

// minorRange reports whether r covers exactly one X.Y python_version.
func minorRange(r pep440.Range) (string, bool) {
	lo, loInc, okLo := r.Lower()
	hi, hiInc, okHi := r.Upper()
	if !okLo || !okHi || !loInc || hiInc || !lo.IsFloor() || !hi.IsFloor() {
		return "", false
	}
	rel := lo.Release()
	if len(rel) != 2 {
		return "", false
	}
	if !hi.Plain().Equal(lo.Plain().BumpRelease(1)) {
		return "", false
	}
	return lo.Plain().String(), true
}

func pythonBound(v pep440.Version, inclusive, lower bool) string {
	short := v.IsFloor() && len(v.Release()) <= 2
	name := "python_full_version"
	if short {
		name = "python_version"
	}
	var op string
	switch {
	case lower && inclusive:
		op = ">="
	case lower:
		op = ">"
	case inclusive:
		op = "<="
	default:
		op = "<"
	}
	return name + " " + op + " " + quote(v.Plain().String())
}
