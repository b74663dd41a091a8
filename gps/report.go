// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"fmt"
	"strings"

	"github.com/pydep/pydep/gps/pep440"
)

// describeSet renders a requirement on n restricted to set, in requirement
// syntax where the set allows it.
func describeSet(n PackageName, set pep440.VersionSet) string {
	if set.IsAny() {
		return string(n)
	}
	if v, ok := set.SingletonVersion(); ok {
		return string(n) + "==" + v.String()
	}
	if specs, ok := set.Specifiers(); ok {
		return string(n) + specs.String()
	}
	return fmt.Sprintf("%s (%s)", n, set)
}

type reportLine struct {
	msg    string
	number int
}

// reportWriter explains a failed resolution by walking the derivation graph
// of its final incompatibility. Incompatibilities referred to more than once
// are numbered so later lines can cite them.
type reportWriter struct {
	root        *incompatibility
	derivations map[*incompatibility]int
	lines       []reportLine
	numbers     map[*incompatibility]int
}

func newReportWriter(root *incompatibility) *reportWriter {
	w := &reportWriter{
		root:        root,
		derivations: make(map[*incompatibility]int),
		numbers:     make(map[*incompatibility]int),
	}
	w.count(root)
	return w
}

func (w *reportWriter) count(ic *incompatibility) {
	if _, has := w.derivations[ic]; has {
		w.derivations[ic]++
		return
	}
	w.derivations[ic] = 1
	if ic.kind == causeDerived {
		w.count(ic.conflict)
		w.count(ic.other)
	}
}

func (w *reportWriter) write() string {
	if w.root.kind == causeDerived {
		w.visit(w.root, false)
	} else {
		w.emit(w.root, fmt.Sprintf("Because %s, version solving failed.", w.describe(w.root)), false)
	}

	pad := 0
	if n := len(w.numbers); n > 0 {
		pad = len(fmt.Sprintf("(%d) ", n))
	}

	var b strings.Builder
	lastEmpty := false
	for _, l := range w.lines {
		if l.msg == "" {
			if !lastEmpty {
				b.WriteString("\n")
			}
			lastEmpty = true
			continue
		}
		lastEmpty = false
		if l.number > 0 {
			num := fmt.Sprintf("(%d)", l.number)
			b.WriteString(num + strings.Repeat(" ", pad-len(num)))
		} else {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(l.msg)
		b.WriteString("\n")
	}
	return b.String()
}

func (w *reportWriter) emit(ic *incompatibility, msg string, numbered bool) {
	if !numbered {
		w.lines = append(w.lines, reportLine{msg: msg})
		return
	}
	n := len(w.numbers) + 1
	w.numbers[ic] = n
	w.lines = append(w.lines, reportLine{msg: msg, number: n})
}

func derived(ic *incompatibility) bool {
	return ic.kind == causeDerived
}

func (w *reportWriter) visit(ic *incompatibility, conclusion bool) {
	numbered := conclusion || w.derivations[ic] > 1
	conj := "And"
	if conclusion || ic == w.root {
		conj = "So,"
	}
	text := w.describe(ic)

	c, o := ic.conflict, ic.other
	switch {
	case derived(c) && derived(o):
		cl, ol := w.numbers[c], w.numbers[o]
		switch {
		case cl > 0 && ol > 0:
			w.emit(ic, fmt.Sprintf("Because %s, %s.", w.andToString(c, o, cl, ol), text), numbered)
		case cl > 0 || ol > 0:
			with, without, line := c, o, cl
			if cl == 0 {
				with, without, line = o, c, ol
			}
			w.visit(without, false)
			w.emit(ic, fmt.Sprintf("%s because %s (%d), %s.", conj, w.describe(with), line, text), numbered)
		default:
			singleC, singleO := w.singleLine(c), w.singleLine(o)
			if singleC || singleO {
				first, second := o, c
				if singleO {
					first, second = c, o
				}
				w.visit(first, false)
				w.visit(second, false)
				w.emit(ic, fmt.Sprintf("Thus, %s.", text), numbered)
			} else {
				w.visit(c, true)
				w.lines = append(w.lines, reportLine{})
				w.visit(o, false)
				w.emit(ic, fmt.Sprintf("%s because %s (%d), %s.", conj, w.describe(c), w.numbers[c], text), numbered)
			}
		}

	case derived(c) || derived(o):
		der, ext := c, o
		if !derived(c) {
			der, ext = o, c
		}
		switch {
		case w.numbers[der] > 0:
			w.emit(ic, fmt.Sprintf("Because %s, %s.", w.andToString(ext, der, 0, w.numbers[der]), text), numbered)
		case w.collapsible(der):
			dc, do := der.conflict, der.other
			cder, cext := dc, do
			if !derived(dc) {
				cder, cext = do, dc
			}
			w.visit(cder, false)
			w.emit(ic, fmt.Sprintf("%s because %s, %s.", conj, w.andToString(cext, ext, 0, 0), text), numbered)
		default:
			w.visit(der, false)
			w.emit(ic, fmt.Sprintf("%s because %s, %s.", conj, w.describe(ext), text), numbered)
		}

	default:
		w.emit(ic, fmt.Sprintf("Because %s, %s.", w.andToString(c, o, 0, 0), text), numbered)
	}
}

// singleLine reports whether ic is derived from two external facts.
func (w *reportWriter) singleLine(ic *incompatibility) bool {
	return !derived(ic.conflict) && !derived(ic.other)
}

// collapsible reports whether ic can be folded into the line that uses it.
func (w *reportWriter) collapsible(ic *incompatibility) bool {
	if w.derivations[ic] > 1 {
		return false
	}
	if derived(ic.conflict) == derived(ic.other) {
		return false
	}
	inner := ic.conflict
	if !derived(inner) {
		inner = ic.other
	}
	_, numbered := w.numbers[inner]
	return !numbered
}

func (w *reportWriter) andToString(a, b *incompatibility, aLine, bLine int) string {
	if s, ok := w.requiresBoth(a, b, aLine, bLine); ok {
		return s
	}
	var sb strings.Builder
	sb.WriteString(w.describe(a))
	if aLine > 0 {
		fmt.Fprintf(&sb, " (%d)", aLine)
	}
	sb.WriteString(" and ")
	sb.WriteString(w.describe(b))
	if bLine > 0 {
		fmt.Fprintf(&sb, " (%d)", bLine)
	}
	return sb.String()
}

// requiresBoth joins two dependencies of the same package version into one
// clause.
func (w *reportWriter) requiresBoth(a, b *incompatibility, aLine, bLine int) (string, bool) {
	if a.kind != causeDependency || b.kind != causeDependency {
		return "", false
	}
	da, db := a.terms[0], b.terms[0]
	if da.pkg != db.pkg || !da.set.Equal(db.set) {
		return "", false
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s depends on both %s", da, a.terms[1].inverse())
	if aLine > 0 {
		fmt.Fprintf(&sb, " (%d)", aLine)
	}
	fmt.Fprintf(&sb, " and %s", b.terms[1].inverse())
	if bLine > 0 {
		fmt.Fprintf(&sb, " (%d)", bLine)
	}
	return sb.String(), true
}

// describe renders a single incompatibility as a clause.
func (w *reportWriter) describe(ic *incompatibility) string {
	switch ic.kind {
	case causeDependency:
		return fmt.Sprintf("%s depends on %s", ic.terms[0], ic.terms[1].inverse())
	case causeNoVersions:
		if ic.noVersions != nil {
			return ic.noVersions.Error()
		}
		t := ic.terms[0]
		if t.pkg.virtual() {
			return fmt.Sprintf("%s is not available", t.pkg)
		}
		return fmt.Sprintf("no versions of %s match %s", t.pkg, t.set)
	case causeUnavailable:
		return fmt.Sprintf("%s is unavailable because %s", ic.terms[0], ic.reason)
	case causeRoot:
		return "the project is required"
	}
	if ic.failure() {
		return "version solving failed"
	}

	if len(ic.terms) == 1 {
		t := ic.terms[0]
		if t.positive {
			return fmt.Sprintf("%s is forbidden", t)
		}
		return fmt.Sprintf("%s is required", t.inverse())
	}

	if len(ic.terms) == 2 {
		a, b := ic.terms[0], ic.terms[1]
		if a.positive && b.positive {
			return fmt.Sprintf("%s is incompatible with %s", a, b)
		}
		if !a.positive && !b.positive {
			return fmt.Sprintf("either %s or %s", a.inverse(), b.inverse())
		}
	}

	var pos, neg []string
	for _, t := range ic.terms {
		if t.positive {
			pos = append(pos, t.String())
		} else {
			neg = append(neg, t.inverse().String())
		}
	}
	switch {
	case len(pos) == 1 && len(neg) > 0:
		return fmt.Sprintf("%s requires %s", pos[0], strings.Join(neg, " or "))
	case len(pos) > 0 && len(neg) > 0:
		return fmt.Sprintf("if %s then %s", strings.Join(pos, " and "), strings.Join(neg, " or "))
	case len(pos) > 0:
		return fmt.Sprintf("one of %s must be false", strings.Join(pos, " or "))
	}
	return fmt.Sprintf("one of %s must be true", strings.Join(neg, " or "))
}
