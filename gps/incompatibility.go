// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"github.com/pydep/pydep/gps/pep440"
)

type causeKind uint8

const (
	// causeRoot is the incompatibility {not root}.
	causeRoot causeKind = iota
	// causeNoVersions says no usable version lies in its one term's range.
	causeNoVersions
	// causeDependency says its first term depends on the inverse of its
	// second.
	causeDependency
	// causeUnavailable says a single version cannot be used at all.
	causeUnavailable
	// causeDerived was learned from two other incompatibilities during
	// conflict resolution.
	causeDerived
)

// An incompatibility is a set of terms that must not all hold at once.
type incompatibility struct {
	terms []term
	kind  causeKind

	// Set for causeDerived.
	conflict, other *incompatibility
	// Set for causeNoVersions.
	noVersions *NoVersionsError
	// Set for causeUnavailable.
	reason string
}

func newIncompatibility(terms []term, kind causeKind) *incompatibility {
	// Root being selected is a given, so it says nothing in a derivation.
	if len(terms) != 1 && kind == causeDerived {
		kept := terms[:0:0]
		for _, t := range terms {
			if t.positive && t.pkg.kind == kindRoot {
				continue
			}
			kept = append(kept, t)
		}
		terms = kept
	}

	if len(terms) == 1 || (len(terms) == 2 && terms[0].pkg != terms[1].pkg) {
		return &incompatibility{terms: terms, kind: kind}
	}

	out := make([]term, 0, len(terms))
	at := make(map[solverPkg]int, len(terms))
	for _, t := range terms {
		i, has := at[t.pkg]
		if !has {
			at[t.pkg] = len(out)
			out = append(out, t)
			continue
		}
		if m, ok := out[i].intersect(t); ok {
			out[i] = m
		}
	}
	return &incompatibility{terms: out, kind: kind}
}

func derivedIncompat(terms []term, conflict, other *incompatibility) *incompatibility {
	ic := newIncompatibility(terms, causeDerived)
	ic.conflict, ic.other = conflict, other
	return ic
}

func dependencyIncompat(depender solverPkg, v pep440.Version, dep solverPkg, set pep440.VersionSet) *incompatibility {
	return &incompatibility{
		terms: []term{posTerm(depender, pep440.Singleton(v)), negTerm(dep, set)},
		kind:  causeDependency,
	}
}

func noVersionsIncompat(p solverPkg, set pep440.VersionSet, why *NoVersionsError) *incompatibility {
	return &incompatibility{terms: []term{posTerm(p, set)}, kind: causeNoVersions, noVersions: why}
}

func unavailableIncompat(p solverPkg, v pep440.Version, reason string) *incompatibility {
	return &incompatibility{terms: []term{posTerm(p, pep440.Singleton(v))}, kind: causeUnavailable, reason: reason}
}

// failure reports whether the incompatibility rules out every solution.
func (ic *incompatibility) failure() bool {
	return len(ic.terms) == 0 || (len(ic.terms) == 1 && ic.terms[0].positive && ic.terms[0].pkg.kind == kindRoot)
}

// externals calls fn for every non-derived incompatibility ic was derived
// from.
func (ic *incompatibility) externals(fn func(*incompatibility)) {
	seen := make(map[*incompatibility]bool)
	var walk func(*incompatibility)
	walk = func(c *incompatibility) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		if c.kind == causeDerived {
			walk(c.conflict)
			walk(c.other)
			return
		}
		fn(c)
	}
	walk(ic)
}
