// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"github.com/pydep/pydep/gps/pep440"
)

type pkgKind uint8

const (
	kindRoot pkgKind = iota
	// kindBase is a real package.
	kindBase
	// kindExtra is a package with one extra enabled. It depends on the base
	// package at the same version, and on the requirements the extra adds.
	kindExtra
	// kindGroup is a dependency group of a workspace member. It has the
	// single version 0 and depends on the group's requirements.
	kindGroup
)

// solverPkg is what the solver assigns versions to. Extras and groups are
// modeled as virtual packages so that conflicts name them.
type solverPkg struct {
	kind pkgKind
	name PackageName
	sub  ExtraName
}

var rootPkg = solverPkg{kind: kindRoot}

func basePkg(n PackageName) solverPkg               { return solverPkg{kind: kindBase, name: n} }
func extraPkg(n PackageName, e ExtraName) solverPkg { return solverPkg{kind: kindExtra, name: n, sub: e} }
func groupPkg(n PackageName, g ExtraName) solverPkg { return solverPkg{kind: kindGroup, name: n, sub: g} }

func (p solverPkg) String() string {
	switch p.kind {
	case kindRoot:
		return "the project"
	case kindExtra:
		return string(p.name) + "[" + string(p.sub) + "]"
	case kindGroup:
		return string(p.name) + ":" + string(p.sub)
	}
	return string(p.name)
}

// virtual packages never appear in a resolution.
func (p solverPkg) virtual() bool {
	return p.kind != kindBase
}

// groupVersion is the one version of root and group packages.
var groupVersion = pep440.FromRelease(0)

type setRelation uint8

const (
	relSubset setRelation = iota
	relDisjoint
	relOverlapping
)

// A term is a statement about one package: that it is selected at a version
// in set, or, when negative, that it is not.
type term struct {
	pkg      solverPkg
	set      pep440.VersionSet
	positive bool
}

func posTerm(p solverPkg, set pep440.VersionSet) term { return term{pkg: p, set: set, positive: true} }
func negTerm(p solverPkg, set pep440.VersionSet) term { return term{pkg: p, set: set} }

func (t term) inverse() term {
	return term{pkg: t.pkg, set: t.set, positive: !t.positive}
}

// relation computes how the versions t allows relate to those o allows.
// Both terms must be about the same package.
func (t term) relation(o term) setRelation {
	switch {
	case t.positive && o.positive:
		if t.set.Subset(o.set) {
			return relSubset
		}
		if t.set.Disjoint(o.set) {
			return relDisjoint
		}
		return relOverlapping
	case !t.positive && o.positive:
		if o.set.Subset(t.set) {
			return relDisjoint
		}
		return relOverlapping
	case t.positive && !o.positive:
		if t.set.Disjoint(o.set) {
			return relSubset
		}
		if t.set.Subset(o.set) {
			return relDisjoint
		}
		return relOverlapping
	default:
		if o.set.Subset(t.set) {
			return relSubset
		}
		return relOverlapping
	}
}

func (t term) satisfies(o term) bool {
	return t.pkg == o.pkg && t.relation(o) == relSubset
}

// intersect returns the term allowing what both t and o allow. It returns
// false if that is nothing.
func (t term) intersect(o term) (term, bool) {
	var out term
	switch {
	case t.positive != o.positive:
		pos, neg := t, o
		if !t.positive {
			pos, neg = o, t
		}
		out = posTerm(t.pkg, pos.set.Difference(neg.set))
	case t.positive:
		out = posTerm(t.pkg, t.set.Intersect(o.set))
	default:
		out = negTerm(t.pkg, t.set.Union(o.set))
	}
	if out.positive && out.set.IsEmpty() {
		return term{}, false
	}
	return out, true
}

func (t term) difference(o term) (term, bool) {
	return t.intersect(o.inverse())
}

func (t term) String() string {
	s := describeSet(t.pkg.name, t.set)
	if t.pkg.kind != kindBase {
		s = t.pkg.String()
		if !t.set.IsAny() && t.pkg.kind == kindExtra {
			s = describeSet(PackageName(t.pkg.String()), t.set)
		}
	}
	if !t.positive {
		return "not " + s
	}
	return s
}
