// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

// rootdata holds static data and constraining rules from the root project for
// use in solving. It is shared, read-only, by every fork.
type rootdata struct {
	// Workspace members by name.
	members map[PackageName]*Member
	// Member names in declaration order.
	order []PackageName

	// Requirements on a package are replaced by the overrides for it.
	ovr map[PackageName][]Requirement

	// The declared requirements of a package are replaced by these.
	depOvr map[PackageName][]Requirement

	// Constraints narrow requirements on a package without adding any.
	cons map[PackageName][]Requirement

	// Versions to try first, by package.
	prefs map[PackageName][]Preference

	// Flag indicating no preference should be honored.
	chngall bool

	// Packages whose preferences are ignored.
	chng map[PackageName]bool

	// Packages a root requirement names with a pre-release.
	explicitPre map[PackageName]bool

	// Packages any member or root requirement names directly.
	direct map[PackageName]bool

	// Declared mutually exclusive extras and groups, by tag.
	conflicts []ConflictSet

	// Python range the project supports; Any when unset.
	python pep440.VersionSet
}

func newRootdata(params SolveParameters) rootdata {
	rd := rootdata{
		members:     make(map[PackageName]*Member, len(params.Members)),
		ovr:         groupByName(params.Overrides),
		depOvr:      params.DependencyOverrides,
		cons:        groupByName(params.Constraints),
		prefs:       make(map[PackageName][]Preference),
		chngall:     params.Upgrade,
		chng:        make(map[PackageName]bool, len(params.UpgradePackages)),
		explicitPre: make(map[PackageName]bool),
		direct:      make(map[PackageName]bool),
		conflicts:   params.Conflicts,
		python:      params.RequiresPython.VersionSet(),
	}
	for i := range params.Members {
		m := &params.Members[i]
		rd.members[m.Name] = m
		rd.order = append(rd.order, m.Name)
	}
	for _, n := range params.UpgradePackages {
		rd.chng[n] = true
	}
	for _, p := range params.Preferences {
		rd.prefs[p.Name] = append(rd.prefs[p.Name], p)
	}

	note := func(reqs []Requirement, direct bool) {
		for _, r := range reqs {
			if r.Specifiers.MentionsPrerelease() {
				rd.explicitPre[r.Name] = true
			}
			if direct {
				rd.direct[r.Name] = true
			}
		}
	}
	for _, m := range params.Members {
		note(m.Dependencies, true)
		for _, reqs := range m.OptionalDependencies {
			note(reqs, true)
		}
		for _, reqs := range m.Groups {
			note(reqs, true)
		}
	}
	note(params.Requirements, true)
	note(params.Constraints, false)
	note(params.Overrides, false)
	return rd
}

func groupByName(reqs []Requirement) map[PackageName][]Requirement {
	out := make(map[PackageName][]Requirement)
	for _, r := range reqs {
		out[r.Name] = append(out[r.Name], r)
	}
	return out
}

func (rd rootdata) isMember(n PackageName) bool {
	_, has := rd.members[n]
	return has
}

// applyOverrides rewrites the requirements declared by a package. Overrides
// keep the original requirement's marker, so they apply only where it did.
func (rd rootdata) applyOverrides(reqs []Requirement) []Requirement {
	if len(rd.ovr) == 0 {
		return reqs
	}
	out := make([]Requirement, 0, len(reqs))
	for _, r := range reqs {
		ovs, has := rd.ovr[r.Name]
		if !has {
			out = append(out, r)
			continue
		}
		for _, o := range ovs {
			out = append(out, o.WithMarker(o.Marker.And(r.Marker)))
		}
	}
	return out
}

// constrained is a requirement's version set over the part of its marker
// where a fixed group of constraints applies.
type constrained struct {
	set    pep440.VersionSet
	marker markers.Marker
}

// constrainParts narrows set, required under m, by the constraints on n. A
// constraint whose marker covers only part of m splits the requirement, so
// it narrows the set only where the two markers overlap.
func (rd rootdata) constrainParts(n PackageName, set pep440.VersionSet, m markers.Marker) []constrained {
	parts := []constrained{{set: set, marker: m}}
	for _, c := range rd.cons[n] {
		if c.Marker.Disjoint(m) {
			continue
		}
		cs := c.VersionSet()
		next := make([]constrained, 0, len(parts)+1)
		for _, p := range parts {
			if p.marker.Implies(c.Marker) {
				next = append(next, constrained{set: p.set.Intersect(cs), marker: p.marker})
				continue
			}
			if in := p.marker.And(c.Marker); !in.IsFalse() {
				next = append(next, constrained{set: p.set.Intersect(cs), marker: in})
			}
			if out := p.marker.And(c.Marker.Not()); !out.IsFalse() {
				next = append(next, constrained{set: p.set, marker: out})
			}
		}
		parts = next
	}
	return parts
}

// constrain returns every version of n the constraints leave allowed
// somewhere under m.
func (rd rootdata) constrain(n PackageName, set pep440.VersionSet, m markers.Marker) pep440.VersionSet {
	parts := rd.constrainParts(n, set, m)
	out := pep440.Empty()
	for _, p := range parts {
		out = out.Union(p.set)
	}
	return out
}

// preferred returns the versions of n to try first within a fork. A full
// upgrade ignores every preference; a targeted upgrade ignores only those of
// the packages it names.
func (rd rootdata) preferred(n PackageName, env markers.Marker) []Preference {
	if rd.chngall || rd.chng[n] {
		return nil
	}
	var out []Preference
	for _, p := range rd.prefs[n] {
		if p.Marker.Disjoint(env) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// lowest reports whether candidates for n are tried oldest first.
func (rd rootdata) lowest(s ResolutionStrategy, n PackageName) bool {
	switch s {
	case StrategyLowest:
		return true
	case StrategyLowestDirect:
		return rd.direct[n]
	}
	return false
}
