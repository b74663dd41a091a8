// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"sort"

	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

// A Dependency is an edge in a resolution: the package it points to, the
// extras it enables, and the marker under which it applies. Version and
// Source are set only when the name alone is ambiguous.
type Dependency struct {
	Name    PackageName
	Version pep440.Version
	Source  Source
	Extras  ExtraNames
	Marker  markers.Marker
}

// ResolvedPackage is one chosen package version, with everything needed to
// install it and to walk the resolution from it.
type ResolvedPackage struct {
	Name           PackageName
	Version        pep440.Version
	Source         Source
	Index          string
	Member         bool
	RequiresPython pep440.Specifiers
	Artifacts      []Artifact
	Yanked         bool

	// ForkMarkers are the environments the version was chosen for, when
	// other environments chose another version of the package.
	ForkMarkers []markers.Marker

	Dependencies         []Dependency
	OptionalDependencies map[ExtraName][]Dependency
	DevDependencies      map[ExtraName][]Dependency
}

// Atom returns the identity of p.
func (p ResolvedPackage) Atom() Atom {
	return Atom{Name: p.Name, Version: p.Version, Source: p.Source}
}

// A Resolution is the complete result of a solve: for every package needed
// in some covered environment, the version chosen there.
type Resolution struct {
	RequiresPython pep440.Specifiers
	// Forks lists the environments solved separately, when there was more
	// than one.
	Forks     []markers.Marker
	Conflicts []ConflictSet
	// Packages are sorted by name, then version, then source.
	Packages []ResolvedPackage
}

// Find returns the entries for n.
func (r Resolution) Find(n PackageName) []ResolvedPackage {
	i := sort.Search(len(r.Packages), func(i int) bool { return r.Packages[i].Name >= n })
	var out []ResolvedPackage
	for ; i < len(r.Packages) && r.Packages[i].Name == n; i++ {
		out = append(out, r.Packages[i])
	}
	return out
}

// Atoms returns the identity of every resolved package.
func (r Resolution) Atoms() []Atom {
	out := make([]Atom, len(r.Packages))
	for i, p := range r.Packages {
		out[i] = p.Atom()
	}
	return out
}

func sortPackages(ps []ResolvedPackage) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if c := a.Version.Compare(b.Version); c != 0 {
			return c < 0
		}
		return sourceString(a.Source) < sourceString(b.Source)
	})
}

type entryKey struct {
	name PackageName
	ver  string
	src  string
}

func entryOf(n PackageName, rel Release) entryKey {
	return entryKey{name: n, ver: rel.Version.String(), src: sourceString(rel.Source)}
}

// edge accumulates one Dependency across forks.
type edge struct {
	to     entryKey
	extras ExtraNames
	marker markers.Marker
}

type edgeSet struct {
	order []entryKey
	by    map[entryKey]*edge
}

func (es *edgeSet) add(to entryKey, extra ExtraName, m markers.Marker) {
	if es.by == nil {
		es.by = make(map[entryKey]*edge)
	}
	e, has := es.by[to]
	if !has {
		e = &edge{to: to, marker: markers.False()}
		es.by[to] = e
		es.order = append(es.order, to)
	}
	e.marker = e.marker.Or(m)
	if extra != "" && !e.extras.contains(extra) {
		e.extras = append(e.extras, extra)
	}
}

// assemble turns the merged forks into a Resolution. Edges are recorded
// once per target version; an edge to a package with several versions
// carries the environment of the forks that chose each.
func (s *solver) assemble(forks []forkResult) Resolution {
	res := Resolution{
		RequiresPython: s.params.RequiresPython,
		Conflicts:      s.params.Conflicts,
	}
	if len(forks) > 1 {
		for _, f := range forks {
			res.Forks = append(res.Forks, s.lockMarker(f.fork.env))
		}
	}

	type entry struct {
		pkg   ResolvedPackage
		forks []markers.Marker
		deps  edgeSet
		opt   map[ExtraName]*edgeSet
		dev   map[ExtraName]*edgeSet
	}
	entries := make(map[entryKey]*entry)
	var order []entryKey
	versions := make(map[PackageName]map[entryKey]bool)

	for _, f := range forks {
		for n, rel := range f.chosen {
			k := entryOf(n, rel)
			e, has := entries[k]
			if !has {
				_, member := s.rd.members[n]
				e = &entry{
					pkg: ResolvedPackage{
						Name:           n,
						Version:        rel.Version,
						Source:         rel.Source,
						Index:          rel.Index,
						Member:         member,
						RequiresPython: rel.RequiresPython,
						Artifacts:      rel.Artifacts,
						Yanked:         rel.Yanked,
					},
					opt: make(map[ExtraName]*edgeSet),
					dev: make(map[ExtraName]*edgeSet),
				}
				entries[k] = e
				order = append(order, k)
			}
			e.forks = append(e.forks, f.fork.env)
			if versions[n] == nil {
				versions[n] = make(map[entryKey]bool)
			}
			versions[n][k] = true
		}
	}

	for _, f := range forks {
		for p, ds := range f.deps {
			if p.kind == kindRoot {
				continue
			}
			rel, has := f.chosen[p.name]
			if !has {
				continue
			}
			e := entries[entryOf(p.name, rel)]
			var set *edgeSet
			switch p.kind {
			case kindBase:
				set = &e.deps
			case kindExtra:
				if e.opt[p.sub] == nil {
					e.opt[p.sub] = &edgeSet{}
				}
				set = e.opt[p.sub]
			case kindGroup:
				if e.dev[p.sub] == nil {
					e.dev[p.sub] = &edgeSet{}
				}
				set = e.dev[p.sub]
			}
			for _, d := range ds {
				if d.pkg.name == p.name && d.pkg.kind == kindBase {
					continue
				}
				trel, ok := f.chosen[d.pkg.name]
				if !ok {
					continue
				}
				to := entryOf(d.pkg.name, trel)
				m := d.marker
				if len(versions[d.pkg.name]) > 1 {
					m = m.And(f.fork.env)
				}
				var extra ExtraName
				if d.pkg.kind == kindExtra {
					extra = d.pkg.sub
				}
				set.add(to, extra, m)
			}
		}
	}

	render := func(es *edgeSet) []Dependency {
		if es == nil {
			return nil
		}
		out := make([]Dependency, 0, len(es.order))
		for _, k := range es.order {
			ed := es.by[k]
			target := entries[k].pkg
			d := Dependency{
				Name:   k.name,
				Extras: dedupeExtras(ed.extras),
				Marker: s.lockMarker(ed.marker),
			}
			if len(versions[k.name]) > 1 {
				d.Version = target.Version
				d.Source = target.Source
			}
			out = append(out, d)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].Version.Less(out[j].Version)
		})
		return out
	}

	for _, k := range order {
		e := entries[k]
		p := e.pkg
		if len(versions[k.name]) > 1 {
			for _, fm := range e.forks {
				p.ForkMarkers = append(p.ForkMarkers, s.lockMarker(fm))
			}
		}
		p.Dependencies = render(&e.deps)
		if len(e.opt) > 0 {
			p.OptionalDependencies = make(map[ExtraName][]Dependency, len(e.opt))
			for x, es := range e.opt {
				p.OptionalDependencies[x] = render(es)
			}
		}
		if len(e.dev) > 0 {
			p.DevDependencies = make(map[ExtraName][]Dependency, len(e.dev))
			for g, es := range e.dev {
				p.DevDependencies[g] = render(es)
			}
		}
		res.Packages = append(res.Packages, p)
	}
	sortPackages(res.Packages)
	return res
}

// lockMarker writes m relative to the project's requires-python.
func (s *solver) lockMarker(m markers.Marker) markers.Marker {
	if s.rd.python.IsAny() {
		return m
	}
	return m.SimplifyPython(s.rd.python)
}
