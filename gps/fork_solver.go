// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

// A dep is one edge out of a package version, after markers, overrides and
// constraints have been applied.
type dep struct {
	pkg solverPkg
	set pep440.VersionSet
	// marker is the requirement's marker with extras resolved.
	marker markers.Marker
	req    Requirement
}

type depKey struct {
	pkg solverPkg
	ver string
}

func keyOf(p solverPkg, v pep440.Version) depKey {
	return depKey{pkg: p, ver: v.String()}
}

// forkSolver owns all search state for one fork. Forks share nothing
// mutable but the SourceManager.
type forkSolver struct {
	s   *solver
	ctx context.Context
	f   fork
	// Interpreter versions the fork covers; Any when unbounded.
	python pep440.VersionSet

	ps        *partialSolution
	incompats map[solverPkg][]*incompatibility

	lists   map[PackageName]VersionList
	sources map[PackageName]Source
	deps    map[depKey][]dep

	attempts int
}

func newForkSolver(ctx context.Context, s *solver, f fork) *forkSolver {
	fs := &forkSolver{
		s:         s,
		ctx:       ctx,
		f:         f,
		python:    f.env.PythonRange(),
		ps:        newPartialSolution(),
		incompats: make(map[solverPkg][]*incompatibility),
		lists:     make(map[PackageName]VersionList),
		sources:   make(map[PackageName]Source),
		deps:      make(map[depKey][]dep),
	}
	for n, src := range s.srcs {
		fs.sources[n] = src
	}
	return fs
}

// solve runs PubGrub to completion: unit propagation from the most recently
// changed package, then a decision, until every required package is decided.
func (fs *forkSolver) solve() (forkResult, error) {
	fs.s.traceStartFork(fs.f)
	fs.addIncompat(newIncompatibility([]term{negTerm(rootPkg, pep440.Any())}, causeRoot))

	next := rootPkg
	for {
		if err := fs.ctx.Err(); err != nil {
			return forkResult{}, err
		}
		if err := fs.propagate(next); err != nil {
			fs.s.traceFinish(fs.f, err)
			return forkResult{}, err
		}
		p, more, err := fs.choose()
		if err != nil {
			if _, isFork := err.(*forkRequest); !isFork {
				fs.s.traceFinish(fs.f, err)
			}
			return forkResult{}, err
		}
		if !more {
			break
		}
		next = p
	}

	res := fs.result()
	fs.s.traceFinish(fs.f, nil)
	if fs.s.logger.Level >= logrus.DebugLevel {
		fs.s.logger.WithFields(logrus.Fields{
			"fork":     describeMarker(fs.f.env),
			"attempts": fs.attempts,
			"packages": len(res.chosen),
		}).Debug("Fork solved")
	}
	return res, nil
}

func (fs *forkSolver) addIncompat(ic *incompatibility) {
	for _, t := range ic.terms {
		fs.incompats[t.pkg] = append(fs.incompats[t.pkg], ic)
	}
}

type propResult uint8

const (
	propNone propResult = iota
	propDerived
	propConflict
)

func (fs *forkSolver) propagate(start solverPkg) error {
	changed := []solverPkg{start}
	queued := map[solverPkg]bool{start: true}
	for len(changed) > 0 {
		p := changed[0]
		changed = changed[1:]
		delete(queued, p)

		ics := fs.incompats[p]
		for i := len(ics) - 1; i >= 0; i-- {
			derived, res := fs.propagateIncompat(ics[i])
			if res == propConflict {
				root, err := fs.resolveConflict(ics[i])
				if err != nil {
					return err
				}
				derived, res = fs.propagateIncompat(root)
				if res != propDerived {
					panic(fmt.Sprintf("canary - learned incompatibility %s does not propagate", fs.describe(root)))
				}
				changed = []solverPkg{derived}
				queued = map[solverPkg]bool{derived: true}
				break
			}
			if res == propDerived && !queued[derived] {
				changed = append(changed, derived)
				queued[derived] = true
			}
		}
	}
	return nil
}

// propagateIncompat derives the inverse of the one term of ic the partial
// solution leaves undecided, if every other term is satisfied.
func (fs *forkSolver) propagateIncompat(ic *incompatibility) (solverPkg, propResult) {
	unsat := -1
	for i, t := range ic.terms {
		switch fs.ps.relation(t) {
		case relDisjoint:
			return solverPkg{}, propNone
		case relOverlapping:
			if unsat >= 0 {
				return solverPkg{}, propNone
			}
			unsat = i
		}
	}
	if unsat < 0 {
		return solverPkg{}, propConflict
	}
	t := ic.terms[unsat]
	fs.ps.derive(t.inverse(), ic)
	return t.pkg, propDerived
}

// resolveConflict learns from a satisfied incompatibility: it walks the
// assignments that caused it back to the decision to undo, backjumps there,
// and returns the incompatibility to propagate from.
func (fs *forkSolver) resolveConflict(ic *incompatibility) (*incompatibility, error) {
	fs.s.traceConflict(fs, ic)
	learned := false
	for !ic.failure() {
		var (
			recentIdx  = -1
			recent     assignment
			diff       term
			hasDiff    bool
			prevLevel  = 1
			recentTerm term
		)
		for i, t := range ic.terms {
			sat, ok := fs.ps.satisfier(t)
			if !ok {
				panic("canary - no assignment satisfies " + t.String())
			}
			switch {
			case recentIdx < 0:
				recentIdx, recent, recentTerm = i, sat, t
			case recent.index < sat.index:
				prevLevel = maxInt(prevLevel, recent.level)
				recentIdx, recent, recentTerm = i, sat, t
				hasDiff = false
			default:
				prevLevel = maxInt(prevLevel, sat.level)
			}
			if recentIdx == i {
				diff, hasDiff = recent.term.difference(recentTerm)
				if hasDiff {
					if ds, ok := fs.ps.satisfier(diff.inverse()); ok {
						prevLevel = maxInt(prevLevel, ds.level)
					}
				}
			}
		}

		if prevLevel < recent.level || recent.decision() {
			fs.ps.backtrack(prevLevel)
			fs.s.traceBacktrack(fs, prevLevel)
			if learned {
				fs.addIncompat(ic)
			}
			return ic, nil
		}

		terms := make([]term, 0, len(ic.terms)+len(recent.cause.terms))
		for i, t := range ic.terms {
			if i != recentIdx {
				terms = append(terms, t)
			}
		}
		for _, t := range recent.cause.terms {
			if t.pkg != recent.pkg {
				terms = append(terms, t)
			}
		}
		if hasDiff {
			terms = append(terms, diff.inverse())
		}
		ic = derivedIncompat(terms, ic, recent.cause)
		learned = true
	}
	return nil, &NoSolutionError{incompat: ic}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// choose decides on a version for the next undecided package. It reports
// false once every required package has a version.
func (fs *forkSolver) choose() (solverPkg, bool, error) {
	unsat := fs.ps.unsatisfied()
	if len(unsat) == 0 {
		return solverPkg{}, false, nil
	}
	p := fs.pick(unsat)
	set := fs.ps.positive[p].set
	fs.attempts++

	var v pep440.Version
	switch {
	case p.kind == kindRoot || p.kind == kindGroup:
		v = groupVersion
		if !set.Contains(v) {
			fs.addIncompat(noVersionsIncompat(p, set, nil))
			return p, true, nil
		}
	case fs.s.rd.isMember(p.name):
		v = fs.s.rd.members[p.name].Version
		if !set.Contains(v) {
			why := &NoVersionsError{Name: p.name, Set: set, Reason: NoneInRange, Excluded: []pep440.Version{v}}
			fs.addIncompat(noVersionsIncompat(p, set, why))
			return p, true, nil
		}
	default:
		if bv, ok := fs.ps.decided[basePkg(p.name)]; ok && p.kind == kindExtra && set.Contains(bv) {
			v = bv
			break
		}
		q, err := fs.queue(p.name, set)
		if err != nil {
			return p, false, err
		}
		r, ok := q.current()
		if !ok {
			why := q.explain()
			fs.s.traceNoVersions(fs, p, why)
			fs.addIncompat(noVersionsIncompat(p, set, why))
			return p, true, nil
		}
		if full, _ := pythonSupport(fs.python, r.RequiresPython); !full {
			lo, _ := r.RequiresPython.VersionSet().LowerBound()
			split := markers.Python(pep440.AtLeast(lo))
			if len(splitRegions(fs.f.env, []markers.Marker{split}, true)) > 1 {
				return p, false, &forkRequest{
					markers: []markers.Marker{split},
					why:     fmt.Sprintf("%s %s requires Python %s", p.name, r.Version, r.RequiresPython),
				}
			}
			fs.addIncompat(unavailableIncompat(p, r.Version, "requires Python "+r.RequiresPython.String()))
			return p, true, nil
		}
		v = r.Version
	}

	deps, bad, err := fs.dependencies(p, v)
	if err != nil {
		return p, false, err
	}
	if bad != nil {
		fs.addIncompat(bad)
		return p, true, nil
	}

	conflict := false
	for _, d := range deps {
		ic := dependencyIncompat(p, v, d.pkg, d.set)
		fs.addIncompat(ic)
		if !conflict {
			conflict = true
			for _, t := range ic.terms {
				if t.pkg != p && !fs.ps.satisfies(t) {
					conflict = false
					break
				}
			}
		}
	}
	if !conflict {
		fs.ps.decide(p, v)
		fs.s.traceSelect(fs, p, v)
	}
	return p, true, nil
}

// pick chooses which undecided package to decide next: virtual packages
// first, then packages pinned to a single version or a direct source, then
// the rest in the order they were first required.
func (fs *forkSolver) pick(unsat []solverPkg) solverPkg {
	best, bestPrio := unsat[0], 99
	for _, p := range unsat {
		prio := 3
		switch {
		case p.kind == kindRoot:
			prio = 0
		case p.kind == kindGroup, p.kind == kindExtra:
			prio = 1
		case fs.s.rd.isMember(p.name):
			prio = 1
		default:
			if _, direct := fs.sources[p.name]; direct {
				prio = 2
			} else if _, pinned := fs.ps.positive[p].set.SingletonVersion(); pinned {
				prio = 2
			}
		}
		if prio < bestPrio {
			best, bestPrio = p, prio
		}
	}
	return best
}

// versions lists the releases of n, once per fork.
func (fs *forkSolver) versions(n PackageName) (VersionList, error) {
	if l, has := fs.lists[n]; has {
		return l, nil
	}
	src := fs.sources[n]
	if g, ok := src.(GitSource); ok && g.Commit == "" {
		// A locked commit keeps an unpinned git reference reproducible.
		for _, p := range fs.s.rd.preferred(n, fs.f.env) {
			if pg, ok := p.Source.(GitSource); ok && pg.String() == g.String() && pg.Commit != "" {
				src = pg
				break
			}
		}
	}
	l, err := fs.s.sm.ListVersions(fs.ctx, n, src)
	if err != nil {
		return VersionList{}, err
	}
	fs.lists[n] = l
	return l, nil
}

func (fs *forkSolver) queue(n PackageName, set pep440.VersionSet) (*versionQueue, error) {
	l, err := fs.versions(n)
	if err != nil {
		return nil, err
	}
	var prefs []pep440.Version
	for _, p := range fs.s.rd.preferred(n, fs.f.env) {
		prefs = append(prefs, p.Version)
	}
	filter := candidateFilter{
		set:         set,
		prerelease:  fs.s.params.Prerelease,
		explicit:    fs.s.rd.explicitPre[n],
		python:      fs.python,
		splitPython: fs.s.params.ForkStrategy == ForkRequiresPython,
	}
	return newVersionQueue(l, filter, fs.s.rd.lowest(fs.s.params.Strategy, n), prefs), nil
}

// release returns the chosen release of n at v.
func (fs *forkSolver) release(n PackageName, v pep440.Version) Release {
	if m, has := fs.s.rd.members[n]; has {
		return Release{Version: m.Version, RequiresPython: m.RequiresPython, Source: m.Source}
	}
	for _, r := range fs.lists[n].Releases {
		if r.Version.Equal(v) {
			return r
		}
	}
	panic(fmt.Sprintf("canary - %s %s was decided without being listed", n, v))
}

// dependencies returns the edges out of p at v. An unusable version yields
// an incompatibility instead.
func (fs *forkSolver) dependencies(p solverPkg, v pep440.Version) ([]dep, *incompatibility, error) {
	k := keyOf(p, v)
	if d, has := fs.deps[k]; has {
		return d, nil, nil
	}

	rd := fs.s.rd
	var out []dep
	var reqs []Requirement
	switch {
	case p.kind == kindRoot:
		for _, n := range rd.order {
			m := rd.members[n]
			out = append(out, dep{pkg: basePkg(n), set: pep440.Singleton(m.Version), marker: markers.True()})
			for _, x := range sortedKeys(m.OptionalDependencies) {
				if !fs.f.excluded[ConflictItem{Package: n, Extra: x}.Tag()] {
					out = append(out, dep{pkg: extraPkg(n, x), set: pep440.Singleton(m.Version), marker: markers.True()})
				}
			}
			for _, g := range sortedKeys(m.Groups) {
				if !fs.f.excluded[ConflictItem{Package: n, Group: g}.Tag()] {
					out = append(out, dep{pkg: groupPkg(n, g), set: pep440.Singleton(groupVersion), marker: markers.True()})
				}
			}
		}
		reqs = fs.s.params.Requirements

	case p.kind == kindGroup:
		reqs = rd.members[p.name].Groups[p.sub]

	case rd.isMember(p.name):
		m := rd.members[p.name]
		if p.kind == kindExtra {
			out = append(out, dep{pkg: basePkg(p.name), set: pep440.Singleton(v), marker: markers.True()})
			reqs = m.OptionalDependencies[p.sub]
		} else {
			reqs = m.Dependencies
		}

	default:
		md, err := fs.s.sm.FetchMetadata(fs.ctx, Atom{Name: p.name, Version: v, Source: fs.release(p.name, v).Source})
		if err != nil {
			return nil, nil, err
		}
		if md.Name != p.name || !md.Version.Equal(v) {
			why := fmt.Sprintf("its metadata describes %s %s", md.Name, md.Version)
			return nil, unavailableIncompat(p, v, why), nil
		}
		declared := md.RequiresDist
		if ovr, has := rd.depOvr[p.name]; has {
			declared = ovr
		}
		if p.kind == kindExtra {
			out = append(out, dep{pkg: basePkg(p.name), set: pep440.Singleton(v), marker: markers.True()})
			if !md.ProvidesExtras.contains(p.sub) {
				fs.s.logger.Warnf("%s %s does not provide the extra %q", p.name, v, p.sub)
			}
		}
		for _, r := range declared {
			base := r.Marker.ExtraPartial(nil)
			if p.kind == kindBase {
				if !base.IsFalse() {
					reqs = append(reqs, r.WithMarker(base))
				}
				continue
			}
			with := r.Marker.ExtraPartial([]string{string(p.sub)})
			if base.IsFalse() && !with.IsFalse() {
				reqs = append(reqs, r.WithMarker(with))
			}
		}
	}

	more, bad := fs.requirementDeps(p, v, reqs)
	if bad != nil {
		return nil, bad, nil
	}
	out = append(out, more...)
	if fr := fs.needsFork(out); fr != nil {
		return nil, nil, fr
	}
	fs.deps[k] = out
	return out, nil, nil
}

// requirementDeps turns requirements into edges within the fork.
func (fs *forkSolver) requirementDeps(p solverPkg, v pep440.Version, reqs []Requirement) ([]dep, *incompatibility) {
	rd := fs.s.rd
	var out []dep
	for _, r := range rd.applyOverrides(reqs) {
		m := r.Marker.ExtraPartial(nil)
		if m.And(fs.f.env).IsFalse() {
			continue
		}
		if r.Name == p.name && len(r.Extras) == 0 {
			continue
		}

		if r.IsDirect() && !rd.isMember(r.Name) {
			prev, has := fs.sources[r.Name]
			switch {
			case !has:
				fs.sources[r.Name] = r.Source
			case !SourcesEq(prev, r.Source):
				why := fmt.Sprintf("it requires %s from %s, which is already taken from %s", r.Name, r.Source, prev)
				return nil, unavailableIncompat(p, v, why)
			}
		}

		for _, part := range rd.constrainParts(r.Name, r.VersionSet(), m) {
			if part.marker.And(fs.f.env).IsFalse() {
				continue
			}
			if len(r.Extras) == 0 {
				out = append(out, dep{pkg: basePkg(r.Name), set: part.set, marker: part.marker, req: r})
				continue
			}
			for _, x := range r.Extras {
				out = append(out, dep{pkg: extraPkg(r.Name, x), set: part.set, marker: part.marker, req: r})
			}
		}
	}
	return out, nil
}

// needsFork asks for a split when two edges to one package demand disjoint
// versions under disjoint markers.
func (fs *forkSolver) needsFork(deps []dep) *forkRequest {
	for i := range deps {
		for j := i + 1; j < len(deps); j++ {
			a, b := deps[i], deps[j]
			if a.pkg != b.pkg || !a.set.Disjoint(b.set) {
				continue
			}
			if !a.marker.And(fs.f.env).Disjoint(b.marker.And(fs.f.env)) {
				continue
			}
			var ms []markers.Marker
			for _, d := range deps {
				if d.pkg == a.pkg {
					ms = append(ms, d.marker)
				}
			}
			if len(splitRegions(fs.f.env, ms, true)) < 2 {
				continue
			}
			return &forkRequest{
				markers: ms,
				why:     fmt.Sprintf("%s is required at %s and at %s", a.pkg, a.set, b.set),
			}
		}
	}
	return nil
}

func (fs *forkSolver) result() forkResult {
	res := forkResult{
		fork:   fs.f,
		chosen: make(map[PackageName]Release),
		deps:   make(map[solverPkg][]dep),
	}
	for p, v := range fs.ps.decided {
		res.deps[p] = fs.deps[keyOf(p, v)]
		if p.kind == kindBase {
			res.chosen[p.name] = fs.release(p.name, v)
		}
	}
	return res
}

func (fs *forkSolver) describe(ic *incompatibility) string {
	return newReportWriter(ic).describe(ic)
}
