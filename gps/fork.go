// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pydep/pydep/gps/markers"
)

// A fork is a region of the environment space solved on its own.
type fork struct {
	env markers.Marker
	// excluded holds the tags of declared-conflict items that are never
	// active in the fork.
	excluded map[string]bool
	// id numbers forks in the order they were created, for tracing.
	id int
}

// forkResult is the outcome of one fork's solve.
type forkResult struct {
	fork   fork
	chosen map[PackageName]Release
	deps   map[solverPkg][]dep
}

// fingerprint identifies the versions a fork chose, so that forks that
// chose alike can be merged.
func (r forkResult) fingerprint() uint64 {
	lines := make([]string, 0, len(r.chosen))
	for n, rel := range r.chosen {
		lines = append(lines, string(n)+"=="+rel.Version.String()+"@"+sourceString(rel.Source))
	}
	sort.Strings(lines)
	h := xxhash.New()
	for _, l := range lines {
		h.WriteString(l)
		h.WriteString("\n")
	}
	return h.Sum64()
}

// splitRegions partitions env along ms. The i-th region is where ms[i] holds
// and no earlier marker does. With rest, the region where none holds is
// added last. Empty regions are dropped.
func splitRegions(env markers.Marker, ms []markers.Marker, rest bool) []markers.Marker {
	var out []markers.Marker
	covered := markers.False()
	for _, m := range ms {
		r := env.And(m).And(covered.Not())
		covered = covered.Or(m)
		if !r.IsFalse() {
			out = append(out, r)
		}
	}
	if rest {
		if r := env.And(covered.Not()); !r.IsFalse() {
			out = append(out, r)
		}
	}
	return out
}

// initialForks splits the environment space once per declared conflict
// set: in each region one item of the set may be active and the others are
// excluded. The region where two items are active at once is dropped.
func (s *solver) initialForks() []fork {
	forks := []fork{{env: s.env, excluded: map[string]bool{}}}
	for _, set := range s.rd.conflicts {
		ms := make([]markers.Marker, len(set))
		for k := range set {
			m := markers.True()
			for j, it := range set {
				if j != k {
					m = m.And(markers.StringEquals(markers.Extra, it.Tag()).Not())
				}
			}
			ms[k] = m
		}

		var next []fork
		for _, f := range forks {
			covered := markers.False()
			for k := range set {
				r := f.env.And(ms[k]).And(covered.Not())
				covered = covered.Or(ms[k])
				if r.IsFalse() {
					continue
				}
				ex := make(map[string]bool, len(f.excluded)+len(set))
				for t := range f.excluded {
					ex[t] = true
				}
				for j, it := range set {
					if j != k {
						ex[it.Tag()] = true
					}
				}
				next = append(next, fork{env: r, excluded: ex})
			}
		}
		forks = next
	}
	for i := range forks {
		forks[i].id = i + 1
	}
	return forks
}

type forkOutcome struct {
	res   forkResult
	split *forkRequest
}

// Solve resolves every fork of the environment space, splitting forks as
// their solves demand, then merges forks that chose the same versions.
func (s *solver) Solve(ctx context.Context) (Resolution, error) {
	if err := s.checkGroupConflicts(); err != nil {
		return Resolution{}, err
	}

	pending := s.initialForks()
	nextID := len(pending) + 1
	multi := len(pending) > 1
	var done []forkResult

	for len(pending) > 0 {
		outcomes := make([]forkOutcome, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.params.Concurrency)
		for i := range pending {
			i := i
			g.Go(func() error {
				res, err := newForkSolver(gctx, s, pending[i]).solve()
				if fr, ok := err.(*forkRequest); ok {
					outcomes[i].split = fr
					return nil
				}
				if err != nil {
					return s.forkFailure(pending[i], err, multi)
				}
				outcomes[i].res = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Resolution{}, err
		}

		var next []fork
		for i, o := range outcomes {
			if o.split == nil {
				done = append(done, o.res)
				continue
			}
			parent := pending[i]
			regions := splitRegions(parent.env, o.split.markers, true)
			s.traceSplit(parent, o.split, len(regions))
			for _, r := range regions {
				next = append(next, fork{env: r, excluded: parent.excluded, id: nextID})
				nextID++
			}
			multi = true
		}
		if len(done)+len(next) > s.params.MaxForks {
			return Resolution{}, badOptsFailure("the resolution split into too many forks; narrow the environments or the requires-python range")
		}
		pending = next
	}

	merged := mergeForks(done)
	if s.logger.Level >= logrus.DebugLevel {
		s.logger.WithFields(logrus.Fields{
			"forks":  len(done),
			"merged": len(merged),
		}).Debug("Resolution complete")
	}
	return s.assemble(merged), nil
}

// forkFailure dresses up a fork's error: clashes between extras or groups
// are reported as such, and failures confined to one fork say which.
func (s *solver) forkFailure(f fork, err error, multi bool) error {
	if ns, ok := err.(*NoSolutionError); ok {
		if cg := s.groupClash(ns); cg != nil {
			err = cg
		}
	}
	if multi {
		return &ForkError{Marker: f.env, Err: err}
	}
	return err
}

// groupClash looks through a failure's derivation for two extras or groups
// of workspace members whose requirements meet on one package.
func (s *solver) groupClash(ns *NoSolutionError) *ConflictingGroupsError {
	var items []ConflictItem
	dependers := make(map[PackageName]map[solverPkg]bool)
	ns.incompat.externals(func(ic *incompatibility) {
		if ic.kind != causeDependency {
			return
		}
		from, to := ic.terms[0].pkg, ic.terms[1].pkg
		if to.kind == kindBase && !s.rd.isMember(to.name) {
			if dependers[to.name] == nil {
				dependers[to.name] = make(map[solverPkg]bool)
			}
			dependers[to.name][from] = true
		}
		if from.kind != kindGroup && from.kind != kindExtra || !s.rd.isMember(from.name) {
			return
		}
		it := ConflictItem{Package: from.name}
		if from.kind == kindGroup {
			it.Group = from.sub
		} else {
			it.Extra = from.sub
		}
		for _, have := range items {
			if have == it {
				return
			}
		}
		items = append(items, it)
	})
	if len(items) < 2 {
		return nil
	}

	var pkg PackageName
	best := 0
	for n, ds := range dependers {
		if len(ds) > best || len(ds) == best && n < pkg {
			pkg, best = n, len(ds)
		}
	}
	return &ConflictingGroupsError{
		Items:   [2]ConflictItem{items[0], items[1]},
		Package: pkg,
		Cause:   ns,
	}
}

// mergeForks collapses forks that chose identical versions into one, whose
// environment is the union of theirs. Order of first appearance is kept.
func mergeForks(rs []forkResult) []forkResult {
	var out []forkResult
	at := make(map[uint64]int)
	for _, r := range rs {
		fp := r.fingerprint()
		if i, has := at[fp]; has {
			out[i].fork.env = out[i].fork.env.Or(r.fork.env)
			for p, ds := range r.deps {
				out[i].deps[p] = unionDeps(out[i].deps[p], ds)
			}
			continue
		}
		at[fp] = len(out)
		out = append(out, r)
	}
	return out
}

// unionDeps adds the edges of b missing from a. Forks filter edges by their
// own environments, so merged forks may each know edges the other lacks.
func unionDeps(a, b []dep) []dep {
	key := func(d dep) string {
		return d.pkg.String() + "|" + d.set.String() + "|" + d.marker.String()
	}
	have := make(map[string]bool, len(a))
	for _, d := range a {
		have[key(d)] = true
	}
	for _, d := range b {
		if !have[key(d)] {
			a = append(a, d)
			have[key(d)] = true
		}
	}
	return a
}

func forkLabel(f fork) string {
	var b strings.Builder
	b.WriteString("fork ")
	b.WriteString(strconv.Itoa(f.id))
	if !f.env.IsTrue() {
		b.WriteString(" (")
		b.WriteString(f.env.String())
		b.WriteString(")")
	}
	return b.String()
}
