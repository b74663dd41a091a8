// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"github.com/pydep/pydep/gps/pep440"
)

// An assignment is a decision or a derivation recorded in the partial
// solution.
type assignment struct {
	term
	level int
	index int
	// cause is nil for decisions.
	cause *incompatibility
}

func (a assignment) decision() bool { return a.cause == nil }

// partialSolution is the solver's current set of assignments, in order.
type partialSolution struct {
	assignments []assignment
	decisions   []solverPkg
	decided     map[solverPkg]pep440.Version

	// positive and negative accumulate the intersection of every assignment
	// to each package.
	positive map[solverPkg]term
	negative map[solverPkg]term

	// pending lists packages with a positive term in the order they were
	// first required, for stable choice of the next package.
	pending []solverPkg
}

func newPartialSolution() *partialSolution {
	return &partialSolution{
		decided:  make(map[solverPkg]pep440.Version),
		positive: make(map[solverPkg]term),
		negative: make(map[solverPkg]term),
	}
}

func (ps *partialSolution) level() int {
	return len(ps.decisions)
}

func (ps *partialSolution) decide(p solverPkg, v pep440.Version) {
	ps.decisions = append(ps.decisions, p)
	ps.decided[p] = v
	ps.assign(assignment{term: posTerm(p, pep440.Singleton(v)), level: ps.level()})
}

func (ps *partialSolution) derive(t term, cause *incompatibility) {
	ps.assign(assignment{term: t, level: ps.level(), cause: cause})
}

func (ps *partialSolution) assign(a assignment) {
	a.index = len(ps.assignments)
	ps.assignments = append(ps.assignments, a)
	ps.register(a)
}

func (ps *partialSolution) register(a assignment) {
	p := a.pkg
	if pos, has := ps.positive[p]; has {
		if m, ok := pos.intersect(a.term); ok {
			ps.positive[p] = m
		} else {
			ps.positive[p] = posTerm(p, pep440.Empty())
		}
		return
	}

	t := a.term
	if neg, has := ps.negative[p]; has {
		m, ok := neg.intersect(a.term)
		if !ok {
			m = posTerm(p, pep440.Empty())
		}
		t = m
	}
	if t.positive {
		delete(ps.negative, p)
		ps.positive[p] = t
		ps.pending = append(ps.pending, p)
	} else {
		ps.negative[p] = t
	}
}

// backtrack drops every assignment made after the given decision level.
func (ps *partialSolution) backtrack(level int) {
	for len(ps.decisions) > level {
		p := ps.decisions[len(ps.decisions)-1]
		ps.decisions = ps.decisions[:len(ps.decisions)-1]
		delete(ps.decided, p)
	}

	keep := ps.assignments[:0]
	for _, a := range ps.assignments {
		if a.level <= level {
			keep = append(keep, a)
		}
	}
	ps.assignments = keep

	ps.positive = make(map[solverPkg]term)
	ps.negative = make(map[solverPkg]term)
	ps.pending = ps.pending[:0]
	for _, a := range ps.assignments {
		ps.register(a)
	}
}

// relation reports how the partial solution's knowledge of t's package
// relates to t.
func (ps *partialSolution) relation(t term) setRelation {
	if pos, has := ps.positive[t.pkg]; has {
		return pos.relation(t)
	}
	if neg, has := ps.negative[t.pkg]; has {
		return neg.relation(t)
	}
	return relOverlapping
}

func (ps *partialSolution) satisfies(t term) bool {
	return ps.relation(t) == relSubset
}

// satisfier returns the earliest assignment after which the partial solution
// satisfies t.
func (ps *partialSolution) satisfier(t term) (assignment, bool) {
	var acc term
	have := false
	for _, a := range ps.assignments {
		if a.pkg != t.pkg {
			continue
		}
		if !have {
			acc, have = a.term, true
		} else if m, ok := acc.intersect(a.term); ok {
			acc = m
		} else {
			acc = posTerm(t.pkg, pep440.Empty())
		}
		if acc.satisfies(t) {
			return a, true
		}
	}
	return assignment{}, false
}

// unsatisfied returns the packages that are required but not yet decided,
// in the order they were first required.
func (ps *partialSolution) unsatisfied() []solverPkg {
	var out []solverPkg
	seen := make(map[solverPkg]bool)
	for _, p := range ps.pending {
		if seen[p] {
			continue
		}
		seen[p] = true
		if _, done := ps.decided[p]; done {
			continue
		}
		if _, pos := ps.positive[p]; pos {
			out = append(out, p)
		}
	}
	return out
}
