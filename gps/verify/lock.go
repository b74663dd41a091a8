// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package verify

import (
	"sort"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/markers"
)

// Inputs are the parts of a project that a Resolution was computed from and
// that are recorded alongside it.
type Inputs struct {
	Members        []gps.PackageName
	RequiresPython string
	Requirements   []gps.Requirement
	Constraints    []string
	Overrides      []string
	// Options are the resolver settings that shape the result, by name.
	Options map[string]string
}

type constraintMismatch struct {
	Requirement string
	Versions    string
}

// LockSatisfaction describes how far a locked Resolution is from the current
// project inputs.
type LockSatisfaction struct {
	nolock                       bool
	missingMembers, extraMembers []string
	requiresPython               *StringDiff
	constraints, overrides       bool
	options                      map[string]StringDiff
	missingPkgs                  []string
	badreqs                      []constraintMismatch
}

// Passed is a shortcut method to check if any problems with the evaluted lock
// were identified.
func (ls LockSatisfaction) Passed() bool {
	return !ls.nolock && ls.PreferencesUsable() && len(ls.missingPkgs) == 0 && len(ls.badreqs) == 0
}

// PreferencesUsable reports whether the lock was made under the same
// settings, so that its versions are still meaningful hints. A lock with
// missing packages or unsatisfied requirements is still usable as a source of
// preferences.
func (ls LockSatisfaction) PreferencesUsable() bool {
	return !ls.nolock && ls.requiresPython == nil && !ls.constraints && !ls.overrides &&
		len(ls.options) == 0 && len(ls.missingMembers) == 0 && len(ls.extraMembers) == 0
}

func (ls LockSatisfaction) MissingMembers() []string { return ls.missingMembers }
func (ls LockSatisfaction) ExtraMembers() []string   { return ls.extraMembers }
func (ls LockSatisfaction) MissingPackages() []string {
	return ls.missingPkgs
}

// UnmatchedRequirements lists requirements whose package is locked, but at
// no version they accept.
func (ls LockSatisfaction) UnmatchedRequirements() []constraintMismatch {
	return ls.badreqs
}

// Reasons lists every problem found, one line each.
func (ls LockSatisfaction) Reasons() []string {
	if ls.nolock {
		return []string{"no lock"}
	}
	var out []string
	for _, m := range ls.missingMembers {
		out = append(out, "workspace member "+m+" is not in the lock")
	}
	for _, m := range ls.extraMembers {
		out = append(out, "lock has workspace member "+m+" which no longer exists")
	}
	if ls.requiresPython != nil {
		out = append(out, "requires-python changed: "+ls.requiresPython.String())
	}
	if ls.constraints {
		out = append(out, "constraints changed")
	}
	if ls.overrides {
		out = append(out, "overrides changed")
	}
	opts := make([]string, 0, len(ls.options))
	for k := range ls.options {
		opts = append(opts, k)
	}
	sort.Strings(opts)
	for _, k := range opts {
		d := ls.options[k]
		out = append(out, k+" changed: "+d.String())
	}
	for _, p := range ls.missingPkgs {
		out = append(out, "required package "+p+" is not in the lock")
	}
	for _, m := range ls.badreqs {
		out = append(out, "locked "+m.Versions+" does not satisfy "+m.Requirement)
	}
	return out
}

// LockSatisfiesInputs determines whether the locked Resolution, recorded with
// the locked inputs, still satisfies the current inputs.
//
// Each current requirement is checked against the locked entries of its
// package. Requirements whose marker excludes every locked environment are
// not checked.
func LockSatisfiesInputs(r *gps.Resolution, locked, current Inputs) LockSatisfaction {
	if r == nil {
		return LockSatisfaction{nolock: true}
	}

	ls := LockSatisfaction{options: make(map[string]StringDiff)}

	ls.extraMembers, ls.missingMembers = findAddedAndRemoved(nameStrings(current.Members), nameStrings(locked.Members))
	if locked.RequiresPython != current.RequiresPython {
		ls.requiresPython = &StringDiff{Previous: locked.RequiresPython, Current: current.RequiresPython}
	}
	a, rm := findAddedAndRemoved(locked.Constraints, current.Constraints)
	ls.constraints = len(a) > 0 || len(rm) > 0
	a, rm = findAddedAndRemoved(locked.Overrides, current.Overrides)
	ls.overrides = len(a) > 0 || len(rm) > 0

	for k, v := range current.Options {
		if locked.Options[k] != v {
			ls.options[k] = StringDiff{Previous: locked.Options[k], Current: v}
		}
	}
	for k, v := range locked.Options {
		if _, has := current.Options[k]; !has && v != "" {
			ls.options[k] = StringDiff{Previous: v}
		}
	}

	env := markers.False()
	if len(r.Forks) == 0 {
		env = markers.True()
	}
	for _, f := range r.Forks {
		env = env.Or(f)
	}

	for _, req := range current.Requirements {
		if req.Marker.WithoutExtras().Disjoint(env) {
			continue
		}
		entries := r.Find(req.Name)
		if len(entries) == 0 {
			ls.missingPkgs = append(ls.missingPkgs, string(req.Name))
			continue
		}
		set := req.VersionSet()
		ok := false
		for _, e := range entries {
			if set.Contains(e.Version) && (!req.IsDirect() || gps.SourcesEq(req.Source, e.Source) || sameRepo(req.Source, e.Source)) {
				ok = true
				break
			}
		}
		if !ok {
			ls.badreqs = append(ls.badreqs, constraintMismatch{Requirement: req.String(), Versions: string(req.Name) + " " + versions(entries)})
		}
	}
	sort.Strings(ls.missingPkgs)

	return ls
}

// sameRepo matches a requested git source against a locked one, which also
// carries the resolved commit.
func sameRepo(want, got gps.Source) bool {
	w, ok1 := want.(gps.GitSource)
	g, ok2 := got.(gps.GitSource)
	return ok1 && ok2 && w.Repository == g.Repository && w.Ref == g.Ref && w.Subdirectory == g.Subdirectory
}

func nameStrings(ns []gps.PackageName) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n)
	}
	return out
}

func markerStrings(ms []markers.Marker) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}
