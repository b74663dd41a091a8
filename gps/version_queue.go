// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
)

// ResolutionStrategy decides which end of a package's version range the
// solver tries first.
type ResolutionStrategy uint8

const (
	// StrategyHighest tries the newest version first.
	StrategyHighest ResolutionStrategy = iota
	// StrategyLowest tries the oldest version first, for every package.
	StrategyLowest
	// StrategyLowestDirect tries the oldest version first for direct
	// dependencies, and the newest for everything else.
	StrategyLowestDirect
)

var strategyNames = []string{"highest", "lowest", "lowest-direct"}

func (s ResolutionStrategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("strategy(%d)", s)
}

// ParseResolutionStrategy parses a strategy name. The empty string is the
// default, highest.
func ParseResolutionStrategy(s string) (ResolutionStrategy, error) {
	if s == "" {
		return StrategyHighest, nil
	}
	for i, n := range strategyNames {
		if n == s {
			return ResolutionStrategy(i), nil
		}
	}
	return 0, errors.Errorf("unknown resolution strategy %q (want one of %s)", s, strings.Join(strategyNames, ", "))
}

// PrereleaseMode controls when pre-release versions may be selected.
type PrereleaseMode uint8

const (
	// PrereleaseIfNecessaryOrExplicit admits pre-releases of a package when
	// one of its requirements names a pre-release, or when nothing else
	// matches. It is the default.
	PrereleaseIfNecessaryOrExplicit PrereleaseMode = iota
	// PrereleaseDisallow never admits pre-releases.
	PrereleaseDisallow
	// PrereleaseAllow admits pre-releases everywhere.
	PrereleaseAllow
	// PrereleaseIfNecessary admits pre-releases of a package only when no
	// final release matches.
	PrereleaseIfNecessary
	// PrereleaseExplicit admits pre-releases of a package only when one of
	// its requirements names a pre-release.
	PrereleaseExplicit
)

var prereleaseNames = []string{"if-necessary-or-explicit", "disallow", "allow", "if-necessary", "explicit"}

func (m PrereleaseMode) String() string {
	if int(m) < len(prereleaseNames) {
		return prereleaseNames[m]
	}
	return fmt.Sprintf("prerelease(%d)", m)
}

// ParsePrereleaseMode parses a pre-release mode name. The empty string is the
// default.
func ParsePrereleaseMode(s string) (PrereleaseMode, error) {
	if s == "" {
		return PrereleaseIfNecessaryOrExplicit, nil
	}
	for i, n := range prereleaseNames {
		if n == s {
			return PrereleaseMode(i), nil
		}
	}
	return 0, errors.Errorf("unknown pre-release mode %q (want one of %s)", s, strings.Join(prereleaseNames, ", "))
}

// NoVersionsReason classifies why no release of a package could be tried.
type NoVersionsReason uint8

const (
	// NoReleases: the package has no releases at all.
	NoReleases NoVersionsReason = iota
	// NoneInRange: releases exist, but none inside the requested range.
	NoneInRange
	// OnlyPrereleases: only pre-releases match, and the pre-release mode
	// excludes them.
	OnlyPrereleases
	// OnlyYanked: every match is yanked and none is pinned exactly.
	OnlyYanked
	// OnlyNewer: every match was uploaded after the exclude-newer cutoff.
	OnlyNewer
	// PythonIncompatible: no match supports the interpreters being resolved
	// for.
	PythonIncompatible
)

// NoVersionsError reports that a package has no usable version inside a
// range. It is the leaf cause of most unsatisfiable resolutions.
type NoVersionsError struct {
	Name   PackageName
	Set    pep440.VersionSet
	Reason NoVersionsReason
	// Excluded are the versions inside Set that exist but were rejected.
	Excluded []pep440.Version
	Mode     PrereleaseMode
	Python   pep440.VersionSet
}

func (e *NoVersionsError) Error() string {
	subject := string(e.Name)
	if !e.Set.IsAny() {
		subject = describeSet(e.Name, e.Set)
	}
	switch e.Reason {
	case NoReleases:
		return fmt.Sprintf("%s has no releases in any configured index", e.Name)
	case OnlyPrereleases:
		return fmt.Sprintf("only pre-releases match %s (%s), and pre-releases are not allowed under --prerelease=%s", subject, joinVersions(e.Excluded), e.Mode)
	case OnlyYanked:
		return fmt.Sprintf("every version matching %s is yanked (%s)", subject, joinVersions(e.Excluded))
	case OnlyNewer:
		return fmt.Sprintf("every version matching %s was published after the exclude-newer cutoff (%s)", subject, joinVersions(e.Excluded))
	case PythonIncompatible:
		return fmt.Sprintf("no version matching %s supports Python %s", subject, e.Python)
	}
	return fmt.Sprintf("no versions of %s match %s", e.Name, e.Set)
}

func joinVersions(vs []pep440.Version) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

// candidateFilter decides which releases of one package the solver may try.
type candidateFilter struct {
	set        pep440.VersionSet
	prerelease PrereleaseMode
	// explicit is set when a requirement on the package names a pre-release.
	explicit bool
	// python is the interpreter range being resolved for. Any disables the
	// requires-python check.
	python pep440.VersionSet
	// splitPython keeps releases that support only part of python; the
	// solver splits the fork when it picks one.
	splitPython bool
}

// pythonSupport reports how much of python a release's requires-python
// covers. Upper bounds are ignored, as indexes rarely mean them.
func pythonSupport(python pep440.VersionSet, rp pep440.Specifiers) (full, some bool) {
	if python.IsAny() || len(rp) == 0 {
		return true, true
	}
	supported := pep440.Any()
	if lo, ok := rp.VersionSet().LowerBound(); ok {
		supported = pep440.AtLeast(lo)
	}
	return python.Subset(supported), !python.Disjoint(supported)
}

// reject reports why r cannot be tried, ignoring the pre-release rules, or
// false if it can.
func (f candidateFilter) reject(r Release) (NoVersionsReason, bool) {
	if full, some := pythonSupport(f.python, r.RequiresPython); !some || (!full && !f.splitPython) {
		return PythonIncompatible, true
	}
	if r.Yanked {
		if v, ok := f.set.SingletonVersion(); !ok || !v.Equal(r.Version) {
			return OnlyYanked, true
		}
	}
	return 0, false
}

// A versionQueue yields the releases of one package in the order the solver
// should try them: preferred versions first, then the rest by strategy. It is
// lazy, and can be restarted with Reset.
type versionQueue struct {
	list     VersionList
	filter   candidateFilter
	prefs    []pep440.Version
	allowPre bool

	// order holds indexes into list.Releases in the order they are tried.
	order   []int
	prefPos int
	pos     int
	emitted []pep440.Version
}

func newVersionQueue(list VersionList, filter candidateFilter, lowest bool, prefs []pep440.Version) *versionQueue {
	vq := &versionQueue{
		list:   list,
		filter: filter,
		prefs:  prefs,
	}
	switch filter.prerelease {
	case PrereleaseAllow:
		vq.allowPre = true
	case PrereleaseExplicit:
		vq.allowPre = filter.explicit
	case PrereleaseIfNecessary:
		vq.allowPre = !vq.hasFinal()
	case PrereleaseIfNecessaryOrExplicit:
		vq.allowPre = filter.explicit || !vq.hasFinal()
	}

	n := len(list.Releases)
	vq.order = make([]int, n)
	for i := range vq.order {
		if lowest {
			vq.order[i] = i
		} else {
			vq.order[i] = n - 1 - i
		}
	}
	sort.SliceStable(vq.order, func(i, j int) bool {
		return list.Releases[vq.order[i]].tier < list.Releases[vq.order[j]].tier
	})
	vq.Reset()
	return vq
}

// hasFinal reports whether any final release passes the other filters.
func (vq *versionQueue) hasFinal() bool {
	for _, r := range vq.list.Releases {
		if r.Version.IsPrerelease() || !vq.filter.set.Contains(r.Version) {
			continue
		}
		if _, bad := vq.filter.reject(r); !bad {
			return true
		}
	}
	return false
}

func (vq *versionQueue) admits(r Release) bool {
	if !vq.filter.set.Contains(r.Version) {
		return false
	}
	if r.Version.IsPrerelease() && !vq.allowPre {
		return false
	}
	_, bad := vq.filter.reject(r)
	return !bad
}

// Reset restarts the queue from its first candidate.
func (vq *versionQueue) Reset() {
	vq.prefPos = 0
	vq.emitted = vq.emitted[:0]
	vq.pos = 0
}

func (vq *versionQueue) seen(v pep440.Version) bool {
	for _, e := range vq.emitted {
		if e.Equal(v) {
			return true
		}
	}
	return false
}

// Next returns up to k more candidates. It returns fewer only when the queue
// is exhausted.
func (vq *versionQueue) Next(k int) []Release {
	var out []Release
	for len(out) < k && vq.prefPos < len(vq.prefs) {
		pv := vq.prefs[vq.prefPos]
		vq.prefPos++
		for _, r := range vq.list.Releases {
			if r.Version.Equal(pv) && vq.admits(r) && !vq.seen(r.Version) {
				vq.emitted = append(vq.emitted, r.Version)
				out = append(out, r)
				break
			}
		}
	}
	for len(out) < k && vq.pos < len(vq.order) {
		r := vq.list.Releases[vq.order[vq.pos]]
		vq.pos++
		if vq.admits(r) && !vq.seen(r.Version) {
			out = append(out, r)
		}
	}
	return out
}

// current is the first candidate, if there is one.
func (vq *versionQueue) current() (Release, bool) {
	vq.Reset()
	rs := vq.Next(1)
	vq.Reset()
	if len(rs) == 0 {
		return Release{}, false
	}
	return rs[0], true
}

// explain classifies an exhausted queue. Among the rejected versions in
// range, the newest one's reason wins, except that excluded pre-releases are
// always reported.
func (vq *versionQueue) explain() *NoVersionsError {
	e := &NoVersionsError{
		Name:   vq.list.Name,
		Set:    vq.filter.set,
		Reason: NoneInRange,
		Mode:   vq.filter.prerelease,
		Python: vq.filter.python,
	}
	if len(vq.list.Releases) == 0 && len(vq.list.ExcludedNewer) == 0 {
		e.Reason = NoReleases
		return e
	}

	var last NoVersionsReason
	var anyRejected, pre bool
	for _, r := range vq.list.Releases {
		if !vq.filter.set.Contains(r.Version) {
			continue
		}
		e.Excluded = append(e.Excluded, r.Version)
		anyRejected = true
		if why, bad := vq.filter.reject(r); bad {
			last = why
			continue
		}
		if r.Version.IsPrerelease() && !vq.allowPre {
			last = OnlyPrereleases
			pre = true
		}
	}
	switch {
	case pre:
		e.Reason = OnlyPrereleases
	case anyRejected:
		e.Reason = last
	default:
		for _, v := range vq.list.ExcludedNewer {
			if vq.filter.set.Contains(v) {
				e.Excluded = append(e.Excluded, v)
			}
		}
		if len(e.Excluded) > 0 {
			e.Reason = OnlyNewer
		}
	}
	return e
}
