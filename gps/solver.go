// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

// A Member is a workspace package: a local project whose requirements are
// read from its own pyproject.toml rather than fetched.
type Member struct {
	Name           PackageName
	Version        pep440.Version
	Source         PathSource
	RequiresPython pep440.Specifiers
	Dependencies   []Requirement
	// OptionalDependencies are the member's extras.
	OptionalDependencies map[ExtraName][]Requirement
	// Groups are the member's dependency groups, with include-group
	// references already expanded.
	Groups map[ExtraName][]Requirement
}

// A ConflictItem names one extra or one dependency group of a member.
// Exactly one of Extra and Group is set.
type ConflictItem struct {
	Package PackageName
	Extra   ExtraName
	Group   ExtraName
}

func (c ConflictItem) String() string {
	if c.Group != "" {
		return fmt.Sprintf("%s:%s", c.Package, c.Group)
	}
	return fmt.Sprintf("%s[%s]", c.Package, c.Extra)
}

// Tag is the value the extra marker axis takes when the item is active.
// Resolutions that fork over declared conflicts are marked with it.
func (c ConflictItem) Tag() string {
	if c.Group != "" {
		return "group-" + string(c.Package) + "-" + string(c.Group)
	}
	return "extra-" + string(c.Package) + "-" + string(c.Extra)
}

func (c ConflictItem) pkg() solverPkg {
	if c.Group != "" {
		return groupPkg(c.Package, c.Group)
	}
	return extraPkg(c.Package, c.Extra)
}

// A ConflictSet is a set of extras and groups declared mutually exclusive:
// at most one of them may be installed at a time.
type ConflictSet []ConflictItem

// A Preference is a version to try first, usually read from an existing
// lockfile. Marker restricts it to the forks it was locked for.
type Preference struct {
	Name    PackageName
	Version pep440.Version
	Source  Source
	Marker  markers.Marker
}

// ForkStrategy controls how a universal resolution treats releases that
// support only part of the project's Python range.
type ForkStrategy uint8

const (
	// ForkRequiresPython forks the resolution so that each Python range gets
	// the newest release that supports it.
	ForkRequiresPython ForkStrategy = iota
	// ForkFewest avoids forking: a release must support the whole range of
	// the fork it is chosen in.
	ForkFewest
)

var forkStrategyNames = []string{"requires-python", "fewest"}

func (f ForkStrategy) String() string {
	if int(f) < len(forkStrategyNames) {
		return forkStrategyNames[f]
	}
	return fmt.Sprintf("fork-strategy(%d)", f)
}

// ParseForkStrategy parses a fork strategy name. The empty string is the
// default.
func ParseForkStrategy(s string) (ForkStrategy, error) {
	if s == "" {
		return ForkRequiresPython, nil
	}
	for i, n := range forkStrategyNames {
		if n == s {
			return ForkStrategy(i), nil
		}
	}
	return 0, errors.Errorf("unknown fork strategy %q (want one of %s)", s, strings.Join(forkStrategyNames, ", "))
}

// SolveParameters hold all arguments to a solver run.
//
// Only Members or Requirements are absolutely required. The rest shape the
// result: constraints, overrides and preferences narrow or steer it, and the
// environments and requires-python bound the space it must cover.
type SolveParameters struct {
	// Members are the workspace packages. Each of their extras and groups is
	// resolved too.
	Members []Member

	// Requirements are root requirements not owned by any member.
	Requirements []Requirement

	// Constraints narrow the versions of packages that are required, without
	// requiring them.
	Constraints []Requirement

	// Overrides replace every requirement on the packages they name,
	// wherever it is declared.
	Overrides []Requirement

	// DependencyOverrides replace the declared requirements of the packages
	// they are keyed by.
	DependencyOverrides map[PackageName][]Requirement

	// Preferences are tried before any other version of their package.
	Preferences []Preference

	// Upgrade ignores every preference.
	Upgrade bool

	// UpgradePackages ignores the preferences for the packages named. Their
	// dependents and dependencies keep theirs.
	UpgradePackages []PackageName

	Strategy     ResolutionStrategy
	Prerelease   PrereleaseMode
	ForkStrategy ForkStrategy

	// RequiresPython is the Python range the resolution must support.
	RequiresPython pep440.Specifiers

	// Environments restrict the resolution to environments matching any of
	// the markers. Empty means every environment.
	Environments []markers.Marker

	// Conflicts declare extras and groups that are never installed together.
	// Each item of a set is resolved in a fork of its own.
	Conflicts []ConflictSet

	// Concurrency bounds how many forks are solved at once. Defaults to 4.
	Concurrency int

	// MaxForks bounds how many forks a resolution may split into. Defaults
	// to 256.
	MaxForks int

	// Logger receives structured debug output.
	Logger *logrus.Logger

	// Trace controls whether the solver will generate informative trace output
	// as it moves through the solving process.
	Trace bool

	// TraceLogger is the logger to use for generating trace output. If Trace is
	// true but no logger is provided, solving will result in an error.
	TraceLogger *log.Logger
}

// A Solver is the main workhorse of gps: given a set of project inputs, it
// performs a constraint solving analysis to develop a complete Resolution, or
// else fail with an informative error.
type Solver interface {
	// Solve initiates a solving run. It will either abort due to a canceled
	// Context, complete successfully with a Resolution, or fail with an
	// informative error.
	Solve(context.Context) (Resolution, error)

	// Name returns a string identifying the particular solver backend.
	Name() string

	// Version returns an int indicating the version of the solver of the given
	// Name(). Implementations should change their reported version ONLY when
	// the logic is changed in such a way that substantially changes the result
	// set that is possible for a substantially similar set of inputs.
	Version() int
}

// solver is a PubGrub-style CDCL solver, run once per fork of the
// environment space.
type solver struct {
	params SolveParameters
	sm     SourceManager
	rd     rootdata
	// Logger used exclusively for trace output, or nil to suppress.
	tl     *log.Logger
	logger *logrus.Logger

	// Environment space the resolution covers.
	env markers.Marker
	// Sources fixed by first-party requirements.
	srcs map[PackageName]Source
}

// Prepare readies a Solver for use.
//
// This function reads and validates the provided SolveParameters. If a problem
// with the inputs is detected, an error is returned. Otherwise, a Solver is
// returned, ready to hash and check inputs or perform a solving run.
func Prepare(params SolveParameters, sm SourceManager) (Solver, error) {
	if sm == nil {
		return nil, badOptsFailure("must provide non-nil SourceManager")
	}
	if len(params.Members) == 0 && len(params.Requirements) == 0 {
		return nil, badOptsFailure("must provide at least one workspace member or root requirement")
	}
	if params.Trace && params.TraceLogger == nil {
		return nil, badOptsFailure("trace requested, but no logger provided")
	}

	seen := make(map[PackageName]bool)
	for _, m := range params.Members {
		if m.Name == "" {
			return nil, badOptsFailure("workspace member with an empty name")
		}
		if seen[m.Name] {
			return nil, badOptsFailure(fmt.Sprintf("workspace member %s declared twice", m.Name))
		}
		if m.Version.IsZero() {
			return nil, badOptsFailure(fmt.Sprintf("workspace member %s has no version", m.Name))
		}
		seen[m.Name] = true
	}
	for _, o := range params.Overrides {
		if len(o.Specifiers) == 0 && o.Source == nil && o.Marker.IsTrue() {
			return nil, badOptsFailure(fmt.Sprintf("override for %s, but without any non-zero properties", o.Name))
		}
	}
	if err := validateConflicts(params.Conflicts, params.Members); err != nil {
		return nil, err
	}

	s := &solver{
		params: params,
		sm:     sm,
		rd:     newRootdata(params),
		logger: params.Logger,
		srcs:   make(map[PackageName]Source),
	}
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.Out = ioutil.Discard
	}
	if params.Trace {
		s.tl = params.TraceLogger
	}
	if s.params.Concurrency <= 0 {
		s.params.Concurrency = 4
	}
	if s.params.MaxForks <= 0 {
		s.params.MaxForks = 256
	}

	s.env = markers.False()
	for _, m := range params.Environments {
		s.env = s.env.Or(m)
	}
	if len(params.Environments) == 0 {
		s.env = markers.True()
	}
	if len(params.RequiresPython) > 0 {
		s.env = s.env.And(markers.FromRequiresPython(params.RequiresPython))
	}
	if s.env.IsFalse() {
		return nil, badOptsFailure("the environments leave nothing to resolve for")
	}

	if err := s.collectSources(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *solver) Name() string {
	return "pubgrub"
}

func (s *solver) Version() int {
	return 1
}

func validateConflicts(sets []ConflictSet, members []Member) error {
	byName := make(map[PackageName]*Member, len(members))
	for i := range members {
		byName[members[i].Name] = &members[i]
	}
	for _, set := range sets {
		if len(set) < 2 {
			return badOptsFailure("a conflict set needs at least two items")
		}
		for _, it := range set {
			if _, has := byName[it.Package]; !has {
				return badOptsFailure(fmt.Sprintf("conflict item %s names a package outside the workspace", it))
			}
			if (it.Extra == "") == (it.Group == "") {
				return badOptsFailure(fmt.Sprintf("conflict item for %s must name exactly one extra or group", it.Package))
			}
		}
		for _, it := range set {
			m := byName[it.Package]
			_, hasExtra := m.OptionalDependencies[it.Extra]
			_, hasGroup := m.Groups[it.Group]
			if it.Extra != "" && !hasExtra || it.Group != "" && !hasGroup {
				return badOptsFailure(fmt.Sprintf("conflict item %s does not exist", it))
			}
		}
	}
	return nil
}

// collectSources fixes the source of every package a first-party
// requirement names with a direct reference. Disagreeing references are an
// input error.
func (s *solver) collectSources() error {
	var reqs []Requirement
	for _, m := range s.params.Members {
		reqs = append(reqs, m.Dependencies...)
		for _, rs := range m.OptionalDependencies {
			reqs = append(reqs, rs...)
		}
		for _, rs := range m.Groups {
			reqs = append(reqs, rs...)
		}
	}
	reqs = append(reqs, s.params.Requirements...)
	reqs = append(reqs, s.params.Overrides...)

	for _, r := range reqs {
		if !r.IsDirect() || s.rd.isMember(r.Name) {
			continue
		}
		if prev, has := s.srcs[r.Name]; has && !SourcesEq(prev, r.Source) {
			return badOptsFailure(fmt.Sprintf("requirements disagree on the source of %s: %s and %s", r.Name, prev, r.Source))
		}
		s.srcs[r.Name] = r.Source
	}
	return nil
}

// memberItems lists every extra and group of every member, in a stable
// order.
func (s *solver) memberItems() []ConflictItem {
	var out []ConflictItem
	for _, n := range s.rd.order {
		m := s.rd.members[n]
		for _, x := range sortedKeys(m.OptionalDependencies) {
			out = append(out, ConflictItem{Package: n, Extra: x})
		}
		for _, g := range sortedKeys(m.Groups) {
			out = append(out, ConflictItem{Package: n, Group: g})
		}
	}
	return out
}

func (s *solver) itemRequirements(it ConflictItem) []Requirement {
	m := s.rd.members[it.Package]
	if it.Group != "" {
		return m.Groups[it.Group]
	}
	return m.OptionalDependencies[it.Extra]
}

func sortedKeys(m map[ExtraName][]Requirement) []ExtraName {
	out := make([]ExtraName, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// declaredConflict reports whether a and b are in one declared conflict set.
func (s *solver) declaredConflict(a, b ConflictItem) bool {
	for _, set := range s.rd.conflicts {
		var hasA, hasB bool
		for _, it := range set {
			hasA = hasA || it == a
			hasB = hasB || it == b
		}
		if hasA && hasB {
			return true
		}
	}
	return false
}

// checkGroupConflicts looks for two extras or groups that directly require
// the same package at disjoint versions in overlapping environments.
func (s *solver) checkGroupConflicts() error {
	items := s.memberItems()
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if s.declaredConflict(a, b) {
				continue
			}
			for _, ra := range s.itemRequirements(a) {
				for _, rb := range s.itemRequirements(b) {
					if ra.Name != rb.Name || ra.IsDirect() || rb.IsDirect() {
						continue
					}
					if !s.rd.constrain(ra.Name, ra.VersionSet(), ra.Marker).Disjoint(s.rd.constrain(rb.Name, rb.VersionSet(), rb.Marker)) {
						continue
					}
					if ra.Marker.And(rb.Marker).And(s.env).IsFalse() {
						continue
					}
					return &ConflictingGroupsError{
						Items:        [2]ConflictItem{a, b},
						Package:      ra.Name,
						Requirements: [2]Requirement{ra, rb},
					}
				}
			}
		}
	}
	return nil
}
