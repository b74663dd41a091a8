// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pydep/pydep/gps"
)

// StringDiff represents a modified string value.
// * Added: Previous = "", Current != ""
// * Deleted: Previous != "", Current = ""
// * Modified: Previous != "", Current != ""
// * No Change: Previous = Current, or a nil pointer
type StringDiff struct {
	Previous string
	Current  string
}

func (diff *StringDiff) String() string {
	if diff == nil {
		return ""
	}

	if diff.Previous == "" && diff.Current != "" {
		return fmt.Sprintf("+ %s", diff.Current)
	}

	if diff.Previous != "" && diff.Current == "" {
		return fmt.Sprintf("- %s", diff.Previous)
	}

	if diff.Previous != diff.Current {
		return fmt.Sprintf("%s -> %s", diff.Previous, diff.Current)
	}

	return diff.Current
}

// DeltaDimension defines a bitset enumerating all of the different dimensions
// along which a Resolution, and its constituent packages, can change.
type DeltaDimension uint32

// Each flag represents an ortohgonal dimension along which Resolutions can
// vary with respect to each other.
const (
	RequiresPythonChanged DeltaDimension = 1 << iota
	ForksChanged
	ConflictsChanged
	PackageAdded
	PackageRemoved
	VersionChanged
	SourceChanged
	IndexChanged
	HashChanged
	DependenciesChanged
	ForkMarkersChanged
	// AnyChanged is the union of every dimension.
	AnyChanged = (1 << iota) - 1
)

var dimensionNames = []string{
	"requires-python changed",
	"forks changed",
	"conflicts changed",
	"package added",
	"package removed",
	"version changed",
	"source changed",
	"index changed",
	"hashes changed",
	"dependencies changed",
	"fork markers changed",
}

func (dd DeltaDimension) String() string {
	var parts []string
	for i, n := range dimensionNames {
		if dd&(1<<uint(i)) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, ", ")
}

// ResolutionDelta holds all of the differences between two Resolutions.
type ResolutionDelta struct {
	RequiresPython *StringDiff
	AddedForks     []string
	RemovedForks   []string
	AddedConflicts []string
	// RemovedConflicts are conflict sets present only in the first
	// resolution.
	RemovedConflicts []string
	PackageDeltas    map[gps.PackageName]PackageDelta
}

// PackageDelta holds the differences between the entries of one package in
// two Resolutions. A package may have several entries when forks chose
// different versions of it; the entries are compared as sets.
type PackageDelta struct {
	Name                         gps.PackageName
	PackageRemoved, PackageAdded bool
	VersionBefore, VersionAfter  string
	SourceBefore, SourceAfter    string
	IndexBefore, IndexAfter      string
	HashesAdded, HashesRemoved   []string
	DepsAdded, DepsRemoved       []string
	ForkMarkersAdded             []string
	ForkMarkersRemoved           []string
}

// DiffResolutions compares two Resolutions and computes a semantically rich
// delta between them.
func DiffResolutions(r1, r2 gps.Resolution) ResolutionDelta {
	rd := ResolutionDelta{
		PackageDeltas: make(map[gps.PackageName]PackageDelta),
	}

	if rp1, rp2 := r1.RequiresPython.String(), r2.RequiresPython.String(); rp1 != rp2 {
		rd.RequiresPython = &StringDiff{Previous: rp1, Current: rp2}
	}
	rd.AddedForks, rd.RemovedForks = findAddedAndRemoved(markerStrings(r1.Forks), markerStrings(r2.Forks))
	rd.AddedConflicts, rd.RemovedConflicts = findAddedAndRemoved(conflictStrings(r1.Conflicts), conflictStrings(r2.Conflicts))

	p1, p2 := byName(r1.Packages), byName(r2.Packages)
	for n, es1 := range p1 {
		es2, has := p2[n]
		if !has {
			rd.PackageDeltas[n] = PackageDelta{
				Name:           n,
				PackageRemoved: true,
				VersionBefore:  versions(es1),
				SourceBefore:   sources(es1),
				IndexBefore:    indexes(es1),
			}
			continue
		}
		rd.PackageDeltas[n] = DiffPackages(es1, es2)
	}
	for n, es2 := range p2 {
		if _, has := p1[n]; !has {
			rd.PackageDeltas[n] = PackageDelta{
				Name:         n,
				PackageAdded: true,
				VersionAfter: versions(es2),
				SourceAfter:  sources(es2),
				IndexAfter:   indexes(es2),
			}
		}
	}

	return rd
}

// DiffPackages compares the entries of one package across two Resolutions.
func DiffPackages(es1, es2 []gps.ResolvedPackage) PackageDelta {
	pd := PackageDelta{
		VersionBefore: versions(es1),
		VersionAfter:  versions(es2),
		SourceBefore:  sources(es1),
		SourceAfter:   sources(es2),
		IndexBefore:   indexes(es1),
		IndexAfter:    indexes(es2),
	}
	if len(es1) > 0 {
		pd.Name = es1[0].Name
	} else if len(es2) > 0 {
		pd.Name = es2[0].Name
	}

	pd.HashesAdded, pd.HashesRemoved = findAddedAndRemoved(collect(es1, hashes), collect(es2, hashes))
	pd.DepsAdded, pd.DepsRemoved = findAddedAndRemoved(collect(es1, edges), collect(es2, edges))
	pd.ForkMarkersAdded, pd.ForkMarkersRemoved = findAddedAndRemoved(collect(es1, forkMarkers), collect(es2, forkMarkers))
	return pd
}

// Changed indicates whether the delta contains a change along the dimensions
// with their corresponding bits set.
func (rd ResolutionDelta) Changed(dims DeltaDimension) bool {
	return rd.Changes()&dims != 0
}

// Changes returns a bitset indicating the dimensions along which deltas exist
// across all contents of the ResolutionDelta.
func (rd ResolutionDelta) Changes() DeltaDimension {
	var dd DeltaDimension
	if rd.RequiresPython != nil {
		dd |= RequiresPythonChanged
	}
	if len(rd.AddedForks) > 0 || len(rd.RemovedForks) > 0 {
		dd |= ForksChanged
	}
	if len(rd.AddedConflicts) > 0 || len(rd.RemovedConflicts) > 0 {
		dd |= ConflictsChanged
	}
	for _, pd := range rd.PackageDeltas {
		dd |= pd.Changes()
	}
	return dd
}

// Changes returns a bitset indicating the dimensions along which the package
// changed.
func (pd PackageDelta) Changes() DeltaDimension {
	switch {
	case pd.PackageAdded:
		return PackageAdded
	case pd.PackageRemoved:
		return PackageRemoved
	}
	var dd DeltaDimension
	if pd.VersionBefore != pd.VersionAfter {
		dd |= VersionChanged
	}
	if pd.SourceBefore != pd.SourceAfter {
		dd |= SourceChanged
	}
	if pd.IndexBefore != pd.IndexAfter {
		dd |= IndexChanged
	}
	if len(pd.HashesAdded) > 0 || len(pd.HashesRemoved) > 0 {
		dd |= HashChanged
	}
	if len(pd.DepsAdded) > 0 || len(pd.DepsRemoved) > 0 {
		dd |= DependenciesChanged
	}
	if len(pd.ForkMarkersAdded) > 0 || len(pd.ForkMarkersRemoved) > 0 {
		dd |= ForkMarkersChanged
	}
	return dd
}

// Changed indicates whether the package changed along any of dims.
func (pd PackageDelta) Changed(dims DeltaDimension) bool {
	return pd.Changes()&dims != 0
}

// Format renders the delta one change per line, packages sorted by name.
func (rd ResolutionDelta) Format() string {
	var b strings.Builder
	if rd.RequiresPython != nil {
		fmt.Fprintf(&b, "requires-python: %s\n", rd.RequiresPython)
	}
	for _, f := range rd.AddedForks {
		fmt.Fprintf(&b, "fork: + %s\n", f)
	}
	for _, f := range rd.RemovedForks {
		fmt.Fprintf(&b, "fork: - %s\n", f)
	}
	for _, c := range rd.AddedConflicts {
		fmt.Fprintf(&b, "conflict: + %s\n", c)
	}
	for _, c := range rd.RemovedConflicts {
		fmt.Fprintf(&b, "conflict: - %s\n", c)
	}

	names := make([]string, 0, len(rd.PackageDeltas))
	for n, pd := range rd.PackageDeltas {
		if pd.Changes() != 0 {
			names = append(names, string(n))
		}
	}
	sort.Strings(names)
	for _, n := range names {
		pd := rd.PackageDeltas[gps.PackageName(n)]
		switch {
		case pd.PackageAdded:
			fmt.Fprintf(&b, "%s: + %s\n", n, pd.VersionAfter)
			continue
		case pd.PackageRemoved:
			fmt.Fprintf(&b, "%s: - %s\n", n, pd.VersionBefore)
			continue
		}
		if pd.VersionBefore != pd.VersionAfter {
			fmt.Fprintf(&b, "%s: version %s\n", n, &StringDiff{Previous: pd.VersionBefore, Current: pd.VersionAfter})
		}
		if pd.SourceBefore != pd.SourceAfter {
			fmt.Fprintf(&b, "%s: source %s\n", n, &StringDiff{Previous: pd.SourceBefore, Current: pd.SourceAfter})
		}
		if pd.IndexBefore != pd.IndexAfter {
			fmt.Fprintf(&b, "%s: index %s\n", n, &StringDiff{Previous: pd.IndexBefore, Current: pd.IndexAfter})
		}
		if len(pd.HashesAdded) > 0 || len(pd.HashesRemoved) > 0 {
			fmt.Fprintf(&b, "%s: hashes +%d -%d\n", n, len(pd.HashesAdded), len(pd.HashesRemoved))
		}
		for _, d := range pd.DepsAdded {
			fmt.Fprintf(&b, "%s: dependency + %s\n", n, d)
		}
		for _, d := range pd.DepsRemoved {
			fmt.Fprintf(&b, "%s: dependency - %s\n", n, d)
		}
		for _, m := range pd.ForkMarkersAdded {
			fmt.Fprintf(&b, "%s: fork marker + %s\n", n, m)
		}
		for _, m := range pd.ForkMarkersRemoved {
			fmt.Fprintf(&b, "%s: fork marker - %s\n", n, m)
		}
	}
	return b.String()
}

func byName(ps []gps.ResolvedPackage) map[gps.PackageName][]gps.ResolvedPackage {
	m := make(map[gps.PackageName][]gps.ResolvedPackage)
	for _, p := range ps {
		m[p.Name] = append(m[p.Name], p)
	}
	return m
}

func versions(es []gps.ResolvedPackage) string {
	vs := make([]string, len(es))
	for i, e := range es {
		vs[i] = e.Version.String()
	}
	sort.Strings(vs)
	return strings.Join(vs, ", ")
}

func sourceOf(p gps.ResolvedPackage) string {
	if p.Source == nil {
		return gps.RegistrySource{}.String()
	}
	return p.Source.String()
}

func sources(es []gps.ResolvedPackage) string {
	return uniqueJoin(es, sourceOf)
}

func indexes(es []gps.ResolvedPackage) string {
	return uniqueJoin(es, func(p gps.ResolvedPackage) string { return p.Index })
}

func uniqueJoin(es []gps.ResolvedPackage, f func(gps.ResolvedPackage) string) string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range es {
		s := f(e)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

func collect(es []gps.ResolvedPackage, f func(gps.ResolvedPackage) []string) []string {
	var out []string
	for _, e := range es {
		out = append(out, f(e)...)
	}
	return out
}

func hashes(p gps.ResolvedPackage) []string {
	out := make([]string, 0, len(p.Artifacts))
	for _, a := range p.Artifacts {
		if a.Hash != "" {
			out = append(out, a.Hash)
		}
	}
	return out
}

func forkMarkers(p gps.ResolvedPackage) []string {
	return markerStrings(p.ForkMarkers)
}

// edges renders every dependency edge of p, qualified by the version of p
// when the package has several entries.
func edges(p gps.ResolvedPackage) []string {
	var out []string
	from := p.Version.String()
	add := func(prefix string, ds []gps.Dependency) {
		for _, d := range ds {
			out = append(out, from+" "+prefix+depString(d))
		}
	}
	add("", p.Dependencies)
	for _, x := range sortedKeys(p.OptionalDependencies) {
		add("["+string(x)+"] ", p.OptionalDependencies[x])
	}
	for _, g := range sortedKeys(p.DevDependencies) {
		add("("+string(g)+") ", p.DevDependencies[g])
	}
	return out
}

func depString(d gps.Dependency) string {
	s := string(d.Name)
	if len(d.Extras) > 0 {
		s += "[" + strings.Join(d.Extras.Strings(), ",") + "]"
	}
	if !d.Version.IsZero() {
		s += "==" + d.Version.String()
	}
	if m := d.Marker.String(); m != "" {
		s += "; " + m
	}
	return s
}

func sortedKeys(m map[gps.ExtraName][]gps.Dependency) []gps.ExtraName {
	keys := make([]gps.ExtraName, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func conflictStrings(cs []gps.ConflictSet) []string {
	out := make([]string, len(cs))
	for i, set := range cs {
		items := make([]string, len(set))
		for j, it := range set {
			items[j] = it.String()
		}
		sort.Strings(items)
		out[i] = strings.Join(items, " | ")
	}
	return out
}

func findAddedAndRemoved(l1, l2 []string) (add, remove []string) {
	// Computing add/removes could probably be optimized to O(n), but it's not
	// critical path for any known case, so not worth the effort right now.
	p1, p2 := make(map[string]bool, len(l1)), make(map[string]bool, len(l2))

	for _, s := range l1 {
		p1[s] = true
	}
	for _, s := range l2 {
		p2[s] = true
	}

	for s := range p1 {
		if !p2[s] {
			remove = append(remove, s)
		}
	}
	for s := range p2 {
		if !p1[s] {
			add = append(add, s)
		}
	}

	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}
