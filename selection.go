// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"sort"

	"github.com/pydep/pydep/gps"
)

// DefaultGroup is the dependency group selected unless NoDefaultGroups is
// set.
const DefaultGroup gps.ExtraName = "dev"

// Selection picks parts of a workspace: which members, and which of their
// extras and dependency groups.
type Selection struct {
	// Members restricts the selection to these members. Empty means all.
	Members []gps.PackageName
	// Extras are activated on every selected member that has them.
	Extras    []gps.ExtraName
	AllExtras bool
	// Groups are activated on every selected member that has them, and on
	// the workspace root.
	Groups    []gps.ExtraName
	AllGroups bool
	// NoGroups are never activated, even if named in Groups.
	NoGroups        []gps.ExtraName
	NoDefaultGroups bool
	// OnlyGroups leaves out the members' own dependencies.
	OnlyGroups bool
}

// Origin is where a requirement was declared: a member's dependencies, one
// of its extras or groups, or a group of the workspace root.
type Origin struct {
	Member gps.PackageName
	Extra  gps.ExtraName
	Group  gps.ExtraName
}

func (o Origin) String() string {
	switch {
	case o.Extra != "":
		return string(o.Member) + "[" + string(o.Extra) + "]"
	case o.Group != "":
		return string(o.Member) + ":" + string(o.Group)
	}
	return string(o.Member)
}

// OriginRequirement is a requirement tagged with where it came from.
type OriginRequirement struct {
	gps.Requirement
	Origin Origin
}

// selectable lists what a Selection may name.
type selectable struct {
	order      []gps.PackageName
	extras     map[gps.PackageName][]gps.ExtraName
	groups     map[gps.PackageName][]gps.ExtraName
	rootGroups []gps.ExtraName
	conflicts  []gps.ConflictSet
}

// activeSet is a Selection resolved against a selectable.
type activeSet struct {
	members    []gps.PackageName
	deps       bool
	extras     map[gps.PackageName][]gps.ExtraName
	groups     map[gps.PackageName][]gps.ExtraName
	rootGroups []gps.ExtraName
}

func (s selectable) resolve(sel Selection) (activeSet, error) {
	as := activeSet{
		deps:   !sel.OnlyGroups,
		extras: make(map[gps.PackageName][]gps.ExtraName),
		groups: make(map[gps.PackageName][]gps.ExtraName),
	}

	known := make(map[gps.PackageName]bool, len(s.order))
	names := make([]string, len(s.order))
	for i, n := range s.order {
		known[n] = true
		names[i] = string(n)
	}
	if len(sel.Members) == 0 {
		as.members = s.order
	}
	for _, n := range sel.Members {
		if !known[n] {
			return as, unknownName("workspace member", string(n), "", names)
		}
		as.members = append(as.members, n)
	}

	allExtras := make(map[gps.ExtraName]bool)
	allGroups := make(map[gps.ExtraName]bool)
	for _, n := range as.members {
		for _, x := range s.extras[n] {
			allExtras[x] = true
		}
		for _, g := range s.groups[n] {
			allGroups[g] = true
		}
	}
	for _, g := range s.rootGroups {
		allGroups[g] = true
	}
	for _, x := range sel.Extras {
		if !allExtras[x] {
			return as, unknownName("extra", string(x), "", keysOf(allExtras))
		}
	}
	for _, g := range append(append([]gps.ExtraName(nil), sel.Groups...), sel.NoGroups...) {
		if !allGroups[g] {
			return as, unknownName("dependency group", string(g), "", keysOf(allGroups))
		}
	}

	wantExtra := func(x gps.ExtraName) bool {
		return sel.AllExtras || containsExtra(sel.Extras, x)
	}
	wantGroup := func(g gps.ExtraName) bool {
		if containsExtra(sel.NoGroups, g) {
			return false
		}
		return sel.AllGroups || containsExtra(sel.Groups, g) || (g == DefaultGroup && !sel.NoDefaultGroups)
	}

	for _, n := range as.members {
		for _, x := range s.extras[n] {
			if wantExtra(x) {
				as.extras[n] = append(as.extras[n], x)
			}
		}
		for _, g := range s.groups[n] {
			if wantGroup(g) {
				as.groups[n] = append(as.groups[n], g)
			}
		}
	}
	for _, g := range s.rootGroups {
		if wantGroup(g) {
			as.rootGroups = append(as.rootGroups, g)
		}
	}

	// Selecting everything leaves declared-conflicting items out unless
	// they were also named.
	if sel.AllExtras || sel.AllGroups {
		as.dropConflicting(s.conflicts, sel)
	}
	return as, checkDeclaredConflicts(s.conflicts, as.items())
}

func (as activeSet) items() []gps.ConflictItem {
	var out []gps.ConflictItem
	for _, n := range as.members {
		for _, x := range as.extras[n] {
			out = append(out, gps.ConflictItem{Package: n, Extra: x})
		}
		for _, g := range as.groups[n] {
			out = append(out, gps.ConflictItem{Package: n, Group: g})
		}
	}
	return out
}

// dropConflicting deactivates every item of a conflict set that was only
// selected through AllExtras or AllGroups.
func (as *activeSet) dropConflicting(sets []gps.ConflictSet, sel Selection) {
	for _, set := range sets {
		for _, it := range set {
			if it.Extra != "" && sel.AllExtras && !containsExtra(sel.Extras, it.Extra) {
				as.extras[it.Package] = removeExtra(as.extras[it.Package], it.Extra)
			}
			if it.Group != "" && sel.AllGroups && !containsExtra(sel.Groups, it.Group) {
				as.groups[it.Package] = removeExtra(as.groups[it.Package], it.Group)
			}
		}
	}
}

func containsExtra(es []gps.ExtraName, e gps.ExtraName) bool {
	for _, x := range es {
		if x == e {
			return true
		}
	}
	return false
}

func removeExtra(es []gps.ExtraName, e gps.ExtraName) []gps.ExtraName {
	out := es[:0]
	for _, x := range es {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}

func keysOf(m map[gps.ExtraName]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

func sortedExtraKeys(m map[gps.ExtraName][]gps.Requirement) []gps.ExtraName {
	out := make([]gps.ExtraName, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
