// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sahilm/fuzzy"

	"github.com/pydep/pydep/gps"
)

// groupEntry is one item of a [dependency-groups] list: a requirement, or a
// reference to another group.
type groupEntry struct {
	Requirement  string
	IncludeGroup string
}

// GroupCycleError reports dependency groups that include each other.
type GroupCycleError struct {
	Cycle []gps.ExtraName
}

func (e *GroupCycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, g := range e.Cycle {
		parts[i] = string(g)
	}
	return "dependency group cycle: " + strings.Join(parts, " -> ")
}

// UnknownNameError reports a reference to a group, extra, member or package
// that does not exist, with the closest existing name when there is one.
type UnknownNameError struct {
	Kind       string
	Name       string
	Context    string
	Suggestion string
}

func (e *UnknownNameError) Error() string {
	s := fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
	if e.Context != "" {
		s += " in " + e.Context
	}
	if e.Suggestion != "" {
		s += fmt.Sprintf("; did you mean %q?", e.Suggestion)
	}
	return s
}

// suggest returns the known name closest to name, or "".
func suggest(name string, known []string) string {
	if len(known) == 0 {
		return ""
	}
	if ms := fuzzy.Find(name, known); len(ms) > 0 {
		return ms[0].Str
	}
	// name may have extra characters: look for known names inside it.
	best, score := "", -1
	for _, k := range known {
		ms := fuzzy.Find(k, []string{name})
		if len(ms) > 0 && ms[0].Score > score {
			best, score = k, ms[0].Score
		}
	}
	return best
}

func unknownName(kind, name, context string, known []string) *UnknownNameError {
	return &UnknownNameError{Kind: kind, Name: name, Context: context, Suggestion: suggest(name, known)}
}

// expandGroups resolves include-group references in a [dependency-groups]
// table. Each group's requirements come out in declaration order, included
// groups in place.
func expandGroups(owner string, raw map[string][]groupEntry) (map[gps.ExtraName][]gps.Requirement, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	byName := make(map[gps.ExtraName][]groupEntry, len(raw))
	var names []string
	for k, es := range raw {
		n := gps.NormalizeExtra(k)
		if _, dup := byName[n]; dup {
			return nil, errors.Errorf("%s: dependency group %s is declared twice", owner, n)
		}
		byName[n] = es
		names = append(names, string(n))
	}
	sort.Strings(names)

	out := make(map[gps.ExtraName][]gps.Requirement, len(byName))
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[gps.ExtraName]int)
	var stack []gps.ExtraName

	var visit func(g gps.ExtraName) error
	visit = func(g gps.ExtraName) error {
		switch state[g] {
		case done:
			return nil
		case visiting:
			i := len(stack) - 1
			for stack[i] != g {
				i--
			}
			cycle := append(append([]gps.ExtraName(nil), stack[i:]...), g)
			return &GroupCycleError{Cycle: cycle}
		}
		state[g] = visiting
		stack = append(stack, g)

		var reqs []gps.Requirement
		for _, e := range byName[g] {
			if e.IncludeGroup != "" {
				inc := gps.NormalizeExtra(e.IncludeGroup)
				if _, has := byName[inc]; !has {
					return unknownName("dependency group", e.IncludeGroup, fmt.Sprintf("%s group %s", owner, g), names)
				}
				if err := visit(inc); err != nil {
					return err
				}
				reqs = append(reqs, out[inc]...)
				continue
			}
			r, err := gps.ParseRequirement(e.Requirement)
			if err != nil {
				return errors.Wrapf(err, "%s group %s", owner, g)
			}
			reqs = append(reqs, r)
		}

		stack = stack[:len(stack)-1]
		state[g] = done
		out[g] = reqs
		return nil
	}

	for _, n := range names {
		if err := visit(gps.ExtraName(n)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeclaredConflictError reports a selection that activates two extras or
// groups declared as conflicting.
type DeclaredConflictError struct {
	Items [2]gps.ConflictItem
}

func (e *DeclaredConflictError) Error() string {
	return fmt.Sprintf("%s and %s are declared as conflicting and cannot be selected together", e.Items[0], e.Items[1])
}

// checkDeclaredConflicts fails if two active items share a conflict set.
func checkDeclaredConflicts(sets []gps.ConflictSet, active []gps.ConflictItem) error {
	on := make(map[gps.ConflictItem]bool, len(active))
	for _, it := range active {
		on[it] = true
	}
	for _, set := range sets {
		var hit []gps.ConflictItem
		for _, it := range set {
			if on[it] {
				hit = append(hit, it)
			}
		}
		if len(hit) >= 2 {
			return &DeclaredConflictError{Items: [2]gps.ConflictItem{hit[0], hit[1]}}
		}
	}
	return nil
}
