// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"os"
	"path"
	"path/filepath"
	"sort"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

// dynamicVersion stands in for the version of a member that declares it
// dynamic.
var dynamicVersion = pep440.MustParse("0")

// A Workspace is a set of local packages locked together.
type Workspace struct {
	// Root is the absolute path of the workspace root.
	Root string
	// Members are sorted by name.
	Members []*WorkspaceMember
	// RootGroups are the dependency groups of a workspace root that is not
	// itself a member.
	RootGroups map[gps.ExtraName][]gps.Requirement

	RequiresPython pep440.Specifiers
	Constraints    []gps.Requirement
	Overrides      []gps.Requirement
	Environments   []markers.Marker
	Conflicts      []gps.ConflictSet
	Indexes        []IndexSpec
	// Pins binds packages to indexes by name.
	Pins map[gps.PackageName]string
}

// WorkspaceMember is one package of a Workspace.
type WorkspaceMember struct {
	Name    gps.PackageName
	Version pep440.Version
	// Path is the member directory relative to the workspace root, in slash
	// form; "." for the root.
	Path           string
	RequiresPython pep440.Specifiers
	// Virtual members are not installed themselves; only their
	// dependencies are.
	Virtual      bool
	Dependencies []gps.Requirement
	Extras       map[gps.ExtraName][]gps.Requirement
	// Groups have include-group references expanded.
	Groups map[gps.ExtraName][]gps.Requirement
}

// Member returns the member named n, or nil.
func (ws *Workspace) Member(n gps.PackageName) *WorkspaceMember {
	for _, m := range ws.Members {
		if m.Name == n {
			return m
		}
	}
	return nil
}

// loadWorkspace discovers the members of the workspace rooted at root,
// whose pyproject.toml is pp.
func loadWorkspace(root string, pp *pyproject) (*Workspace, error) {
	ws := &Workspace{
		Root:    root,
		Indexes: pp.tool.Indexes,
		Pins:    make(map[gps.PackageName]string),
	}

	dirs := []string{}
	if pp.hasProject {
		dirs = append(dirs, ".")
	}
	for _, pattern := range pp.tool.Members {
		matches, err := globMembers(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, rel := range matches {
			if excluded(rel, pp.tool.Exclude) || rel == "." {
				continue
			}
			dirs = append(dirs, rel)
		}
	}
	sort.Strings(dirs)

	pps := make(map[string]*pyproject, len(dirs))
	names := make(map[gps.PackageName]string)
	for i, rel := range dirs {
		if i > 0 && dirs[i-1] == rel {
			continue
		}
		mpp := pp
		if rel != "." {
			var err error
			mpp, err = readPyproject(filepath.Join(root, filepath.FromSlash(rel), PyprojectName))
			if err != nil {
				return nil, errors.Wrapf(err, "workspace member %s", rel)
			}
			if !mpp.hasProject {
				return nil, &InvalidProjectError{Path: mpp.path, Err: errors.New("workspace member has no [project] table")}
			}
		}
		n := gps.NormalizeName(mpp.Name)
		if prev, dup := names[n]; dup {
			return nil, errors.Errorf("workspace members %s and %s are both named %s", prev, rel, n)
		}
		names[n] = rel
		pps[rel] = mpp
	}

	for rel, mpp := range pps {
		m, err := ws.newMember(rel, mpp, pp, names)
		if err != nil {
			return nil, err
		}
		ws.Members = append(ws.Members, m)
	}
	sort.Slice(ws.Members, func(i, j int) bool { return ws.Members[i].Name < ws.Members[j].Name })
	for _, m := range ws.Members {
		ws.RequiresPython = intersectSpecifiers(ws.RequiresPython, m.RequiresPython)
	}

	if !pp.hasProject && len(pp.Groups) > 0 {
		groups, err := expandGroups("workspace root", pp.Groups)
		if err != nil {
			return nil, err
		}
		ws.RootGroups = make(map[gps.ExtraName][]gps.Requirement, len(groups))
		for g, rs := range groups {
			if ws.RootGroups[g], err = ws.applySources(rs, ".", pp.tool.Sources, nil, names); err != nil {
				return nil, err
			}
		}
	}
	if len(ws.Members) == 0 && len(ws.RootGroups) == 0 {
		return nil, &InvalidProjectError{Path: pp.path, Err: errors.New("no [project] table and no workspace members")}
	}

	var err error
	if ws.Constraints, err = gps.ParseRequirements(pp.tool.Constraints); err != nil {
		return nil, &InvalidProjectError{Path: pp.path, Err: errors.Wrap(err, "constraint-dependencies")}
	}
	if ws.Overrides, err = gps.ParseRequirements(pp.tool.Overrides); err != nil {
		return nil, &InvalidProjectError{Path: pp.path, Err: errors.Wrap(err, "override-dependencies")}
	}
	for _, e := range pp.tool.Environments {
		m, err := markers.Parse(e)
		if err != nil {
			return nil, &InvalidProjectError{Path: pp.path, Err: errors.Wrapf(err, "environment %q", e)}
		}
		ws.Environments = append(ws.Environments, m)
	}
	if ws.Conflicts, err = ws.conflictSets(pp); err != nil {
		return nil, err
	}
	return ws, nil
}

// globMembers expands a member glob relative to root. Matches that resolve
// outside root through symlinks are rejected.
func globMembers(root, pattern string) ([]string, error) {
	joined, err := securejoin.SecureJoin(root, filepath.FromSlash(pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "bad workspace member pattern %q", pattern)
	}
	matches, err := filepath.Glob(joined)
	if err != nil {
		return nil, errors.Wrapf(err, "bad workspace member pattern %q", pattern)
	}

	var out []string
	for _, m := range matches {
		rel, err := filepath.Rel(root, m)
		if err != nil {
			return nil, err
		}
		safe, err := securejoin.SecureJoin(root, rel)
		if err != nil || safe != m {
			return nil, errors.Errorf("workspace member %s resolves outside the workspace", filepath.ToSlash(rel))
		}
		if fi, err := os.Stat(filepath.Join(m, PyprojectName)); err != nil || !fi.Mode().IsRegular() {
			if fi, err := os.Stat(m); err == nil && fi.IsDir() {
				return nil, errors.Errorf("workspace member %s has no %s", filepath.ToSlash(rel), PyprojectName)
			}
			continue
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (ws *Workspace) newMember(rel string, pp, rootpp *pyproject, names map[gps.PackageName]string) (*WorkspaceMember, error) {
	m := &WorkspaceMember{
		Name:    gps.NormalizeName(pp.Name),
		Path:    rel,
		Virtual: pp.tool.Package != nil && !*pp.tool.Package,
	}
	invalid := func(err error) error {
		return &InvalidProjectError{Path: pp.path, Err: err}
	}

	var err error
	switch {
	case pp.Version != "":
		if m.Version, err = pep440.Parse(pp.Version); err != nil {
			return nil, invalid(err)
		}
	case pp.dynamic("version"):
		m.Version = dynamicVersion
	default:
		return nil, invalid(errors.New("[project] has no version and does not declare it dynamic"))
	}
	if m.RequiresPython, err = pep440.ParseSpecifiers(pp.RequiresPython); err != nil {
		return nil, invalid(errors.Wrap(err, "requires-python"))
	}

	// Member sources override those of the workspace root.
	sources := make(map[gps.PackageName]sourceSpec)
	for n, s := range rootpp.tool.Sources {
		sources[n] = s
	}
	for n, s := range pp.tool.Sources {
		sources[n] = s
	}

	deps, err := gps.ParseRequirements(pp.Dependencies)
	if err != nil {
		return nil, invalid(errors.Wrap(err, "dependencies"))
	}
	if m.Dependencies, err = ws.applySources(deps, rel, sources, nil, names); err != nil {
		return nil, invalid(err)
	}

	for x, ss := range pp.OptionalDependencies {
		rs, err := gps.ParseRequirements(ss)
		if err != nil {
			return nil, invalid(errors.Wrapf(err, "optional-dependencies %s", x))
		}
		if m.Extras == nil {
			m.Extras = make(map[gps.ExtraName][]gps.Requirement)
		}
		xn := gps.NormalizeExtra(x)
		if m.Extras[xn], err = ws.applySources(rs, rel, sources, &xn, names); err != nil {
			return nil, invalid(err)
		}
	}

	raw := pp.Groups
	if len(pp.tool.DevDependencies) > 0 {
		raw = make(map[string][]groupEntry, len(pp.Groups)+1)
		for k, v := range pp.Groups {
			raw[k] = v
		}
		for _, d := range pp.tool.DevDependencies {
			raw[string(DefaultGroup)] = append(raw[string(DefaultGroup)], groupEntry{Requirement: d})
		}
	}
	groups, err := expandGroups(string(m.Name), raw)
	if err != nil {
		return nil, err
	}
	for g, rs := range groups {
		if m.Groups == nil {
			m.Groups = make(map[gps.ExtraName][]gps.Requirement)
		}
		if m.Groups[g], err = ws.applySources(rs, rel, sources, nil, names); err != nil {
			return nil, invalid(err)
		}
	}
	return m, nil
}

// applySources rewrites requirements per the [tool.pydep.sources] table.
// Requirements that already carry a direct reference are kept as they are.
// A source scoped to extras applies only to requirements of those extras.
func (ws *Workspace) applySources(rs []gps.Requirement, rel string, sources map[gps.PackageName]sourceSpec, extra *gps.ExtraName, members map[gps.PackageName]string) ([]gps.Requirement, error) {
	out := make([]gps.Requirement, len(rs))
	for i, r := range rs {
		out[i] = r
		s, has := sources[r.Name]
		if !has || r.IsDirect() {
			continue
		}
		if len(s.Extras) > 0 && (extra == nil || !containsExtra(s.Extras, *extra)) {
			continue
		}

		switch {
		case s.Workspace:
			if _, ok := members[r.Name]; !ok {
				return nil, errors.Errorf("%s is declared as a workspace source, but is not a workspace member", r.Name)
			}
		case s.Index != "":
			if prev, has := ws.Pins[r.Name]; has && prev != s.Index {
				return nil, errors.Errorf("%s is pinned to both index %s and index %s", r.Name, prev, s.Index)
			}
			ws.Pins[r.Name] = s.Index
		case s.Git != "":
			ref := s.Rev
			if ref == "" {
				ref = s.Tag
			}
			if ref == "" {
				ref = s.Branch
			}
			out[i].Source = gps.GitSource{Repository: s.Git, Ref: ref, Subdirectory: s.Subdirectory}
		case s.URL != "":
			out[i].Source = gps.URLSource{URL: s.URL, Subdirectory: s.Subdirectory}
		case s.Path != "":
			p := path.Clean(path.Join(rel, filepath.ToSlash(s.Path)))
			if filepath.IsAbs(s.Path) {
				p = filepath.ToSlash(s.Path)
			}
			fi, err := os.Stat(filepath.Join(ws.Root, filepath.FromSlash(p)))
			if filepath.IsAbs(s.Path) {
				fi, err = os.Stat(s.Path)
			}
			if err != nil {
				return nil, errors.Wrapf(err, "source path for %s", r.Name)
			}
			out[i].Source = gps.PathSource{Path: p, Directory: fi.IsDir(), Editable: fi.IsDir() && s.Editable}
		default:
			return nil, errors.Errorf("source for %s names no index, path, git, url or workspace", r.Name)
		}
	}
	return out, nil
}

func (ws *Workspace) conflictSets(pp *pyproject) ([]gps.ConflictSet, error) {
	var out []gps.ConflictSet
	for _, raw := range pp.tool.Conflicts {
		var set gps.ConflictSet
		for _, it := range raw {
			if it.Package == "" {
				if !pp.hasProject {
					return nil, &InvalidProjectError{Path: pp.path, Err: errors.New("conflict item must name a package in a workspace with no root project")}
				}
				it.Package = gps.NormalizeName(pp.Name)
			}
			m := ws.Member(it.Package)
			if m == nil {
				return nil, unknownName("workspace member", string(it.Package), "conflicts", ws.memberNames())
			}
			if it.Extra != "" {
				if _, has := m.Extras[it.Extra]; !has {
					return nil, unknownName("extra", string(it.Extra), "conflicts", extraNames(m.Extras))
				}
			}
			if it.Group != "" {
				if _, has := m.Groups[it.Group]; !has {
					return nil, unknownName("dependency group", string(it.Group), "conflicts", extraNames(m.Groups))
				}
			}
			set = append(set, it)
		}
		out = append(out, set)
	}
	return out, nil
}

func (ws *Workspace) memberNames() []string {
	out := make([]string, len(ws.Members))
	for i, m := range ws.Members {
		out[i] = string(m.Name)
	}
	return out
}

func extraNames(m map[gps.ExtraName][]gps.Requirement) []string {
	ks := sortedExtraKeys(m)
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = string(k)
	}
	return out
}

func intersectSpecifiers(a, b pep440.Specifiers) pep440.Specifiers {
	seen := make(map[string]bool, len(a))
	out := append(pep440.Specifiers(nil), a...)
	for _, s := range a {
		seen[s.String()] = true
	}
	for _, s := range b {
		if !seen[s.String()] {
			seen[s.String()] = true
			out = append(out, s)
		}
	}
	return out
}

func (ws *Workspace) selectable() selectable {
	s := selectable{
		extras:    make(map[gps.PackageName][]gps.ExtraName),
		groups:    make(map[gps.PackageName][]gps.ExtraName),
		conflicts: ws.Conflicts,
	}
	for _, m := range ws.Members {
		s.order = append(s.order, m.Name)
		s.extras[m.Name] = sortedExtraKeys(m.Extras)
		s.groups[m.Name] = sortedExtraKeys(m.Groups)
	}
	s.rootGroups = sortedExtraKeys(ws.RootGroups)
	return s
}

// Requirements returns the requirements sel activates, each tagged with the
// member, extra or group that declares it.
func (ws *Workspace) Requirements(sel Selection) ([]OriginRequirement, error) {
	as, err := ws.selectable().resolve(sel)
	if err != nil {
		return nil, err
	}

	var out []OriginRequirement
	add := func(o Origin, rs []gps.Requirement) {
		for _, r := range rs {
			out = append(out, OriginRequirement{Requirement: r, Origin: o})
		}
	}
	for _, n := range as.members {
		m := ws.Member(n)
		if as.deps {
			add(Origin{Member: n}, m.Dependencies)
		}
		for _, x := range as.extras[n] {
			add(Origin{Member: n, Extra: x}, m.Extras[x])
		}
		for _, g := range as.groups[n] {
			add(Origin{Member: n, Group: g}, m.Groups[g])
		}
	}
	for _, g := range as.rootGroups {
		add(Origin{Group: g}, ws.RootGroups[g])
	}
	return out, nil
}

// SolverMembers returns the members as solver input.
func (ws *Workspace) SolverMembers() []gps.Member {
	out := make([]gps.Member, len(ws.Members))
	for i, m := range ws.Members {
		out[i] = gps.Member{
			Name:    m.Name,
			Version: m.Version,
			Source: gps.PathSource{
				Path:      m.Path,
				Directory: true,
				Editable:  !m.Virtual,
				Virtual:   m.Virtual,
			},
			RequiresPython:       m.RequiresPython,
			Dependencies:         m.Dependencies,
			OptionalDependencies: m.Extras,
			Groups:               m.Groups,
		}
	}
	return out
}

// rootRequirements flattens the root groups into solver requirements.
func (ws *Workspace) rootRequirements() []gps.Requirement {
	var out []gps.Requirement
	for _, g := range sortedExtraKeys(ws.RootGroups) {
		out = append(out, ws.RootGroups[g]...)
	}
	return out
}
