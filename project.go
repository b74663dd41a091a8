// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps"
)

// PyprojectName is the project file name.
const PyprojectName = "pyproject.toml"

var errProjectNotFound = fmt.Errorf("could not find %s in this directory or any parent", PyprojectName)

// pyproject is the part of a pyproject.toml that locking reads.
type pyproject struct {
	path       string
	hasProject bool

	Name                 string
	Version              string
	RequiresPython       string
	Dynamic              []string
	Dependencies         []string
	OptionalDependencies map[string][]string
	Groups               map[string][]groupEntry

	tool pydepTool
}

func (pp *pyproject) dynamic(field string) bool {
	for _, d := range pp.Dynamic {
		if d == field {
			return true
		}
	}
	return false
}

// pydepTool is the [tool.pydep] table.
type pydepTool struct {
	// Package false makes the project virtual.
	Package         *bool
	DevDependencies []string
	Constraints     []string
	Overrides       []string
	Environments    []string
	Members         []string
	Exclude         []string
	Sources         map[gps.PackageName]sourceSpec
	Indexes         []IndexSpec
	Conflicts       [][]gps.ConflictItem
}

// sourceSpec is one entry of [tool.pydep.sources].
type sourceSpec struct {
	Index        string
	Workspace    bool
	Path         string
	Editable     bool
	Git          string
	Rev          string
	Tag          string
	Branch       string
	URL          string
	Subdirectory string
	Extras       []gps.ExtraName
}

func readPyproject(path string) (*pyproject, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", path)
	}
	pp, err := parsePyproject(raw)
	if err != nil {
		return nil, &InvalidProjectError{Path: path, Err: err}
	}
	pp.path = path
	return pp, nil
}

func parsePyproject(raw []byte) (*pyproject, error) {
	tree, err := toml.LoadReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse TOML")
	}
	mapper := &tomlMapper{Tree: tree}

	pp := &pyproject{
		hasProject:           tree.HasPath([]string{"project"}),
		Name:                 readKeyAsString(mapper, "project", "name"),
		Version:              readKeyAsString(mapper, "project", "version"),
		RequiresPython:       readKeyAsString(mapper, "project", "requires-python"),
		Dynamic:              readKeyAsStringList(mapper, "project", "dynamic"),
		Dependencies:         readKeyAsStringList(mapper, "project", "dependencies"),
		OptionalDependencies: readTableAsStringLists(mapper, "project", "optional-dependencies"),
		Groups:               readDependencyGroups(mapper),
	}
	if pp.hasProject && pp.Name == "" && mapper.Error == nil {
		mapper.Error = errors.New("[project] has no name")
	}

	t := &pp.tool
	t.Package = readKeyAsBool(mapper, "tool", "pydep", "package")
	t.DevDependencies = readKeyAsStringList(mapper, "tool", "pydep", "dev-dependencies")
	t.Constraints = readKeyAsStringList(mapper, "tool", "pydep", "constraint-dependencies")
	t.Overrides = readKeyAsStringList(mapper, "tool", "pydep", "override-dependencies")
	t.Environments = readKeyAsStringList(mapper, "tool", "pydep", "environments")
	t.Members = readKeyAsStringList(mapper, "tool", "pydep", "workspace", "members")
	t.Exclude = readKeyAsStringList(mapper, "tool", "pydep", "workspace", "exclude")
	t.Sources = readSources(mapper)
	t.Indexes = readIndexes(mapper)
	t.Conflicts = readConflicts(mapper)

	if mapper.Error != nil {
		return nil, mapper.Error
	}
	return pp, nil
}

// readDependencyGroups reads [dependency-groups], whose lists mix
// requirement strings and {include-group = "..."} tables.
func readDependencyGroups(mapper *tomlMapper) map[string][]groupEntry {
	t := readKeyAsTree(mapper, "dependency-groups")
	if t == nil {
		return nil
	}
	out := make(map[string][]groupEntry)
	for _, g := range sortedTreeKeys(t) {
		items, ok := t.Get(g).([]interface{})
		if !ok {
			if trees, ok := t.Get(g).([]*toml.Tree); ok {
				for _, it := range trees {
					items = append(items, it)
				}
			} else {
				mapper.Error = errors.Errorf("Invalid type for dependency-groups.%s, should be a TOML list but got %T", g, t.Get(g))
				return nil
			}
		}
		entries := []groupEntry{}
		for _, it := range items {
			switch v := it.(type) {
			case string:
				entries = append(entries, groupEntry{Requirement: v})
			case *toml.Tree:
				sub := &tomlMapper{Tree: v}
				inc := readKeyAsString(sub, "include-group")
				if sub.Error != nil || inc == "" {
					mapper.Error = errors.Errorf("Invalid table in dependency-groups.%s, expected {include-group = \"...\"}", g)
					return nil
				}
				entries = append(entries, groupEntry{IncludeGroup: inc})
			default:
				mapper.Error = errors.Errorf("Invalid item type in dependency-groups.%s: %T", g, it)
				return nil
			}
		}
		out[g] = entries
	}
	return out
}

func readSources(mapper *tomlMapper) map[gps.PackageName]sourceSpec {
	t := readKeyAsTree(mapper, "tool", "pydep", "sources")
	if t == nil {
		return nil
	}
	out := make(map[gps.PackageName]sourceSpec)
	for _, k := range sortedTreeKeys(t) {
		st, ok := t.Get(k).(*toml.Tree)
		if !ok {
			mapper.Error = errors.Errorf("Invalid type for tool.pydep.sources.%s, should be a TOML table but got %T", k, t.Get(k))
			return nil
		}
		sub := &tomlMapper{Tree: st}
		s := sourceSpec{
			Index:        readKeyAsString(sub, "index"),
			Path:         readKeyAsString(sub, "path"),
			Git:          readKeyAsString(sub, "git"),
			Rev:          readKeyAsString(sub, "rev"),
			Tag:          readKeyAsString(sub, "tag"),
			Branch:       readKeyAsString(sub, "branch"),
			URL:          readKeyAsString(sub, "url"),
			Subdirectory: readKeyAsString(sub, "subdirectory"),
		}
		if b := readKeyAsBool(sub, "workspace"); b != nil {
			s.Workspace = *b
		}
		if b := readKeyAsBool(sub, "editable"); b != nil {
			s.Editable = *b
		} else {
			s.Editable = true
		}
		for _, x := range readKeyAsStringList(sub, "extras") {
			s.Extras = append(s.Extras, gps.NormalizeExtra(x))
		}
		if sub.Error != nil {
			mapper.Error = errors.Wrapf(sub.Error, "in tool.pydep.sources.%s", k)
			return nil
		}
		out[gps.NormalizeName(k)] = s
	}
	return out
}

func readIndexes(mapper *tomlMapper) []IndexSpec {
	var out []IndexSpec
	for _, it := range readKeyAsTreeList(mapper, "tool", "pydep", "index") {
		sub := &tomlMapper{Tree: it}
		is := IndexSpec{
			Name: readKeyAsString(sub, "name"),
			URL:  readKeyAsString(sub, "url"),
		}
		if b := readKeyAsBool(sub, "default"); b != nil {
			is.Default = *b
		}
		if b := readKeyAsBool(sub, "explicit"); b != nil {
			is.Explicit = *b
		}
		if sub.Error == nil && (is.Name == "" || is.URL == "") {
			sub.Error = errors.New("an index needs a name and a url")
		}
		if sub.Error != nil {
			mapper.Error = errors.Wrap(sub.Error, "in tool.pydep.index")
			return nil
		}
		out = append(out, is)
	}
	return out
}

// readConflicts reads tool.pydep.conflicts, a list of lists of
// {package, extra | group} tables.
func readConflicts(mapper *tomlMapper) [][]gps.ConflictItem {
	raw := mapper.get([]string{"tool", "pydep", "conflicts"})
	if raw == nil {
		return nil
	}
	sets, ok := raw.([]interface{})
	if !ok {
		mapper.Error = errors.Errorf("Invalid type for tool.pydep.conflicts, should be a list of lists but got %T", raw)
		return nil
	}

	var out [][]gps.ConflictItem
	for _, s := range sets {
		var items []*toml.Tree
		switch v := s.(type) {
		case []*toml.Tree:
			items = v
		case []interface{}:
			for _, it := range v {
				t, ok := it.(*toml.Tree)
				if !ok {
					mapper.Error = errors.Errorf("Invalid conflict item type %T, should be a TOML table", it)
					return nil
				}
				items = append(items, t)
			}
		default:
			mapper.Error = errors.Errorf("Invalid conflict set type %T, should be a TOML list", s)
			return nil
		}

		var set []gps.ConflictItem
		for _, t := range items {
			sub := &tomlMapper{Tree: t}
			it := gps.ConflictItem{
				Package: gps.NormalizeName(readKeyAsString(sub, "package")),
				Extra:   gps.NormalizeExtra(readKeyAsString(sub, "extra")),
				Group:   gps.NormalizeExtra(readKeyAsString(sub, "group")),
			}
			if sub.Error == nil && (it.Extra == "") == (it.Group == "") {
				sub.Error = errors.New("a conflict item names exactly one extra or group")
			}
			if sub.Error != nil {
				mapper.Error = errors.Wrap(sub.Error, "in tool.pydep.conflicts")
				return nil
			}
			set = append(set, it)
		}
		out = append(out, set)
	}
	return out
}

// findProjectRoot searches from the starting directory upwards looking for a
// pyproject.toml until we get to the root of the filesystem.
func findProjectRoot(from string) (string, error) {
	for {
		mp := filepath.Join(from, PyprojectName)

		_, err := os.Stat(mp)
		if err == nil {
			return from, nil
		}
		if !os.IsNotExist(err) {
			// Some err other than non-existence - return that out
			return "", err
		}

		parent := filepath.Dir(from)
		if parent == from {
			return "", errProjectNotFound
		}
		from = parent
	}
}

// findWorkspaceRoot returns the closest directory at or above dir that
// declares a workspace including dir, or dir itself.
func findWorkspaceRoot(dir string) (string, *pyproject, error) {
	own, err := readPyproject(filepath.Join(dir, PyprojectName))
	if err != nil {
		return "", nil, err
	}
	if own.tool.Members != nil {
		return dir, own, nil
	}

	for cur := filepath.Dir(dir); cur != filepath.Dir(cur); cur = filepath.Dir(cur) {
		pp, err := readPyproject(filepath.Join(cur, PyprojectName))
		if err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				continue
			}
			return "", nil, err
		}
		if pp.tool.Members == nil {
			continue
		}
		rel, err := filepath.Rel(cur, dir)
		if err != nil {
			return "", nil, err
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel, pp.tool.Exclude) {
			break
		}
		for _, pattern := range pp.tool.Members {
			matches, err := globMembers(cur, pattern)
			if err != nil {
				return "", nil, err
			}
			for _, m := range matches {
				if m == rel {
					return cur, pp, nil
				}
			}
		}
	}
	return dir, own, nil
}

// A Project is a workspace, with its lock if it has one.
type Project struct {
	// AbsRoot is the absolute path to the workspace root.
	AbsRoot   string
	Workspace *Workspace
	// Lock is nil if there is no lock, or it could not be read.
	Lock *Lock
	// LockBytes are the raw lock contents, nil if there is no lock.
	LockBytes []byte
	// LockErr is why the lock present on disk could not be read.
	LockErr error
}

// LockPath is where the project's lock lives.
func (p *Project) LockPath() string {
	return filepath.Join(p.AbsRoot, LockName)
}

// LoadProject finds the project containing dir and loads its workspace and
// lock. A lock that cannot be parsed is not an error here; it is reported
// in LockErr.
func LoadProject(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	start, err := findProjectRoot(abs)
	if err != nil {
		return nil, err
	}
	root, pp, err := findWorkspaceRoot(start)
	if err != nil {
		return nil, err
	}
	ws, err := loadWorkspace(root, pp)
	if err != nil {
		return nil, err
	}

	p := &Project{AbsRoot: root, Workspace: ws}
	raw, err := ioutil.ReadFile(p.LockPath())
	switch {
	case os.IsNotExist(err):
		return p, nil
	case err != nil:
		return nil, errors.Wrapf(err, "unable to read %s", p.LockPath())
	}
	p.LockBytes = raw
	p.Lock, p.LockErr = ReadLock(bytes.NewReader(raw))
	return p, nil
}

// MakeParams is a simple helper to create a gps.SolveParameters from the
// workspace and options without setting any nils incorrectly.
func (p *Project) MakeParams(opts LockOptions) gps.SolveParameters {
	ws := p.Workspace
	params := gps.SolveParameters{
		Members:        ws.SolverMembers(),
		Requirements:   ws.rootRequirements(),
		Constraints:    ws.Constraints,
		Overrides:      ws.Overrides,
		RequiresPython: ws.RequiresPython,
		Conflicts:      ws.Conflicts,
		Strategy:       opts.Resolution,
		Prerelease:     opts.Prerelease,
		ForkStrategy:   opts.ForkStrategy,
		Environments:   opts.Environments,
	}
	if len(params.Environments) == 0 {
		params.Environments = ws.Environments
	}
	return params
}

// manifest records the inputs of a lock made for p.
func (p *Project) manifest() LockManifest {
	ws := p.Workspace
	man := LockManifest{
		DependencyGroups: ws.RootGroups,
		Constraints:      ws.Constraints,
		Overrides:        ws.Overrides,
	}
	for _, m := range ws.Members {
		man.Members = append(man.Members, m.Name)
	}
	return man
}
