// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/internal/test"
)

const rootPyproject = `[project]
name = "App"
version = "0.1.0"
requires-python = ">=3.9"
dependencies = ["lib", "requests>=2"]

[project.optional-dependencies]
socks = ["pysocks"]
cli = ["click"]

[dependency-groups]
test = ["pytest"]
lint = ["ruff"]
dev = [{include-group = "test"}, {include-group = "lint"}, "ipython"]

[tool.pydep]
constraint-dependencies = ["urllib3<3"]
conflicts = [[{extra = "socks"}, {extra = "cli"}]]

[tool.pydep.workspace]
members = ["packages/*"]
exclude = ["packages/scratch"]

[tool.pydep.sources]
lib = { workspace = true }
`

const libPyproject = `[project]
name = "lib"
dynamic = ["version"]
requires-python = "<3.13"
dependencies = ["attrs"]

[tool.pydep]
package = false
`

func mkWorkspace(t *testing.T, files map[string]string) *test.Helper {
	h := test.NewHelper(t)
	for p, contents := range files {
		h.TempFile(p, contents)
	}
	return h
}

func TestLoadProjectWorkspace(t *testing.T) {
	h := mkWorkspace(t, map[string]string{
		"pyproject.toml":                  rootPyproject,
		"packages/lib/pyproject.toml":     libPyproject,
		"packages/scratch/pyproject.toml": "[project]\nname = \"scratch\"\nversion = \"0\"\n",
	})
	defer h.Cleanup()

	p, err := LoadProject(h.Path("packages/lib"))
	require.NoError(t, err)
	require.Equal(t, h.Path("."), p.AbsRoot, "the workspace root is found from a member")
	require.Nil(t, p.Lock)

	ws := p.Workspace
	require.Equal(t, []string{"app", "lib"}, ws.memberNames())
	require.Equal(t, ">=3.9,<3.13", ws.RequiresPython.String())

	app := ws.Member("app")
	require.Equal(t, ".", app.Path)
	require.Len(t, app.Groups["dev"], 3, "include-group is expanded in place")
	require.Equal(t, gps.PackageName("pytest"), app.Groups["dev"][0].Name)
	require.Equal(t, gps.PackageName("ruff"), app.Groups["dev"][1].Name)

	lib := ws.Member("lib")
	require.Equal(t, "packages/lib", lib.Path)
	require.True(t, lib.Virtual)
	require.Equal(t, dynamicVersion, lib.Version)

	require.Len(t, ws.Conflicts, 1)
	require.Equal(t, gps.ConflictItem{Package: "app", Extra: "socks"}, ws.Conflicts[0][0])
	require.Len(t, ws.Constraints, 1)

	sm := ws.SolverMembers()
	require.Len(t, sm, 2)
	require.True(t, sm[1].Source.Virtual)
	require.False(t, sm[0].Source.Virtual)
	require.True(t, sm[0].Source.Editable)
}

func TestWorkspaceRequirementsSelection(t *testing.T) {
	h := mkWorkspace(t, map[string]string{
		"pyproject.toml":              rootPyproject,
		"packages/lib/pyproject.toml": libPyproject,
	})
	defer h.Cleanup()

	p, err := LoadProject(h.Path("."))
	require.NoError(t, err)
	ws := p.Workspace

	names := func(rs []OriginRequirement) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.Origin.String()+" "+string(r.Name))
		}
		return out
	}

	rs, err := ws.Requirements(Selection{})
	require.NoError(t, err)
	require.Equal(t, []string{
		"app lib", "app requests",
		"app:dev pytest", "app:dev ruff", "app:dev ipython",
		"lib attrs",
	}, names(rs))

	rs, err = ws.Requirements(Selection{Members: []gps.PackageName{"lib"}, NoDefaultGroups: true})
	require.NoError(t, err)
	require.Equal(t, []string{"lib attrs"}, names(rs))

	rs, err = ws.Requirements(Selection{Extras: []gps.ExtraName{"cli"}, Groups: []gps.ExtraName{"lint"}, NoGroups: []gps.ExtraName{"dev"}, OnlyGroups: true})
	require.NoError(t, err)
	require.Equal(t, []string{"app[cli] click", "app:lint ruff"}, names(rs))

	// Selecting every extra leaves out both sides of the declared conflict.
	rs, err = ws.Requirements(Selection{AllExtras: true, NoDefaultGroups: true, Members: []gps.PackageName{"app"}})
	require.NoError(t, err)
	require.Equal(t, []string{"app lib", "app requests"}, names(rs))

	_, err = ws.Requirements(Selection{Extras: []gps.ExtraName{"socks", "cli"}})
	require.IsType(t, &DeclaredConflictError{}, err)

	_, err = ws.Requirements(Selection{Groups: []gps.ExtraName{"tst"}})
	var une *UnknownNameError
	require.True(t, errors.As(err, &une), "got %v", err)
	require.Equal(t, "test", une.Suggestion)

	_, err = ws.Requirements(Selection{Members: []gps.PackageName{"libb"}})
	require.True(t, errors.As(err, &une), "got %v", err)
	require.Equal(t, "lib", une.Suggestion)
}

func TestLoadProjectErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"member without pyproject": {
			"pyproject.toml":        rootPyproject,
			"packages/lib/setup.py": "",
		},
		"duplicate member names": {
			"pyproject.toml":               rootPyproject,
			"packages/lib/pyproject.toml":  libPyproject,
			"packages/lib2/pyproject.toml": libPyproject,
		},
		"no version": {
			"pyproject.toml": "[project]\nname = \"a\"\n",
		},
		"workspace source that is not a member": {
			"pyproject.toml": "[project]\nname = \"a\"\nversion = \"1\"\ndependencies = [\"b\"]\n[tool.pydep.sources]\nb = { workspace = true }\n",
		},
		"group cycle": {
			"pyproject.toml": "[project]\nname = \"a\"\nversion = \"1\"\n[dependency-groups]\nx = [{include-group = \"y\"}]\ny = [{include-group = \"x\"}]\n",
		},
		"unknown conflict extra": {
			"pyproject.toml": "[project]\nname = \"a\"\nversion = \"1\"\n[tool.pydep]\nconflicts = [[{extra = \"x\"}, {extra = \"y\"}]]\n",
		},
		"bad requirement": {
			"pyproject.toml": "[project]\nname = \"a\"\nversion = \"1\"\ndependencies = [\"b >>= 1\"]\n",
		},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			h := mkWorkspace(t, files)
			defer h.Cleanup()
			_, err := LoadProject(h.Path("."))
			require.Error(t, err)
		})
	}
}

func TestExpandGroupsCycle(t *testing.T) {
	_, err := expandGroups("a", map[string][]groupEntry{
		"x": {{IncludeGroup: "y"}},
		"y": {{Requirement: "b"}, {IncludeGroup: "z"}},
		"z": {{IncludeGroup: "X"}},
	})
	var gce *GroupCycleError
	require.True(t, errors.As(err, &gce), "got %v", err)
	require.Equal(t, "dependency group cycle: x -> y -> z -> x", gce.Error())

	_, err = expandGroups("a", map[string][]groupEntry{
		"test": {{IncludeGroup: "lints"}},
		"lint": {{Requirement: "ruff"}},
	})
	var une *UnknownNameError
	require.True(t, errors.As(err, &une), "got %v", err)
	require.Equal(t, "lint", une.Suggestion)
}

func TestLoadProjectMalformedLock(t *testing.T) {
	h := mkWorkspace(t, map[string]string{
		"pyproject.toml": "[project]\nname = \"a\"\nversion = \"1\"\n",
		LockName:         "version = [",
	})
	defer h.Cleanup()

	p, err := LoadProject(h.Path("."))
	require.NoError(t, err)
	require.Nil(t, p.Lock)
	require.NotNil(t, p.LockBytes)
	require.Error(t, p.LockErr)
	require.Equal(t, filepath.Join(p.AbsRoot, LockName), p.LockPath())
}
