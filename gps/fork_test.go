// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"testing"

	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

func TestSplitRegions(t *testing.T) {
	linux := markers.MustParse("sys_platform == 'linux'")
	win := markers.MustParse("sys_platform == 'win32'")

	regions := splitRegions(markers.True(), []markers.Marker{linux, win}, true)
	if len(regions) != 3 {
		t.Fatalf("expected 3 regions, got %d: %v", len(regions), regions)
	}
	for i := range regions {
		for j := i + 1; j < len(regions); j++ {
			if !regions[i].Disjoint(regions[j]) {
				t.Errorf("regions %s and %s overlap", regions[i], regions[j])
			}
		}
	}
	if !regions[0].Equal(linux) || !regions[1].Equal(win) {
		t.Errorf("unexpected regions %s, %s", regions[0], regions[1])
	}

	// Markers covering everything leave no remainder.
	regions = splitRegions(markers.True(), []markers.Marker{linux, linux.Not()}, true)
	if len(regions) != 2 {
		t.Errorf("expected 2 regions, got %d: %v", len(regions), regions)
	}

	// Regions are always within the parent.
	env := markers.MustParse("python_version >= '3.10'")
	for _, r := range splitRegions(env, []markers.Marker{linux}, true) {
		if !r.Implies(env) {
			t.Errorf("region %s escapes its parent %s", r, env)
		}
	}
}

func TestInitialForks(t *testing.T) {
	m := groupMember()
	m.OptionalDependencies = map[ExtraName][]Requirement{"cpu": nil, "gpu": nil}
	sm := mkFixtureSM(t, NewMemoryIndex())
	defer sm.Release()

	params := SolveParameters{
		Members: []Member{m},
		Conflicts: []ConflictSet{{
			{Package: "app", Group: "dev"},
			{Package: "app", Group: "test"},
		}},
	}
	s, err := Prepare(params, sm)
	if err != nil {
		t.Fatal(err)
	}
	forks := s.(*solver).initialForks()
	if len(forks) != 2 {
		t.Fatalf("expected a fork per conflicting item, got %d", len(forks))
	}
	dev, test := ConflictItem{Package: "app", Group: "dev"}.Tag(), ConflictItem{Package: "app", Group: "test"}.Tag()
	if !forks[0].excluded[test] || forks[0].excluded[dev] {
		t.Errorf("first fork should exclude only the test group, got %v", forks[0].excluded)
	}
	if !forks[1].excluded[dev] || forks[1].excluded[test] {
		t.Errorf("second fork should exclude only the dev group, got %v", forks[1].excluded)
	}
	if forks[0].id != 1 || forks[1].id != 2 {
		t.Errorf("forks should be numbered in order, got %d and %d", forks[0].id, forks[1].id)
	}

	unforked, err := Prepare(SolveParameters{Members: []Member{m}}, sm)
	if err != nil {
		t.Fatal(err)
	}
	if forks := unforked.(*solver).initialForks(); len(forks) != 1 || !forks[0].env.IsTrue() {
		t.Errorf("without conflicts there should be one universal fork, got %v", forks)
	}
}

func TestMergeForks(t *testing.T) {
	rel := func(v string) Release { return Release{Version: pep440.MustParse(v)} }
	py38 := markers.MustParse("python_version < '3.10'")
	py310 := py38.Not()
	linux := markers.MustParse("sys_platform == 'linux'")

	rs := []forkResult{
		{
			fork:   fork{env: py38, id: 1},
			chosen: map[PackageName]Release{"foo": rel("1.0")},
			deps: map[solverPkg][]dep{
				basePkg("foo"): {{pkg: basePkg("bar"), set: pep440.Any(), marker: linux}},
			},
		},
		{
			fork:   fork{env: py310, id: 2},
			chosen: map[PackageName]Release{"foo": rel("1.0")},
			deps: map[solverPkg][]dep{
				basePkg("foo"): {{pkg: basePkg("baz"), set: pep440.Any(), marker: markers.True()}},
			},
		},
		{
			fork:   fork{env: linux, id: 3},
			chosen: map[PackageName]Release{"foo": rel("2.0")},
		},
	}
	merged := mergeForks(rs)
	if len(merged) != 2 {
		t.Fatalf("expected forks 1 and 2 to merge, got %d forks", len(merged))
	}
	if !merged[0].fork.env.Equal(py38.Or(py310)) {
		t.Errorf("merged environment should be the union, got %s", merged[0].fork.env)
	}
	if ds := merged[0].deps[basePkg("foo")]; len(ds) != 2 {
		t.Errorf("merged fork should keep the edges of both, got %v", ds)
	}
	if merged[1].fork.id != 3 {
		t.Errorf("order of first appearance should be kept")
	}
}

func TestForkFingerprint(t *testing.T) {
	a := forkResult{chosen: map[PackageName]Release{
		"foo": {Version: pep440.MustParse("1.0")},
		"bar": {Version: pep440.MustParse("2.0")},
	}}
	b := forkResult{chosen: map[PackageName]Release{
		"bar": {Version: pep440.MustParse("2.0")},
		"foo": {Version: pep440.MustParse("1.0")},
	}}
	if a.fingerprint() != b.fingerprint() {
		t.Error("fingerprint should not depend on map order")
	}
	b.chosen["foo"] = Release{Version: pep440.MustParse("1.0"), Source: GitSource{Repository: "https://github.com/x/foo"}}
	if a.fingerprint() == b.fingerprint() {
		t.Error("fingerprint should include the source")
	}
}
