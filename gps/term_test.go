// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"strings"
	"testing"

	"github.com/pydep/pydep/gps/pep440"
)

func vset(s string) pep440.VersionSet {
	return pep440.MustParseSpecifiers(s).VersionSet()
}

func TestTermRelation(t *testing.T) {
	foo := basePkg("foo")
	table := []struct {
		a, b term
		want setRelation
	}{
		{posTerm(foo, vset(">=1,<2")), posTerm(foo, vset(">=1")), relSubset},
		{posTerm(foo, vset(">=1")), posTerm(foo, vset(">=1,<2")), relOverlapping},
		{posTerm(foo, vset("<1")), posTerm(foo, vset(">=2")), relDisjoint},
		{posTerm(foo, vset("<1")), negTerm(foo, vset(">=2")), relSubset},
		{posTerm(foo, vset(">=2,<3")), negTerm(foo, vset(">=2")), relDisjoint},
		{negTerm(foo, vset(">=1")), posTerm(foo, vset(">=2")), relDisjoint},
		{negTerm(foo, vset(">=2")), posTerm(foo, vset(">=1")), relOverlapping},
		{negTerm(foo, vset(">=1")), negTerm(foo, vset(">=2")), relSubset},
		{negTerm(foo, vset(">=2")), negTerm(foo, vset(">=1")), relOverlapping},
	}
	for _, tc := range table {
		if got := tc.a.relation(tc.b); got != tc.want {
			t.Errorf("%s relation to %s: got %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestTermIntersect(t *testing.T) {
	foo := basePkg("foo")
	// Everything from 1 up to 2, including the pre-releases of 2 that <2
	// would leave out.
	below2 := vset(">=1").Intersect(vset(">=2").Complement())
	if below2.Equal(vset(">=1,<2")) || !below2.Contains(pep440.MustParse("2.0a1")) {
		t.Fatalf("unexpected complement %s", below2)
	}

	got, ok := posTerm(foo, vset(">=1")).intersect(negTerm(foo, vset(">=2")))
	if !ok || !got.positive || !got.set.Equal(below2) {
		t.Errorf("unexpected intersection %s", got)
	}

	got, ok = negTerm(foo, vset("<1")).intersect(negTerm(foo, vset(">=2")))
	if !ok || got.positive || !got.set.Equal(vset("<1").Union(vset(">=2"))) {
		t.Errorf("negative terms should union their sets, got %s", got)
	}

	if _, ok := posTerm(foo, vset("<1")).intersect(posTerm(foo, vset(">=2"))); ok {
		t.Error("disjoint positive terms should not intersect")
	}

	d, ok := posTerm(foo, vset(">=1")).difference(posTerm(foo, vset(">=2")))
	if !ok || !d.set.Equal(below2) {
		t.Errorf("unexpected difference %s", d)
	}
}

func TestDescribeSet(t *testing.T) {
	table := map[string]string{
		"":       "foo",
		"==1.0":  "foo==1.0",
		">=1.0":  "foo>=1.0",
		"<1,>=3": "foo (",
	}
	for spec, want := range table {
		set := pep440.Any()
		if spec != "" {
			set = vset(spec)
		}
		if spec == "<1,>=3" {
			set = vset("<1").Union(vset(">=3"))
		}
		if got := describeSet("foo", set); !strings.HasPrefix(got, want) {
			t.Errorf("%q: got %q, want prefix %q", spec, got, want)
		}
	}

	if s := extraPkg("foo", "sec").String(); s != "foo[sec]" {
		t.Errorf("unexpected extra package name %q", s)
	}
	if s := groupPkg("app", "dev").String(); s != "app:dev" {
		t.Errorf("unexpected group package name %q", s)
	}
}

func TestIncompatibilityCoalesces(t *testing.T) {
	foo, bar := basePkg("foo"), basePkg("bar")
	ic := derivedIncompat([]term{
		posTerm(rootPkg, pep440.Singleton(groupVersion)),
		posTerm(foo, vset(">=1")),
		posTerm(foo, vset("<2")),
		negTerm(bar, vset(">=1")),
	}, nil, nil)
	if len(ic.terms) != 2 {
		t.Fatalf("expected root dropped and foo merged, got %v", ic.terms)
	}
	if !ic.terms[0].set.Equal(vset(">=1,<2")) {
		t.Errorf("foo terms should intersect, got %s", ic.terms[0])
	}

	if !derivedIncompat(nil, nil, nil).failure() {
		t.Error("an empty incompatibility is a failure")
	}
}

func TestReportWriter(t *testing.T) {
	foo, bar := basePkg("foo"), basePkg("bar")
	v1 := pep440.MustParse("1.0")

	// root depends on foo; foo 1.0 depends on bar>=2; no bar matches.
	rootDep := dependencyIncompat(rootPkg, groupVersion, foo, pep440.Any())
	fooDep := dependencyIncompat(foo, v1, bar, vset(">=2"))
	noBar := noVersionsIncompat(bar, vset(">=2"), nil)
	noFoo := derivedIncompat([]term{posTerm(foo, pep440.Singleton(v1))}, fooDep, noBar)
	fail := derivedIncompat([]term{posTerm(rootPkg, pep440.Singleton(groupVersion))}, rootDep, noFoo)

	out := newReportWriter(fail).write()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a two-line report, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[0], "Because foo==1.0 depends on bar>=2") || !strings.Contains(lines[0], "foo==1.0 is forbidden") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "So, because the project depends on foo") || !strings.HasSuffix(lines[1], "version solving failed.") {
		t.Errorf("unexpected second line %q", lines[1])
	}
}
