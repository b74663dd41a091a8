// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"fmt"
	"strings"

	"github.com/pydep/pydep/gps/pep440"
)

// depspec describes one published release, or with the name "root", the
// workspace member being resolved.
type depspec struct {
	n      PackageName
	v      pep440.Version
	deps   []string
	python string
	yanked bool
}

// mkDepspec splits the "name version" info string, and takes the rest of the
// arguments as requirement strings.
//
// This is for narrow use - panics if the info string is malformed.
func mkDepspec(nv string, deps ...string) depspec {
	s := strings.SplitN(nv, " ", 2)
	if len(s) < 2 {
		panic(fmt.Sprintf("Malformed name/version info string '%s'", nv))
	}
	return depspec{n: PackageName(s[0]), v: pep440.MustParse(s[1]), deps: deps}
}

func (ds depspec) requiresPython(spec string) depspec {
	ds.python = spec
	return ds
}

func (ds depspec) yank() depspec {
	ds.yanked = true
	return ds
}

func mkReqs(ss ...string) []Requirement {
	out := make([]Requirement, len(ss))
	for i, s := range ss {
		out[i] = MustParseRequirement(s)
	}
	return out
}

// mksolution creates a map of package names to expected version strings.
func mksolution(pairs ...string) map[PackageName]string {
	m := make(map[PackageName]string, len(pairs))
	for _, p := range pairs {
		ds := mkDepspec(p)
		m[ds.n] = ds.v.String()
	}
	return m
}

// mklock turns "name version" pairs into solver preferences.
func mklock(pairs ...string) []Preference {
	out := make([]Preference, len(pairs))
	for i, p := range pairs {
		ds := mkDepspec(p)
		out[i] = Preference{Name: ds.n, Version: ds.v}
	}
	return out
}

type basicFixture struct {
	// name of this fixture datum
	n string
	// depspecs. always treat first as root
	ds []depspec
	// results; map of name/version pairs
	r map[PackageName]string
	// preferences, as read from an existing lock
	l []Preference
	// names to unlock, with the lock otherwise kept
	changelist []PackageName
	// unlock everything
	upgrade    bool
	strategy   ResolutionStrategy
	prerelease PrereleaseMode
	forks      ForkStrategy
	python     string
	cons, ovr  []string
	// substring expected in the failure, if failure is expected
	fail string
}

func (f basicFixture) root() Member {
	r := f.ds[0]
	return Member{Name: r.n, Version: r.v, Dependencies: mkReqs(r.deps...)}
}

func (f basicFixture) params() SolveParameters {
	params := SolveParameters{
		Members:         []Member{f.root()},
		Preferences:     f.l,
		Upgrade:         f.upgrade,
		UpgradePackages: f.changelist,
		Strategy:        f.strategy,
		Prerelease:      f.prerelease,
		ForkStrategy:    f.forks,
		Constraints:     mkReqs(f.cons...),
		Overrides:       mkReqs(f.ovr...),
	}
	if f.python != "" {
		params.RequiresPython = pep440.MustParseSpecifiers(f.python)
	}
	return params
}

// index publishes every depspec but the root.
func (f basicFixture) index() *MemoryIndex {
	return mkIndex(f.ds[1:]...)
}

func mkIndex(ds ...depspec) *MemoryIndex {
	ix := NewMemoryIndex()
	for _, d := range ds {
		ix.Publish(string(d.n), d.v.String(), d.deps...)
		if d.python != "" {
			ix.RequirePython(string(d.n), d.v.String(), d.python)
		}
		if d.yanked {
			ix.Yank(string(d.n), d.v.String(), "broken")
		}
	}
	return ix
}

var basicFixtures = map[string]basicFixture{
	// basic fixtures
	"no dependencies": {
		ds: []depspec{
			mkDepspec("root 0.0.0"),
		},
		r: mksolution(),
	},
	"simple dependency tree": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "a==1.0.0", "b==1.0.0"),
			mkDepspec("a 1.0.0", "aa==1.0.0", "ab==1.0.0"),
			mkDepspec("aa 1.0.0"),
			mkDepspec("ab 1.0.0"),
			mkDepspec("b 1.0.0", "ba==1.0.0", "bb==1.0.0"),
			mkDepspec("ba 1.0.0"),
			mkDepspec("bb 1.0.0"),
		},
		r: mksolution(
			"a 1.0.0",
			"aa 1.0.0",
			"ab 1.0.0",
			"b 1.0.0",
			"ba 1.0.0",
			"bb 1.0.0",
		),
	},
	"highest in range": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "a>=1,<2"),
			mkDepspec("a 1.0"),
			mkDepspec("a 1.5"),
			mkDepspec("a 1.9"),
			mkDepspec("a 2.0"),
		},
		r: mksolution("a 1.9"),
	},
	"shared dependency with overlapping constraints": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "a==1.0.0", "b==1.0.0"),
			mkDepspec("a 1.0.0", "shared>=2.0.0,<4.0.0"),
			mkDepspec("b 1.0.0", "shared>=3.0.0,<5.0.0"),
			mkDepspec("shared 2.0.0"),
			mkDepspec("shared 3.0.0"),
			mkDepspec("shared 3.6.9"),
			mkDepspec("shared 4.0.0"),
			mkDepspec("shared 5.0.0"),
		},
		r: mksolution(
			"a 1.0.0",
			"b 1.0.0",
			"shared 3.6.9",
		),
	},
	"lowest on overlapping constraints": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "a==1.0.0", "b==1.0.0"),
			mkDepspec("a 1.0.0", "shared>=2.0.0,<=4.0.0"),
			mkDepspec("b 1.0.0", "shared>=3.0.0,<5.0.0"),
			mkDepspec("shared 2.0.0"),
			mkDepspec("shared 3.0.0"),
			mkDepspec("shared 3.6.9"),
			mkDepspec("shared 4.0.0"),
			mkDepspec("shared 5.0.0"),
		},
		r: mksolution(
			"a 1.0.0",
			"b 1.0.0",
			"shared 3.0.0",
		),
		strategy: StrategyLowest,
	},
	"lowest-direct only lowers first-party requirements": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo>=1.0.0"),
			mkDepspec("foo 1.0.0", "bar>=1.0.0"),
			mkDepspec("foo 2.0.0", "bar>=1.0.0"),
			mkDepspec("bar 1.0.0"),
			mkDepspec("bar 1.5.0"),
		},
		r: mksolution(
			"foo 1.0.0",
			"bar 1.5.0",
		),
		strategy: StrategyLowestDirect,
	},
	"shared dependency where dependent version in turn affects other dependencies": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo<=1.0.2", "bar==1.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.0.1", "bang==1.0.0"),
			mkDepspec("foo 1.0.2", "whoop==1.0.0"),
			mkDepspec("foo 1.0.3", "zoop==1.0.0"),
			mkDepspec("bar 1.0.0", "foo<=1.0.1"),
			mkDepspec("bang 1.0.0"),
			mkDepspec("whoop 1.0.0"),
			mkDepspec("zoop 1.0.0"),
		},
		r: mksolution(
			"foo 1.0.1",
			"bar 1.0.0",
			"bang 1.0.0",
		),
	},
	"removed dependency": {
		ds: []depspec{
			mkDepspec("root 1.0.0", "foo==1.0.0", "bar"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 2.0.0"),
			mkDepspec("bar 1.0.0"),
			mkDepspec("bar 2.0.0", "baz==1.0.0"),
			mkDepspec("baz 1.0.0", "foo==2.0.0"),
		},
		r: mksolution(
			"foo 1.0.0",
			"bar 1.0.0",
		),
	},
	"backjumps past an unrelated decision": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "a", "b"),
			mkDepspec("a 1.0.0"),
			mkDepspec("a 2.0.0", "c==2.0.0"),
			mkDepspec("b 1.0.0", "c==1.0.0"),
			mkDepspec("c 1.0.0"),
			mkDepspec("c 2.0.0"),
		},
		r: mksolution(
			"a 1.0.0",
			"b 1.0.0",
			"c 1.0.0",
		),
	},
	// fixtures with locks
	"with compatible locked dependency": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0", "bar==1.0.0"),
			mkDepspec("foo 1.0.1", "bar==1.0.1"),
			mkDepspec("foo 1.0.2", "bar==1.0.2"),
			mkDepspec("bar 1.0.0"),
			mkDepspec("bar 1.0.1"),
			mkDepspec("bar 1.0.2"),
		},
		l: mklock(
			"foo 1.0.1",
		),
		r: mksolution(
			"foo 1.0.1",
			"bar 1.0.1",
		),
	},
	"upgrade ignores locked versions": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0", "bar==1.0.0"),
			mkDepspec("foo 1.0.1", "bar==1.0.1"),
			mkDepspec("foo 1.0.2", "bar==1.0.2"),
			mkDepspec("bar 1.0.0"),
			mkDepspec("bar 1.0.1"),
			mkDepspec("bar 1.0.2"),
		},
		l: mklock(
			"foo 1.0.1",
			"bar 1.0.1",
		),
		upgrade: true,
		r: mksolution(
			"foo 1.0.2",
			"bar 1.0.2",
		),
	},
	"upgrade-package unlocks only the named package": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo", "baz"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 2.0.0"),
			mkDepspec("baz 1.0.0"),
			mkDepspec("baz 2.0.0"),
		},
		l: mklock(
			"foo 1.0.0",
			"baz 1.0.0",
		),
		changelist: []PackageName{"baz"},
		r: mksolution(
			"foo 1.0.0",
			"baz 2.0.0",
		),
	},
	"with incompatible locked dependency": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo>1.0.1"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.0.1"),
			mkDepspec("foo 1.0.2"),
		},
		l: mklock(
			"foo 1.0.1",
		),
		r: mksolution(
			"foo 1.0.2",
		),
	},
	"locked version of an absent package is ignored": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0"),
		},
		l: mklock(
			"gone 9.9.9",
		),
		r: mksolution(
			"foo 1.0.0",
		),
	},
	// failures
	"no version that matches requirement": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo>=2.0.0,<3.0.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0"),
		},
		fail: "no versions of foo match",
	},
	"no releases at all": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
		},
		fail: "foo has no releases",
	},
	"disjoint constraints": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo==1.0.0", "bar==1.0.0"),
			mkDepspec("foo 1.0.0", "shared<=2.0.0"),
			mkDepspec("bar 1.0.0", "shared>3.0.0"),
			mkDepspec("shared 2.0.0"),
			mkDepspec("shared 4.0.0"),
		},
		fail: "version solving failed",
	},
	// pre-releases
	"pre-release skipped without a reason": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 2.0.0b1"),
		},
		r: mksolution(
			"foo 1.0.0",
		),
	},
	"pre-release allowed when explicitly requested": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo>=2.0.0b1"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 2.0.0b1"),
		},
		r: mksolution(
			"foo 2.0.0b1",
		),
	},
	"pre-release used when nothing else exists": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0a1"),
		},
		r: mksolution(
			"foo 1.0.0a1",
		),
	},
	"pre-release refused under disallow": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0a1"),
		},
		prerelease: PrereleaseDisallow,
		fail:       "only pre-releases match foo",
	},
	"pre-release preferred under allow": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 2.0.0b1"),
		},
		prerelease: PrereleaseAllow,
		r: mksolution(
			"foo 2.0.0b1",
		),
	},
	// yanked releases
	"yanked release skipped": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0").yank(),
		},
		r: mksolution(
			"foo 1.0.0",
		),
	},
	"yanked release used when pinned exactly": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo==1.1.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0").yank(),
		},
		r: mksolution(
			"foo 1.1.0",
		),
	},
	"only yanked releases": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo>=1.1.0"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("foo 1.1.0").yank(),
		},
		fail: "is yanked",
	},
	// constraints and overrides
	"constraint narrows a transitive requirement": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0", "bar"),
			mkDepspec("bar 1.0.0"),
			mkDepspec("bar 2.0.0"),
		},
		cons: []string{"bar<2"},
		r: mksolution(
			"foo 1.0.0",
			"bar 1.0.0",
		),
	},
	"constraint alone adds nothing": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("baz 1.0.0"),
		},
		cons: []string{"baz==1.0.0"},
		r: mksolution(
			"foo 1.0.0",
		),
	},
	"override replaces a transitive requirement": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0", "bar<2"),
			mkDepspec("bar 1.0.0"),
			mkDepspec("bar 2.0.0"),
		},
		ovr: []string{"bar>=2"},
		r: mksolution(
			"foo 1.0.0",
			"bar 2.0.0",
		),
	},
	// extras and markers
	"extra pulls in its requirements": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo[sec]"),
			mkDepspec("foo 1.0.0", "crypto>=1; extra == 'sec'"),
			mkDepspec("crypto 1.0.0"),
		},
		r: mksolution(
			"foo 1.0.0",
			"crypto 1.0.0",
		),
	},
	"extra not requested": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0", "crypto>=1; extra == 'sec'"),
			mkDepspec("crypto 1.0.0"),
		},
		r: mksolution(
			"foo 1.0.0",
		),
	},
	"extra requirements constrain the base package": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo[sec]", "bar"),
			mkDepspec("foo 1.0.0", "crypto>=1; extra == 'sec'"),
			mkDepspec("foo 2.0.0", "crypto>=2; extra == 'sec'"),
			mkDepspec("bar 1.0.0", "crypto<2"),
			mkDepspec("crypto 1.0.0"),
			mkDepspec("crypto 2.0.0"),
		},
		r: mksolution(
			"foo 1.0.0",
			"bar 1.0.0",
			"crypto 1.0.0",
		),
	},
	"requirement outside requires-python is dropped": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo", "legacy; python_version < '3.0'"),
			mkDepspec("foo 1.0.0"),
			mkDepspec("legacy 1.0.0"),
		},
		python: ">=3.8",
		r: mksolution(
			"foo 1.0.0",
		),
	},
	"requires-python excludes newer releases without forking": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0").requiresPython(">=3.7"),
			mkDepspec("foo 2.0.0").requiresPython(">=3.10"),
		},
		python: ">=3.8",
		forks:  ForkFewest,
		r: mksolution(
			"foo 1.0.0",
		),
	},
	"requires-python with no supporting release": {
		ds: []depspec{
			mkDepspec("root 0.0.0", "foo"),
			mkDepspec("foo 1.0.0").requiresPython(">=3.12"),
		},
		python: ">=3.8,<3.11",
		forks:  ForkFewest,
		fail:   "supports Python",
	},
}
