// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pep440 implements Python package versions, version specifiers, and
// the set algebra over versions that the solver operates on.
package pep440

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type preKind uint8

const (
	preNone preKind = iota
	preAlpha
	preBeta
	preRC
)

func (k preKind) String() string {
	switch k {
	case preAlpha:
		return "a"
	case preBeta:
		return "b"
	case preRC:
		return "rc"
	}
	return ""
}

// sentinel marks a Version that exists only to express range boundaries. No
// parsed Version ever carries one.
type sentinel uint8

const (
	// notSentinel is a regular, parsed version.
	notSentinel sentinel = iota
	// minDev sorts before every version sharing its release segment,
	// including dev releases and pre-releases.
	minDev
	// maxLocal sorts after every local variant of the exact version.
	maxLocal
	// maxPost sorts after every post release and local variant of the version.
	maxPost
)

const (
	noPost = -1
	noDev  = -1
)

// Version is a parsed PEP 440 version. The zero value is not a valid version;
// use Parse or MustParse.
type Version struct {
	epoch   int
	release []int
	pre     preKind
	preNum  int
	post    int
	dev     int
	local   []string
	sen     sentinel
}

var versionPattern = regexp.MustCompile(`(?i)^\s*v?` +
	`(?:(?P<epoch>[0-9]+)!)?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?P<pre>[-_.]?(?P<pre_l>alpha|beta|preview|pre|rc|a|b|c)[-_.]?(?P<pre_n>[0-9]+)?)?` +
	`(?P<post>(?:-(?P<post_n1>[0-9]+))|(?:[-_.]?(?P<post_l>post|rev|r)[-_.]?(?P<post_n2>[0-9]+)?))?` +
	`(?P<dev>[-_.]?(?P<dev_l>dev)[-_.]?(?P<dev_n>[0-9]+)?)?` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_.][a-z0-9]+)*))?` +
	`\s*$`)

// Parse parses a version string, accepting every spelling PEP 440 permits and
// normalizing it.
func Parse(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, errors.Errorf("invalid version %q", s)
	}
	group := func(name string) string {
		return m[versionPattern.SubexpIndex(name)]
	}

	v := Version{post: noPost, dev: noDev}
	if e := group("epoch"); e != "" {
		n, err := strconv.Atoi(e)
		if err != nil {
			return Version{}, errors.Wrapf(err, "invalid epoch in version %q", s)
		}
		v.epoch = n
	}

	for _, seg := range strings.Split(group("release"), ".") {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return Version{}, errors.Wrapf(err, "invalid release segment in version %q", s)
		}
		v.release = append(v.release, n)
	}

	if group("pre") != "" {
		switch strings.ToLower(group("pre_l")) {
		case "a", "alpha":
			v.pre = preAlpha
		case "b", "beta":
			v.pre = preBeta
		default:
			v.pre = preRC
		}
		v.preNum = atoiOrZero(group("pre_n"))
	}

	if group("post") != "" {
		if n1 := group("post_n1"); n1 != "" {
			v.post = atoiOrZero(n1)
		} else {
			v.post = atoiOrZero(group("post_n2"))
		}
	}

	if group("dev") != "" {
		v.dev = atoiOrZero(group("dev_n"))
	}

	if l := group("local"); l != "" {
		v.local = strings.FieldsFunc(strings.ToLower(l), func(r rune) bool {
			return r == '.' || r == '-' || r == '_'
		})
	}

	return v, nil
}

// MustParse is like Parse, but panics on error. It is meant for literals in
// tests and tables.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool {
	return len(v.release) == 0
}

// Release returns a copy of the release segment.
func (v Version) Release() []int {
	r := make([]int, len(v.release))
	copy(r, v.release)
	return r
}

// IsPrerelease reports whether v is a pre-release or a dev release.
func (v Version) IsPrerelease() bool {
	return v.pre != preNone || v.dev != noDev
}

// IsDev reports whether v is a dev release.
func (v Version) IsDev() bool {
	return v.dev != noDev
}

// IsPost reports whether v is a post release.
func (v Version) IsPost() bool {
	return v.post != noPost
}

// IsLocal reports whether v has a local version label.
func (v Version) IsLocal() bool {
	return len(v.local) > 0
}

// WithoutLocal returns v with its local label removed.
func (v Version) WithoutLocal() Version {
	v.local = nil
	return v
}

// Final returns the final release of v: the same epoch and release segment
// with no pre, post, dev or local parts.
func (v Version) Final() Version {
	return Version{epoch: v.epoch, release: v.Release(), post: noPost, dev: noDev}
}

func (v Version) withSentinel(s sentinel) Version {
	v.sen = s
	return v
}

// String returns the normalized form of the version.
func (v Version) String() string {
	if v.IsZero() {
		return ""
	}

	var b strings.Builder
	if v.epoch != 0 {
		b.WriteString(strconv.Itoa(v.epoch))
		b.WriteByte('!')
	}
	for i, r := range v.release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(r))
	}
	if v.sen == minDev {
		// Boundary of a wildcard or strict upper bound; print the release
		// alone so the bound renders as the specifier it came from.
		return b.String()
	}
	if v.pre != preNone {
		b.WriteString(v.pre.String())
		b.WriteString(strconv.Itoa(v.preNum))
	}
	if v.post != noPost && v.post != math.MaxInt {
		b.WriteString(".post")
		b.WriteString(strconv.Itoa(v.post))
	}
	if v.dev != noDev {
		b.WriteString(".dev")
		b.WriteString(strconv.Itoa(v.dev))
	}
	if len(v.local) > 0 {
		b.WriteByte('+')
		b.WriteString(strings.Join(v.local, "."))
	}
	return b.String()
}

// Equal reports whether v and o compare equal. Distinct spellings of the same
// version are equal; "1.0" equals "1.0.0".
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	if c := cmpInt(v.epoch, o.epoch); c != 0 {
		return c
	}
	if c := cmpRelease(v.release, o.release); c != 0 {
		return c
	}

	if v.sen == minDev || o.sen == minDev {
		switch {
		case v.sen == o.sen:
			return 0
		case v.sen == minDev:
			return -1
		default:
			return 1
		}
	}

	vr, vn := v.preKey()
	or, on := o.preKey()
	if c := cmpInt(vr, or); c != 0 {
		return c
	}
	if c := cmpInt(vn, on); c != 0 {
		return c
	}
	if c := cmpInt(v.postKey(), o.postKey()); c != 0 {
		return c
	}
	if c := cmpInt(v.devKey(), o.devKey()); c != 0 {
		return c
	}
	return v.cmpLocal(o)
}

// preKey orders the pre-release part. A bare dev release sorts below every
// pre-release; a version without a pre-release sorts above all of them.
func (v Version) preKey() (rank, num int) {
	switch {
	case v.pre == preNone && v.post == noPost && v.dev != noDev:
		return 0, 0
	case v.pre == preNone:
		return 4, 0
	default:
		return int(v.pre), v.preNum
	}
}

func (v Version) postKey() int {
	if v.sen == maxPost {
		return math.MaxInt
	}
	if v.post == noPost {
		return -1
	}
	return v.post
}

func (v Version) devKey() int {
	if v.sen == maxPost || v.dev == noDev {
		return math.MaxInt
	}
	return v.dev
}

func (v Version) cmpLocal(o Version) int {
	vmax, omax := v.sen == maxLocal || v.sen == maxPost, o.sen == maxLocal || o.sen == maxPost
	switch {
	case vmax && omax:
		return 0
	case vmax:
		return 1
	case omax:
		return -1
	}

	for i := 0; i < len(v.local) && i < len(o.local); i++ {
		a, b := v.local[i], o.local[i]
		an, aerr := strconv.Atoi(a)
		bn, berr := strconv.Atoi(b)
		switch {
		case aerr == nil && berr == nil:
			if c := cmpInt(an, bn); c != 0 {
				return c
			}
		case aerr == nil:
			// numeric segments sort after alphanumeric ones
			return 1
		case berr == nil:
			return -1
		default:
			if c := strings.Compare(a, b); c != 0 {
				return c
			}
		}
	}
	return cmpInt(len(v.local), len(o.local))
}

func cmpRelease(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := cmpInt(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Versions is a sortable list of versions, ascending.
type Versions []Version

func (vs Versions) Len() int           { return len(vs) }
func (vs Versions) Swap(i, j int)      { vs[i], vs[j] = vs[j], vs[i] }
func (vs Versions) Less(i, j int) bool { return vs[i].Less(vs[j]) }
