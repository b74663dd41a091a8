// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pep440

import (
	"strings"

	"github.com/pkg/errors"
)

// Operator is a version comparison operator.
type Operator string

// The operators PEP 440 defines.
const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreaterEqual   Operator = ">="
	OpLessEqual      Operator = "<="
	OpGreater        Operator = ">"
	OpLess           Operator = "<"
	OpCompatible     Operator = "~="
	OpArbitraryEqual Operator = "==="
)

// operators in longest-prefix-first order, for parsing.
var operators = []Operator{
	OpArbitraryEqual, OpCompatible, OpEqual, OpNotEqual,
	OpGreaterEqual, OpLessEqual, OpGreater, OpLess,
}

// A Specifier is a single operator/version clause, such as ">=1.0" or
// "==2.*".
type Specifier struct {
	Op      Operator
	Version Version
	// Wildcard is set for prefix matches, "==1.2.*" and "!=1.2.*".
	Wildcard bool
	// raw keeps the operand of "===" verbatim; it compares as a string.
	raw string
}

// ParseSpecifier parses one specifier clause.
func ParseSpecifier(s string) (Specifier, error) {
	s = strings.TrimSpace(s)
	var op Operator
	for _, o := range operators {
		if strings.HasPrefix(s, string(o)) {
			op = o
			break
		}
	}
	if op == "" {
		return Specifier{}, errors.Errorf("specifier %q has no comparison operator", s)
	}

	body := strings.TrimSpace(s[len(op):])
	if body == "" {
		return Specifier{}, errors.Errorf("specifier %q has no version", s)
	}

	spec := Specifier{Op: op}
	if op == OpArbitraryEqual {
		spec.raw = body
		if v, err := Parse(body); err == nil {
			spec.Version = v
		}
		return spec, nil
	}

	if strings.HasSuffix(body, ".*") {
		if op != OpEqual && op != OpNotEqual {
			return Specifier{}, errors.Errorf("wildcard is only allowed with == and !=, not in %q", s)
		}
		spec.Wildcard = true
		body = strings.TrimSuffix(body, ".*")
	}

	v, err := Parse(body)
	if err != nil {
		return Specifier{}, errors.Wrapf(err, "invalid specifier %q", s)
	}
	if spec.Wildcard && (v.IsLocal() || v.IsPrerelease() || v.IsPost()) {
		return Specifier{}, errors.Errorf("wildcard specifier %q may only name a release segment", s)
	}
	if op == OpCompatible && len(v.release) < 2 {
		return Specifier{}, errors.Errorf("compatible release %q needs at least two release segments", s)
	}
	if v.IsLocal() && op != OpEqual && op != OpNotEqual {
		return Specifier{}, errors.Errorf("local version label is not permitted with %s in %q", op, s)
	}
	spec.Version = v
	return spec, nil
}

// String returns the normalized form of the clause.
func (s Specifier) String() string {
	if s.Op == OpArbitraryEqual {
		return string(s.Op) + s.raw
	}
	if s.Wildcard {
		return string(s.Op) + s.Version.String() + ".*"
	}
	return string(s.Op) + s.Version.String()
}

// VersionSet returns the set of versions the clause admits.
func (s Specifier) VersionSet() VersionSet {
	v := s.Version
	switch s.Op {
	case OpArbitraryEqual:
		if v.IsZero() {
			return Empty()
		}
		return Singleton(v)
	case OpEqual:
		if s.Wildcard {
			return prefixSet(v)
		}
		if v.IsLocal() {
			return Singleton(v)
		}
		// A candidate's local label is ignored when the clause names none.
		return newSet(interval{lo: inclusive(v), hi: inclusive(v.withSentinel(maxLocal))})
	case OpNotEqual:
		if s.Wildcard {
			return prefixSet(v).Complement()
		}
		return Specifier{Op: OpEqual, Version: v}.VersionSet().Complement()
	case OpGreaterEqual:
		return newSet(interval{lo: inclusive(v), hi: unbounded()})
	case OpGreater:
		if v.IsPost() {
			return newSet(interval{lo: exclusive(v.withSentinel(maxLocal)), hi: unbounded()})
		}
		// ">V" admits neither post releases nor local variants of V.
		return newSet(interval{lo: exclusive(v.withSentinel(maxPost)), hi: unbounded()})
	case OpLessEqual:
		return newSet(interval{lo: unbounded(), hi: inclusive(v.withSentinel(maxLocal))})
	case OpLess:
		if v.IsPrerelease() || v.IsPost() {
			return newSet(interval{lo: unbounded(), hi: exclusive(v)})
		}
		// "<V" does not admit pre-releases of V.
		return newSet(interval{lo: unbounded(), hi: exclusive(v.Final().withSentinel(minDev))})
	case OpCompatible:
		prefix := v
		prefix.release = v.release[:len(v.release)-1]
		return newSet(interval{lo: inclusive(v), hi: unbounded()}).Intersect(prefixSet(prefix.Final()))
	}
	return Empty()
}

// prefixSet is the set matched by "==v.*".
func prefixSet(v Version) VersionSet {
	lo := v.Final().withSentinel(minDev)
	next := v.Final()
	next.release = v.Release()
	next.release[len(next.release)-1]++
	return newSet(interval{lo: inclusive(lo), hi: exclusive(next.withSentinel(minDev))})
}

// Specifiers is a conjunction of specifier clauses. The empty list admits
// every version.
type Specifiers []Specifier

// ParseSpecifiers parses a comma separated list of clauses, such as
// ">=1.0, <2.0, !=1.5.*".
func ParseSpecifiers(s string) (Specifiers, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out Specifiers
	for _, part := range strings.Split(s, ",") {
		spec, err := ParseSpecifier(part)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// MustParseSpecifiers is like ParseSpecifiers but panics on error.
func MustParseSpecifiers(s string) Specifiers {
	specs, err := ParseSpecifiers(s)
	if err != nil {
		panic(err)
	}
	return specs
}

// VersionSet intersects the sets of all clauses.
func (ss Specifiers) VersionSet() VersionSet {
	set := Any()
	for _, s := range ss {
		set = set.Intersect(s.VersionSet())
	}
	return set
}

// Contains reports whether v satisfies every clause.
func (ss Specifiers) Contains(v Version) bool {
	for _, s := range ss {
		if s.Op == OpArbitraryEqual {
			if !strings.EqualFold(s.raw, v.String()) {
				return false
			}
			continue
		}
		if !s.VersionSet().Contains(v) {
			return false
		}
	}
	return true
}

// MentionsPrerelease reports whether any clause names a pre-release version.
// Such a clause opts the requirement into pre-releases under the explicit
// pre-release policies.
func (ss Specifiers) MentionsPrerelease() bool {
	for _, s := range ss {
		if s.Version.IsPrerelease() {
			return true
		}
	}
	return false
}

// String joins the normalized clauses with commas.
func (ss Specifiers) String() string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
