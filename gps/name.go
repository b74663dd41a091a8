// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"regexp"
	"strings"
)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

var validName = regexp.MustCompile(`(?i)^([a-z0-9]|[a-z0-9][a-z0-9._-]*[a-z0-9])$`)

// PackageName is a normalized distribution name: lowercase, with every run of
// "-", "_" and "." collapsed to a single "-". Two spellings of one name always
// normalize to the same PackageName.
type PackageName string

// NormalizeName normalizes s as a package name. It does not validate it.
func NormalizeName(s string) PackageName {
	return PackageName(nameSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"))
}

// ParseName validates and normalizes s.
func ParseName(s string) (PackageName, error) {
	s = strings.TrimSpace(s)
	if !validName.MatchString(s) {
		return "", badInputError{what: "package name", in: s}
	}
	return NormalizeName(s), nil
}

func (n PackageName) String() string {
	return string(n)
}

// ExtraName is a normalized extra or dependency group name. Normalization is
// the same as for package names.
type ExtraName string

// NormalizeExtra normalizes s as an extra or group name.
func NormalizeExtra(s string) ExtraName {
	return ExtraName(NormalizeName(s))
}

func (e ExtraName) String() string {
	return string(e)
}

// ExtraNames is a sortable, deduplicated list of extras.
type ExtraNames []ExtraName

func (es ExtraNames) Len() int           { return len(es) }
func (es ExtraNames) Swap(i, j int)      { es[i], es[j] = es[j], es[i] }
func (es ExtraNames) Less(i, j int) bool { return es[i] < es[j] }

func (es ExtraNames) contains(e ExtraName) bool {
	for _, x := range es {
		if x == e {
			return true
		}
	}
	return false
}

// Strings returns the extras as plain strings.
func (es ExtraNames) Strings() []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = string(e)
	}
	return out
}

type badInputError struct {
	what, in string
}

func (e badInputError) Error() string {
	return "invalid " + e.what + ": " + e.in
}
