// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

// A Requirement is a dependency declaration: a package name, optional extras,
// a version constraint or a direct source, and an environment marker.
type Requirement struct {
	Name       PackageName
	Extras     ExtraNames
	Specifiers pep440.Specifiers
	Marker     markers.Marker
	// Source is nil for an ordinary index requirement.
	Source Source
	// Index pins the requirement to a named index.
	Index string
}

// ParseRequirement parses a PEP 508 requirement string such as
//
//	requests[socks] >=2.8.1, <3 ; python_version >= "3.8"
//	flask @ git+https://github.com/pallets/flask@3.0.0
func ParseRequirement(s string) (Requirement, error) {
	in := s
	s = strings.TrimSpace(s)
	var req Requirement

	i := 0
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	name, err := ParseName(s[:i])
	if err != nil {
		return req, errors.Wrapf(err, "requirement %q", in)
	}
	req.Name = name
	s = strings.TrimSpace(s[i:])

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return req, errors.Errorf("requirement %q: unterminated extras", in)
		}
		for _, e := range strings.Split(s[1:end], ",") {
			e = strings.TrimSpace(e)
			if e == "" {
				continue
			}
			if _, err := ParseName(e); err != nil {
				return req, errors.Wrapf(err, "requirement %q", in)
			}
			req.Extras = append(req.Extras, NormalizeExtra(e))
		}
		req.Extras = dedupeExtras(req.Extras)
		s = strings.TrimSpace(s[end+1:])
	}

	var marker string
	if strings.HasPrefix(s, "@") {
		rest := strings.TrimSpace(s[1:])
		end := strings.IndexAny(rest, " \t")
		urlPart := rest
		if end >= 0 {
			urlPart, rest = rest[:end], strings.TrimSpace(rest[end:])
		} else {
			rest = ""
		}
		if rest != "" {
			if !strings.HasPrefix(rest, ";") {
				return req, errors.Errorf("requirement %q: unexpected %q after URL", in, rest)
			}
			marker = rest[1:]
		}
		src, err := ParseDirectURL(urlPart)
		if err != nil {
			return req, errors.Wrapf(err, "requirement %q", in)
		}
		req.Source = src
	} else {
		spec := s
		if j := strings.IndexByte(s, ';'); j >= 0 {
			spec, marker = s[:j], s[j+1:]
		}
		spec = strings.TrimSpace(spec)
		if strings.HasPrefix(spec, "(") {
			if !strings.HasSuffix(spec, ")") {
				return req, errors.Errorf("requirement %q: unbalanced parentheses", in)
			}
			spec = spec[1 : len(spec)-1]
		}
		req.Specifiers, err = pep440.ParseSpecifiers(spec)
		if err != nil {
			return req, errors.Wrapf(err, "requirement %q", in)
		}
	}

	req.Marker, err = markers.Parse(marker)
	if err != nil {
		return req, errors.Wrapf(err, "requirement %q", in)
	}
	return req, nil
}

// MustParseRequirement is like ParseRequirement but panics on error.
func MustParseRequirement(s string) Requirement {
	r, err := ParseRequirement(s)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseRequirements parses each string in ss.
func ParseRequirements(ss []string) ([]Requirement, error) {
	reqs := make([]Requirement, 0, len(ss))
	for _, s := range ss {
		r, err := ParseRequirement(s)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func isNameByte(c byte) bool {
	return c == '-' || c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func dedupeExtras(es ExtraNames) ExtraNames {
	if len(es) == 0 {
		return nil
	}
	sort.Sort(es)
	out := es[:1]
	for _, e := range es[1:] {
		if e != out[len(out)-1] {
			out = append(out, e)
		}
	}
	return out
}

// VersionSet is the set of versions the requirement accepts. Direct
// references accept whatever version the source provides.
func (r Requirement) VersionSet() pep440.VersionSet {
	if r.Source != nil && r.Source.Kind() != KindRegistry {
		return pep440.Any()
	}
	return r.Specifiers.VersionSet()
}

// IsDirect reports whether the requirement names a URL, path or git source.
func (r Requirement) IsDirect() bool {
	return r.Source != nil && r.Source.Kind() != KindRegistry
}

// WithMarker returns a copy of r with its marker replaced.
func (r Requirement) WithMarker(m markers.Marker) Requirement {
	r.Marker = m
	return r
}

// String renders r in canonical PEP 508 form.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(string(r.Name))
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras.Strings(), ",") + "]")
	}
	switch {
	case r.IsDirect():
		b.WriteString(" @ " + directURL(r.Source))
		if m := r.Marker.String(); m != "" {
			b.WriteString(" ")
		}
	case len(r.Specifiers) > 0:
		b.WriteString(r.Specifiers.String())
	}
	if m := r.Marker.String(); m != "" {
		b.WriteString("; " + m)
	}
	return b.String()
}

func directURL(s Source) string {
	switch src := s.(type) {
	case GitSource:
		u := "git+" + src.Repository
		if src.Ref != "" {
			u += "@" + src.Ref
		}
		if src.Subdirectory != "" {
			u += "#subdirectory=" + src.Subdirectory
		}
		return u
	case PathSource:
		return "file://" + src.Path
	case URLSource:
		return src.String()
	}
	return s.String()
}
