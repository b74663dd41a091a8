// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// SourceKind enumerates the places a package version can come from.
type SourceKind uint8

const (
	// KindRegistry is a package index: a simple-API registry or a flat
	// directory of archives.
	KindRegistry SourceKind = iota
	// KindURL is a direct URL to a wheel or source archive.
	KindURL
	// KindPath is a local archive or source tree.
	KindPath
	// KindGit is a git repository at a ref, pinned to a commit once resolved.
	KindGit
)

func (k SourceKind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindURL:
		return "url"
	case KindPath:
		return "path"
	case KindGit:
		return "git"
	}
	return "unknown"
}

// Source identifies where a package comes from. It is a closed set: the only
// implementations are RegistrySource, URLSource, PathSource and GitSource.
type Source interface {
	Kind() SourceKind
	// String is the stable identity of the source. Two sources with the same
	// String are the same source.
	String() string
	isSource()
}

// RegistrySource is a named package index. An empty URL means "whatever index
// the index strategy routes the package to".
type RegistrySource struct {
	URL string
}

func (RegistrySource) Kind() SourceKind { return KindRegistry }
func (RegistrySource) isSource()        {}

func (s RegistrySource) String() string {
	if s.URL == "" {
		return "registry"
	}
	return "registry+" + s.URL
}

// URLSource is a direct reference to a single distribution archive.
type URLSource struct {
	URL          string
	Subdirectory string
}

func (URLSource) Kind() SourceKind { return KindURL }
func (URLSource) isSource()        {}

func (s URLSource) String() string {
	if s.Subdirectory != "" {
		return s.URL + "#subdirectory=" + s.Subdirectory
	}
	return s.URL
}

// PathSource is a local archive or directory, relative to the workspace root
// when it is not absolute.
type PathSource struct {
	Path string
	// Directory marks a source tree rather than an archive.
	Directory bool
	// Editable marks a source tree installed in development mode. Workspace
	// members are editable.
	Editable bool
	// Virtual marks a source tree that is not itself installable; only its
	// dependencies are.
	Virtual bool
}

func (PathSource) Kind() SourceKind { return KindPath }
func (PathSource) isSource()        {}

func (s PathSource) String() string {
	switch {
	case s.Virtual:
		return "virtual+" + s.Path
	case s.Editable:
		return "editable+" + s.Path
	case s.Directory:
		return "directory+" + s.Path
	}
	return "path+" + s.Path
}

// GitSource is a git repository. Ref is what the user asked for (a branch,
// tag or revision, empty for the default branch); Commit is the full commit
// hash once the ref has been resolved.
type GitSource struct {
	Repository   string
	Ref          string
	Commit       string
	Subdirectory string
}

func (GitSource) Kind() SourceKind { return KindGit }
func (GitSource) isSource()        {}

func (s GitSource) String() string {
	u := "git+" + s.Repository
	if s.Ref != "" {
		u += "?rev=" + s.Ref
	}
	if s.Subdirectory != "" {
		u += "#subdirectory=" + s.Subdirectory
	}
	return u
}

// Pinned returns s with its commit set.
func (s GitSource) Pinned(commit string) GitSource {
	s.Commit = commit
	return s
}

// SourcesEq reports whether a and b name the same source. A nil source is a
// registry source with no fixed index.
func SourcesEq(a, b Source) bool {
	return sourceString(a) == sourceString(b)
}

func sourceString(s Source) string {
	if s == nil {
		return RegistrySource{}.String()
	}
	return s.String()
}

// IsRegistry reports whether s is nil or a registry source.
func IsRegistry(s Source) bool {
	return s == nil || s.Kind() == KindRegistry
}

var archiveSuffixes = []string{".whl", ".tar.gz", ".tgz", ".zip", ".tar.bz2", ".tar.xz", ".tar"}

// IsArchive reports whether p names a distribution archive.
func IsArchive(p string) bool {
	lp := strings.ToLower(p)
	for _, suf := range archiveSuffixes {
		if strings.HasSuffix(lp, suf) {
			return true
		}
	}
	return false
}

// ParseDirectURL parses the URL of a direct reference ("name @ url"). It
// understands git+ URLs, file:// URLs and plain http(s) archive URLs.
func ParseDirectURL(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	frag := ""
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw, frag = raw[:i], raw[i+1:]
	}
	subdir := ""
	if frag != "" {
		vals, err := url.ParseQuery(frag)
		if err != nil {
			return nil, errors.Wrapf(err, "bad fragment in %q", raw)
		}
		subdir = vals.Get("subdirectory")
	}

	switch {
	case strings.HasPrefix(raw, "git+"):
		return parseGitURL(strings.TrimPrefix(raw, "git+"), subdir)
	case strings.HasPrefix(raw, "file://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "bad file URL %q", raw)
		}
		p := path.Clean(u.Path)
		return PathSource{Path: p, Directory: !IsArchive(p)}, nil
	case strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		if _, err := url.Parse(raw); err != nil {
			return nil, errors.Wrapf(err, "bad URL %q", raw)
		}
		return URLSource{URL: raw, Subdirectory: subdir}, nil
	}
	return nil, errors.Errorf("unsupported direct reference %q", raw)
}

func parseGitURL(raw, subdir string) (GitSource, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return GitSource{}, errors.Wrapf(err, "bad git URL %q", raw)
	}
	gs := GitSource{Subdirectory: subdir}
	if q := u.Query(); q.Get("rev") != "" {
		gs.Ref = q.Get("rev")
		u.RawQuery = ""
	}
	// The ref rides after the last "@" in the path.
	if i := strings.LastIndexByte(u.Path, '@'); i >= 0 {
		gs.Ref = u.Path[i+1:]
		u.Path = u.Path[:i]
	}
	gs.Repository = u.String()
	if gs.Repository == "" {
		return GitSource{}, errors.Errorf("empty git repository in %q", raw)
	}
	return gs, nil
}
