// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"sort"
	"strings"
	"time"

	"github.com/pydep/pydep/gps/pep440"
)

// DistKind distinguishes built wheels from source distributions.
type DistKind uint8

const (
	DistSdist DistKind = iota
	DistWheel
)

// Artifact is one downloadable file of a release.
type Artifact struct {
	Filename string
	URL      string
	// Hash is "<algorithm>:<hex digest>", e.g. "sha256:4f2a...".
	Hash       string
	Size       int64
	UploadTime time.Time
}

// Kind reports whether a is a wheel or a source distribution.
func (a Artifact) Kind() DistKind {
	if strings.HasSuffix(strings.ToLower(a.Filename), ".whl") {
		return DistWheel
	}
	return DistSdist
}

// Release is one published version of a package, as an index lists it.
type Release struct {
	Version        pep440.Version
	Artifacts      []Artifact
	RequiresPython pep440.Specifiers
	Yanked         bool
	YankedReason   string
	// Index is the name of the index that listed the release. It is empty for
	// direct sources.
	Index string
	// Source is the concrete source of the release: a registry source carrying
	// the index URL, or a pinned direct source.
	Source Source

	// tier ranks the release's index under unsafe-first-match. Lower tiers
	// are tried first.
	tier int
}

// VersionList is the set of releases of one package visible to a resolve,
// sorted ascending by version.
type VersionList struct {
	Name     PackageName
	Releases []Release
	// ExcludedNewer lists versions that exist but whose every artifact was
	// uploaded after the exclude-newer cutoff.
	ExcludedNewer []pep440.Version
}

// Versions returns the versions in l.
func (l VersionList) Versions() []pep440.Version {
	vs := make([]pep440.Version, len(l.Releases))
	for i, r := range l.Releases {
		vs[i] = r.Version
	}
	return vs
}

func sortReleases(rs []Release) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Version.Less(rs[j].Version)
	})
}

// Metadata is the core metadata of one package version: what it depends on
// and which interpreters it supports.
type Metadata struct {
	Name           PackageName
	Version        pep440.Version
	RequiresDist   []Requirement
	RequiresPython pep440.Specifiers
	ProvidesExtras ExtraNames
}

// An Atom identifies one concrete package version from one source.
type Atom struct {
	Name    PackageName
	Version pep440.Version
	Source  Source
}

func (a Atom) String() string {
	s := string(a.Name) + "==" + a.Version.String()
	if !IsRegistry(a.Source) {
		s += " (" + a.Source.String() + ")"
	}
	return s
}

// key is the cache and singleflight identity of a.
func (a Atom) key() string {
	return string(a.Name) + "@" + a.Version.String() + "@" + sourceString(a.Source)
}

// Candidate is a package version with everything the solver needs to decide
// on it. Candidates are immutable once fetched.
type Candidate struct {
	Atom
	Index          string
	RequiresPython pep440.Specifiers
	Requirements   []Requirement
	ProvidesExtras ExtraNames
	Artifacts      []Artifact
	Yanked         bool
}
