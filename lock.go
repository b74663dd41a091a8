// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
	"github.com/pydep/pydep/gps/verify"
)

// LockName is the lock file name used by pydep.
const LockName = "pydep.lock"

// The lock schema version written by this build. Readers accept any
// revision of the same version; revisions only add fields.
const (
	lockVersion  = 1
	lockRevision = 1
)

// Lock holds a Resolution as persisted, along with the inputs it was made
// from.
type Lock struct {
	Version  int
	Revision int

	RequiresPython pep440.Specifiers
	// ResolutionMarkers are the environments of the forks, when the
	// resolution forked.
	ResolutionMarkers []markers.Marker
	Conflicts         []gps.ConflictSet
	Options           LockOptions
	Manifest          LockManifest

	// Packages are sorted by name, then version, then source.
	Packages []gps.ResolvedPackage
}

// LockOptions are the resolver settings a lock was made with. Zero values
// are the defaults and are not written.
type LockOptions struct {
	Resolution    gps.ResolutionStrategy
	Prerelease    gps.PrereleaseMode
	ForkStrategy  gps.ForkStrategy
	IndexStrategy gps.IndexStrategy
	ExcludeNewer  time.Time
	Environments  []markers.Marker
}

// LockManifest records the project inputs a lock was made from.
type LockManifest struct {
	Members []gps.PackageName
	// Requirements are root requirements owned by no member.
	Requirements []gps.Requirement
	// DependencyGroups are the groups of a workspace root that is not
	// itself a member.
	DependencyGroups map[gps.ExtraName][]gps.Requirement
	Constraints      []gps.Requirement
	Overrides        []gps.Requirement
}

// LockFromResolution builds the lock of res.
//
// Artifacts are put in a canonical order: the source distribution first,
// then wheels by filename. Only one source distribution is kept.
func LockFromResolution(res gps.Resolution, opts LockOptions, man LockManifest) *Lock {
	l := &Lock{
		Version:           lockVersion,
		Revision:          lockRevision,
		RequiresPython:    res.RequiresPython,
		ResolutionMarkers: append([]markers.Marker(nil), res.Forks...),
		Conflicts:         append([]gps.ConflictSet(nil), res.Conflicts...),
		Options:           opts,
		Manifest:          man,
		Packages:          make([]gps.ResolvedPackage, len(res.Packages)),
	}
	sort.Slice(l.Manifest.Members, func(i, j int) bool { return l.Manifest.Members[i] < l.Manifest.Members[j] })

	for i, p := range res.Packages {
		p.Artifacts = canonicalArtifacts(p.Artifacts)
		l.Packages[i] = p
	}
	sortLockPackages(l.Packages)
	return l
}

func canonicalArtifacts(as []gps.Artifact) []gps.Artifact {
	var sdist *gps.Artifact
	var wheels []gps.Artifact
	for i, a := range as {
		if a.Kind() == gps.DistWheel {
			wheels = append(wheels, a)
			continue
		}
		if sdist == nil || (strings.HasSuffix(a.Filename, ".tar.gz") && !strings.HasSuffix(sdist.Filename, ".tar.gz")) {
			sdist = &as[i]
		}
	}
	sort.SliceStable(wheels, func(i, j int) bool { return wheels[i].Filename < wheels[j].Filename })

	var out []gps.Artifact
	if sdist != nil {
		out = append(out, *sdist)
	}
	return append(out, wheels...)
}

func sortLockPackages(ps []gps.ResolvedPackage) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if c := a.Version.Compare(b.Version); c != 0 {
			return c < 0
		}
		return sourceKey(a.Source) < sourceKey(b.Source)
	})
}

func sourceKey(s gps.Source) string {
	if s == nil {
		return gps.RegistrySource{}.String()
	}
	return s.String()
}

// Resolution returns the Resolution persisted in l.
func (l *Lock) Resolution() gps.Resolution {
	res := gps.Resolution{
		RequiresPython: l.RequiresPython,
		Forks:          append([]markers.Marker(nil), l.ResolutionMarkers...),
		Conflicts:      append([]gps.ConflictSet(nil), l.Conflicts...),
		Packages:       append([]gps.ResolvedPackage(nil), l.Packages...),
	}
	return res
}

// Preferences returns the locked versions as solver preferences. Each is
// restricted to the environments its version was locked for.
func (l *Lock) Preferences() []gps.Preference {
	var out []gps.Preference
	for _, p := range l.Packages {
		if p.Member {
			continue
		}
		pref := gps.Preference{Name: p.Name, Version: p.Version, Source: p.Source, Marker: markers.True()}
		if len(p.ForkMarkers) > 0 {
			pref.Marker = markers.False()
			for _, m := range p.ForkMarkers {
				pref.Marker = pref.Marker.Or(m)
			}
		}
		out = append(out, pref)
	}
	return out
}

// Inputs returns the recorded inputs of l, for comparison with those of the
// current project.
func (l *Lock) Inputs() verify.Inputs {
	return verify.Inputs{
		Members:        l.Manifest.Members,
		RequiresPython: l.RequiresPython.String(),
		Requirements:   l.Manifest.Requirements,
		Constraints:    requirementStrings(l.Manifest.Constraints),
		Overrides:      requirementStrings(l.Manifest.Overrides),
		Options:        l.Options.values(),
	}
}

func (o LockOptions) values() map[string]string {
	m := map[string]string{
		"resolution-mode": o.Resolution.String(),
		"prerelease-mode": o.Prerelease.String(),
		"fork-strategy":   o.ForkStrategy.String(),
		"index-strategy":  o.IndexStrategy.String(),
	}
	if !o.ExcludeNewer.IsZero() {
		m["exclude-newer"] = o.ExcludeNewer.UTC().Format(time.RFC3339)
	}
	if len(o.Environments) > 0 {
		m["environments"] = strings.Join(markerStrings(o.Environments), " | ")
	}
	return m
}

func requirementStrings(rs []gps.Requirement) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}

func markerStrings(ms []markers.Marker) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}

// ReadLock parses a lock. It performs no network or solver activity.
// Unknown fields are ignored, so locks written by newer revisions of the
// same schema version can be read.
func ReadLock(r io.Reader) (*Lock, error) {
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errors.Wrap(err, "unable to read lock")
	}
	raw, err := decodeLock(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return raw.toLock()
}

// locksAreEquivalent reports whether two locks serialize identically. If
// EITHER lock is nil, false is returned.
func locksAreEquivalent(l, r *Lock) bool {
	if l == nil || r == nil {
		return false
	}
	lb, err := l.MarshalTOML()
	if err != nil {
		return false
	}
	rb, err := r.MarshalTOML()
	if err != nil {
		return false
	}
	return bytes.Equal(lb, rb)
}
