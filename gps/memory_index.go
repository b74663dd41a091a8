// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
)

// MemoryIndex is an IndexClient serving releases held in memory. It backs
// fixtures and offline mirrors.
type MemoryIndex struct {
	mu    sync.RWMutex
	pkgs  map[PackageName][]memoryRelease
	fail  map[PackageName]error
	calls int64
}

type memoryRelease struct {
	rel  Release
	meta Metadata
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		pkgs: make(map[PackageName][]memoryRelease),
		fail: make(map[PackageName]error),
	}
}

// Add publishes a release with its metadata. The metadata name and version
// are taken from the release when unset.
func (ix *MemoryIndex) Add(name PackageName, r Release, m Metadata) {
	if m.Name == "" {
		m.Name = name
	}
	if m.Version.IsZero() {
		m.Version = r.Version
	}
	if len(r.RequiresPython) == 0 {
		r.RequiresPython = m.RequiresPython
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rs := ix.pkgs[name]
	for i := range rs {
		if rs[i].rel.Version.Equal(r.Version) {
			rs[i] = memoryRelease{rel: r, meta: m}
			return
		}
	}
	ix.pkgs[name] = append(rs, memoryRelease{rel: r, meta: m})
}

// Publish adds a release of name at version, with one sdist artifact and the
// given PEP 508 requirement strings. It panics on malformed input.
func (ix *MemoryIndex) Publish(name, version string, requires ...string) *MemoryIndex {
	n := NormalizeName(name)
	v := pep440.MustParse(version)
	reqs := make([]Requirement, 0, len(requires))
	for _, s := range requires {
		reqs = append(reqs, MustParseRequirement(s))
	}

	var extras ExtraNames
	for _, r := range reqs {
		for _, x := range r.Marker.Extras() {
			if !extras.contains(ExtraName(x)) {
				extras = append(extras, ExtraName(x))
			}
		}
	}

	fn := string(n) + "-" + v.String() + ".tar.gz"
	ix.Add(n, Release{
		Version: v,
		Artifacts: []Artifact{{
			Filename: fn,
			URL:      "https://files.example/" + fn,
			Hash:     "sha256:" + fakeDigest(fn),
		}},
	}, Metadata{RequiresDist: reqs, ProvidesExtras: extras})
	return ix
}

// Yank marks a published release as yanked.
func (ix *MemoryIndex) Yank(name, version, reason string) *MemoryIndex {
	return ix.update(name, version, func(r *memoryRelease) {
		r.rel.Yanked, r.rel.YankedReason = true, reason
	})
}

// RequirePython sets the Requires-Python of a published release.
func (ix *MemoryIndex) RequirePython(name, version, spec string) *MemoryIndex {
	specs := pep440.MustParseSpecifiers(spec)
	return ix.update(name, version, func(r *memoryRelease) {
		r.rel.RequiresPython = specs
		r.meta.RequiresPython = specs
	})
}

// Uploaded sets the upload time of every artifact of a published release.
func (ix *MemoryIndex) Uploaded(name, version string, t time.Time) *MemoryIndex {
	return ix.update(name, version, func(r *memoryRelease) {
		arts := make([]Artifact, len(r.rel.Artifacts))
		for i, a := range r.rel.Artifacts {
			a.UploadTime = t
			arts[i] = a
		}
		r.rel.Artifacts = arts
	})
}

// FailWith makes every query for name fail with err.
func (ix *MemoryIndex) FailWith(name string, err error) *MemoryIndex {
	ix.mu.Lock()
	ix.fail[NormalizeName(name)] = err
	ix.mu.Unlock()
	return ix
}

// Calls returns the number of queries served so far.
func (ix *MemoryIndex) Calls() int {
	return int(atomic.LoadInt64(&ix.calls))
}

func (ix *MemoryIndex) update(name, version string, f func(*memoryRelease)) *MemoryIndex {
	n := NormalizeName(name)
	v := pep440.MustParse(version)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i := range ix.pkgs[n] {
		if ix.pkgs[n][i].rel.Version.Equal(v) {
			f(&ix.pkgs[n][i])
			return ix
		}
	}
	panic("canary - no release " + string(n) + " " + version)
}

// Releases implements IndexClient.
func (ix *MemoryIndex) Releases(ctx context.Context, name PackageName) ([]Release, error) {
	atomic.AddInt64(&ix.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.fail[name]; err != nil {
		return nil, err
	}
	rs := make([]Release, 0, len(ix.pkgs[name]))
	for _, mr := range ix.pkgs[name] {
		rs = append(rs, mr.rel)
	}
	return rs, nil
}

// Metadata implements IndexClient.
func (ix *MemoryIndex) Metadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error) {
	atomic.AddInt64(&ix.calls, 1)
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.fail[name]; err != nil {
		return Metadata{}, err
	}
	for _, mr := range ix.pkgs[name] {
		if mr.rel.Version.Equal(v) {
			return mr.meta, nil
		}
	}
	return Metadata{}, errors.Errorf("%s has no release %s", name, v)
}

// fakeDigest derives a stable, hash-shaped hex string from s.
func fakeDigest(s string) string {
	const hexdig = "0123456789abcdef"
	h := xxhash.Sum64String(s)
	out := make([]byte, 64)
	for i := range out {
		out[i] = hexdig[(h>>(uint(i%16)*4))&0xf]
		if i%16 == 15 {
			h = h*1099511628211 + uint64(i)
		}
	}
	return string(out)
}
