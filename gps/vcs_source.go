// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
)

// Used to compute a friendly filepath from a URL-shaped input.
var sanitizer = strings.NewReplacer("-", "--", ":", "-", "/", "-", "+", "-")

// gitSource is a git repository checked out under the cache directory. The
// requested ref is resolved to a commit once per resolve.
type gitSource struct {
	src     GitSource
	builder Builder
	offline bool

	mu     sync.Mutex // serializes all repository operations
	repo   *gitRepo
	synced bool
	commit string
}

func newGitSource(src GitSource, cachedir string, builder Builder, offline bool) (*gitSource, error) {
	// One checkout per repository and ref, as refs are checked out in place.
	key := src.Repository
	if src.Ref != "" {
		key += "@" + src.Ref
	}
	local := filepath.Join(cachedir, "git", sanitizer.Replace(key))
	repo, err := vcs.NewGitRepo(src.Repository, local)
	if err != nil {
		return nil, errors.Wrapf(unwrapVcsErr(err), "unable to set up git repository %s", src.Repository)
	}
	return &gitSource{src: src, builder: builder, offline: offline, repo: &gitRepo{repo}}, nil
}

// sync brings the local clone up to date and checks out the requested ref.
func (s *gitSource) sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synced {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r := s.repo
	switch {
	case !r.CheckLocal() && s.offline:
		return errOffline
	case !r.CheckLocal():
		if err := r.get(ctx); err != nil {
			return errors.Wrapf(unwrapVcsErr(err), "failed to clone %s", r.Remote())
		}
	case !s.offline:
		if err := r.fetch(ctx); err != nil {
			return errors.Wrapf(unwrapVcsErr(err), "failed to update %s", r.Remote())
		}
	}

	// A locked commit wins over the ref it was resolved from.
	// Without a ref, follow the remote's default branch.
	rev := s.src.Ref
	if s.src.Commit != "" {
		rev = s.src.Commit
	}
	if rev == "" {
		rev = "HEAD"
	}
	if err := r.updateVersion(ctx, rev); err != nil {
		return errors.Wrapf(unwrapVcsErr(err), "%s has no revision %q", r.Remote(), rev)
	}
	commit, err := r.Version()
	if err != nil {
		return errors.Wrapf(unwrapVcsErr(err), "failed to resolve HEAD of %s", r.Remote())
	}
	s.commit = commit
	s.synced = true
	return nil
}

func (s *gitSource) dir() string {
	return filepath.Join(s.repo.LocalPath(), filepath.FromSlash(s.src.Subdirectory))
}

func (s *gitSource) metadata(ctx context.Context) (Metadata, error) {
	if err := s.sync(ctx); err != nil {
		return Metadata{}, err
	}
	m, ok, err := StaticMetadata(s.dir())
	if err != nil || ok {
		return m, err
	}
	if s.builder == nil {
		return Metadata{}, errors.Errorf("%s does not declare its metadata statically, and no build backend is available", s.src)
	}
	m, err = s.builder.BuildMetadata(ctx, s.dir())
	return m, errors.Wrapf(err, "failed to build metadata for %s", s.src)
}

func (s *gitSource) listReleases(ctx context.Context, name PackageName) ([]Release, error) {
	m, err := s.metadata(ctx)
	if err != nil {
		return nil, err
	}
	if m.Name != name {
		return nil, errors.Errorf("%s provides %s, not %s", s.src, m.Name, name)
	}
	return []Release{{
		Version:        m.Version,
		RequiresPython: m.RequiresPython,
		Source:         s.src.Pinned(s.commit),
	}}, nil
}

func (s *gitSource) getMetadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error) {
	return s.metadata(ctx)
}

func (s *gitSource) sourceType() string { return "git" }

// networked is false: the clone doubles as the cache, and offline mode is
// handled by sync.
func (s *gitSource) networked() bool { return false }

// DirectClient fetches the metadata of a direct URL reference. It stands in
// for the HTTP client and build backend.
type DirectClient interface {
	FetchURL(ctx context.Context, src URLSource) (Metadata, Artifact, error)
}

// urlSource is a single archive at a URL.
type urlSource struct {
	src    URLSource
	client DirectClient
}

func (s *urlSource) fetch(ctx context.Context) (Metadata, Artifact, error) {
	if s.client == nil {
		return Metadata{}, Artifact{}, errors.Errorf("no client configured for direct URL %s", s.src.URL)
	}
	return s.client.FetchURL(ctx, s.src)
}

func (s *urlSource) listReleases(ctx context.Context, name PackageName) ([]Release, error) {
	m, art, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if m.Name != name {
		return nil, errors.Errorf("%s provides %s, not %s", s.src.URL, m.Name, name)
	}
	return []Release{{
		Version:        m.Version,
		Artifacts:      []Artifact{art},
		RequiresPython: m.RequiresPython,
		Source:         s.src,
	}}, nil
}

func (s *urlSource) getMetadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error) {
	m, _, err := s.fetch(ctx)
	return m, err
}

func (s *urlSource) sourceType() string { return "url" }

func (s *urlSource) networked() bool { return true }
