// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
	"github.com/pydep/pydep/internal/fs"
)

// A Builder extracts metadata from a source tree whose pyproject.toml does
// not declare it statically. It stands in for a PEP 517 build backend.
type Builder interface {
	BuildMetadata(ctx context.Context, dir string) (Metadata, error)
}

// pyprojectProject is the static subset of the [project] table.
type pyprojectProject struct {
	Name                 string              `toml:"name"`
	Version              string              `toml:"version"`
	RequiresPython       string              `toml:"requires-python"`
	Dependencies         []string            `toml:"dependencies"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	Dynamic              []string            `toml:"dynamic"`
}

type pyprojectFile struct {
	Project *pyprojectProject `toml:"project"`
}

// StaticMetadata reads the [project] table of the pyproject.toml in dir. It
// reports false, without error, if the table leaves the version or the
// dependencies dynamic.
func StaticMetadata(dir string) (Metadata, bool, error) {
	raw, err := ioutil.ReadFile(filepath.Join(dir, "pyproject.toml"))
	if os.IsNotExist(err) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, errors.Wrapf(err, "failed to read pyproject.toml in %s", dir)
	}
	var pf pyprojectFile
	if err := toml.Unmarshal(raw, &pf); err != nil {
		return Metadata{}, false, errors.Wrapf(err, "malformed pyproject.toml in %s", dir)
	}
	if pf.Project == nil {
		return Metadata{}, false, nil
	}
	return pf.Project.metadata()
}

func (p *pyprojectProject) metadata() (Metadata, bool, error) {
	for _, d := range p.Dynamic {
		switch d {
		case "version", "dependencies", "optional-dependencies", "requires-python":
			return Metadata{}, false, nil
		}
	}

	var m Metadata
	var err error
	if m.Name, err = ParseName(p.Name); err != nil {
		return Metadata{}, false, errors.Wrap(err, "[project] name")
	}
	if p.Version == "" {
		return Metadata{}, false, nil
	}
	if m.Version, err = pep440.Parse(p.Version); err != nil {
		return Metadata{}, false, errors.Wrap(err, "[project] version")
	}
	if m.RequiresPython, err = pep440.ParseSpecifiers(p.RequiresPython); err != nil {
		return Metadata{}, false, errors.Wrap(err, "[project] requires-python")
	}
	if m.RequiresDist, err = ParseRequirements(p.Dependencies); err != nil {
		return Metadata{}, false, errors.Wrap(err, "[project] dependencies")
	}

	extras := make([]string, 0, len(p.OptionalDependencies))
	for e := range p.OptionalDependencies {
		extras = append(extras, e)
	}
	sort.Strings(extras)
	for _, e := range extras {
		reqs, err := ParseRequirements(p.OptionalDependencies[e])
		if err != nil {
			return Metadata{}, false, errors.Wrapf(err, "[project.optional-dependencies] %s", e)
		}
		en := NormalizeExtra(e)
		m.ProvidesExtras = append(m.ProvidesExtras, en)
		for _, r := range reqs {
			m.RequiresDist = append(m.RequiresDist, r.WithMarker(r.Marker.And(markers.StringEquals(markers.Extra, string(en)))))
		}
	}
	m.ProvidesExtras = dedupeExtras(m.ProvidesExtras)
	return m, true, nil
}

// pathSource is a local source tree or archive.
type pathSource struct {
	src     PathSource
	abs     string
	builder Builder

	// Built metadata, valid while the tree still has digest.
	mu     sync.Mutex
	digest string
	built  Metadata
}

func newPathSource(src PathSource, root string, builder Builder) *pathSource {
	abs := src.Path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	return &pathSource{src: src, abs: filepath.Clean(abs), builder: builder}
}

func (s *pathSource) metadata(ctx context.Context) (Metadata, []Artifact, error) {
	fi, err := os.Stat(s.abs)
	if err != nil {
		return Metadata{}, nil, errors.Wrapf(err, "path source %s", s.src.Path)
	}

	if !fi.IsDir() {
		art, err := fileArtifact(s.abs)
		if err != nil {
			return Metadata{}, nil, err
		}
		var m Metadata
		if art.Kind() == DistWheel {
			m, err = wheelMetadata(s.abs)
		} else {
			m, err = sdistMetadata(s.abs)
		}
		return m, []Artifact{art}, err
	}

	m, ok, err := StaticMetadata(s.abs)
	if err != nil {
		return Metadata{}, nil, err
	}
	if ok {
		return m, nil, nil
	}
	if s.builder == nil {
		return Metadata{}, nil, errors.Errorf("%s does not declare its metadata statically, and no build backend is available", s.src.Path)
	}

	digest, err := fs.TreeDigest(s.abs)
	if err != nil {
		return Metadata{}, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.digest == digest {
		return s.built, nil, nil
	}
	m, err = s.builder.BuildMetadata(ctx, s.abs)
	if err != nil {
		return Metadata{}, nil, errors.Wrapf(err, "failed to build metadata for %s", s.src.Path)
	}
	s.digest, s.built = digest, m
	return m, nil, nil
}

func (s *pathSource) listReleases(ctx context.Context, name PackageName) ([]Release, error) {
	m, arts, err := s.metadata(ctx)
	if err != nil {
		return nil, err
	}
	if m.Name != name {
		return nil, errors.Errorf("%s provides %s, not %s", s.src.Path, m.Name, name)
	}
	return []Release{{
		Version:        m.Version,
		Artifacts:      arts,
		RequiresPython: m.RequiresPython,
		Source:         s.src,
	}}, nil
}

func (s *pathSource) getMetadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error) {
	m, _, err := s.metadata(ctx)
	return m, err
}

func (s *pathSource) sourceType() string { return "path" }

func (s *pathSource) networked() bool { return false }
