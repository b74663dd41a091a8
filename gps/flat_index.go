// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
)

// FlatIndex is an IndexClient over a flat directory of wheels and source
// distributions, as used by --find-links. The directory is scanned once, on
// first use.
type FlatIndex struct {
	Dir string

	once  sync.Once
	err   error
	files map[PackageName][]flatFile
}

type flatFile struct {
	version pep440.Version
	path    string
	kind    DistKind
}

// NewFlatIndex returns a FlatIndex over dir.
func NewFlatIndex(dir string) *FlatIndex {
	return &FlatIndex{Dir: dir}
}

func (f *FlatIndex) scan() {
	f.files = make(map[PackageName][]flatFile)
	root := filepath.Clean(f.Dir)
	f.err = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(p string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if filepath.Clean(p) == root {
					return nil
				}
				return filepath.SkipDir
			}
			name, v, kind, ok := parseDistFilename(de.Name())
			if !ok {
				return nil
			}
			f.files[name] = append(f.files[name], flatFile{version: v, path: p, kind: kind})
			return nil
		},
		Unsorted: false,
	})
	if f.err != nil {
		f.err = errors.Wrapf(f.err, "failed to scan flat index %s", f.Dir)
	}
}

// Releases implements IndexClient.
func (f *FlatIndex) Releases(ctx context.Context, name PackageName) ([]Release, error) {
	f.once.Do(f.scan)
	if f.err != nil {
		return nil, f.err
	}

	var rs []Release
	for _, ff := range f.files[name] {
		art, err := fileArtifact(ff.path)
		if err != nil {
			return nil, err
		}
		var rel *Release
		for i := range rs {
			if rs[i].Version.Equal(ff.version) {
				rel = &rs[i]
				break
			}
		}
		if rel == nil {
			rs = append(rs, Release{Version: ff.version})
			rel = &rs[len(rs)-1]
		}
		rel.Artifacts = append(rel.Artifacts, art)
	}
	return rs, nil
}

// Metadata implements IndexClient. Wheel metadata is preferred over the
// PKG-INFO of a source distribution.
func (f *FlatIndex) Metadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error) {
	f.once.Do(f.scan)
	if f.err != nil {
		return Metadata{}, f.err
	}
	var sdist string
	for _, ff := range f.files[name] {
		if !ff.version.Equal(v) {
			continue
		}
		if ff.kind == DistWheel {
			return wheelMetadata(ff.path)
		}
		sdist = ff.path
	}
	if sdist != "" {
		return sdistMetadata(sdist)
	}
	return Metadata{}, errors.Errorf("%s %s not found in %s", name, v, f.Dir)
}

func fileArtifact(p string) (Artifact, error) {
	fh, err := os.Open(p)
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "failed to open %s", p)
	}
	defer fh.Close()
	h := sha256.New()
	n, err := io.Copy(h, fh)
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "failed to hash %s", p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Filename: filepath.Base(p),
		URL:      "file://" + filepath.ToSlash(abs),
		Hash:     "sha256:" + hex.EncodeToString(h.Sum(nil)),
		Size:     n,
	}, nil
}

// parseDistFilename extracts the package name and version from a wheel or
// source distribution filename.
func parseDistFilename(fn string) (PackageName, pep440.Version, DistKind, bool) {
	lower := strings.ToLower(fn)
	if strings.HasSuffix(lower, ".whl") {
		parts := strings.Split(fn[:len(fn)-4], "-")
		if len(parts) != 5 && len(parts) != 6 {
			return "", pep440.Version{}, 0, false
		}
		v, err := pep440.Parse(parts[1])
		if err != nil {
			return "", pep440.Version{}, 0, false
		}
		return NormalizeName(parts[0]), v, DistWheel, true
	}

	base := ""
	for _, suf := range archiveSuffixes {
		if strings.HasSuffix(lower, suf) && suf != ".whl" {
			base = fn[:len(fn)-len(suf)]
			break
		}
	}
	if base == "" {
		return "", pep440.Version{}, 0, false
	}
	// Names may contain dashes; the version follows the last dash that
	// leaves a parseable version.
	for i := strings.LastIndexByte(base, '-'); i > 0; i = strings.LastIndexByte(base[:i], '-') {
		if v, err := pep440.Parse(base[i+1:]); err == nil {
			return NormalizeName(base[:i]), v, DistSdist, true
		}
	}
	return "", pep440.Version{}, 0, false
}
