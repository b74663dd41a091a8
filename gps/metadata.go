// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
)

// ParseCoreMetadata parses a METADATA or PKG-INFO document.
func ParseCoreMetadata(r io.Reader) (Metadata, error) {
	h, err := readHeaders(r)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "malformed core metadata")
	}

	var m Metadata
	if m.Name, err = ParseName(first(h["name"])); err != nil {
		return Metadata{}, errors.Wrap(err, "core metadata")
	}
	if m.Version, err = pep440.Parse(first(h["version"])); err != nil {
		return Metadata{}, errors.Wrap(err, "core metadata")
	}
	if m.RequiresPython, err = pep440.ParseSpecifiers(first(h["requires-python"])); err != nil {
		return Metadata{}, errors.Wrap(err, "core metadata")
	}
	if m.RequiresDist, err = ParseRequirements(h["requires-dist"]); err != nil {
		return Metadata{}, errors.Wrap(err, "core metadata")
	}
	for _, e := range h["provides-extra"] {
		m.ProvidesExtras = append(m.ProvidesExtras, NormalizeExtra(e))
	}
	m.ProvidesExtras = dedupeExtras(m.ProvidesExtras)
	return m, nil
}

// readHeaders reads RFC 822 style headers up to the first blank line. Keys
// are lowercased; continuation lines are folded into the previous value.
func readHeaders(r io.Reader) (map[string][]string, error) {
	h := make(map[string][]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var last string
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && last != "" {
			vals := h[last]
			vals[len(vals)-1] += " " + strings.TrimSpace(line)
			continue
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, errors.Errorf("bad header line %q", line)
		}
		last = strings.ToLower(strings.TrimSpace(line[:i]))
		h[last] = append(h[last], strings.TrimSpace(line[i+1:]))
	}
	return h, sc.Err()
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// wheelMetadata reads the .dist-info/METADATA file out of a wheel.
func wheelMetadata(file string) (Metadata, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "failed to open wheel %s", file)
	}
	defer zr.Close()
	for _, f := range zr.File {
		dir, base := path.Split(f.Name)
		if base != "METADATA" || !strings.HasSuffix(strings.TrimSuffix(dir, "/"), ".dist-info") || strings.Count(dir, "/") != 1 {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Metadata{}, errors.Wrapf(err, "failed to read %s in %s", f.Name, file)
		}
		defer rc.Close()
		return ParseCoreMetadata(rc)
	}
	return Metadata{}, errors.Errorf("wheel %s has no METADATA", file)
}

// sdistMetadata reads the top-level PKG-INFO out of a source distribution.
func sdistMetadata(file string) (Metadata, error) {
	lf := strings.ToLower(file)
	if strings.HasSuffix(lf, ".zip") {
		zr, err := zip.OpenReader(file)
		if err != nil {
			return Metadata{}, errors.Wrapf(err, "failed to open sdist %s", file)
		}
		defer zr.Close()
		for _, f := range zr.File {
			if isTopLevelPkgInfo(f.Name) {
				rc, err := f.Open()
				if err != nil {
					return Metadata{}, errors.Wrapf(err, "failed to read %s in %s", f.Name, file)
				}
				defer rc.Close()
				return ParseCoreMetadata(rc)
			}
		}
		return Metadata{}, errors.Errorf("sdist %s has no PKG-INFO", file)
	}

	f, err := os.Open(file)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "failed to read sdist %s", file)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "sdist %s is not gzip-compressed", file)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metadata{}, errors.Wrapf(err, "failed to read sdist %s", file)
		}
		if isTopLevelPkgInfo(hdr.Name) {
			return ParseCoreMetadata(tr)
		}
	}
	return Metadata{}, errors.Errorf("sdist %s has no PKG-INFO", file)
}

func isTopLevelPkgInfo(name string) bool {
	name = strings.TrimPrefix(name, "./")
	return path.Base(name) == "PKG-INFO" && strings.Count(name, "/") == 1
}
