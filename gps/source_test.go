// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/pydep/pydep/gps/pep440"
	"github.com/pydep/pydep/internal/test"
)

const sampleMetadata = `Metadata-Version: 2.1
Name: Sample_Pkg
Version: 1.2.0
Summary: A sample
  spanning two lines
Requires-Python: >=3.8
Requires-Dist: idna>=2.5
Requires-Dist: PySocks>=1.5.6; extra == "socks"
Provides-Extra: socks

Long description that is not a header: at all.
`

func TestParseCoreMetadata(t *testing.T) {
	m, err := ParseCoreMetadata(strings.NewReader(sampleMetadata))
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "sample-pkg" || m.Version.String() != "1.2.0" {
		t.Errorf("unexpected name and version %s %s", m.Name, m.Version)
	}
	if got := m.RequiresPython.String(); got != ">=3.8" {
		t.Errorf("unexpected requires-python %q", got)
	}
	if len(m.RequiresDist) != 2 {
		t.Fatalf("expected two requirements, got %d", len(m.RequiresDist))
	}
	if got := m.RequiresDist[0].String(); got != "idna>=2.5" {
		t.Errorf("unexpected first requirement %q", got)
	}
	if got := m.RequiresDist[1].String(); got != "pysocks>=1.5.6; extra == 'socks'" {
		t.Errorf("unexpected second requirement %q", got)
	}
	if got := fmt.Sprint(m.ProvidesExtras); got != "[socks]" {
		t.Errorf("unexpected extras %s", got)
	}

	if _, err = ParseCoreMetadata(strings.NewReader("Name: x\nthis is not a header\n")); err == nil {
		t.Error("expected an error on a malformed header")
	}
	if _, err = ParseCoreMetadata(strings.NewReader("Name: x\n")); err == nil {
		t.Error("expected an error without a version")
	}
}

func TestParseDistFilename(t *testing.T) {
	table := []struct {
		fn      string
		name    PackageName
		version string
		kind    DistKind
	}{
		{"requests-2.31.0-py3-none-any.whl", "requests", "2.31.0", DistWheel},
		{"Sample_Pkg-1.0-1-cp311-cp311-manylinux_2_17_x86_64.whl", "sample-pkg", "1.0", DistWheel},
		{"python-dateutil-2.8.2.tar.gz", "python-dateutil", "2.8.2", DistSdist},
		{"zope.interface-6.0.zip", "zope-interface", "6.0", DistSdist},
		{"foo-bar-1.0rc1.tar.bz2", "foo-bar", "1.0rc1", DistSdist},
	}
	for _, tc := range table {
		name, v, kind, ok := parseDistFilename(tc.fn)
		if !ok {
			t.Errorf("%s: not recognized", tc.fn)
			continue
		}
		if name != tc.name || !v.Equal(pep440.MustParse(tc.version)) || kind != tc.kind {
			t.Errorf("%s: got %s %s %v", tc.fn, name, v, kind)
		}
	}

	for _, fn := range []string{"README.md", "foo.whl", "foo-bar.tar.gz", "noversion-x-y.tar.gz"} {
		if _, _, _, ok := parseDistFilename(fn); ok {
			t.Errorf("%s should not parse as a distribution", fn)
		}
	}
}

func writeWheel(h *test.Helper, path, metadata string) string {
	name, v, _, ok := parseDistFilename(filepath.Base(path))
	if !ok {
		panic("not a wheel name: " + path)
	}
	h.TempDir(filepath.Dir(path))
	p := filepath.Join(h.Path(filepath.Dir(path)), filepath.Base(path))
	f, err := os.Create(p)
	h.Must(err)
	defer f.Close()
	zw := zip.NewWriter(f)
	distInfo := strings.Replace(string(name), "-", "_", -1) + "-" + v.String() + ".dist-info/"
	for _, e := range []struct{ name, body string }{
		{distInfo + "METADATA", metadata},
		// A vendored package's METADATA must not be picked up.
		{"pkg/_vendor/other-9.dist-info/METADATA", "Name: other\nVersion: 9\n"},
	} {
		w, err := zw.Create(e.name)
		h.Must(err)
		_, err = w.Write([]byte(e.body))
		h.Must(err)
	}
	h.Must(zw.Close())
	return p
}

func writeSdist(h *test.Helper, path, metadata string) string {
	h.TempDir(filepath.Dir(path))
	p := filepath.Join(h.Path(filepath.Dir(path)), filepath.Base(path))
	f, err := os.Create(p)
	h.Must(err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	top := strings.TrimSuffix(filepath.Base(path), ".tar.gz")
	for _, e := range []struct{ name, body string }{
		{top + "/src/PKG-INFO", "Name: nested\nVersion: 0\n"},
		{top + "/PKG-INFO", metadata},
	} {
		h.Must(tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.body))}))
		_, err = tw.Write([]byte(e.body))
		h.Must(err)
	}
	h.Must(tw.Close())
	h.Must(gz.Close())
	return p
}

func TestFlatIndex(t *testing.T) {
	h := test.NewHelper(t)
	defer h.Cleanup()

	writeSdist(h, "flat/sample-pkg-1.2.0.tar.gz", sampleMetadata)
	writeWheel(h, "flat/sample_pkg-1.2.0-py3-none-any.whl", sampleMetadata)
	writeSdist(h, "flat/sample-pkg-1.1.tar.gz", "Name: sample-pkg\nVersion: 1.1\nRequires-Dist: idna\n")
	writeSdist(h, "flat/nested/sample-pkg-9.0.tar.gz", "Name: sample-pkg\nVersion: 9.0\n")
	h.TempFile("flat/notes.txt", "hi")

	fi := NewFlatIndex(h.Path("flat"))
	ctx := context.Background()
	rs, err := fi.Releases(ctx, "sample-pkg")
	h.Must(err)
	sortReleases(rs)
	if len(rs) != 2 {
		t.Fatalf("expected two releases, subdirectories are not scanned; got %d", len(rs))
	}
	if rs[0].Version.String() != "1.1" || rs[1].Version.String() != "1.2.0" {
		t.Errorf("unexpected versions %s, %s", rs[0].Version, rs[1].Version)
	}
	if len(rs[1].Artifacts) != 2 {
		t.Fatalf("expected a wheel and an sdist for 1.2.0, got %d artifacts", len(rs[1].Artifacts))
	}
	for _, a := range rs[1].Artifacts {
		if !strings.HasPrefix(a.Hash, "sha256:") || len(a.Hash) != len("sha256:")+64 {
			t.Errorf("unexpected hash %q", a.Hash)
		}
		if !strings.HasPrefix(a.URL, "file://") {
			t.Errorf("unexpected url %q", a.URL)
		}
		if a.Size == 0 {
			t.Errorf("%s: size not recorded", a.URL)
		}
	}

	m, err := fi.Metadata(ctx, "sample-pkg", pep440.MustParse("1.2"))
	h.Must(err)
	if len(m.RequiresDist) != 2 {
		t.Errorf("expected two requirements, got %v", m.RequiresDist)
	}

	// Falls back to the sdist PKG-INFO.
	m, err = fi.Metadata(ctx, "sample-pkg", pep440.MustParse("1.1"))
	h.Must(err)
	if m.Version.String() != "1.1" {
		t.Errorf("unexpected version %s", m.Version)
	}

	rs, err = fi.Releases(ctx, "unknown")
	h.Must(err)
	if len(rs) != 0 {
		t.Errorf("expected no releases of an unknown package, got %d", len(rs))
	}

	if _, err = fi.Metadata(ctx, "sample-pkg", pep440.MustParse("9.0")); err == nil {
		t.Error("expected an error for a release only present in a subdirectory")
	}
}

const samplePyproject = `
[project]
name = "My.App"
version = "0.4.0"
requires-python = ">=3.9"
dependencies = ["requests>=2", "tomli; python_version < '3.11'"]

[project.optional-dependencies]
Cli = ["click>=8"]
`

type fakeBuilder struct {
	m     Metadata
	calls int
}

func (b *fakeBuilder) BuildMetadata(ctx context.Context, dir string) (Metadata, error) {
	b.calls++
	return b.m, nil
}

func TestPathSource(t *testing.T) {
	h := test.NewHelper(t)
	defer h.Cleanup()
	ctx := context.Background()

	h.TempFile("app/pyproject.toml", samplePyproject)
	root := h.Path(".")

	s := newPathSource(PathSource{Path: "app", Directory: true}, root, nil)
	rs, err := s.listReleases(ctx, "my-app")
	h.Must(err)
	if len(rs) != 1 {
		t.Fatalf("expected one release, got %d", len(rs))
	}
	if rs[0].Version.String() != "0.4.0" || rs[0].RequiresPython.String() != ">=3.9" {
		t.Errorf("unexpected release %s (requires-python %s)", rs[0].Version, rs[0].RequiresPython)
	}

	m, err := s.getMetadata(ctx, "my-app", rs[0].Version)
	h.Must(err)
	var reqs []string
	for _, r := range m.RequiresDist {
		reqs = append(reqs, r.String())
	}
	want := "requests>=2|tomli; python_version < '3.11'|click>=8; extra == 'cli'"
	if got := strings.Join(reqs, "|"); got != want {
		t.Errorf("unexpected requirements:\n\t(GOT): %s\n\t(WNT): %s", got, want)
	}
	if got := fmt.Sprint(m.ProvidesExtras); got != "[cli]" {
		t.Errorf("unexpected extras %s", got)
	}

	if _, err = s.listReleases(ctx, "other"); err == nil {
		t.Error("expected a name mismatch error")
	}

	// Dynamic metadata goes through the build backend.
	h.TempFile("dyn/pyproject.toml", "[project]\nname = \"dyn\"\ndynamic = [\"version\"]\n")
	dyn := h.Path("dyn")

	if _, err = newPathSource(PathSource{Path: dyn, Directory: true}, root, nil).getMetadata(ctx, "dyn", pep440.Version{}); err == nil {
		t.Error("expected an error without a builder")
	}

	b := &fakeBuilder{m: Metadata{Name: "dyn", Version: pep440.MustParse("3.1")}}
	ds := newPathSource(PathSource{Path: dyn, Directory: true}, root, b)
	m, err = ds.getMetadata(ctx, "dyn", pep440.Version{})
	h.Must(err)
	if b.calls != 1 || m.Version.String() != "3.1" {
		t.Errorf("expected one build giving 3.1, got %d builds giving %s", b.calls, m.Version)
	}

	// An unchanged tree is not rebuilt; an edited one is.
	_, err = ds.listReleases(ctx, "dyn")
	h.Must(err)
	if b.calls != 1 {
		t.Errorf("unchanged tree was rebuilt (%d builds)", b.calls)
	}
	h.TempFile("dyn/setup.py", "setup()\n")
	_, err = ds.getMetadata(ctx, "dyn", pep440.Version{})
	h.Must(err)
	if b.calls != 2 {
		t.Errorf("edited tree was not rebuilt (%d builds)", b.calls)
	}

	// Archives are read directly.
	whl := writeWheel(h, "sample_pkg-1.2.0-py3-none-any.whl", sampleMetadata)
	s = newPathSource(PathSource{Path: whl}, root, nil)
	rs, err = s.listReleases(ctx, "sample-pkg")
	h.Must(err)
	if len(rs) != 1 || len(rs[0].Artifacts) != 1 || rs[0].Artifacts[0].Kind() != DistWheel {
		t.Errorf("expected a single wheel release, got %+v", rs)
	}
}

func TestSourceManagerPathSource(t *testing.T) {
	h := test.NewHelper(t)
	defer h.Cleanup()
	h.TempFile("app/pyproject.toml", samplePyproject)

	sm, done := mkNaiveSM(t, SourceManagerConfig{WorkspaceRoot: h.Path("."), Offline: true})
	defer done()

	// Local sources stay reachable offline.
	src := PathSource{Path: "app", Directory: true, Editable: true}
	vl, err := sm.ListVersions(context.Background(), "my-app", src)
	h.Must(err)
	if len(vl.Releases) != 1 {
		t.Fatalf("expected one release, got %d", len(vl.Releases))
	}
	if !SourcesEq(src, vl.Releases[0].Source) {
		t.Errorf("unexpected source %s", vl.Releases[0].Source)
	}

	m, err := sm.FetchMetadata(context.Background(), Atom{Name: "my-app", Version: vl.Releases[0].Version, Source: src})
	h.Must(err)
	if m.Name != "my-app" {
		t.Errorf("unexpected name %q", m.Name)
	}
}
