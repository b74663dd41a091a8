// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/pydep/pydep/gps/pep440"
	"github.com/pydep/pydep/internal/test"
)

func Test_singleSourceCache(t *testing.T) {
	newMem := func(*testing.T, string, string) (singleSourceCache, func() error) {
		return newMemoryCache(), func() error { return nil }
	}
	t.Run("mem", singleSourceCacheTest{newCache: newMem}.run)

	epoch := time.Now().Unix()
	newBolt := func(t *testing.T, cachedir, src string) (singleSourceCache, func() error) {
		bc, err := newBoltCache(cachedir, epoch, test.Logger(t))
		if err != nil {
			t.Fatal(err)
		}
		return bc.newSingleSourceCache(src), bc.close
	}
	t.Run("bolt/keepOpen", singleSourceCacheTest{newCache: newBolt}.run)
	t.Run("bolt/reOpen", singleSourceCacheTest{newCache: newBolt, persistent: true}.run)

	newMulti := func(t *testing.T, cachedir, src string) (singleSourceCache, func() error) {
		disk, close := newBolt(t, cachedir, src)
		return &multiCache{mem: newMemoryCache(), disk: disk}, close
	}
	t.Run("multi/keepOpen", singleSourceCacheTest{newCache: newMulti}.run)
	t.Run("multi/reOpen", singleSourceCacheTest{persistent: true, newCache: newMulti}.run)

	t.Run("multi/keepOpen/noDisk", singleSourceCacheTest{
		newCache: func(*testing.T, string, string) (singleSourceCache, func() error) {
			return &multiCache{mem: newMemoryCache(), disk: discardCache{}}, func() error { return nil }
		},
	}.run)

	t.Run("multi/reOpen/noMem", singleSourceCacheTest{
		persistent: true,
		newCache: func(t *testing.T, cachedir, src string) (singleSourceCache, func() error) {
			disk, close := newBolt(t, cachedir, src)
			return &multiCache{mem: discardCache{}, disk: disk}, close
		},
	}.run)
}

type singleSourceCacheTest struct {
	newCache   func(*testing.T, string, string) (cache singleSourceCache, close func() error)
	persistent bool
}

// run tests singleSourceCache methods of caches returned by test.newCache.
// For test.persistent caches, test.newCache is periodically called mid-test to ensure persistence.
func (test singleSourceCacheTest) run(t *testing.T) {
	const src = "index+pypi"
	cpath, err := ioutil.TempDir("", "singlesourcecache")
	if err != nil {
		t.Fatalf("Failed to create temp cache dir: %s", err)
	}
	defer os.RemoveAll(cpath)

	reopen := func(c singleSourceCache, close func() error) (singleSourceCache, func() error) {
		if !test.persistent {
			return c, close
		}
		if err := close(); err != nil {
			t.Fatal("failed to close cache:", err)
		}
		return test.newCache(t, cpath, src)
	}

	t.Run("releases", func(t *testing.T) {
		c, close := test.newCache(t, cpath, src)
		defer func() {
			if err := close(); err != nil {
				t.Fatal("failed to close cache:", err)
			}
		}()

		if _, ok := c.getReleases("requests"); ok {
			t.Fatal("expected no releases in an empty cache")
		}

		rs := []Release{
			{
				Version:        pep440.MustParse("2.31.0"),
				RequiresPython: pep440.MustParseSpecifiers(">=3.7"),
				Index:          "pypi",
				Source:         RegistrySource{URL: "https://pypi.org/simple"},
				Artifacts: []Artifact{{
					Filename: "requests-2.31.0-py3-none-any.whl",
					URL:      "https://files.example/requests-2.31.0-py3-none-any.whl",
					Hash:     "sha256:58cd2187c01e70e6e26505bca751777aa9f2ee0b7f4300988b709f44e013003f",
					Size:     62574,
				}},
			},
			{
				Version:      pep440.MustParse("2.32.0"),
				Yanked:       true,
				YankedReason: "broken",
				Index:        "pypi",
				Source:       RegistrySource{URL: "https://pypi.org/simple"},
			},
		}
		c.setReleases("requests", rs)
		c, close = reopen(c, close)

		got, ok := c.getReleases("requests")
		if !ok {
			t.Fatal("no releases found")
		}
		compareReleases(t, rs, got)

		// A second set replaces the first wholesale.
		rs = rs[:1]
		c.setReleases("requests", rs)
		c, close = reopen(c, close)

		got, ok = c.getReleases("requests")
		if !ok {
			t.Fatal("no releases found after replacement")
		}
		compareReleases(t, rs, got)
	})

	t.Run("metadata", func(t *testing.T) {
		c, close := test.newCache(t, cpath, src)
		defer func() {
			if err := close(); err != nil {
				t.Fatal("failed to close cache:", err)
			}
		}()

		v := pep440.MustParse("2.31.0")
		if _, ok := c.getMetadata("requests", v); ok {
			t.Fatal("expected no metadata in an empty cache")
		}

		m := Metadata{
			Name:    "requests",
			Version: v,
			RequiresDist: []Requirement{
				MustParseRequirement("charset-normalizer>=2,<4"),
				MustParseRequirement("idna>=2.5,<4"),
				MustParseRequirement("PySocks!=1.5.7,>=1.5.6; extra == 'socks'"),
			},
			RequiresPython: pep440.MustParseSpecifiers(">=3.7"),
			ProvidesExtras: ExtraNames{"socks", "use-chardet-on-py3"},
		}
		c.setMetadata("requests", v, m)
		c, close = reopen(c, close)

		got, ok := c.getMetadata("requests", v)
		if !ok {
			t.Fatal("no metadata found")
		}
		compareMetadata(t, m, got)

		if _, ok := c.getMetadata("requests", pep440.MustParse("2.30.0")); ok {
			t.Error("found metadata for a version that was never stored")
		}
		if _, ok := c.getMetadata("idna", v); ok {
			t.Error("found metadata under the wrong package")
		}
	})
}

func compareReleases(t *testing.T, want, got []Release) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("expected %d releases, got %d", len(want), len(got))
	}
	for i := range want {
		w, g := want[i], got[i]
		if !w.Version.Equal(g.Version) {
			t.Errorf("release %d: expected version %s, got %s", i, w.Version, g.Version)
		}
		if w.RequiresPython.String() != g.RequiresPython.String() {
			t.Errorf("release %d: expected requires-python %q, got %q", i, w.RequiresPython, g.RequiresPython)
		}
		if w.Yanked != g.Yanked || w.YankedReason != g.YankedReason {
			t.Errorf("release %d: yanked state differs: %v/%q vs %v/%q", i, w.Yanked, w.YankedReason, g.Yanked, g.YankedReason)
		}
		if w.Index != g.Index || !SourcesEq(w.Source, g.Source) {
			t.Errorf("release %d: expected %s from %s, got %s from %s", i, w.Index, w.Source, g.Index, g.Source)
		}
		if len(w.Artifacts) != len(g.Artifacts) {
			t.Errorf("release %d: expected %d artifacts, got %d", i, len(w.Artifacts), len(g.Artifacts))
			continue
		}
		for j := range w.Artifacts {
			wa, ga := w.Artifacts[j], g.Artifacts[j]
			if wa.Filename != ga.Filename || wa.URL != ga.URL || wa.Hash != ga.Hash || wa.Size != ga.Size {
				t.Errorf("release %d: artifact %d differs:\n\t(WNT): %#v\n\t(GOT): %#v", i, j, wa, ga)
			}
		}
	}
}

func compareMetadata(t *testing.T, want, got Metadata) {
	t.Helper()
	if want.Name != got.Name || !want.Version.Equal(got.Version) {
		t.Errorf("expected %s %s, got %s %s", want.Name, want.Version, got.Name, got.Version)
	}
	if want.RequiresPython.String() != got.RequiresPython.String() {
		t.Errorf("expected requires-python %q, got %q", want.RequiresPython, got.RequiresPython)
	}
	if len(want.RequiresDist) != len(got.RequiresDist) {
		t.Fatalf("expected %d requirements, got %d", len(want.RequiresDist), len(got.RequiresDist))
	}
	for i := range want.RequiresDist {
		if w, g := want.RequiresDist[i].String(), got.RequiresDist[i].String(); w != g {
			t.Errorf("requirement %d: expected %q, got %q", i, w, g)
		}
	}
	if len(want.ProvidesExtras) != len(got.ProvidesExtras) {
		t.Errorf("expected extras %v, got %v", want.ProvidesExtras, got.ProvidesExtras)
	}
}

// discardCache discards set values and returns nothing.
type discardCache struct{}

func (discardCache) setReleases(PackageName, []Release) {}

func (discardCache) getReleases(PackageName) ([]Release, bool) {
	return nil, false
}

func (discardCache) setMetadata(PackageName, pep440.Version, Metadata) {}

func (discardCache) getMetadata(PackageName, pep440.Version) (Metadata, bool) {
	return Metadata{}, false
}
