// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
	"github.com/pydep/pydep/internal/test"
)

const (
	privateURL = "https://private.example/simple"
	publicURL  = "https://pypi.org/simple"
)

func mkIndexes(private, public *MemoryIndex) []IndexConfig {
	return []IndexConfig{
		{Name: "private", URL: privateURL, Client: private},
		{Name: "pypi", URL: publicURL, Default: true, Client: public},
	}
}

func mkNaiveSM(t *testing.T, c SourceManagerConfig) (*SourceMgr, func()) {
	if c.Logger == nil {
		c.Logger = test.Logger(t)
	}
	sm, err := NewSourceManager(c)
	if err != nil {
		t.Fatalf("Unexpected error on SourceManager creation: %s", err)
	}
	return sm, sm.Release
}

func TestSourceManagerInit(t *testing.T) {
	cpath, err := ioutil.TempDir("", "smcache")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %s", err)
	}
	defer os.RemoveAll(cpath)

	c := SourceManagerConfig{CacheDir: cpath, Logger: test.Logger(t)}
	sm, err := NewSourceManager(c)
	if err != nil {
		t.Fatalf("Unexpected error on SourceManager creation: %s", err)
	}

	_, err = NewSourceManager(c)
	if err == nil {
		t.Errorf("Creating second SourceManager should have failed due to file lock contention")
	} else if te, ok := err.(CouldNotCreateLockError); !ok {
		t.Errorf("Should have gotten CouldNotCreateLockError error type, but got %T", te)
	}

	if _, err = os.Stat(filepath.Join(cpath, "sm.lock")); err != nil {
		t.Errorf("Global cache lock file not created correctly")
	}

	sm.Release()
	if _, err = os.Stat(filepath.Join(cpath, "sm.lock")); !os.IsNotExist(err) {
		t.Fatalf("Global cache lock file not cleared correctly on Release()")
	}

	// Set another one up at the same spot now, just to be sure
	sm, err = NewSourceManager(c)
	if err != nil {
		t.Fatalf("Creating a second SourceManager should have succeeded when the first was released, but failed with err %s", err)
	}
	sm.Release()

	if _, err = sm.ListVersions(context.Background(), "foo", nil); err == nil {
		t.Error("ListVersions should fail on a released SourceManager")
	} else if _, ok := err.(smIsReleased); !ok {
		t.Errorf("expected smIsReleased, got %T: %s", err, err)
	}
}

func TestBadIndexConfig(t *testing.T) {
	ix := NewMemoryIndex()
	table := map[string]SourceManagerConfig{
		"no name":   {Indexes: []IndexConfig{{URL: publicURL, Client: ix}}},
		"no url":    {Indexes: []IndexConfig{{Name: "pypi", Client: ix}}},
		"no client": {Indexes: []IndexConfig{{Name: "pypi", URL: publicURL}}},
		"duplicate": {Indexes: []IndexConfig{{Name: "pypi", URL: publicURL, Client: ix}, {Name: "pypi", URL: privateURL, Client: ix}}},
		"bad pin":   {Indexes: []IndexConfig{{Name: "pypi", URL: publicURL, Client: ix}}, Pins: map[PackageName]string{"foo": "internal"}},
	}
	for name, c := range table {
		if _, err := NewSourceManager(c); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

// A package on both indexes is only ever taken from the first one that
// knows it, even though the lower-priority index has a newer version.
func TestFirstIndexConfusionGuard(t *testing.T) {
	private := NewMemoryIndex().Publish("d", "1.0")
	public := NewMemoryIndex().Publish("d", "9.0").Publish("e", "2.0")
	sm, done := mkNaiveSM(t, SourceManagerConfig{Indexes: mkIndexes(private, public)})
	defer done()
	ctx := context.Background()

	vl, err := sm.ListVersions(ctx, "d", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vl.Releases) != 1 || vl.Releases[0].Version.String() != "1.0" {
		t.Fatalf("expected only d 1.0, got %v", vl.Versions())
	}
	if r := vl.Releases[0]; r.Index != "private" || !SourcesEq(r.Source, RegistrySource{URL: privateURL}) {
		t.Errorf("expected d from the private index, got %q (%s)", r.Index, r.Source)
	}
	if public.Calls() != 0 {
		t.Errorf("public index consulted %d times for a package found on the private index", public.Calls())
	}

	// Names the private index lacks fall through to the default index.
	vl, err = sm.ListVersions(ctx, "e", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vl.Releases) != 1 || vl.Releases[0].Index != "pypi" {
		t.Errorf("expected e 2.0 from pypi, got %v", vl.Releases)
	}

	// Metadata for d from the public index would break the binding.
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("expected a canary panic")
			}
			if !strings.HasPrefix(fmt.Sprint(r), "canary - ") {
				t.Errorf("unexpected panic: %v", r)
			}
		}()
		sm.FetchMetadata(ctx, Atom{Name: "d", Version: pep440.MustParse("9.0"), Source: RegistrySource{URL: publicURL}})
	}()

	m, err := sm.FetchMetadata(ctx, Atom{Name: "d", Version: pep440.MustParse("1.0"), Source: vl0(t, sm, "d").Source})
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "d" || m.Version.String() != "1.0" {
		t.Errorf("unexpected metadata %s %s", m.Name, m.Version)
	}
}

func vl0(t *testing.T, sm *SourceMgr, name PackageName) Release {
	vl, err := sm.ListVersions(context.Background(), name, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vl.Releases) == 0 {
		t.Fatalf("no releases of %s", name)
	}
	return vl.Releases[0]
}

// A failing higher-priority index is an error, not a reason to try the next.
func TestFirstIndexErrorDoesNotFallThrough(t *testing.T) {
	private := NewMemoryIndex().FailWith("d", errors.New("401 unauthorized"))
	public := NewMemoryIndex().Publish("d", "9.0")
	sm, done := mkNaiveSM(t, SourceManagerConfig{Indexes: mkIndexes(private, public)})
	defer done()

	_, err := sm.ListVersions(context.Background(), "d", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected a *FetchError, got %T", err)
	}
	if fe.Name != "d" || !strings.Contains(fe.Source, "private") {
		t.Errorf("error should name the package and source: %s", fe)
	}
	if public.Calls() != 0 {
		t.Error("public index consulted after the private index failed")
	}
}

func TestUnsafeStrategies(t *testing.T) {
	private := NewMemoryIndex().Publish("d", "1.0").Publish("d", "2.0")
	public := NewMemoryIndex().Publish("d", "2.0").Publish("d", "9.0")

	table := []struct {
		name     string
		strategy IndexStrategy
		req      string
		// resolved is "version index".
		resolved string
	}{
		{"first match stays on the first index", UnsafeFirstMatch, "d", "2.0 private"},
		{"first match falls back when the first index has no match", UnsafeFirstMatch, "d>=5", "9.0 pypi"},
		{"best match takes the newest anywhere", UnsafeBestMatch, "d", "9.0 pypi"},
		{"best match keeps duplicates from the first index", UnsafeBestMatch, "d<3", "2.0 private"},
	}
	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			sm, done := mkNaiveSM(t, SourceManagerConfig{Indexes: mkIndexes(private, public), IndexStrategy: tc.strategy})
			defer done()

			// A version on both indexes is listed once, from the first.
			vl, err := sm.ListVersions(context.Background(), "d", nil)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, r := range vl.Releases {
				got = append(got, r.Version.String()+" "+r.Index)
			}
			want := []string{"1.0 private", "2.0 private", "9.0 pypi"}
			if strings.Join(got, ",") != strings.Join(want, ",") {
				t.Errorf("expected %v, got %v", want, got)
			}
			if sm.IndexPriority("private") >= sm.IndexPriority("pypi") {
				t.Error("private index should rank before the default index")
			}

			res, err := fixSolve(SolveParameters{Requirements: mkReqs(tc.req)}, sm, t)
			if err != nil {
				t.Fatal(err)
			}
			ps := res.Find("d")
			if len(ps) != 1 {
				t.Fatalf("expected one d in the resolution, got %v", ps)
			}
			if g := ps[0].Version.String() + " " + ps[0].Index; g != tc.resolved {
				t.Errorf("resolved d to %q, expected %q", g, tc.resolved)
			}
		})
	}
}

func TestPinnedAndExplicitIndexes(t *testing.T) {
	internal := NewMemoryIndex().Publish("widget", "0.3").Publish("d", "5.0")
	public := NewMemoryIndex().Publish("widget", "8.0").Publish("d", "1.0")
	sm, done := mkNaiveSM(t, SourceManagerConfig{
		Indexes: []IndexConfig{
			{Name: "internal", URL: "https://internal.example/simple", Explicit: true, Client: internal},
			{Name: "pypi", URL: publicURL, Default: true, Client: public},
		},
		Pins: map[PackageName]string{"widget": "internal"},
	})
	defer done()

	if r := vl0(t, sm, "widget"); r.Index != "internal" || r.Version.String() != "0.3" {
		t.Errorf("pinned package should come from its index, got %s from %q", r.Version, r.Index)
	}
	// An explicit index serves only the packages pinned to it.
	if r := vl0(t, sm, "d"); r.Index != "pypi" {
		t.Errorf("unpinned package should not be served by an explicit index, got %q", r.Index)
	}
}

func TestExcludeNewer(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	public := NewMemoryIndex().
		Publish("d", "1.0").Uploaded("d", "1.0", cutoff.Add(-time.Hour)).
		Publish("d", "2.0").Uploaded("d", "2.0", cutoff.Add(time.Hour)).
		Publish("d", "3.0")
	sm, done := mkNaiveSM(t, SourceManagerConfig{
		Indexes:      []IndexConfig{{Name: "pypi", URL: publicURL, Client: public}},
		ExcludeNewer: cutoff,
	})
	defer done()

	vl, err := sm.ListVersions(context.Background(), "d", nil)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, v := range vl.Versions() {
		got = append(got, v.String())
	}
	// 3.0 has no upload time and is kept.
	if strings.Join(got, ",") != "1.0,3.0" {
		t.Errorf("expected 1.0,3.0, got %v", got)
	}
	if len(vl.ExcludedNewer) != 1 || vl.ExcludedNewer[0].String() != "2.0" {
		t.Errorf("expected 2.0 to be reported as excluded, got %v", vl.ExcludedNewer)
	}
}

func TestOfflineFailsFast(t *testing.T) {
	public := NewMemoryIndex().Publish("d", "1.0")
	sm, done := mkNaiveSM(t, SourceManagerConfig{
		Indexes: []IndexConfig{{Name: "pypi", URL: publicURL, Client: public}},
		Offline: true,
	})
	defer done()

	_, err := sm.ListVersions(context.Background(), "d", nil)
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected a *FetchError, got %T: %v", err, err)
	}
	if fe.Err != errOffline {
		t.Errorf("expected the offline error, got %s", fe.Err)
	}
	if public.Calls() != 0 {
		t.Error("index queried while offline")
	}
}

func TestDiskCacheServesOffline(t *testing.T) {
	cpath, err := ioutil.TempDir("", "smcache")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %s", err)
	}
	defer os.RemoveAll(cpath)

	public := NewMemoryIndex().Publish("d", "1.0", "e>=2")
	indexes := []IndexConfig{{Name: "pypi", URL: publicURL, Client: public}}
	ctx := context.Background()

	sm, done := mkNaiveSM(t, SourceManagerConfig{CacheDir: cpath, Indexes: indexes})
	r := vl0(t, sm, "d")
	if _, err := sm.FetchMetadata(ctx, Atom{Name: "d", Version: r.Version, Source: r.Source}); err != nil {
		t.Fatal(err)
	}
	done()
	calls := public.Calls()

	sm, done = mkNaiveSM(t, SourceManagerConfig{CacheDir: cpath, Indexes: indexes, Offline: true})
	defer done()
	r = vl0(t, sm, "d")
	m, err := sm.FetchMetadata(ctx, Atom{Name: "d", Version: r.Version, Source: r.Source})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.RequiresDist) != 1 || m.RequiresDist[0].String() != "e>=2" {
		t.Errorf("unexpected cached metadata: %v", m.RequiresDist)
	}
	if public.Calls() != calls {
		t.Error("index queried despite a warm cache")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// flakyIndex fails the first n queries with a transient error.
type flakyIndex struct {
	*MemoryIndex
	n     int32
	tries int32
}

func (f *flakyIndex) Releases(ctx context.Context, name PackageName) ([]Release, error) {
	if atomic.AddInt32(&f.tries, 1) <= f.n {
		return nil, timeoutErr{}
	}
	return f.MemoryIndex.Releases(ctx, name)
}

func TestTransientRetries(t *testing.T) {
	flaky := &flakyIndex{MemoryIndex: NewMemoryIndex().Publish("d", "1.0"), n: 2}
	sm, done := mkNaiveSM(t, SourceManagerConfig{
		Indexes: []IndexConfig{{Name: "pypi", URL: publicURL, Client: flaky}},
		Retries: 2,
	})
	defer done()
	sm.srcCoord.opts.backoff = time.Millisecond

	if r := vl0(t, sm, "d"); r.Version.String() != "1.0" {
		t.Errorf("unexpected release %s", r.Version)
	}
	if flaky.tries != 3 {
		t.Errorf("expected 3 attempts, got %d", flaky.tries)
	}

	flaky = &flakyIndex{MemoryIndex: NewMemoryIndex().Publish("d", "1.0"), n: 5}
	sm2, done2 := mkNaiveSM(t, SourceManagerConfig{
		Indexes: []IndexConfig{{Name: "pypi", URL: publicURL, Client: flaky}},
		Retries: 1,
	})
	defer done2()
	sm2.srcCoord.opts.backoff = time.Millisecond

	_, err := sm2.ListVersions(context.Background(), "d", nil)
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected a *FetchError, got %T: %v", err, err)
	}
	if fe.Attempts != 2 {
		t.Errorf("expected 2 attempts before giving up, got %d", fe.Attempts)
	}
}

// Concurrent requests for the same package share one fetch.
func TestConcurrentListingsShareFetch(t *testing.T) {
	public := NewMemoryIndex().Publish("d", "1.0").Publish("d", "1.1")
	sm, done := mkNaiveSM(t, SourceManagerConfig{Indexes: []IndexConfig{{Name: "pypi", URL: publicURL, Client: public}}})
	defer done()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sm.ListVersions(context.Background(), "d", nil); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if public.Calls() != 1 {
		t.Errorf("expected one index query, got %d", public.Calls())
	}
}
