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
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
	"github.com/sirupsen/logrus"
	"github.com/theckman/go-flock"
	"golang.org/x/sync/singleflight"

	"github.com/pydep/pydep/gps/pep440"
)

// A SourceManager is responsible for retrieving package versions and their
// metadata from indexes and direct sources. Its primary purpose is to serve
// the needs of a Solver, but it is handy for other purposes, as well.
type SourceManager interface {
	// ListVersions returns the releases of name visible to this resolve. A
	// nil or registry source is routed across indexes by the index strategy;
	// direct sources yield their single release.
	ListVersions(ctx context.Context, name PackageName, src Source) (VersionList, error)

	// FetchMetadata returns the core metadata of one package version.
	FetchMetadata(ctx context.Context, a Atom) (Metadata, error)

	// IndexPriority ranks an index in search order; lower is searched
	// first.
	IndexPriority(index string) int

	// Release lets go of any locks held by the SourceManager. Once called, it is
	// no longer safe to call methods against it; all method calls will
	// immediately result in errors.
	Release()
}

// SourceManagerConfig holds the configuration for a SourceMgr.
type SourceManagerConfig struct {
	// CacheDir holds the persistent metadata cache and git clones. If empty,
	// nothing is persisted and git clones go to a temporary directory.
	CacheDir      string
	Indexes       []IndexConfig
	IndexStrategy IndexStrategy
	// Pins binds packages to named indexes.
	Pins map[PackageName]string
	// WorkspaceRoot anchors relative path sources.
	WorkspaceRoot string
	Builder       Builder
	Direct        DirectClient
	// Offline serves exclusively from cache; any miss fails immediately.
	Offline bool
	// Concurrency bounds in-flight fetches per source. Zero means 8.
	Concurrency int
	// Timeout applies to each network call. Zero means 30s.
	Timeout time.Duration
	// Retries is the number of extra attempts for transient failures.
	Retries int
	// CacheAge is how long cached release lists stay fresh while online.
	// Zero means 10 minutes.
	CacheAge time.Duration
	// ExcludeNewer hides artifacts uploaded after it, when non-zero.
	ExcludeNewer time.Time
	Logger       *logrus.Logger
}

// SourceMgr is the default SourceManager.
//
// It is safe for concurrent use, including across concurrent solving runs.
type SourceMgr struct {
	cachedir   string             // path to root of cache dir
	lf         *flock.Flock       // handle for the sm lock file on disk
	suprvsr    *supervisor        // subsystem that supervises running calls/io
	cancelAll  context.CancelFunc // cancel func to kill all running work
	srcCoord   *sourceCoordinator // subsystem that manages sources
	locator    *indexLocator      // subsystem that routes names to indexes
	disk       *boltCache
	listFlight singleflight.Group
	cfg        SourceManagerConfig
	logger     *logrus.Logger
	tmpdir     string
	relonce    sync.Once // once-er to ensure we only release once
	releasing  int32     // flag indicating release of sm has begun
}

type smIsReleased struct{}

func (smIsReleased) Error() string {
	return "this SourceMgr has been released, its methods can no longer be called"
}

var _ SourceManager = &SourceMgr{}

// CouldNotCreateLockError describe failure modes in which creating a SourceMgr
// did not succeed because there was an error while attempting to create the
// on-disk lock file.
type CouldNotCreateLockError struct {
	Path string
	Err  error
}

func (e CouldNotCreateLockError) Error() string {
	return e.Err.Error()
}

// NewSourceManager produces an instance of the built-in SourceManager.
//
// The returned SourceManager aggressively caches information wherever possible.
// With a cache directory it holds an exclusive lock on it until Release.
func NewSourceManager(c SourceManagerConfig) (*SourceMgr, error) {
	if c.Logger == nil {
		c.Logger = logrus.New()
		c.Logger.SetOutput(ioutil.Discard)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheAge == 0 {
		c.CacheAge = 10 * time.Minute
	}

	locator, err := newIndexLocator(c.IndexStrategy, c.Indexes, c.Pins)
	if err != nil {
		return nil, err
	}

	sm := &SourceMgr{
		cachedir: c.CacheDir,
		locator:  locator,
		cfg:      c,
		logger:   c.Logger,
	}

	if c.CacheDir != "" {
		if err := os.MkdirAll(c.CacheDir, 0777); err != nil {
			return nil, errors.Wrapf(err, "failed to create cache directory %s", c.CacheDir)
		}
		glpath := filepath.Join(c.CacheDir, "sm.lock")
		lf := flock.NewFlock(glpath)
		locked, err := lf.TryLock()
		if err != nil {
			return nil, CouldNotCreateLockError{
				Path: glpath,
				Err:  errors.Wrapf(err, "unable to lock %s", glpath),
			}
		}
		if !locked {
			return nil, CouldNotCreateLockError{
				Path: glpath,
				Err:  errors.Errorf("cache lock file %s is held by another process", glpath),
			}
		}
		sm.lf = lf

		epoch := time.Now().Add(-c.CacheAge).Unix()
		if c.Offline {
			epoch = 0
		}
		sm.disk, err = newBoltCache(c.CacheDir, epoch, c.Logger)
		if err != nil {
			lf.Unlock()
			return nil, err
		}
	}

	ctx, cf := context.WithCancel(context.TODO())
	sm.suprvsr = newSupervisor(ctx)
	sm.cancelAll = cf
	sm.srcCoord = newSourceCoordinator(sm.suprvsr, sm.disk, gatewayOptions{
		offline:     c.Offline,
		concurrency: int64(c.Concurrency),
		timeout:     c.Timeout,
		retries:     c.Retries,
	}, c.Logger, sm.newSource)
	return sm, nil
}

// newSource picks the source implementation for a Source variant.
func (sm *SourceMgr) newSource(src Source) (source, error) {
	switch s := src.(type) {
	case RegistrySource:
		ic, ok := sm.locator.indexForURL(s.URL)
		if !ok {
			return nil, errors.Errorf("no index declared at %s", s.URL)
		}
		return &indexSource{ic: ic}, nil
	case PathSource:
		return newPathSource(s, sm.cfg.WorkspaceRoot, sm.cfg.Builder), nil
	case GitSource:
		dir := sm.cachedir
		if dir == "" {
			if sm.tmpdir == "" {
				td, err := ioutil.TempDir("", "pydep-git")
				if err != nil {
					return nil, err
				}
				sm.tmpdir = td
			}
			dir = sm.tmpdir
		}
		return newGitSource(s, dir, sm.cfg.Builder, sm.cfg.Offline)
	case URLSource:
		return &urlSource{src: s, client: sm.cfg.Direct}, nil
	}
	panic(fmt.Sprintf("canary - unknown source kind %T", src))
}

// gatewayID is the identity under which a source's gateway is shared. A git
// source is shared per repository and ref, whatever commit it resolves to.
func gatewayID(src Source) string {
	switch s := src.(type) {
	case GitSource:
		return s.Pinned("").String()
	case PathSource:
		return "path+" + s.Path
	}
	return src.String()
}

func (sm *SourceMgr) released() bool {
	return atomic.LoadInt32(&sm.releasing) == 1
}

// ListVersions implements SourceManager.
func (sm *SourceMgr) ListVersions(ctx context.Context, name PackageName, src Source) (VersionList, error) {
	if sm.released() {
		return VersionList{}, smIsReleased{}
	}

	var rs []Release
	var err error
	switch s := src.(type) {
	case nil:
		rs, err = sm.listRegistry(ctx, name, RegistrySource{})
	case RegistrySource:
		rs, err = sm.listRegistry(ctx, name, s)
	default:
		var sg *sourceGateway
		sg, err = sm.srcCoord.getSourceGatewayFor(gatewayID(src), src)
		if err == nil {
			rs, err = sg.listReleases(ctx, name)
		}
	}
	if err != nil {
		return VersionList{}, err
	}

	vl := VersionList{Name: name}
	vl.Releases, vl.ExcludedNewer = excludeNewer(rs, sm.cfg.ExcludeNewer)
	return vl, nil
}

func (sm *SourceMgr) listRegistry(ctx context.Context, name PackageName, src RegistrySource) ([]Release, error) {
	v, err, _ := sm.listFlight.Do(string(name)+"|"+src.URL, func() (interface{}, error) {
		indexes, err := sm.locator.indexesFor(name, src)
		if err != nil {
			return nil, err
		}
		if len(indexes) == 0 {
			return nil, errors.Errorf("no index available to search for %s", name)
		}

		if sm.locator.strategy == FirstIndex || len(indexes) == 1 {
			for _, ic := range indexes {
				rs, err := sm.listIndex(ctx, name, ic)
				if err != nil {
					// Never fall through to a lower-priority index on
					// failure; that is how confusion attacks get in.
					return nil, err
				}
				if len(rs) > 0 {
					sm.locator.record(name, ic.Name)
					if sm.logger.IsLevelEnabled(logrus.DebugLevel) {
						sm.logger.WithFields(logrus.Fields{"name": name, "index": ic.Name}).Debug("found package")
					}
					return rs, nil
				}
			}
			return []Release(nil), nil
		}

		lists := make([][]Release, 0, len(indexes))
		for _, ic := range indexes {
			rs, err := sm.listIndex(ctx, name, ic)
			if err != nil {
				return nil, err
			}
			lists = append(lists, rs)
		}
		return mergeReleases(lists, sm.locator.strategy == UnsafeFirstMatch), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Release), nil
}

func (sm *SourceMgr) listIndex(ctx context.Context, name PackageName, ic IndexConfig) ([]Release, error) {
	sg, err := sm.srcCoord.getSourceGatewayFor("index+"+ic.Name, RegistrySource{URL: ic.URL})
	if err != nil {
		return nil, err
	}
	return sg.listReleases(ctx, name)
}

// excludeNewer drops artifacts uploaded after cutoff, and releases left with
// no artifacts. Artifacts with no recorded upload time are kept.
func excludeNewer(rs []Release, cutoff time.Time) ([]Release, []pep440.Version) {
	if cutoff.IsZero() {
		return rs, nil
	}
	var kept []Release
	var hidden []pep440.Version
	for _, r := range rs {
		if len(r.Artifacts) == 0 {
			kept = append(kept, r)
			continue
		}
		var arts []Artifact
		for _, a := range r.Artifacts {
			if a.UploadTime.IsZero() || !a.UploadTime.After(cutoff) {
				arts = append(arts, a)
			}
		}
		if len(arts) == 0 {
			hidden = append(hidden, r.Version)
			continue
		}
		r.Artifacts = arts
		kept = append(kept, r)
	}
	return kept, hidden
}

// FetchMetadata implements SourceManager.
func (sm *SourceMgr) FetchMetadata(ctx context.Context, a Atom) (Metadata, error) {
	if sm.released() {
		return Metadata{}, smIsReleased{}
	}

	id := gatewayID(a.Source)
	src := a.Source
	if IsRegistry(a.Source) {
		var url string
		if rs, ok := a.Source.(RegistrySource); ok {
			url = rs.URL
		}
		var ic IndexConfig
		if url == "" {
			ics, err := sm.locator.indexesFor(a.Name, RegistrySource{})
			if err != nil {
				return Metadata{}, err
			}
			if len(ics) == 0 {
				return Metadata{}, errors.Errorf("%s: no index available", a)
			}
			ic = ics[0]
		} else {
			var ok bool
			if ic, ok = sm.locator.indexForURL(url); !ok {
				return Metadata{}, errors.Errorf("%s: no index declared at %q", a, url)
			}
		}
		sm.locator.assertProvenance(a.Name, ic.Name)
		id, src = "index+"+ic.Name, RegistrySource{URL: ic.URL}
	}

	sg, err := sm.srcCoord.getSourceGatewayFor(id, src)
	if err != nil {
		return Metadata{}, err
	}
	return sg.getMetadata(ctx, a.Name, a.Version)
}

// IndexPriority implements SourceManager.
func (sm *SourceMgr) IndexPriority(index string) int {
	return sm.locator.priority(index)
}

// IndexForURL returns the name of the declared index serving u.
func (sm *SourceMgr) IndexForURL(u string) (string, bool) {
	ic, ok := sm.locator.indexForURL(u)
	return ic.Name, ok
}

// Release lets go of any locks held by the SourceManager. Once called, it is no
// longer safe to call methods against it; all method calls will immediately
// result in errors.
func (sm *SourceMgr) Release() {
	// Set sm.releasing before entering the Once func to guarantee that no
	// _more_ method calls will stack up if/while waiting.
	atomic.CompareAndSwapInt32(&sm.releasing, 0, 1)
	sm.relonce.Do(func() { sm.doRelease() })
}

// doRelease actually releases physical resources (files on disk, etc.).
//
// This must be called only and exactly once. Calls to it should be wrapped in
// the sm.relonce sync.Once instance.
func (sm *SourceMgr) doRelease() {
	// Send the signal to the supervisor to cancel all running calls
	sm.cancelAll()
	sm.suprvsr.wait()

	if sm.disk != nil {
		if err := sm.disk.close(); err != nil {
			sm.logger.WithError(err).Warn("failed to close metadata cache")
		}
	}
	if sm.lf != nil {
		sm.lf.Unlock()
		os.Remove(sm.lf.Path())
	}
	if sm.tmpdir != "" {
		os.RemoveAll(sm.tmpdir)
	}
}

// supervisor tracks in-flight calls so the SourceMgr can't finish Release()ing
// until they have all returned, and cancels them all at once on release.
type supervisor struct {
	ctx     context.Context
	mu      sync.Mutex // Guards all maps
	cond    sync.Cond  // Wraps mu so callers can wait until all calls end
	running map[callInfo]timeCount
	ran     map[callType]durCount
}

type timeCount struct {
	count int
	start time.Time
}

type durCount struct {
	count int
	dur   time.Duration
}

func newSupervisor(ctx context.Context) *supervisor {
	supv := &supervisor{
		ctx:     ctx,
		running: make(map[callInfo]timeCount),
		ran:     make(map[callType]durCount),
	}

	supv.cond = sync.Cond{L: &supv.mu}
	return supv
}

// do executes the incoming closure using a conjoined context, and keeps
// counters to ensure the sourceMgr can't finish Release()ing until after all
// calls have returned.
func (sup *supervisor) do(inctx context.Context, name string, typ callType, f func(context.Context) error) error {
	ci := callInfo{
		name: name,
		typ:  typ,
	}

	octx, err := sup.start(ci)
	if err != nil {
		return err
	}

	cctx, cancelFunc := constext.Cons(inctx, octx)
	err = f(cctx)
	sup.done(ci)
	cancelFunc()
	return err
}

func (sup *supervisor) getLifetimeContext() context.Context {
	return sup.ctx
}

func (sup *supervisor) start(ci callInfo) (context.Context, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.ctx.Err() != nil {
		// We've already been canceled; error out.
		return nil, sup.ctx.Err()
	}

	if existingInfo, has := sup.running[ci]; has {
		existingInfo.count++
		sup.running[ci] = existingInfo
	} else {
		sup.running[ci] = timeCount{
			count: 1,
			start: time.Now(),
		}
	}

	return sup.ctx, nil
}

func (sup *supervisor) count() int {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return len(sup.running)
}

func (sup *supervisor) done(ci callInfo) {
	sup.mu.Lock()

	existingInfo, has := sup.running[ci]
	if !has {
		panic(fmt.Sprintf("canary - sourceMgr: tried to complete a call that had not registered via start()"))
	}

	if existingInfo.count > 1 {
		// If more than one is pending, don't stop the clock yet.
		existingInfo.count--
		sup.running[ci] = existingInfo
	} else {
		// Last one for this particular key; update metrics with info.
		durCnt := sup.ran[ci.typ]
		durCnt.count++
		durCnt.dur += time.Since(existingInfo.start)
		sup.ran[ci.typ] = durCnt
		delete(sup.running, ci)

		if len(sup.running) == 0 {
			// This is the only place where we signal the cond, as it's the only
			// time that the number of running calls could become zero.
			sup.cond.Signal()
		}
	}
	sup.mu.Unlock()
}

// wait until all active calls have terminated.
//
// Assumes something else has already canceled the supervisor via its context.
func (sup *supervisor) wait() {
	sup.cond.L.Lock()
	for len(sup.running) > 0 {
		sup.cond.Wait()
	}
	sup.cond.L.Unlock()
}

type callType uint

const (
	ctListVersions callType = iota
	ctGetMetadata
)

// callInfo provides metadata about an ongoing call.
type callInfo struct {
	name string
	typ  callType
}
