// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/pydep/pydep/gps/pep440"
)

// A source is one place packages can be fetched from. Every source kind
// implements it; the sourceCoordinator picks the implementation by matching
// on the Source variant.
type source interface {
	listReleases(ctx context.Context, name PackageName) ([]Release, error)
	getMetadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error)
	// sourceType names the kind of source for logs and errors.
	sourceType() string
	// networked reports whether calls perform network I/O, and so are
	// subject to offline mode, timeouts and retries.
	networked() bool
}

type gatewayOptions struct {
	offline     bool
	concurrency int64
	timeout     time.Duration
	retries     int
	backoff     time.Duration
}

type sourceCoordinator struct {
	supervisor *supervisor
	srcmut     sync.RWMutex // guards srcs map
	srcs       map[string]*sourceGateway
	disk       *boltCache // nil when running without a cache directory
	opts       gatewayOptions
	logger     *logrus.Logger
	newSource  func(Source) (source, error)
}

func newSourceCoordinator(superv *supervisor, disk *boltCache, opts gatewayOptions, logger *logrus.Logger, newSource func(Source) (source, error)) *sourceCoordinator {
	return &sourceCoordinator{
		supervisor: superv,
		srcs:       make(map[string]*sourceGateway),
		disk:       disk,
		opts:       opts,
		logger:     logger,
		newSource:  newSource,
	}
}

// getSourceGatewayFor returns the gateway for id, creating it on first use.
// Every caller asking about the same source gets the same gateway, so that
// fetches and cache access for it are coordinated in one place.
func (sc *sourceCoordinator) getSourceGatewayFor(id string, src Source) (*sourceGateway, error) {
	if sc.supervisor.getLifetimeContext().Err() != nil {
		return nil, errors.New("sourceCoordinator has been terminated")
	}

	sc.srcmut.RLock()
	sg, has := sc.srcs[id]
	sc.srcmut.RUnlock()
	if has {
		return sg, nil
	}

	sc.srcmut.Lock()
	defer sc.srcmut.Unlock()
	if sg, has := sc.srcs[id]; has {
		return sg, nil
	}
	s, err := sc.newSource(src)
	if err != nil {
		return nil, err
	}
	sg = newSourceGateway(id, s, sc.supervisor, sc.opts, sc.logger)
	if sc.disk != nil && s.networked() {
		sg.cache = &multiCache{mem: sg.cache, disk: sc.disk.newSingleSourceCache(id)}
	}
	sc.srcs[id] = sg
	return sg, nil
}

// sourceGateways manage all incoming calls for data from sources, caching
// them and folding concurrent requests for the same data into one fetch.
type sourceGateway struct {
	id      string
	src     source
	cache   singleSourceCache
	sem     *semaphore.Weighted // bounds in-flight fetches against the source
	flight  singleflight.Group  // at most one fetch per key
	suprvsr *supervisor
	opts    gatewayOptions
	logger  *logrus.Logger
}

func newSourceGateway(id string, src source, superv *supervisor, opts gatewayOptions, logger *logrus.Logger) *sourceGateway {
	n := opts.concurrency
	if n <= 0 {
		n = 1
	}
	return &sourceGateway{
		id:      id,
		src:     src,
		cache:   newMemoryCache(),
		sem:     semaphore.NewWeighted(n),
		suprvsr: superv,
		opts:    opts,
		logger:  logger,
	}
}

func (sg *sourceGateway) listReleases(ctx context.Context, name PackageName) ([]Release, error) {
	if rs, ok := sg.cache.getReleases(name); ok {
		return rs, nil
	}
	if sg.opts.offline && sg.src.networked() {
		return nil, &FetchError{Name: name, Source: sg.id, Attempts: 0, Err: errOffline}
	}

	v, err, _ := sg.flight.Do("releases:"+string(name), func() (interface{}, error) {
		var rs []Release
		err := sg.fetch(ctx, name, ctListVersions, func(ctx context.Context) error {
			var err error
			rs, err = sg.src.listReleases(ctx, name)
			return err
		})
		if err != nil {
			return nil, err
		}
		sortReleases(rs)
		sg.cache.setReleases(name, rs)
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]Release(nil), v.([]Release)...), nil
}

func (sg *sourceGateway) getMetadata(ctx context.Context, name PackageName, ver pep440.Version) (Metadata, error) {
	if m, ok := sg.cache.getMetadata(name, ver); ok {
		return m, nil
	}
	if sg.opts.offline && sg.src.networked() {
		return Metadata{}, &FetchError{Name: name, Source: sg.id, Attempts: 0, Err: errOffline}
	}

	v, err, _ := sg.flight.Do("meta:"+metaKey(name, ver), func() (interface{}, error) {
		var m Metadata
		err := sg.fetch(ctx, name, ctGetMetadata, func(ctx context.Context) error {
			var err error
			m, err = sg.src.getMetadata(ctx, name, ver)
			return err
		})
		if err != nil {
			return nil, err
		}
		sg.cache.setMetadata(name, ver, m)
		return m, nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return v.(Metadata), nil
}

// fetch runs f under the supervisor, bounded by the gateway semaphore. For
// networked sources each attempt gets its own timeout, and transient failures
// are retried with exponential backoff. Retries live here and nowhere else.
func (sg *sourceGateway) fetch(ctx context.Context, name PackageName, typ callType, f func(context.Context) error) error {
	attempts := 0
	backoff := sg.opts.backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	for {
		attempts++
		var retry bool
		err := sg.sem.Acquire(ctx, 1)
		if err == nil {
			err = sg.suprvsr.do(ctx, sg.id+" "+string(name), typ, func(ctx context.Context) error {
				if !sg.src.networked() || sg.opts.timeout <= 0 {
					return f(ctx)
				}
				cctx, cancel := context.WithTimeout(ctx, sg.opts.timeout)
				defer cancel()
				err := f(cctx)
				retry = transient(err, cctx)
				return err
			})
			sg.sem.Release(1)
		}
		if err == nil {
			return nil
		}

		if !retry || attempts > sg.opts.retries {
			if fe, ok := err.(*FetchError); ok {
				return fe
			}
			return &FetchError{Name: name, Source: sg.id, Attempts: attempts, Err: err}
		}

		if sg.logger.IsLevelEnabled(logrus.DebugLevel) {
			sg.logger.WithFields(logrus.Fields{
				"name":    name,
				"source":  sg.id,
				"attempt": attempts,
			}).WithError(err).Debug("retrying transient failure")
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return &FetchError{Name: name, Source: sg.id, Attempts: attempts, Err: ctx.Err()}
		}
		backoff *= 2
	}
}

// indexSource is a package index reached through an IndexClient.
type indexSource struct {
	ic IndexConfig
}

func (s *indexSource) listReleases(ctx context.Context, name PackageName) ([]Release, error) {
	rs, err := s.ic.Client.Releases(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]Release, len(rs))
	for i, r := range rs {
		r.Index = s.ic.Name
		r.Source = RegistrySource{URL: s.ic.URL}
		out[i] = r
	}
	return out, nil
}

func (s *indexSource) getMetadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error) {
	m, err := s.ic.Client.Metadata(ctx, name, v)
	if err != nil {
		return Metadata{}, err
	}
	if m.Name == "" {
		m.Name = name
	}
	if m.Version.IsZero() {
		m.Version = v
	}
	return m, nil
}

func (s *indexSource) sourceType() string { return "index " + s.ic.Name }

func (s *indexSource) networked() bool { return true }

// mergeReleases combines release lists from several indexes, given in
// priority order. A version listed by more than one index is kept only from
// the highest-priority one. With tiered set, each release is also ranked by
// the position of its index, so the versionQueue exhausts one index before
// moving on to the next.
func mergeReleases(lists [][]Release, tiered bool) []Release {
	var all []Release
	for tier, rs := range lists {
		for _, r := range rs {
			if tiered {
				r.tier = tier
			}
			all = append(all, r)
		}
	}
	// Stable, so equal versions stay in index priority order.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Version.Less(all[j].Version)
	})
	if len(all) == 0 {
		return all
	}
	out := all[:1]
	for _, r := range all[1:] {
		if !r.Version.Equal(out[len(out)-1].Version) {
			out = append(out, r)
		}
	}
	return out
}
