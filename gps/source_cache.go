// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"sync"

	"github.com/pydep/pydep/gps/pep440"
)

// singleSourceCache provides a method set for storing and retrieving data about
// a single source.
type singleSourceCache interface {
	// Store the full list of releases of a package, replacing any previous
	// list.
	setReleases(PackageName, []Release)
	// Get the list of releases of a package.
	getReleases(PackageName) ([]Release, bool)
	// Store the metadata of one version. Metadata of a published version is
	// immutable, so it is never invalidated.
	setMetadata(PackageName, pep440.Version, Metadata)
	// Get the metadata of one version.
	getMetadata(PackageName, pep440.Version) (Metadata, bool)
}

type singleSourceCacheMemory struct {
	mut   sync.RWMutex // protects all maps
	rels  map[PackageName][]Release
	metas map[string]Metadata
}

func newMemoryCache() singleSourceCache {
	return &singleSourceCacheMemory{
		rels:  make(map[PackageName][]Release),
		metas: make(map[string]Metadata),
	}
}

func metaKey(name PackageName, v pep440.Version) string {
	return string(name) + "@" + v.String()
}

func (c *singleSourceCacheMemory) setReleases(name PackageName, rs []Release) {
	c.mut.Lock()
	c.rels[name] = append([]Release(nil), rs...)
	c.mut.Unlock()
}

func (c *singleSourceCacheMemory) getReleases(name PackageName) ([]Release, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()
	rs, has := c.rels[name]
	if !has {
		return nil, false
	}
	return append([]Release(nil), rs...), true
}

func (c *singleSourceCacheMemory) setMetadata(name PackageName, v pep440.Version, m Metadata) {
	c.mut.Lock()
	c.metas[metaKey(name, v)] = m
	c.mut.Unlock()
}

func (c *singleSourceCacheMemory) getMetadata(name PackageName, v pep440.Version) (Metadata, bool) {
	c.mut.RLock()
	m, has := c.metas[metaKey(name, v)]
	c.mut.RUnlock()
	return m, has
}

// multiCache layers an in-memory cache over a persistent one. Reads try
// memory first and backfill it from disk; writes go to both.
type multiCache struct {
	mem, disk singleSourceCache
}

func (c *multiCache) setReleases(name PackageName, rs []Release) {
	c.mem.setReleases(name, rs)
	c.disk.setReleases(name, rs)
}

func (c *multiCache) getReleases(name PackageName) ([]Release, bool) {
	if rs, ok := c.mem.getReleases(name); ok {
		return rs, true
	}
	rs, ok := c.disk.getReleases(name)
	if ok {
		c.mem.setReleases(name, rs)
	}
	return rs, ok
}

func (c *multiCache) setMetadata(name PackageName, v pep440.Version, m Metadata) {
	c.mem.setMetadata(name, v, m)
	c.disk.setMetadata(name, v, m)
}

func (c *multiCache) getMetadata(name PackageName, v pep440.Version) (Metadata, bool) {
	if m, ok := c.mem.getMetadata(name, v); ok {
		return m, true
	}
	m, ok := c.disk.getMetadata(name, v)
	if ok {
		c.mem.setMetadata(name, v, m)
	}
	return m, ok
}
