// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps/pep440"
)

// An IndexClient answers queries against one package index. Implementations
// perform the actual I/O: an HTTP simple-API client, a flat directory of
// archives, or an in-memory registry for tests.
type IndexClient interface {
	// Releases lists every release of name on the index. An unknown name is
	// not an error; it yields an empty list.
	Releases(ctx context.Context, name PackageName) ([]Release, error)

	// Metadata returns the core metadata of one release.
	Metadata(ctx context.Context, name PackageName, v pep440.Version) (Metadata, error)
}

// IndexConfig declares one index.
type IndexConfig struct {
	Name string
	URL  string
	// Default marks the index of last resort. It is searched after every
	// other non-explicit index.
	Default bool
	// Explicit indexes are only searched for packages pinned to them.
	Explicit bool
	Client   IndexClient
}

// IndexStrategy controls how a package name is looked up across indexes.
type IndexStrategy uint8

const (
	// FirstIndex stops at the first index, in priority order, that knows the
	// package at all. Lower-priority indexes are never consulted for that
	// name for the rest of the resolve.
	FirstIndex IndexStrategy = iota
	// UnsafeFirstMatch searches every index, trying every version from
	// higher-priority indexes before considering any from lower ones. A
	// version listed twice is taken from the first index.
	UnsafeFirstMatch
	// UnsafeBestMatch searches every index and considers all versions
	// together.
	UnsafeBestMatch
)

var indexStrategyNames = map[IndexStrategy]string{
	FirstIndex:       "first-index",
	UnsafeFirstMatch: "unsafe-first-match",
	UnsafeBestMatch:  "unsafe-best-match",
}

func (s IndexStrategy) String() string {
	return indexStrategyNames[s]
}

// ParseIndexStrategy parses an index strategy name. The empty string is
// FirstIndex.
func ParseIndexStrategy(s string) (IndexStrategy, error) {
	if s == "" {
		return FirstIndex, nil
	}
	for k, v := range indexStrategyNames {
		if v == s {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown index strategy %q", s)
}

// indexLocator decides which indexes a package name may be found on and
// records, per name, the index that satisfied it.
type indexLocator struct {
	strategy IndexStrategy
	ordered  []IndexConfig          // search order: declared order, default index last
	byName   map[string]IndexConfig // all indexes, including explicit ones
	pins     map[PackageName]string // package -> index name, from project sources
	urls     *indexTrie

	mu    sync.Mutex
	found map[PackageName]string // first-index provenance
}

func newIndexLocator(strategy IndexStrategy, indexes []IndexConfig, pins map[PackageName]string) (*indexLocator, error) {
	l := &indexLocator{
		strategy: strategy,
		byName:   make(map[string]IndexConfig),
		pins:     make(map[PackageName]string),
		urls:     newIndexTrie(),
		found:    make(map[PackageName]string),
	}

	var def []IndexConfig
	for _, ic := range indexes {
		if ic.Name == "" {
			return nil, errors.Errorf("index %q has no name", ic.URL)
		}
		if ic.URL == "" {
			return nil, errors.Errorf("index %q has no URL", ic.Name)
		}
		if ic.Client == nil {
			return nil, errors.Errorf("index %q has no client", ic.Name)
		}
		if _, dup := l.byName[ic.Name]; dup {
			return nil, errors.Errorf("index %q declared twice", ic.Name)
		}
		l.byName[ic.Name] = ic
		l.urls.Insert(ic.URL, ic)
		switch {
		case ic.Explicit:
		case ic.Default:
			def = append(def, ic)
		default:
			l.ordered = append(l.ordered, ic)
		}
	}
	l.ordered = append(l.ordered, def...)

	for name, idx := range pins {
		if _, has := l.byName[idx]; !has {
			return nil, errors.Errorf("%s is pinned to undeclared index %q", name, idx)
		}
		l.pins[name] = idx
	}
	return l, nil
}

// indexesFor returns the indexes name may be searched on, in priority order.
// A registry source carrying a URL restricts the search to that index.
func (l *indexLocator) indexesFor(name PackageName, src RegistrySource) ([]IndexConfig, error) {
	if idx, pinned := l.pins[name]; pinned {
		return []IndexConfig{l.byName[idx]}, nil
	}
	if src.URL != "" {
		ic, ok := l.urls.LongestPrefix(src.URL)
		if !ok {
			return nil, errors.Errorf("%s refers to unknown index %s", name, src.URL)
		}
		return []IndexConfig{ic}, nil
	}
	if l.strategy == FirstIndex {
		l.mu.Lock()
		idx, has := l.found[name]
		l.mu.Unlock()
		if has {
			return []IndexConfig{l.byName[idx]}, nil
		}
	}
	return l.ordered, nil
}

// record notes that name was found on index idx. Under FirstIndex a name is
// bound to exactly one index for the lifetime of the resolve.
func (l *indexLocator) record(name PackageName, idx string) {
	if l.strategy != FirstIndex {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, has := l.found[name]; has && prev != idx {
		panic(fmt.Sprintf("canary - %s already found on index %q, refusing index %q", name, prev, idx))
	}
	l.found[name] = idx
}

// assertProvenance panics if a release of name from idx would violate the
// first-index binding.
func (l *indexLocator) assertProvenance(name PackageName, idx string) {
	if l.strategy != FirstIndex || idx == "" {
		return
	}
	if pin, pinned := l.pins[name]; pinned {
		if pin != idx {
			panic(fmt.Sprintf("canary - %s is pinned to index %q but a release came from %q", name, pin, idx))
		}
		return
	}
	l.mu.Lock()
	prev, has := l.found[name]
	l.mu.Unlock()
	if has && prev != idx {
		panic(fmt.Sprintf("canary - %s bound to index %q but a release came from %q", name, prev, idx))
	}
}

// indexForURL attributes a URL to the declared index it lives under.
func (l *indexLocator) indexForURL(u string) (IndexConfig, bool) {
	return l.urls.LongestPrefix(u)
}

// priority returns the search rank of idx; lower is searched first.
func (l *indexLocator) priority(idx string) int {
	for i, ic := range l.ordered {
		if ic.Name == idx {
			return i
		}
	}
	return len(l.ordered)
}
