// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"strings"
	"sync"

	"github.com/armon/go-radix"
)

// Typed implementations of radix trees. These are just simple wrappers that let
// us avoid having to type assert anywhere else, cleaning up other code a bit.

// indexTrie maps index URL prefixes to index configurations.
type indexTrie struct {
	sync.RWMutex
	t *radix.Tree
}

func newIndexTrie() *indexTrie {
	return &indexTrie{
		t: radix.New(),
	}
}

// Insert is used to add a new entry or update an existing entry. Returns if updated.
func (t *indexTrie) Insert(s string, ic IndexConfig) (IndexConfig, bool) {
	t.Lock()
	defer t.Unlock()
	if prev, had := t.t.Insert(strings.TrimSuffix(s, "/"), ic); had {
		return prev.(IndexConfig), had
	}
	return IndexConfig{}, false
}

// Len is used to return the number of elements in the tree
func (t *indexTrie) Len() int {
	t.RLock()
	defer t.RUnlock()
	return t.t.Len()
}

// LongestPrefix returns the index whose URL is the longest prefix of s. The
// match must end on a path segment boundary.
func (t *indexTrie) LongestPrefix(s string) (IndexConfig, bool) {
	t.RLock()
	defer t.RUnlock()
	var found interface{}
	// WalkPath visits shorter prefixes first; keep the last one that ends on
	// a segment boundary.
	t.t.WalkPath(s, func(p string, v interface{}) bool {
		if isURLPrefixOrEqual(p, s) {
			found = v
		}
		return false
	})
	if found == nil {
		return IndexConfig{}, false
	}
	return found.(IndexConfig), true
}

// isURLPrefixOrEqual guards against the radix tree conflating sibling paths,
// such as https://example.com/simple and https://example.com/simple-extra.
func isURLPrefixOrEqual(pre, url string) bool {
	return len(pre) == len(url) || strings.HasPrefix(url[len(pre):], "/")
}
