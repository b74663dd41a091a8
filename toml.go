// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"sort"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// tomlMapper reads typed values out of a TOML tree. The first error stops
// all further mapping and is kept in Error.
type tomlMapper struct {
	Tree  *toml.Tree
	Error error
}

func keyName(path []string) string {
	return strings.Join(path, ".")
}

func (mapper *tomlMapper) get(path []string) interface{} {
	if mapper.Error != nil || mapper.Tree == nil {
		return nil
	}
	return mapper.Tree.GetPath(path)
}

func readKeyAsString(mapper *tomlMapper, path ...string) string {
	rawValue := mapper.get(path)
	if rawValue == nil {
		return ""
	}
	value, ok := rawValue.(string)
	if !ok {
		mapper.Error = errors.Errorf("Invalid type for %s, should be a string, but it is a %T", keyName(path), rawValue)
		return ""
	}
	return value
}

// readKeyAsBool returns nil if the key is absent.
func readKeyAsBool(mapper *tomlMapper, path ...string) *bool {
	rawValue := mapper.get(path)
	if rawValue == nil {
		return nil
	}
	value, ok := rawValue.(bool)
	if !ok {
		mapper.Error = errors.Errorf("Invalid type for %s, should be a boolean, but it is a %T", keyName(path), rawValue)
		return nil
	}
	return &value
}

func readKeyAsStringList(mapper *tomlMapper, path ...string) []string {
	rawValue := mapper.get(path)
	if rawValue == nil {
		return nil
	}
	list, ok := rawValue.([]interface{})
	if !ok {
		if ss, ok := rawValue.([]string); ok {
			return ss
		}
		mapper.Error = errors.Errorf("Invalid type for %s, should be a TOML list ([]interface{}) but got %T", keyName(path), rawValue)
		return nil
	}

	results := make([]string, len(list))
	for i := range list {
		s, ok := list[i].(string)
		if !ok {
			mapper.Error = errors.Errorf("Invalid item type for %s, should be a TOML list of strings but got %T", keyName(path), list[i])
			return nil
		}
		results[i] = s
	}
	return results
}

// readKeyAsTree returns nil if the table is absent.
func readKeyAsTree(mapper *tomlMapper, path ...string) *toml.Tree {
	rawValue := mapper.get(path)
	if rawValue == nil {
		return nil
	}
	t, ok := rawValue.(*toml.Tree)
	if !ok {
		mapper.Error = errors.Errorf("Invalid type for %s, should be a TOML table but got %T", keyName(path), rawValue)
		return nil
	}
	return t
}

// readKeyAsTreeList reads an array of tables, or an array of inline tables.
func readKeyAsTreeList(mapper *tomlMapper, path ...string) []*toml.Tree {
	rawValue := mapper.get(path)
	switch v := rawValue.(type) {
	case nil:
		return nil
	case []*toml.Tree:
		return v
	case []interface{}:
		out := make([]*toml.Tree, len(v))
		for i := range v {
			t, ok := v[i].(*toml.Tree)
			if !ok {
				mapper.Error = errors.Errorf("Invalid item type for %s, should be a TOML table but got %T", keyName(path), v[i])
				return nil
			}
			out[i] = t
		}
		return out
	}
	mapper.Error = errors.Errorf("Invalid type for %s, should be a TOML array of tables but got %T", keyName(path), rawValue)
	return nil
}

// readTableAsStringLists reads a table whose values are all lists of
// strings, such as [project.optional-dependencies].
func readTableAsStringLists(mapper *tomlMapper, path ...string) map[string][]string {
	t := readKeyAsTree(mapper, path...)
	if t == nil {
		return nil
	}
	sub := &tomlMapper{Tree: t}
	out := make(map[string][]string)
	for _, k := range sortedTreeKeys(t) {
		out[k] = readKeyAsStringList(sub, k)
	}
	if sub.Error != nil {
		mapper.Error = errors.Wrapf(sub.Error, "in %s", keyName(path))
		return nil
	}
	return out
}

func sortedTreeKeys(t *toml.Tree) []string {
	ks := t.Keys()
	sort.Strings(ks)
	return ks
}
