// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package verify

import (
	"fmt"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/markers"
	"github.com/pydep/pydep/gps/pep440"
)

func mkPkg(name, version string, deps ...string) gps.ResolvedPackage {
	p := gps.ResolvedPackage{
		Name:    gps.PackageName(name),
		Version: pep440.MustParse(version),
		Index:   "pypi",
		Source:  gps.RegistrySource{URL: "https://pypi.org/simple"},
		Artifacts: []gps.Artifact{{
			Filename: name + "-" + version + ".tar.gz",
			URL:      "https://files.example/" + name + "-" + version + ".tar.gz",
			Hash:     "sha256:" + name + version,
		}},
	}
	for _, d := range deps {
		p.Dependencies = append(p.Dependencies, gps.Dependency{Name: gps.PackageName(d)})
	}
	return p
}

// dup returns a copy of r that shares no slices with it.
func dup(r gps.Resolution) gps.Resolution {
	out := r
	out.Forks = append([]markers.Marker(nil), r.Forks...)
	out.Conflicts = append([]gps.ConflictSet(nil), r.Conflicts...)
	out.Packages = make([]gps.ResolvedPackage, len(r.Packages))
	for i, p := range r.Packages {
		p.Artifacts = append([]gps.Artifact(nil), p.Artifacts...)
		p.Dependencies = append([]gps.Dependency(nil), p.Dependencies...)
		p.ForkMarkers = append([]markers.Marker(nil), p.ForkMarkers...)
		out.Packages[i] = p
	}
	return out
}

type resTransformer func(gps.Resolution) gps.Resolution

func (rt resTransformer) compose(rt2 resTransformer) resTransformer {
	if rt == nil {
		return rt2
	}
	return func(r gps.Resolution) gps.Resolution {
		return rt2(rt(r))
	}
}

func (rt resTransformer) addPkg(name, version string) resTransformer {
	return rt.compose(func(r gps.Resolution) gps.Resolution {
		r.Packages = append(r.Packages, mkPkg(name, version))
		return r
	})
}

func (rt resTransformer) rmPkg(name string) resTransformer {
	return rt.compose(func(r gps.Resolution) gps.Resolution {
		for k, p := range r.Packages {
			if p.Name == gps.PackageName(name) {
				r.Packages = r.Packages[:k+copy(r.Packages[k:], r.Packages[k+1:])]
				return r
			}
		}
		panic(fmt.Sprintf("%q not in resolution", name))
	})
}

func (rt resTransformer) modPkg(name string, f func(*gps.ResolvedPackage)) resTransformer {
	return rt.compose(func(r gps.Resolution) gps.Resolution {
		for k := range r.Packages {
			if r.Packages[k].Name == gps.PackageName(name) {
				f(&r.Packages[k])
				return r
			}
		}
		panic(fmt.Sprintf("%q not in resolution", name))
	})
}

func (rt resTransformer) setRequiresPython(spec string) resTransformer {
	return rt.compose(func(r gps.Resolution) gps.Resolution {
		r.RequiresPython = pep440.MustParseSpecifiers(spec)
		return r
	})
}

func (rt resTransformer) addFork(m string) resTransformer {
	return rt.compose(func(r gps.Resolution) gps.Resolution {
		r.Forks = append(r.Forks, markers.MustParse(m))
		return r
	})
}
