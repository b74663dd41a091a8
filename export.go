// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/markers"
)

// ExportOptions control ExportRequirements.
type ExportOptions struct {
	Selection Selection
	// NoHashes leaves out the --hash lines.
	NoHashes bool
	// NoEmitMembers leaves out the workspace members themselves; their
	// dependencies are still exported.
	NoEmitMembers bool
	// NoHeader leaves out the leading comment.
	NoHeader bool
}

// ExportRequirements writes the part of the lock selected by opts in
// requirements.txt format. Nothing is re-solved: each package is emitted
// under the environments in which the selection reaches it.
func ExportRequirements(l *Lock, opts ExportOptions) ([]byte, error) {
	if l == nil {
		return nil, errors.New("no lock to export")
	}
	reached, err := walkLock(l, opts.Selection)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if !opts.NoHeader {
		fmt.Fprintf(buf, "# This file was generated by pydep from %s.\n", LockName)
	}
	for _, i := range reached.order() {
		p := l.Packages[i]
		if p.Member && opts.NoEmitMembers {
			continue
		}
		if ps, ok := p.Source.(gps.PathSource); ok && ps.Virtual {
			continue
		}
		writeExportEntry(buf, p, reached.marker(i), opts.NoHashes)
	}
	return buf.Bytes(), nil
}

func writeExportEntry(w io.Writer, p gps.ResolvedPackage, m markers.Marker, noHashes bool) {
	line := string(p.Name) + "==" + p.Version.String()
	hashed := !noHashes
	switch s := p.Source.(type) {
	case gps.PathSource:
		line = "./" + strings.TrimPrefix(s.Path, "./")
		if s.Path == "." {
			line = "."
		}
		if s.Editable {
			line = "-e " + line
		}
		hashed = false
	case gps.GitSource:
		ref := s.Commit
		if ref == "" {
			ref = s.Ref
		}
		line = fmt.Sprintf("%s @ git+%s", p.Name, s.Repository)
		if ref != "" {
			line += "@" + ref
		}
		if s.Subdirectory != "" {
			line += "#subdirectory=" + s.Subdirectory
		}
		hashed = false
	case gps.URLSource:
		line = fmt.Sprintf("%s @ %s", p.Name, s)
	}
	if !m.IsTrue() {
		line += " ; " + m.String()
	}

	var hashes []string
	if hashed {
		seen := make(map[string]bool)
		for _, a := range p.Artifacts {
			if a.Hash != "" && !seen[a.Hash] {
				seen[a.Hash] = true
				hashes = append(hashes, a.Hash)
			}
		}
		sort.Strings(hashes)
	}
	if len(hashes) == 0 {
		fmt.Fprintln(w, line)
		return
	}
	fmt.Fprintln(w, line+" \\")
	for i, h := range hashes {
		cont := " \\"
		if i == len(hashes)-1 {
			cont = ""
		}
		fmt.Fprintf(w, "    --hash=%s%s\n", h, cont)
	}
}

// lockNode is a package of a lock, or one of its extras or groups.
type lockNode struct {
	pkg   int
	extra gps.ExtraName
	group gps.ExtraName
}

// reachSet accumulates, for each lock node, the environments under which a
// selection reaches it.
type reachSet struct {
	by    map[lockNode]markers.Marker
	queue []lockNode
}

// add widens the marker of n by m, and queues n if that changed anything.
func (r *reachSet) add(n lockNode, m markers.Marker) {
	if m.IsFalse() {
		return
	}
	prev, has := r.by[n]
	if !has {
		r.by[n] = m
		r.queue = append(r.queue, n)
		return
	}
	next := prev.Or(m)
	if next.Equal(prev) {
		return
	}
	r.by[n] = next
	r.queue = append(r.queue, n)
}

func (r *reachSet) marker(pkg int) markers.Marker {
	return r.by[lockNode{pkg: pkg}]
}

// order returns the reached packages in lock order.
func (r *reachSet) order() []int {
	var out []int
	for n := range r.by {
		if n.extra == "" && n.group == "" {
			out = append(out, n.pkg)
		}
	}
	sort.Ints(out)
	return out
}

// lockSelectable lists what a Selection may name in l.
func lockSelectable(l *Lock) selectable {
	s := selectable{
		extras:    make(map[gps.PackageName][]gps.ExtraName),
		groups:    make(map[gps.PackageName][]gps.ExtraName),
		conflicts: l.Conflicts,
	}
	for _, p := range l.Packages {
		if !p.Member {
			continue
		}
		s.order = append(s.order, p.Name)
		s.extras[p.Name] = sortedDepKeys(p.OptionalDependencies)
		s.groups[p.Name] = sortedDepKeys(p.DevDependencies)
	}
	s.rootGroups = sortedExtraKeys(l.Manifest.DependencyGroups)
	return s
}

// walkLock marks every package of l reachable from the selection, together
// with the environments it is reached under.
func walkLock(l *Lock, sel Selection) (*reachSet, error) {
	as, err := lockSelectable(l).resolve(sel)
	if err != nil {
		return nil, err
	}
	index := make(map[gps.PackageName][]int)
	for i, p := range l.Packages {
		index[p.Name] = append(index[p.Name], i)
	}

	r := &reachSet{by: make(map[lockNode]markers.Marker)}
	for _, n := range as.members {
		mi := -1
		for _, i := range index[n] {
			if l.Packages[i].Member {
				mi = i
			}
		}
		if mi < 0 {
			return nil, errors.Errorf("lock has no entry for workspace member %s", n)
		}
		if as.deps {
			r.add(lockNode{pkg: mi}, markers.True())
		}
		for _, x := range as.extras[n] {
			r.add(lockNode{pkg: mi, extra: x}, markers.True())
		}
		for _, g := range as.groups[n] {
			r.add(lockNode{pkg: mi, group: g}, markers.True())
		}
	}
	for _, g := range as.rootGroups {
		for _, req := range l.Manifest.DependencyGroups[g] {
			m := req.Marker.ExtraPartial(nil)
			for _, t := range index[req.Name] {
				tm := m.And(forkMarker(l.Packages[t]))
				r.add(lockNode{pkg: t}, tm)
				for _, x := range req.Extras {
					r.add(lockNode{pkg: t, extra: x}, tm)
				}
			}
		}
	}

	for len(r.queue) > 0 {
		n := r.queue[0]
		r.queue = r.queue[1:]
		cur := r.by[n]
		p := l.Packages[n.pkg]

		var deps []gps.Dependency
		var active []string
		switch {
		case n.extra != "":
			deps = p.OptionalDependencies[n.extra]
			active = []string{string(n.extra)}
		case n.group != "":
			deps = p.DevDependencies[n.group]
		default:
			deps = p.Dependencies
		}
		for _, d := range deps {
			m := cur.And(d.Marker.ExtraPartial(active))
			if m.IsFalse() {
				continue
			}
			for _, t := range index[d.Name] {
				tp := l.Packages[t]
				if !d.Version.IsZero() && tp.Version.Compare(d.Version) != 0 {
					continue
				}
				if d.Source != nil && sourceKey(tp.Source) != sourceKey(d.Source) {
					continue
				}
				r.add(lockNode{pkg: t}, m)
				for _, x := range d.Extras {
					r.add(lockNode{pkg: t, extra: x}, m)
				}
			}
		}
		// An extra of a dependency needs the package itself.
		if n.extra != "" && !p.Member {
			r.add(lockNode{pkg: n.pkg}, cur)
		}
	}
	return r, nil
}

// forkMarker is the environment p's version was locked for.
func forkMarker(p gps.ResolvedPackage) markers.Marker {
	if len(p.ForkMarkers) == 0 {
		return markers.True()
	}
	m := markers.False()
	for _, fm := range p.ForkMarkers {
		m = m.Or(fm)
	}
	return m
}

func sortedDepKeys(m map[gps.ExtraName][]gps.Dependency) []gps.ExtraName {
	out := make([]gps.ExtraName, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
