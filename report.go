// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/pep440"
)

// ReportOptions control BuildReport.
type ReportOptions struct {
	// Selection restricts the report to part of the lock. The zero value
	// selects the members with their default group.
	Selection Selection
	// Outdated looks up the latest version of every package from an index.
	Outdated      bool
	SourceManager gps.SourceManager
	// Concurrency bounds the lookups made for Outdated.
	Concurrency int
}

// A Report describes a lock: what was chosen, where it came from, and what
// depends on what.
type Report struct {
	RequiresPython string          `json:"requires-python,omitempty" yaml:"requires-python,omitempty"`
	Forks          []string        `json:"forks,omitempty" yaml:"forks,omitempty"`
	Packages       []PackageReport `json:"packages" yaml:"packages"`
	Edges          []EdgeReport    `json:"edges" yaml:"edges"`
}

// PackageReport is one locked package.
type PackageReport struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Source  string `json:"source" yaml:"source"`
	Index   string `json:"index,omitempty" yaml:"index,omitempty"`
	Member  bool   `json:"member,omitempty" yaml:"member,omitempty"`
	Yanked  bool   `json:"yanked,omitempty" yaml:"yanked,omitempty"`
	// Marker is the environment the selection reaches the package in.
	Marker     string   `json:"marker,omitempty" yaml:"marker,omitempty"`
	Forks      []string `json:"forks,omitempty" yaml:"forks,omitempty"`
	RequiredBy []string `json:"required-by,omitempty" yaml:"required-by,omitempty"`
	// Latest is set when a newer version than the locked one exists.
	Latest string `json:"latest,omitempty" yaml:"latest,omitempty"`
}

// An EdgeReport is a dependency from one locked package to another.
type EdgeReport struct {
	From string `json:"from" yaml:"from"`
	// Extra or Group is set when the edge belongs to one of From's extras
	// or dependency groups.
	Extra  string   `json:"extra,omitempty" yaml:"extra,omitempty"`
	Group  string   `json:"group,omitempty" yaml:"group,omitempty"`
	To     string   `json:"to" yaml:"to"`
	Extras []string `json:"extras,omitempty" yaml:"extras,omitempty"`
	Marker string   `json:"marker,omitempty" yaml:"marker,omitempty"`

	from, to int
}

// Endpoints returns the positions of the edge's packages in the report's
// Packages.
func (e EdgeReport) Endpoints() (from, to int) {
	return e.from, e.to
}

// BuildReport describes the part of l that opts selects. Only Outdated
// reaches the network.
func BuildReport(ctx context.Context, l *Lock, opts ReportOptions) (*Report, error) {
	if l == nil {
		return nil, errors.New("no lock to report on")
	}
	reached, err := walkLock(l, opts.Selection)
	if err != nil {
		return nil, err
	}

	r := &Report{
		RequiresPython: l.RequiresPython.String(),
		Forks:          markerStrings(l.ResolutionMarkers),
	}
	pos := make(map[int]int)
	for _, i := range reached.order() {
		p := l.Packages[i]
		pr := PackageReport{
			Name:    string(p.Name),
			Version: p.Version.String(),
			Source:  sourceKey(p.Source),
			Index:   p.Index,
			Member:  p.Member,
			Yanked:  p.Yanked,
			Forks:   markerStrings(p.ForkMarkers),
		}
		if m := reached.marker(i); !m.IsTrue() {
			pr.Marker = m.String()
		}
		pos[i] = len(r.Packages)
		r.Packages = append(r.Packages, pr)
	}

	index := make(map[gps.PackageName][]int)
	for i, p := range l.Packages {
		index[p.Name] = append(index[p.Name], i)
	}
	edge := func(from int, extra, group gps.ExtraName, d gps.Dependency) {
		for _, t := range index[d.Name] {
			tp := l.Packages[t]
			if !d.Version.IsZero() && tp.Version.Compare(d.Version) != 0 {
				continue
			}
			if _, ok := pos[t]; !ok {
				continue
			}
			e := EdgeReport{
				From:   string(l.Packages[from].Name),
				Extra:  string(extra),
				Group:  string(group),
				To:     string(d.Name),
				Extras: d.Extras.Strings(),
				from:   pos[from],
				to:     pos[t],
			}
			if !d.Marker.IsTrue() {
				e.Marker = d.Marker.String()
			}
			r.Edges = append(r.Edges, e)
		}
	}
	for n := range reached.by {
		if _, ok := pos[n.pkg]; !ok {
			continue
		}
		p := l.Packages[n.pkg]
		switch {
		case n.extra != "":
			for _, d := range p.OptionalDependencies[n.extra] {
				edge(n.pkg, n.extra, "", d)
			}
		case n.group != "":
			for _, d := range p.DevDependencies[n.group] {
				edge(n.pkg, "", n.group, d)
			}
		default:
			for _, d := range p.Dependencies {
				edge(n.pkg, "", "", d)
			}
		}
	}
	sort.SliceStable(r.Edges, func(i, j int) bool {
		a, b := r.Edges[i], r.Edges[j]
		if a.from != b.from {
			return a.from < b.from
		}
		if a.Extra+"\x00"+a.Group != b.Extra+"\x00"+b.Group {
			return a.Extra+"\x00"+a.Group < b.Extra+"\x00"+b.Group
		}
		return a.to < b.to
	})

	for _, e := range r.Edges {
		rb := &r.Packages[e.to].RequiredBy
		if !containsString(*rb, e.From) {
			*rb = append(*rb, e.From)
		}
	}
	for i := range r.Packages {
		sort.Strings(r.Packages[i].RequiredBy)
	}

	if opts.Outdated {
		if err := r.fillLatest(ctx, l, pos, opts); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// fillLatest sets Latest on every registry package that has a newer final
// release than the locked one.
func (r *Report) fillLatest(ctx context.Context, l *Lock, pos map[int]int, opts ReportOptions) error {
	if opts.SourceManager == nil {
		return errors.New("outdated report needs a source manager")
	}
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, at := range pos {
		p := l.Packages[i]
		if _, ok := p.Source.(gps.RegistrySource); !ok && p.Source != nil {
			continue
		}
		pr := &r.Packages[at]
		g.Go(func() error {
			vl, err := opts.SourceManager.ListVersions(gctx, p.Name, nil)
			if err != nil {
				return errors.Wrapf(err, "looking up the latest version of %s", p.Name)
			}
			if latest, ok := latestFinal(vl); ok && p.Version.Less(latest) {
				pr.Latest = latest.String()
			}
			return nil
		})
	}
	return g.Wait()
}

func latestFinal(vl gps.VersionList) (pep440.Version, bool) {
	for i := len(vl.Releases) - 1; i >= 0; i-- {
		rel := vl.Releases[i]
		if rel.Yanked || rel.Version.IsPrerelease() || rel.Version.IsDev() {
			continue
		}
		return rel.Version, true
	}
	return pep440.Version{}, false
}

// WriteJSON writes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes r as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteTable writes one line per package.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tVERSION\tSOURCE\tLATEST\tREQUIRED BY")
	for _, p := range r.Packages {
		latest := p.Latest
		if latest == "" {
			latest = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Version, p.provenance(), latest, strings.Join(p.RequiredBy, ", "))
	}
	return tw.Flush()
}

func (p PackageReport) provenance() string {
	if p.Index != "" {
		return p.Index
	}
	return p.Source
}

// WriteTree writes the dependency tree from the members down, or with
// invert, from every package up to the members. Packages already printed
// are marked (*) and not expanded again. A depth of zero is unlimited.
func (r *Report) WriteTree(w io.Writer, invert bool, depth int) error {
	children := make(map[int][]EdgeReport)
	hasParent := make(map[int]bool)
	for _, e := range r.Edges {
		if invert {
			e.from, e.to = e.to, e.from
		}
		children[e.from] = append(children[e.from], e)
		hasParent[e.to] = true
	}

	var roots []int
	for i, p := range r.Packages {
		if invert {
			if !p.Member {
				roots = append(roots, i)
			}
			continue
		}
		if p.Member || !hasParent[i] {
			roots = append(roots, i)
		}
	}

	seen := make(map[int]bool)
	var visit func(i int, e *EdgeReport, prefix string, last bool, level int)
	visit = func(i int, e *EdgeReport, prefix string, last bool, level int) {
		p := r.Packages[i]
		line := p.Name + " v" + p.Version
		if e != nil {
			branch := "├── "
			if last {
				branch = "└── "
			}
			line = prefix + branch + line
			if e.Extra != "" {
				line += " (extra: " + e.Extra + ")"
			}
			if e.Group != "" {
				line += " (group: " + e.Group + ")"
			}
		}
		if p.Latest != "" {
			line += " (latest: v" + p.Latest + ")"
		}
		expanded := seen[i]
		if expanded && len(children[i]) > 0 {
			line += " (*)"
		}
		fmt.Fprintln(w, line)
		if expanded || (depth > 0 && level >= depth) {
			return
		}
		seen[i] = true

		if e != nil {
			if last {
				prefix += "    "
			} else {
				prefix += "│   "
			}
		}
		kids := children[i]
		for k := range kids {
			visit(kids[k].to, &kids[k], prefix, k == len(kids)-1, level+1)
		}
	}
	for _, i := range roots {
		visit(i, nil, "", true, 0)
	}
	return nil
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
