// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/pydep/pydep"
)

type graphviz struct {
	ps   []*gvnode
	rels [][2]int
}

type gvnode struct {
	project string
	version string
	marker  string
}

func newGraphviz(r *pydep.Report) *graphviz {
	g := &graphviz{}
	for _, p := range r.Packages {
		g.ps = append(g.ps, &gvnode{project: p.Name, version: p.Version, marker: p.Marker})
	}
	// Edges are reported per extra or group; the graph only needs one
	// arrow between two packages.
	seen := make(map[[2]int]bool)
	for _, e := range r.Edges {
		from, to := e.Endpoints()
		rel := [2]int{from, to}
		if !seen[rel] {
			seen[rel] = true
			g.rels = append(g.rels, rel)
		}
	}
	return g
}

func (g *graphviz) output() []byte {
	var b bytes.Buffer
	b.WriteString("digraph { node [shape=box]; ")
	for _, gvp := range g.ps {
		b.WriteString(fmt.Sprintf("%d [label=\"%s\"];", gvp.hash(), gvp.label()))
	}
	for _, r := range g.rels {
		b.WriteString(fmt.Sprintf("%d -> %d; ", g.ps[r[0]].hash(), g.ps[r[1]].hash()))
	}
	b.WriteString("}\n")
	return b.Bytes()
}

func (dp gvnode) hash() uint32 {
	h := fnv.New32a()
	h.Write([]byte(dp.project + "==" + dp.version))
	return h.Sum32()
}

func (dp gvnode) label() string {
	label := []string{dp.project}
	if dp.version != "" {
		label = append(label, dp.version)
	}
	if dp.marker != "" {
		label = append(label, strings.Replace(dp.marker, "\"", "\\\"", -1))
	}
	return strings.Join(label, "\\n")
}
