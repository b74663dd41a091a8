// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"testing"

	"github.com/pydep/pydep"
)

func TestEmptyProject(t *testing.T) {
	g := newGraphviz(&pydep.Report{})
	want := "digraph { node [shape=box]; }\n"
	if got := string(g.output()); got != want {
		t.Fatalf("unexpected graph:\n\t(GOT): %s\n\t(WNT): %s", got, want)
	}
}

func TestGraphvizLabels(t *testing.T) {
	g := &graphviz{ps: []*gvnode{
		{project: "app", version: "0.1.0"},
		{project: "colorama", version: "0.4.6", marker: "sys_platform == 'win32'"},
	}, rels: [][2]int{{0, 1}, {0, 1}}}

	a, c := g.ps[0].hash(), g.ps[1].hash()
	want := fmt.Sprintf(`digraph { node [shape=box]; %d [label="app\n0.1.0"];%d [label="colorama\n0.4.6\nsys_platform == 'win32'"];%d -> %d; %d -> %d; }`+"\n", a, c, a, c, a, c)
	if got := string(g.output()); got != want {
		t.Fatalf("unexpected graph:\n\t(GOT): %s\n\t(WNT): %s", got, want)
	}
	if a == (gvnode{project: "app", version: "0.2.0"}).hash() {
		t.Error("two versions of one package should be distinct nodes")
	}
}
