// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"fmt"
	"strings"

	"github.com/pydep/pydep/gps/pep440"
)

const (
	successChar   = "✓"
	successCharSp = successChar + " "
	failChar      = "✗"
	failCharSp    = failChar + " "
	backChar      = "←"
	forkChar      = "⑂"
)

// Forks are solved concurrently; every line carries the fork's number so
// interleaved output can be told apart.
func (s *solver) tracef(f fork, depth int, msg string) {
	prefix := fmt.Sprintf("[%d] ", f.id) + strings.Repeat("| ", depth)
	s.tl.Printf("%s\n", tracePrefix(msg, prefix, prefix))
}

// traceStartFork is called once as each fork begins solving.
func (s *solver) traceStartFork(f fork) {
	if !s.params.Trace {
		return
	}
	s.tracef(f, 0, "? solve "+forkLabel(f))
}

// traceSelect is called when a version is decided on.
func (s *solver) traceSelect(fs *forkSolver, p solverPkg, v pep440.Version) {
	if !s.params.Trace || p.kind == kindRoot {
		return
	}
	var msg string
	if p.virtual() {
		msg = fmt.Sprintf("%s include %s", successChar, p)
	} else {
		msg = fmt.Sprintf("%s select %s %s", successChar, p, v)
	}
	s.tracef(fs.f, fs.ps.level()-1, msg)
}

// traceNoVersions is called when a package has nothing left to try.
func (s *solver) traceNoVersions(fs *forkSolver, p solverPkg, why *NoVersionsError) {
	if !s.params.Trace {
		return
	}
	s.tracef(fs.f, fs.ps.level(), tracePrefix(why.Error(), "  ", failCharSp))
}

// traceConflict is called when an incompatibility is found satisfied.
func (s *solver) traceConflict(fs *forkSolver, ic *incompatibility) {
	if !s.params.Trace {
		return
	}
	s.tracef(fs.f, fs.ps.level(), tracePrefix("conflict: "+fs.describe(ic), "  ", failCharSp))
}

// traceBacktrack is called when conflict resolution jumps back.
func (s *solver) traceBacktrack(fs *forkSolver, level int) {
	if !s.params.Trace {
		return
	}
	s.tracef(fs.f, level, fmt.Sprintf("%s backtrack to level %d", backChar, level))
}

// traceSplit is called when a fork is split into regions.
func (s *solver) traceSplit(f fork, req *forkRequest, n int) {
	if !s.params.Trace {
		return
	}
	s.tracef(f, 0, fmt.Sprintf("%s split into %d forks: %s", forkChar, n, req.why))
}

// Called just once after each fork has finished, whether success or not
func (s *solver) traceFinish(f fork, err error) {
	if !s.params.Trace {
		return
	}
	if err == nil {
		s.tracef(f, 0, successCharSp+"found solution for "+forkLabel(f))
	} else {
		s.tracef(f, 0, tracePrefix(err.Error(), "  ", failCharSp))
	}
}

func tracePrefix(msg, sep, fsep string) string {
	parts := strings.Split(strings.TrimSuffix(msg, "\n"), "\n")
	for k, str := range parts {
		if k == 0 {
			parts[k] = fsep + str
		} else {
			parts[k] = sep + str
		}
	}

	return strings.Join(parts, "\n")
}
