// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"fmt"
	"strings"

	"github.com/pydep/pydep/gps/markers"
)

type badOptsFailure string

func (e badOptsFailure) Error() string {
	return string(e)
}

// NoSolutionError reports that no assignment of versions satisfies the
// requirements. Its message walks through the derivation of the conflict.
type NoSolutionError struct {
	incompat *incompatibility
}

func (e *NoSolutionError) Error() string {
	return "version solving failed:\n\n" + e.Explanation()
}

// Explanation renders the numbered derivation of the failure.
func (e *NoSolutionError) Explanation() string {
	return newReportWriter(e.incompat).write()
}

// NoVersions returns the leaf causes of the failure that are packages
// without a usable version.
func (e *NoSolutionError) NoVersions() []*NoVersionsError {
	var out []*NoVersionsError
	e.incompat.externals(func(ic *incompatibility) {
		if ic.kind == causeNoVersions && ic.noVersions != nil {
			out = append(out, ic.noVersions)
		}
	})
	return out
}

// ConflictingGroupsError reports two extras or dependency groups that
// cannot be installed together, and were not declared as conflicting.
type ConflictingGroupsError struct {
	Items   [2]ConflictItem
	Package PackageName
	// Requirements are the two clashing requirements, when the clash is
	// direct.
	Requirements [2]Requirement
	// Cause is the failed resolution the clash was found in, if any.
	Cause error
}

func (e *ConflictingGroupsError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s and %s are incompatible", e.Items[0], e.Items[1])
	if e.Requirements[0].Name != "" {
		fmt.Fprintf(&b, ": %s requires %s, but %s requires %s", e.Items[0], e.Requirements[0], e.Items[1], e.Requirements[1])
	} else {
		fmt.Fprintf(&b, ": their requirements on %s cannot both be met", e.Package)
	}
	b.WriteString("\nto install them separately, declare them as conflicting")
	if e.Cause != nil {
		b.WriteString("\n\n")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// ForkError reports a failure confined to one fork of a universal
// resolution.
type ForkError struct {
	Marker markers.Marker
	Err    error
}

func (e *ForkError) Error() string {
	return fmt.Sprintf("no solution for environments where %s: %s", describeMarker(e.Marker), e.Err)
}

// Cause returns the underlying error.
func (e *ForkError) Cause() error {
	return e.Err
}

func (e *ForkError) Unwrap() error {
	return e.Err
}

func describeMarker(m markers.Marker) string {
	if m.IsTrue() {
		return "(any)"
	}
	return m.String()
}

// forkRequest stops a fork's solve: the fork must be split along markers
// before it can continue.
type forkRequest struct {
	markers []markers.Marker
	why     string
}

func (r *forkRequest) Error() string {
	return "fork requested: " + r.why
}
