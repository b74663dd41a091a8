// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pydep/pydep/gps/verify"
)

// LockIntegrityError is returned when the lock cannot be used as it is: it is
// missing or malformed in frozen mode, or it would change in locked mode.
type LockIntegrityError struct {
	Path   string
	Reason string
	// Delta is the change resolving would make to the lock, when known.
	Delta *verify.ResolutionDelta
	// Reasons are the ways the lock no longer matches the project.
	Reasons []string
	Err     error
}

func (e *LockIntegrityError) Error() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: %s", e.Path, e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&buf, ": %s", e.Err)
	}
	for _, r := range e.Reasons {
		fmt.Fprintf(&buf, "\n  %s", r)
	}
	if e.Delta != nil {
		if s := strings.TrimRight(e.Delta.Format(), "\n"); s != "" {
			buf.WriteString("\n")
			for _, l := range strings.Split(s, "\n") {
				fmt.Fprintf(&buf, "\n  %s", l)
			}
		}
	}
	return buf.String()
}

func (e *LockIntegrityError) Unwrap() error {
	return e.Err
}

// InvalidProjectError is returned for a pyproject.toml that cannot be
// understood.
type InvalidProjectError struct {
	Path string
	Err  error
}

func (e *InvalidProjectError) Error() string {
	return fmt.Sprintf("invalid project %s: %s", e.Path, e.Err)
}

func (e *InvalidProjectError) Unwrap() error {
	return e.Err
}
