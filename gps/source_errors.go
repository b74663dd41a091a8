// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"fmt"
	"net"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"
)

// FetchError reports a failure to list or fetch a package from a source,
// after any retries were exhausted.
type FetchError struct {
	Name     PackageName
	Source   string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("failed to fetch %s from %s after %d attempts: %s", e.Name, e.Source, e.Attempts, e.Err)
	}
	return fmt.Sprintf("failed to fetch %s from %s: %s", e.Name, e.Source, e.Err)
}

// Cause returns the underlying error.
func (e *FetchError) Cause() error {
	return e.Err
}

// errOffline is returned for any cache miss while offline.
var errOffline = errors.New("not in cache and network access is disabled")

// transient reports whether err is worth retrying: a temporary or timed-out
// network failure. perCall is the context of the single attempt, which has
// its own deadline distinct from the caller's.
func transient(err error, perCall context.Context) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	if cause == context.DeadlineExceeded && perCall.Err() == context.DeadlineExceeded {
		return true
	}
	if te, ok := cause.(interface{ Temporary() bool }); ok && te.Temporary() {
		return true
	}
	if ne, ok := cause.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

// unwrapVcsErr extracts the command output from a vcs error, if possible.
func unwrapVcsErr(err error) error {
	switch verr := err.(type) {
	case *vcs.LocalError:
		return errors.Errorf("%s: %s", verr.Error(), verr.Out())
	case *vcs.RemoteError:
		return errors.Errorf("%s: %s", verr.Error(), verr.Out())
	default:
		return err
	}
}
