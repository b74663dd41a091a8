// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Masterminds/vcs"
)

// gitRepo runs the network and checkout operations of a vcs.GitRepo as
// monitored commands, so they honor cancellation and are killed when they
// stall.
type gitRepo struct {
	*vcs.GitRepo
}

func newVcsRemoteErrorOr(msg string, err error, out string) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return vcs.NewRemoteError(msg, err, out)
}

func newVcsLocalErrorOr(msg string, err error, out string) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return vcs.NewLocalError(msg, err, out)
}

func (r *gitRepo) get(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(r.LocalPath()), 0755); err != nil {
		return newVcsLocalErrorOr("unable to create directory", err, "")
	}
	out, err := runFromCwd(ctx, "git", "clone", "--recursive", r.Remote(), r.LocalPath())
	if err != nil {
		return newVcsRemoteErrorOr("unable to get repository", err, string(out))
	}
	return nil
}

func (r *gitRepo) fetch(ctx context.Context) error {
	out, err := runFromRepoDir(ctx, r, "git", "fetch", "--tags", "--prune", r.RemoteLocation)
	if err != nil {
		return newVcsRemoteErrorOr("unable to update repository", err, string(out))
	}
	return nil
}

// updateVersion checks out rev, which may be a branch, tag or commit. A
// branch is taken from the remote, as the local branch is never advanced.
func (r *gitRepo) updateVersion(ctx context.Context, rev string) error {
	target := rev
	if out, err := runFromRepoDir(ctx, r, "git", "rev-parse", "--verify", "--quiet", "refs/remotes/"+r.RemoteLocation+"/"+rev); err == nil && len(out) > 0 {
		target = r.RemoteLocation + "/" + rev
	}
	out, err := runFromRepoDir(ctx, r, "git", "checkout", "--detach", target)
	if err != nil {
		return newVcsLocalErrorOr("unable to update checked out version", err, string(out))
	}
	return r.defendAgainstSubmodules(ctx)
}

// defendAgainstSubmodules keeps submodules in step with the checked out
// revision, and removes any that went away.
func (r *gitRepo) defendAgainstSubmodules(ctx context.Context) error {
	out, err := runFromRepoDir(ctx, r, "git", "submodule", "update", "--init", "--recursive")
	if err != nil {
		return newVcsLocalErrorOr("unexpected error while defensively updating submodules", err, string(out))
	}
	out, err = runFromRepoDir(ctx, r, "git", "clean", "-x", "-d", "-f", "-f")
	if err != nil {
		return newVcsLocalErrorOr("unexpected error while defensively cleaning up after possible derelict submodule directories", err, string(out))
	}
	return nil
}
