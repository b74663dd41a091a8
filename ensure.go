// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"context"
	"io"
	"io/ioutil"
	"log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/verify"
	"github.com/pydep/pydep/internal/feedback"
)

// LockMode controls what Ensure does with the lock.
type LockMode uint8

const (
	// ModeWrite resolves and writes the lock if it changed.
	ModeWrite LockMode = iota
	// ModeLocked resolves and fails if the lock would change.
	ModeLocked
	// ModeFrozen reads the lock as it is, without resolving.
	ModeFrozen
	// ModeDryRun resolves and prints what would change.
	ModeDryRun
)

func (m LockMode) String() string {
	switch m {
	case ModeLocked:
		return "locked"
	case ModeFrozen:
		return "frozen"
	case ModeDryRun:
		return "dry-run"
	}
	return "write"
}

// EnsureParams are the inputs of Ensure.
type EnsureParams struct {
	Project *Project
	Options LockOptions
	Mode    LockMode

	// Upgrade ignores every locked version.
	Upgrade bool
	// UpgradePackages ignores the locked versions of these packages only.
	UpgradePackages []gps.PackageName

	// SourceManager is not used in frozen mode.
	SourceManager gps.SourceManager

	// Out receives user-facing feedback and dry-run output. Nil discards it.
	Out         io.Writer
	Logger      *logrus.Logger
	Trace       bool
	TraceLogger *log.Logger
	// Concurrency bounds how many forks are solved at once.
	Concurrency int
}

// EnsureResult is what Ensure produced.
type EnsureResult struct {
	Lock *Lock
	// Delta is the change from the previous lock. It is nil in frozen mode
	// and when nothing changed.
	Delta *verify.ResolutionDelta
	// Written reports whether the lock on disk was replaced.
	Written bool
	// Satisfaction is how the previous lock compared with the project.
	Satisfaction verify.LockSatisfaction
}

// Ensure brings the project's lock up to date, per the mode.
//
// The previous lock's versions are used as preferences, unless the lock was
// made from different settings or Upgrade is set.
func Ensure(ctx context.Context, ep EnsureParams) (*EnsureResult, error) {
	p := ep.Project
	if p == nil {
		return nil, errors.New("no project to ensure")
	}
	out := ep.Out
	if out == nil {
		out = ioutil.Discard
	}
	logger := ep.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(ioutil.Discard)
	}

	if ep.Mode == ModeFrozen || ep.Mode == ModeLocked {
		if err := p.lockIntegrity(); err != nil {
			return nil, err
		}
	}
	if ep.Mode == ModeFrozen {
		return &EnsureResult{Lock: p.Lock}, nil
	}

	opts := ep.Options
	if len(opts.Environments) == 0 {
		opts.Environments = p.Workspace.Environments
	}
	params := p.MakeParams(opts)
	params.Upgrade = ep.Upgrade
	params.UpgradePackages = ep.UpgradePackages
	params.Logger = logger
	params.Trace = ep.Trace
	params.TraceLogger = ep.TraceLogger
	params.Concurrency = ep.Concurrency

	res := &EnsureResult{}
	current, err := p.inputs(opts)
	if err != nil {
		return nil, err
	}
	if p.Lock != nil {
		locked := p.Lock.Resolution()
		res.Satisfaction = verify.LockSatisfiesInputs(&locked, p.Lock.Inputs(), current)
		if res.Satisfaction.PreferencesUsable() {
			params.Preferences = p.Lock.Preferences()
		} else {
			logger.WithFields(logrus.Fields{"reasons": res.Satisfaction.Reasons()}).Info("lock was made from different inputs, ignoring its versions")
		}
	} else {
		res.Satisfaction = verify.LockSatisfiesInputs(nil, verify.Inputs{}, current)
	}

	s, err := gps.Prepare(params, ep.SourceManager)
	if err != nil {
		return nil, errors.Wrap(err, "prepare solver")
	}
	solution, err := s.Solve(ctx)
	if err != nil {
		return nil, err
	}

	newLock := LockFromResolution(solution, opts, p.manifest())
	sw := &SafeWriter{}
	if err := sw.Prepare(p.LockBytes, p.Lock, newLock); err != nil {
		return nil, err
	}
	res.Lock = newLock
	res.Delta = sw.Payload.Delta

	switch ep.Mode {
	case ModeLocked:
		if sw.Payload.HasLock() {
			lie := &LockIntegrityError{
				Path:   p.LockPath(),
				Reason: "the lock needs to be updated, but locked mode forbids it",
				Delta:  sw.Payload.Delta,
			}
			if !res.Satisfaction.Passed() {
				lie.Reasons = res.Satisfaction.Reasons()
			}
			return res, lie
		}
		return res, nil
	case ModeDryRun:
		return res, sw.PrintPreparedActions(out)
	}

	if !sw.Payload.HasLock() {
		return res, nil
	}
	if err := sw.Write(p.AbsRoot); err != nil {
		return nil, errors.Wrap(err, "failed to write the lock")
	}
	res.Written = true

	if sw.Payload.Delta != nil {
		fl := log.New(out, "", 0)
		for _, fb := range feedback.DeltaFeedback(*sw.Payload.Delta, p.dependencyType) {
			fb.LogFeedback(fl)
		}
	}
	return res, nil
}

// lockIntegrity fails unless the project has a readable lock.
func (p *Project) lockIntegrity() error {
	switch {
	case p.LockErr != nil:
		return &LockIntegrityError{Path: p.LockPath(), Reason: "the lock is malformed", Err: p.LockErr}
	case p.Lock == nil:
		return &LockIntegrityError{Path: p.LockPath(), Reason: "no lock found"}
	}
	return nil
}

// inputs gathers the current inputs of p, for comparison with those
// recorded in a lock.
func (p *Project) inputs(opts LockOptions) (verify.Inputs, error) {
	ws := p.Workspace
	reqs, err := ws.Requirements(Selection{AllExtras: true, AllGroups: true})
	if err != nil {
		return verify.Inputs{}, err
	}
	in := verify.Inputs{
		RequiresPython: ws.RequiresPython.String(),
		Constraints:    requirementStrings(ws.Constraints),
		Overrides:      requirementStrings(ws.Overrides),
		Options:        opts.values(),
	}
	for _, m := range ws.Members {
		in.Members = append(in.Members, m.Name)
	}
	for _, r := range reqs {
		if ws.Member(r.Name) != nil {
			continue
		}
		in.Requirements = append(in.Requirements, r.Requirement)
	}
	return in, nil
}

func (p *Project) dependencyType(n gps.PackageName) string {
	ws := p.Workspace
	if ws.Member(n) != nil {
		return feedback.DepTypeMember
	}
	reqs, _ := ws.Requirements(Selection{AllExtras: true, AllGroups: true})
	for _, r := range reqs {
		if r.Name == n {
			return feedback.DepTypeDirect
		}
	}
	return feedback.DepTypeTransitive
}
