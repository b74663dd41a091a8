// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pydep/pydep"
	"github.com/pydep/pydep/gps"
)

const lockLongHelp = `
Lock resolves the dependencies of every workspace member, for every
supported environment at once, and writes the result to pydep.lock.

Versions already in the lock are kept where they still fit, unless
-U or -P ask for newer ones. -locked fails instead of writing when the
lock would change; -frozen uses the lock as it is, without resolving.
`

type lockCommand struct {
	locked, frozen, dryRun bool
	upgrade                bool
	upgradePackages        []string
}

func newLockCmd(env *cmdEnv) *cobra.Command {
	lc := &lockCommand{}
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Resolve the project's dependencies and write pydep.lock",
		Long:  lockLongHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := lc.mode()
			if err != nil {
				return err
			}
			return runEnsure(cmd, env, mode, lc.upgrade, lc.upgradePackages)
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&lc.locked, "locked", false, "fail if the lock needs to change")
	fs.BoolVar(&lc.frozen, "frozen", false, "use the lock as it is, without resolving")
	fs.BoolVarP(&lc.dryRun, "dry-run", "n", false, "only report what would change")
	fs.BoolVarP(&lc.upgrade, "upgrade", "U", false, "ignore every locked version")
	fs.StringSliceVarP(&lc.upgradePackages, "upgrade-package", "P", nil, "ignore the locked version of this package (repeatable)")
	return cmd
}

func (lc *lockCommand) mode() (pydep.LockMode, error) {
	n := 0
	mode := pydep.ModeWrite
	if lc.locked {
		n++
		mode = pydep.ModeLocked
	}
	if lc.frozen {
		n++
		mode = pydep.ModeFrozen
	}
	if lc.dryRun {
		n++
		mode = pydep.ModeDryRun
	}
	if n > 1 {
		return mode, errors.New("only one of -locked, -frozen and -dry-run may be given")
	}
	if mode == pydep.ModeFrozen && (lc.upgrade || len(lc.upgradePackages) > 0) {
		return mode, errors.New("-frozen cannot be combined with an upgrade")
	}
	return mode, nil
}

// runEnsure loads the project and brings its lock up to date in mode.
func runEnsure(cmd *cobra.Command, env *cmdEnv, mode pydep.LockMode, upgrade bool, upgradePackages []string) error {
	p, err := env.loadProject()
	if err != nil {
		return err
	}
	opts, err := env.settings.LockOptions()
	if err != nil {
		return err
	}

	ep := pydep.EnsureParams{
		Project:     p,
		Options:     opts,
		Mode:        mode,
		Upgrade:     upgrade,
		Out:         env.cfg.Stdout,
		Logger:      env.logger,
		Trace:       env.trace,
		TraceLogger: log.New(env.cfg.Stderr, "", 0),
		Concurrency: env.settings.Concurrency.Forks,
	}
	for _, n := range upgradePackages {
		ep.UpgradePackages = append(ep.UpgradePackages, gps.NormalizeName(n))
	}
	if mode != pydep.ModeFrozen {
		sm, err := env.sourceManager(p)
		if err != nil {
			return err
		}
		defer sm.Release()
		ep.SourceManager = sm
	}

	res, err := pydep.Ensure(cmd.Context(), ep)
	if err != nil {
		return err
	}
	if env.lg.Verbose && !res.Written && mode == pydep.ModeWrite {
		env.lg.Err.Printf("%s is up to date\n", pydep.LockName)
	}
	return nil
}
