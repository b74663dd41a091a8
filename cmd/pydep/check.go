// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io/ioutil"
	"log"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pydep/pydep"
)

const checkLongHelp = `
Check determines if pydep.lock is in sync with the project. If problems are
found, it prints a description of each issue, then exits 1. Passing -q
suppresses output.

The lock is in sync when it was made from the current requirements,
constraints, overrides, workspace members and resolver settings, and
resolving again would not change it.
`

func newCheckCmd(env *cmdEnv) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check if pyproject.toml and pydep.lock are in sync",
		Long:  checkLongHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := env.lg.Out
			if quiet {
				logger = log.New(ioutil.Discard, "", 0)
			}

			err := runEnsure(cmd, env, pydep.ModeLocked, false, nil)
			var lie *pydep.LockIntegrityError
			if !errors.As(err, &lie) {
				return err
			}
			logger.Printf("# %s is out of sync:\n", pydep.LockName)
			if lie.Err != nil {
				logger.Printf("%s: %v\n", lie.Reason, lie.Err)
			} else {
				logger.Println(lie.Reason)
			}
			for _, r := range lie.Reasons {
				logger.Printf("  %s\n", r)
			}
			if lie.Delta != nil {
				for _, l := range strings.Split(strings.TrimRight(lie.Delta.Format(), "\n"), "\n") {
					if l != "" {
						logger.Printf("  %s\n", l)
					}
				}
			}
			return errors.New("check failed")
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	return cmd
}
