// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pydep/pydep"
	"github.com/pydep/pydep/gps"
)

// selectionFlags pick the part of the workspace a command works on.
type selectionFlags struct {
	packages, extras, groups, noGroups []string
	allExtras, allGroups               bool
	noDev, onlyGroups                  bool
}

func (sf *selectionFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&sf.packages, "package", nil, "only this workspace member (repeatable)")
	fs.StringSliceVar(&sf.extras, "extra", nil, "include this optional dependency (repeatable)")
	fs.BoolVar(&sf.allExtras, "all-extras", false, "include every optional dependency")
	fs.StringSliceVar(&sf.groups, "group", nil, "include this dependency group (repeatable)")
	fs.BoolVar(&sf.allGroups, "all-groups", false, "include every dependency group")
	fs.StringSliceVar(&sf.noGroups, "no-group", nil, "leave out this dependency group (repeatable)")
	fs.BoolVar(&sf.noDev, "no-dev", false, "leave out the dev group")
	fs.BoolVar(&sf.onlyGroups, "only-groups", false, "only the selected groups, not the members' own dependencies")
}

func (sf *selectionFlags) selection() pydep.Selection {
	sel := pydep.Selection{
		AllExtras:       sf.allExtras,
		AllGroups:       sf.allGroups,
		NoDefaultGroups: sf.noDev,
		OnlyGroups:      sf.onlyGroups,
	}
	for _, p := range sf.packages {
		sel.Members = append(sel.Members, gps.NormalizeName(p))
	}
	sel.Extras = extraNames(sf.extras)
	sel.Groups = extraNames(sf.groups)
	sel.NoGroups = extraNames(sf.noGroups)
	return sel
}

func extraNames(ss []string) []gps.ExtraName {
	var out []gps.ExtraName
	for _, s := range ss {
		out = append(out, gps.NormalizeExtra(s))
	}
	return out
}

// lockFlags choose how a command that reads the lock obtains it.
type lockFlags struct {
	locked, frozen bool
}

func (lf *lockFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&lf.locked, "locked", false, "fail if the lock needs to change")
	fs.BoolVar(&lf.frozen, "frozen", false, "use the lock as it is, without resolving")
}

// lock loads the project and returns an up to date lock for it, resolving
// first unless frozen.
func (lf *lockFlags) lock(cmd *cobra.Command, env *cmdEnv) (*pydep.Project, *pydep.Lock, error) {
	if lf.locked && lf.frozen {
		return nil, nil, errors.New("only one of -locked and -frozen may be given")
	}
	p, err := env.loadProject()
	if err != nil {
		return nil, nil, err
	}
	mode := pydep.ModeWrite
	switch {
	case lf.frozen:
		mode = pydep.ModeFrozen
	case lf.locked:
		mode = pydep.ModeLocked
	}
	opts, err := env.settings.LockOptions()
	if err != nil {
		return nil, nil, err
	}
	ep := pydep.EnsureParams{
		Project:     p,
		Options:     opts,
		Mode:        mode,
		Out:         ioutil.Discard,
		Logger:      env.logger,
		Concurrency: env.settings.Concurrency.Forks,
	}
	if mode != pydep.ModeFrozen {
		sm, err := env.sourceManager(p)
		if err != nil {
			return nil, nil, err
		}
		defer sm.Release()
		ep.SourceManager = sm
	}
	res, err := pydep.Ensure(cmd.Context(), ep)
	if err != nil {
		return nil, nil, err
	}
	return p, res.Lock, nil
}

func newExportCmd(env *cmdEnv) *cobra.Command {
	var (
		sf                            selectionFlags
		lf                            lockFlags
		noHashes, noEmitProject, noHd bool
		output                        string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the locked dependencies in requirements.txt format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, l, err := lf.lock(cmd, env)
			if err != nil {
				return err
			}
			b, err := pydep.ExportRequirements(l, pydep.ExportOptions{
				Selection:     sf.selection(),
				NoHashes:      noHashes,
				NoEmitMembers: noEmitProject,
				NoHeader:      noHd,
			})
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = env.cfg.Stdout.Write(b)
				return err
			}
			return errors.Wrapf(ioutil.WriteFile(output, b, 0666), "unable to write %s", output)
		},
	}
	fs := cmd.Flags()
	sf.register(fs)
	lf.register(fs)
	fs.BoolVar(&noHashes, "no-hashes", false, "leave out artifact hashes")
	fs.BoolVar(&noEmitProject, "no-emit-project", false, "leave out the workspace members themselves")
	fs.BoolVar(&noHd, "no-header", false, "leave out the header comment")
	fs.StringVarP(&output, "output-file", "o", "", "write to this file instead of stdout")
	return cmd
}
