// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pydep/pydep"
)

const treeLongHelp = `
Tree prints the locked dependencies of the project, starting from the
workspace members. Packages already shown are marked (*).

With -format, the same information is printed as a table, JSON, YAML, or a
graphviz digraph. -outdated looks up the newest release of every registry
package and shows it next to the locked version.
`

func newTreeCmd(env *cmdEnv) *cobra.Command {
	var (
		sf       selectionFlags
		lf       lockFlags
		invert   bool
		depth    int
		outdated bool
		format   string
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the locked dependency tree",
		Long:  treeLongHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, l, err := lf.lock(cmd, env)
			if err != nil {
				return err
			}
			opts := pydep.ReportOptions{Selection: sf.selection(), Outdated: outdated}
			if outdated {
				sm, err := env.sourceManager(p)
				if err != nil {
					return err
				}
				defer sm.Release()
				opts.SourceManager = sm
				opts.Concurrency = env.settings.Concurrency.Downloads
			}

			r, err := pydep.BuildReport(cmd.Context(), l, opts)
			if err != nil {
				return err
			}
			w := env.cfg.Stdout
			switch format {
			case "", "text":
				return r.WriteTree(w, invert, depth)
			case "table":
				return r.WriteTable(w)
			case "json":
				return r.WriteJSON(w)
			case "yaml":
				return r.WriteYAML(w)
			case "dot":
				g := newGraphviz(r)
				_, err := w.Write(g.output())
				return err
			}
			return errors.Errorf("unknown format %q (want text, table, json, yaml or dot)", format)
		},
	}
	fs := cmd.Flags()
	sf.register(fs)
	lf.register(fs)
	fs.BoolVar(&invert, "invert", false, "show what depends on each package instead")
	fs.IntVar(&depth, "depth", 0, "maximum depth of the tree; 0 is unlimited")
	fs.BoolVar(&outdated, "outdated", false, "show the latest available version of each package")
	fs.StringVar(&format, "format", "text", "output format: text, table, json, yaml or dot")
	return cmd
}
