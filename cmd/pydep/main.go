// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pydep resolves and locks the dependencies of a Python project.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get working directory", err)
		os.Exit(1)
	}
	c := &Config{
		Args:       os.Args,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		WorkingDir: wd,
	}
	os.Exit(c.Run())
}

// A Config specifies a full configuration for a pydep execution.
type Config struct {
	WorkingDir     string    // Where to execute
	Args           []string  // Command-line arguments, starting with the program name.
	Stdout, Stderr io.Writer // Log output
}

// Run executes a configuration and returns an exit code.
func (c *Config) Run() (exitCode int) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lg := &Loggers{
		Out: log.New(c.Stdout, "", 0),
		Err: log.New(c.Stderr, "", 0),
	}
	root := newRootCmd(c, lg)
	root.SetArgs(c.Args[1:])
	root.SetOut(c.Stdout)
	root.SetErr(c.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		lg.Err.Printf("pydep: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(c *Config, lg *Loggers) *cobra.Command {
	v := viper.New()
	env := &cmdEnv{cfg: c, v: v, lg: lg}

	root := &cobra.Command{
		Use:           "pydep",
		Short:         "pydep resolves and locks Python dependencies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.init()
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&lg.Verbose, "verbose", "v", false, "enable verbose logging")
	pf.BoolVar(&env.trace, "trace", false, "print the solver's decisions and backtracking")
	pf.StringVarP(&env.dir, "directory", "C", "", "run as if pydep was started in this directory")
	pf.Bool("offline", false, "serve everything from the cache")
	pf.String("cache-dir", "", "directory for the metadata cache and git checkouts")
	pf.String("resolution", "", "resolution strategy: highest, lowest or lowest-direct")
	pf.String("prerelease", "", "prerelease policy")
	pf.String("fork-strategy", "", "fork strategy: requires-python or fewest")
	pf.String("index-strategy", "", "index strategy: first-index, unsafe-first-match or unsafe-best-match")
	pf.String("exclude-newer", "", "ignore artifacts uploaded after this date or RFC 3339 time")
	for _, name := range []string{"offline", "cache-dir", "resolution", "prerelease", "fork-strategy", "index-strategy", "exclude-newer"} {
		v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(
		newLockCmd(env),
		newCheckCmd(env),
		newExportCmd(env),
		newTreeCmd(env),
		newVersionCmd(env),
	)
	return root
}
