// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=... -X main.commitHash=...".
var (
	version    = "devel"
	buildDate  string
	commitHash string
)

func newVersionCmd(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the pydep version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			env.lg.Out.Printf(`pydep:
 version     : %s
 build date  : %s
 git hash    : %s
 go version  : %s
 go compiler : %s
 platform    : %s/%s
`, version, buildDate, commitHash,
				runtime.Version(), runtime.Compiler, runtime.GOOS, runtime.GOARCH)
		},
	}
}
