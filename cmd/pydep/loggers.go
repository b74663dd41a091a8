// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"log"

	"github.com/sirupsen/logrus"
)

// Loggers holds standard loggers and a verbosity flag.
type Loggers struct {
	Out, Err *log.Logger
	// Whether verbose logging is enabled.
	Verbose bool
}

// Logrus returns the structured logger handed to the resolver. It writes to
// w, and only warnings unless verbose logging is enabled.
func (lg *Loggers) Logrus(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetLevel(logrus.WarnLevel)
	if lg.Verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
