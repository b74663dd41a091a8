// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pydep/pydep"
	"github.com/pydep/pydep/gps"
)

// cmdEnv is the supporting context shared by every command: where to work,
// the settings, and the loggers.
type cmdEnv struct {
	cfg   *Config
	v     *viper.Viper
	lg    *Loggers
	dir   string
	trace bool

	wd       string
	logger   *logrus.Logger
	settings *pydep.Settings
}

func (e *cmdEnv) init() error {
	e.wd = e.cfg.WorkingDir
	if e.dir != "" {
		e.wd = e.dir
		if !filepath.IsAbs(e.wd) {
			e.wd = filepath.Join(e.cfg.WorkingDir, e.dir)
		}
	}
	e.logger = e.lg.Logrus(e.cfg.Stderr)
	return nil
}

// loadProject loads the project containing the working directory, and the
// settings that apply to it.
func (e *cmdEnv) loadProject() (*pydep.Project, error) {
	p, err := pydep.LoadProject(e.wd)
	if err != nil {
		return nil, errors.Wrap(err, "could not load the project")
	}
	e.settings, err = pydep.LoadSettings(e.v, p.AbsRoot)
	if err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{"root": p.AbsRoot, "members": len(p.Workspace.Members)}).Debug("loaded project")
	return p, nil
}

// sourceManager must be called after loadProject. The caller releases it.
func (e *cmdEnv) sourceManager(p *pydep.Project) (*gps.SourceMgr, error) {
	c, err := e.settings.SourceManagerConfig(p.Workspace, e.logger)
	if err != nil {
		return nil, err
	}
	return gps.NewSourceManager(c)
}
