// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/markers"
)

// SettingsName is the name of the settings file, looked up in the project
// root and then in the user config directory.
const SettingsName = "pydep.toml"

// DefaultIndexURL is used when no index is configured.
const DefaultIndexURL = "https://pypi.org/simple"

// IndexSpec declares one package index.
type IndexSpec struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
	// Default marks the index of last resort.
	Default bool `mapstructure:"default"`
	// Explicit indexes serve only the packages pinned to them.
	Explicit bool `mapstructure:"explicit"`
	// Token is sent as a bearer token.
	Token string `mapstructure:"token"`
}

// Settings are the resolver settings that do not come from pyproject.toml.
type Settings struct {
	Indexes       []IndexSpec `mapstructure:"index"`
	FindLinks     []string    `mapstructure:"find-links"`
	IndexStrategy string      `mapstructure:"index-strategy"`
	Resolution    string      `mapstructure:"resolution"`
	Prerelease    string      `mapstructure:"prerelease"`
	ForkStrategy  string      `mapstructure:"fork-strategy"`
	ExcludeNewer  string      `mapstructure:"exclude-newer"`
	Environments  []string    `mapstructure:"environments"`
	Offline       bool        `mapstructure:"offline"`
	CacheDir      string      `mapstructure:"cache-dir"`
	Concurrency   struct {
		Downloads int `mapstructure:"downloads"`
		Forks     int `mapstructure:"forks"`
	} `mapstructure:"concurrency"`
	HTTPTimeout time.Duration `mapstructure:"http-timeout"`
	HTTPRetries int           `mapstructure:"http-retries"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	s := &Settings{
		HTTPTimeout: 30 * time.Second,
		HTTPRetries: 3,
	}
	s.Concurrency.Downloads = 8
	s.Concurrency.Forks = 4
	if d, err := os.UserCacheDir(); err == nil {
		s.CacheDir = filepath.Join(d, "pydep")
	}
	return s
}

// LoadSettings reads pydep.toml from root or the user config directory, and
// PYDEP_* environment variables, into v. Flags already bound to v take
// precedence. A missing settings file is not an error.
func LoadSettings(v *viper.Viper, root string) (*Settings, error) {
	def := DefaultSettings()
	v.SetDefault("cache-dir", def.CacheDir)
	v.SetDefault("http-timeout", def.HTTPTimeout)
	v.SetDefault("http-retries", def.HTTPRetries)
	v.SetDefault("concurrency.downloads", def.Concurrency.Downloads)
	v.SetDefault("concurrency.forks", def.Concurrency.Forks)

	v.SetConfigName(strings.TrimSuffix(SettingsName, ".toml"))
	v.SetConfigType("toml")
	if root != "" {
		v.AddConfigPath(root)
	}
	if d, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(d, "pydep"))
	}
	v.SetEnvPrefix("PYDEP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "unable to read settings")
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	return s, nil
}

// LockOptions parses the resolver options out of s.
func (s *Settings) LockOptions() (LockOptions, error) {
	var o LockOptions
	var err error
	if o.Resolution, err = gps.ParseResolutionStrategy(s.Resolution); err != nil {
		return o, err
	}
	if o.Prerelease, err = gps.ParsePrereleaseMode(s.Prerelease); err != nil {
		return o, err
	}
	if o.ForkStrategy, err = gps.ParseForkStrategy(s.ForkStrategy); err != nil {
		return o, err
	}
	if o.IndexStrategy, err = gps.ParseIndexStrategy(s.IndexStrategy); err != nil {
		return o, err
	}
	if s.ExcludeNewer != "" {
		if o.ExcludeNewer, err = parseExcludeNewer(s.ExcludeNewer); err != nil {
			return o, err
		}
	}
	for _, e := range s.Environments {
		m, err := markers.Parse(e)
		if err != nil {
			return o, errors.Wrapf(err, "invalid environment %q", e)
		}
		o.Environments = append(o.Environments, m)
	}
	return o, nil
}

// parseExcludeNewer accepts an RFC 3339 timestamp or a date, which means
// the end of that day in UTC.
func parseExcludeNewer(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid exclude-newer %q: expected an RFC 3339 timestamp or a date", s)
	}
	return d.Add(24*time.Hour - time.Second).UTC(), nil
}

// IndexConfigs turns the declared indexes, those of the project first, into
// source manager configuration with a client for each. Find-links
// directories become flat indexes after them. With nothing declared, the
// public index is used.
func (s *Settings) IndexConfigs(project []IndexSpec) []gps.IndexConfig {
	specs := append(append([]IndexSpec(nil), project...), s.Indexes...)
	hasDefault := false
	for _, is := range specs {
		hasDefault = hasDefault || is.Default
	}
	if !hasDefault {
		specs = append(specs, IndexSpec{Name: "pypi", URL: DefaultIndexURL, Default: true})
	}

	var out []gps.IndexConfig
	seen := make(map[string]bool)
	for _, is := range specs {
		if seen[is.Name] {
			continue
		}
		seen[is.Name] = true
		ic := gps.IndexConfig{Name: is.Name, URL: is.URL, Default: is.Default, Explicit: is.Explicit}
		if dir, ok := localIndexDir(is.URL); ok {
			ic.Client = gps.NewFlatIndex(dir)
		} else {
			ic.Client = gps.NewSimpleClient(is.URL, is.Token)
		}
		out = append(out, ic)
	}
	for i, dir := range s.FindLinks {
		name := "find-links"
		if i > 0 {
			name = name + "-" + filepath.Base(dir)
		}
		out = append(out, gps.IndexConfig{Name: name, URL: "file://" + filepath.ToSlash(dir), Client: gps.NewFlatIndex(dir)})
	}
	return out
}

func localIndexDir(u string) (string, bool) {
	if strings.HasPrefix(u, "file://") {
		return filepath.FromSlash(strings.TrimPrefix(u, "file://")), true
	}
	if !strings.Contains(u, "://") {
		return u, true
	}
	return "", false
}

// SourceManagerConfig builds the source manager configuration for a project
// at root.
func (s *Settings) SourceManagerConfig(ws *Workspace, logger *logrus.Logger) (gps.SourceManagerConfig, error) {
	opts, err := s.LockOptions()
	if err != nil {
		return gps.SourceManagerConfig{}, err
	}
	c := gps.SourceManagerConfig{
		CacheDir:      s.CacheDir,
		IndexStrategy: opts.IndexStrategy,
		Offline:       s.Offline,
		Concurrency:   s.Concurrency.Downloads,
		Timeout:       s.HTTPTimeout,
		Retries:       s.HTTPRetries,
		ExcludeNewer:  opts.ExcludeNewer,
		Logger:        logger,
	}
	var project []IndexSpec
	if ws != nil {
		c.WorkspaceRoot = ws.Root
		c.Pins = ws.Pins
		project = ws.Indexes
	}
	c.Indexes = s.IndexConfigs(project)
	c.Direct = gps.NewSimpleClient("", "")

	for n, idx := range c.Pins {
		found := false
		for _, ic := range c.Indexes {
			found = found || ic.Name == idx
		}
		if !found {
			return c, errors.Errorf("%s is pinned to index %q, which is not declared", n, idx)
		}
	}
	return c, nil
}
