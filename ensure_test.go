// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/pep440"
	"github.com/pydep/pydep/internal/test"
)

const ensurePyproject = `[project]
name = "app"
version = "0.1.0"
requires-python = ">=3.9"
dependencies = ["requests>=2"]

[dependency-groups]
dev = ["pytest"]
`

func mkEnsureIndex() *gps.MemoryIndex {
	return gps.NewMemoryIndex().
		Publish("requests", "2.30.0", "urllib3>=1.21").
		Publish("requests", "2.31.0", "urllib3>=1.21").
		Publish("urllib3", "1.26.18").
		Publish("urllib3", "2.2.1").
		Publish("pytest", "8.0.0", "pluggy<2").
		Publish("pluggy", "1.4.0")
}

func mkEnsureSM(t *testing.T, root string, ix *gps.MemoryIndex) *gps.SourceMgr {
	sm, err := gps.NewSourceManager(gps.SourceManagerConfig{
		Indexes:       []gps.IndexConfig{{Name: "pypi", URL: pypi, Default: true, Client: ix}},
		WorkspaceRoot: root,
		Logger:        test.Logger(t),
	})
	require.NoError(t, err)
	return sm
}

func ensure(t *testing.T, root string, ix *gps.MemoryIndex, mode LockMode, mod func(*EnsureParams)) (*EnsureResult, error) {
	p, err := LoadProject(root)
	require.NoError(t, err)
	sm := mkEnsureSM(t, root, ix)
	defer sm.Release()

	ep := EnsureParams{
		Project:       p,
		Mode:          mode,
		SourceManager: sm,
		Out:           &bytes.Buffer{},
		Logger:        test.Logger(t),
	}
	if mod != nil {
		mod(&ep)
	}
	return Ensure(context.Background(), ep)
}

func lockedVersion(t *testing.T, l *Lock, n gps.PackageName) string {
	res := l.Resolution()
	entries := res.Find(n)
	require.Len(t, entries, 1, "%s should be locked once", n)
	return entries[0].Version.String()
}

func TestEnsureWritesLock(t *testing.T) {
	h := mkWorkspace(t, map[string]string{"pyproject.toml": ensurePyproject})
	defer h.Cleanup()
	ix := mkEnsureIndex()

	out := &bytes.Buffer{}
	res, err := ensure(t, h.Path("."), ix, ModeWrite, func(ep *EnsureParams) { ep.Out = out })
	require.NoError(t, err)
	require.True(t, res.Written)
	require.NotNil(t, res.Delta)
	h.MustExist(h.Path(LockName))

	require.Equal(t, "2.31.0", lockedVersion(t, res.Lock, "requests"))
	require.Equal(t, "2.2.1", lockedVersion(t, res.Lock, "urllib3"))
	require.Equal(t, "8.0.0", lockedVersion(t, res.Lock, "pytest"), "groups are locked too")
	require.Contains(t, out.String(), "Locking in 2.31.0")

	// A second run finds nothing to change.
	res, err = ensure(t, h.Path("."), ix, ModeWrite, nil)
	require.NoError(t, err)
	require.False(t, res.Written)
	require.True(t, res.Satisfaction.Passed(), "%v", res.Satisfaction.Reasons())
}

func TestEnsureKeepsLockedVersions(t *testing.T) {
	h := mkWorkspace(t, map[string]string{"pyproject.toml": ensurePyproject})
	defer h.Cleanup()
	ix := mkEnsureIndex()

	_, err := ensure(t, h.Path("."), ix, ModeWrite, nil)
	require.NoError(t, err)

	ix.Publish("requests", "2.32.0", "urllib3>=1.21").Publish("urllib3", "2.3.0")

	res, err := ensure(t, h.Path("."), ix, ModeWrite, nil)
	require.NoError(t, err)
	require.False(t, res.Written, "new releases alone do not move locked versions")

	res, err = ensure(t, h.Path("."), ix, ModeDryRun, func(ep *EnsureParams) {
		ep.UpgradePackages = []gps.PackageName{"urllib3"}
	})
	require.NoError(t, err)
	require.False(t, res.Written)
	require.Equal(t, "2.31.0", lockedVersion(t, res.Lock, "requests"))
	require.Equal(t, "2.3.0", lockedVersion(t, res.Lock, "urllib3"))

	res, err = ensure(t, h.Path("."), ix, ModeWrite, func(ep *EnsureParams) { ep.Upgrade = true })
	require.NoError(t, err)
	require.True(t, res.Written)
	require.Equal(t, "2.32.0", lockedVersion(t, res.Lock, "requests"))

	raw, err := ioutil.ReadFile(h.Path(LockName))
	require.NoError(t, err)
	onDisk, err := ReadLock(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "2.32.0", lockedVersion(t, onDisk, "requests"))
}

func TestEnsureFrozenWithoutLock(t *testing.T) {
	h := mkWorkspace(t, map[string]string{"pyproject.toml": ensurePyproject})
	defer h.Cleanup()
	ix := mkEnsureIndex()

	_, err := ensure(t, h.Path("."), ix, ModeFrozen, nil)
	var lie *LockIntegrityError
	require.True(t, errors.As(err, &lie), "got %v", err)
	require.Equal(t, 0, ix.Calls(), "frozen mode never queries an index")
	require.Contains(t, lie.Error(), "no lock found")
	h.MustNotExist(filepath.Join(h.Path("."), LockName))
}

func TestEnsureFrozenReadsLock(t *testing.T) {
	h := mkWorkspace(t, map[string]string{"pyproject.toml": ensurePyproject})
	defer h.Cleanup()

	_, err := ensure(t, h.Path("."), mkEnsureIndex(), ModeWrite, nil)
	require.NoError(t, err)

	// Even with the project changed, frozen mode takes the lock as it is.
	h.TempFile("pyproject.toml", ensurePyproject+"\n[tool.pydep]\nconstraint-dependencies = [\"urllib3<2\"]\n")
	ix := gps.NewMemoryIndex()
	res, err := ensure(t, h.Path("."), ix, ModeFrozen, nil)
	require.NoError(t, err)
	require.Equal(t, "2.2.1", lockedVersion(t, res.Lock, "urllib3"))
	require.Equal(t, 0, ix.Calls())
}

func TestEnsureLockedMismatch(t *testing.T) {
	h := mkWorkspace(t, map[string]string{"pyproject.toml": ensurePyproject})
	defer h.Cleanup()
	ix := mkEnsureIndex()

	_, err := ensure(t, h.Path("."), ix, ModeWrite, nil)
	require.NoError(t, err)
	before, err := ioutil.ReadFile(h.Path(LockName))
	require.NoError(t, err)

	_, err = ensure(t, h.Path("."), ix, ModeLocked, nil)
	require.NoError(t, err, "an up to date lock passes")

	h.TempFile("pyproject.toml", ensurePyproject+"\n[tool.pydep]\nconstraint-dependencies = [\"urllib3<2\"]\n")
	_, err = ensure(t, h.Path("."), ix, ModeLocked, nil)
	var lie *LockIntegrityError
	require.True(t, errors.As(err, &lie), "got %v", err)
	require.NotNil(t, lie.Delta)
	require.Contains(t, lie.Reasons, "constraints changed")
	require.Contains(t, lie.Error(), "urllib3")

	after, err := ioutil.ReadFile(h.Path(LockName))
	require.NoError(t, err)
	require.Equal(t, string(before), string(after), "locked mode never writes")
}

func TestEnsureMalformedLock(t *testing.T) {
	h := mkWorkspace(t, map[string]string{
		"pyproject.toml": ensurePyproject,
		LockName:         "version = 7\n",
	})
	defer h.Cleanup()
	ix := mkEnsureIndex()

	for _, mode := range []LockMode{ModeFrozen, ModeLocked} {
		_, err := ensure(t, h.Path("."), ix, mode, nil)
		var lie *LockIntegrityError
		require.True(t, errors.As(err, &lie), "%s: got %v", mode, err)
		require.Error(t, lie.Err)
	}

	// Write mode replaces it.
	res, err := ensure(t, h.Path("."), ix, ModeWrite, nil)
	require.NoError(t, err)
	require.True(t, res.Written)
}

func TestEnsureDryRun(t *testing.T) {
	h := mkWorkspace(t, map[string]string{"pyproject.toml": ensurePyproject})
	defer h.Cleanup()

	out := &bytes.Buffer{}
	res, err := ensure(t, h.Path("."), mkEnsureIndex(), ModeDryRun, func(ep *EnsureParams) { ep.Out = out })
	require.NoError(t, err)
	require.False(t, res.Written)
	require.Contains(t, out.String(), "Would have written")
	require.Contains(t, out.String(), "requests")
	require.Equal(t, "2.31.0", lockedVersion(t, res.Lock, "requests"))

	// Nothing was written.
	h.MustNotExist(filepath.Join(h.Path("."), LockName))
	entries, err := ioutil.ReadDir(h.Path("."))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{"pyproject.toml"}, names)
}

func TestEnsureOptionsInvalidatePreferences(t *testing.T) {
	h := mkWorkspace(t, map[string]string{"pyproject.toml": ensurePyproject})
	defer h.Cleanup()
	ix := mkEnsureIndex()

	_, err := ensure(t, h.Path("."), ix, ModeWrite, nil)
	require.NoError(t, err)

	res, err := ensure(t, h.Path("."), ix, ModeWrite, func(ep *EnsureParams) {
		ep.Options.Resolution = gps.StrategyLowest
	})
	require.NoError(t, err)
	require.False(t, res.Satisfaction.PreferencesUsable())
	require.True(t, res.Written)
	require.Equal(t, "2.30.0", lockedVersion(t, res.Lock, "requests"))
	require.True(t, res.Lock.Packages[0].Version.Equal(pep440.MustParse("0.1.0")))
}
