// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pydep/pydep/internal/test"
)

func TestTxnWriterBadInputs(t *testing.T) {
	h := test.NewHelper(t)
	defer h.Cleanup()

	h.TempDir("txnwriter")
	td := h.Path("txnwriter")

	var sw SafeWriter
	require.Error(t, sw.Write(td), "called before Prepare")

	require.NoError(t, sw.Prepare(nil, nil, nil))
	require.Error(t, sw.Write(""), "no root path")
	require.NoError(t, sw.Write(td), "nothing prepared is a no-op")

	require.NoError(t, sw.Prepare(nil, nil, mkTestLock()))
	require.Error(t, sw.Write(filepath.Join(td, "nonexistent")), "nonexistent root")

	f := filepath.Join(td, "myfile")
	require.NoError(t, ioutil.WriteFile(f, nil, 0666))
	require.Error(t, sw.Write(f), "root path is a file")
}

func TestTxnWriter(t *testing.T) {
	h := test.NewHelper(t)
	defer h.Cleanup()

	h.TempDir("proj")
	root := h.Path("proj")
	lpath := filepath.Join(root, LockName)

	l := mkTestLock()
	var sw SafeWriter
	require.NoError(t, sw.Prepare(nil, nil, l))
	require.True(t, sw.Payload.HasLock(), "a new lock should always be written")
	require.NotNil(t, sw.Payload.Delta)
	require.Contains(t, sw.Payload.Delta.Format(), "requests", "the delta names every added package")
	require.NoError(t, sw.Write(root))
	h.MustExist(lpath)

	written, err := ioutil.ReadFile(lpath)
	require.NoError(t, err)
	want, err := l.MarshalTOML()
	require.NoError(t, err)
	require.Equal(t, string(want), string(written))

	// Unchanged bytes mean nothing to do.
	require.NoError(t, sw.Prepare(written, l, mkTestLock()))
	require.False(t, sw.Payload.HasLock(), "an unchanged lock should not be rewritten")
	buf := &bytes.Buffer{}
	require.NoError(t, sw.PrintPreparedActions(buf))
	require.Equal(t, LockName+" is up to date\n", buf.String())

	// A change replaces the file and leaves nothing else behind.
	l2 := mkTestLock()
	l2.Packages = l2.Packages[:len(l2.Packages)-1]
	require.NoError(t, sw.Prepare(written, l, l2))
	buf.Reset()
	require.NoError(t, sw.PrintPreparedActions(buf))
	require.Contains(t, buf.String(), "Would have written")
	require.Contains(t, buf.String(), "urllib3", "dry run output names the removed package")
	require.NoError(t, sw.Write(root))

	rewritten, err := ioutil.ReadFile(lpath)
	require.NoError(t, err)
	require.NotEqual(t, string(written), string(rewritten), "lock should have been replaced")
	entries, err := ioutil.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only %s in the project root", LockName)
	_, err = os.Stat(lpath + ".orig")
	require.True(t, os.IsNotExist(err), "the previous lock should not be left next to the new one")
}
