// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func mkTree(t *testing.T, files map[string]string) string {
	dir, err := ioutil.TempDir("", "pydep-digest")
	if err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := ioutil.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func mustDigest(t *testing.T, dir string) string {
	d, err := TreeDigest(dir)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestTreeDigest(t *testing.T) {
	files := map[string]string{
		"pyproject.toml":      "[project]\nname = \"lib\"\n",
		"src/lib/__init__.py": "VERSION = 1\n",
	}
	a := mkTree(t, files)
	defer os.RemoveAll(a)
	b := mkTree(t, files)
	defer os.RemoveAll(b)

	base := mustDigest(t, a)
	if len(base) != 64 {
		t.Fatalf("expected a hex sha256, got %q", base)
	}
	if got := mustDigest(t, b); got != base {
		t.Fatalf("identical trees at different paths should share a digest:\n\t%s\n\t%s", base, got)
	}

	// Caches and VCS metadata do not count.
	for _, name := range []string{
		"src/lib/__pycache__/__init__.cpython-312.pyc",
		".git/HEAD",
		"src/lib.egg-info/PKG-INFO",
	} {
		p := filepath.Join(a, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := ioutil.WriteFile(p, []byte("noise"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if got := mustDigest(t, a); got != base {
		t.Fatalf("ignored directories changed the digest")
	}

	if err := ioutil.WriteFile(filepath.Join(a, "src", "lib", "__init__.py"), []byte("VERSION = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	changed := mustDigest(t, a)
	if changed == base {
		t.Fatal("changing a file should change the digest")
	}

	if err := os.Rename(filepath.Join(b, "src", "lib", "__init__.py"), filepath.Join(b, "src", "lib", "core.py")); err != nil {
		t.Fatal(err)
	}
	if got := mustDigest(t, b); got == base {
		t.Fatal("renaming a file should change the digest")
	}

	if _, err := TreeDigest(filepath.Join(a, "missing")); err == nil {
		t.Fatal("expected an error for a missing tree")
	}
}
