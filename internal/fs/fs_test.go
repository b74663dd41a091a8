// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestRenameWithFallback(t *testing.T) {
	dir, err := ioutil.TempDir("", "pydep")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	if err = RenameWithFallback(filepath.Join("does", "not", "exists"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected an error for non existing file, but got nil")
	}

	srcpath := filepath.Join(dir, "src")
	if err := ioutil.WriteFile(srcpath, []byte("version = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	dstpath := filepath.Join(dir, "dst")
	if err = RenameWithFallback(srcpath, dstpath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(srcpath); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be gone, got %v", srcpath, err)
	}
	got, err := ioutil.ReadFile(dstpath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "version = 1\n" {
		t.Fatalf("unexpected contents after rename: %q", got)
	}

	if err = RenameWithFallback(dir, filepath.Join(os.TempDir(), "pydep-dir")); err == nil {
		t.Fatal("expected an error renaming a directory, but got nil")
	}
}

func TestCopyFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "pydep")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "src")
	if err := ioutil.WriteFile(src, []byte("cool"), 0600); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst")
	if err := ioutil.WriteFile(dst, []byte("much longer content"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := copyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	got, err := ioutil.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "cool" {
		t.Fatalf("expected %q, got %q", "cool", got)
	}
}

func TestIsDir(t *testing.T) {
	dir, err := ioutil.TempDir("", "pydep")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "file")
	if err := ioutil.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := map[string]struct {
		exists bool
		err    bool
	}{
		dir:                            {true, false},
		file:                           {false, true},
		filepath.Join(dir, "notexist"): {false, true},
	}

	for f, want := range tests {
		got, err := IsDir(f)
		if err != nil && !want.err {
			t.Fatalf("expected no error, got %v", err)
		}
		if err == nil && want.err {
			t.Fatalf("expected error for %s, got none", f)
		}
		if got != want.exists {
			t.Fatalf("expected %t for %s, got %t", want.exists, f, got)
		}
	}
}
