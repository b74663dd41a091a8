// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// skipDirs are directories that tools create inside a source tree and that
// never affect what gets built from it.
var skipDirs = map[string]bool{
	".bzr":          true,
	".git":          true,
	".hg":           true,
	".svn":          true,
	".venv":         true,
	".tox":          true,
	".nox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
	".ruff_cache":   true,
	"__pycache__":   true,
}

// TreeDigest returns a deterministic sha256 of the tree rooted at root.
//
// Pathnames are hashed relative to root, so moving the tree does not change
// its digest. Every node contributes its pathname; symlinks add their
// referent, and regular files their size and contents. VCS metadata,
// virtualenvs, tool caches and *.egg-info directories are skipped.
func TreeDigest(root string) (string, error) {
	root = filepath.Clean(root)
	h := sha256.New()

	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(p string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			if de.IsDir() && (skipDirs[de.Name()] || strings.HasSuffix(de.Name(), ".egg-info")) {
				return godirwalk.SkipThis
			}

			io.WriteString(h, filepath.ToSlash(rel))
			h.Write([]byte{0})

			switch {
			case de.IsSymlink():
				referent, err := os.Readlink(p)
				if err != nil {
					return errors.Wrap(err, "cannot Readlink")
				}
				io.WriteString(h, referent)
			case de.IsRegular():
				return hashFile(h, p)
			}
			return nil
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "cannot digest %s", root)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return errors.Wrap(err, "cannot Open")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "cannot Stat")
	}
	io.WriteString(w, strconv.FormatInt(fi.Size(), 10))
	_, err = io.Copy(w, f)
	return errors.Wrap(err, "cannot Copy")
}
