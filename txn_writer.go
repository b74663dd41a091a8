// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pydep

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/gps"
	"github.com/pydep/pydep/gps/verify"
	"github.com/pydep/pydep/internal/fs"
)

// SafeWriter transactionalizes writes of the lock into a pseudo-atomic
// action with rollback: the old lock is kept aside until the new one is in
// place.
//
// It is not impervious to errors (writing to disk is hard), but it should
// guard against non-arcane failure conditions.
type SafeWriter struct {
	Payload *SafeWriterPayload
}

// SafeWriterPayload represents the actions SafeWriter will execute when
// SafeWriter.Write is called.
type SafeWriterPayload struct {
	Lock *Lock
	// Bytes is the serialized Lock.
	Bytes []byte
	// Delta is the change from the previous lock, nil if there was none.
	Delta *verify.ResolutionDelta
}

// HasLock reports whether there is anything to write.
func (payload *SafeWriterPayload) HasLock() bool {
	return payload.Lock != nil
}

// Prepare determines what, if anything, Write will do. The new lock is
// written only if its serialization differs from the old lock's on disk.
func (sw *SafeWriter) Prepare(oldBytes []byte, oldLock, newLock *Lock) error {
	sw.Payload = &SafeWriterPayload{}
	if newLock == nil {
		return nil
	}

	b, err := newLock.MarshalTOML()
	if err != nil {
		return errors.Wrap(err, "failed to serialize the lock")
	}
	if oldBytes != nil && string(oldBytes) == string(b) {
		return nil
	}

	sw.Payload.Lock = newLock
	sw.Payload.Bytes = b
	var prev gps.Resolution
	if oldLock != nil {
		prev = oldLock.Resolution()
	}
	d := verify.DiffResolutions(prev, newLock.Resolution())
	sw.Payload.Delta = &d
	return nil
}

func (payload SafeWriterPayload) validate(root string) error {
	if root == "" {
		return errors.New("root path must be non-empty")
	}
	if is, err := fs.IsDir(root); !is {
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return errors.Errorf("root path %q does not exist", root)
	}
	return nil
}

// Write saves the prepared lock in root.
//
// The lock is first written to a temporary directory. The existing lock is
// then moved aside, and the new one moved into place; if that fails, the
// old lock is restored.
func (sw *SafeWriter) Write(root string) error {
	if sw.Payload == nil {
		return errors.New("Cannot call SafeWriter.Write before SafeWriter.Prepare")
	}
	if err := sw.Payload.validate(root); err != nil {
		return err
	}
	if !sw.Payload.HasLock() {
		return nil
	}

	lpath := filepath.Join(root, LockName)

	td, err := ioutil.TempDir(os.TempDir(), "pydep")
	if err != nil {
		return errors.Wrap(err, "error while creating temp dir for writing the lock")
	}
	defer os.RemoveAll(td)

	if err := ioutil.WriteFile(filepath.Join(td, LockName), sw.Payload.Bytes, 0666); err != nil {
		return errors.Wrap(err, "failed to write lock file to temp dir")
	}

	var restore string
	if _, err := os.Stat(lpath); err == nil {
		restore = filepath.Join(td, LockName+".orig")
		if err := fs.RenameWithFallback(lpath, restore); err != nil {
			return err
		}
	}

	if err := fs.RenameWithFallback(filepath.Join(td, LockName), lpath); err != nil {
		if restore != "" {
			fs.RenameWithFallback(restore, lpath)
		}
		return err
	}
	return nil
}

// PrintPreparedActions writes what Write would do to w.
func (sw *SafeWriter) PrintPreparedActions(w io.Writer) error {
	if sw.Payload == nil || !sw.Payload.HasLock() {
		fmt.Fprintf(w, "%s is up to date\n", LockName)
		return nil
	}
	fmt.Fprintf(w, "Would have written the following changes to %s:\n", LockName)
	if sw.Payload.Delta != nil {
		if _, err := io.WriteString(w, sw.Payload.Delta.Format()); err != nil {
			return errors.Wrap(err, "dry run cannot print the lock delta")
		}
	}
	return nil
}
