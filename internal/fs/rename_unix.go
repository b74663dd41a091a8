// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !windows

package fs

import (
	"os"
	"syscall"
)

// crossDevice reports whether a failed rename crossed filesystems.
// syscall.EXDEV is the common name for the cross device link error, whose
// text varies across operating systems.
func crossDevice(err error) bool {
	terr, ok := err.(*os.LinkError)
	return ok && terr.Err == syscall.EXDEV
}
