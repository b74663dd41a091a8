// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build windows

package fs

import (
	"os"
	"syscall"
)

// crossDevice reports whether a failed rename crossed volumes. Windows may
// report ERROR_NOT_SAME_DEVICE (0x11) rather than EXDEV.
func crossDevice(err error) bool {
	terr, ok := err.(*os.LinkError)
	if !ok {
		return false
	}
	if terr.Err == syscall.EXDEV {
		return true
	}
	errno, ok := terr.Err.(syscall.Errno)
	return ok && errno == 0x11
}
