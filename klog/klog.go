// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package klog is the kernel-wide log sink. It is a thin wrapper around
// log.Logger: every package below logs through here instead of calling
// fmt.Printf or log.Printf directly, so output can be redirected or
// silenced in tests with a single SetOutput call.
package klog

import (
	"io"
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

// SetOutput redirects kernel log output, e.g. to io.Discard in tests.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func Infof(format string, args ...any) {
	std.Printf("[info] "+format, args...)
}

func Warnf(format string, args ...any) {
	std.Printf("[warn] "+format, args...)
}

func Errorf(format string, args ...any) {
	std.Printf("[error] "+format, args...)
}
