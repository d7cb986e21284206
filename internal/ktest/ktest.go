// Copyright 2016 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ktest collects small test helpers shared across the kernel's
// packages, the way internal/testutil serves the teacher's FUSE test
// suites.
package ktest

import "os"

// Verbose reports whether the test binary was run with DEBUG=1,
// adapted from testutil.VerboseTest.
func Verbose() bool {
	return os.Getenv("DEBUG") == "1"
}
