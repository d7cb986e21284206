// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"strings"

	"github.com/xv6go/xv6go/kerrno"
)

// skipelem splits the next path element off the front of path, returning
// the element, the rest of the path, and whether an element was found.
// Grounded on skipelem.
func skipelem(path string) (elem, rest string, ok bool) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", "", false
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		elem = path
		path = ""
	} else {
		elem = path[:i]
		path = path[i:]
	}
	if len(elem) > DirSiz {
		elem = elem[:DirSiz]
	}
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return elem, path, true
}

// namex walks path one element at a time starting from cwd (or the root
// if path is absolute), holding at most one inode's lock at a time so
// that a cycle in the directory tree can never deadlock the walker.
// When parent is true, it returns the unlocked parent directory of the
// final element and the final element's name instead of resolving it.
// Grounded on namex.
func (t *Tree) namex(path string, cwd *Inode, parent bool, holderID int) (*Inode, string, error) {
	var ip *Inode
	if len(path) > 0 && path[0] == '/' {
		ip = t.Iget(RootIno)
	} else if cwd != nil {
		ip = t.Dup(cwd)
	} else {
		ip = t.Iget(RootIno)
	}

	elem, rest, ok := skipelem(path)
	for ok {
		if err := t.Ilock(ip, holderID); err != nil {
			t.Iput(ip, holderID)
			return nil, "", err
		}
		if ip.Type != TypeDir {
			t.Iunlock(ip, holderID)
			t.Iput(ip, holderID)
			return nil, "", kerrno.ENOTDIR
		}

		if parent && rest == "" {
			// Final element, and caller wants the parent: stop here
			// with ip locked... unlock it per namex's uniform
			// contract (parent returned unlocked, referenced).
			t.Iunlock(ip, holderID)
			return ip, elem, nil
		}

		next, _, err := t.Dirlookup(ip, elem)
		t.Iunlock(ip, holderID)
		if err != nil {
			t.Iput(ip, holderID)
			return nil, "", err
		}
		t.Iput(ip, holderID)
		ip = next

		elem, rest, ok = skipelem(rest)
	}
	if parent {
		// path had no elements at all (e.g. "/"): there is no parent.
		t.Iput(ip, holderID)
		return nil, "", kerrno.EINVAL
	}
	return ip, elem, nil
}

// Namei resolves path to its inode, unlocked and referenced.
func (t *Tree) Namei(path string, cwd *Inode, holderID int) (*Inode, error) {
	ip, _, err := t.namex(path, cwd, false, holderID)
	return ip, err
}

// NameiParent resolves path's parent directory, unlocked and
// referenced, and returns the final path element's name.
func (t *Tree) NameiParent(path string, cwd *Inode, holderID int) (*Inode, string, error) {
	return t.namex(path, cwd, true, holderID)
}
