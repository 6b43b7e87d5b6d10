// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap owns the file mapping a container lives in for the
// container's whole lifetime.  Views handed out by the vdex package
// alias the mapped bytes, so a Mapping must not be closed while any
// view derived from it is still in use.
package mmap

import (
	"os"
	"sync/atomic"
	"syscall"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Options constrain how the file is mapped.
type Options struct {
	// Writable maps the region PROT_READ|PROT_WRITE and shared, so
	// stores hit the underlying file.
	Writable bool
	// Low4GB asks the kernel to place the mapping below 4GB.  Only
	// honored where the platform supports it; elsewhere it is a
	// no-op.
	Low4GB bool
}

// Mapping is a mapped region backed by a file.
type Mapping struct {
	data     []byte
	writable bool
	closed   atomic.Bool
}

// Open maps the named file.
func Open(path string, opts Options) (*Mapping, error) {
	flag := os.O_RDONLY
	if opts.Writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "os.OpenFile(%s)", path)
	}
	defer func() {
		// the mapping outlives the descriptor
		_ = f.Close()
	}()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "f.Stat(%s)", path)
	}

	return OpenFd(f.Fd(), st.Size(), opts)
}

// OpenFd maps length bytes of an already-open descriptor.  The caller
// retains ownership of fd; it may be closed as soon as OpenFd returns.
func OpenFd(fd uintptr, length int64, opts Options) (*Mapping, error) {
	if length < 0 {
		return nil, errors.Newf("mmap: negative length %d", length)
	}
	if length == 0 {
		// zero-length mappings are rejected by the kernel; an empty
		// file is represented by an empty (but valid) Mapping
		return &Mapping{writable: opts.Writable}, nil
	}

	prot := unix.PROT_READ
	if opts.Writable {
		prot |= unix.PROT_WRITE
	}
	flags := unix.MAP_SHARED
	if opts.Low4GB {
		flags |= map32Bit
	}

	data, err := unix.Mmap(int(fd), 0, int(length), prot, flags)
	if err != nil {
		return nil, errors.Wrapf(err, "unix.Mmap(len: %d)", length)
	}

	if err := unix.Madvise(data, syscall.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return nil, errors.Wrap(err, "madvise")
	}

	return &Mapping{
		data:     data,
		writable: opts.Writable,
	}, nil
}

// Data returns the mapped bytes.  Callers must not write unless the
// mapping was opened writable.
func (m *Mapping) Data() []byte {
	return m.data
}

func (m *Mapping) Len() int {
	return len(m.data)
}

func (m *Mapping) Writable() bool {
	return m.writable
}

// Close unmaps the region.  Safe to call more than once.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return errors.Wrap(err, "unix.Munmap")
	}
	return nil
}
