// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package vdex

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrTooShort means the mapping is smaller than the header, or
	// smaller than the file size the header implies.
	ErrTooShort = errors.New("vdex: file too short")

	// ErrBadMagic means the first four bytes are not `vdex`.  The
	// surrounding runtime deliberately stamps `wdex` over slots that
	// hold no valid container; those read back as ErrBadMagic too.
	ErrBadMagic = errors.New("vdex: bad magic")

	// ErrBadVersion means the version field is not the one this
	// reader supports.
	ErrBadVersion = errors.New("vdex: unsupported version")

	// ErrMalformedProgramUnit means a program unit was rejected by
	// the progunit reader, or its declared size overruns the
	// program-unit section.
	ErrMalformedProgramUnit = errors.New("vdex: malformed program unit")

	// ErrMalformedQuickeningInfo means the quickening-info section
	// references bytes outside itself, or an unquickening payload
	// names an invalid instruction offset or unknown opcode.
	ErrMalformedQuickeningInfo = errors.New("vdex: malformed quickening info")
)
