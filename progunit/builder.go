// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package progunit

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dgryski/go-farm"
)

// Builder assembles a program-unit image in memory.  It exists for
// producers and tests; the runtime only ever reads units out of a
// container.
type Builder struct {
	flags   uint32
	padTo   uint32
	methods []builderMethod
}

type builderMethod struct {
	debugInfoOff uint32
	insns        []uint16
}

func (b *Builder) SetFlags(flags uint32) {
	b.flags = flags
}

// PadTo zero-pads the image out to size bytes, if the assembled image
// would be smaller.  The declared file size includes the padding.
func (b *Builder) PadTo(size uint32) {
	b.padTo = size
}

// AddMethod appends a code item; insns are 16-bit code units.  Code
// item offsets are only final once Build runs (the method table grows
// with each method); read them back via Unit.CodeItemOffset.
func (b *Builder) AddMethod(debugInfoOff uint32, insns []uint16) {
	b.methods = append(b.methods, builderMethod{
		debugInfoOff: debugInfoOff,
		insns:        insns,
	})
}

// Build emits the image, computing the header checksum.
func (b *Builder) Build() ([]byte, error) {
	// method-table entries added after a method shift every offset,
	// so lay out against the final method count
	offs := make([]uint32, len(b.methods))
	off := uint32(HeaderSize + 4*len(b.methods))
	for i, m := range b.methods {
		offs[i] = off
		off += CodeItemHeaderSize + 2*uint32(len(m.insns))
		off = (off + 3) &^ 3
	}
	size := off
	if b.padTo > size {
		size = b.padTo
	}

	data := make([]byte, size)
	copy(data[0:4], Magic[:])
	binary.LittleEndian.PutUint32(data[8:12], size)
	binary.LittleEndian.PutUint32(data[12:16], b.flags)
	binary.LittleEndian.PutUint32(data[16:20], uint32(len(b.methods)))
	binary.LittleEndian.PutUint32(data[20:24], HeaderSize)

	for i, m := range b.methods {
		binary.LittleEndian.PutUint32(data[HeaderSize+4*i:], offs[i])
		c := data[offs[i]:]
		binary.LittleEndian.PutUint32(c[debugInfoOffOff:], m.debugInfoOff)
		binary.LittleEndian.PutUint32(c[insnsSizeOff:], uint32(len(m.insns)))
		for j, cu := range m.insns {
			binary.LittleEndian.PutUint16(c[CodeItemHeaderSize+2*j:], cu)
		}
	}

	binary.LittleEndian.PutUint32(data[4:8], farm.Fingerprint32(data[8:]))

	if _, err := Parse(data); err != nil {
		return nil, errors.Wrap(err, "built image does not parse")
	}
	return data, nil
}
