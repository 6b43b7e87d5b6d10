// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package progunit reads program-unit images, the VM's unit of class
// grouping embedded in vdex containers.
//
// Image layout (little-endian):
//
//	header          24 bytes: magic `unit`, checksum, file size,
//	                flags, method count, method-table offset
//	method table    one uint32 code-item offset per method
//	code items      16-byte header (registers, ins, outs, tries,
//	                debug_info_off, insns_size) followed by insns_size
//	                16-bit code units
//
// A Unit borrows the bytes it was parsed from; mutating accessors
// (SetDebugInfoOff, writable Insns) store straight through to the
// backing region, which is how in-place unquickening works.
package progunit

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dgryski/go-farm"
)

const (
	// HeaderSize is the fixed length of a unit header.
	HeaderSize = 24

	// CodeItemHeaderSize precedes every instruction stream.
	CodeItemHeaderSize = 16

	debugInfoOffOff = 8
	insnsSizeOff    = 12
)

// FlagNoQuicken marks a unit whose producer opted out of quickening;
// such units never admit quickening payload encoding.
const FlagNoQuicken uint32 = 1 << 0

// Magic is the first four bytes of every unit image.
var Magic = [4]byte{'u', 'n', 'i', 't'}

// ErrMalformed is returned for any structurally invalid image.
var ErrMalformed = errors.New("progunit: malformed image")

// Unit is a parsed program-unit image.  It aliases the bytes given to
// Parse and must not outlive them.
type Unit struct {
	data []byte // exactly the image: header through declared size
}

// SizeAt reads the declared image size at the front of data without
// parsing the rest.  The container's program-unit cursor uses it to
// step from one concatenated image to the next.
func SizeAt(data []byte) (uint32, error) {
	if len(data) < HeaderSize {
		return 0, errors.Wrapf(ErrMalformed, "truncated header: %d bytes", len(data))
	}
	if [4]byte(data[0:4]) != Magic {
		return 0, errors.Wrapf(ErrMalformed, "bad magic %q", data[0:4])
	}
	size := binary.LittleEndian.Uint32(data[8:12])
	if size < HeaderSize {
		return 0, errors.Wrapf(ErrMalformed, "declared size %d < header", size)
	}
	return size, nil
}

// Parse validates the image at the front of data and returns a Unit
// over exactly the declared size.  Trailing bytes (the next unit in a
// container) are ignored.  The stored checksum is deliberately not
// verified here: in-place unquickening rewrites instruction bytes and
// debug-info offsets, and mutated units must still parse; callers
// that want the producer-time check use VerifyChecksum.
func Parse(data []byte) (*Unit, error) {
	size, err := SizeAt(data)
	if err != nil {
		return nil, err
	}
	if uint64(size) > uint64(len(data)) {
		return nil, errors.Wrapf(ErrMalformed, "declared size %d > available %d", size, len(data))
	}
	u := &Unit{data: data[:size]}

	count := u.MethodCount()
	tableOff := u.methodTableOff()
	if uint64(tableOff)+4*uint64(count) > uint64(size) {
		return nil, errors.Wrapf(ErrMalformed,
			"method table [%d, +%d) escapes image of %d bytes", tableOff, 4*count, size)
	}
	for i := 0; i < count; i++ {
		if _, err := u.CodeItem(u.CodeItemOffset(i)); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// Bytes is the whole image.
func (u *Unit) Bytes() []byte {
	return u.data
}

// Size is the declared (and actual) image length.
func (u *Unit) Size() uint32 {
	return uint32(len(u.data))
}

// Checksum is the value stored in the header; the container's
// checksum section repeats it per unit.
func (u *Unit) Checksum() uint32 {
	return binary.LittleEndian.Uint32(u.data[4:8])
}

// ComputeChecksum hashes everything after the checksum field.
func (u *Unit) ComputeChecksum() uint32 {
	return farm.Fingerprint32(u.data[8:])
}

// VerifyChecksum reports whether the stored checksum still matches
// the image bytes.  False is expected after unquickening.
func (u *Unit) VerifyChecksum() bool {
	return u.Checksum() == u.ComputeChecksum()
}

func (u *Unit) Flags() uint32 {
	return binary.LittleEndian.Uint32(u.data[12:16])
}

// MethodCount is the number of code items in the image.
func (u *Unit) MethodCount() int {
	return int(binary.LittleEndian.Uint32(u.data[16:20]))
}

func (u *Unit) methodTableOff() uint32 {
	return binary.LittleEndian.Uint32(u.data[20:24])
}

// CodeItemOffset returns the image-relative offset of the i-th code
// item.  i must be in [0, MethodCount()).
func (u *Unit) CodeItemOffset(i int) uint32 {
	return binary.LittleEndian.Uint32(u.data[u.methodTableOff()+uint32(4*i):])
}

// OrdinalOf maps a code-item offset back to its position in the
// method table.
func (u *Unit) OrdinalOf(codeItemOff uint32) (int, bool) {
	for i, n := 0, u.MethodCount(); i < n; i++ {
		if u.CodeItemOffset(i) == codeItemOff {
			return i, true
		}
	}
	return 0, false
}

// CodeItem resolves the code item at an image-relative offset.
func (u *Unit) CodeItem(off uint32) (CodeItem, error) {
	if uint64(off)+CodeItemHeaderSize > uint64(len(u.data)) {
		return CodeItem{}, errors.Wrapf(ErrMalformed, "code item at %d escapes image", off)
	}
	insnsSize := binary.LittleEndian.Uint32(u.data[off+insnsSizeOff:])
	end := uint64(off) + CodeItemHeaderSize + 2*uint64(insnsSize)
	if end > uint64(len(u.data)) {
		return CodeItem{}, errors.Wrapf(ErrMalformed,
			"code item at %d: %d code units escape image", off, insnsSize)
	}
	return CodeItem{
		data: u.data[off:end],
		off:  off,
	}, nil
}

// CodeItem is one method body: a 16-byte header plus its instruction
// stream.  Like Unit it aliases the image bytes.
type CodeItem struct {
	data []byte
	off  uint32
}

// Offset is the image-relative offset of the code item.
func (c CodeItem) Offset() uint32 {
	return c.off
}

func (c CodeItem) RegistersSize() uint16 {
	return binary.LittleEndian.Uint16(c.data[0:2])
}

func (c CodeItem) DebugInfoOff() uint32 {
	return binary.LittleEndian.Uint32(c.data[debugInfoOffOff:])
}

// SetDebugInfoOff patches the debug-info offset field in place.  The
// backing region must be writable.
func (c CodeItem) SetDebugInfoOff(v uint32) {
	binary.LittleEndian.PutUint32(c.data[debugInfoOffOff:], v)
}

// InsnsSize is the instruction-stream length in 16-bit code units.
func (c CodeItem) InsnsSize() uint32 {
	return binary.LittleEndian.Uint32(c.data[insnsSizeOff:])
}

// Insns is the raw instruction stream, 2 bytes per code unit.
// Writing through it mutates the image.
func (c CodeItem) Insns() []byte {
	return c.data[CodeItemHeaderSize:]
}
