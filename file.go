// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package vdex

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/bpowers/vdex/internal/mmap"
	"github.com/bpowers/vdex/progunit"
)

// Options control how a container is opened.
type Options struct {
	// Writable maps the file read-write, which is required for
	// in-place unquickening.
	Writable bool
	// Low4GB asks for the mapping to be placed below 4GB, for
	// callers that embed 32-bit pointers to the region.
	Low4GB bool
	// Unquicken rewrites every specialized opcode in every program
	// unit back to its generic form immediately after validation.
	// Implies Writable.
	Unquicken bool
}

// File is an open container.  All accessors return views over the
// mapped bytes; none of them copy.  A read-only File may be shared
// freely across goroutines.
type File struct {
	m    *mmap.Mapping
	name string
	h    Header
	qi   quickenIndex
}

// Open maps and validates the named container.
func Open(path string, opts Options) (*File, error) {
	if opts.Unquicken {
		opts.Writable = true
	}
	m, err := mmap.Open(path, mmap.Options{Writable: opts.Writable, Low4GB: opts.Low4GB})
	if err != nil {
		return nil, err
	}
	return newFile(m, path, opts)
}

// OpenFd maps length bytes of an already-open descriptor.  The caller
// keeps ownership of fd.  name is only used in diagnostics.
func OpenFd(fd uintptr, length int64, name string, opts Options) (*File, error) {
	if opts.Unquicken {
		opts.Writable = true
	}
	m, err := mmap.OpenFd(fd, length, mmap.Options{Writable: opts.Writable, Low4GB: opts.Low4GB})
	if err != nil {
		return nil, err
	}
	return newFile(m, name, opts)
}

func newFile(m *mmap.Mapping, name string, opts Options) (*File, error) {
	f := &File{m: m, name: name}

	if m.Len() < HeaderSize {
		_ = m.Close()
		return nil, errors.Wrapf(ErrTooShort, "%s: %d bytes", name, m.Len())
	}
	if err := f.h.UnmarshalBytes(m.Data()); err != nil {
		_ = m.Close()
		return nil, errors.Wrapf(err, "%s", name)
	}
	if want := f.h.ComputedFileSize(); uint64(m.Len()) < want {
		_ = m.Close()
		return nil, errors.Wrapf(ErrTooShort, "%s: %d bytes, header implies %d", name, m.Len(), want)
	}

	qi, err := buildQuickenIndex(f.QuickeningInfo(), int(f.h.NumProgramUnits))
	if err != nil {
		_ = m.Close()
		return nil, errors.Wrapf(err, "%s", name)
	}
	f.qi = qi

	if opts.Unquicken {
		units, err := f.OpenAllProgramUnits()
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		if err := Unquicken(units, f.QuickeningInfo(), false); err != nil {
			_ = m.Close()
			return nil, errors.Wrapf(err, "%s", name)
		}
	}

	return f, nil
}

// Close releases the mapping.  Every view handed out by this File is
// invalid afterwards.
func (f *File) Close() error {
	return f.m.Close()
}

// Header returns the parsed fixed-length prefix.
func (f *File) Header() Header {
	return f.h
}

// Bytes is the whole mapped file.
func (f *File) Bytes() []byte {
	return f.m.Data()
}

// IsValid mirrors the runtime's slot check: the mapping holds at
// least a header and the header's magic and version check out.
// Always true for a File returned by Open.
func (f *File) IsValid() bool {
	return f.m.Len() >= HeaderSize && f.h.IsValid()
}

func (f *File) checksumsOff() uint32 {
	return HeaderSize
}

func (f *File) programUnitsOff() uint32 {
	return HeaderSize + f.h.ChecksumsSize()
}

func (f *File) verifierDepsOff() uint32 {
	return f.programUnitsOff() + f.h.ProgramUnitsSize
}

func (f *File) quickeningInfoOff() uint32 {
	return f.verifierDepsOff() + f.h.VerifierDepsSize
}

// Checksum returns the location checksum of program unit u.  u must
// be in [0, NumProgramUnits).
func (f *File) Checksum(u int) uint32 {
	if u < 0 || u >= int(f.h.NumProgramUnits) {
		panic("vdex: checksum index out of range")
	}
	return binary.LittleEndian.Uint32(f.m.Data()[f.checksumsOff()+uint32(4*u):])
}

// Checksums decodes the whole checksum section.
func (f *File) Checksums() []uint32 {
	sums := make([]uint32, f.h.NumProgramUnits)
	for i := range sums {
		sums[i] = f.Checksum(i)
	}
	return sums
}

// ProgramUnitsBlob is the concatenated program-unit images.
func (f *File) ProgramUnitsBlob() []byte {
	off := f.programUnitsOff()
	return f.m.Data()[off : off+f.h.ProgramUnitsSize]
}

// VerifierDeps is the opaque verifier-dependency section.
func (f *File) VerifierDeps() []byte {
	off := f.verifierDepsOff()
	return f.m.Data()[off : off+f.h.VerifierDepsSize]
}

// QuickeningInfo is the raw quickening-info section.
func (f *File) QuickeningInfo() []byte {
	off := f.quickeningInfoOff()
	return f.m.Data()[off : off+f.h.QuickeningInfoSize]
}

// FirstProgramUnit returns a cursor positioned on the first program
// unit, or nil if the container holds none.  The cursor is the bytes
// from the unit's header to the end of the program-unit section.
func (f *File) FirstProgramUnit() []byte {
	return f.NextProgramUnit(nil)
}

// NextProgramUnit advances a cursor obtained from FirstProgramUnit or
// a previous call.  A nil cursor positions on the first unit.  Returns
// nil once no unit remains, or if the current unit's declared size
// would run past the section.
func (f *File) NextProgramUnit(cursor []byte) []byte {
	blob := f.ProgramUnitsBlob()
	if cursor == nil {
		if len(blob) == 0 {
			return nil
		}
		return blob
	}

	off := len(blob) - len(cursor)
	size, err := progunit.SizeAt(cursor)
	if err != nil {
		return nil
	}
	next := off + int(size)
	if next >= len(blob) {
		return nil
	}
	return blob[next:]
}

// OpenAllProgramUnits parses every embedded unit, in container order.
// The returned units alias the mapping.
func (f *File) OpenAllProgramUnits() ([]*progunit.Unit, error) {
	blob := f.ProgramUnitsBlob()
	units := make([]*progunit.Unit, 0, f.h.NumProgramUnits)

	off := 0
	for off < len(blob) {
		u, err := progunit.Parse(blob[off:])
		if err != nil {
			return nil, errors.Mark(
				errors.Wrapf(err, "%s: program unit %d at offset %d", f.name, len(units), off),
				ErrMalformedProgramUnit)
		}
		units = append(units, u)
		off += int(u.Size())
	}
	if len(units) != int(f.h.NumProgramUnits) {
		return nil, errors.Wrapf(ErrMalformedProgramUnit,
			"%s: header declares %d units, section holds %d", f.name, f.h.NumProgramUnits, len(units))
	}
	return units, nil
}

// unitIndex resolves a unit back to its position in the container by
// walking the cursor and comparing view identity.  Units per file are
// few, so linear is fine.
func (f *File) unitIndex(u *progunit.Unit) int {
	b := u.Bytes()
	i := 0
	for cur := f.FirstProgramUnit(); cur != nil; cur = f.NextProgramUnit(cur) {
		if len(b) > 0 && len(cur) > 0 && &b[0] == &cur[0] {
			return i
		}
		i++
	}
	panic("vdex: program unit is not from this container")
}

// DebugInfoOffset returns the original debug-info offset recorded for
// the code item at codeItemOff within u.  If the container carries no
// quickening table for the unit, the code item's current value is the
// answer.
func (f *File) DebugInfoOffset(u *progunit.Unit, codeItemOff uint32) (uint32, error) {
	ui := f.unitIndex(u)
	ord, ok := u.OrdinalOf(codeItemOff)
	if !ok {
		panic("vdex: offset does not name a code item")
	}

	if f.qi.entryCount(ui) == 0 {
		ci, err := u.CodeItem(codeItemOff)
		if err != nil {
			return 0, errors.Mark(err, ErrMalformedProgramUnit)
		}
		return ci.DebugInfoOff(), nil
	}
	if f.qi.entryCount(ui) != u.MethodCount() {
		return 0, errors.Wrapf(ErrMalformedQuickeningInfo,
			"%s: unit %d has %d code items but %d index entries",
			f.name, ui, u.MethodCount(), f.qi.entryCount(ui))
	}

	dbg, _ := f.qi.entry(ui, ord)
	return dbg, nil
}

// QuickenedPayload returns the quickening bytestream recorded for the
// code item at codeItemOff within u, or nil if the code item was
// never quickened.
func (f *File) QuickenedPayload(u *progunit.Unit, codeItemOff uint32) ([]byte, error) {
	ui := f.unitIndex(u)
	ord, ok := u.OrdinalOf(codeItemOff)
	if !ok {
		panic("vdex: offset does not name a code item")
	}

	if f.qi.entryCount(ui) == 0 {
		return nil, nil
	}
	if f.qi.entryCount(ui) != u.MethodCount() {
		return nil, errors.Wrapf(ErrMalformedQuickeningInfo,
			"%s: unit %d has %d code items but %d index entries",
			f.name, ui, u.MethodCount(), f.qi.entryCount(ui))
	}
	return f.qi.payload(ui, ord)
}
