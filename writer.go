// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package vdex

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/bpowers/vdex/progunit"
)

// Writer assembles a container.  Sections accumulate in memory (the
// header's size fields cover all of them, so nothing can be emitted
// until the set of units is final) and WriteTo lays the file out in
// one buffered pass.
type Writer struct {
	units          [][]byte
	checksums      []uint32
	verifierDeps   []byte
	quickeningInfo []byte
}

// NewWriter returns an empty container writer.
func NewWriter() *Writer {
	return &Writer{}
}

// AddProgramUnit appends a unit image.  The image is validated with
// the progunit reader and its header checksum becomes the unit's
// entry in the checksum section.
func (w *Writer) AddProgramUnit(image []byte) error {
	u, err := progunit.Parse(image)
	if err != nil {
		return errors.Mark(err, ErrMalformedProgramUnit)
	}
	if u.Size() != uint32(len(image)) {
		return errors.Wrapf(ErrMalformedProgramUnit,
			"image is %d bytes but declares %d", len(image), u.Size())
	}
	w.units = append(w.units, image)
	w.checksums = append(w.checksums, u.Checksum())
	return nil
}

// SetVerifierDeps installs the opaque verifier-dependency bytes.
func (w *Writer) SetVerifierDeps(deps []byte) {
	w.verifierDeps = deps
}

// SetQuickeningInfo installs the quickening-info section, normally
// built with a QuickeningInfoBuilder.
func (w *Writer) SetQuickeningInfo(info []byte) {
	w.quickeningInfo = info
}

func (w *Writer) header() Header {
	var unitsSize uint32
	for _, u := range w.units {
		unitsSize += uint32(len(u))
	}
	return newHeader(uint32(len(w.units)), unitsSize,
		uint32(len(w.verifierDeps)), uint32(len(w.quickeningInfo)))
}

// WriteTo emits the container.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	h := w.header()

	bw := bufio.NewWriter(out)
	var headerBuf [HeaderSize]byte
	if err := h.MarshalTo(headerBuf[:]); err != nil {
		return 0, err
	}
	if _, err := bw.Write(headerBuf[:]); err != nil {
		return 0, errors.Wrap(err, "write header")
	}

	var sumBuf [checksumEntrySize]byte
	for _, sum := range w.checksums {
		binary.LittleEndian.PutUint32(sumBuf[:], sum)
		if _, err := bw.Write(sumBuf[:]); err != nil {
			return 0, errors.Wrap(err, "write checksums")
		}
	}
	for i, u := range w.units {
		if _, err := bw.Write(u); err != nil {
			return 0, errors.Wrapf(err, "write unit %d", i)
		}
	}
	if _, err := bw.Write(w.verifierDeps); err != nil {
		return 0, errors.Wrap(err, "write verifier deps")
	}
	if _, err := bw.Write(w.quickeningInfo); err != nil {
		return 0, errors.Wrap(err, "write quickening info")
	}

	if err := bw.Flush(); err != nil {
		return 0, errors.Wrap(err, "flush")
	}
	return int64(h.ComputedFileSize()), nil
}

// QuickenRecord is one entry of a code item's quickening payload: the
// instruction to rewrite (as a 16-bit code-unit offset) and the
// operand the generic instruction carries.
type QuickenRecord struct {
	CodeUnitOffset uint16
	Operand        uint16
}

// EncodeQuickenRecords serializes a payload bytestream.
func EncodeQuickenRecords(records []QuickenRecord) []byte {
	buf := make([]byte, quickenRecordSize*len(records))
	for i, r := range records {
		binary.LittleEndian.PutUint16(buf[quickenRecordSize*i:], r.CodeUnitOffset)
		binary.LittleEndian.PutUint16(buf[quickenRecordSize*i+2:], r.Operand)
	}
	return buf
}

// QuickeningInfoBuilder produces the version-011 quickening-info
// section: payloads first, then one entry table per unit, then the
// trailing per-unit table-offset words the reader indexes by.
//
// Call BeginUnit once per program unit (in container order), then Add
// or AddNone once per code item (in method-table order).
type QuickeningInfoBuilder struct {
	payloads []byte
	units    [][]qentry
}

type qentry struct {
	debugInfoOff uint32
	payloadOff   uint32
}

// BeginUnit starts the entry table for the next program unit.
func (b *QuickeningInfoBuilder) BeginUnit() {
	b.units = append(b.units, nil)
}

// Add records a quickened code item: its original debug-info offset
// and its payload.
func (b *QuickeningInfoBuilder) Add(debugInfoOff uint32, payload []byte) {
	cur := len(b.units) - 1
	b.units[cur] = append(b.units[cur], qentry{
		debugInfoOff: debugInfoOff,
		payloadOff:   uint32(len(b.payloads)),
	})
	b.payloads = append(b.payloads, payload...)
}

// AddNone records a code item that was never quickened; only its
// original debug-info offset is kept.
func (b *QuickeningInfoBuilder) AddNone(debugInfoOff uint32) {
	cur := len(b.units) - 1
	b.units[cur] = append(b.units[cur], qentry{
		debugInfoOff: debugInfoOff,
		payloadOff:   NoQuickeningInfoOffset,
	})
}

// Bytes lays out the section.  Empty if no unit was ever begun.
func (b *QuickeningInfoBuilder) Bytes() []byte {
	if len(b.units) == 0 {
		return nil
	}

	size := len(b.payloads)
	for _, entries := range b.units {
		size += quickenEntrySize * len(entries)
	}
	size += 4 * len(b.units)

	buf := make([]byte, 0, size)
	buf = append(buf, b.payloads...)

	tableOffs := make([]uint32, len(b.units))
	for u, entries := range b.units {
		tableOffs[u] = uint32(len(buf))
		for _, e := range entries {
			buf = binary.LittleEndian.AppendUint32(buf, e.debugInfoOff)
			buf = binary.LittleEndian.AppendUint32(buf, e.payloadOff)
		}
	}
	for _, off := range tableOffs {
		buf = binary.LittleEndian.AppendUint32(buf, off)
	}
	return buf
}
