// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package vdex

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

const (
	// HeaderSize is the fixed length of the container header.
	HeaderSize = 24

	checksumEntrySize = 4
)

var (
	// Magic is the first four bytes of every container.
	Magic = [4]byte{'v', 'd', 'e', 'x'}

	// Version is the only layout revision this reader accepts.  `011`
	// introduced the lookup-friendly encoding for quickening info.
	Version = [4]byte{'0', '1', '1', '\x00'}

	// InvalidMagic is stamped by the runtime over slots that hold no
	// valid container.  It parses as ErrBadMagic, same as garbage.
	InvalidMagic = [4]byte{'w', 'd', 'e', 'x'}
)

// Header is the fixed-length prefix of a container.
type Header struct {
	Magic              [4]byte
	Version            [4]byte
	NumProgramUnits    uint32
	ProgramUnitsSize   uint32
	VerifierDepsSize   uint32
	QuickeningInfoSize uint32
}

func newHeader(numUnits, unitsSize, depsSize, quickenSize uint32) Header {
	return Header{
		Magic:              Magic,
		Version:            Version,
		NumProgramUnits:    numUnits,
		ProgramUnitsSize:   unitsSize,
		VerifierDepsSize:   depsSize,
		QuickeningInfoSize: quickenSize,
	}
}

func (h Header) IsMagicValid() bool {
	return h.Magic == Magic
}

func (h Header) IsVersionValid() bool {
	return h.Version == Version
}

func (h Header) IsValid() bool {
	return h.IsMagicValid() && h.IsVersionValid()
}

// ChecksumsSize is the byte length of the checksum section.
func (h Header) ChecksumsSize() uint32 {
	return checksumEntrySize * h.NumProgramUnits
}

// ComputedFileSize is the total container length the header implies.
func (h Header) ComputedFileSize() uint64 {
	return uint64(HeaderSize) +
		uint64(h.ChecksumsSize()) +
		uint64(h.ProgramUnitsSize) +
		uint64(h.VerifierDepsSize) +
		uint64(h.QuickeningInfoSize)
}

// UnmarshalBytes parses the first HeaderSize bytes of data.
func (h *Header) UnmarshalBytes(data []byte) error {
	if len(data) < HeaderSize {
		return errors.Wrapf(ErrTooShort, "header: %d < %d", len(data), HeaderSize)
	}
	data = data[:HeaderSize]

	copy(h.Magic[:], data[0:4])
	if !h.IsMagicValid() {
		return errors.Wrapf(ErrBadMagic, "%q", h.Magic[:])
	}

	copy(h.Version[:], data[4:8])
	if !h.IsVersionValid() {
		return errors.Wrapf(ErrBadVersion, "%q (want %q)", h.Version[:], Version[:])
	}

	h.NumProgramUnits = binary.LittleEndian.Uint32(data[8:12])
	h.ProgramUnitsSize = binary.LittleEndian.Uint32(data[12:16])
	h.VerifierDepsSize = binary.LittleEndian.Uint32(data[16:20])
	h.QuickeningInfoSize = binary.LittleEndian.Uint32(data[20:24])

	return nil
}

// MarshalTo writes the header into buf, which must be at least
// HeaderSize bytes.
func (h Header) MarshalTo(buf []byte) error {
	if len(buf) < HeaderSize {
		return errors.Newf("vdex: header buffer too short: %d < %d", len(buf), HeaderSize)
	}

	copy(buf[0:4], h.Magic[:])
	copy(buf[4:8], h.Version[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.NumProgramUnits)
	binary.LittleEndian.PutUint32(buf[12:16], h.ProgramUnitsSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.VerifierDepsSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.QuickeningInfoSize)

	return nil
}
