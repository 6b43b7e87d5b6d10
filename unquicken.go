// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package vdex

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/bpowers/vdex/isa"
	"github.com/bpowers/vdex/progunit"
)

// quickenRecordSize is the length of one payload record: a 16-bit
// instruction offset (in code units) and the 16-bit original operand.
const quickenRecordSize = 4

// Unquickener rewrites specialized bytecode in program units back to
// the generic bytecode verification originally saw.  The instruction
// set is a parameter: the container format does not know opcode
// numbers, the VM does.
//
// Unquickening is destructive and not idempotent: after one pass the
// specialized opcodes are gone and payload instruction offsets no
// longer match anything.  Pass each unit through at most once.
type Unquickener struct {
	ISA *isa.InstructionSet

	// DecompileReturnVoidBarrier additionally walks every
	// instruction stream rewriting RETURN_VOID_BARRIER to
	// RETURN_VOID.  This is the slow path: barriers are not covered
	// by payload records, so finding them means decoding each code
	// item end to end.
	DecompileReturnVoidBarrier bool
}

// Unquicken applies quickeningInfo to units, which must all come from
// the same container (in container order) and be backed by a writable
// mapping.
func Unquicken(units []*progunit.Unit, quickeningInfo []byte, decompileReturnVoidBarrier bool) error {
	uq := Unquickener{
		ISA:                        isa.Default(),
		DecompileReturnVoidBarrier: decompileReturnVoidBarrier,
	}
	return uq.UnquickenAll(units, quickeningInfo)
}

// UnquickenOne fully unquickens a single unit; quickeningInfo must
// have been produced for exactly that unit.
func UnquickenOne(unit *progunit.Unit, quickeningInfo []byte, decompileReturnVoidBarrier bool) error {
	return Unquicken([]*progunit.Unit{unit}, quickeningInfo, decompileReturnVoidBarrier)
}

// UnquickenAll is Unquicken with the receiver's instruction set.  On
// error the failing unit is left partially rewritten; callers are
// expected to discard the mapping.
func (uq *Unquickener) UnquickenAll(units []*progunit.Unit, quickeningInfo []byte) error {
	if len(quickeningInfo) == 0 && !uq.DecompileReturnVoidBarrier {
		return nil
	}

	idx, err := buildQuickenIndex(quickeningInfo, len(units))
	if err != nil {
		return err
	}

	for ui, unit := range units {
		if err := uq.unquickenUnit(unit, &idx, ui); err != nil {
			return errors.Wrapf(err, "unit %d", ui)
		}
	}
	return nil
}

func (uq *Unquickener) unquickenUnit(unit *progunit.Unit, idx *quickenIndex, ui int) error {
	count := idx.entryCount(ui)
	if count != 0 && count != unit.MethodCount() {
		return errors.Wrapf(ErrMalformedQuickeningInfo,
			"%d code items but %d index entries", unit.MethodCount(), count)
	}

	for i, n := 0, unit.MethodCount(); i < n; i++ {
		ci, err := unit.CodeItem(unit.CodeItemOffset(i))
		if err != nil {
			return errors.Mark(err, ErrMalformedProgramUnit)
		}

		if uq.DecompileReturnVoidBarrier {
			if err := uq.decompileReturnVoidBarriers(ci); err != nil {
				return errors.Wrapf(err, "code item at %d", ci.Offset())
			}
		}

		if count == 0 {
			continue
		}

		if payload, err := idx.payload(ui, i); err != nil {
			return err
		} else if payload != nil {
			if err := uq.applyPayload(ci, payload); err != nil {
				return errors.Wrapf(err, "code item at %d", ci.Offset())
			}
		}

		// restored whether or not a payload existed
		dbg, _ := idx.entry(ui, i)
		ci.SetDebugInfoOff(dbg)
	}
	return nil
}

// decompileReturnVoidBarriers walks the full instruction stream by
// declared widths, rewriting barriers in place.
func (uq *Unquickener) decompileReturnVoidBarriers(ci progunit.CodeItem) error {
	insns := ci.Insns()
	for off := 0; off < len(insns); {
		op := isa.Opcode(insns[off])
		w := uq.ISA.Width(op)
		if w == 0 {
			return errors.Wrapf(ErrMalformedProgramUnit,
				"undefined opcode %#02x at code unit %d", op, off/2)
		}
		if op == isa.ReturnVoidBarrier {
			insns[off] = byte(isa.ReturnVoid)
		}
		off += 2 * w
	}
	return nil
}

// applyPayload replays one code item's quickening records against its
// instruction stream.
func (uq *Unquickener) applyPayload(ci progunit.CodeItem, payload []byte) error {
	if len(payload)%quickenRecordSize != 0 {
		return errors.Wrapf(ErrMalformedQuickeningInfo,
			"payload of %d bytes is not a whole number of records", len(payload))
	}

	insns := ci.Insns()
	for r := 0; r < len(payload); r += quickenRecordSize {
		cuOff := binary.LittleEndian.Uint16(payload[r:])
		operand := binary.LittleEndian.Uint16(payload[r+2:])

		byteOff := 2 * int(cuOff)
		if byteOff >= len(insns) {
			return errors.Wrapf(ErrMalformedQuickeningInfo,
				"record names code unit %d, stream has %d", cuOff, len(insns)/2)
		}

		op := isa.Opcode(insns[byteOff])
		generic, ok := uq.ISA.Generic(op)
		if !ok {
			return errors.Wrapf(ErrMalformedQuickeningInfo,
				"opcode %#02x at code unit %d is not specialized", op, cuOff)
		}

		insns[byteOff] = byte(generic)
		if uq.ISA.HasQuickenedOperand(op) {
			if byteOff+4 > len(insns) {
				return errors.Wrapf(ErrMalformedQuickeningInfo,
					"no room for operand of code unit %d", cuOff)
			}
			binary.LittleEndian.PutUint16(insns[byteOff+2:], operand)
		}
	}
	return nil
}

// CanEncodeQuickenedData reports whether a unit's structure admits
// quickening payload encoding: records address instructions with
// 16-bit code-unit offsets, so every instruction stream must fit, and
// the unit must not have opted out.
func CanEncodeQuickenedData(unit *progunit.Unit) bool {
	if unit.Flags()&progunit.FlagNoQuicken != 0 {
		return false
	}
	for i, n := 0, unit.MethodCount(); i < n; i++ {
		ci, err := unit.CodeItem(unit.CodeItemOffset(i))
		if err != nil {
			return false
		}
		if ci.InsnsSize() > 0xFFFF {
			return false
		}
	}
	return true
}
