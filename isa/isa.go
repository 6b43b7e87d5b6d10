// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package isa holds the VM's instruction-set definition: instruction
// widths and the specialized (quickened) to generic opcode table.  The
// vdex unquickening pass takes an InstructionSet by parameter rather
// than reaching for process-wide state.
package isa

// Opcode is the low byte of an instruction's first 16-bit code unit.
type Opcode uint8

// Generic opcodes referenced by the quickening table.  The full
// instruction set is larger; widths for the rest live in the width
// table below.
const (
	Nop              Opcode = 0x00
	ReturnVoid       Opcode = 0x0e
	Return           Opcode = 0x0f
	IGet             Opcode = 0x52
	IGetWide         Opcode = 0x53
	IGetObject       Opcode = 0x54
	IPut             Opcode = 0x59
	IPutWide         Opcode = 0x5a
	IPutObject       Opcode = 0x5b
	InvokeVirtual    Opcode = 0x6e
	InvokeVirtualRng Opcode = 0x74
)

// Specialized opcodes emitted by the quickening pass.
//
// ReturnVoidBarrier is the odd one out: it carries no restored operand
// and is rewritten by walking the instruction stream, not by quicken
// payload records.
const (
	ReturnVoidBarrier     Opcode = 0x73
	IGetQuick             Opcode = 0xe3
	IGetWideQuick         Opcode = 0xe4
	IGetObjectQuick       Opcode = 0xe5
	IPutQuick             Opcode = 0xe6
	IPutWideQuick         Opcode = 0xe7
	IPutObjectQuick       Opcode = 0xe8
	InvokeVirtualQuick    Opcode = 0xe9
	InvokeVirtualRngQuick Opcode = 0xea
)

// InstructionSet describes one revision of the VM's bytecode.
type InstructionSet struct {
	// width of each instruction in 16-bit code units; 0 marks an
	// unused opcode
	widths [256]uint8
	// specialized -> generic; Nop (0) marks "not specialized"
	generic [256]Opcode
}

// Width returns the instruction length in 16-bit code units, or 0 if
// op is not a defined instruction.
func (s *InstructionSet) Width(op Opcode) int {
	return int(s.widths[op])
}

// Generic returns the generic counterpart of a specialized opcode.
func (s *InstructionSet) Generic(op Opcode) (Opcode, bool) {
	g := s.generic[op]
	return g, g != Nop
}

// IsSpecialized reports whether op is a quickened instruction.
func (s *InstructionSet) IsSpecialized(op Opcode) bool {
	_, ok := s.Generic(op)
	return ok
}

// HasQuickenedOperand reports whether rewriting op back to its generic
// form restores a 16-bit operand into the instruction's second code
// unit.  True for all specialized opcodes except ReturnVoidBarrier.
func (s *InstructionSet) HasQuickenedOperand(op Opcode) bool {
	return s.IsSpecialized(op) && s.widths[op] >= 2
}

var defaultSet = newDefault()

// Default returns the instruction set the current toolchain emits.
func Default() *InstructionSet {
	return defaultSet
}

func newDefault() *InstructionSet {
	s := &InstructionSet{}
	w := &s.widths

	// widths, grouped the way the opcode space is laid out
	w[Nop] = 1
	for op := 0x01; op <= 0x09; op++ { // move, move/from16, move/16 triples
		w[op] = uint8((op-1)%3 + 1)
	}
	for op := 0x0a; op <= 0x0d; op++ { // move-result family
		w[op] = 1
	}
	w[ReturnVoid] = 1
	for op := 0x0f; op <= 0x11; op++ { // return vAA
		w[op] = 1
	}
	w[0x12] = 1                        // const/4
	w[0x13] = 2                        // const/16
	w[0x14] = 3                        // const
	w[0x15] = 2                        // const/high16
	for op := 0x16; op <= 0x19; op++ { // const-wide
		w[op] = uint8(op - 0x14)
	}
	w[0x1a] = 2 // const-string
	w[0x1b] = 3 // const-string/jumbo
	w[0x1c] = 2 // const-class
	w[0x1d], w[0x1e] = 1, 1 // monitor enter/exit
	w[0x1f] = 2             // check-cast
	w[0x20] = 2             // instance-of
	w[0x21] = 1             // array-length
	w[0x22] = 2             // new-instance
	w[0x23] = 2             // new-array
	w[0x24] = 3             // filled-new-array
	w[0x25] = 3             // filled-new-array/range
	w[0x26] = 3             // fill-array-data
	w[0x27] = 1             // throw
	w[0x28] = 1             // goto
	w[0x29] = 2             // goto/16
	w[0x2a] = 3             // goto/32
	w[0x2b], w[0x2c] = 3, 3 // switches
	for op := 0x2d; op <= 0x31; op++ { // cmp
		w[op] = 2
	}
	for op := 0x32; op <= 0x3d; op++ { // if-test
		w[op] = 2
	}
	for op := 0x44; op <= 0x51; op++ { // aget/aput
		w[op] = 2
	}
	for op := 0x52; op <= 0x5f; op++ { // iget/iput
		w[op] = 2
	}
	for op := 0x60; op <= 0x6d; op++ { // sget/sput
		w[op] = 2
	}
	for op := 0x6e; op <= 0x72; op++ { // invoke
		w[op] = 3
	}
	w[ReturnVoidBarrier] = 1
	for op := 0x74; op <= 0x78; op++ { // invoke/range
		w[op] = 3
	}
	for op := 0x7b; op <= 0x8f; op++ { // unops
		w[op] = 1
	}
	for op := 0x90; op <= 0xaf; op++ { // binops
		w[op] = 2
	}
	for op := 0xb0; op <= 0xcf; op++ { // binops/2addr
		w[op] = 1
	}
	for op := 0xd0; op <= 0xd7; op++ { // binops/lit16
		w[op] = 2
	}
	for op := 0xd8; op <= 0xe2; op++ { // binops/lit8
		w[op] = 2
	}
	for op := IGetQuick; op <= IPutObjectQuick; op++ {
		w[op] = 2
	}
	w[InvokeVirtualQuick] = 3
	w[InvokeVirtualRngQuick] = 3

	g := &s.generic
	g[ReturnVoidBarrier] = ReturnVoid
	g[IGetQuick] = IGet
	g[IGetWideQuick] = IGetWide
	g[IGetObjectQuick] = IGetObject
	g[IPutQuick] = IPut
	g[IPutWideQuick] = IPutWide
	g[IPutObjectQuick] = IPutObject
	g[InvokeVirtualQuick] = InvokeVirtual
	g[InvokeVirtualRngQuick] = InvokeVirtualRng

	return s
}
