// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package vdex

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// NoQuickeningInfoOffset in an index entry's payload-offset slot means
// the code item was never quickened; the entry's debug-info offset is
// still authoritative.  Part of the wire format.
const NoQuickeningInfoOffset = uint32(0xFFFFFFFF)

const quickenEntrySize = 8 // two unaligned uint32s

// quickenIndex is the parsed shape of the quickening-info section.
//
// The section ends with one unaligned uint32 per program unit, giving
// the byte offset (from the start of the section) of that unit's
// entry table.  Unit u's table runs up to unit u+1's offset, or to the
// start of the trailing offset words for the last unit.  Each table
// entry is a pair (original debug-info offset, payload offset); entry
// i belongs to the unit's i-th code item in method-table order.
// Payloads occupy the front of the section, before the first table.
//
// The per-unit bounds are resolved once, eagerly, when a container is
// opened; every later lookup is constant-time.
type quickenIndex struct {
	blob       []byte
	tables     []unitTable
	payloadEnd uint32
}

type unitTable struct {
	base  uint32
	count uint32
}

func buildQuickenIndex(blob []byte, numUnits int) (quickenIndex, error) {
	idx := quickenIndex{
		blob:   blob,
		tables: make([]unitTable, numUnits),
	}
	if len(blob) == 0 {
		return idx, nil
	}
	if len(blob) < 4*numUnits {
		return quickenIndex{}, errors.Wrapf(ErrMalformedQuickeningInfo,
			"%d bytes cannot hold %d table-offset words", len(blob), numUnits)
	}

	wordsOff := uint32(len(blob) - 4*numUnits)
	for u := 0; u < numUnits; u++ {
		base := binary.LittleEndian.Uint32(blob[wordsOff+uint32(4*u):])
		end := wordsOff
		if u+1 < numUnits {
			end = binary.LittleEndian.Uint32(blob[wordsOff+uint32(4*(u+1)):])
		}
		if base > end || end > wordsOff {
			return quickenIndex{}, errors.Wrapf(ErrMalformedQuickeningInfo,
				"unit %d table [%d, %d) out of order or escapes section of %d bytes",
				u, base, end, wordsOff)
		}
		if (end-base)%quickenEntrySize != 0 {
			return quickenIndex{}, errors.Wrapf(ErrMalformedQuickeningInfo,
				"unit %d table length %d not a whole number of entries", u, end-base)
		}
		idx.tables[u] = unitTable{base: base, count: (end - base) / quickenEntrySize}
	}

	idx.payloadEnd = wordsOff
	if numUnits > 0 {
		idx.payloadEnd = idx.tables[0].base
	}
	return idx, nil
}

func (q *quickenIndex) entryCount(u int) int {
	return int(q.tables[u].count)
}

// entry returns the i-th pair of unit u's table.  Bounds are the
// caller's problem; u and i come from validated parses.
func (q *quickenIndex) entry(u, i int) (debugInfoOff, payloadOff uint32) {
	off := q.tables[u].base + uint32(i*quickenEntrySize)
	debugInfoOff = binary.LittleEndian.Uint32(q.blob[off:])
	payloadOff = binary.LittleEndian.Uint32(q.blob[off+4:])
	return
}

// payload resolves entry (u, i)'s byte window, or nil for the
// no-payload sentinel.  A payload runs to the next non-sentinel
// payload offset in table order (this unit's remaining entries, then
// later units'), or to the end of the payload region.
func (q *quickenIndex) payload(u, i int) ([]byte, error) {
	_, off := q.entry(u, i)
	if off == NoQuickeningInfoOffset {
		return nil, nil
	}
	if off >= q.payloadEnd {
		return nil, errors.Wrapf(ErrMalformedQuickeningInfo,
			"unit %d entry %d: payload offset %d beyond payload region of %d bytes",
			u, i, off, q.payloadEnd)
	}

	end := q.payloadEnd
scan:
	for su := u; su < len(q.tables); su++ {
		si := 0
		if su == u {
			si = i + 1
		}
		for ; si < q.entryCount(su); si++ {
			_, next := q.entry(su, si)
			if next != NoQuickeningInfoOffset {
				end = next
				break scan
			}
		}
	}
	if end < off {
		return nil, errors.Wrapf(ErrMalformedQuickeningInfo,
			"unit %d entry %d: payload offsets not ascending (%d then %d)", u, i, off, end)
	}
	return q.blob[off:end], nil
}
