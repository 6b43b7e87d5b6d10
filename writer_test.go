// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package vdex

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/vdex/progunit"
)

func writerBytes(t *testing.T, w *Writer) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := w.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	return buf.Bytes()
}

func TestWriter_RoundTrip(t *testing.T) {
	var b progunit.Builder
	b.AddMethod(0x11, []uint16{0x000e})
	image, err := b.Build()
	require.NoError(t, err)
	unit, err := progunit.Parse(image)
	require.NoError(t, err)

	deps := []byte("opaque verifier deps")

	var qb QuickeningInfoBuilder
	qb.BeginUnit()
	qb.AddNone(0x11)

	w := NewWriter()
	require.NoError(t, w.AddProgramUnit(image))
	w.SetVerifierDeps(deps)
	w.SetQuickeningInfo(qb.Bytes())

	path := writeTemp(t, writerBytes(t, w))
	f, err := Open(path, Options{})
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()

	h := f.Header()
	assert.Equal(t, uint32(1), h.NumProgramUnits)
	assert.Equal(t, uint32(len(image)), h.ProgramUnitsSize)
	assert.Equal(t, uint32(len(deps)), h.VerifierDepsSize)

	// the checksum section repeats the unit header's checksum
	assert.Equal(t, unit.Checksum(), f.Checksum(0))
	assert.Equal(t, deps, f.VerifierDeps())

	units, err := f.OpenAllProgramUnits()
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, image, units[0].Bytes())
	assert.True(t, units[0].VerifyChecksum())
}

func TestWriter_RejectsGarbageUnit(t *testing.T) {
	w := NewWriter()
	err := w.AddProgramUnit([]byte("definitely not a unit image"))
	assert.True(t, errors.Is(err, ErrMalformedProgramUnit), "got %v", err)
}

func TestWriter_EmptyContainer(t *testing.T) {
	data := writerBytes(t, NewWriter())
	require.Len(t, data, HeaderSize)

	path := writeTemp(t, data)
	f, err := Open(path, Options{})
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()
	assert.True(t, f.IsValid())
	assert.Nil(t, f.FirstProgramUnit())
}

func TestQuickeningInfoBuilder_Layout(t *testing.T) {
	var qb QuickeningInfoBuilder
	qb.BeginUnit()
	qb.Add(0x10, []byte{0xaa, 0xbb})
	qb.BeginUnit()
	qb.AddNone(0x20)

	blob := qb.Bytes()
	idx, err := buildQuickenIndex(blob, 2)
	require.NoError(t, err)

	require.Equal(t, 1, idx.entryCount(0))
	require.Equal(t, 1, idx.entryCount(1))

	dbg, off := idx.entry(0, 0)
	assert.Equal(t, uint32(0x10), dbg)
	assert.Equal(t, uint32(0), off)
	p, err := idx.payload(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, p)

	dbg, off = idx.entry(1, 0)
	assert.Equal(t, uint32(0x20), dbg)
	assert.Equal(t, NoQuickeningInfoOffset, off)
}
