// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package progunit

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_RoundTrip(t *testing.T) {
	var b Builder
	b.SetFlags(FlagNoQuicken)
	b.AddMethod(0x77, []uint16{0x000e})
	b.AddMethod(0x88, []uint16{0x1234, 0x5678, 0x000e})

	image, err := b.Build()
	require.NoError(t, err)

	u, err := Parse(image)
	require.NoError(t, err)

	assert.Equal(t, uint32(len(image)), u.Size())
	assert.Equal(t, FlagNoQuicken, u.Flags())
	assert.Equal(t, 2, u.MethodCount())
	assert.True(t, u.VerifyChecksum())

	ci0, err := u.CodeItem(u.CodeItemOffset(0))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x77), ci0.DebugInfoOff())
	assert.Equal(t, uint32(1), ci0.InsnsSize())
	assert.Equal(t, []byte{0x0e, 0x00}, ci0.Insns())

	ci1, err := u.CodeItem(u.CodeItemOffset(1))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x88), ci1.DebugInfoOff())
	assert.Equal(t, uint32(3), ci1.InsnsSize())

	ord, ok := u.OrdinalOf(u.CodeItemOffset(1))
	require.True(t, ok)
	assert.Equal(t, 1, ord)

	_, ok = u.OrdinalOf(0xFFFF)
	assert.False(t, ok)
}

func TestBuilder_PadTo(t *testing.T) {
	var b Builder
	b.PadTo(40)
	image, err := b.Build()
	require.NoError(t, err)
	require.Len(t, image, 40)

	u, err := Parse(image)
	require.NoError(t, err)
	assert.Equal(t, uint32(40), u.Size())
	assert.Equal(t, 0, u.MethodCount())

	size, err := SizeAt(image)
	require.NoError(t, err)
	assert.Equal(t, uint32(40), size)
}

func TestParse_Rejects(t *testing.T) {
	var b Builder
	b.AddMethod(0, []uint16{0x000e})
	image, err := b.Build()
	require.NoError(t, err)

	// truncated header
	_, err = Parse(image[:HeaderSize-1])
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)

	// bad magic
	bad := append([]byte{}, image...)
	bad[0] = 'w'
	_, err = Parse(bad)
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)

	// declared size larger than available bytes
	bad = append([]byte{}, image...)
	binary.LittleEndian.PutUint32(bad[8:12], uint32(len(image)+8))
	_, err = Parse(bad)
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)

	// method table escaping the image
	bad = append([]byte{}, image...)
	binary.LittleEndian.PutUint32(bad[20:24], uint32(len(image)))
	_, err = Parse(bad)
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)

	// instruction stream escaping the image
	bad = append([]byte{}, image...)
	u, err := Parse(image)
	require.NoError(t, err)
	ciOff := u.CodeItemOffset(0)
	binary.LittleEndian.PutUint32(bad[ciOff+12:], 0xFFFF)
	_, err = Parse(bad)
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
}

func TestCodeItem_MutatesInPlace(t *testing.T) {
	var b Builder
	b.AddMethod(0x1111, []uint16{0x000e})
	image, err := b.Build()
	require.NoError(t, err)

	u, err := Parse(image)
	require.NoError(t, err)
	require.True(t, u.VerifyChecksum())

	ci, err := u.CodeItem(u.CodeItemOffset(0))
	require.NoError(t, err)
	ci.SetDebugInfoOff(0x2222)

	// the write went through to the backing bytes, and a reparse
	// still succeeds even though the stored checksum is now stale
	u2, err := Parse(image)
	require.NoError(t, err)
	ci2, err := u2.CodeItem(u2.CodeItemOffset(0))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2222), ci2.DebugInfoOff())
	assert.False(t, u2.VerifyChecksum())
}
