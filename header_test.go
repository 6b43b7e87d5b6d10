// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package vdex

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_RoundTrip(t *testing.T) {
	origH := newHeader(3, 1000, 64, 256)
	require.True(t, origH.IsValid())

	// too-small buffer should be an error
	err := origH.MarshalTo(nil)
	assert.Error(t, err)

	buf := make([]byte, HeaderSize)
	require.NoError(t, origH.MarshalTo(buf))

	var newH Header
	// nil input should be an error
	assert.Error(t, newH.UnmarshalBytes(nil))

	require.NoError(t, newH.UnmarshalBytes(buf))
	assert.Equal(t, origH, newH)
}

func TestHeader_ComputedFileSize(t *testing.T) {
	h := newHeader(3, 1000, 64, 256)
	assert.Equal(t, uint64(24+4*3+1000+64+256), h.ComputedFileSize())

	empty := newHeader(0, 0, 0, 0)
	assert.Equal(t, uint64(HeaderSize), empty.ComputedFileSize())
}

func TestHeader_Rejects(t *testing.T) {
	good := newHeader(1, 100, 0, 0)
	buf := make([]byte, HeaderSize)
	require.NoError(t, good.MarshalTo(buf))

	var h Header

	err := h.UnmarshalBytes(buf[:HeaderSize-1])
	assert.True(t, errors.Is(err, ErrTooShort), "got %v", err)

	bad := make([]byte, HeaderSize)
	copy(bad, buf)
	copy(bad[0:4], InvalidMagic[:])
	err = h.UnmarshalBytes(bad)
	assert.True(t, errors.Is(err, ErrBadMagic), "got %v", err)

	copy(bad, buf)
	copy(bad[4:8], []byte("010\x00"))
	err = h.UnmarshalBytes(bad)
	assert.True(t, errors.Is(err, ErrBadVersion), "got %v", err)
}
