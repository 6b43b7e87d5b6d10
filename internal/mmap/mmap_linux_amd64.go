// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package mmap

import (
	"golang.org/x/sys/unix"
)

const map32Bit = unix.MAP_32BIT
