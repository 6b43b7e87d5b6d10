// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build !(linux && amd64)

package mmap

// MAP_32BIT only exists on x86-ish linux; the low-4GB request is
// best-effort elsewhere.
const map32Bit = 0
