// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package vdex reads and writes VDEX container files.
//
// A VDEX file bundles one or more program-unit images (the VM's unit of
// class grouping) together with two sidecar payloads: verifier dependency
// records and quickening info.  Quickening info is the metadata that lets
// specialized bytecode be rewritten back to the generic bytecode the
// verifier originally saw.
//
// The container is accessed through a memory mapping; all section
// accessors return windows into the mapped bytes, never copies.  A File
// opened read-only may be shared freely.  A File opened writable is
// single-writer: the unquickening pass mutates the mapped program-unit
// bytes in place, and no other reader may observe the region until it
// returns.
//
// File layout (all fields little-endian):
//
//	Header              24 bytes (see Header)
//	checksums           one uint32 per program unit
//	program units       N images, concatenated, no padding
//	verifier deps       opaque bytes
//	quickening info     payloads, per-unit offset tables, trailing
//	                    per-unit table locations (see quicken_index.go)
package vdex
