// Copyright 2024 The vdex Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// gen-testdata writes a small container with quickened units, for
// poking at with the library or external tooling.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bpowers/vdex"
	"github.com/bpowers/vdex/isa"
	"github.com/bpowers/vdex/progunit"
)

var outPath = flag.String("o", "sample.vdex", "path to write the container to")

func buildUnit() ([]byte, []vdex.QuickenRecord, error) {
	var b progunit.Builder

	// iget-quick v0, v1, @8 ; return-void
	b.AddMethod(0x1000, []uint16{
		uint16(isa.IGetQuick) | 0x10<<8, 8,
		uint16(isa.ReturnVoid),
	})
	// nothing quickened here
	b.AddMethod(0x2000, []uint16{
		uint16(isa.ReturnVoid),
	})

	image, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	records := []vdex.QuickenRecord{
		{CodeUnitOffset: 0, Operand: 0x0042},
	}
	return image, records, nil
}

func run() error {
	image, records, err := buildUnit()
	if err != nil {
		return err
	}

	var qb vdex.QuickeningInfoBuilder
	qb.BeginUnit()
	qb.Add(0x1000, vdex.EncodeQuickenRecords(records))
	qb.AddNone(0x2000)

	w := vdex.NewWriter()
	if err := w.AddProgramUnit(image); err != nil {
		return err
	}
	w.SetVerifierDeps([]byte("deps"))
	w.SetQuickeningInfo(qb.Bytes())

	f, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	n, err := w.WriteTo(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("wrote %d bytes to %s\n", n, *outPath)
	return nil
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gen-testdata: %s\n", err)
		os.Exit(1)
	}
}
