// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package las reads LAS/LAZ public header blocks. Only the fields Tilevault
// needs are decoded: the min/max point extents used to place a tile in an
// atlas. LAZ compression does not touch the public header, so the same
// reader covers both containers.
package las

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// headerMinSize covers the public header block through the Min Z field
// (LAS 1.0-1.3; 1.4 extends the block but keeps these offsets).
const headerMinSize = 227

var (
	// ErrBadSignature is returned when the file does not start with "LASF".
	ErrBadSignature = errors.New("las: bad file signature")

	// ErrTruncated is returned when the header block is incomplete.
	ErrTruncated = errors.New("las: truncated header")
)

// Header carries the decoded extent fields of a LAS public header.
type Header struct {
	VersionMajor uint8
	VersionMinor uint8
	MinX, MaxX   float64
	MinY, MaxY   float64
	MinZ, MaxZ   float64
}

// ReadHeader decodes the public header block from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, headerMinSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	if string(buf[0:4]) != "LASF" {
		return nil, ErrBadSignature
	}

	f64 := func(off int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))
	}

	return &Header{
		VersionMajor: buf[24],
		VersionMinor: buf[25],
		MaxX:         f64(179),
		MinX:         f64(187),
		MaxY:         f64(195),
		MinY:         f64(203),
		MaxZ:         f64(211),
		MinZ:         f64(219),
	}, nil
}

// ReadFileHeader decodes the public header block of the named file.
func ReadFileHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("las: open %s: %w", path, err)
	}
	defer f.Close()

	h, err := ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("las: %s: %w", path, err)
	}
	return h, nil
}
