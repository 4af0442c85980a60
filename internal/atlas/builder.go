// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package atlas

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/las"
	"github.com/tomtom215/tilevault/internal/logging"
)

// BuildOptions controls atlas construction from prebuilt tile files.
type BuildOptions struct {
	// RoundUp99 promotes integer tile dimensions whose decimal form ends in
	// "99" by one unit, so nominally-2500-unit tiles surveyed as 2499 index
	// as 2500. This is a dataset quirk of some national point-cloud
	// deliveries; leave it off unless the source data needs it.
	RoundUp99 bool

	// TileSize is the grid cell size assumed when building from a
	// coordinate map that carries origins only.
	TileSize float64
}

// roundUp99 applies the trailing-99 promotion.
func roundUp99(v int64) int64 {
	if strings.HasSuffix(strconv.FormatInt(v, 10), "99") {
		return v + 1
	}
	return v
}

// BuildFromLAZDir scans dir for .laz/.las files, reads each header for its
// point extents, and indexes the tiles by truncated integer origin.
// Unreadable files are skipped with a warning.
func BuildFromLAZDir(dir string, opts BuildOptions) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	ix := New(KindLAZ)
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".laz" && ext != ".las" {
			continue
		}

		hdr, err := las.ReadFileHeader(filepath.Join(dir, name))
		if err != nil {
			logging.Warn().Err(err).Str("file", name).Msg("skipping unreadable tile")
			continue
		}

		xmin := int64(hdr.MinX)
		ymin := int64(hdr.MinY)
		width := int64(hdr.MaxX) - xmin
		height := int64(hdr.MaxY) - ymin
		if opts.RoundUp99 {
			width = roundUp99(width)
			height = roundUp99(height)
		}

		ix.Insert(Entry{
			Filename: name,
			MinX:     float64(xmin),
			MinY:     float64(ymin),
			MaxX:     float64(xmin + width),
			MaxY:     float64(ymin + height),
		})
	}

	if ix.Len() == 0 {
		return nil, fmt.Errorf("no point-cloud tiles found in %s", dir)
	}
	return ix, nil
}

// BuildFromCoordsMap builds a vector atlas from a filename -> [xmin, ymin]
// map file, as produced by the external tile generator alongside its grid
// outputs. Tiles get TileSize extents on both axes.
func BuildFromCoordsMap(mapPath string, opts BuildOptions) (*Index, error) {
	data, err := os.ReadFile(mapPath)
	if err != nil {
		return nil, fmt.Errorf("read coords map %s: %w", mapPath, err)
	}

	var coords map[string][2]int64
	if err := json.Unmarshal(data, &coords); err != nil {
		return nil, fmt.Errorf("decode coords map %s: %w", mapPath, err)
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("coords map %s is empty", mapPath)
	}

	ix := New(KindVector)
	ix.MergeSidecar(coords, opts.TileSize)
	return ix, nil
}
