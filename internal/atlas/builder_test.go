// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package atlas

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

func lasHeaderBytes(minx, maxx, miny, maxy float64) []byte {
	buf := make([]byte, 227)
	copy(buf[0:4], "LASF")
	buf[24] = 1
	buf[25] = 2
	put := func(off int, v float64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
	}
	put(179, maxx)
	put(187, minx)
	put(195, maxy)
	put(203, miny)
	return buf
}

func TestBuildFromLAZDir(t *testing.T) {
	dir := t.TempDir()
	// Extents 2499 units wide: the survey quirk case.
	if err := os.WriteFile(filepath.Join(dir, "a.laz"), lasHeaderBytes(100000, 102499, 200000, 202499), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.laz"), []byte("not a las file"), 0o644); err != nil {
		t.Fatal(err)
	}

	ix, err := BuildFromLAZDir(dir, BuildOptions{RoundUp99: true})
	if err != nil {
		t.Fatalf("BuildFromLAZDir: %v", err)
	}
	if ix.Len() != 1 {
		t.Fatalf("indexed %d tiles, want 1", ix.Len())
	}

	tiles := ix.Query(100000, 200000, 100001, 200001)
	if len(tiles) != 1 {
		t.Fatalf("built tile not queryable")
	}
	// 2499 promoted to 2500 by the quirk.
	if tiles[0].MaxX != 102500 || tiles[0].MaxY != 202500 {
		t.Errorf("quirk not applied: %+v", tiles[0])
	}
}

func TestBuildFromLAZDirWithoutQuirk(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.laz"), lasHeaderBytes(0, 2499, 0, 2499), 0o644); err != nil {
		t.Fatal(err)
	}

	ix, err := BuildFromLAZDir(dir, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	tiles := ix.Query(0, 0, 1, 1)
	if tiles[0].MaxX != 2499 {
		t.Errorf("quirk applied when disabled: %+v", tiles[0])
	}
}

func TestBuildFromLAZDirEmpty(t *testing.T) {
	if _, err := BuildFromLAZDir(t.TempDir(), BuildOptions{}); err == nil {
		t.Error("empty directory did not error")
	}
}

func TestBuildFromCoordsMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	coords := map[string][2]int64{
		"tile_0_0.gpkg":         {0, 0},
		"tile_10000_20000.gpkg": {10000, 20000},
	}
	data, _ := json.Marshal(coords)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	ix, err := BuildFromCoordsMap(path, BuildOptions{TileSize: 10000})
	if err != nil {
		t.Fatalf("BuildFromCoordsMap: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("indexed %d tiles", ix.Len())
	}
	got := ix.Filenames(5000, 5000, 6000, 6000)
	if len(got) != 1 || got[0] != "tile_0_0.gpkg" {
		t.Errorf("query = %v", got)
	}
}
