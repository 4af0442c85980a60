// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package atlas implements the tile catalog: an in-memory spatial index over
// immutable per-tile metadata with padded range queries.
//
// Two persisted shapes exist. LAZ atlases are a two-level map keyed by
// integer x-origin then y-origin, with width/height in the entry. Vector
// atlases are a flat map keyed by "tile_<x>_<y>" with explicit extents.
// Both normalize into the same Index and answer the same Query.
package atlas

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
)

// Kind discriminates the two atlas shapes.
type Kind string

const (
	// KindLAZ is the two-level nested map shape used for point-cloud tiles.
	KindLAZ Kind = "laz"

	// KindVector is the flat "tile_<x>_<y>"-keyed shape used for GPKG tiles.
	KindVector Kind = "vector"
)

// SeekPadding is the origin-seek padding constant. It must be at least as
// large as the largest tile dimension in any served atlas; origins more than
// this far below the query edge cannot overlap the query.
const SeekPadding = 20000

// DefaultVectorTileSize is the extent assumed for vector tiles merged from a
// batch sidecar, which carries origins only.
const DefaultVectorTileSize = 10000.0

// Entry is one tile record inside an Index.
type Entry struct {
	Filename string
	MinX     float64
	MinY     float64
	MaxX     float64
	MaxY     float64
}

// Width returns the tile's x extent.
func (e Entry) Width() float64 { return e.MaxX - e.MinX }

// Height returns the tile's y extent.
func (e Entry) Height() float64 { return e.MaxY - e.MinY }

// Tile converts the entry to its wire descriptor.
func (e Entry) Tile() models.Tile {
	return models.Tile{Filename: e.Filename, MinX: e.MinX, MinY: e.MinY, MaxX: e.MaxX, MaxY: e.MaxY}
}

// Index is the in-memory tile catalog for one dataset. Origins are indexed as
// integers, sorted ascending on both levels, so range queries reduce to a
// binary seek plus a bounded scan. The zero value is not usable; call New.
//
// An Index is read-only after load on the server side. The client mutates its
// local index only while holding the per-dataset reconcile lock.
type Index struct {
	kind    Kind
	xs      []int64
	ys      map[int64][]int64
	tiles   map[int64]map[int64]Entry
	origins map[string][2]int64
}

// New returns an empty index of the given kind.
func New(kind Kind) *Index {
	return &Index{
		kind:    kind,
		ys:      make(map[int64][]int64),
		tiles:   make(map[int64]map[int64]Entry),
		origins: make(map[string][2]int64),
	}
}

// Kind returns the atlas shape this index was loaded from.
func (ix *Index) Kind() Kind { return ix.kind }

// Len returns the number of tiles in the index.
func (ix *Index) Len() int { return len(ix.origins) }

// Origin returns the integer origin recorded for filename.
func (ix *Index) Origin(filename string) ([2]int64, bool) {
	o, ok := ix.origins[filename]
	return o, ok
}

// Insert adds or replaces a tile entry. Origin keys are the truncated integer
// minima, matching both persisted shapes.
func (ix *Index) Insert(e Entry) {
	x, y := int64(e.MinX), int64(e.MinY)

	if _, ok := ix.tiles[x]; !ok {
		ix.tiles[x] = make(map[int64]Entry)
		ix.xs = insertSorted(ix.xs, x)
	}
	if _, ok := ix.tiles[x][y]; !ok {
		ix.ys[x] = insertSorted(ix.ys[x], y)
	}
	ix.tiles[x][y] = e
	ix.origins[e.Filename] = [2]int64{x, y}
}

// insertSorted inserts v into sorted keys, keeping order and uniqueness.
func insertSorted(keys []int64, v int64) []int64 {
	i := sort.Search(len(keys), func(i int) bool { return keys[i] >= v })
	if i < len(keys) && keys[i] == v {
		return keys
	}
	keys = append(keys, 0)
	copy(keys[i+1:], keys[i:])
	keys[i] = v
	return keys
}

// seekWithin returns the index of the smallest key in [lo, hi], or -1 when no
// key falls in the range.
func seekWithin(keys []int64, lo, hi int64) int {
	i := sort.Search(len(keys), func(i int) bool { return keys[i] >= lo })
	if i == len(keys) || keys[i] > hi {
		return -1
	}
	return i
}

// Query returns every tile whose rectangle intersects the query rectangle,
// closed on equality. The seek range is padded by SeekPadding so tiles whose
// origin lies below the query edge but whose extent overlaps it are not
// missed; each candidate is then tested precisely.
func (ix *Index) Query(minx, miny, maxx, maxy float64) []models.Tile {
	if len(ix.xs) == 0 {
		return nil
	}

	xLo := int64(minx) - SeekPadding
	xHi := int64(maxx) + SeekPadding
	yLo := int64(miny) - SeekPadding
	yHi := int64(maxy) + SeekPadding

	var out []models.Tile
	xi := seekWithin(ix.xs, xLo, xHi)
	if xi < 0 {
		return nil
	}
	for ; xi < len(ix.xs); xi++ {
		x := ix.xs[xi]
		if x > xHi {
			break
		}
		ykeys := ix.ys[x]
		yi := seekWithin(ykeys, yLo, yHi)
		if yi < 0 {
			continue
		}
		// Once a tile's top edge clears the padded query top, later tiles in
		// this sorted column cannot contribute.
		prevTop := float64(yLo)
		for ; yi < len(ykeys); yi++ {
			y := ykeys[yi]
			if y > yHi || prevTop >= float64(yHi) {
				break
			}
			e := ix.tiles[x][y]
			prevTop = e.MaxY
			if e.Tile().Intersects(minx, miny, maxx, maxy) {
				out = append(out, e.Tile())
			}
		}
	}
	return out
}

// Filenames returns the filenames of Query's result set.
func (ix *Index) Filenames(minx, miny, maxx, maxy float64) []string {
	tiles := ix.Query(minx, miny, maxx, maxy)
	names := make([]string, 0, len(tiles))
	for _, t := range tiles {
		names = append(names, t.Filename)
	}
	return names
}

// Bounds returns the overall bounding box of the atlas, or ok=false when the
// atlas is empty.
func (ix *Index) Bounds() (minx, miny, maxx, maxy float64, ok bool) {
	first := true
	for _, x := range ix.xs {
		for _, y := range ix.ys[x] {
			e := ix.tiles[x][y]
			if first {
				minx, miny, maxx, maxy = e.MinX, e.MinY, e.MaxX, e.MaxY
				first = false
				continue
			}
			if e.MinX < minx {
				minx = e.MinX
			}
			if e.MinY < miny {
				miny = e.MinY
			}
			if e.MaxX > maxx {
				maxx = e.MaxX
			}
			if e.MaxY > maxy {
				maxy = e.MaxY
			}
		}
	}
	return minx, miny, maxx, maxy, !first
}

// MergeSidecar inserts tiles described by a batch sidecar: a map from
// filename to [xmin, ymin] integer origin. Extents default to tileSize on
// both axes (pass 0 for DefaultVectorTileSize).
func (ix *Index) MergeSidecar(coords map[string][2]int64, tileSize float64) {
	if tileSize <= 0 {
		tileSize = DefaultVectorTileSize
	}
	for filename, origin := range coords {
		ix.Insert(Entry{
			Filename: filename,
			MinX:     float64(origin[0]),
			MinY:     float64(origin[1]),
			MaxX:     float64(origin[0]) + tileSize,
			MaxY:     float64(origin[1]) + tileSize,
		})
	}
}

// lazEntry is the two-level persisted entry shape.
type lazEntry struct {
	Filename string      `json:"filename"`
	Width    json.Number `json:"width"`
	Height   json.Number `json:"height"`
}

// vectorEntry is the flat persisted entry shape.
type vectorEntry struct {
	Filename string      `json:"filename"`
	MinX     json.Number `json:"minx"`
	MinY     json.Number `json:"miny"`
	MaxX     json.Number `json:"maxx"`
	MaxY     json.Number `json:"maxy"`
	Width    json.Number `json:"width"`
	Height   json.Number `json:"height"`
}

// Load reads an atlas file of the given kind into a fresh Index. A missing or
// unreadable file is an error; individual malformed entries are skipped with
// a warning so one bad record cannot take a dataset down.
func Load(path string, kind Kind) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read atlas %s: %w", path, err)
	}
	return Parse(data, kind)
}

// Parse decodes atlas JSON of the given kind.
func Parse(data []byte, kind Kind) (*Index, error) {
	switch kind {
	case KindLAZ:
		return parseLAZ(data)
	case KindVector:
		return parseVector(data)
	default:
		return nil, fmt.Errorf("unknown atlas kind %q", kind)
	}
}

func parseLAZ(data []byte) (*Index, error) {
	var raw map[string]map[string]lazEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode laz atlas: %w", err)
	}

	ix := New(KindLAZ)
	for xs, column := range raw {
		x, err := strconv.ParseInt(strings.TrimSpace(xs), 10, 64)
		if err != nil {
			logging.Warn().Str("key", xs).Msg("skipping atlas column with non-numeric x origin")
			continue
		}
		for ys, e := range column {
			y, err := strconv.ParseInt(strings.TrimSpace(ys), 10, 64)
			if err != nil {
				logging.Warn().Str("key", ys).Msg("skipping atlas entry with non-numeric y origin")
				continue
			}
			w, werr := e.Width.Float64()
			h, herr := e.Height.Float64()
			if e.Filename == "" || werr != nil || herr != nil {
				logging.Warn().Str("filename", e.Filename).Msg("skipping malformed atlas entry")
				continue
			}
			ix.Insert(Entry{
				Filename: e.Filename,
				MinX:     float64(x),
				MinY:     float64(y),
				MaxX:     float64(x) + w,
				MaxY:     float64(y) + h,
			})
		}
	}
	return ix, nil
}

// parseVector accepts both persisted vector shapes: the flat
// "tile_<x>_<y>"-keyed map with explicit extents, and the two-level nested
// form the client writes for its local mirror. Shape is decided per entry by
// the presence of a filename field.
func parseVector(data []byte) (*Index, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode vector atlas: %w", err)
	}

	ix := New(KindVector)
	for key, value := range raw {
		var flat vectorEntry
		if err := json.Unmarshal(value, &flat); err == nil && flat.Filename != "" {
			minx, e1 := flat.MinX.Float64()
			miny, e2 := flat.MinY.Float64()
			maxx, e3 := flat.MaxX.Float64()
			maxy, e4 := flat.MaxY.Float64()
			if e1 != nil || e2 != nil || e3 != nil || e4 != nil {
				logging.Warn().Str("key", key).Msg("skipping malformed atlas entry")
				continue
			}
			ix.Insert(Entry{Filename: flat.Filename, MinX: minx, MinY: miny, MaxX: maxx, MaxY: maxy})
			continue
		}

		// Nested column: key is the x origin, value maps y origin to entry.
		x, err := strconv.ParseFloat(strings.TrimSpace(key), 64)
		if err != nil {
			logging.Warn().Str("key", key).Msg("skipping atlas column with non-numeric x origin")
			continue
		}
		var column map[string]lazEntry
		if err := json.Unmarshal(value, &column); err != nil {
			logging.Warn().Str("key", key).Msg("skipping malformed atlas column")
			continue
		}
		for ys, e := range column {
			y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
			if err != nil {
				logging.Warn().Str("key", ys).Msg("skipping atlas entry with non-numeric y origin")
				continue
			}
			w, werr := e.Width.Float64()
			h, herr := e.Height.Float64()
			if e.Filename == "" || werr != nil || herr != nil {
				logging.Warn().Str("filename", e.Filename).Msg("skipping malformed atlas entry")
				continue
			}
			ix.Insert(Entry{Filename: e.Filename, MinX: x, MinY: y, MaxX: x + w, MaxY: y + h})
		}
	}
	return ix, nil
}

// WriteFile persists the index as two-level JSON with origin keys sorted
// ascending as integers on both levels, via write-to-temp plus atomic rename.
func (ix *Index) WriteFile(path string) error {
	data, err := ix.MarshalSorted()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".atlas-*.json")
	if err != nil {
		return fmt.Errorf("create temp atlas: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp atlas: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp atlas: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp atlas: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename atlas into place: %w", err)
	}
	return nil
}

// MarshalSorted renders the two-level sorted JSON form. encoding/json sorts
// map keys lexicographically, which misorders negative and mixed-width
// numeric keys, so the document is assembled by hand.
func (ix *Index) MarshalSorted() ([]byte, error) {
	var b strings.Builder
	b.WriteString("{\n")
	for i, x := range ix.xs {
		fmt.Fprintf(&b, "  %q: {\n", strconv.FormatInt(x, 10))
		ykeys := ix.ys[x]
		for j, y := range ykeys {
			e := ix.tiles[x][y]
			entry, err := json.Marshal(map[string]interface{}{
				"filename": e.Filename,
				"width":    e.Width(),
				"height":   e.Height(),
			})
			if err != nil {
				return nil, fmt.Errorf("marshal atlas entry %s: %w", e.Filename, err)
			}
			fmt.Fprintf(&b, "    %q: %s", strconv.FormatInt(y, 10), entry)
			if j < len(ykeys)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString("  }")
		if i < len(ix.xs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return []byte(b.String()), nil
}
