// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package client

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tilevault/internal/atlas"
	"github.com/tomtom215/tilevault/internal/las"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
)

// BBox is a rectangle in the dataset's projected CRS.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Contains reports whether b fully contains other.
func (b BBox) Contains(other BBox) bool {
	return b.MinX <= other.MinX && b.MinY <= other.MinY &&
		b.MaxX >= other.MaxX && b.MaxY >= other.MaxY
}

// Valid reports whether the bbox is non-inverted.
func (b BBox) Valid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

// DatasetSpec names a dataset and its atlas kind on the client side.
// Buffer expands discovery bboxes on all sides; the server honors it for
// point-cloud datasets only.
type DatasetSpec struct {
	Name   string
	Kind   atlas.Kind
	Buffer int64
}

// DefaultParallelFetches bounds concurrent single-file downloads.
const DefaultParallelFetches = 4

// registryFilename is the per-dataset satisfied-bbox registry.
const registryFilename = "bbox_registry.json"

// atlasFilename is the per-dataset local atlas file.
const atlasFilename = "atlas.json"

// tilesDirname is the per-dataset tile directory.
const tilesDirname = "tiles"

// Cache is the client-side differential cache. It owns the local atlas file
// and tile directory for each dataset under Root and is safe for concurrent
// reconciles of distinct datasets; reconciles of the same dataset serialize
// on a per-dataset lock.
type Cache struct {
	Root   string
	Client *Client

	// ParallelFetches bounds in-flight single-file downloads.
	ParallelFetches int

	// SupersetSkip elides the discovery round-trip when a previously
	// satisfied bbox contains the requested one.
	SupersetSkip bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCache creates a cache rooted at root, talking through client.
func NewCache(root string, client *Client) *Cache {
	return &Cache{
		Root:            root,
		Client:          client,
		ParallelFetches: DefaultParallelFetches,
		SupersetSkip:    true,
		locks:           make(map[string]*sync.Mutex),
	}
}

// datasetLock returns the mutex serializing reconciles for one dataset.
func (c *Cache) datasetLock(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[name] == nil {
		c.locks[name] = &sync.Mutex{}
	}
	return c.locks[name]
}

func (c *Cache) datasetDir(name string) string { return filepath.Join(c.Root, name) }
func (c *Cache) atlasPath(name string) string  { return filepath.Join(c.Root, name, atlasFilename) }
func (c *Cache) tilesDir(name string) string   { return filepath.Join(c.Root, name, tilesDirname) }

func (c *Cache) registryPath(name string) string {
	return filepath.Join(c.Root, name, registryFilename)
}

// loadLocalAtlas reads the dataset's local atlas, returning an empty index
// when the file is missing or unparseable. The local mirror being damaged is
// never fatal; it only means more tiles get re-downloaded.
func (c *Cache) loadLocalAtlas(spec DatasetSpec) *atlas.Index {
	ix, err := atlas.Load(c.atlasPath(spec.Name), spec.Kind)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn().Err(err).Str("dataset", spec.Name).Msg("local atlas unreadable, starting empty")
		}
		return atlas.New(spec.Kind)
	}
	return ix
}

// Reconcile makes the local tile set at least as complete as the server's
// for bbox and returns the full paths of every local tile intersecting it.
//
// The observable order is: discover, optional download, atomic atlas update,
// return. On any failure the local atlas is left unchanged and every path it
// references still exists.
func (c *Cache) Reconcile(ctx context.Context, spec DatasetSpec, bbox BBox) ([]string, error) {
	if !bbox.Valid() {
		return nil, fmt.Errorf("invalid bbox: min must be <= max")
	}

	lock := c.datasetLock(spec.Name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(c.tilesDir(spec.Name), 0o755); err != nil {
		return nil, err
	}

	local := c.loadLocalAtlas(spec)

	// Superset skip: a previously satisfied bbox covering this one means
	// the local mirror is already complete here.
	if c.SupersetSkip && c.registryHasSuperset(spec.Name, bbox) {
		logging.Debug().Str("dataset", spec.Name).Msg("bbox covered by earlier reconcile, skipping network")
		return c.localPaths(spec, local, bbox), nil
	}

	serverTiles, err := c.Client.Discover(ctx, spec.Name, spec.Kind, bbox, spec.Buffer)
	if err != nil {
		return nil, err
	}

	localSet := make(map[string]bool)
	for _, name := range local.Filenames(bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY) {
		localSet[name] = true
	}

	// One-way difference: server \ local. Local tiles the server no longer
	// lists are retained, never deleted.
	var missing []string
	serverByName := make(map[string]models.Tile, len(serverTiles))
	for _, tile := range serverTiles {
		serverByName[tile.Filename] = tile
		if !localSet[tile.Filename] {
			missing = append(missing, tile.Filename)
		}
	}
	sort.Strings(missing)

	if len(missing) > 0 {
		ok, err := c.Client.Creds.Authorize(ctx, spec.Name, missing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("download of %d missing file(s) declined", len(missing))
		}

		if err := c.downloadAndMerge(ctx, spec, local, missing, serverByName); err != nil {
			return nil, err
		}
	}

	c.registryRecord(spec.Name, bbox)
	return c.localPaths(spec, local, bbox), nil
}

// localPaths returns the tile paths for every local atlas entry intersecting
// bbox, sorted for stable output.
func (c *Cache) localPaths(spec DatasetSpec, local *atlas.Index, bbox BBox) []string {
	names := local.Filenames(bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY)
	sort.Strings(names)
	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, filepath.Join(c.tilesDir(spec.Name), name))
	}
	return paths
}

// downloadAndMerge fetches the batch archive, extracts it through a staging
// directory, moves tiles into place, merges their extents into the local
// index, and atomically rewrites the local atlas. Extraction failures abort
// the whole merge with the atlas untouched.
func (c *Cache) downloadAndMerge(ctx context.Context, spec DatasetSpec, local *atlas.Index,
	missing []string, serverByName map[string]models.Tile) error {

	if err := c.Client.Authenticate(ctx); err != nil {
		// A pre-seeded token or an auth-disabled server still works; only
		// an actual 401 downstream is fatal.
		logging.Debug().Err(err).Msg("proceeding without fresh token")
	}

	staging, err := os.MkdirTemp(c.datasetDir(spec.Name), ".staging-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	archive := filepath.Join(staging, "batch.tar.gz")
	if err := c.Client.DownloadBatch(ctx, spec.Name, missing, archive); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			// Re-prompt once and retry; auth failures are never retried
			// blindly.
			if err := c.Client.Authenticate(ctx); err != nil {
				return err
			}
			if err := c.Client.DownloadBatch(ctx, spec.Name, missing, archive); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	extracted, sidecar, err := extractArchive(archive, staging)
	if err != nil {
		return fmt.Errorf("extract batch archive: %w", err)
	}

	// Move tiles into the cache directory and record their extents. All
	// files land on disk (synced) before the atlas references them.
	for _, name := range extracted {
		src := filepath.Join(staging, name)
		dst := filepath.Join(c.tilesDir(spec.Name), name)

		if err := syncFile(src); err != nil {
			return err
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("move %s into cache: %w", name, err)
		}

		entry, err := entryFor(spec.Kind, dst, name, sidecar, serverByName)
		if err != nil {
			logging.Warn().Err(err).Str("file", name).Msg("no extent for extracted tile, skipping atlas entry")
			continue
		}
		local.Insert(entry)
	}

	if err := local.WriteFile(c.atlasPath(spec.Name)); err != nil {
		return fmt.Errorf("update local atlas: %w", err)
	}
	logging.Info().Str("dataset", spec.Name).Int("tiles", len(extracted)).Msg("local atlas updated")
	return nil
}

// entryFor determines the extent of an extracted tile: the sidecar origin
// for vector tiles, the LAS header for point clouds, with the server's
// descriptor as fallback.
func entryFor(kind atlas.Kind, path, name string, sidecar map[string][2]int64,
	serverByName map[string]models.Tile) (atlas.Entry, error) {

	if kind == atlas.KindVector {
		if origin, ok := sidecar[name]; ok {
			return atlas.Entry{
				Filename: name,
				MinX:     float64(origin[0]),
				MinY:     float64(origin[1]),
				MaxX:     float64(origin[0]) + atlas.DefaultVectorTileSize,
				MaxY:     float64(origin[1]) + atlas.DefaultVectorTileSize,
			}, nil
		}
	} else {
		if hdr, err := las.ReadFileHeader(path); err == nil {
			return atlas.Entry{
				Filename: name,
				MinX:     float64(int64(hdr.MinX)),
				MinY:     float64(int64(hdr.MinY)),
				MaxX:     float64(int64(hdr.MaxX)),
				MaxY:     float64(int64(hdr.MaxY)),
			}, nil
		}
	}

	if tile, ok := serverByName[name]; ok && tile.MaxX > tile.MinX {
		return atlas.Entry{Filename: name, MinX: tile.MinX, MinY: tile.MinY, MaxX: tile.MaxX, MaxY: tile.MaxY}, nil
	}
	return atlas.Entry{}, fmt.Errorf("no extent source for %s", name)
}

// extractArchive unpacks a tar or tar.gz archive into dir, returning the
// extracted tile names and the decoded sidecar (nil when absent). Entries
// with path separators are rejected.
func extractArchive(archivePath, dir string) ([]string, map[string][2]int64, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if gz, err := gzip.NewReader(f); err == nil {
		reader = gz
		defer gz.Close()
	} else {
		// Plain tar; rewind after the failed gzip probe.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, nil, err
		}
	}

	tr := tar.NewReader(reader)
	var names []string
	var sidecar map[string][2]int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := hdr.Name
		if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			return nil, nil, fmt.Errorf("archive entry escapes extraction dir: %s", name)
		}

		if name == "missing_coords.json" {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, err
			}
			if err := json.Unmarshal(data, &sidecar); err != nil {
				return nil, nil, fmt.Errorf("decode sidecar: %w", err)
			}
			continue
		}

		out, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, nil, err
		}
		if err := out.Close(); err != nil {
			return nil, nil, err
		}
		names = append(names, name)
	}
	return names, sidecar, nil
}

// syncFile fsyncs one file.
func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// FetchFiles downloads the named tiles concurrently through the single-file
// endpoint, at most ParallelFetches in flight. Cancellation aborts in-flight
// fetches; the local atlas is not touched (callers reconcile afterwards).
func (c *Cache) FetchFiles(ctx context.Context, spec DatasetSpec, filenames []string) error {
	if err := os.MkdirAll(c.tilesDir(spec.Name), 0o755); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	limit := c.ParallelFetches
	if limit <= 0 {
		limit = DefaultParallelFetches
	}
	g.SetLimit(limit)

	for _, name := range filenames {
		g.Go(func() error {
			dst := filepath.Join(c.tilesDir(spec.Name), name)
			return c.Client.FetchFile(ctx, spec.Name, spec.Kind, name, dst)
		})
	}
	return g.Wait()
}

// bboxRecord is one satisfied-bbox registry entry.
type bboxRecord struct {
	BBox [4]float64 `json:"bbox"`
}

// registryHasSuperset reports whether a recorded bbox contains bbox.
func (c *Cache) registryHasSuperset(dataset string, bbox BBox) bool {
	data, err := os.ReadFile(c.registryPath(dataset))
	if err != nil {
		return false
	}
	var records []bboxRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return false
	}
	for _, rec := range records {
		sup := BBox{MinX: rec.BBox[0], MinY: rec.BBox[1], MaxX: rec.BBox[2], MaxY: rec.BBox[3]}
		if sup.Contains(bbox) {
			return true
		}
	}
	return false
}

// registryRecord appends bbox to the satisfied registry. Failures only cost
// a future network round-trip, so they are logged and swallowed.
func (c *Cache) registryRecord(dataset string, bbox BBox) {
	path := c.registryPath(dataset)

	var records []bboxRecord
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &records)
	}
	records = append(records, bboxRecord{BBox: [4]float64{bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY}})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*")
	if err != nil {
		logging.Warn().Err(err).Msg("bbox registry update failed")
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err == nil {
		tmp.Close()
		_ = os.Rename(tmpName, path)
	} else {
		tmp.Close()
		os.Remove(tmpName)
	}
}
