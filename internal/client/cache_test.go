// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package client

import (
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/tilevault/internal/access"
	"github.com/tomtom215/tilevault/internal/api"
	"github.com/tomtom215/tilevault/internal/atlas"
	"github.com/tomtom215/tilevault/internal/auth"
	"github.com/tomtom215/tilevault/internal/config"
	"github.com/tomtom215/tilevault/internal/registry"
)

// lasBytes builds a minimal LAS file: a public header block carrying the
// given extents and no points.
func lasBytes(minx, miny, maxx, maxy float64) []byte {
	buf := make([]byte, 375)
	copy(buf[0:4], "LASF")
	buf[24] = 1 // version major
	buf[25] = 2 // version minor
	binary.LittleEndian.PutUint16(buf[94:96], 375)
	put := func(off int, v float64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
	}
	put(179, maxx)
	put(187, minx)
	put(195, maxy)
	put(203, miny)
	return buf
}

// testEnv is a server + cache pair over temp directories.
type testEnv struct {
	srv      *httptest.Server
	cache    *Cache
	requests *int64 // total HTTP requests observed by the server
	gpkgDir  string
	lazDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gpkgDir := t.TempDir()
	lazDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(gpkgDir, "A.gpkg"), []byte("content-A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(gpkgDir, "B.gpkg"), []byte("content-B"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(lazDir, "t1.laz"), lasBytes(100000, 200000, 102500, 202500), 0o644))

	gpkgIndex := atlas.New(atlas.KindVector)
	gpkgIndex.Insert(atlas.Entry{Filename: "A.gpkg", MinX: 0, MinY: 0, MaxX: 10000, MaxY: 10000})
	gpkgIndex.Insert(atlas.Entry{Filename: "B.gpkg", MinX: 10000, MinY: 20000, MaxX: 20000, MaxY: 30000})

	lazIndex := atlas.New(atlas.KindLAZ)
	lazIndex.Insert(atlas.Entry{Filename: "t1.laz", MinX: 100000, MinY: 200000, MaxX: 102500, MaxY: 202500})

	set := api.NewDatasetSet()
	set.Put(&api.Dataset{
		Dataset: registry.Dataset{Name: "footprints", Kind: atlas.KindVector, DataDir: gpkgDir},
		Index:   gpkgIndex,
	})
	set.Put(&api.Dataset{
		Dataset: registry.Dataset{Name: "pointcloud", Kind: atlas.KindLAZ, DataDir: lazDir},
		Index:   lazIndex,
	})

	cfg := &config.Config{
		Server: config.ServerConfig{Port: 8001},
		Auth:   config.AuthConfig{Enabled: false, TokenTTLSeconds: 3600},
		Access: config.AccessConfig{RequestsDir: t.TempDir(), WindowSeconds: 3600, MaxPerIP: 100, MaxPerEmail: 100, MaxBodyBytes: 2048},
	}
	tokens := auth.NewTokenStore(cfg.Auth.TokenTTL())
	handler := api.NewHandler(cfg, set, tokens, nil, nil,
		access.NewIntake(cfg.Access.RequestsDir, access.DefaultThrottleConfig(), nil))
	router := api.NewRouter(handler, auth.NewMiddleware(tokens, false), nil)

	var requests int64
	routes := router.Setup()
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		routes.ServeHTTP(w, r)
	})
	srv := httptest.NewServer(counted)
	t.Cleanup(srv.Close)

	cache := NewCache(t.TempDir(), NewClient(srv.URL, nil))
	return &testEnv{srv: srv, cache: cache, requests: &requests, gpkgDir: gpkgDir, lazDir: lazDir}
}

func TestReconcileEmptyLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	spec := DatasetSpec{Name: "footprints", Kind: atlas.KindVector}
	bbox := BBox{MinX: 0, MinY: 0, MaxX: 20000, MaxY: 30000}

	paths, err := env.cache.Reconcile(ctx, spec, bbox)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	// Both tiles are on disk with the server's bytes.
	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err, "atlas references missing file %s", p)
		assert.NotEmpty(t, data)
	}

	// The local atlas exists and references only existing files.
	ix, err := atlas.Load(env.cache.atlasPath("footprints"), atlas.KindVector)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())

	// Second call: same paths, zero network requests.
	before := atomic.LoadInt64(env.requests)
	paths2, err := env.cache.Reconcile(ctx, spec, bbox)
	require.NoError(t, err)
	assert.Equal(t, paths, paths2)
	assert.Equal(t, before, atomic.LoadInt64(env.requests), "second reconcile hit the network")
}

func TestReconcilePartialOverlap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	spec := DatasetSpec{Name: "footprints", Kind: atlas.KindVector}

	// Seed the local cache with A only.
	tiles := env.cache.tilesDir("footprints")
	require.NoError(t, os.MkdirAll(tiles, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tiles, "A.gpkg"), []byte("content-A"), 0o644))
	seed := atlas.New(atlas.KindVector)
	seed.Insert(atlas.Entry{Filename: "A.gpkg", MinX: 0, MinY: 0, MaxX: 10000, MaxY: 10000})
	require.NoError(t, seed.WriteFile(env.cache.atlasPath("footprints")))

	bbox := BBox{MinX: 0, MinY: 0, MaxX: 20000, MaxY: 30000}
	paths, err := env.cache.Reconcile(ctx, spec, bbox)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	// B was merged at the sidecar origin.
	ix, err := atlas.Load(env.cache.atlasPath("footprints"), atlas.KindVector)
	require.NoError(t, err)
	origin, ok := ix.Origin("B.gpkg")
	require.True(t, ok)
	assert.Equal(t, [2]int64{10000, 20000}, origin)

	// A's entry survived.
	_, ok = ix.Origin("A.gpkg")
	assert.True(t, ok)
}

func TestReconcileLAZReadsHeaders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	spec := DatasetSpec{Name: "pointcloud", Kind: atlas.KindLAZ}

	bbox := BBox{MinX: 100000, MinY: 200000, MaxX: 103000, MaxY: 203000}
	paths, err := env.cache.Reconcile(ctx, spec, bbox)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	ix, err := atlas.Load(env.cache.atlasPath("pointcloud"), atlas.KindLAZ)
	require.NoError(t, err)
	origin, ok := ix.Origin("t1.laz")
	require.True(t, ok)
	// Extent came from the LAS header, not the sidecar.
	assert.Equal(t, [2]int64{100000, 200000}, origin)
}

func TestReconcileEmptyServerKeepsLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	spec := DatasetSpec{Name: "footprints", Kind: atlas.KindVector}

	// Seed a local-only tile that the server does not list.
	tiles := env.cache.tilesDir("footprints")
	require.NoError(t, os.MkdirAll(tiles, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tiles, "Z.gpkg"), []byte("content-Z"), 0o644))
	seed := atlas.New(atlas.KindVector)
	seed.Insert(atlas.Entry{Filename: "Z.gpkg", MinX: 900000, MinY: 900000, MaxX: 910000, MaxY: 910000})
	require.NoError(t, seed.WriteFile(env.cache.atlasPath("footprints")))

	// A query far away from any server tile: empty server set, no error, and
	// the local-only tile is kept and returned.
	paths, err := env.cache.Reconcile(ctx, spec, BBox{MinX: 900000, MinY: 900000, MaxX: 900001, MaxY: 900001})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(tiles, "Z.gpkg")}, paths)
	_, err = os.Stat(filepath.Join(tiles, "Z.gpkg"))
	assert.NoError(t, err)
}

func TestReconcileInvalidBBox(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.cache.Reconcile(context.Background(),
		DatasetSpec{Name: "footprints", Kind: atlas.KindVector},
		BBox{MinX: 10, MinY: 0, MaxX: 0, MaxY: 10})
	require.Error(t, err)
}

func TestSupersetSkipLaw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	spec := DatasetSpec{Name: "footprints", Kind: atlas.KindVector}

	big := BBox{MinX: 0, MinY: 0, MaxX: 20000, MaxY: 30000}
	_, err := env.cache.Reconcile(ctx, spec, big)
	require.NoError(t, err)

	before := atomic.LoadInt64(env.requests)
	small := BBox{MinX: 1000, MinY: 1000, MaxX: 2000, MaxY: 2000}
	paths, err := env.cache.Reconcile(ctx, spec, small)
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt64(env.requests), "subset bbox still hit the network")
	require.Len(t, paths, 1) // only A covers the small bbox

	// A non-contained bbox does go to the network.
	outside := BBox{MinX: -5000, MinY: 0, MaxX: 1000, MaxY: 1000}
	_, err = env.cache.Reconcile(ctx, spec, outside)
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt64(env.requests), before)
}

func TestSupersetSkipDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.cache.SupersetSkip = false
	ctx := context.Background()
	spec := DatasetSpec{Name: "footprints", Kind: atlas.KindVector}

	bbox := BBox{MinX: 0, MinY: 0, MaxX: 20000, MaxY: 30000}
	_, err := env.cache.Reconcile(ctx, spec, bbox)
	require.NoError(t, err)

	before := atomic.LoadInt64(env.requests)
	_, err = env.cache.Reconcile(ctx, spec, bbox)
	require.NoError(t, err)
	// Discovery ran again, but nothing was missing, so no download happened.
	assert.Equal(t, before+1, atomic.LoadInt64(env.requests))
}

func TestFetchFilesParallel(t *testing.T) {
	env := newTestEnv(t)
	spec := DatasetSpec{Name: "footprints", Kind: atlas.KindVector}

	err := env.cache.FetchFiles(context.Background(), spec, []string{"A.gpkg", "B.gpkg"})
	require.NoError(t, err)

	for _, name := range []string{"A.gpkg", "B.gpkg"} {
		_, err := os.Stat(filepath.Join(env.cache.tilesDir("footprints"), name))
		assert.NoError(t, err)
	}
}

func TestFetchFilesCancellation(t *testing.T) {
	env := newTestEnv(t)
	spec := DatasetSpec{Name: "footprints", Kind: atlas.KindVector}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := env.cache.FetchFiles(ctx, spec, []string{"A.gpkg"})
	require.Error(t, err)
}

func TestBBoxContains(t *testing.T) {
	sup := BBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	assert.True(t, sup.Contains(BBox{MinX: 10, MinY: 10, MaxX: 90, MaxY: 90}))
	assert.True(t, sup.Contains(sup))
	assert.False(t, sup.Contains(BBox{MinX: -1, MinY: 0, MaxX: 50, MaxY: 50}))
	assert.False(t, sup.Contains(BBox{MinX: 0, MinY: 0, MaxX: 101, MaxY: 50}))
}
