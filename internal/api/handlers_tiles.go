// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tilevault/internal/atlas"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
)

// datasetOr404 resolves a dataset and writes the failure response itself
// when the dataset is missing or unavailable.
func (h *Handler) datasetOr404(w http.ResponseWriter, name string) *Dataset {
	d, ok := h.datasets.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "Unknown dataset: "+name, nil)
		return nil
	}
	if !d.Available() {
		respondError(w, http.StatusInternalServerError, models.CodeDatasetUnavailable,
			"Dataset atlas not loaded on server: "+name, d.LoadErr)
		return nil
	}
	return d
}

// DiscoverLAZ handles point-cloud tile discovery: integer bbox plus an
// optional buffer expanding it on all sides.
//
// @Summary Discover point-cloud tiles intersecting a bbox
// @Tags Tiles
// @Accept json
// @Produce json
// @Success 200 {object} models.DiscoveryResponse
// @Failure 400 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Router /lidar/tiles [post]
func (h *Handler) DiscoverLAZ(w http.ResponseWriter, r *http.Request) {
	h.discoverLAZDataset(w, r, "lidar")
}

// DiscoverVector handles vector tile discovery: float bbox, no buffer.
//
// @Summary Discover vector tiles intersecting a bbox
// @Tags Tiles
// @Accept json
// @Produce json
// @Success 200 {object} models.DiscoveryResponse
// @Failure 400 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Router /gpkg/tiles [post]
func (h *Handler) DiscoverVector(w http.ResponseWriter, r *http.Request) {
	h.discoverVectorDataset(w, r, "gpkg")
}

// DiscoverDataset handles discovery for any registered dataset, dispatching
// on its atlas kind.
//
// @Summary Discover tiles in a named dataset
// @Tags Tiles
// @Accept json
// @Produce json
// @Param dataset path string true "Dataset name"
// @Success 200 {object} models.DiscoveryResponse
// @Failure 400 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Router /datasets/{dataset}/tiles [post]
func (h *Handler) DiscoverDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "dataset")
	d, ok := h.datasets.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "Unknown dataset: "+name, nil)
		return
	}
	if d.Kind == atlas.KindLAZ {
		h.discoverLAZDataset(w, r, name)
		return
	}
	h.discoverVectorDataset(w, r, name)
}

func (h *Handler) discoverLAZDataset(w http.ResponseWriter, r *http.Request, name string) {
	d := h.datasetOr404(w, name)
	if d == nil {
		return
	}

	var req models.TileRangeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid bbox payload", err)
		return
	}
	minx, miny, maxx, maxy, ok := req.Buffered()
	if !ok {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid bbox after buffering", nil)
		return
	}

	tiles := d.Index.Query(float64(minx), float64(miny), float64(maxx), float64(maxy))
	if len(tiles) == 0 {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "No tiles intersect the requested bbox", nil)
		return
	}

	metrics.TilesDiscovered.WithLabelValues(name).Add(float64(len(tiles)))
	respondJSON(w, http.StatusOK, models.DiscoveryResponse{
		Message:  "Success",
		NumTiles: len(tiles),
		Tiles:    tiles,
	})
}

func (h *Handler) discoverVectorDataset(w http.ResponseWriter, r *http.Request, name string) {
	d := h.datasetOr404(w, name)
	if d == nil {
		return
	}

	var req models.BBoxRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid bbox payload", err)
		return
	}
	if !req.Valid() {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid bbox: min must be <= max", nil)
		return
	}

	filenames := d.Index.Filenames(req.MinX, req.MinY, req.MaxX, req.MaxY)
	if len(filenames) == 0 {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "No tiles intersect the requested bounding box", nil)
		return
	}

	metrics.TilesDiscovered.WithLabelValues(name).Add(float64(len(filenames)))
	respondJSON(w, http.StatusOK, models.DiscoveryResponse{
		Message:  "Success",
		NumTiles: len(filenames),
		Tiles:    filenames,
	})
}
