// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/atlas"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
)

// SidecarFilename is the per-batch origin map embedded in vector archives.
const SidecarFilename = "missing_coords.json"

// FetchFile streams one tile file.
//
// @Summary Fetch a single tile file
// @Tags Files
// @Produce octet-stream
// @Param dataset path string true "Dataset name"
// @Param filename path string true "Tile filename"
// @Success 200 {file} binary
// @Failure 400 {object} models.APIResponse
// @Failure 404 {object} models.APIResponse
// @Router /files/{kind}/{dataset}/{filename} [get]
func (h *Handler) FetchFile(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, chi.URLParam(r, "dataset"), chi.URLParam(r, "filename"))
}

// FetchFileCompat serves the legacy single-dataset route, where the kind
// segment doubles as the dataset name.
//
// @Summary Fetch a single tile file (legacy route)
// @Tags Files
// @Produce octet-stream
// @Router /get/{kind}/{filename} [get]
func (h *Handler) FetchFileCompat(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, chi.URLParam(r, "kind"), chi.URLParam(r, "filename"))
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, dataset, filename string) {
	d := h.datasetOr404(w, dataset)
	if d == nil {
		return
	}

	path, err := safeJoin(d.DataDir, filename)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid filename", nil)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "File not found: "+filename, nil)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	}
	if _, err := io.Copy(w, f); err != nil {
		logging.Warn().Err(err).Str("file", filename).Msg("tile stream interrupted")
		return
	}
	metrics.TilesServed.WithLabelValues(dataset).Inc()
}

// FetchBatch streams a gzipped tar archive of the requested files. Files the
// server cannot read are logged and skipped; the batch still succeeds. For
// vector datasets the archive embeds a missing_coords.json sidecar mapping
// each archived filename to its [xmin, ymin] origin, so clients update their
// local atlas without re-parsing geometries. The sidecar is generated
// in-stream; nothing is staged on disk.
//
// @Summary Fetch a batch of tile files as a tar.gz archive
// @Tags Files
// @Accept json
// @Produce octet-stream
// @Param dataset path string true "Dataset name"
// @Success 200 {file} binary
// @Failure 404 {object} models.APIResponse
// @Router /datasets/{dataset}/batch [post]
func (h *Handler) FetchBatch(w http.ResponseWriter, r *http.Request) {
	h.serveBatch(w, r, chi.URLParam(r, "dataset"))
}

// FetchBatchLAZ serves the built-in point-cloud dataset's batch route.
func (h *Handler) FetchBatchLAZ(w http.ResponseWriter, r *http.Request) {
	h.serveBatch(w, r, "lidar")
}

// FetchBatchVector serves the built-in vector dataset's batch route.
func (h *Handler) FetchBatchVector(w http.ResponseWriter, r *http.Request) {
	h.serveBatch(w, r, "gpkg")
}

func (h *Handler) serveBatch(w http.ResponseWriter, r *http.Request, dataset string) {
	d := h.datasetOr404(w, dataset)
	if d == nil {
		return
	}

	var req models.BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid batch payload", err)
		return
	}
	if len(req.Filenames) == 0 {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "No filenames requested", nil)
		return
	}

	// Resolve and dedupe up front; each archived name appears exactly once.
	seen := make(map[string]bool, len(req.Filenames))
	members := make([]batchMember, 0, len(req.Filenames))
	for _, name := range req.Filenames {
		if seen[name] {
			continue
		}
		seen[name] = true

		path, err := safeJoin(d.DataDir, name)
		if err != nil {
			respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid filename: "+name, nil)
			return
		}
		if _, err := os.Stat(path); err != nil {
			logging.Warn().Str("file", name).Str("dataset", dataset).Msg("batch member missing, skipping")
			continue
		}
		members = append(members, batchMember{name: name, path: path})
	}
	if len(members) == 0 {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "None of the requested files exist", nil)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "tiles_"+dataset+".tar.gz"))
	w.WriteHeader(http.StatusOK)

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if d.Kind == atlas.KindVector {
		if err := writeSidecar(tw, d, members); err != nil {
			logging.Error().Err(err).Msg("batch sidecar write failed")
			return
		}
	}

	for _, m := range members {
		if err := addTarFile(tw, m.path, m.name); err != nil {
			// The archive is already streaming; the file is dropped and the
			// batch continues.
			logging.Error().Err(err).Str("file", m.name).Msg("batch member read failed, omitted")
		}
	}

	if err := tw.Close(); err != nil {
		logging.Warn().Err(err).Msg("batch tar close failed")
	}
	if err := gz.Close(); err != nil {
		logging.Warn().Err(err).Msg("batch gzip close failed")
	}
	metrics.BatchArchives.WithLabelValues(dataset).Inc()
}

// batchMember is one resolved archive entry.
type batchMember struct {
	name string
	path string
}

// writeSidecar adds the origin map entry for the archived members.
func writeSidecar(tw *tar.Writer, d *Dataset, members []batchMember) error {
	coords := make(map[string][2]int64, len(members))
	for _, m := range members {
		if origin, ok := d.Index.Origin(m.name); ok {
			coords[m.name] = origin
		} else {
			logging.Warn().Str("file", m.name).Msg("no atlas origin for batch member")
		}
	}

	data, err := json.MarshalIndent(coords, "", "  ")
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name: SidecarFilename,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

// addTarFile streams one file into the archive under arcname.
func addTarFile(tw *tar.Writer, path, arcname string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = arcname

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
