// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
)

// errUnsafeFilename marks a filename that failed the traversal check.
var errUnsafeFilename = errors.New("unsafe filename")

// maxJSONBody caps JSON request bodies on endpoints without their own limit.
const maxJSONBody = 1 << 20

// respondJSON writes v as a JSON response.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError writes the error envelope.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}
	respondJSON(w, status, &models.APIResponse{
		Status: "error",
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
		},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// decodeJSON decodes a capped request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxJSONBody)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// safeJoin resolves filename against baseDir, rejecting anything that could
// escape it: path separators, "..", empty or dot names. The result always
// names a direct child of baseDir.
func safeJoin(baseDir, filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." {
		return "", errUnsafeFilename
	}
	if strings.Contains(filename, "..") {
		return "", errUnsafeFilename
	}
	if strings.ContainsAny(filename, `/\`) || filename != filepath.Base(filename) {
		return "", errUnsafeFilename
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	target := filepath.Join(base, filename)
	if !strings.HasPrefix(target, base+string(os.PathSeparator)) {
		return "", errUnsafeFilename
	}
	// Resolve symlinks so a link inside baseDir cannot point outside it.
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		realBase, err := filepath.EvalSymlinks(base)
		if err != nil || !strings.HasPrefix(resolved, realBase+string(os.PathSeparator)) {
			return "", errUnsafeFilename
		}
	}
	return target, nil
}

// clientIPOf returns the request's source IP without the port.
func clientIPOf(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 && strings.Count(host, ":") == 1 {
		host = host[:i]
	} else if strings.HasPrefix(host, "[") {
		if j := strings.IndexByte(host, ']'); j > 0 {
			host = host[1:j]
		}
	}
	return host
}
