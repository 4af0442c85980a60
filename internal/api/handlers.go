// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/tilevault/internal/access"
	"github.com/tomtom215/tilevault/internal/auth"
	"github.com/tomtom215/tilevault/internal/config"
)

// Handler carries the capabilities every endpoint draws on. Shared state is
// injected, never global, so tests substitute in-memory fakes freely.
type Handler struct {
	cfg       *config.Config
	datasets  *DatasetSet
	tokens    *auth.TokenStore
	identity  auth.IdentityProvider
	github    *auth.GitHubVerifier
	intake    *access.Intake
	startTime time.Time
}

// NewHandler wires a handler from its collaborators. github and identity may
// be nil when the corresponding auth path is unconfigured.
func NewHandler(cfg *config.Config, datasets *DatasetSet, tokens *auth.TokenStore,
	identity auth.IdentityProvider, github *auth.GitHubVerifier, intake *access.Intake) *Handler {
	return &Handler{
		cfg:       cfg,
		datasets:  datasets,
		tokens:    tokens,
		identity:  identity,
		github:    github,
		intake:    intake,
		startTime: time.Now(),
	}
}

// Root handles the service banner.
//
// @Summary Service banner
// @Tags Core
// @Produce json
// @Success 200 {object} map[string]string
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Tilevault tile distribution server",
	})
}

// healthStatus is the health endpoint payload.
type healthStatus struct {
	Status        string          `json:"status"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Datasets      map[string]bool `json:"datasets"`
}

// Health handles liveness checks and reports per-dataset availability.
//
// @Summary Health and dataset availability
// @Tags Core
// @Produce json
// @Success 200 {object} healthStatus
// @Router /healthz [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	available := make(map[string]bool)
	for _, name := range h.datasets.Names() {
		d, _ := h.datasets.Get(name)
		available[name] = d.Available()
		if !d.Available() {
			status = "degraded"
		}
	}

	respondJSON(w, http.StatusOK, healthStatus{
		Status:        status,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Datasets:      available,
	})
}
