// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/access"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/validation"
)

// AccessRequest accepts a data-access application: validated, throttled per
// IP and per normalized email, persisted durably, then optionally filed with
// the external tracker.
//
// @Summary Submit an access request
// @Tags Access
// @Accept json
// @Produce json
// @Success 200 {object} models.AccessResponse
// @Failure 400 {object} models.APIResponse
// @Failure 413 {object} models.APIResponse
// @Failure 429 {object} models.APIResponse
// @Router /access/request [post]
func (h *Handler) AccessRequest(w http.ResponseWriter, r *http.Request) {
	maxBody := h.cfg.Access.MaxBodyBytes

	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > maxBody {
			respondError(w, http.StatusRequestEntityTooLarge, models.CodePayloadTooLarge, "Request too large", nil)
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, maxBody)
	defer body.Close()

	var req models.AccessRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, models.CodePayloadTooLarge, "Request too large", nil)
			return
		}
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid request payload", err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Surname = strings.TrimSpace(req.Surname)
	req.Email = strings.TrimSpace(req.Email)
	req.GitHubUsername = strings.TrimSpace(req.GitHubUsername)

	if err := validation.ValidateStruct(&req); err != nil {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, err.Error(), nil)
		return
	}

	rec := access.Record{
		Name:           req.Name,
		Surname:        req.Surname,
		Email:          req.Email,
		GitHubUsername: req.GitHubUsername,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		RemoteAddr:     clientIPOf(r),
		UserAgent:      r.Header.Get("User-Agent"),
	}

	ticket, err := h.intake.Submit(r.Context(), rec)
	switch {
	case errors.Is(err, access.ErrThrottled):
		respondError(w, http.StatusTooManyRequests, models.CodeRateLimited, err.Error(), nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, models.CodeInternal, "Failed to persist request", err)
		return
	}

	metrics.AccessRequestsAccepted.Inc()
	respondJSON(w, http.StatusOK, models.AccessResponse{
		Accepted:      true,
		TicketCreated: ticket.Created,
		TicketURL:     ticket.URL,
		TicketID:      ticket.ID,
	})
}
