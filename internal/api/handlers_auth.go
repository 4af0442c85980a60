// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/tilevault/internal/auth"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
)

// CreateToken exchanges credentials for a bearer token.
//
// @Summary Issue a bearer token from identity-provider credentials
// @Tags Auth
// @Accept json
// @Produce json
// @Success 200 {object} models.TokenResponse
// @Failure 401 {object} models.APIResponse
// @Router /auth/token [post]
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Auth.Enabled {
		// Keep the client flow uniform in all-public deployments.
		respondJSON(w, http.StatusOK, models.TokenResponse{Token: auth.AnonymousToken})
		return
	}

	var creds models.AuthCredentials
	if err := decodeJSON(r, &creds); err != nil {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Invalid credentials payload", err)
		return
	}
	if creds.Username == "" || creds.Password == "" {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "Username and password are required", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), auth.DefaultSSHTimeout)
	defer cancel()
	if err := h.identity.Authenticate(ctx, creds.Username, creds.Password); err != nil {
		respondError(w, http.StatusUnauthorized, models.CodeUnauthorized, "Identity check failed", nil)
		return
	}

	token, err := h.tokens.Issue(creds.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, models.CodeInternal, "Failed to issue token", err)
		return
	}
	logging.Info().Str("user", creds.Username).Msg("token issued")
	respondJSON(w, http.StatusOK, models.TokenResponse{Token: token})
}

// GitHubAuth authenticates through repository membership. The third-party
// token arrives in the JSON body or an Authorization header (Bearer or
// token scheme). Failures report authenticated=false with a reason rather
// than an HTTP error, matching the callback contract.
//
// @Summary Authenticate by GitHub repository permission
// @Tags Auth
// @Accept json
// @Produce json
// @Success 200 {object} models.GitHubAuthResponse
// @Router /auth/github [post]
func (h *Handler) GitHubAuth(w http.ResponseWriter, r *http.Request) {
	var body models.GitHubAuthRequest
	if err := decodeJSON(r, &body); err != nil {
		// An empty or invalid body is fine; the header may carry the token.
		body = models.GitHubAuthRequest{}
	}

	token := body.Token
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		respondJSON(w, http.StatusOK, models.GitHubAuthResponse{Authenticated: false, Reason: "missing token"})
		return
	}
	if h.github == nil {
		respondJSON(w, http.StatusOK, models.GitHubAuthResponse{Authenticated: false, Reason: "github auth not configured"})
		return
	}

	user, err := h.github.Verify(r.Context(), token)
	if err != nil {
		logging.Debug().Err(err).Msg("github verification failed")
		respondJSON(w, http.StatusOK, models.GitHubAuthResponse{Authenticated: false, Reason: reasonOf(err)})
		return
	}

	resp := models.GitHubAuthResponse{Authenticated: true}
	if body.IssueToken {
		serverToken, err := h.tokens.Issue(user.Login)
		if err != nil {
			respondError(w, http.StatusInternalServerError, models.CodeInternal, "Failed to issue token", err)
			return
		}
		ttl := h.tokens.TTL()
		resp.Token = serverToken
		resp.User = user.Login
		resp.ExpiresIn = int64(ttl / time.Second)
		resp.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	respondJSON(w, http.StatusOK, resp)
}

// reasonOf trims the wrapped sentinel off a verification error for the wire.
func reasonOf(err error) string {
	msg := err.Error()
	if i := len(msg) - len(": "+auth.ErrUnauthorized.Error()); i > 0 && msg[i:] == ": "+auth.ErrUnauthorized.Error() {
		return msg[:i]
	}
	return msg
}
