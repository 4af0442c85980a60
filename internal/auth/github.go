// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Permission is a repository permission level, ordered weakest first.
type Permission int

// Permission levels, matching GitHub's repository roles.
const (
	PermNone Permission = iota
	PermRead
	PermTriage
	PermWrite
	PermMaintain
	PermAdmin
)

// String returns the GitHub-facing label.
func (p Permission) String() string {
	switch p {
	case PermRead:
		return "read"
	case PermTriage:
		return "triage"
	case PermWrite:
		return "write"
	case PermMaintain:
		return "maintain"
	case PermAdmin:
		return "admin"
	default:
		return "none"
	}
}

// GitHubVerifier proves identity through repository membership: a personal
// token whose holder has at least RequiredPermission on Repo authenticates.
type GitHubVerifier struct {
	APIURL             string // e.g. https://api.github.com
	Repo               string // owner/name
	RequiredPermission Permission
	HTTPClient         *http.Client
	UserAgent          string
}

// VerifiedUser is the outcome of a successful verification.
type VerifiedUser struct {
	Login      string
	Permission Permission
}

// NewGitHubVerifier creates a verifier requiring at least write on repo.
func NewGitHubVerifier(apiURL, repo string) *GitHubVerifier {
	return &GitHubVerifier{
		APIURL:             strings.TrimRight(apiURL, "/"),
		Repo:               repo,
		RequiredPermission: PermWrite,
		HTTPClient:         &http.Client{Timeout: 10 * time.Second},
		UserAgent:          "tilevault-server",
	}
}

// Verify checks the token owner's permission on the configured repository.
// It returns ErrUnauthorized wrapped with a short reason when the token is
// invalid, the repository is inaccessible, or the permission is too low.
func (v *GitHubVerifier) Verify(ctx context.Context, token string) (*VerifiedUser, error) {
	var me struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		ID    int64  `json:"id"`
	}
	status, err := v.getJSON(ctx, "/user", token, &me)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("user check http %d: %w", status, ErrUnauthorized)
	}

	var repo struct {
		Permissions struct {
			Admin    bool `json:"admin"`
			Maintain bool `json:"maintain"`
			Push     bool `json:"push"`
			Triage   bool `json:"triage"`
			Pull     bool `json:"pull"`
		} `json:"permissions"`
	}
	status, err = v.getJSON(ctx, "/repos/"+v.Repo, token, &repo)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		// 404 covers both a missing repo and a token with no access to it.
		return nil, fmt.Errorf("repo check http %d: %w", status, ErrUnauthorized)
	}

	perm := PermNone
	switch {
	case repo.Permissions.Admin:
		perm = PermAdmin
	case repo.Permissions.Maintain:
		perm = PermMaintain
	case repo.Permissions.Push:
		perm = PermWrite
	case repo.Permissions.Triage:
		perm = PermTriage
	case repo.Permissions.Pull:
		perm = PermRead
	}

	if perm < v.RequiredPermission {
		return nil, fmt.Errorf("insufficient permission %s: %w", perm, ErrUnauthorized)
	}

	login := me.Login
	if login == "" {
		login = me.Name
	}
	if login == "" {
		login = fmt.Sprintf("github:%d", me.ID)
	}
	return &VerifiedUser{Login: login, Permission: perm}, nil
}

// getJSON performs an authenticated GET and decodes the body into out.
// Non-JSON bodies decode to the zero value; the status code still reports
// the outcome.
func (v *GitHubVerifier) getJSON(ctx context.Context, path, token string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.APIURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", v.UserAgent)

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	_ = json.NewDecoder(resp.Body).Decode(out)
	return resp.StatusCode, nil
}

// BearerToken extracts a token from an Authorization header carrying either
// the "Bearer" or GitHub's legacy "token" scheme. Empty when absent.
func BearerToken(header string) string {
	lower := strings.ToLower(header)
	switch {
	case strings.HasPrefix(lower, "bearer "):
		return strings.TrimSpace(header[len("bearer "):])
	case strings.HasPrefix(lower, "token "):
		return strings.TrimSpace(header[len("token "):])
	default:
		return ""
	}
}
