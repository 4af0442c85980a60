// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package main provides the Tilevault HTTP server
//
// @title Tilevault API
// @version 1.0
// @description Spatial tile distribution service for large geospatial datasets
// @description (LiDAR point clouds in LAZ form, vector footprints in GPKG form).
// @description
// @description ## Discovery
// @description
// @description POST a bounding box in the dataset's projected CRS to a tiles
// @description endpoint and receive the filenames (or full descriptors) of every
// @description prebuilt tile intersecting it. Clients keep a local mirror and
// @description download only the set difference through the batch endpoint.
// @description
// @description ## Authentication
// @description
// @description Exchange identity-provider credentials at `/auth/token` (or a
// @description GitHub token with repository access at `/auth/github`) for an
// @description opaque bearer token, then send `Authorization: Bearer <token>`.
// @description Health, docs, metrics, token issuance, and access-request intake
// @description are public.
// @description
// @description ## Rate Limiting
// @description
// @description A sliding-window limiter guards all endpoints before
// @description authentication; 429 responses carry the standard error envelope.
//
// @contact.name GitHub Repository
// @contact.url https://github.com/tomtom215/tilevault/issues
//
// @license.name AGPL-3.0-or-later
// @license.url https://www.gnu.org/licenses/agpl-3.0.html
//
// @host localhost:8001
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer token from /auth/token
package main
