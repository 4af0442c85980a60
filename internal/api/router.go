// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tomtom215/tilevault/internal/auth"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/middleware"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/ratelimit"
)

// Router assembles the HTTP surface from the handler and cross-cutting
// middleware.
type Router struct {
	handler *Handler
	authMW  *auth.Middleware
	limiter *ratelimit.Limiter
}

// NewRouter wires a router. limiter may be nil when rate limiting is
// disabled.
func NewRouter(handler *Handler, authMW *auth.Middleware, limiter *ratelimit.Limiter) *Router {
	// The 401 body goes through the shared envelope writer.
	authMW.OnUnauthorized = func(w http.ResponseWriter, _ *http.Request, reason string) {
		respondError(w, http.StatusUnauthorized, models.CodeUnauthorized, reason, nil)
	}
	return &Router{handler: handler, authMW: authMW, limiter: limiter}
}

// Setup configures all routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)        // X-Request-ID header + context
	r.Use(chimiddleware.RealIP)        // Extract real IP from X-Forwarded-For
	r.Use(chimiddleware.Recoverer)     // Recover from panics
	r.Use(cors.Handler(cors.Options{ // CORS must be global to handle OPTIONS preflight
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))
	r.Use(middleware.PrometheusMetrics)

	// Sliding-window admission control runs before authentication so
	// unauthenticated floods are rejected cheaply.
	if router.limiter != nil {
		r.Use(router.limiter.Middleware(func(w http.ResponseWriter, _ *http.Request) {
			metrics.RateLimitRejections.Inc()
			respondError(w, http.StatusTooManyRequests, models.CodeRateLimited, "Too many requests", nil)
		}))
	}

	r.Use(router.authMW.Handler)

	// ========================
	// Public Endpoints
	// ========================
	r.Get("/", router.handler.Root)
	r.With(httprate.LimitByIP(1000, time.Minute)).Get("/healthz", router.handler.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// ========================
	// Authentication Endpoints
	// ========================
	// Strict route-group limit against credential stuffing, on top of the
	// global limiter.
	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, 5*time.Minute))
		r.Post("/token", router.handler.CreateToken)
		r.Post("/github", router.handler.GitHubAuth)
	})

	// ========================
	// Access-Request Intake
	// ========================
	r.Post("/access/request", router.handler.AccessRequest)

	// ========================
	// Tile Discovery + Delivery
	// ========================
	r.Post("/lidar/tiles", router.handler.DiscoverLAZ)
	r.Post("/get_lidar", router.handler.DiscoverLAZ) // back-compat
	r.Post("/gpkg/tiles", router.handler.DiscoverVector)
	r.Post("/tiles", router.handler.DiscoverVector) // back-compat
	r.Post("/datasets/{dataset}/tiles", router.handler.DiscoverDataset)

	r.Get("/files/{kind}/{dataset}/{filename}", router.handler.FetchFile)
	r.Get("/get/{kind}/{filename}", router.handler.FetchFileCompat) // back-compat

	r.Post("/lidar/batch", router.handler.FetchBatchLAZ)
	r.Post("/gpkg/batch", router.handler.FetchBatchVector)
	r.Post("/datasets/{dataset}/batch", router.handler.FetchBatch)

	return r
}
