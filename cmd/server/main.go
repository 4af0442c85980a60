// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package main is the Tilevault server entry point.
//
// The server initializes in this order: configuration (Koanf v2 layered
// sources), logging, dataset registry + atlas indexes, authentication
// (token store, SSH identity provider, optional GitHub verifier),
// access-request intake, rate limiter, HTTP router, then the supervision tree
// running the HTTP listener until SIGINT/SIGTERM.
//
// Datasets come from two places: the built-in env paths
// (LIDAR_ATLAS_PATH/LAZ_DIRECTORY as "lidar", GPKG_ATLAS_PATH/
// GPKG_DATA_DIRECTORY as "gpkg") and an optional registry JSON file
// (DATASET_REGISTRY) for additional named datasets. A dataset whose atlas
// fails to load is marked unavailable and the rest keep serving.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/tilevault/internal/access"
	"github.com/tomtom215/tilevault/internal/api"
	"github.com/tomtom215/tilevault/internal/atlas"
	"github.com/tomtom215/tilevault/internal/auth"
	"github.com/tomtom215/tilevault/internal/config"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/ratelimit"
	"github.com/tomtom215/tilevault/internal/registry"
	"github.com/tomtom215/tilevault/internal/supervisor"

	_ "github.com/tomtom215/tilevault/docs" // generated swagger docs
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	datasets := api.LoadDatasets(reg)
	if len(datasets.Names()) == 0 {
		return errors.New("no datasets configured; set LIDAR_ATLAS_PATH/GPKG_ATLAS_PATH or DATASET_REGISTRY")
	}

	tokens := auth.NewTokenStore(cfg.Auth.TokenTTL())
	identity := auth.NewSSHIdentityProvider(cfg.Auth.SSHHost, cfg.Auth.SSHPort)

	var github *auth.GitHubVerifier
	if cfg.Auth.GitHubRepo != "" {
		github = auth.NewGitHubVerifier(cfg.Auth.GitHubAPIURL, cfg.Auth.GitHubRepo)
	}

	// The ticket repo defaults to the auth repo; most deployments file
	// access requests against the repository that gates access.
	ticketRepo := cfg.Ticket.Repo
	if ticketRepo == "" {
		ticketRepo = cfg.Auth.GitHubRepo
	}
	var ticketer access.Ticketer
	if cfg.Ticket.Token != "" && ticketRepo != "" {
		ticketer = access.NewGitHubTicketer(cfg.Ticket.APIURL, ticketRepo, cfg.Ticket.Token, cfg.Ticket.Labels)
	}
	intake := access.NewIntake(cfg.Access.RequestsDir, access.ThrottleConfig{
		Window:      cfg.Access.Window(),
		MinInterval: cfg.Access.MinInterval(),
		MaxPerIP:    cfg.Access.MaxPerIP,
		MaxPerEmail: cfg.Access.MaxPerEmail,
	}, ticketer)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			PerSourceLimit: cfg.RateLimit.RequestLimit,
			GlobalLimit:    cfg.RateLimit.GlobalLimit,
			Window:         cfg.RateLimit.Window(),
			MinInterval:    cfg.RateLimit.MinInterval(),
		})
	}

	handler := api.NewHandler(cfg, datasets, tokens, identity, github, intake)
	authMW := auth.NewMiddleware(tokens, cfg.Auth.Enabled)
	router := api.NewRouter(handler, authMW, limiter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownSeconds) * time.Second
	tree := supervisor.NewTree(shutdownTimeout)
	tree.Add(supervisor.NewHTTPServerService(server, shutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", addr).
		Strs("datasets", datasets.Names()).
		Bool("auth", cfg.Auth.Enabled).
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Msg("tilevault server starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("tilevault server stopped")
	return nil
}

// buildRegistry assembles the dataset registry from the built-in env paths
// plus the optional registry file.
func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	var reg *registry.Registry
	var err error
	if cfg.Datasets.RegistryPath != "" {
		reg, err = registry.LoadOrNew(cfg.Datasets.RegistryPath)
		if err != nil {
			return nil, fmt.Errorf("load dataset registry: %w", err)
		}
	} else {
		reg = registry.New()
	}

	if cfg.Datasets.LidarAtlasPath != "" {
		if err := reg.Add(registry.Dataset{
			Name:      "lidar",
			Kind:      atlas.KindLAZ,
			AtlasPath: cfg.Datasets.LidarAtlasPath,
			DataDir:   cfg.Datasets.LazDirectory,
		}); err != nil {
			return nil, err
		}
	}
	if cfg.Datasets.GpkgAtlasPath != "" {
		if err := reg.Add(registry.Dataset{
			Name:      "gpkg",
			Kind:      atlas.KindVector,
			AtlasPath: cfg.Datasets.GpkgAtlasPath,
			DataDir:   cfg.Datasets.GpkgDataDirectory,
		}); err != nil {
			return nil, err
		}
	}

	for _, name := range reg.Names() {
		d, _ := reg.Get(name)
		if d.DataDir == "" {
			return nil, fmt.Errorf("dataset %s has no data directory", name)
		}
		if _, err := os.Stat(d.DataDir); err != nil {
			logging.Warn().Str("dataset", name).Str("dir", d.DataDir).Msg("data directory missing at startup")
		}
	}
	return reg, nil
}
