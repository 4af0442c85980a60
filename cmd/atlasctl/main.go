// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package main is atlasctl, the operator CLI: it builds an atlas from a
// directory of prebuilt tiles and registers the dataset so the server can
// serve it. Tile generation itself (cutting source data into the grid) is
// the job of the external builder; atlasctl indexes its outputs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tomtom215/tilevault/internal/atlas"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/registry"
)

var (
	rootDir        string
	targetFilename string
	outputDir      string
	tileSize       float64
	workers        int
	layer          string
	atlasFile      string
	mapFile        string
	configPath     string
	logLevel       string
	kind           string
	roundUp99      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "atlasctl",
		Short:         "Build tile atlases and register datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBuildCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <dataset>",
		Short: "Build an atlas from prebuilt tiles and register the dataset",
		Long: `Build scans a directory of prebuilt tiles (reading LAZ headers for
point clouds, or a filename-to-origin map file for vector grids), writes the
atlas JSON, and records the dataset in the registry file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.Config{Level: logLevel, Format: "console"})
			return runBuild(args[0])
		},
	}

	cmd.Flags().StringVar(&rootDir, "root-dir", "", "source data root handed to the external tile generator")
	cmd.Flags().StringVar(&targetFilename, "target-filename", "", "source file the tiles were generated from")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory holding the prebuilt tiles (required)")
	cmd.Flags().Float64Var(&tileSize, "tile-size", 0, "grid cell size for map-file builds")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count recorded for the external generator")
	cmd.Flags().StringVar(&layer, "layer", "", "source layer recorded for the external generator")
	cmd.Flags().StringVar(&atlasFile, "atlas-file", "", "atlas output path (default <output-dir>/atlas.json)")
	cmd.Flags().StringVar(&mapFile, "map-file", "", "filename-to-origin JSON map (vector builds)")
	cmd.Flags().StringVar(&configPath, "config-path", "datasets.json", "dataset registry file to update")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&kind, "kind", "laz", "atlas kind: laz or vector")
	cmd.Flags().BoolVar(&roundUp99, "round-up-99", false, "promote tile dimensions ending in 99 by one unit")
	_ = cmd.MarkFlagRequired("output-dir")

	return cmd
}

func runBuild(dataset string) error {
	opts := atlas.BuildOptions{RoundUp99: roundUp99, TileSize: tileSize}

	var (
		ix  *atlas.Index
		err error
	)
	switch atlas.Kind(kind) {
	case atlas.KindLAZ:
		ix, err = atlas.BuildFromLAZDir(outputDir, opts)
	case atlas.KindVector:
		if mapFile == "" {
			return fmt.Errorf("--map-file is required for vector builds")
		}
		ix, err = atlas.BuildFromCoordsMap(mapFile, opts)
	default:
		return fmt.Errorf("unknown kind %q (want laz or vector)", kind)
	}
	if err != nil {
		return err
	}

	out := atlasFile
	if out == "" {
		out = filepath.Join(outputDir, "atlas.json")
	}
	if err := ix.WriteFile(out); err != nil {
		return err
	}
	logging.Info().Str("atlas", out).Int("tiles", ix.Len()).Msg("atlas written")

	reg, err := registry.LoadOrNew(configPath)
	if err != nil {
		return err
	}
	if err := reg.Add(registry.Dataset{
		Name:      dataset,
		Kind:      atlas.Kind(kind),
		AtlasPath: out,
		DataDir:   outputDir,
	}); err != nil {
		return err
	}
	if err := reg.Save(configPath); err != nil {
		return err
	}
	logging.Info().
		Str("dataset", dataset).
		Str("registry", configPath).
		Str("root_dir", rootDir).
		Str("target", targetFilename).
		Str("layer", layer).
		Int("workers", workers).
		Msg("dataset registered")
	return nil
}
