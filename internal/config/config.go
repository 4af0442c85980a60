// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package config loads Tilevault configuration using Koanf v2 with layered
// sources: built-in defaults, an optional YAML config file, then environment
// variables (highest priority). The flat environment names are the historical
// deployment interface (SSH_HOST, RATE_REQ_LIMIT, LIDAR_ATLAS_PATH, ...) and
// map onto nested koanf paths through envTransformFunc.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tilevault/config.yaml",
	"/etc/tilevault/config.yml",
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Datasets  DatasetsConfig  `koanf:"datasets"`
	Access    AccessConfig    `koanf:"access"`
	Ticket    TicketConfig    `koanf:"ticket"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	ShutdownSeconds int    `koanf:"shutdown_seconds"`
}

// AuthConfig holds token and identity-provider settings.
type AuthConfig struct {
	Enabled         bool   `koanf:"enabled"`
	SSHHost         string `koanf:"ssh_host"`
	SSHPort         int    `koanf:"ssh_port"`
	TokenTTLSeconds int    `koanf:"token_ttl_seconds"`
	GitHubAPIURL    string `koanf:"github_api_url"`
	GitHubRepo      string `koanf:"github_repo"`
}

// TokenTTL returns the token lifetime.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// RateLimitConfig holds the sliding-window limiter parameters.
type RateLimitConfig struct {
	Enabled            bool `koanf:"enabled"`
	RequestLimit       int  `koanf:"request_limit"`
	WindowSeconds      int  `koanf:"window_seconds"`
	GlobalLimit        int  `koanf:"global_limit"`
	MinIntervalSeconds int  `koanf:"min_interval_seconds"`
}

// Window returns the sliding-window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// MinInterval returns the per-source inter-arrival floor.
func (c RateLimitConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

// DatasetsConfig holds the built-in dataset paths plus an optional registry
// file for additional datasets.
type DatasetsConfig struct {
	LidarAtlasPath    string `koanf:"lidar_atlas_path"`
	LazDirectory      string `koanf:"laz_directory"`
	GpkgAtlasPath     string `koanf:"gpkg_atlas_path"`
	GpkgDataDirectory string `koanf:"gpkg_data_directory"`
	RegistryPath      string `koanf:"registry_path"`
}

// AccessConfig holds the intake throttle and persistence settings.
type AccessConfig struct {
	RequestsDir        string `koanf:"requests_dir"`
	WindowSeconds      int    `koanf:"window_seconds"`
	MinIntervalSeconds int    `koanf:"min_interval_seconds"`
	MaxPerIP           int    `koanf:"max_per_ip"`
	MaxPerEmail        int    `koanf:"max_per_email"`
	MaxBodyBytes       int64  `koanf:"max_body_bytes"`
}

// Window returns the intake throttle window.
func (c AccessConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// MinInterval returns the intake same-key spacing floor.
func (c AccessConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

// TicketConfig holds the external issue tracker settings.
type TicketConfig struct {
	APIURL string   `koanf:"api_url"`
	Repo   string   `koanf:"repo"`
	Token  string   `koanf:"token"`
	Labels []string `koanf:"labels"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all defaults applied. These mirror the
// reference deployment; env vars override any of them.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8001,
			ShutdownSeconds: 10,
		},
		Auth: AuthConfig{
			Enabled:         true,
			SSHHost:         "localhost",
			SSHPort:         22,
			TokenTTLSeconds: 3600,
			GitHubAPIURL:    "https://api.github.com",
			GitHubRepo:      "",
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			RequestLimit:       5,
			WindowSeconds:      30,
			GlobalLimit:        20,
			MinIntervalSeconds: 0,
		},
		Datasets: DatasetsConfig{},
		Access: AccessConfig{
			RequestsDir:        "/var/lib/tilevault/access_requests",
			WindowSeconds:      3600,
			MinIntervalSeconds: 30,
			MaxPerIP:           5,
			MaxPerEmail:        3,
			MaxBodyBytes:       2048,
		},
		Ticket: TicketConfig{
			APIURL: "https://api.github.com",
			Labels: []string{"access-request"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional config file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps the historical flat environment names onto koanf paths.
var envMappings = map[string]string{
	"port":                "server.port",
	"host":                "server.host",
	"enable_auth":         "auth.enabled",
	"ssh_host":            "auth.ssh_host",
	"ssh_port":            "auth.ssh_port",
	"token_ttl_seconds":   "auth.token_ttl_seconds",
	"github_api_url":      "auth.github_api_url",
	"github_repo":         "auth.github_repo",
	"enable_rate_limit":   "rate_limit.enabled",
	"rate_req_limit":      "rate_limit.request_limit",
	"rate_time_window":    "rate_limit.window_seconds",
	"rate_global_limit":   "rate_limit.global_limit",
	"rate_min_interval":   "rate_limit.min_interval_seconds",
	"lidar_atlas_path":    "datasets.lidar_atlas_path",
	"laz_directory":       "datasets.laz_directory",
	"gpkg_atlas_path":     "datasets.gpkg_atlas_path",
	"gpkg_data_directory": "datasets.gpkg_data_directory",
	"dataset_registry":    "datasets.registry_path",

	"access_requests_dir":             "access.requests_dir",
	"access_req_window_seconds":       "access.window_seconds",
	"access_req_min_interval_seconds": "access.min_interval_seconds",
	"access_req_max_per_ip":           "access.max_per_ip",
	"access_req_max_per_email":        "access.max_per_email",
	"access_req_max_body_bytes":       "access.max_body_bytes",

	"access_github_token":  "ticket.token",
	"access_github_labels": "ticket.labels",
	"ticket_api_url":       "ticket.api_url",
	"ticket_repo":          "ticket.repo",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

// envTransformFunc maps an environment variable name onto a koanf path.
// Unrecognized names are dropped so unrelated environment noise cannot leak
// into the configuration.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// sliceConfigPaths lists paths parsed as comma-separated slices when they
// arrive as env strings.
var sliceConfigPaths = []string{
	"ticket.labels",
}

// processSliceFields converts comma-separated strings to slices for known
// slice fields; YAML-sourced slices pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.SSHHost == "" {
		return fmt.Errorf("auth.ssh_host is required when auth is enabled")
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		return fmt.Errorf("auth.token_ttl_seconds must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limit.window_seconds must be positive")
		}
		if c.RateLimit.RequestLimit <= 0 || c.RateLimit.GlobalLimit <= 0 {
			return fmt.Errorf("rate limits must be positive")
		}
	}
	if c.Access.WindowSeconds <= 0 || c.Access.MaxBodyBytes <= 0 {
		return fmt.Errorf("access throttle parameters must be positive")
	}
	return nil
}
