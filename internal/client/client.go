// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package client implements the differential cache: a local mirror of
// previously-downloaded tiles reconciled against the server's discovery
// endpoint, downloading only what is missing and updating the local atlas
// atomically.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/atlas"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
)

// Client-side error kinds. Transient network trouble is retried; everything
// else surfaces to the caller with a short explanation.
var (
	ErrNetwork      = errors.New("client: network error")
	ErrUnauthorized = errors.New("client: unauthorized")
	ErrServer       = errors.New("client: server error")
)

// CredentialProvider supplies credentials and download authorization.
// Interactive prompts live in the CLI; the cache core only ever calls this
// capability.
type CredentialProvider interface {
	// Credentials returns a username/password pair for token issuance.
	Credentials(ctx context.Context) (username, password string, err error)

	// Authorize asks whether the given missing files may be downloaded.
	Authorize(ctx context.Context, dataset string, missing []string) (bool, error)
}

// AutoApprove authorizes every download and fails credential requests; it
// fits non-interactive deployments where a token is pre-seeded or the server
// runs with authentication disabled.
type AutoApprove struct{}

// Credentials implements CredentialProvider.
func (AutoApprove) Credentials(context.Context) (string, string, error) {
	return "", "", fmt.Errorf("%w: no credentials available in non-interactive mode", ErrUnauthorized)
}

// Authorize implements CredentialProvider.
func (AutoApprove) Authorize(context.Context, string, []string) (bool, error) {
	return true, nil
}

// retryAttempts bounds transient-error retries (first try plus retries).
const retryAttempts = 3

// retryBase is the initial backoff interval.
const retryBase = time.Second

// Client talks to a Tilevault server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Creds      CredentialProvider

	mu    sync.Mutex
	token string
}

// NewClient creates a client for baseURL. creds may be nil, in which case
// AutoApprove semantics apply.
func NewClient(baseURL string, creds CredentialProvider) *Client {
	if creds == nil {
		creds = AutoApprove{}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Creds:      creds,
	}
}

// SetToken seeds a bearer token, e.g. one obtained out of band.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Authenticate obtains a bearer token from the credential provider and
// stores it for subsequent requests. Authentication failures are not
// retried; the caller decides whether to re-prompt.
func (c *Client) Authenticate(ctx context.Context) error {
	username, password, err := c.Creds.Credentials(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(models.AuthCredentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, "/auth/token", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: identity check rejected credentials", ErrUnauthorized)
	default:
		return fmt.Errorf("%w: token endpoint http %d", ErrServer, resp.StatusCode)
	}

	var tok models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("%w: decode token response: %v", ErrServer, err)
	}
	c.SetToken(tok.Token)
	return nil
}

// Discover asks the server for tiles intersecting bbox. A 404 means the
// server has nothing there and yields an empty set, not an error. LAZ
// datasets get the integer payload with buffer; vector datasets the float
// one.
func (c *Client) Discover(ctx context.Context, dataset string, kind atlas.Kind, bbox BBox, buffer int64) ([]models.Tile, error) {
	var payload []byte
	var err error
	if kind == atlas.KindLAZ {
		payload, err = json.Marshal(models.TileRangeRequest{
			XMin: int64(bbox.MinX), YMin: int64(bbox.MinY),
			XMax: int64(bbox.MaxX), YMax: int64(bbox.MaxY),
			Buffer: buffer,
		})
	} else {
		payload, err = json.Marshal(models.BBoxRequest{
			MinX: bbox.MinX, MinY: bbox.MinY, MaxX: bbox.MaxX, MaxY: bbox.MaxY,
		})
	}
	if err != nil {
		return nil, err
	}

	var tiles []models.Tile
	operation := func() error {
		resp, err := c.postAuthed(ctx, "/datasets/"+dataset+"/tiles", payload)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			tiles = nil
			return nil
		case http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("%w: discovery", ErrUnauthorized))
		default:
			return backoff.Permanent(fmt.Errorf("%w: discovery http %d", ErrServer, resp.StatusCode))
		}

		var disc struct {
			NumTiles int             `json:"num_tiles"`
			Tiles    json.RawMessage `json:"tiles"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&disc); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode discovery: %v", ErrServer, err))
		}
		tiles, err = parseTileList(disc.Tiles)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := c.retry(ctx, operation); err != nil {
		return nil, err
	}
	return tiles, nil
}

// parseTileList accepts both discovery list shapes: bare filenames (vector)
// and full descriptors (LAZ).
func parseTileList(raw json.RawMessage) ([]models.Tile, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var descriptors []models.Tile
	if err := json.Unmarshal(raw, &descriptors); err == nil && (len(descriptors) == 0 || descriptors[0].Filename != "") {
		return descriptors, nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("%w: unrecognized tile list", ErrServer)
	}
	tiles := make([]models.Tile, 0, len(names))
	for _, name := range names {
		tiles = append(tiles, models.Tile{Filename: name})
	}
	return tiles, nil
}

// DownloadBatch streams the batch archive for the named files into destPath.
// Partial files are discarded: the archive lands in a temp file that is
// renamed only after the stream completed.
func (c *Client) DownloadBatch(ctx context.Context, dataset string, filenames []string, destPath string) error {
	payload, err := json.Marshal(models.BatchRequest{Filenames: filenames})
	if err != nil {
		return err
	}

	operation := func() error {
		resp, err := c.postAuthed(ctx, "/datasets/"+dataset+"/batch", payload)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("%w: batch download", ErrUnauthorized))
		case http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: no requested files on server", ErrServer))
		default:
			return backoff.Permanent(fmt.Errorf("%w: batch http %d", ErrServer, resp.StatusCode))
		}

		tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
		if err != nil {
			return backoff.Permanent(err)
		}
		tmpName := tmp.Name()
		if _, err := io.Copy(tmp, resp.Body); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("%w: archive stream: %v", ErrNetwork, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return backoff.Permanent(err)
		}
		if err := os.Rename(tmpName, destPath); err != nil {
			os.Remove(tmpName)
			return backoff.Permanent(err)
		}
		return nil
	}
	return c.retry(ctx, operation)
}

// FetchFile downloads one tile into destPath via the single-file endpoint.
func (c *Client) FetchFile(ctx context.Context, dataset string, kind atlas.Kind, filename, destPath string) error {
	kindSegment := "gpkg"
	if kind == atlas.KindLAZ {
		kindSegment = "lidar"
	}
	url := fmt.Sprintf("%s/files/%s/%s/%s", c.BaseURL, kindSegment, dataset, filename)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.setAuth(req)
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("%w: file fetch", ErrUnauthorized))
		case http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: file not on server: %s", ErrServer, filename))
		default:
			return backoff.Permanent(fmt.Errorf("%w: file fetch http %d", ErrServer, resp.StatusCode))
		}

		tmp, err := os.CreateTemp(filepath.Dir(destPath), ".fetch-*")
		if err != nil {
			return backoff.Permanent(err)
		}
		tmpName := tmp.Name()
		if _, err := io.Copy(tmp, resp.Body); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("%w: file stream: %v", ErrNetwork, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return backoff.Permanent(err)
		}
		return os.Rename(tmpName, destPath)
	}
	return c.retry(ctx, operation)
}

// retry runs operation with exponential backoff on transient errors.
func (c *Client) retry(ctx context.Context, operation func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBase
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, retryAttempts-1), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		logging.Warn().Err(err).Dur("retry_in", next).Msg("transient request failure, retrying")
	})
	return err
}

// post issues a JSON POST without authentication.
func (c *Client) post(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return resp, nil
}

// postAuthed issues a JSON POST carrying the bearer token when present.
func (c *Client) postAuthed(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return resp, nil
}

func (c *Client) setAuth(req *http.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
