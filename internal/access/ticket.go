// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package access

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

// GitHubTicketer files access requests as issues in a GitHub repository.
// Calls run through a circuit breaker: when the tracker misbehaves the
// breaker opens and intake keeps accepting requests without the extra
// round-trip latency per submission.
type GitHubTicketer struct {
	APIURL     string
	Repo       string
	Token      string
	Labels     []string
	HTTPClient *http.Client
	UserAgent  string

	breaker *gobreaker.CircuitBreaker[TicketResult]
}

// NewGitHubTicketer creates a ticketer for owner/name with the given token.
func NewGitHubTicketer(apiURL, repo, token string, labels []string) *GitHubTicketer {
	t := &GitHubTicketer{
		APIURL:     strings.TrimRight(apiURL, "/"),
		Repo:       repo,
		Token:      token,
		Labels:     labels,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		UserAgent:  "tilevault-server",
	}
	t.breaker = gobreaker.NewCircuitBreaker[TicketResult](gobreaker.Settings{
		Name:    "github-tickets",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return t
}

// CreateTicket implements Ticketer.
func (t *GitHubTicketer) CreateTicket(ctx context.Context, rec Record) (TicketResult, error) {
	if t.Token == "" {
		return TicketResult{}, fmt.Errorf("access: ticket token not configured")
	}
	return t.breaker.Execute(func() (TicketResult, error) {
		return t.post(ctx, rec)
	})
}

func (t *GitHubTicketer) post(ctx context.Context, rec Record) (TicketResult, error) {
	title := fmt.Sprintf("Access request: %s %s (%s)", rec.Name, rec.Surname, rec.GitHubUsername)
	body := strings.Join([]string{
		"New access request received:",
		"",
		fmt.Sprintf("Name: %s %s", rec.Name, rec.Surname),
		fmt.Sprintf("Email: %s", rec.Email),
		fmt.Sprintf("GitHub: %s", rec.GitHubUsername),
		fmt.Sprintf("Remote: %s", rec.RemoteAddr),
		fmt.Sprintf("Timestamp: %s", rec.Timestamp),
		fmt.Sprintf("User-Agent: %s", rec.UserAgent),
	}, "\n")

	payload, err := json.Marshal(map[string]interface{}{
		"title":  title,
		"body":   body,
		"labels": t.Labels,
	})
	if err != nil {
		return TicketResult{}, err
	}

	url := fmt.Sprintf("%s/repos/%s/issues", t.APIURL, t.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return TicketResult{}, err
	}
	req.Header.Set("Authorization", "token "+t.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.UserAgent)

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return TicketResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return TicketResult{}, fmt.Errorf("access: ticket http %d", resp.StatusCode)
	}

	var issue struct {
		HTMLURL string `json:"html_url"`
		URL     string `json:"url"`
		Number  int    `json:"number"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return TicketResult{}, err
	}

	url = issue.HTMLURL
	if url == "" {
		url = issue.URL
	}
	return TicketResult{Created: true, URL: url, ID: issue.Number}, nil
}
