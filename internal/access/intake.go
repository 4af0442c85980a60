// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package access implements the access-request intake: validated form posts
// throttled per IP and per normalized email, appended crash-safe to a
// line-delimited JSON log, with best-effort ticket creation in an external
// issue tracker.
package access

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/logging"
)

// LogFilename is the intake log file inside the configured directory.
const LogFilename = "requests.jsonl"

// ErrThrottled is returned when a submission exceeds the intake limits.
var ErrThrottled = errors.New("access: too many requests")

// Record is one persisted access request.
type Record struct {
	Name           string `json:"name"`
	Surname        string `json:"surname"`
	Email          string `json:"email"`
	GitHubUsername string `json:"github_username"`
	Timestamp      string `json:"timestamp"`
	RemoteAddr     string `json:"remote_addr"`
	UserAgent      string `json:"user_agent"`
}

// ThrottleConfig bounds intake volume independently of the general limiter.
type ThrottleConfig struct {
	Window      time.Duration
	MinInterval time.Duration
	MaxPerIP    int
	MaxPerEmail int
}

// DefaultThrottleConfig mirrors the reference deployment.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Window:      time.Hour,
		MinInterval: 30 * time.Second,
		MaxPerIP:    5,
		MaxPerEmail: 3,
	}
}

// TicketResult reports the outcome of external ticket creation.
type TicketResult struct {
	Created bool
	URL     string
	ID      int
}

// Ticketer files a summary of a persisted record with an external tracker.
// Implementations must be best-effort: a failure never fails the intake.
type Ticketer interface {
	CreateTicket(ctx context.Context, rec Record) (TicketResult, error)
}

// Intake validates, throttles, and persists access requests. The throttle
// counters and the log append share one mutex so the limits stay honest when
// submissions race.
type Intake struct {
	dir      string
	cfg      ThrottleConfig
	ticketer Ticketer

	mu       sync.Mutex
	ipLog    map[string][]time.Time
	emailLog map[string][]time.Time
	now      func() time.Time
}

// NewIntake creates an intake persisting under dir. ticketer may be nil.
func NewIntake(dir string, cfg ThrottleConfig, ticketer Ticketer) *Intake {
	return &Intake{
		dir:      dir,
		cfg:      cfg,
		ticketer: ticketer,
		ipLog:    make(map[string][]time.Time),
		emailLog: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// NormalizeEmail lowercases and trims an address for throttle keying.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Submit throttles and persists rec, then files a ticket when a ticketer is
// configured. The record is fsynced to the log before Submit returns nil;
// ticket failures are logged and reported through the zero TicketResult.
func (in *Intake) Submit(ctx context.Context, rec Record) (TicketResult, error) {
	emailKey := NormalizeEmail(rec.Email)

	in.mu.Lock()
	if err := in.admitLocked(rec.RemoteAddr, emailKey); err != nil {
		in.mu.Unlock()
		return TicketResult{}, err
	}
	err := in.appendLocked(rec)
	in.mu.Unlock()
	if err != nil {
		return TicketResult{}, err
	}

	if in.ticketer == nil {
		return TicketResult{}, nil
	}
	result, err := in.ticketer.CreateTicket(ctx, rec)
	if err != nil {
		// Best-effort: the record is already durable.
		logging.Warn().Err(err).Str("email", emailKey).Msg("access ticket creation failed")
		return TicketResult{}, nil
	}
	return result, nil
}

// admitLocked applies the sliding-window throttle for both keys, recording
// the admission. Caller holds in.mu.
func (in *Intake) admitLocked(ip, email string) error {
	now := in.now()
	cutoff := now.Add(-in.cfg.Window)

	ips := pruneBefore(in.ipLog[ip], cutoff)
	emails := pruneBefore(in.emailLog[email], cutoff)

	if in.cfg.MinInterval > 0 {
		if len(ips) > 0 && now.Sub(ips[len(ips)-1]) < in.cfg.MinInterval {
			in.ipLog[ip] = ips
			in.emailLog[email] = emails
			return fmt.Errorf("%w (ip interval)", ErrThrottled)
		}
		if len(emails) > 0 && now.Sub(emails[len(emails)-1]) < in.cfg.MinInterval {
			in.ipLog[ip] = ips
			in.emailLog[email] = emails
			return fmt.Errorf("%w (email interval)", ErrThrottled)
		}
	}
	if in.cfg.MaxPerIP > 0 && len(ips) >= in.cfg.MaxPerIP {
		in.ipLog[ip] = ips
		in.emailLog[email] = emails
		return fmt.Errorf("%w (ip window)", ErrThrottled)
	}
	if in.cfg.MaxPerEmail > 0 && len(emails) >= in.cfg.MaxPerEmail {
		in.ipLog[ip] = ips
		in.emailLog[email] = emails
		return fmt.Errorf("%w (email window)", ErrThrottled)
	}

	in.ipLog[ip] = append(ips, now)
	in.emailLog[email] = append(emails, now)
	return nil
}

func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && entries[i].Before(cutoff) {
		i++
	}
	return entries[i:]
}

// appendLocked writes one JSONL record with O_APPEND plus fsync, so a crash
// leaves either a complete line or nothing. Caller holds in.mu.
func (in *Intake) appendLocked(rec Record) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("access: create log dir: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("access: marshal record: %w", err)
	}
	line = append(line, '\n')

	path := filepath.Join(in.dir, LogFilename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("access: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("access: append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("access: sync log: %w", err)
	}
	return nil
}

// LogPath returns the path of the intake log file.
func (in *Intake) LogPath() string {
	return filepath.Join(in.dir, LogFilename)
}
