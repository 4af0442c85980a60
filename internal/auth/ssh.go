// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package auth

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tomtom215/tilevault/internal/logging"
)

// IdentityProvider checks a username/password pair against an external
// identity source. Implementations must respect the context deadline.
type IdentityProvider interface {
	Authenticate(ctx context.Context, username, password string) error
}

// DefaultSSHTimeout bounds the outbound identity check. A provider that
// cannot answer in this window is treated as an authentication failure.
const DefaultSSHTimeout = 5 * time.Second

// SSHIdentityProvider validates credentials by attempting an SSH session to
// a trusted host: the handshake succeeding is the identity proof. No channel
// is ever opened; the connection closes right after the handshake.
type SSHIdentityProvider struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// NewSSHIdentityProvider creates a provider for host:port.
func NewSSHIdentityProvider(host string, port int) *SSHIdentityProvider {
	return &SSHIdentityProvider{Host: host, Port: port, Timeout: DefaultSSHTimeout}
}

// Authenticate dials the identity host with password auth. Any failure
// (refused credentials, network trouble, timeout) maps to ErrUnauthorized;
// the distinction is logged but not surfaced to the caller.
func (p *SSHIdentityProvider) Authenticate(ctx context.Context, username, password string) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultSSHTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	cfg := &ssh.ClientConfig{
		User: username,
		Auth: []ssh.AuthMethod{ssh.Password(password)},
		// The identity host is operator-configured; host key pinning is not
		// part of the reference deployment.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		logging.Debug().Err(err).Str("host", p.Host).Str("user", username).Msg("ssh identity check failed")
		return ErrUnauthorized
	}
	client.Close()
	return nil
}

// StaticIdentityProvider authenticates against a fixed credential table.
// Test and development use only.
type StaticIdentityProvider struct {
	Users map[string]string
}

// Authenticate implements IdentityProvider.
func (p *StaticIdentityProvider) Authenticate(_ context.Context, username, password string) error {
	if pw, ok := p.Users[username]; ok && pw == password {
		return nil
	}
	return ErrUnauthorized
}
