// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package hubconn

import (
	"log/slog"
	"time"

	"github.com/hubconn/client/internal/buffer"
	"github.com/hubconn/client/internal/protocol"
	"github.com/hubconn/client/internal/registry"
	"github.com/hubconn/client/internal/retry"
	"github.com/hubconn/client/internal/transport"
)

const (
	defaultKeepAliveInterval = 15 * time.Second
	defaultServerTimeout     = 30 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
)

// Option configures a HubConnection at construction time.
type Option func(*HubConnection)

// WithRetryPolicy sets the reconnection policy. The default is
// retry.NewDefaultPolicy().
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *HubConnection) { c.retryPolicy = p }
}

// WithLogger sets the structured logger passed to every collaborator. The
// default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *HubConnection) { c.baseLogger = logger }
}

// WithKeepAliveInterval overrides the default 15s ping cadence.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *HubConnection) { c.keepAliveInterval = d }
}

// WithServerTimeout overrides the default 30s server-silence timeout.
func WithServerTimeout(d time.Duration) Option {
	return func(c *HubConnection) { c.serverTimeout = d }
}

// WithHandshakeTimeout overrides the default 15s handshake wait.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *HubConnection) { c.handshakeTimeout = d }
}

// WithBufferOptions configures the stateful-reconnect message buffer used
// when the transport advertises reconnect support.
func WithBufferOptions(opts buffer.Options) Option {
	return func(c *HubConnection) { c.bufferOpts = opts }
}

// New constructs a HubConnection in the Disconnected state, targeting t
// with the given HubProtocol. Callers typically override defaults with one
// or more Option values.
func New(t transport.Transport, proto protocol.HubProtocol, opts ...Option) *HubConnection {
	c := &HubConnection{
		transport:         t,
		protocol:          proto,
		handshakeProto:    protocol.NewHandshakeProtocol(),
		retryPolicy:       retry.NewDefaultPolicy(),
		baseLogger:        slog.Default(),
		keepAliveInterval: defaultKeepAliveInterval,
		serverTimeout:     defaultServerTimeout,
		handshakeTimeout:  defaultHandshakeTimeout,
		handlers:          make(map[string][]handlerEntry),
		registry:          registry.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.baseLogger = c.baseLogger.With("component", "hubconn")
	c.logger = c.baseLogger
	return c
}
