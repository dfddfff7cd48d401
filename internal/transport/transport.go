// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package transport defines the Transport contract the hub connection
// coordinator depends on, and ships a WebSocket reference implementation.
// Transport negotiation, URL handling, and HTTP concerns are deliberately
// out of scope for the coordinator — this package is the seam.
package transport

import (
	"context"

	"github.com/hubconn/client/internal/protocol"
)

// Features advertises what a Transport can do. When Reconnect is true the
// transport is responsible for calling Disconnected when the underlying
// connection drops and Resend after a new one is established; the
// coordinator wires these two hooks to its MessageBuffer.
type Features struct {
	// InherentKeepAlive means the transport itself detects silent peers
	// (e.g. WebSocket ping/pong at the protocol level), so the
	// coordinator's server-timeout timer is suppressed entirely.
	InherentKeepAlive bool

	// Reconnect means the transport supports stateful reconnect: it will
	// invoke Disconnected on transport loss and Resend after
	// re-establishing, rather than the coordinator tearing the logical
	// connection down.
	Reconnect bool

	// Resend is set by the coordinator after Reconnect negotiation; the
	// transport calls it once a new underlying connection is up.
	Resend func(ctx context.Context) error

	// Disconnected is set by the coordinator; the transport calls it the
	// moment the underlying connection is lost, before attempting to
	// reconnect itself.
	Disconnected func()
}

// Transport is the abstract send/receive/start/stop surface. Exactly one
// OnReceive and one OnClose subscriber may be registered, matching the
// single-logical-connection model the coordinator assumes.
type Transport interface {
	// Start establishes the underlying connection using the given
	// transfer format (negotiated from the HubProtocol).
	Start(ctx context.Context, format protocol.TransferFormat) error

	// Send writes one already-framed payload. Concurrent calls to Send
	// are not made by the coordinator — it serializes all outbound
	// writes itself — but an implementation MAY still guard its own
	// socket if it exposes Send to more than one caller.
	Send(ctx context.Context, payload []byte) error

	// Stop tears the connection down. If err is non-nil it is surfaced
	// to the OnClose callback as the close reason. Stop must not return
	// until OnClose has fired.
	Stop(err error) error

	OnReceive(fn func(data []byte))
	OnClose(fn func(err error))

	Features() *Features
}
