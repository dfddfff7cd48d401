// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package hubconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hubconn/client/internal/buffer"
	"github.com/hubconn/client/internal/logging"
	"github.com/hubconn/client/internal/protocol"
	"github.com/hubconn/client/internal/registry"
	"github.com/hubconn/client/internal/retry"
	"github.com/hubconn/client/internal/transport"
)

// HubConnection is the stateful coordinator of a persistent hub
// connection: the handshake and lifecycle state machine, retry-driven
// reconnection, and (when the transport supports it) the stateful-reconnect
// message buffer. A HubConnection is not reusable across more than one
// Start/Stop lifecycle in the sense that Start requires Disconnected, but
// the same value may be Started again after a full Stop.
type HubConnection struct {
	transport      transport.Transport
	protocol       protocol.HubProtocol
	handshakeProto *protocol.HandshakeProtocol
	retryPolicy    retry.Policy

	// baseLogger is the logger supplied at construction time (via
	// WithLogger or slog.Default). logger is derived from it with the
	// current connection id attached, re-derived from baseLogger (never
	// from the previous logger) on every startInternal call so a
	// reconnect's id replaces rather than stacks onto the last one.
	baseLogger *slog.Logger
	logger     *slog.Logger

	keepAliveInterval time.Duration
	serverTimeout     time.Duration
	handshakeTimeout  time.Duration
	bufferOpts        buffer.Options

	registry *registry.Registry

	handlersMu sync.Mutex
	handlers   map[string][]handlerEntry

	callbackMu       sync.Mutex
	onClose          []func(error)
	onReconnecting   []func(error)
	onReconnected    []func(string)
	stateSubscribers []chan<- StateChange

	// mu guards every field below: the state machine bookkeeping that the
	// single-logical-executor model requires be serialized relative to
	// user entrypoints and the inbound-dispatch path. It is never held
	// across a suspension point (transport I/O, handshake await, a user
	// callback) — only across the synchronous bookkeeping bracketing one.
	mu                sync.Mutex
	state             State
	connectionStarted bool
	stopDuringStart   error
	connectionID      string
	buf               *buffer.Buffer
	recvBuf           []byte

	// sendMu serializes every write onto the transport: the coordinator's
	// own control frames (handshake, ping) and the buffer's sends
	// (ordinary invocations, acks, resends) all funnel through it, since
	// Transport.Send is documented as not safe for concurrent callers.
	sendMu sync.Mutex

	pingTimer    *time.Timer
	timeoutTimer *time.Timer

	handshakeWaiters []chan error

	closeDone chan struct{}

	reconnectTimer  *time.Timer
	reconnectCancel chan struct{}

	baseURL string
}

// State returns the current lifecycle state.
func (c *HubConnection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID returns the id of the current (or most recently completed)
// connection attempt.
func (c *HubConnection) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// SetBaseURL records url as the connection's base URL. Allowed only while
// Disconnected or Reconnecting, matching the rule that a live
// Connected/Connecting transport must not have its address changed out
// from under it. The value is kept on the HubConnection only; it is not
// passed to the Transport, which keeps dialing the URL it was built with.
func (c *HubConnection) SetBaseURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected && c.state != StateReconnecting {
		return &ProtocolStateError{Operation: "set baseUrl on", State: c.state}
	}
	c.baseURL = url
	return nil
}

func (c *HubConnection) transitionLocked(to State) {
	from := c.state
	c.state = to
	c.logger.Debug("hubconn: state transition", "from", from, "to", to)
	go c.broadcastState(from, to)
}

// Start begins a connection attempt. It fails immediately if the
// connection is not Disconnected.
func (c *HubConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return &ProtocolStateError{Operation: "start", State: state}
	}
	c.transitionLocked(StateConnecting)
	c.stopDuringStart = nil
	c.mu.Unlock()

	err := c.startInternal(ctx)

	c.mu.Lock()
	if err == nil {
		if sd := c.stopDuringStart; sd != nil {
			err = sd
		}
	}
	if err != nil {
		c.transitionLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}
	c.connectionStarted = true
	c.transitionLocked(StateConnected)
	c.mu.Unlock()
	return nil
}

// startInternal performs transport.Start, the handshake exchange, and
// (when advertised) MessageBuffer wiring. It is reused verbatim by the
// reconnect loop, which is why protocol version downgrade is re-evaluated
// here on every call rather than cached once at construction: if the
// transport's reconnect feature can change between attempts, re-evaluating
// is the only correct choice, and caching would only ever be a micro
// optimization when it cannot.
func (c *HubConnection) startInternal(ctx context.Context) error {
	format := c.protocol.TransferFormat()

	if err := c.transport.Start(ctx, format); err != nil {
		return fmt.Errorf("hubconn: starting transport: %w", err)
	}

	c.transport.OnReceive(c.onReceive)
	c.transport.OnClose(c.onConnectionClosed)

	version := c.protocol.Version()
	features := c.transport.Features()
	if !features.Reconnect {
		version = 1
	}

	waiter := make(chan error, 1)
	c.mu.Lock()
	c.handshakeWaiters = append(c.handshakeWaiters, waiter)
	c.recvBuf = nil
	c.connectionID = logging.NewConnectionID()
	c.logger = logging.WithConnection(c.baseLogger, c.connectionID)
	c.mu.Unlock()

	reqBytes, err := c.handshakeProto.WriteHandshakeRequest(&protocol.HandshakeRequestMessage{
		Protocol:        c.protocol.Name(),
		ProtocolVersion: version,
	})
	if err != nil {
		_ = c.transport.Stop(nil)
		return fmt.Errorf("hubconn: writing handshake request: %w", err)
	}
	c.sendMu.Lock()
	err = c.transport.Send(ctx, reqBytes)
	c.sendMu.Unlock()
	if err != nil {
		_ = c.transport.Stop(nil)
		return fmt.Errorf("hubconn: sending handshake request: %w", err)
	}

	c.armTimersLocked()

	select {
	case err := <-waiter:
		if err != nil {
			c.clearTimers()
			_ = c.transport.Stop(nil)
			return err
		}
	case <-time.After(c.handshakeTimeout):
		c.clearTimers()
		_ = c.transport.Stop(nil)
		return &TimeoutError{}
	case <-ctx.Done():
		c.clearTimers()
		_ = c.transport.Stop(nil)
		return ctx.Err()
	}

	c.mu.Lock()
	if sd := c.stopDuringStart; sd != nil {
		c.mu.Unlock()
		c.clearTimers()
		_ = c.transport.Stop(nil)
		return sd
	}

	if features.Reconnect {
		buf := buffer.New(c.protocol, senderAdapter{t: c.transport, mu: &c.sendMu}, c.bufferOpts, c.onSequenceFatal)
		c.buf = buf
		features.Disconnected = buf.Disconnected
		features.Resend = buf.Resend
	} else {
		c.buf = nil
	}
	c.mu.Unlock()

	return nil
}

// senderAdapter narrows transport.Transport down to buffer.Sender, holding
// the outbound write lock for the duration of each send.
type senderAdapter struct {
	t  transport.Transport
	mu *sync.Mutex
}

func (s senderAdapter) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Send(ctx, payload)
}

func (c *HubConnection) armTimersLocked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armPingTimerLocked()
	c.armTimeoutTimerLocked()
}

func (c *HubConnection) onSequenceFatal(err error) {
	violation := &SequenceViolation{Cause: err}
	c.logger.Error("hubconn: sequence violation, stopping connection", "error", violation)
	_ = c.transport.Stop(violation)
}

// Stop tears the connection down. It is idempotent: a second concurrent
// call observes the first's completion.
func (c *HubConnection) Stop() error {
	c.mu.Lock()

	c.transport.Features().Reconnect = false

	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return nil
	case StateDisconnecting:
		ch := c.closeDone
		c.mu.Unlock()
		if ch != nil {
			<-ch
		}
		return nil
	case StateReconnecting:
		if c.cancelReconnectDelayLocked() {
			c.transitionLocked(StateDisconnected)
			c.connectionStarted = false
			c.mu.Unlock()
			c.fireClose(nil)
			return nil
		}
	}

	if c.stopDuringStart == nil {
		c.stopDuringStart = errors.New("hubconn: stop() called while starting")
	}
	c.clearTimersLocked()
	c.transitionLocked(StateDisconnecting)
	c.closeDone = make(chan struct{})
	ch := c.closeDone
	c.mu.Unlock()

	_ = c.transport.Stop(nil)
	<-ch
	return nil
}

// onConnectionClosed is the Transport's OnClose callback: the underlying
// connection is gone for good (not a stateful-reconnect blip, which never
// calls this).
func (c *HubConnection) onConnectionClosed(err error) {
	c.mu.Lock()

	if c.stopDuringStart == nil && err != nil {
		c.stopDuringStart = err
	}

	for _, w := range c.handshakeWaiters {
		select {
		case w <- err:
		default:
		}
	}
	c.handshakeWaiters = nil

	c.clearTimersLocked()
	if c.buf != nil {
		c.buf.Dispose(&InvocationCanceled{Cause: err})
	}

	state := c.state
	c.mu.Unlock()

	c.registry.CloseAll(&InvocationCanceled{Cause: err})

	switch state {
	case StateDisconnecting:
		c.mu.Lock()
		wasStarted := c.connectionStarted
		c.transitionLocked(StateDisconnected)
		c.connectionStarted = false
		done := c.closeDone
		c.closeDone = nil
		c.mu.Unlock()
		if done != nil {
			close(done)
		}
		// A Stop (or a non-reconnectable Close) that lands before Start
		// ever reached Connected has nothing user-visible to announce:
		// the caller's Start/Stop call itself returns the error, and no
		// OnClose subscriber ever saw a successful connection to begin
		// with.
		if wasStarted {
			c.fireClose(err)
		}
	case StateConnected:
		c.enterReconnectLoop(err)
	default:
		// Connecting/Reconnecting: the in-progress start/attempt observes
		// stopDuringStart once its handshake waiter unblocks.
	}
}
