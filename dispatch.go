// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package hubconn

import (
	"github.com/hubconn/client/internal/protocol"
)

// onReceive is the Transport's single OnReceive subscriber. It resets the
// server-timeout timer unconditionally (any inbound data, including a
// bare Ping, proves the server is alive), completes a pending handshake
// waiter if one is armed, and otherwise parses and dispatches hub frames.
func (c *HubConnection) onReceive(data []byte) {
	c.resetTimeoutTimerOnReceive()

	c.mu.Lock()
	waiting := len(c.handshakeWaiters) > 0
	c.mu.Unlock()

	if waiting {
		c.completeHandshake(data)
		return
	}

	c.mu.Lock()
	c.recvBuf = append(c.recvBuf, data...)
	buf := c.recvBuf
	c.mu.Unlock()

	messages, remaining, err := c.protocol.ParseMessages(buf, c.logger)
	if err != nil {
		c.logger.Error("hubconn: failed to parse inbound frame, stopping connection", "error", err)
		_ = c.transport.Stop(err)
		return
	}

	c.mu.Lock()
	c.recvBuf = append([]byte(nil), remaining...)
	c.mu.Unlock()

	for _, msg := range messages {
		c.dispatchMessage(msg)
	}
}

func (c *HubConnection) completeHandshake(data []byte) {
	c.mu.Lock()
	resp, remaining, err := c.handshakeProto.ParseHandshakeResponse(data)
	var handshakeErr error
	if err != nil {
		handshakeErr = &HandshakeError{Reason: err.Error()}
	} else if resp.Error != "" {
		handshakeErr = &HandshakeError{Reason: resp.Error}
	}

	waiters := c.handshakeWaiters
	c.handshakeWaiters = nil
	c.recvBuf = append([]byte(nil), remaining...)
	c.mu.Unlock()

	for _, w := range waiters {
		w <- handshakeErr
	}

	if handshakeErr == nil && len(remaining) > 0 {
		c.onReceive(nil)
	}
}

// dispatchMessage routes one parsed frame: the buffer gate first (when
// active), then per message type.
func (c *HubConnection) dispatchMessage(msg protocol.HubMessage) {
	c.mu.Lock()
	buf := c.buf
	c.mu.Unlock()

	if buf != nil && !buf.ShouldProcessMessage(msg) {
		return
	}

	switch m := msg.(type) {
	case *protocol.InvocationMessage:
		if m.InvocationID != "" {
			c.logger.Error("hubconn: server requested a response, which is unsupported", "target", m.Target)
			_ = c.transport.Stop(&UnsupportedServerRequest{Target: m.Target})
			return
		}
		c.dispatchInvocation(m.Target, m.Arguments)

	case *protocol.StreamItemMessage:
		c.registry.DispatchStreamItem(m.InvocationID, m.Item)

	case *protocol.CompletionMessage:
		c.registry.DispatchCompletion(m)

	case *protocol.PingMessage:
		// Timeout reset already happened unconditionally above dispatch.

	case *protocol.CloseMessage:
		c.handleClose(m)

	case *protocol.AckMessage:
		if buf != nil {
			buf.Ack(m)
		}

	case *protocol.SequenceMessage:
		if buf != nil {
			buf.ResetSequence(m)
		}
	}
}

func (c *HubConnection) handleClose(m *protocol.CloseMessage) {
	var err error
	if m.Error != "" {
		err = &ServerCloseError{Reason: m.Error}
	}

	if m.AllowReconnect {
		_ = c.transport.Stop(err)
		return
	}

	c.mu.Lock()
	if c.stopDuringStart == nil {
		c.stopDuringStart = err
	}
	c.transport.Features().Reconnect = false
	c.clearTimersLocked()
	c.transitionLocked(StateDisconnecting)
	c.closeDone = make(chan struct{})
	c.mu.Unlock()

	_ = c.transport.Stop(err)
}
