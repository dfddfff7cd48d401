// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package hubconn

import (
	"context"
	"time"

	"github.com/hubconn/client/internal/protocol"
)

// armPingTimerLocked and armTimeoutTimerLocked start the keep-alive engine
// for a freshly (re)established connection. Caller must hold mu.
func (c *HubConnection) armPingTimerLocked() {
	if c.pingTimer != nil {
		c.pingTimer.Stop()
	}
	c.pingTimer = time.AfterFunc(c.keepAliveInterval, c.firePing)
}

func (c *HubConnection) armTimeoutTimerLocked() {
	if c.transport.Features().InherentKeepAlive {
		return
	}
	if c.timeoutTimer != nil {
		c.timeoutTimer.Stop()
	}
	c.timeoutTimer = time.AfterFunc(c.serverTimeout, c.fireTimeout)
}

// clearTimersLocked stops both timers without rearming. Caller must hold
// mu.
func (c *HubConnection) clearTimersLocked() {
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	if c.timeoutTimer != nil {
		c.timeoutTimer.Stop()
		c.timeoutTimer = nil
	}
}

func (c *HubConnection) clearTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearTimersLocked()
}

// resetPingTimerOnSend rearms the ping timer; called after every outbound
// frame so an active sender never also triggers a redundant ping.
func (c *HubConnection) resetPingTimerOnSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return
	}
	c.armPingTimerLocked()
}

// resetTimeoutTimerOnReceive rearms the server-silence timer; called after
// every inbound frame, including Ping.
func (c *HubConnection) resetTimeoutTimerOnReceive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armTimeoutTimerLocked()
}

func (c *HubConnection) firePing() {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	payload, err := protocol.CachedPingMessage(c.protocol)
	if err != nil {
		return
	}

	c.sendMu.Lock()
	err = c.transport.Send(context.Background(), payload)
	c.sendMu.Unlock()
	if err != nil {
		c.logger.Warn("hubconn: ping send failed, suspending keep-alive until next send", "error", err)
		c.mu.Lock()
		if c.pingTimer != nil {
			c.pingTimer.Stop()
			c.pingTimer = nil
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.state == StateConnected {
		c.armPingTimerLocked()
	}
	c.mu.Unlock()
}

func (c *HubConnection) fireTimeout() {
	c.logger.Warn("hubconn: server timeout elapsed, stopping transport")
	_ = c.transport.Stop(&TimeoutError{})
}
