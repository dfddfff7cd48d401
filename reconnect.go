// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package hubconn

import (
	"context"
	"time"
)

// enterReconnectLoop is called from onConnectionClosed when a Connected
// transport unexpectedly closes. It runs on its own goroutine since it
// sleeps and retries handshakes, both suspension points the caller (the
// transport's close callback) must not block on.
func (c *HubConnection) enterReconnectLoop(cause error) {
	go c.reconnectLoop(cause)
}

func (c *HubConnection) reconnectLoop(cause error) {
	start := time.Now()

	delay := c.retryPolicy.NextRetryDelay(0, 0, cause)
	if delay == nil {
		c.mu.Lock()
		c.transitionLocked(StateDisconnected)
		c.connectionStarted = false
		c.mu.Unlock()
		c.fireClose(&RetryExhausted{Attempts: 0, LastErr: cause})
		return
	}

	c.mu.Lock()
	c.transitionLocked(StateReconnecting)
	c.mu.Unlock()

	c.fireReconnecting(cause)

	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	attempts := 0
	lastErr := cause

	for delay != nil {
		if !c.sleepReconnectDelay(*delay) {
			return
		}

		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.stopDuringStart = nil
		c.mu.Unlock()

		err := c.startInternal(context.Background())

		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			if err == nil {
				_ = c.transport.Stop(nil)
			}
			return
		}
		c.mu.Unlock()

		if err == nil {
			c.mu.Lock()
			c.connectionStarted = true
			c.transitionLocked(StateConnected)
			connID := c.connectionID
			c.mu.Unlock()
			c.fireReconnected(connID)
			return
		}

		attempts++
		lastErr = err
		delay = c.retryPolicy.NextRetryDelay(time.Since(start), attempts, lastErr)
	}

	c.mu.Lock()
	if c.state == StateReconnecting {
		c.transitionLocked(StateDisconnected)
		c.connectionStarted = false
	}
	c.mu.Unlock()
	c.fireClose(&RetryExhausted{Attempts: attempts, LastErr: lastErr})
}

// sleepReconnectDelay waits d, or until Stop cancels it via
// cancelReconnectDelayLocked. It returns false when cancelled.
func (c *HubConnection) sleepReconnectDelay(d time.Duration) bool {
	timer := time.NewTimer(d)
	cancel := make(chan struct{})

	c.mu.Lock()
	c.reconnectTimer = timer
	c.reconnectCancel = cancel
	c.mu.Unlock()

	select {
	case <-timer.C:
		c.mu.Lock()
		c.reconnectTimer = nil
		c.reconnectCancel = nil
		c.mu.Unlock()
		return true
	case <-cancel:
		return false
	}
}

// cancelReconnectDelayLocked stops an armed reconnect-delay timer. Caller
// must hold mu. Returns false if no delay is currently armed (the loop is
// mid-attempt rather than sleeping), in which case Stop falls back to the
// general Disconnecting teardown path.
func (c *HubConnection) cancelReconnectDelayLocked() bool {
	if c.reconnectTimer == nil {
		return false
	}
	c.reconnectTimer.Stop()
	close(c.reconnectCancel)
	c.reconnectTimer = nil
	c.reconnectCancel = nil
	return true
}
