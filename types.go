// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package hubconn implements the client-side core of a persistent RPC
// connection to a hub server compatible with the SignalR protocol family:
// the handshake and lifecycle state machine, retry-policy-driven
// reconnection, and the stateful-reconnect message buffer that preserves
// at-most-once, in-order invocation delivery across transport drops.
package hubconn

import "fmt"

// State is one position in the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// HandlerFunc receives the arguments of a server-to-client Invocation
// targeting the method it was registered under.
type HandlerFunc func(args []interface{})

// StateChange is broadcast on every state transition.
type StateChange struct {
	From State
	To   State
}
