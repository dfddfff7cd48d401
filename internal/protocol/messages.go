// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package protocol implements the hub wire protocol: the JSON framing used
// by the SignalR protocol family, plus the handshake exchange that must
// complete before any hub traffic is processed.
package protocol

import "fmt"

// MessageType identifies the kind of a HubMessage on the wire. Numbering
// matches the public SignalR JSON protocol so the reference implementation
// interoperates with real hub servers.
type MessageType int

const (
	MessageTypeInvocation       MessageType = 1
	MessageTypeStreamItem       MessageType = 2
	MessageTypeCompletion       MessageType = 3
	MessageTypeStreamInvocation MessageType = 4
	MessageTypeCancelInvocation MessageType = 5
	MessageTypePing             MessageType = 6
	MessageTypeClose            MessageType = 7
	// Ack and Sequence are the stateful-reconnect extension messages.
	MessageTypeAck      MessageType = 8
	MessageTypeSequence MessageType = 9
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeInvocation:
		return "Invocation"
	case MessageTypeStreamItem:
		return "StreamItem"
	case MessageTypeCompletion:
		return "Completion"
	case MessageTypeStreamInvocation:
		return "StreamInvocation"
	case MessageTypeCancelInvocation:
		return "CancelInvocation"
	case MessageTypePing:
		return "Ping"
	case MessageTypeClose:
		return "Close"
	case MessageTypeAck:
		return "Ack"
	case MessageTypeSequence:
		return "Sequence"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// IsInvocationFamily reports whether t participates in sequence numbering
// and stateful-reconnect buffering. Only these five types do.
func (t MessageType) IsInvocationFamily() bool {
	switch t {
	case MessageTypeInvocation, MessageTypeStreamItem, MessageTypeCompletion,
		MessageTypeStreamInvocation, MessageTypeCancelInvocation:
		return true
	default:
		return false
	}
}

// HubMessage is the common surface every parsed frame satisfies.
type HubMessage interface {
	Type() MessageType
}

// InvocationMessage is a non-blocking (Send) or blocking (Invoke) method call.
// InvocationID is empty for a non-blocking send.
type InvocationMessage struct {
	InvocationID string        `json:"invocationId,omitempty"`
	Target       string        `json:"target"`
	Arguments    []interface{} `json:"arguments,omitempty"`
	StreamIDs    []string      `json:"streamIds,omitempty"`
}

func (InvocationMessage) Type() MessageType { return MessageTypeInvocation }

// StreamItemMessage carries one item of a server-to-client or
// client-to-server stream.
type StreamItemMessage struct {
	InvocationID string      `json:"invocationId"`
	Item         interface{} `json:"item"`
}

func (StreamItemMessage) Type() MessageType { return MessageTypeStreamItem }

// CompletionMessage terminates an invocation or a client-to-server stream.
// Exactly one of Error/Result should be set; an empty Error with
// HasResult==false is a void completion.
type CompletionMessage struct {
	InvocationID string      `json:"invocationId"`
	Error        string      `json:"error,omitempty"`
	Result       interface{} `json:"result,omitempty"`
	HasResult    bool        `json:"-"`
}

func (CompletionMessage) Type() MessageType { return MessageTypeCompletion }

// StreamInvocationMessage starts a server-to-client stream.
type StreamInvocationMessage struct {
	InvocationID string        `json:"invocationId"`
	Target       string        `json:"target"`
	Arguments    []interface{} `json:"arguments,omitempty"`
	StreamIDs    []string      `json:"streamIds,omitempty"`
}

func (StreamInvocationMessage) Type() MessageType { return MessageTypeStreamInvocation }

// CancelInvocationMessage cancels a previously started stream.
type CancelInvocationMessage struct {
	InvocationID string `json:"invocationId"`
}

func (CancelInvocationMessage) Type() MessageType { return MessageTypeCancelInvocation }

// PingMessage is the keep-alive frame. It carries no payload.
type PingMessage struct{}

func (PingMessage) Type() MessageType { return MessageTypePing }

// CloseMessage tells the client the server is closing the connection.
type CloseMessage struct {
	Error         string `json:"error,omitempty"`
	AllowReconnect bool  `json:"allowReconnect,omitempty"`
}

func (CloseMessage) Type() MessageType { return MessageTypeClose }

// AckMessage acknowledges receipt of every buffered item up to and
// including SequenceID.
type AckMessage struct {
	SequenceID uint64 `json:"sequenceId"`
}

func (AckMessage) Type() MessageType { return MessageTypeAck }

// SequenceMessage precedes a batch of replayed invocation-family frames
// after a stateful reconnect, or rewinds the receiver's expected id.
type SequenceMessage struct {
	SequenceID uint64 `json:"sequenceId"`
}

func (SequenceMessage) Type() MessageType { return MessageTypeSequence }

// HandshakeRequestMessage is sent by the client immediately after the
// transport reports ready.
type HandshakeRequestMessage struct {
	Protocol        string `json:"protocol"`
	ProtocolVersion int    `json:"version"`
}

// HandshakeResponseMessage is the server's reply. A non-empty Error means
// the handshake failed and the connection must not proceed.
type HandshakeResponseMessage struct {
	Error string `json:"error,omitempty"`
}
