// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// TransferFormat is the negotiated wire shape a Transport must support.
type TransferFormat int

const (
	TransferFormatText   TransferFormat = 1
	TransferFormatBinary TransferFormat = 2
)

// recordSeparator terminates every JSON text frame on the wire, matching
// the SignalR JSON protocol.
const recordSeparator = 0x1e

// HubProtocol is the codec contract: write a HubMessage to wire bytes,
// parse a (possibly partial) buffer of wire bytes into zero or more
// HubMessages plus whatever bytes remain unconsumed.
type HubProtocol interface {
	Name() string
	Version() int
	TransferFormat() TransferFormat
	WriteMessage(msg HubMessage) ([]byte, error)
	ParseMessages(data []byte, logger *slog.Logger) (messages []HubMessage, remaining []byte, err error)
}

// JSONHubProtocol is the reference "json" HubProtocol: each frame is a
// JSON object tagged with a numeric "type" field, terminated by the ASCII
// record separator.
type JSONHubProtocol struct{}

func NewJSONHubProtocol() *JSONHubProtocol { return &JSONHubProtocol{} }

func (p *JSONHubProtocol) Name() string                    { return "json" }
func (p *JSONHubProtocol) Version() int                    { return 1 }
func (p *JSONHubProtocol) TransferFormat() TransferFormat   { return TransferFormatText }

// wireEnvelope is the superset of fields any message type may carry; it is
// used both to write (by embedding type-specific fields) and to sniff the
// "type" discriminator on parse.
type wireEnvelope struct {
	Type           MessageType   `json:"type"`
	InvocationID   string        `json:"invocationId,omitempty"`
	Target         string        `json:"target,omitempty"`
	Arguments      []interface{} `json:"arguments,omitempty"`
	StreamIDs      []string      `json:"streamIds,omitempty"`
	Item           interface{}   `json:"item,omitempty"`
	Error          string        `json:"error,omitempty"`
	Result         interface{}   `json:"result,omitempty"`
	AllowReconnect bool          `json:"allowReconnect,omitempty"`
	SequenceID     uint64        `json:"sequenceId,omitempty"`
}

func (p *JSONHubProtocol) WriteMessage(msg HubMessage) ([]byte, error) {
	env := wireEnvelope{Type: msg.Type()}

	switch m := msg.(type) {
	case *InvocationMessage:
		env.InvocationID = m.InvocationID
		env.Target = m.Target
		env.Arguments = m.Arguments
		env.StreamIDs = m.StreamIDs
	case *StreamItemMessage:
		env.InvocationID = m.InvocationID
		env.Item = m.Item
	case *CompletionMessage:
		env.InvocationID = m.InvocationID
		env.Error = m.Error
		if m.HasResult {
			env.Result = m.Result
		}
	case *StreamInvocationMessage:
		env.InvocationID = m.InvocationID
		env.Target = m.Target
		env.Arguments = m.Arguments
		env.StreamIDs = m.StreamIDs
	case *CancelInvocationMessage:
		env.InvocationID = m.InvocationID
	case *PingMessage:
		// no payload beyond type
	case *CloseMessage:
		env.Error = m.Error
		env.AllowReconnect = m.AllowReconnect
	case *AckMessage:
		env.SequenceID = m.SequenceID
	case *SequenceMessage:
		env.SequenceID = m.SequenceID
	default:
		return nil, fmt.Errorf("protocol: unsupported message type %T", msg)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshaling %s: %w", msg.Type(), err)
	}
	return append(body, recordSeparator), nil
}

// ParseMessages splits data on the record separator and decodes each
// complete frame. Bytes after the last separator (a partial frame still
// arriving) are returned as remaining for the caller to prepend to the
// next read.
func (p *JSONHubProtocol) ParseMessages(data []byte, logger *slog.Logger) ([]HubMessage, []byte, error) {
	var out []HubMessage

	for {
		idx := bytes.IndexByte(data, recordSeparator)
		if idx < 0 {
			break
		}
		frame := data[:idx]
		data = data[idx+1:]

		msg, err := parseFrame(frame)
		if err != nil {
			if logger != nil {
				logger.Warn("protocol: dropping unparsable frame", "error", err)
			}
			return out, data, fmt.Errorf("protocol: parsing frame: %w", err)
		}
		out = append(out, msg)
	}

	return out, data, nil
}

func parseFrame(frame []byte) (HubMessage, error) {
	var env wireEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case MessageTypeInvocation:
		return &InvocationMessage{InvocationID: env.InvocationID, Target: env.Target, Arguments: env.Arguments, StreamIDs: env.StreamIDs}, nil
	case MessageTypeStreamItem:
		return &StreamItemMessage{InvocationID: env.InvocationID, Item: env.Item}, nil
	case MessageTypeCompletion:
		return &CompletionMessage{InvocationID: env.InvocationID, Error: env.Error, Result: env.Result, HasResult: env.Result != nil}, nil
	case MessageTypeStreamInvocation:
		return &StreamInvocationMessage{InvocationID: env.InvocationID, Target: env.Target, Arguments: env.Arguments, StreamIDs: env.StreamIDs}, nil
	case MessageTypeCancelInvocation:
		return &CancelInvocationMessage{InvocationID: env.InvocationID}, nil
	case MessageTypePing:
		return &PingMessage{}, nil
	case MessageTypeClose:
		return &CloseMessage{Error: env.Error, AllowReconnect: env.AllowReconnect}, nil
	case MessageTypeAck:
		return &AckMessage{SequenceID: env.SequenceID}, nil
	case MessageTypeSequence:
		return &SequenceMessage{SequenceID: env.SequenceID}, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", int(env.Type))
	}
}

// CachedPingMessage is the frame sent by the keep-alive timer; writing it
// once and reusing the bytes avoids re-marshaling on every tick.
func CachedPingMessage(p HubProtocol) ([]byte, error) {
	return p.WriteMessage(&PingMessage{})
}
