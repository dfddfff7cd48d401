// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// HandshakeProtocol writes the client's HandshakeRequestMessage and parses
// the server's HandshakeResponseMessage. It runs once, before any
// HubProtocol traffic, and is always JSON regardless of the negotiated
// HubProtocol's transfer format.
type HandshakeProtocol struct{}

func NewHandshakeProtocol() *HandshakeProtocol { return &HandshakeProtocol{} }

func (HandshakeProtocol) WriteHandshakeRequest(req *HandshakeRequestMessage) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshaling handshake request: %w", err)
	}
	return append(body, recordSeparator), nil
}

// ParseHandshakeResponse extracts the first record-separator-terminated
// frame from data and decodes it as a HandshakeResponseMessage. It returns
// the bytes following that frame (remaining), which may already contain
// the start of hub traffic if the server pipelined its first messages
// immediately after the handshake response.
func (HandshakeProtocol) ParseHandshakeResponse(data []byte) (msg *HandshakeResponseMessage, remaining []byte, err error) {
	idx := bytes.IndexByte(data, recordSeparator)
	if idx < 0 {
		return nil, data, fmt.Errorf("protocol: incomplete handshake response")
	}

	frame := data[:idx]
	remaining = data[idx+1:]

	var resp HandshakeResponseMessage
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, remaining, fmt.Errorf("protocol: parsing handshake response: %w", err)
	}
	return &resp, remaining, nil
}
