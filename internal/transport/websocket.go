// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hubconn/client/internal/protocol"
)

// WebSocketTransport is the reference Transport implementation. It dials a
// ws:// or wss:// URL and advertises stateful-reconnect support: on an
// unexpected close it calls Features().Disconnected, redials, and then
// calls Features().Resend before handing control back to the coordinator.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	format  protocol.TransferFormat
	closing bool

	onReceive func(data []byte)
	onClose   func(err error)

	features *Features

	readDone chan struct{}
}

// New creates a WebSocketTransport targeting url. The returned transport
// advertises stateful reconnect support; callers that don't want automatic
// redial after an unexpected drop should set Features().Reconnect = false
// before Start.
func New(url string, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		url:      url,
		dialer:   websocket.DefaultDialer,
		logger:   logger.With("component", "websocket_transport"),
		features: &Features{Reconnect: true},
	}
}

func (t *WebSocketTransport) Features() *Features { return t.features }

func (t *WebSocketTransport) OnReceive(fn func(data []byte)) { t.onReceive = fn }
func (t *WebSocketTransport) OnClose(fn func(err error))     { t.onClose = fn }

func (t *WebSocketTransport) Start(ctx context.Context, format protocol.TransferFormat) error {
	t.format = format

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dialing %s: %w", t.url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.closing = false
	t.mu.Unlock()

	t.readDone = make(chan struct{})
	go t.readPump()

	return nil
}

// readPump is the sole reader of the socket; it forwards frames to
// onReceive until the socket errors, at which point it reports the loss
// through Disconnected/onClose and — when reconnect is enabled — redials
// and resumes via Resend instead of tearing the logical connection down.
func (t *WebSocketTransport) readPump() {
	defer close(t.readDone)

	for {
		t.mu.Lock()
		conn := t.conn
		closing := t.closing
		t.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if closing {
				return
			}
			t.handleDisconnect(err)
			return
		}

		if t.onReceive != nil {
			t.onReceive(data)
		}
	}
}

// handleDisconnect runs when the socket drops unexpectedly. With
// stateful reconnect enabled it notifies the buffer, redials in the
// background, and calls Resend on success; otherwise it reports the loss
// as a terminal close.
func (t *WebSocketTransport) handleDisconnect(cause error) {
	if !t.features.Reconnect {
		if t.onClose != nil {
			t.onClose(fmt.Errorf("transport: connection lost: %w", cause))
		}
		return
	}

	if t.features.Disconnected != nil {
		t.features.Disconnected()
	}

	conn, _, err := t.dialer.Dial(t.url, nil)
	if err != nil {
		if t.onClose != nil {
			t.onClose(fmt.Errorf("transport: reconnect dial failed: %w", err))
		}
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.readDone = make(chan struct{})
	go t.readPump()

	if t.features.Resend != nil {
		if err := t.features.Resend(context.Background()); err != nil {
			t.logger.Warn("transport: resend after reconnect failed", "error", err)
		}
	}
}

func (t *WebSocketTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: send on a closed connection")
	}

	msgType := websocket.BinaryMessage
	if t.format == protocol.TransferFormatText {
		msgType = websocket.TextMessage
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(msgType, payload); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) Stop(err error) error {
	t.mu.Lock()
	t.closing = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if t.readDone != nil {
		<-t.readDone
	}

	if t.onClose != nil {
		t.onClose(err)
	}
	return nil
}
