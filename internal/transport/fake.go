// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"sync"

	"github.com/hubconn/client/internal/protocol"
)

// Fake is a hand-rolled Transport double for tests: no network, fully
// scriptable, and safe for concurrent use. It plays the same role the
// teacher's net.Pipe-backed fakes play for ControlChannel tests.
type Fake struct {
	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	startErr error

	onReceive func(data []byte)
	onClose   func(err error)
	features  Features

	stopped bool
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Features() *Features { return &f.features }

func (f *Fake) OnReceive(fn func(data []byte)) { f.onReceive = fn }
func (f *Fake) OnClose(fn func(err error))      { f.onClose = fn }

func (f *Fake) SetStartError(err error) { f.startErr = err }
func (f *Fake) SetSendError(err error)  { f.sendErr = err }

func (f *Fake) Start(ctx context.Context, format protocol.TransferFormat) error {
	return f.startErr
}

func (f *Fake) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := append([]byte(nil), payload...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *Fake) Stop(err error) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	if f.onClose != nil {
		f.onClose(err)
	}
	return nil
}

// Sent returns every payload handed to Send, in order.
func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// Deliver simulates an inbound frame arriving from the server.
func (f *Fake) Deliver(data []byte) {
	if f.onReceive != nil {
		f.onReceive(data)
	}
}

// SimulateClose simulates the transport detecting the underlying
// connection is gone, invoking the coordinator's OnClose callback.
func (f *Fake) SimulateClose(err error) {
	if f.onClose != nil {
		f.onClose(err)
	}
}

// SimulateStatefulDisconnect simulates a transport-level drop for a
// transport whose Features().Reconnect is true: it calls Disconnected,
// then Resend, without ever calling onClose — the logical connection
// survives.
func (f *Fake) SimulateStatefulDisconnect(ctx context.Context) error {
	if f.features.Disconnected != nil {
		f.features.Disconnected()
	}
	if f.features.Resend != nil {
		return f.features.Resend(ctx)
	}
	return nil
}

func (f *Fake) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
