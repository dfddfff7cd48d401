// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package hubconn

import (
	"context"
	"testing"
	"time"

	"github.com/hubconn/client/internal/buffer"
	"github.com/hubconn/client/internal/protocol"
	"github.com/hubconn/client/internal/retry"
	"github.com/hubconn/client/internal/transport"
)

func handshakeOK() []byte {
	return append([]byte("{}"), 0x1e)
}

func startConnected(t *testing.T, opts ...Option) (*HubConnection, *transport.Fake) {
	t.Helper()
	fake := transport.NewFake()
	conn := New(fake, protocol.NewJSONHubProtocol(), opts...)

	done := make(chan error, 1)
	go func() { done <- conn.Start(context.Background()) }()

	waitForHandshakeRequest(t, fake)
	fake.Deliver(handshakeOK())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not complete")
	}

	if conn.State() != StateConnected {
		t.Fatalf("expected Connected, got %s", conn.State())
	}
	return conn, fake
}

func waitForHandshakeRequest(t *testing.T, fake *transport.Fake) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(fake.Sent()) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("transport never received the handshake request")
}

func TestHappyInvoke(t *testing.T) {
	conn, fake := startConnected(t)
	defer conn.Stop()

	resultCh := make(chan struct {
		v   interface{}
		err error
	}, 1)
	go func() {
		v, err := conn.Invoke(context.Background(), "Echo", "x")
		resultCh <- struct {
			v   interface{}
			err error
		}{v, err}
	}()

	// Wait for the invocation frame to reach the transport, then reply.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(fake.Sent()) < 2 {
		time.Sleep(time.Millisecond)
	}

	completion, err := protocol.NewJSONHubProtocol().WriteMessage(&protocol.CompletionMessage{
		InvocationID: "0", Result: "x", HasResult: true,
	})
	if err != nil {
		t.Fatalf("writing completion: %v", err)
	}
	fake.Deliver(completion)

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("Invoke: %v", r.err)
		}
		if r.v != "x" {
			t.Fatalf("expected result \"x\", got %v", r.v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke did not resolve")
	}
}

func TestServerCloseWithReconnect(t *testing.T) {
	conn, fake := startConnected(t)
	defer conn.Stop()

	reconnected := make(chan string, 1)
	conn.OnReconnected(func(id string) { reconnected <- id })

	closeFrame, err := protocol.NewJSONHubProtocol().WriteMessage(&protocol.CloseMessage{
		Error: "boom", AllowReconnect: true,
	})
	if err != nil {
		t.Fatalf("writing close frame: %v", err)
	}

	// A Close frame with AllowReconnect makes handleClose call
	// transport.Stop directly; the fake transport's Stop synchronously
	// invokes onClose, which is what drives the coordinator into its own
	// reconnect loop below.
	fake.Deliver(closeFrame)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && conn.State() != StateReconnecting {
		time.Sleep(time.Millisecond)
	}
	if conn.State() != StateReconnecting {
		t.Fatalf("expected Reconnecting, got %s", conn.State())
	}

	waitForHandshakeRequest2(t, fake)
	fake.Deliver(handshakeOK())

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("onreconnected never fired")
	}
	if conn.State() != StateConnected {
		t.Fatalf("expected Connected after reconnect, got %s", conn.State())
	}
}

func TestServerCloseWithoutReconnect(t *testing.T) {
	conn, fake := startConnected(t)

	closed := make(chan error, 1)
	conn.OnClose(func(err error) { closed <- err })
	reconnecting := make(chan struct{}, 1)
	conn.OnReconnecting(func(error) { reconnecting <- struct{}{} })

	closeFrame, err := protocol.NewJSONHubProtocol().WriteMessage(&protocol.CloseMessage{
		Error: "terminal", AllowReconnect: false,
	})
	if err != nil {
		t.Fatalf("writing close frame: %v", err)
	}

	fake.Deliver(closeFrame)

	select {
	case err := <-closed:
		if err == nil {
			t.Fatal("expected a non-nil close error")
		}
	case <-time.After(time.Second):
		t.Fatal("onclose never fired for a non-reconnectable close")
	}

	select {
	case <-reconnecting:
		t.Fatal("a Close frame with AllowReconnect=false must never enter the reconnect loop")
	case <-time.After(100 * time.Millisecond):
	}

	if conn.State() != StateDisconnected {
		t.Fatalf("expected Disconnected, got %s", conn.State())
	}
}

func TestStop_DuringHandshake_SuppressesCloseCallback(t *testing.T) {
	fake := transport.NewFake()
	conn := New(fake, protocol.NewJSONHubProtocol())

	var fired bool
	conn.OnClose(func(error) { fired = true })

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- conn.Start(context.Background()) }()

	waitForHandshakeRequest(t, fake)
	// Stop before the handshake response ever arrives: the connection
	// never reached Connected, so no OnClose subscriber should fire.
	if err := conn.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-startErrCh:
		if err == nil {
			t.Fatal("expected Start to return an error when stopped mid-handshake")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned")
	}

	time.Sleep(20 * time.Millisecond)
	if fired {
		t.Fatal("onclose fired for a connection that never successfully started")
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("expected Disconnected, got %s", conn.State())
	}
}

func waitForHandshakeRequest2(t *testing.T, fake *transport.Fake) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	before := len(fake.Sent())
	for time.Now().Before(deadline) {
		if len(fake.Sent()) > before {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("reconnect attempt never sent a new handshake request")
}

type errStr string

func (e errStr) Error() string { return string(e) }

// BufferSize 0 selects buffer.DefaultBufferSize, so a 1-byte budget is the
// smallest one: every invocation frame reaches it and waits for an Ack.
func TestBackpressureAtOneByteBufferSize(t *testing.T) {
	fake := transport.NewFake()
	fake.Features().Reconnect = true
	conn := New(fake, protocol.NewJSONHubProtocol(), WithBufferOptions(buffer.Options{BufferSize: 1}))

	done0 := make(chan error, 1)
	go func() { done0 <- conn.Start(context.Background()) }()
	waitForHandshakeRequest(t, fake)
	fake.Deliver(handshakeOK())
	select {
	case err := <-done0:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not complete")
	}
	defer conn.Stop()

	done := make(chan error, 1)
	go func() { done <- conn.Send(context.Background(), "Notify", "payload") }()

	select {
	case <-done:
		t.Fatal("Send returned before the ack arrived")
	case <-time.After(50 * time.Millisecond):
	}

	ack, err := protocol.NewJSONHubProtocol().WriteMessage(&protocol.AckMessage{SequenceID: 1})
	if err != nil {
		t.Fatalf("writing ack: %v", err)
	}
	fake.Deliver(ack)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send never unblocked after ack")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	fake := transport.NewFake()
	conn := New(fake, protocol.NewJSONHubProtocol(), WithHandshakeTimeout(50*time.Millisecond))

	err := conn.Start(context.Background())
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("expected state to return to Disconnected, got %s", conn.State())
	}
}

func TestStart_RejectsWhenNotDisconnected(t *testing.T) {
	conn, _ := startConnected(t)
	defer conn.Stop()

	err := conn.Start(context.Background())
	if err == nil {
		t.Fatal("expected an error starting an already-Connected connection")
	}
	if _, ok := err.(*ProtocolStateError); !ok {
		t.Fatalf("expected *ProtocolStateError, got %T", err)
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	conn, _ := startConnected(t)

	var closes int
	conn.OnClose(func(error) { closes++ })

	if err := conn.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := conn.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if closes != 1 {
		t.Fatalf("expected exactly one onclose firing, got %d", closes)
	}
}

func TestOnOff_HandlerRegistration(t *testing.T) {
	conn, _ := startConnected(t)
	defer conn.Stop()

	var calls int
	handler := func(args []interface{}) { calls++ }

	conn.On("Notify", handler)
	conn.On("Notify", handler) // duplicate instance, ignored
	conn.On("notify", handler) // case-insensitive match, still one entry

	conn.dispatchInvocation("NOTIFY", nil)
	if calls != 1 {
		t.Fatalf("expected handler invoked once despite repeated registration, got %d", calls)
	}

	conn.Off("Notify", handler)
	conn.dispatchInvocation("Notify", nil)
	if calls != 1 {
		t.Fatalf("expected no further calls after Off, got %d", calls)
	}

	conn.On("Notify", handler)
	conn.dispatchInvocation("Notify", nil)
	if calls != 2 {
		t.Fatalf("expected handler restored after On following Off, got %d", calls)
	}
}

func TestRetryPolicyNilOnFirstCall_ClosesWithoutReconnecting(t *testing.T) {
	conn, fake := startConnected(t, WithRetryPolicy(retry.NoRetry))
	defer conn.Stop()

	var states []State
	ch := make(chan StateChange, 8)
	conn.Subscribe(ch)

	closed := make(chan struct{})
	conn.OnClose(func(error) { close(closed) })

	fake.SimulateClose(errStr("transport gone"))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected onclose to fire when the retry policy refuses immediately")
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("expected Disconnected, got %s", conn.State())
	}

	drain:
	for {
		select {
		case sc := <-ch:
			states = append(states, sc.To)
		default:
			break drain
		}
	}
	for _, s := range states {
		if s == StateReconnecting {
			t.Fatal("expected the connection to never enter Reconnecting")
		}
	}
}
