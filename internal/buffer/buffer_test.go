// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hubconn/client/internal/protocol"
)

// fakeSender is a hand-rolled Sender double: records every payload handed
// to Send and can be told to fail on demand.
type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (f *fakeSender) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func newTestBuffer(t *testing.T, opts Options) (*Buffer, *fakeSender, []error) {
	t.Helper()
	sender := &fakeSender{}
	var mu sync.Mutex
	var fatals []error
	b := New(protocol.NewJSONHubProtocol(), sender, opts, func(err error) {
		mu.Lock()
		fatals = append(fatals, err)
		mu.Unlock()
	})
	return b, sender, fatals
}

func invocation(id string) *protocol.InvocationMessage {
	return &protocol.InvocationMessage{InvocationID: id, Target: "method"}
}

func TestSend_ForwardsNonInvocationFamilyWithoutBuffering(t *testing.T) {
	b, sender, _ := newTestBuffer(t, Options{})

	if err := b.Send(context.Background(), &protocol.PingMessage{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.count())
	}
	if b.Len() != 0 {
		t.Fatalf("ping should not be buffered, got len %d", b.Len())
	}
}

func TestSend_BuffersInvocationFamilyMessages(t *testing.T) {
	b, sender, _ := newTestBuffer(t, Options{})

	if err := b.Send(context.Background(), invocation("1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 buffered item, got %d", b.Len())
	}
	if sender.count() != 1 {
		t.Fatalf("expected transport to receive the frame, got %d sends", sender.count())
	}
}

func TestAck_RemovesPrefixAndReducesByteCount(t *testing.T) {
	b, _, _ := newTestBuffer(t, Options{})

	for i := 1; i <= 3; i++ {
		if err := b.Send(context.Background(), invocation("x")); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if b.Len() != 3 {
		t.Fatalf("expected 3 buffered items, got %d", b.Len())
	}
	before := b.BufferedByteCount()

	b.Ack(&protocol.AckMessage{SequenceID: 2})

	if b.Len() != 1 {
		t.Fatalf("expected 1 remaining item after ack of 2, got %d", b.Len())
	}
	// All three payloads are identical, so one third of the bytes remain.
	if got := b.BufferedByteCount(); got != before/3 {
		t.Fatalf("expected buffered byte count %d after ack of 2, got %d", before/3, got)
	}
}

func TestSend_EngagesBackpressureUntilAck(t *testing.T) {
	b, sender, _ := newTestBuffer(t, Options{BufferSize: 1})

	done := make(chan error, 1)
	go func() {
		done <- b.Send(context.Background(), invocation("blocker"))
	}()

	select {
	case <-done:
		t.Fatal("Send returned before Ack released backpressure")
	case <-time.After(50 * time.Millisecond):
	}

	if sender.count() != 1 {
		t.Fatalf("expected the frame to still be transmitted despite backpressure, got %d sends", sender.count())
	}

	b.Ack(&protocol.AckMessage{SequenceID: 1})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Ack")
	}
}

func TestShouldProcessMessage_DropsDuplicatesAndOutOfOrder(t *testing.T) {
	b, _, _ := newTestBuffer(t, Options{})
	b.waitForSequenceMessage = false // fresh connection, no prior disconnect

	if !b.ShouldProcessMessage(invocation("a")) {
		t.Fatal("expected first invocation to be accepted")
	}
	if !b.ShouldProcessMessage(invocation("b")) {
		t.Fatal("expected second invocation to be accepted")
	}

	// Simulate redelivery of the first message after a server-side resend.
	b.mu.Lock()
	b.nextReceivingSequenceID = 1
	b.mu.Unlock()

	if b.ShouldProcessMessage(invocation("a-dup")) {
		t.Fatal("expected a previously received sequence id to be dropped")
	}
}

func TestShouldProcessMessage_GatesUntilSequenceAfterDisconnect(t *testing.T) {
	b, _, _ := newTestBuffer(t, Options{})

	b.Disconnected()

	if b.ShouldProcessMessage(invocation("too-early")) {
		t.Fatal("expected invocation-family message to be gated before Sequence arrives")
	}

	if !b.ShouldProcessMessage(&protocol.SequenceMessage{SequenceID: 1}) {
		t.Fatal("expected the Sequence frame itself to be accepted")
	}

	if !b.ShouldProcessMessage(invocation("resumed")) {
		t.Fatal("expected invocation-family traffic to resume processing after Sequence")
	}
}

func TestResetSequence_RewindsNextReceivingID(t *testing.T) {
	b, _, _ := newTestBuffer(t, Options{})

	b.ShouldProcessMessage(invocation("a"))
	b.ShouldProcessMessage(invocation("b"))

	b.ResetSequence(&protocol.SequenceMessage{SequenceID: 1})

	b.mu.Lock()
	next := b.nextReceivingSequenceID
	b.mu.Unlock()
	if next != 1 {
		t.Fatalf("expected nextReceivingSequenceID reset to 1, got %d", next)
	}
}

func TestResetSequence_FatalWhenAheadOfReceived(t *testing.T) {
	sender := &fakeSender{}
	var mu sync.Mutex
	var fatals []error
	b := New(protocol.NewJSONHubProtocol(), sender, Options{}, func(err error) {
		mu.Lock()
		fatals = append(fatals, err)
		mu.Unlock()
	})

	b.ResetSequence(&protocol.SequenceMessage{SequenceID: 5})

	mu.Lock()
	defer mu.Unlock()
	if len(fatals) != 1 {
		t.Fatalf("expected exactly one fatal error, got %d", len(fatals))
	}
	if !errors.Is(fatals[0], ErrSequenceAhead) {
		t.Fatalf("expected ErrSequenceAhead, got %v", fatals[0])
	}
}

func TestResend_SendsSequenceThenBufferedItemsInOrder(t *testing.T) {
	b, sender, _ := newTestBuffer(t, Options{})

	for i := 0; i < 3; i++ {
		if err := b.Send(context.Background(), invocation("x")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	b.Disconnected()
	if err := b.Resend(context.Background()); err != nil {
		t.Fatalf("Resend: %v", err)
	}

	// 3 original sends + 1 sequence frame + 3 resent items.
	if sender.count() != 7 {
		t.Fatalf("expected 7 total sends, got %d", sender.count())
	}

	proto := protocol.NewJSONHubProtocol()

	// The frame right after the 3 original sends is the Sequence frame,
	// naming the oldest buffered id.
	sender.mu.Lock()
	seqFrame := sender.sent[3]
	sender.mu.Unlock()
	seqFrames, _, err := proto.ParseMessages(seqFrame, nil)
	if err != nil {
		t.Fatalf("parsing sequence frame: %v", err)
	}
	if len(seqFrames) != 1 {
		t.Fatalf("expected 1 frame at position 3, got %d", len(seqFrames))
	}
	seq, ok := seqFrames[0].(*protocol.SequenceMessage)
	if !ok || seq.SequenceID != 1 {
		t.Fatalf("expected Sequence(1) before the resent items, got %#v", seqFrames[0])
	}

	// WriteMessage already terminates every frame with the record separator.
	frames, _, err := proto.ParseMessages(sender.last(), nil)
	_ = frames
	if err != nil {
		t.Fatalf("parsing last resent frame: %v", err)
	}
}

func TestResend_ClearsReconnectFlagSoNewSendsTransmit(t *testing.T) {
	b, sender, _ := newTestBuffer(t, Options{})

	b.Disconnected()
	if err := b.Resend(context.Background()); err != nil {
		t.Fatalf("Resend: %v", err)
	}

	before := sender.count()
	if err := b.Send(context.Background(), invocation("after-reconnect")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sender.count() != before+1 {
		t.Fatalf("expected a new send to transmit immediately after Resend, got %d -> %d", before, sender.count())
	}
}

func TestDispose_UnblocksPendingBackpressureWithError(t *testing.T) {
	b, _, _ := newTestBuffer(t, Options{BufferSize: 1})

	done := make(chan error, 1)
	go func() {
		done <- b.Send(context.Background(), invocation("blocked"))
	}()

	time.Sleep(20 * time.Millisecond)

	wantErr := errors.New("connection disposed")
	b.Dispose(wantErr)

	select {
	case err := <-done:
		if !errors.Is(err, wantErr) {
			t.Fatalf("expected %v, got %v", wantErr, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Dispose")
	}
}

func TestAckCoalescing_FiresWithinWindow(t *testing.T) {
	b, sender, _ := newTestBuffer(t, Options{})

	if !b.ShouldProcessMessage(invocation("a")) {
		t.Fatal("expected acceptance")
	}

	before := sender.count()
	time.Sleep(ackCoalesceWindow + 200*time.Millisecond)

	if sender.count() <= before {
		t.Fatal("expected a coalesced Ack frame to be emitted within the window")
	}
}

func TestCompressThreshold_RoundTripsLargePayload(t *testing.T) {
	b, sender, _ := newTestBuffer(t, Options{CompressThreshold: 16})

	big := make([]interface{}, 0, 64)
	for i := 0; i < 64; i++ {
		big = append(big, "argument-payload-filler-text")
	}

	msg := &protocol.InvocationMessage{InvocationID: "1", Target: "method", Arguments: big}
	if err := b.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	b.mu.Lock()
	if len(b.items) != 1 || !b.items[0].zipped {
		b.mu.Unlock()
		t.Fatal("expected the buffered item to be compressed")
	}
	b.mu.Unlock()

	b.Disconnected()
	if err := b.Resend(context.Background()); err != nil {
		t.Fatalf("Resend: %v", err)
	}

	if sender.count() < 2 {
		t.Fatalf("expected resend to emit at least sequence+item, got %d", sender.count())
	}
}
