// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package buffer implements the stateful-reconnect message buffer: a
// sliding window of unacknowledged invocation-family frames, receive-side
// sequence deduplication, ACK emission, and send-side backpressure. It is
// only active for a connection whose negotiated transport advertises
// stateful-reconnect support.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/hubconn/client/internal/protocol"
)

// ErrSequenceAhead is the cause wrapped into the fatal error raised by
// ResetSequence when the server rewinds to an id we have not received yet.
var ErrSequenceAhead = errors.New("buffer: sequence id greater than amount of messages we've received")

// DefaultBufferSize is the default byte budget for unacknowledged
// invocation-family payloads.
const DefaultBufferSize = 100_000

// ackCoalesceWindow is how long the buffer waits after the first
// acceptance or duplicate before emitting a single coalesced Ack.
const ackCoalesceWindow = 1 * time.Second

// Sender is the narrow slice of Transport the buffer needs: write one
// already-framed payload. Defined locally so this package does not depend
// on the transport package's full surface.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Options configures a Buffer beyond the required collaborators.
type Options struct {
	// BufferSize is the byte threshold at which Send starts engaging
	// backpressure. Zero means DefaultBufferSize.
	BufferSize int

	// CompressThreshold is the payload size, in bytes, above which a
	// buffered item is retained zstd-compressed. Zero disables
	// compression entirely.
	CompressThreshold int

	// ResendBytesPerSec paces Resend's replay so a reconnect does not
	// burst-flood the new transport; zero disables pacing.
	ResendBytesPerSec int
}

// Buffer is the stateful-reconnect message buffer described in the
// MessageBuffer component.
type Buffer struct {
	proto   protocol.HubProtocol
	sender  Sender
	onFatal func(error)

	bufferSize        int
	compressThreshold int

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	resendLimiter *rate.Limiter

	mu                sync.Mutex
	items             []*bufferedItem
	totalMessageCount uint64
	bufferedByteCount int

	reconnectInProgress    bool
	waitForSequenceMessage bool

	nextReceivingSequenceID  uint64
	latestReceivedSequenceID uint64

	ackArmed bool
	disposed bool
}

// New creates a Buffer. onFatal is called at most from ResetSequence, when
// the server rewinds to an id ahead of what we've received — the caller
// (the coordinator) is expected to stop the connection with that error.
func New(proto protocol.HubProtocol, sender Sender, opts Options, onFatal func(error)) *Buffer {
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	b := &Buffer{
		proto:                   proto,
		sender:                  sender,
		onFatal:                 onFatal,
		bufferSize:              bufSize,
		compressThreshold:       opts.CompressThreshold,
		nextReceivingSequenceID: 1,
	}

	if opts.CompressThreshold > 0 {
		if enc, err := zstd.NewWriter(nil); err == nil {
			b.encoder = enc
		}
		if dec, err := zstd.NewReader(nil); err == nil {
			b.decoder = dec
		}
	}

	if opts.ResendBytesPerSec > 0 {
		burst := opts.ResendBytesPerSec
		if burst < 4096 {
			burst = 4096
		}
		b.resendLimiter = rate.NewLimiter(rate.Limit(opts.ResendBytesPerSec), burst)
	}

	return b
}

// Send serializes msg and, for invocation-family messages, buffers it for
// possible resend before forwarding it (unless a reconnect is currently in
// progress, in which case it stays queued). It returns once the frame is
// enqueued for send, awaiting backpressure only if the buffer is over
// budget.
func (b *Buffer) Send(ctx context.Context, msg protocol.HubMessage) error {
	payload, err := b.proto.WriteMessage(msg)
	if err != nil {
		return fmt.Errorf("buffer: serializing %s: %w", msg.Type(), err)
	}

	if !msg.Type().IsInvocationFamily() {
		return b.sender.Send(ctx, payload)
	}

	b.mu.Lock()
	b.totalMessageCount++
	item := newBufferedItem(b.totalMessageCount, payload, b.compressThreshold, b.encoder)
	b.items = append(b.items, item)
	b.bufferedByteCount += item.size

	var handle *backpressureHandle
	if b.bufferedByteCount >= b.bufferSize {
		handle = newBackpressureHandle()
		item.handle = handle
	}
	reconnecting := b.reconnectInProgress
	b.mu.Unlock()

	if !reconnecting {
		if err := b.sender.Send(ctx, payload); err != nil {
			b.Disconnected()
		}
	}

	return handle.wait(ctx)
}

// Ack processes a server Ack, releasing buffered items up to and including
// its sequence id, then releasing backpressure on further items while the
// buffer is back under budget.
func (b *Buffer) Ack(msg *protocol.AckMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cut := 0
	for cut < len(b.items) && b.items[cut].id <= msg.SequenceID {
		it := b.items[cut]
		b.bufferedByteCount -= it.size
		if it.handle != nil {
			it.handle.complete(nil)
		}
		cut++
	}

	for extra := cut; extra < len(b.items) && b.bufferedByteCount < b.bufferSize; extra++ {
		if h := b.items[extra].handle; h != nil {
			h.complete(nil)
		}
	}

	if cut > 0 {
		remaining := make([]*bufferedItem, len(b.items)-cut)
		copy(remaining, b.items[cut:])
		b.items = remaining
	}
}

// ShouldProcessMessage is the receive-side gate every inbound frame passes
// through before reaching handlers: it enforces "no invocation-family
// message is processed without a preceding Sequence after a disconnect"
// and drops duplicates.
func (b *Buffer) ShouldProcessMessage(msg protocol.HubMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.waitForSequenceMessage {
		if msg.Type() != protocol.MessageTypeSequence {
			return false
		}
		b.waitForSequenceMessage = false
		return true
	}

	if !msg.Type().IsInvocationFamily() {
		return true
	}

	currentID := b.nextReceivingSequenceID
	b.nextReceivingSequenceID++

	if currentID <= b.latestReceivedSequenceID {
		if currentID == b.latestReceivedSequenceID {
			b.armAckTimerLocked()
		}
		return false
	}

	b.latestReceivedSequenceID = currentID
	b.armAckTimerLocked()
	return true
}

// ResetSequence applies an inbound Sequence frame: rewinding
// nextReceivingSequenceID, or fatally stopping the connection if the
// server tries to rewind ahead of what we've actually received.
func (b *Buffer) ResetSequence(msg *protocol.SequenceMessage) {
	b.mu.Lock()
	next := b.nextReceivingSequenceID
	b.mu.Unlock()

	if msg.SequenceID > next {
		if b.onFatal != nil {
			b.onFatal(fmt.Errorf("%w (have %d, got %d)", ErrSequenceAhead, next, msg.SequenceID))
		}
		return
	}

	b.mu.Lock()
	b.nextReceivingSequenceID = msg.SequenceID
	b.mu.Unlock()
}

// Disconnected marks a transport loss: subsequent Send calls enqueue but
// do not transmit until Resend clears the flag.
func (b *Buffer) Disconnected() {
	b.mu.Lock()
	b.reconnectInProgress = true
	b.waitForSequenceMessage = true
	b.mu.Unlock()
}

// Resend re-establishes the server's view of our send stream after a
// reconnect: one Sequence frame naming the oldest buffered id (or the
// next id that would be assigned, if the buffer is empty), then every
// currently buffered item in order. Items appended to the buffer during
// Resend are not replayed twice — only the snapshot taken at entry is
// sent, and Send only forwards new frames once reconnectInProgress is
// cleared at the end.
func (b *Buffer) Resend(ctx context.Context) error {
	b.mu.Lock()
	var base uint64
	if len(b.items) > 0 {
		base = b.items[0].id
	} else {
		base = b.totalMessageCount + 1
	}
	snapshot := make([]*bufferedItem, len(b.items))
	copy(snapshot, b.items)
	b.mu.Unlock()

	seqPayload, err := b.proto.WriteMessage(&protocol.SequenceMessage{SequenceID: base})
	if err != nil {
		return fmt.Errorf("buffer: writing sequence frame: %w", err)
	}
	if err := b.sender.Send(ctx, seqPayload); err != nil {
		return fmt.Errorf("buffer: sending sequence frame: %w", err)
	}

	for _, it := range snapshot {
		if err := b.paceResend(ctx, it.size); err != nil {
			return fmt.Errorf("buffer: pacing resend: %w", err)
		}

		payload, err := it.rawPayload(b.decoder)
		if err != nil {
			return fmt.Errorf("buffer: decompressing buffered item %d: %w", it.id, err)
		}
		if err := b.sender.Send(ctx, payload); err != nil {
			return fmt.Errorf("buffer: resending item %d: %w", it.id, err)
		}
	}

	b.mu.Lock()
	b.reconnectInProgress = false
	b.mu.Unlock()
	return nil
}

// paceResend throttles replay the same way the teacher's ThrottledWriter
// paces large writes: chunk the request down to the limiter's burst so a
// single oversized item never hard-fails WaitN.
func (b *Buffer) paceResend(ctx context.Context, n int) error {
	if b.resendLimiter == nil {
		return nil
	}
	if burst := b.resendLimiter.Burst(); n > burst {
		n = burst
	}
	if n <= 0 {
		return nil
	}
	return b.resendLimiter.WaitN(ctx, n)
}

// Dispose completes every pending backpressure handle with err, so awaiting
// senders unblock with a failure instead of hanging forever.
func (b *Buffer) Dispose(err error) {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.bufferedByteCount = 0
	b.disposed = true
	b.mu.Unlock()

	for _, it := range items {
		if it.handle != nil {
			it.handle.complete(err)
		}
	}

	if b.encoder != nil {
		b.encoder.Close()
	}
	if b.decoder != nil {
		b.decoder.Close()
	}
}

// BufferedByteCount returns the current sum of buffered item sizes, for
// tests and diagnostics.
func (b *Buffer) BufferedByteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferedByteCount
}

// Len returns the number of currently buffered (unacknowledged) items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Buffer) armAckTimerLocked() {
	if b.ackArmed {
		return
	}
	b.ackArmed = true
	time.AfterFunc(ackCoalesceWindow, b.fireAck)
}

func (b *Buffer) fireAck() {
	b.mu.Lock()
	b.ackArmed = false
	reconnecting := b.reconnectInProgress
	disposed := b.disposed
	seq := b.latestReceivedSequenceID
	b.mu.Unlock()

	if reconnecting || disposed {
		return
	}

	payload, err := b.proto.WriteMessage(&protocol.AckMessage{SequenceID: seq})
	if err != nil {
		return
	}
	_ = b.sender.Send(context.Background(), payload)
}
