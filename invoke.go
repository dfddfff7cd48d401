// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package hubconn

import (
	"context"
	"fmt"

	"github.com/hubconn/client/internal/protocol"
	"github.com/hubconn/client/internal/registry"
)

// ClientStream marks an argument of Send/Invoke/Stream as a client-to-server
// streaming parameter. Values sent on In are forwarded as StreamItem
// frames, in the order produced; closing In completes the stream
// normally; calling Abort instead completes it with an error. A
// ClientStream must not be reused across calls.
type ClientStream struct {
	In      chan interface{}
	abortCh chan error
}

// NewClientStream creates a ClientStream ready to be passed as an argument.
func NewClientStream() *ClientStream {
	return &ClientStream{In: make(chan interface{}), abortCh: make(chan error, 1)}
}

// Abort ends the stream with err instead of a clean completion. At most
// the first call has effect.
func (s *ClientStream) Abort(err error) {
	select {
	case s.abortCh <- err:
	default:
	}
}

// Send issues a non-blocking (fire-and-forget) invocation. It resolves
// once the frame has been enqueued for send, not once the server has
// acted on it.
func (c *HubConnection) Send(ctx context.Context, method string, args ...interface{}) error {
	if err := c.requireStartedLocked("send"); err != nil {
		return err
	}

	streamArgs, plainArgs, streamIDs := c.extractClientStreams(args)

	msg := &protocol.InvocationMessage{Target: method, Arguments: plainArgs, StreamIDs: streamIDs}
	if err := c.sendMessage(ctx, msg); err != nil {
		return fmt.Errorf("hubconn: sending invocation of %q: %w", method, err)
	}

	c.launchClientStreams(streamIDs, streamArgs)
	return nil
}

// Invoke issues a blocking invocation and returns the server's result, or
// an error from the server's Completion or from connection closure.
func (c *HubConnection) Invoke(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	if err := c.requireStartedLocked("invoke"); err != nil {
		return nil, err
	}

	streamArgs, plainArgs, streamIDs := c.extractClientStreams(args)

	id := c.registry.NextID()
	future := registry.NewFuture()
	c.registry.Register(id, future)

	msg := &protocol.InvocationMessage{InvocationID: id, Target: method, Arguments: plainArgs, StreamIDs: streamIDs}
	if err := c.sendMessage(ctx, msg); err != nil {
		c.registry.Remove(id)
		return nil, fmt.Errorf("hubconn: sending invocation of %q: %w", method, err)
	}

	c.launchClientStreams(streamIDs, streamArgs)

	select {
	case <-future.Done():
		return future.Result()
	case <-ctx.Done():
		c.registry.Remove(id)
		return nil, ctx.Err()
	}
}

// Stream issues a server-to-client streaming invocation. Call Next on the
// returned StreamReader to consume items; Cancel stops it early.
func (c *HubConnection) Stream(ctx context.Context, method string, args ...interface{}) (*StreamReader, error) {
	if err := c.requireStartedLocked("stream"); err != nil {
		return nil, err
	}

	streamArgs, plainArgs, streamIDs := c.extractClientStreams(args)

	id := c.registry.NextID()

	sendDone := make(chan struct{})
	sink := registry.NewSink(func() {
		<-sendDone // cancellation must follow the initial send, never precede it
		_ = c.sendMessage(context.Background(), &protocol.CancelInvocationMessage{InvocationID: id})
		c.registry.Remove(id)
	})
	c.registry.Register(id, sink)

	msg := &protocol.StreamInvocationMessage{InvocationID: id, Target: method, Arguments: plainArgs, StreamIDs: streamIDs}
	err := c.sendMessage(ctx, msg)
	close(sendDone)
	if err != nil {
		c.registry.Remove(id)
		return nil, fmt.Errorf("hubconn: sending stream invocation of %q: %w", method, err)
	}

	c.launchClientStreams(streamIDs, streamArgs)

	return &StreamReader{sink: sink}, nil
}

// StreamReader consumes a server-to-client stream.
type StreamReader struct {
	sink *registry.Sink
}

// Next blocks until an item arrives, the stream ends (io.EOF), the stream
// errors, or ctx is done.
func (r *StreamReader) Next(ctx context.Context) (interface{}, error) {
	return r.sink.Next(ctx)
}

// Cancel stops the stream. Safe to call more than once.
func (r *StreamReader) Cancel() {
	r.sink.Cancel()
}

// extractClientStreams walks args, pulling out every *ClientStream,
// allocating it a stream id from the shared counter, and returning the
// remaining plain arguments (with stream args removed) alongside the
// allocated ids, in argument order. Unlike an approach that removes
// elements from args while iterating forward with an incrementing index
// (which skips the element following a removed one), this accumulates the
// plain arguments into a fresh slice in a single pass, so no argument is
// ever skipped regardless of how many streams precede it.
func (c *HubConnection) extractClientStreams(args []interface{}) (streams []*ClientStream, plainArgs []interface{}, streamIDs []string) {
	plainArgs = make([]interface{}, 0, len(args))
	for _, a := range args {
		if cs, ok := a.(*ClientStream); ok {
			id := c.registry.NextID()
			streamIDs = append(streamIDs, id)
			streams = append(streams, cs)
			continue
		}
		plainArgs = append(plainArgs, a)
	}
	return streams, plainArgs, streamIDs
}

// launchClientStreams starts one pump goroutine per client-to-server
// stream argument. Each pump forwards items in the order produced and
// emits a terminal Completion: a clean one when its source channel closes,
// or an errored one when Abort is called.
func (c *HubConnection) launchClientStreams(ids []string, streams []*ClientStream) {
	for i, cs := range streams {
		go c.pumpClientStream(ids[i], cs)
	}
}

func (c *HubConnection) pumpClientStream(id string, cs *ClientStream) {
	ctx := context.Background()

	for {
		select {
		case item, ok := <-cs.In:
			if !ok {
				_ = c.sendMessage(ctx, &protocol.CompletionMessage{InvocationID: id})
				return
			}
			if err := c.sendMessage(ctx, &protocol.StreamItemMessage{InvocationID: id, Item: item}); err != nil {
				c.logger.Warn("hubconn: client stream item send failed", "stream_id", id, "error", err)
				return
			}
		case err := <-cs.abortCh:
			_ = c.sendMessage(ctx, &protocol.CompletionMessage{InvocationID: id, Error: errString(err)})
			return
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "client stream aborted"
	}
	return err.Error()
}

// sendMessage serializes and sends msg, routing through the
// stateful-reconnect buffer when one is active, and resets the ping timer
// on success. All outbound invocation-family traffic funnels through this
// single entrypoint.
func (c *HubConnection) sendMessage(ctx context.Context, msg protocol.HubMessage) error {
	c.mu.Lock()
	buf := c.buf
	c.mu.Unlock()

	var err error
	if buf != nil {
		err = buf.Send(ctx, msg)
	} else {
		var payload []byte
		payload, err = c.protocol.WriteMessage(msg)
		if err != nil {
			return fmt.Errorf("hubconn: serializing %s: %w", msg.Type(), err)
		}
		c.sendMu.Lock()
		err = c.transport.Send(ctx, payload)
		c.sendMu.Unlock()
	}

	if err != nil {
		return err
	}
	c.resetPingTimerOnSend()
	return nil
}

func (c *HubConnection) requireStartedLocked(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return &ProtocolStateError{Operation: op, State: c.state}
	}
	return nil
}
