// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package registry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hubconn/client/internal/protocol"
)

// Sink is the Entry backing a multi-shot Stream call. StreamItem frames
// push items; a Completion without an error drains as io.EOF, one with an
// error surfaces that error from Next.
type Sink struct {
	mu     sync.Mutex
	queue  []interface{}
	closed bool
	err    error

	notify chan struct{}

	cancelOnce sync.Once
	onCancel   func()
}

// NewSink creates a Sink. onCancel is invoked at most once, the first time
// the consumer calls Cancel; the owning connection uses it to emit
// CancelInvocation and remove the registry entry.
func NewSink(onCancel func()) *Sink {
	return &Sink{notify: make(chan struct{}, 1), onCancel: onCancel}
}

func (s *Sink) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Sink) HandleStreamItem(item interface{}) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, item)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Sink) HandleCompletion(msg *protocol.CompletionMessage) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if msg.Error != "" {
			s.err = fmt.Errorf("hubconn: stream completed with error: %s", msg.Error)
		}
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Sink) HandleError(err error) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.err = err
	}
	s.mu.Unlock()
	s.signal()
}

// Next blocks until an item arrives, the stream ends (io.EOF), the stream
// errors, or ctx is done.
func (s *Sink) Next(ctx context.Context) (interface{}, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			item := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return item, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel tells the owning connection to stop this stream. No further items
// are delivered to the consumer, even ones already in flight on the wire.
func (s *Sink) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.queue = nil
		s.closed = true
		s.mu.Unlock()
		s.signal()
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}
