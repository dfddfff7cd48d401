// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package registry

import (
	"fmt"
	"sync"

	"github.com/hubconn/client/internal/protocol"
)

// Future is the Entry backing a single-shot Invoke call: it resolves
// exactly once, either with the Completion result or with an error.
type Future struct {
	once sync.Once
	done chan struct{}
	val  interface{}
	err  error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed exactly once, when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the resolved value and error. Only meaningful after Done
// is closed.
func (f *Future) Result() (interface{}, error) { return f.val, f.err }

func (f *Future) resolve(val interface{}, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
	})
}

func (f *Future) HandleStreamItem(interface{}) {
	f.resolve(nil, fmt.Errorf("hubconn: unexpected StreamItem for a non-streaming invocation"))
}

func (f *Future) HandleCompletion(msg *protocol.CompletionMessage) {
	if msg.Error != "" {
		f.resolve(nil, fmt.Errorf("hubconn: server completed invocation with error: %s", msg.Error))
		return
	}
	f.resolve(msg.Result, nil)
}

func (f *Future) HandleError(err error) {
	f.resolve(nil, err)
}
