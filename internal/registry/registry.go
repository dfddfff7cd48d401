// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package registry maps pending invocation ids to their continuations
// (a single-shot Future for Invoke, a multi-shot Sink for Stream) and
// owns the single counter that allocates both invocation ids and
// client-to-server stream ids, so the two id spaces never collide.
package registry

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/hubconn/client/internal/protocol"
)

// Entry is what the registry dispatches inbound frames to.
type Entry interface {
	// HandleStreamItem delivers one StreamItem payload. Only streams care;
	// a single-shot Invoke entry treats it as a protocol violation.
	HandleStreamItem(item interface{})
	// HandleCompletion delivers the terminal Completion for this id.
	HandleCompletion(msg *protocol.CompletionMessage)
	// HandleError terminates the entry out of band. The registry calls it
	// from CloseAll when the connection closes.
	HandleError(err error)
}

// Registry owns the id counter and the id -> Entry map. All methods are
// safe for concurrent use, though the coordinator that owns a Registry is
// expected to serialize access the way it serializes every other piece of
// connection state.
type Registry struct {
	counter atomic.Uint64

	mu      sync.Mutex
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// NextID allocates the next id in the shared invocation/stream id space
// and returns it pre-stringified, as it must appear on the wire.
func (r *Registry) NextID() string {
	return strconv.FormatUint(r.counter.Add(1)-1, 10)
}

// Register installs e under id. A duplicate id (should never happen given
// NextID's monotonicity) overwrites the previous entry.
func (r *Registry) Register(id string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = e
}

// Lookup returns the entry for id, if any.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove deletes the entry for id without invoking it. Callers that have
// already resolved/errored an entry use this to keep the map from growing
// unboundedly; callers that need to notify the entry use DispatchCompletion
// or CloseAll below instead.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// DispatchStreamItem feeds item to the entry registered under id, if any.
func (r *Registry) DispatchStreamItem(id string, item interface{}) {
	if e, ok := r.Lookup(id); ok {
		e.HandleStreamItem(item)
	}
}

// DispatchCompletion feeds msg to the entry registered under id and
// removes it — a Completion is always terminal.
func (r *Registry) DispatchCompletion(msg *protocol.CompletionMessage) {
	r.mu.Lock()
	e, ok := r.entries[msg.InvocationID]
	if ok {
		delete(r.entries, msg.InvocationID)
	}
	r.mu.Unlock()

	if ok {
		e.HandleCompletion(msg)
	}
}

// CloseAll errors every pending entry exactly once and empties the map.
// Called when the connection closes so no Invoke/Stream caller is left
// waiting forever.
func (r *Registry) CloseAll(err error) {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.HandleError(err)
	}
}

// Len reports the number of pending entries; exposed for tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
