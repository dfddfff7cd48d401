// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package buffer

import (
	"context"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// bufferedItem is one unacknowledged invocation-family frame. Payloads
// above compressThreshold are retained zstd-compressed to keep the
// buffer's memory footprint down for large invocation arguments; they are
// decompressed only when resent.
type bufferedItem struct {
	id      uint64
	size    int // original, uncompressed size — what counts toward bufferedByteCount
	payload []byte
	zipped  bool
	handle  *backpressureHandle
}

func newBufferedItem(id uint64, payload []byte, compressThreshold int, enc *zstd.Encoder) *bufferedItem {
	it := &bufferedItem{id: id, size: len(payload)}
	if enc != nil && compressThreshold > 0 && len(payload) > compressThreshold {
		it.payload = enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
		it.zipped = true
	} else {
		it.payload = append([]byte(nil), payload...)
	}
	return it
}

func (it *bufferedItem) rawPayload(dec *zstd.Decoder) ([]byte, error) {
	if !it.zipped {
		return it.payload, nil
	}
	return dec.DecodeAll(it.payload, nil)
}

// backpressureHandle is a one-shot gate a sender awaits when the buffer is
// over budget. It is completed exactly once, either by an Ack that frees
// enough room or by Dispose with a terminal error.
type backpressureHandle struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newBackpressureHandle() *backpressureHandle {
	return &backpressureHandle{done: make(chan struct{})}
}

func (h *backpressureHandle) complete(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// wait blocks until the handle completes or ctx is done. A nil handle is
// treated as already-satisfied, matching the spec's "returns immediately
// unless engaged".
func (h *backpressureHandle) wait(ctx context.Context) error {
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
