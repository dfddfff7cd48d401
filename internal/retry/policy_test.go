// Copyright (c) 2026 The hubconn Authors.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package retry

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultPolicy_Doubles(t *testing.T) {
	p := &DefaultPolicy{InitialDelay: time.Second, MaxDelay: 8 * time.Second}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		got := p.NextRetryDelay(0, i, errors.New("boom"))
		if got == nil || *got != w {
			t.Fatalf("attempt %d: got %v, want %v", i, got, w)
		}
	}
}

func TestDefaultPolicy_MaxAttempts(t *testing.T) {
	p := &DefaultPolicy{InitialDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 2}

	if d := p.NextRetryDelay(0, 0, nil); d == nil {
		t.Fatal("attempt 0 should be allowed")
	}
	if d := p.NextRetryDelay(0, 1, nil); d == nil {
		t.Fatal("attempt 1 should be allowed")
	}
	if d := p.NextRetryDelay(0, 2, nil); d != nil {
		t.Fatalf("attempt 2 should exhaust the policy, got %v", *d)
	}
}

func TestNoRetry_AlwaysNil(t *testing.T) {
	if d := NoRetry.NextRetryDelay(0, 0, errors.New("boom")); d != nil {
		t.Fatalf("NoRetry should always return nil, got %v", *d)
	}
}
