// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package irq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout")
		}

		time.Sleep(time.Millisecond)
	}
}

func TestLineMasked(t *testing.T) {
	line := NewLine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)

	go func() {
		done <- line.Serve(ctx, func() { calls.Add(1) })
	}()

	line.Raise()
	line.Raise()

	time.Sleep(20 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Fatalf("handler ran %d times on masked line", n)
	}

	line.Unmask()
	line.Unmask()

	waitFor(t, func() bool { return line.Served() == 1 })

	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want %v", err, context.Canceled)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("handler ran %d times, want 1 (coalesced)", n)
	}
}

func TestLineNonReentrant(t *testing.T) {
	const raisers = 8

	line := NewLine()
	line.Unmask()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var active, peak atomic.Int32

	handler := func() {
		n := active.Add(1)

		if n > peak.Load() {
			peak.Store(n)
		}

		time.Sleep(100 * time.Microsecond)
		active.Add(-1)
	}

	go line.Serve(ctx, handler)

	var wg sync.WaitGroup

	for i := 0; i < raisers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				line.Raise()
			}
		}()
	}

	wg.Wait()

	// a raise issued after all others is always delivered
	before := line.Served()
	line.Raise()
	waitFor(t, func() bool { return line.Served() > before })

	if p := peak.Load(); p != 1 {
		t.Errorf("peak handler concurrency = %d, want 1", p)
	}
}

func TestLineServeCancelled(t *testing.T) {
	line := NewLine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := line.Serve(ctx, func() {}); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want %v", err, context.Canceled)
	}
}
