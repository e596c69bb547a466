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
	"sync"
	"sync/atomic"
)

// Line is a level triggered interrupt line. Raised events are coalesced
// while the handler is pending and retained while the line is masked.
type Line struct {
	pending chan struct{}
	unmask  chan struct{}
	once    sync.Once

	served atomic.Uint64
}

// NewLine returns a masked interrupt line.
func NewLine() *Line {
	return &Line{
		pending: make(chan struct{}, 1),
		unmask:  make(chan struct{}),
	}
}

// Raise asserts the line, it never blocks.
func (l *Line) Raise() {
	select {
	case l.pending <- struct{}{}:
	default:
	}
}

// Unmask enables delivery of the line to its handler.
func (l *Line) Unmask() {
	l.once.Do(func() {
		close(l.unmask)
	})
}

// Served returns the number of completed handler invocations.
func (l *Line) Served() uint64 {
	return l.served.Load()
}

// Serve runs handler, to completion, once for every delivery of the line
// until ctx is done. Deliveries start only after the line is unmasked.
//
// Only one Serve loop must exist for each line, which guarantees that the
// handler is never entered while a previous invocation is still running.
func (l *Line) Serve(ctx context.Context, handler func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.unmask:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.pending:
			handler()
			l.served.Add(1)
		}
	}
}
