// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ums

import (
	"context"
	"log"
	"sync"

	"github.com/usbarmory/armory-sdshare/internal/irq"
)

// Device represents a USB device controller as seen from the interrupt
// handler, Poll services pending transfers with r as the sole endpoint
// client and reports whether any work was done.
type Device interface {
	Poll(r *Responder) bool
}

// Slot is the shared ownership slot holding the USB device and the
// responder.
type Slot = irq.Slot[Device, *Responder]

// Service returns the interrupt handler body, the whole poll and dispatch
// sequence runs within the slot critical section.
func Service(slot *Slot) func() {
	return func() {
		slot.With(func(dev Device, r *Responder) {
			dev.Poll(r)
		})
	}
}

type result struct {
	res []byte
	err error
}

// Pipe is a packet FIFO between bulk endpoints, driven by the USB
// controller, and the responder, driven by the interrupt handler.
//
// Endpoint side methods (Receive, Await, Transmit) are safe to call
// concurrently with Poll.
type Pipe struct {
	mu sync.Mutex

	// host to device transfers
	out [][]byte
	// device to host transfers
	in [][]byte
	// outcome of each processed host to device transfer
	done []result

	ready chan struct{}
}

// NewPipe returns an empty pipe.
func NewPipe() *Pipe {
	return &Pipe{
		ready: make(chan struct{}, 1),
	}
}

// Receive queues a copy of buf, received on the bulk OUT endpoint.
func (p *Pipe) Receive(buf []byte) {
	pkt := make([]byte, len(buf))
	copy(pkt, buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.out = append(p.out, pkt)
}

// Await returns the responder outcome of the oldest received transfer not
// yet awaited, blocking until it has been processed.
func (p *Pipe) Await(ctx context.Context) (res []byte, err error) {
	for {
		p.mu.Lock()

		if len(p.done) > 0 {
			r := p.done[0]
			p.done = p.done[1:]
			p.mu.Unlock()

			return r.res, r.err
		}

		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ready:
		}
	}
}

// Transmit returns the next transfer for the bulk IN endpoint, or nil if
// none is available.
func (p *Pipe) Transmit() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.in) == 0 {
		return nil
	}

	in := p.in[0]
	p.in[0] = nil
	p.in = p.in[1:]

	return in
}

// Reset discards all transfers in both directions. Received transfers not
// yet processed, and processed ones not yet awaited, complete with ErrReset
// so that no endpoint function waits on a discarded transfer.
func (p *Pipe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := make([]result, len(p.done)+len(p.out))

	for i := range done {
		done[i].err = ErrReset
	}

	p.out = nil
	p.in = nil
	p.done = done

	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// Setup handles a class specific control request on behalf of r, a
// Bulk-Only Mass Storage Reset also discards every queued transfer. It must
// be called within the slot critical section.
func (p *Pipe) Setup(r *Responder, request uint8) (in []byte, err error) {
	if request == BULK_ONLY_MASS_STORAGE_RESET {
		p.Reset()
	}

	return r.Setup(request)
}

// Poll processes all received transfers through r and collects its
// responses, it returns false when no transfer was pending.
func (p *Pipe) Poll(r *Responder) bool {
	p.mu.Lock()
	out := p.out
	p.out = nil
	p.mu.Unlock()

	if len(out) == 0 {
		return false
	}

	done := make([]result, 0, len(out))

	for _, buf := range out {
		res, err := r.Rx(buf, nil)

		if err != nil {
			log.Printf("ums: rx error, %v", err)
		}

		done = append(done, result{res, err})
	}

	var in [][]byte

	for {
		buf, _ := r.Tx(nil, nil)

		if buf == nil {
			break
		}

		in = append(in, buf)
	}

	p.mu.Lock()
	p.in = append(p.in, in...)
	p.done = append(p.done, done...)
	p.mu.Unlock()

	select {
	case p.ready <- struct{}{}:
	default:
	}

	return true
}
