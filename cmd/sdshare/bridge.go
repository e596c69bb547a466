// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"sync"

	"github.com/ardnew/softusb/device"
	"github.com/ardnew/softusb/device/class/msc"

	"github.com/usbarmory/armory-sdshare/internal/irq"
	"github.com/usbarmory/armory-sdshare/internal/ums"
)

var (
	errNotConfigured = errors.New("bulk endpoints not configured")
	errNotInstalled  = errors.New("responder not installed")
)

// bulk performs blocking endpoint transfers, it is satisfied by
// *device.Stack.
type bulk interface {
	Read(ctx context.Context, ep *device.Endpoint, buf []byte) (int, error)
	Write(ctx context.Context, ep *device.Endpoint, data []byte) (int, error)
}

// bridge is a softusb class driver which hands bulk transfers to the
// responder serviced on the interrupt line, the same way the firmware
// endpoint functions do.
type bridge struct {
	sync.Mutex

	bus bulk
	in  *device.Endpoint
	out *device.Endpoint

	pipe *ums.Pipe
	line *irq.Line
	slot *ums.Slot
}

var _ device.ClassDriver = (*bridge)(nil)

func newBridge(slot *ums.Slot, pipe *ums.Pipe, line *irq.Line) *bridge {
	return &bridge{
		pipe: pipe,
		line: line,
		slot: slot,
	}
}

// SetBus sets the endpoint transfer implementation.
func (b *bridge) SetBus(bus bulk) {
	b.Lock()
	defer b.Unlock()

	b.bus = bus
}

// Init implements device.ClassDriver.
func (b *bridge) Init(iface *device.Interface) error {
	b.Lock()
	defer b.Unlock()

	for _, ep := range iface.Endpoints() {
		if !ep.IsBulk() {
			continue
		}

		if ep.IsIn() {
			b.in = ep
		} else {
			b.out = ep
		}
	}

	if b.in == nil || b.out == nil {
		return errNotConfigured
	}

	return nil
}

// HandleSetup implements device.ClassDriver.
func (b *bridge) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (handled bool, err error) {
	if !setup.IsClass() {
		return
	}

	var in []byte

	installed := b.slot.With(func(_ ums.Device, r *ums.Responder) {
		in, err = b.pipe.Setup(r, setup.Request)
	})

	switch {
	case !installed:
		return false, errNotInstalled
	case errors.Is(err, ums.ErrUnsupported):
		return false, nil
	case err != nil:
		return
	}

	copy(data, in)

	return true, nil
}

// SetAlternate implements device.ClassDriver.
func (b *bridge) SetAlternate(iface *device.Interface, alt uint8) error {
	return nil
}

// Close implements device.ClassDriver.
func (b *bridge) Close() error {
	b.Lock()
	defer b.Unlock()

	b.in = nil
	b.out = nil

	return nil
}

// Run moves bulk transfers between the host and the responder until ctx is
// done or the bus fails.
func (b *bridge) Run(ctx context.Context) error {
	buf := make([]byte, msc.CBWSize)

	for {
		b.Lock()
		bus, in, out := b.bus, b.in, b.out
		b.Unlock()

		if bus == nil || in == nil || out == nil {
			return errNotConfigured
		}

		n, err := bus.Read(ctx, out, buf)

		if err != nil {
			return err
		}

		b.pipe.Receive(buf[:n])
		b.line.Raise()

		// responder errors are logged by the interrupt handler
		res, _ := b.pipe.Await(ctx)

		if err = ctx.Err(); err != nil {
			return err
		}

		for data := b.pipe.Transmit(); data != nil; data = b.pipe.Transmit() {
			if _, err = bus.Write(ctx, in, data); err != nil {
				return err
			}
		}

		size := msc.CBWSize

		if len(res) > 0 {
			size = len(res)
		}

		if cap(buf) < size {
			buf = make([]byte, size)
		}

		buf = buf[:size]
	}
}
