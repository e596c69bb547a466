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
	"log"
	"time"

	"github.com/ardnew/softusb/device"
	"github.com/ardnew/softusb/device/class/msc"
	"github.com/ardnew/softusb/device/hal/fifo"
	"golang.org/x/sync/errgroup"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/board"
	"github.com/usbarmory/armory-sdshare/internal/irq"
	"github.com/usbarmory/armory-sdshare/internal/sd"
	"github.com/usbarmory/armory-sdshare/internal/ums"
)

const (
	bulkIN  = 0x81
	bulkOUT = 0x01

	configurationValue = 1
	interfaceNumber    = 0

	maxPacketSize = 512

	monitorInterval = 1 * time.Second
)

var errNoBus = errors.New("missing -bus directory")

// serve exports the card over a softusb FIFO bus until ctx is done. The
// card is served by the interrupt serviced responder, or by the softusb
// Mass Storage Class driver when class is set.
func serve(ctx context.Context, conf *board.Config, host *sd.Host, cd sd.DetectPin, bus string, class bool) (err error) {
	if bus == "" {
		return errNoBus
	}

	id := conf.USB
	scsi := blockdev.NewSCSI(host)

	builder := device.NewDeviceBuilder().
		WithVendorProduct(id.VendorID, id.ProductID).
		WithStrings(id.Manufacturer, id.Product, id.Serial).
		AddConfiguration(configurationValue)

	var driver interface {
		device.ClassDriver
		Run(context.Context) error
	}

	var setStack func(*device.Stack)

	if class {
		disk := msc.New(ums.NewStorage(scsi), id.SCSI.Vendor, id.SCSI.Product)
		disk.ConfigureDevice(builder, bulkIN, bulkOUT)
		driver, setStack = disk, disk.SetStack
	} else {
		b, err := responderBridge(ctx, scsi, id.SCSI)

		if err != nil {
			return err
		}

		builder.AddInterface(msc.ClassMSC, msc.SubclassSCSI, msc.ProtocolBulkOnly)
		builder.AddEndpoint(bulkIN, device.EndpointTypeBulk, maxPacketSize)
		builder.AddEndpoint(bulkOUT, device.EndpointTypeBulk, maxPacketSize)
		driver, setStack = b, func(s *device.Stack) { b.SetBus(s) }
	}

	dev, err := builder.Build(ctx)

	if err != nil {
		return
	}

	config := dev.GetConfiguration(configurationValue)

	if config == nil || config.GetInterface(interfaceNumber) == nil {
		return errNotConfigured
	}

	if err = config.GetInterface(interfaceNumber).SetClassDriver(driver); err != nil {
		return
	}

	stack := device.NewStack(dev, fifo.New(bus))
	setStack(stack)

	if err = stack.Start(ctx); err != nil {
		return
	}

	defer stack.Stop()

	log.Printf("ums: waiting for host on %s", bus)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := stack.WaitConnect(ctx); err != nil {
			return err
		}

		log.Printf("ums: host connected, %d blocks exported", uint64(scsi.MaxLBA())+1)

		return driver.Run(ctx)
	})

	g.Go(func() error {
		return monitor(ctx, cd)
	})

	return g.Wait()
}

// responderBridge installs a responder over scsi and starts its interrupt
// handler, which runs until ctx is done.
func responderBridge(ctx context.Context, scsi *blockdev.SCSI, id ums.Identity) (b *bridge, err error) {
	var slot ums.Slot

	pipe := ums.NewPipe()
	line := irq.NewLine()

	if err = slot.Install(pipe, ums.New(scsi, id)); err != nil {
		return
	}

	line.Unmask()
	go line.Serve(ctx, ums.Service(&slot))

	return newBridge(&slot, pipe, line), nil
}

// monitor reports card removal and reinsertion, the exported capacity is
// not updated as media change is not signaled to the host.
func monitor(ctx context.Context, cd sd.DetectPin) error {
	present := cd.Present()

	t := time.NewTicker(monitorInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		if p := cd.Present(); p != present {
			present = p

			if present {
				log.Printf("sd: card reinserted")
			} else {
				log.Printf("sd: card removed")
			}
		}
	}
}
