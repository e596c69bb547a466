// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"context"
	"errors"

	"github.com/usbarmory/tamago/soc/imx6/usb"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/board"
	"github.com/usbarmory/armory-sdshare/internal/irq"
	"github.com/usbarmory/armory-sdshare/internal/sd"
	"github.com/usbarmory/armory-sdshare/internal/ums"
)

const maxPacketSize = 512

var (
	// endpoint transfers, serviced on the interrupt line
	pipe = ums.NewPipe()
	line = irq.NewLine()

	// USB device and responder, installed once
	umsSlot ums.Slot
)

var errNotReady = errors.New("responder not installed")

func configureDevice(device *usb.Device, id board.USB) {
	// Supported Language Code Zero: English
	device.SetLanguageCodes([]uint16{0x0409})

	// device descriptor
	device.Descriptor = &usb.DeviceDescriptor{}
	device.Descriptor.SetDefaults()

	device.Descriptor.VendorId = id.VendorID
	device.Descriptor.ProductId = id.ProductID

	device.Descriptor.Device = 0x0001

	iManufacturer, _ := device.AddString(id.Manufacturer)
	device.Descriptor.Manufacturer = iManufacturer

	iProduct, _ := device.AddString(id.Product)
	device.Descriptor.Product = iProduct

	iSerial, _ := device.AddString(id.Serial)
	device.Descriptor.SerialNumber = iSerial

	conf := &usb.ConfigurationDescriptor{}
	conf.SetDefaults()

	device.AddConfiguration(conf)

	// device qualifier
	device.Qualifier = &usb.DeviceQualifierDescriptor{}
	device.Qualifier.SetDefaults()
	device.Qualifier.NumConfigurations = uint8(len(device.Configurations))
}

func buildMassStorageInterface() (iface *usb.InterfaceDescriptor) {
	// interface
	iface = &usb.InterfaceDescriptor{}
	iface.SetDefaults()
	iface.NumEndpoints = 2
	// Mass Storage
	iface.InterfaceClass = 0x8
	// SCSI
	iface.InterfaceSubClass = 0x6
	// Bulk-Only
	iface.InterfaceProtocol = 0x50
	iface.Interface = 0

	// EP1 IN endpoint (bulk)
	ep1IN := &usb.EndpointDescriptor{}
	ep1IN.SetDefaults()
	ep1IN.EndpointAddress = 0x81
	ep1IN.Attributes = 2
	ep1IN.MaxPacketSize = maxPacketSize
	ep1IN.Zero = false
	ep1IN.Function = tx

	iface.Endpoints = append(iface.Endpoints, ep1IN)

	// EP1 OUT endpoint (bulk)
	ep1OUT := &usb.EndpointDescriptor{}
	ep1OUT.SetDefaults()
	ep1OUT.EndpointAddress = 0x01
	ep1OUT.Attributes = 2
	ep1OUT.MaxPacketSize = maxPacketSize
	ep1OUT.Zero = false
	ep1OUT.Function = rx

	iface.Endpoints = append(iface.Endpoints, ep1OUT)

	return
}

// setup handles the class specific control requests specified at
// p7, 3.1 - 3.2, USB Mass Storage Class 1.0
func setup(setup *usb.SetupData) (in []byte, err error) {
	if setup == nil {
		return
	}

	installed := umsSlot.With(func(_ ums.Device, r *ums.Responder) {
		in, err = pipe.Setup(r, setup.Request)
	})

	if !installed {
		err = errNotReady
	}

	return
}

func tx(_ []byte, lastErr error) (in []byte, err error) {
	return pipe.Transmit(), nil
}

// rx hands the transfer to the interrupt handler and returns the size of
// the next expected transfer once it has been processed.
func rx(buf []byte, lastErr error) (res []byte, err error) {
	pipe.Receive(buf)
	line.Raise()

	return pipe.Await(context.Background())
}

// startUSB exports the card as a USB Mass Storage device, it never returns
// on success.
func startUSB(ctx context.Context, conf *board.Config, host *sd.Host) (err error) {
	device := &usb.Device{
		Setup: setup,
	}
	configureDevice(device, conf.USB)

	iface := buildMassStorageInterface()
	device.Configurations[0].AddInterface(iface)

	r := ums.New(blockdev.NewSCSI(host), conf.USB.SCSI)

	if err = umsSlot.Install(pipe, r); err != nil {
		return
	}

	line.Unmask()
	go line.Serve(ctx, ums.Service(&umsSlot))

	usb.USB1.Init()
	usb.USB1.DeviceMode()
	usb.USB1.Reset()

	// never returns
	usb.USB1.Start(device)

	return
}
