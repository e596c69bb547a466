// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ums implements a USB Mass Storage Bulk-Only Transport responder
// serving SCSI block commands from a single block device.
//
// The responder is not safe for concurrent use, it is meant to be reached
// only from the USB interrupt handler through an irq.Slot (see Service).
package ums

import (
	"errors"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
)

// BlockSize is the size of the logical blocks exported to the host.
const BlockSize = blockdev.BlockSize

// BlockDevice represents the block device contract required by the
// responder, it is satisfied by *blockdev.SCSI.
//
// Errors are expected in the blockdev.SCSIError vocabulary.
type BlockDevice interface {
	ReadBlock(lba uint32, block []byte) error
	WriteBlock(lba uint32, block []byte) error
	MaxLBA() uint32
}

// presence is optionally implemented by block devices which can report the
// absence of their medium.
type presence interface {
	Present() bool
}

// writeProtection is optionally implemented by block devices which can
// report a write protected medium.
type writeProtection interface {
	ReadOnly() bool
}

// Identity is the SCSI INQUIRY identification of the exported unit.
type Identity struct {
	// Vendor is the vendor identification (up to 8 characters).
	Vendor string
	// Product is the product identification (up to 16 characters).
	Product string
	// Revision is the product revision level (up to 4 characters).
	Revision string
}

// Responder errors.
var (
	ErrInvalidCBW     = errors.New("ums: invalid CBW")
	ErrUnsupported    = errors.New("ums: unsupported request")
	ErrTransferLength = errors.New("ums: invalid transfer length")
	ErrReset          = errors.New("ums: transfer discarded by reset")
)

func present(dev BlockDevice) bool {
	if p, ok := dev.(presence); ok {
		return p.Present()
	}

	return true
}

func readOnly(dev BlockDevice) bool {
	if p, ok := dev.(writeProtection); ok {
		return p.ReadOnly()
	}

	return false
}
