// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package blockdev

import (
	"github.com/usbarmory/armory-sdshare/internal/sd"
)

// Device is the filesystem facing block device adapter.
type Device struct {
	c cell
}

// New returns a filesystem block device adapter, taking exclusive ownership
// of the card link.
func New(link sd.Link) *Device {
	return &Device{
		c: cell{link: link},
	}
}

// Read reads len(blocks) consecutive blocks starting at start, reason tags
// the transfer in returned errors.
//
// The transfer is not transactional, on error blocks preceding the failing
// one have already been overwritten.
func (d *Device) Read(blocks []sd.Block, start uint32, reason string) error {
	d.c.Lock()
	defer d.c.Unlock()

	if err := d.c.check(start, len(blocks)); err != nil {
		return &Error{Op: "read", LBA: start, Reason: reason, Err: err}
	}

	for i := range blocks {
		lba := start + uint32(i)

		if err := d.c.link.ReadBlock(lba, &blocks[i]); err != nil {
			return &Error{Op: "read", LBA: lba, Reason: reason, Err: err}
		}
	}

	return nil
}

// Write writes len(blocks) consecutive blocks starting at start.
//
// The transfer is not transactional, on error blocks preceding the failing
// one have already been written to the card.
func (d *Device) Write(blocks []sd.Block, start uint32) error {
	d.c.Lock()
	defer d.c.Unlock()

	if err := d.c.check(start, len(blocks)); err != nil {
		return &Error{Op: "write", LBA: start, Err: err}
	}

	for i := range blocks {
		lba := start + uint32(i)

		if err := d.c.link.WriteBlock(lba, &blocks[i]); err != nil {
			return &Error{Op: "write", LBA: lba, Err: err}
		}
	}

	return nil
}

// Capacity returns the number of blocks of the card.
func (d *Device) Capacity() (uint32, error) {
	d.c.Lock()
	defer d.c.Unlock()

	n, err := d.c.blocks()

	if err != nil {
		return 0, &Error{Op: "capacity", Err: err}
	}

	return n, nil
}
