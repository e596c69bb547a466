// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package blockdev exposes an SD card link as a random access block device.
//
// Two adapters are provided over the same card link ownership model: Device,
// for filesystem consumers (batched transfers, typed errors, capacity query
// with an error channel), and SCSI, for USB Mass Storage (single 512 byte
// blocks, SCSI block device error vocabulary, saturating capacity query).
//
// Block addresses are passed unchanged to the card (one block is one card
// protocol unit), there is no remapping or caching and each block is a
// separate card transaction.
//
// Batched transfers are not transactional: when block k of a batch fails the
// transfer stops and returns an error, blocks before k have already been
// transferred (into the caller buffer on reads, onto the card on writes) and
// are not rolled back.
package blockdev

import (
	"errors"
	"fmt"
	"sync"

	"github.com/usbarmory/armory-sdshare/internal/sd"
)

// BlockSize is the adapter block size.
const BlockSize = sd.BlockSize

// Adapter errors.
var (
	// ErrOutOfRange is returned for transfers beyond the card capacity,
	// such transfers are never attempted on the card.
	ErrOutOfRange = errors.New("block address out of range")
	// ErrNoCard is returned when no card has been initialized.
	ErrNoCard = sd.ErrNoCard
)

// Error records a failed block transfer.
type Error struct {
	// Op is the operation ("read", "write", "capacity").
	Op string
	// LBA is the failing block address.
	LBA uint32
	// Reason is the caller supplied tag of the transfer, if any.
	Reason string
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("blockdev: %s lba %d", e.Op, e.LBA)

	if e.Reason != "" {
		s += " (" + e.Reason + ")"
	}

	return s + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// cell holds exclusive ownership of a card link, transfers are serialized so
// that adapters can be shared by reference while mutating bus state.
type cell struct {
	sync.Mutex
	link sd.Link
}

// blocks returns the card capacity, the lock must be held.
func (c *cell) blocks() (uint32, error) {
	card, err := c.link.Card()

	if err != nil {
		return 0, err
	}

	return card.BlockCount(), nil
}

// check validates a transfer of n blocks at start against the card capacity,
// the lock must be held.
func (c *cell) check(start uint32, n int) error {
	count, err := c.blocks()

	if err != nil {
		return err
	}

	if start >= count || uint64(start)+uint64(n) > uint64(count) {
		return fmt.Errorf("%w (%d+%d > %d)", ErrOutOfRange, start, n, count)
	}

	return nil
}
