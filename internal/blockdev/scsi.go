// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package blockdev

import (
	"log"

	"github.com/usbarmory/armory-sdshare/internal/sd"
)

// SCSIError represents the USB Mass Storage block device error vocabulary.
type SCSIError int

// SCSI block device errors.
const (
	// InvalidAddress is returned for transfers beyond the last block or with
	// a buffer which is not exactly one block.
	InvalidAddress SCSIError = iota + 1
	// HardwareError is returned for failed reads.
	HardwareError
	// WriteError is returned for failed writes.
	WriteError
)

func (e SCSIError) Error() string {
	switch e {
	case InvalidAddress:
		return "invalid address"
	case HardwareError:
		return "hardware error"
	case WriteError:
		return "write error"
	default:
		return "unknown block device error"
	}
}

// SCSI is the USB Mass Storage facing block device adapter.
type SCSI struct {
	c cell
}

// NewSCSI returns a USB Mass Storage block device adapter, taking exclusive
// ownership of the card link.
func NewSCSI(link sd.Link) *SCSI {
	return &SCSI{
		c: cell{link: link},
	}
}

// ReadBlock reads the block at lba into block, which must be BlockSize
// bytes long.
func (s *SCSI) ReadBlock(lba uint32, block []byte) error {
	if len(block) != BlockSize {
		return InvalidAddress
	}

	s.c.Lock()
	defer s.c.Unlock()

	count, err := s.c.blocks()

	if err != nil {
		log.Printf("blockdev: read error, %v", err)
		return HardwareError
	}

	if lba >= count {
		return InvalidAddress
	}

	if err = s.c.link.ReadBlock(lba, (*sd.Block)(block)); err != nil {
		log.Printf("blockdev: read error, lba %d, %v", lba, err)
		return HardwareError
	}

	return nil
}

// WriteBlock writes block, which must be BlockSize bytes long, at lba.
func (s *SCSI) WriteBlock(lba uint32, block []byte) error {
	if len(block) != BlockSize {
		return InvalidAddress
	}

	s.c.Lock()
	defer s.c.Unlock()

	count, err := s.c.blocks()

	if err != nil {
		log.Printf("blockdev: write error, %v", err)
		return WriteError
	}

	if lba >= count {
		return InvalidAddress
	}

	if err = s.c.link.WriteBlock(lba, (*sd.Block)(block)); err != nil {
		log.Printf("blockdev: write error, lba %d, %v", lba, err)
		return WriteError
	}

	return nil
}

// MaxLBA returns the address of the last block, or 0 when no card is known.
// The query never fails as the SCSI capacity contract has no error channel.
func (s *SCSI) MaxLBA() uint32 {
	s.c.Lock()
	defer s.c.Unlock()

	count, err := s.c.blocks()

	if err != nil || count == 0 {
		return 0
	}

	return count - 1
}

// Present returns whether a card is known.
func (s *SCSI) Present() bool {
	s.c.Lock()
	defer s.c.Unlock()

	_, err := s.c.blocks()

	return err == nil
}

// ReadOnly returns whether the card is known and write protected.
func (s *SCSI) ReadOnly() bool {
	s.c.Lock()
	defer s.c.Unlock()

	card, err := s.c.link.Card()

	return err == nil && card.WriteProtected()
}
