// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ums

import (
	"io"
	"os"

	"github.com/ardnew/softusb/device/class/msc"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
)

// Storage exposes a block device as a softusb Mass Storage Class backend.
type Storage struct {
	dev BlockDevice
}

var _ msc.Storage = (*Storage)(nil)

// NewStorage returns a softusb storage backend over dev.
func NewStorage(dev BlockDevice) *Storage {
	return &Storage{dev: dev}
}

// BlockSize returns the block size.
func (s *Storage) BlockSize() uint32 {
	return BlockSize
}

// BlockCount returns the number of blocks, 0 when no medium is present.
func (s *Storage) BlockCount() uint64 {
	if !present(s.dev) {
		return 0
	}

	return uint64(s.dev.MaxLBA()) + 1
}

func (s *Storage) transfer(lba uint64, blocks uint32, buf []byte, fn func(uint32, []byte) error) (n uint32, err error) {
	if uint64(len(buf)) < uint64(blocks)*BlockSize {
		return 0, io.ErrShortBuffer
	}

	for n = 0; n < blocks; n++ {
		addr := lba + uint64(n)

		if addr > 0xffffffff {
			return n, blockdev.InvalidAddress
		}

		off := int(n) * BlockSize

		if err = fn(uint32(addr), buf[off:off+BlockSize]); err != nil {
			return
		}
	}

	return
}

// Read reads blocks starting at lba into buf, it returns the number of
// blocks read before any error.
func (s *Storage) Read(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	return s.transfer(lba, blocks, buf, s.dev.ReadBlock)
}

// Write writes blocks from buf starting at lba, it returns the number of
// blocks written before any error.
func (s *Storage) Write(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	return s.transfer(lba, blocks, buf, s.dev.WriteBlock)
}

// Sync is a no-op as no write caching takes place.
func (s *Storage) Sync() error {
	return nil
}

// IsReadOnly returns whether the medium is write protected.
func (s *Storage) IsReadOnly() bool {
	return readOnly(s.dev)
}

// IsRemovable returns true.
func (s *Storage) IsRemovable() bool {
	return true
}

// IsPresent returns whether the medium is present.
func (s *Storage) IsPresent() bool {
	return present(s.dev)
}

// Eject is not supported, the card can only be removed physically.
func (s *Storage) Eject() error {
	return os.ErrPermission
}
