// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fatwalk

import (
	"fmt"

	"github.com/soypat/fat"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/sd"
)

// ReadReason tags filesystem reads in block device errors.
const ReadReason = "fat"

// Blocks adapts the filesystem block device to the FAT library block
// device contract.
type Blocks struct {
	dev *blockdev.Device
	buf []sd.Block
}

var _ fat.BlockDevice = (*Blocks)(nil)

// NewBlocks returns a FAT library block device over dev.
func NewBlocks(dev *blockdev.Device) *Blocks {
	return &Blocks{dev: dev}
}

func (b *Blocks) blocks(size int, start int64) ([]sd.Block, uint32, error) {
	if size%blockdev.BlockSize != 0 {
		return nil, 0, fmt.Errorf("fatwalk: unaligned transfer size %d", size)
	}

	if start < 0 || start > 0xffffffff {
		return nil, 0, fmt.Errorf("fatwalk: block %d, %w", start, blockdev.ErrOutOfRange)
	}

	n := size / blockdev.BlockSize

	if cap(b.buf) < n {
		b.buf = make([]sd.Block, n)
	}

	return b.buf[:n], uint32(start), nil
}

// ReadBlocks reads len(dst) bytes, a multiple of the block size, starting at
// startBlock.
func (b *Blocks) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	blocks, lba, err := b.blocks(len(dst), startBlock)

	if err != nil {
		return 0, err
	}

	if err = b.dev.Read(blocks, lba, ReadReason); err != nil {
		return 0, err
	}

	for i := range blocks {
		copy(dst[i*blockdev.BlockSize:], blocks[i][:])
	}

	return len(dst), nil
}

// WriteBlocks writes len(data) bytes, a multiple of the block size, starting
// at startBlock.
func (b *Blocks) WriteBlocks(data []byte, startBlock int64) (int, error) {
	blocks, lba, err := b.blocks(len(data), startBlock)

	if err != nil {
		return 0, err
	}

	for i := range blocks {
		copy(blocks[i][:], data[i*blockdev.BlockSize:])
	}

	if err = b.dev.Write(blocks, lba); err != nil {
		return 0, err
	}

	return len(data), nil
}

// EraseBlocks zeroes numBlocks blocks starting at startBlock.
func (b *Blocks) EraseBlocks(startBlock, numBlocks int64) error {
	if numBlocks <= 0 {
		return fmt.Errorf("fatwalk: invalid erase of %d blocks", numBlocks)
	}

	blocks, lba, err := b.blocks(int(numBlocks)*blockdev.BlockSize, startBlock)

	if err != nil {
		return err
	}

	clear(blocks)

	return b.dev.Write(blocks, lba)
}
