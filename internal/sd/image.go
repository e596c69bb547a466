// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sd

import (
	"fmt"
	"io"
	"os"
)

// ReadWriterAt is the backing store of an emulated card.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Image is a Controller emulating an SD card over a disk image, it allows
// hosted builds and tests to exercise the card link without hardware.
type Image struct {
	// CID is reported on identification.
	CID CID
	// ReadOnly rejects writes with ErrWriteProtected.
	ReadOnly bool

	rw     ReadWriterAt
	blocks uint32
	closer io.Closer
}

// NewImage returns an emulated card of size bytes over rw, size must be a
// non-zero multiple of BlockSize.
func NewImage(rw ReadWriterAt, size int64) (*Image, error) {
	if size <= 0 || size%BlockSize != 0 {
		return nil, fmt.Errorf("invalid image size %d", size)
	}

	if size/BlockSize > 0xffffffff {
		return nil, fmt.Errorf("image size %d exceeds 32-bit block addressing", size)
	}

	return &Image{
		CID:    defaultCID(),
		rw:     rw,
		blocks: uint32(size / BlockSize),
	}, nil
}

// NewMemoryImage returns an emulated card of the given (non-zero) capacity
// backed by memory, initially zeroed.
func NewMemoryImage(blocks uint32) *Image {
	img, _ := NewImage(&memory{buf: make([]byte, int64(blocks)*BlockSize)}, int64(blocks)*BlockSize)
	return img
}

// OpenImage returns an emulated card backed by the file at path.
func OpenImage(path string, readOnly bool) (img *Image, err error) {
	flag := os.O_RDWR

	if readOnly {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag, 0)

	if err != nil {
		return
	}

	fi, err := f.Stat()

	if err != nil {
		f.Close()
		return
	}

	if img, err = NewImage(f, fi.Size()); err != nil {
		f.Close()
		return
	}

	img.ReadOnly = readOnly
	img.closer = f

	return
}

// Close releases the backing file, if any.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}

	return img.closer.Close()
}

// Blocks returns the image capacity in blocks.
func (img *Image) Blocks() uint32 {
	return img.blocks
}

// Identify implements Controller.
func (img *Image) Identify(clock Clock) (*Card, error) {
	if !clock.Valid() {
		return nil, ErrBadClock
	}

	csd := SyntheticCSD(img.blocks)

	if img.ReadOnly {
		csd[len(csd)-1-CSD_TMP_WRITE_PROTECT/8] |= 1 << (CSD_TMP_WRITE_PROTECT % 8)
	}

	return &Card{
		RCA:    0x0001,
		OCR:    1<<OCR_BUSY | 1<<OCR_CCS | 0x00ff8000,
		CID:    img.CID,
		CSD:    csd,
		Blocks: img.blocks,
	}, nil
}

// ReadBlock implements Controller.
func (img *Image) ReadBlock(lba uint32, b *Block) (err error) {
	if lba >= img.blocks {
		return fmt.Errorf("%w, lba %d", ErrAddress, lba)
	}

	_, err = img.rw.ReadAt(b[:], int64(lba)*BlockSize)

	return
}

// WriteBlock implements Controller.
func (img *Image) WriteBlock(lba uint32, b *Block) (err error) {
	if img.ReadOnly {
		return ErrWriteProtected
	}

	if lba >= img.blocks {
		return fmt.Errorf("%w, lba %d", ErrAddress, lba)
	}

	_, err = img.rw.WriteAt(b[:], int64(lba)*BlockSize)

	return
}

func defaultCID() (r CID) {
	r[0] = 0x00
	copy(r[1:3], "AS")
	copy(r[3:8], "IMAGE")
	r[8] = 0x10
	// 2024/01
	r[13] = 0x01
	r[14] = 0x81
	r[15] = 0x01
	return
}

type memory struct {
	buf []byte
}

func (m *memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}

	n := copy(p, m.buf[off:])

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (m *memory) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(m.buf)) {
		return 0, io.ErrShortWrite
	}

	return copy(m.buf[off:], p), nil
}
