// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sd

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// OCR register bits
const (
	// Card Capacity Status
	OCR_CCS = 30
	// Card power up status
	OCR_BUSY = 31
)

// CSD structure versions
const (
	CSD_V1 = 0
	CSD_V2 = 1
)

// CSD write protection bits
const (
	CSD_TMP_WRITE_PROTECT  = 12
	CSD_PERM_WRITE_PROTECT = 13
)

// CID represents the Card Identification register, bytes are stored in
// transmission order (most significant first).
//
// p142, 5.2 CID register, SD Specifications Part 1 Physical Layer Simplified Specification
type CID [16]byte

// ManufacturerID returns the MID field.
func (r CID) ManufacturerID() uint8 {
	return r[0]
}

// OEMID returns the OID field.
func (r CID) OEMID() string {
	return printable(r[1:3])
}

// ProductName returns the PNM field.
func (r CID) ProductName() string {
	return printable(r[3:8])
}

// Revision returns the PRV field as major, minor.
func (r CID) Revision() (major int, minor int) {
	return int(r[8] >> 4), int(r[8] & 0x0f)
}

// Serial returns the PSN field.
func (r CID) Serial() uint32 {
	return binary.BigEndian.Uint32(r[9:13])
}

// Date returns the MDT field.
func (r CID) Date() (year int, month int) {
	year = 2000 + (int(r[13]&0x0f)<<4 | int(r[14]>>4))
	month = int(r[14] & 0x0f)
	return
}

// CSD represents the Card Specific Data register, bytes are stored in
// transmission order (most significant first).
//
// p147, 5.3 CSD register, SD Specifications Part 1 Physical Layer Simplified Specification
type CSD [16]byte

// Version returns the CSD_STRUCTURE field.
func (r CSD) Version() int {
	return int(r[0] >> 6)
}

// TransferSpeed returns the TRAN_SPEED field.
func (r CSD) TransferSpeed() uint8 {
	return r[3]
}

// Blocks returns the card capacity in 512 byte blocks, 0 is returned for
// unknown structure versions.
func (r CSD) Blocks() uint64 {
	switch r.Version() {
	case CSD_V1:
		readBlLen := uint(r[5] & 0x0f)
		cSize := uint64(r[6]&0x03)<<10 | uint64(r[7])<<2 | uint64(r[8]>>6)
		mult := uint(r[9]&0x03)<<1 | uint(r[10]>>7)

		return ((cSize + 1) << (mult + 2) << readBlLen) / BlockSize
	case CSD_V2:
		cSize := uint64(r[7]&0x3f)<<16 | uint64(r[8])<<8 | uint64(r[9])
		return (cSize + 1) * 1024
	default:
		return 0
	}
}

// WriteProtected returns whether the PERM_WRITE_PROTECT or
// TMP_WRITE_PROTECT field is set.
func (r CSD) WriteProtected() bool {
	return r.bit(CSD_PERM_WRITE_PROTECT) || r.bit(CSD_TMP_WRITE_PROTECT)
}

// bit returns register bit n, numbered from the least significant.
func (r CSD) bit(n int) bool {
	return r[len(r)-1-n/8]&(1<<(n%8)) != 0
}

// SyntheticCSD returns a version 2 CSD register describing a card of (at
// least) the requested capacity, for use by emulated cards.
func SyntheticCSD(blocks uint32) (r CSD) {
	var cSize uint32

	if blocks >= 1024 {
		cSize = blocks/1024 - 1
	}

	r[0] = CSD_V2 << 6
	// TAAC, NSAC
	r[1] = 0x0e
	r[2] = 0x00
	// 25MHz
	r[3] = 0x32
	// CCC, READ_BL_LEN = 9
	r[4] = 0x5b
	r[5] = 0x59
	r[7] = byte(cSize>>16) & 0x3f
	r[8] = byte(cSize >> 8)
	r[9] = byte(cSize)
	// WRITE_BL_LEN = 9
	r[12] = 0x0a
	r[13] = 0x40
	r[15] = 0x01

	return
}

// Card represents an initialized SD card.
type Card struct {
	// Relative Card Address
	RCA uint16
	// Operation Conditions Register
	OCR uint32
	// Card Identification
	CID CID
	// Card Specific Data
	CSD CSD
	// SD Configuration Register
	SCR [8]byte

	// Blocks is the capacity reported by the host controller, when zero the
	// capacity is derived from the CSD register.
	Blocks uint32
}

// BlockCount returns the number of addressable 512 byte blocks.
func (c *Card) BlockCount() uint32 {
	if c.Blocks != 0 {
		return c.Blocks
	}

	n := c.CSD.Blocks()

	if n > 0xffffffff {
		return 0xffffffff
	}

	return uint32(n)
}

// WriteProtected reports whether the card rejects writes.
func (c *Card) WriteProtected() bool {
	return c.CSD.WriteProtected()
}

// HighCapacity reports whether the card is SDHC/SDXC (block addressed).
func (c *Card) HighCapacity() bool {
	return c.OCR&(1<<OCR_CCS) != 0
}

func (c *Card) String() string {
	major, minor := c.CID.Revision()
	year, month := c.CID.Date()

	return fmt.Sprintf("%s %s rev %d.%d sn %08x (%04d/%02d) rca %#04x blocks %d",
		c.CID.OEMID(), c.CID.ProductName(), major, minor, c.CID.Serial(), year, month, c.RCA, c.BlockCount())
}

func printable(b []byte) string {
	return strings.TrimRight(strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return -1
		}
		return r
	}, string(b)), " ")
}
