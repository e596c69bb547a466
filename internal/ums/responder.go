// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ums

import (
	"fmt"
	"log"

	"github.com/ardnew/softusb/device/class/msc"
)

// p7, 3.1 - 3.2, USB Mass Storage Class 1.0
const (
	BULK_ONLY_MASS_STORAGE_RESET = msc.RequestBulkOnlyMassStorageReset
	GET_MAX_LUN                  = msc.RequestGetMaxLUN
)

// writeOp is a WRITE (10) command whose data spawns across multiple OUT
// transfers.
type writeOp struct {
	csw  *msc.CommandStatusWrapper
	lba  uint32
	size int
	buf  []byte
}

type senseData struct {
	key  uint8
	asc  uint8
	ascq uint8
}

// Responder is a Bulk-Only Transport endpoint client, it decodes CBWs
// received on the bulk OUT endpoint and queues data and CSWs for the bulk
// IN endpoint.
type Responder struct {
	dev     BlockDevice
	inquiry msc.InquiryResponse

	// responses for the IN endpoint
	queue [][]byte

	// buffer for write commands
	pending *writeOp

	sense senseData
}

// New returns a responder serving dev with the given identity.
func New(dev BlockDevice, id Identity) *Responder {
	return &Responder{
		dev:     dev,
		inquiry: *msc.NewInquiryResponse(msc.DeviceTypeDisk, true, id.Vendor, id.Product, id.Revision),
	}
}

// Setup handles the class specific control requests.
func (r *Responder) Setup(request uint8) (in []byte, err error) {
	switch request {
	case BULK_ONLY_MASS_STORAGE_RESET:
		r.Reset()
	case GET_MAX_LUN:
		// single LUN
		in = []byte{0x00}
	default:
		err = fmt.Errorf("%w, request code %#x", ErrUnsupported, request)
	}

	return
}

// Reset abandons any command in progress and discards queued responses.
func (r *Responder) Reset() {
	r.pending = nil
	r.queue = nil
	r.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
}

// Pending returns whether a write command is waiting for its data phase.
func (r *Responder) Pending() bool {
	return r.pending != nil
}

// Tx is the bulk IN endpoint function, it returns the next queued response
// or nil when none is available.
func (r *Responder) Tx(_ []byte, lastErr error) (in []byte, err error) {
	if len(r.queue) == 0 {
		return
	}

	in = r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]

	return
}

// Rx is the bulk OUT endpoint function, it processes a CBW or the data phase
// of a pending write. A non-empty res indicates the size of the data phase
// expected next.
//
// Block device failures only fail the affected command, which is reported
// through the CSW status and the sense data.
func (r *Responder) Rx(buf []byte, lastErr error) (res []byte, err error) {
	if r.pending != nil {
		return r.handleWrite(buf)
	}

	if len(buf) == 0 {
		return
	}

	cbw, err := parseCBW(buf)

	if err != nil {
		return
	}

	csw, data, next := r.handleCDB(cbw)

	if len(data) > 0 {
		r.queue = append(r.queue, data)
	}

	if csw != nil {
		r.queue = append(r.queue, cswBytes(csw))
	}

	if next != 0 {
		res = make([]byte, next)
	}

	return
}

func (r *Responder) handleWrite(buf []byte) (res []byte, err error) {
	op := r.pending

	if n := op.size - len(op.buf); len(buf) > n {
		buf = buf[:n]
	}

	op.buf = append(op.buf, buf...)

	if len(op.buf) < op.size {
		return make([]byte, op.size-len(op.buf)), nil
	}

	r.pending = nil

	for i := 0; i < op.size/BlockSize; i++ {
		lba := op.lba + uint32(i)
		off := i * BlockSize

		if err = r.dev.WriteBlock(lba, op.buf[off:off+BlockSize]); err != nil {
			log.Printf("ums: write error, lba %d, %v", lba, err)
			r.fail(op.csw, uint32(op.size-off), err)
			err = nil
			break
		}
	}

	r.queue = append(r.queue, cswBytes(op.csw))

	return
}

func (r *Responder) setSense(key, asc, ascq uint8) {
	r.sense = senseData{key, asc, ascq}
}

// fail marks csw as failed, recording the sense data associated to err.
func (r *Responder) fail(csw *msc.CommandStatusWrapper, residue uint32, err error) {
	s := senseOf(err)

	csw.Status = msc.CSWStatusFailed
	csw.DataResidue = residue
	r.setSense(s.key, s.asc, s.ascq)
}

func parseCBW(buf []byte) (cbw *msc.CommandBlockWrapper, err error) {
	if len(buf) != msc.CBWSize {
		return nil, fmt.Errorf("%w, size %d != %d", ErrInvalidCBW, len(buf), msc.CBWSize)
	}

	cbw = &msc.CommandBlockWrapper{}

	if !msc.ParseCBW(buf, cbw) {
		return nil, fmt.Errorf("%w, signature %#x", ErrInvalidCBW, buf[0:4])
	}

	if cbw.CBLength < 6 || cbw.CBLength > 16 {
		return nil, fmt.Errorf("%w, command block length %d", ErrInvalidCBW, cbw.CBLength)
	}

	return
}

func cswBytes(csw *msc.CommandStatusWrapper) []byte {
	buf := make([]byte, msc.CSWSize)
	csw.MarshalTo(buf)
	return buf
}
