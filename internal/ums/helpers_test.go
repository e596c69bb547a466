// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ums

import (
	"encoding/binary"
	"testing"

	"github.com/ardnew/softusb/device/class/msc"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/sd"
)

var testIdentity = Identity{
	Vendor:   "F-Secure",
	Product:  "SD Share",
	Revision: "0.1",
}

// newCard returns a SCSI adapter over an initialized memory card.
func newCard(t *testing.T, blocks uint32) *blockdev.SCSI {
	t.Helper()

	host := sd.NewHost(sd.NewMemoryImage(blocks), nil)

	if err := host.Init(sd.F24MHz); err != nil {
		t.Fatal(err)
	}

	return blockdev.NewSCSI(host)
}

// newProtectedCard returns a SCSI adapter over an initialized write
// protected memory card.
func newProtectedCard(t *testing.T, blocks uint32) *blockdev.SCSI {
	t.Helper()

	img := sd.NewMemoryImage(blocks)
	img.ReadOnly = true

	host := sd.NewHost(img, nil)

	if err := host.Init(sd.F24MHz); err != nil {
		t.Fatal(err)
	}

	return blockdev.NewSCSI(host)
}

// newEmptySlot returns a SCSI adapter over a card link which never
// initialized a card.
func newEmptySlot() *blockdev.SCSI {
	return blockdev.NewSCSI(sd.NewHost(sd.NewMemoryImage(64), nil))
}

func cbw(tag uint32, length uint32, in bool, cb ...byte) []byte {
	buf := make([]byte, msc.CBWSize)

	binary.LittleEndian.PutUint32(buf[0:], msc.CBWSignature)
	binary.LittleEndian.PutUint32(buf[4:], tag)
	binary.LittleEndian.PutUint32(buf[8:], length)

	if in {
		buf[12] = msc.CBWFlagDataIn
	}

	buf[14] = byte(len(cb))
	copy(buf[15:], cb)

	return buf
}

func rw10(op byte, lba uint32, blocks uint16) []byte {
	cb := make([]byte, 10)
	cb[0] = op
	binary.BigEndian.PutUint32(cb[2:], lba)
	binary.BigEndian.PutUint16(cb[7:], blocks)
	return cb
}

type status struct {
	tag     uint32
	residue uint32
	status  uint8
}

func parseCSW(t *testing.T, buf []byte) status {
	t.Helper()

	if len(buf) != msc.CSWSize {
		t.Fatalf("CSW size %d != %d", len(buf), msc.CSWSize)
	}

	if sig := binary.LittleEndian.Uint32(buf); sig != msc.CSWSignature {
		t.Fatalf("CSW signature %#x", sig)
	}

	return status{
		tag:     binary.LittleEndian.Uint32(buf[4:]),
		residue: binary.LittleEndian.Uint32(buf[8:]),
		status:  buf[12],
	}
}

func drain(r *Responder) (out [][]byte) {
	for {
		buf, _ := r.Tx(nil, nil)

		if buf == nil {
			return
		}

		out = append(out, buf)
	}
}

// command issues a command without data phase, or with an IN data phase,
// and returns its data and status.
func command(t *testing.T, r *Responder, tag uint32, length uint32, cb ...byte) ([]byte, status) {
	t.Helper()

	res, err := r.Rx(cbw(tag, length, true, cb...), nil)

	if err != nil {
		t.Fatalf("Rx() error = %v", err)
	}

	if len(res) != 0 {
		t.Fatalf("Rx() requested %d bytes OUT data phase", len(res))
	}

	out := drain(r)

	switch len(out) {
	case 1:
		return nil, parseCSW(t, out[0])
	case 2:
		return out[0], parseCSW(t, out[1])
	default:
		t.Fatalf("%d responses queued", len(out))
	}

	return nil, status{}
}

func requestSense(t *testing.T, r *Responder) senseData {
	t.Helper()

	data, st := command(t, r, 0xfeed, REQUEST_SENSE_LENGTH, REQUEST_SENSE, 0, 0, 0, REQUEST_SENSE_LENGTH, 0)

	if st.status != msc.CSWStatusGood || len(data) != REQUEST_SENSE_LENGTH {
		t.Fatalf("REQUEST SENSE status %d, %d bytes", st.status, len(data))
	}

	return senseData{data[2] & 0x0f, data[12], data[13]}
}

// faultyDevice fails every transfer with the given errors.
type faultyDevice struct {
	*blockdev.SCSI
	readErr  error
	writeErr error
	writes   []uint32
}

func (d *faultyDevice) ReadBlock(lba uint32, block []byte) error {
	if d.readErr != nil {
		return d.readErr
	}

	return d.SCSI.ReadBlock(lba, block)
}

func (d *faultyDevice) WriteBlock(lba uint32, block []byte) error {
	d.writes = append(d.writes, lba)

	if d.writeErr != nil {
		return d.writeErr
	}

	return d.SCSI.WriteBlock(lba, block)
}
