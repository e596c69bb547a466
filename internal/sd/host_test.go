// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sd

import (
	"bytes"
	"errors"
	"testing"
)

type detect bool

func (d detect) Present() bool { return bool(d) }

type countingController struct {
	*Image
	identify int
}

func (c *countingController) Identify(clock Clock) (*Card, error) {
	c.identify++
	return c.Image.Identify(clock)
}

func TestHostDetect(t *testing.T) {
	ctl := &countingController{Image: NewMemoryImage(1024)}
	host := NewHost(ctl, detect(false))

	if err := host.Init(F24MHz); !errors.Is(err, ErrNoCard) {
		t.Fatalf("Init() with empty slot error = %v, want %v", err, ErrNoCard)
	}

	if ctl.identify != 0 {
		t.Errorf("Identify() called %d times with empty slot", ctl.identify)
	}

	if _, err := host.Card(); !errors.Is(err, ErrNoCard) {
		t.Errorf("Card() error = %v, want %v", err, ErrNoCard)
	}

	var b Block

	if err := host.ReadBlock(0, &b); !errors.Is(err, ErrNoCard) {
		t.Errorf("ReadBlock() before init error = %v, want %v", err, ErrNoCard)
	}
}

func TestHostInit(t *testing.T) {
	img := NewMemoryImage(2048)
	host := NewHost(img, detect(true))

	if err := host.Init(Clock(-1)); !errors.Is(err, ErrBadClock) {
		t.Fatalf("Init(-1) error = %v, want %v", err, ErrBadClock)
	}

	if err := host.Init(F12MHz); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	card, err := host.Card()

	if err != nil {
		t.Fatalf("Card() error = %v", err)
	}

	if card.BlockCount() != 2048 {
		t.Errorf("BlockCount() = %d, want 2048", card.BlockCount())
	}

	if !card.HighCapacity() {
		t.Error("emulated card should report high capacity")
	}

	if host.Clock() != F12MHz {
		t.Errorf("Clock() = %v", host.Clock())
	}

	var in, out Block

	for i := range in {
		in[i] = byte(i)
	}

	if err := host.WriteBlock(2047, &in); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}

	if err := host.ReadBlock(2047, &out); err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}

	if !bytes.Equal(in[:], out[:]) {
		t.Error("ReadBlock() data mismatch")
	}

	if err := host.ReadBlock(2048, &out); !errors.Is(err, ErrAddress) {
		t.Errorf("ReadBlock(2048) error = %v, want %v", err, ErrAddress)
	}
}

func TestImageReadOnly(t *testing.T) {
	img := NewMemoryImage(1024)
	img.ReadOnly = true

	var b Block

	if err := img.WriteBlock(0, &b); !errors.Is(err, ErrWriteProtected) {
		t.Errorf("WriteBlock() error = %v, want %v", err, ErrWriteProtected)
	}
}

func TestNewImageSize(t *testing.T) {
	for _, size := range []int64{0, -512, 513} {
		if _, err := NewImage(&memory{buf: make([]byte, 1024)}, size); err == nil {
			t.Errorf("NewImage(%d) should fail", size)
		}
	}
}
