// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/usbarmory/armory-sdshare/internal/sd"
)

// imageSlot is a card slot holding a disk image, the card is inserted when
// the image file exists.
type imageSlot struct {
	path     string
	readOnly bool

	img *sd.Image
}

// Present implements sd.DetectPin.
func (s *imageSlot) Present() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Identify implements sd.Controller.
func (s *imageSlot) Identify(clock sd.Clock) (*sd.Card, error) {
	if s.img == nil {
		img, err := sd.OpenImage(s.path, s.readOnly)

		if err != nil {
			return nil, fmt.Errorf("%w, %v", sd.ErrNoResponse, err)
		}

		s.img = img
	}

	return s.img.Identify(clock)
}

// ReadBlock implements sd.Controller.
func (s *imageSlot) ReadBlock(lba uint32, b *sd.Block) error {
	if s.img == nil {
		return sd.ErrNoCard
	}

	return s.img.ReadBlock(lba, b)
}

// WriteBlock implements sd.Controller.
func (s *imageSlot) WriteBlock(lba uint32, b *sd.Block) error {
	if s.img == nil {
		return sd.ErrNoCard
	}

	return s.img.WriteBlock(lba, b)
}

// Close releases the image.
func (s *imageSlot) Close() error {
	if s.img == nil {
		return nil
	}

	return s.img.Close()
}

// usbPort parses a serial port selector in the usb:<vid>[:<pid>] form.
func usbPort(port string) (vid string, pid string, ok bool) {
	rest, ok := strings.CutPrefix(port, "usb:")

	if !ok || rest == "" {
		return "", "", false
	}

	vid, pid, _ = strings.Cut(rest, ":")

	return vid, pid, true
}
