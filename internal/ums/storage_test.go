// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ums

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
)

func TestStorage(t *testing.T) {
	s := NewStorage(newCard(t, 128))

	if s.BlockSize() != 512 || s.BlockCount() != 128 {
		t.Fatalf("geometry %d x %d", s.BlockCount(), s.BlockSize())
	}

	if !s.IsPresent() || !s.IsRemovable() || s.IsReadOnly() {
		t.Error("unexpected medium flags")
	}

	in := bytes.Repeat([]byte("sdshare!"), 3*BlockSize/8)

	if n, err := s.Write(100, 3, in); err != nil || n != 3 {
		t.Fatalf("Write() = %d, %v", n, err)
	}

	out := make([]byte, len(in))

	if n, err := s.Read(100, 3, out); err != nil || n != 3 {
		t.Fatalf("Read() = %d, %v", n, err)
	}

	if !bytes.Equal(in, out) {
		t.Error("data mismatch")
	}

	if n, err := s.Read(126, 3, out); !errors.Is(err, blockdev.InvalidAddress) || n != 2 {
		t.Errorf("Read() across last block = %d, %v", n, err)
	}

	if _, err := s.Read(0, 2, out[:BlockSize]); !errors.Is(err, io.ErrShortBuffer) {
		t.Errorf("Read() short buffer error = %v", err)
	}

	if err := s.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}

	if err := s.Eject(); !errors.Is(err, os.ErrPermission) {
		t.Errorf("Eject() error = %v", err)
	}
}

func TestStorageNoCard(t *testing.T) {
	s := NewStorage(newEmptySlot())

	if s.IsPresent() || s.BlockCount() != 0 {
		t.Errorf("empty slot reports %d blocks", s.BlockCount())
	}

	if _, err := s.Read(0, 1, make([]byte, BlockSize)); !errors.Is(err, blockdev.HardwareError) {
		t.Errorf("Read() error = %v", err)
	}

	if _, err := s.Write(0, 1, make([]byte, BlockSize)); !errors.Is(err, blockdev.WriteError) {
		t.Errorf("Write() error = %v", err)
	}
}

func TestStorageReadOnly(t *testing.T) {
	s := NewStorage(newProtectedCard(t, 64))

	if !s.IsReadOnly() {
		t.Error("IsReadOnly() = false for a write protected card")
	}

	if _, err := s.Write(0, 1, make([]byte, BlockSize)); !errors.Is(err, blockdev.WriteError) {
		t.Errorf("Write() error = %v", err)
	}
}
