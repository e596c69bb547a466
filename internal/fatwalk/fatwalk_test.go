// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fatwalk

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/sd"
)

const cardBlocks = 1024

// countingLink records every card transaction.
type countingLink struct {
	*sd.Host
	reads  []uint32
	writes []uint32
}

func (l *countingLink) ReadBlock(lba uint32, b *sd.Block) error {
	l.reads = append(l.reads, lba)
	return l.Host.ReadBlock(lba, b)
}

func (l *countingLink) WriteBlock(lba uint32, b *sd.Block) error {
	l.writes = append(l.writes, lba)
	return l.Host.WriteBlock(lba, b)
}

func (l *countingLink) reset() {
	l.reads = nil
	l.writes = nil
}

func newCard(t *testing.T) (*countingLink, *blockdev.Device) {
	t.Helper()

	host := sd.NewHost(sd.NewMemoryImage(cardBlocks), nil)

	if err := host.Init(sd.F24MHz); err != nil {
		t.Fatal(err)
	}

	link := &countingLink{Host: host}

	return link, blockdev.New(link)
}

func dirEntry(b []byte, name string, attr byte, cluster uint16, size uint32) {
	copy(b[0:11], name)
	b[11] = attr
	// 2024-01-01 12:00:00
	binary.LittleEndian.PutUint16(b[22:], 12<<11)
	binary.LittleEndian.PutUint16(b[24:], (2024-1980)<<9|1<<5|1)
	binary.LittleEndian.PutUint16(b[26:], cluster)
	binary.LittleEndian.PutUint32(b[28:], size)
}

// formatFAT12 writes a FAT12 volume holding two files in its root directory.
func formatFAT12(t *testing.T, dev *blockdev.Device) {
	t.Helper()

	const (
		reserved    = 1
		fats        = 2
		fatSize     = 3
		rootEntries = 512
		rootStart   = reserved + fats*fatSize
		dataStart   = rootStart + rootEntries*32/blockdev.BlockSize
	)

	img := make([]sd.Block, dataStart+1)

	bs := img[0][:]
	copy(bs[0:], []byte{0xeb, 0x3c, 0x90})
	copy(bs[3:], "MSDOS5.0")
	binary.LittleEndian.PutUint16(bs[11:], blockdev.BlockSize)
	bs[13] = 1
	binary.LittleEndian.PutUint16(bs[14:], reserved)
	bs[16] = fats
	binary.LittleEndian.PutUint16(bs[17:], rootEntries)
	binary.LittleEndian.PutUint16(bs[19:], cardBlocks)
	bs[21] = 0xf8
	binary.LittleEndian.PutUint16(bs[22:], fatSize)
	binary.LittleEndian.PutUint16(bs[24:], 32)
	binary.LittleEndian.PutUint16(bs[26:], 2)
	bs[36] = 0x80
	bs[38] = 0x29
	binary.LittleEndian.PutUint32(bs[39:], 0x5d5a4e21)
	copy(bs[43:], "SDSHARE    ")
	copy(bs[54:], "FAT12   ")
	bs[510] = 0x55
	bs[511] = 0xaa

	for i := 0; i < fats; i++ {
		// media descriptor, end of chain, cluster 2 end of chain
		copy(img[reserved+i*fatSize][:], []byte{0xf8, 0xff, 0xff, 0xff, 0x0f})
	}

	root := img[rootStart][:]
	dirEntry(root[0:], "SDSHARE    ", 0x08, 0, 0)
	dirEntry(root[32:], "README  TXT", 0x20, 2, 12)
	dirEntry(root[64:], "BOOT    BIN", 0x20, 0, 0)

	copy(img[dataStart][:], "hello, world")

	if err := dev.Write(img, 0); err != nil {
		t.Fatal(err)
	}
}

func checkInRange(t *testing.T, link *countingLink) {
	t.Helper()

	for _, lba := range append(link.reads, link.writes...) {
		if lba >= cardBlocks {
			t.Errorf("out of range transaction at block %d", lba)
		}
	}
}

// TestWalkPattern enumerates a card holding no filesystem.
func TestWalkPattern(t *testing.T) {
	link, dev := newCard(t)

	buf := make([]sd.Block, cardBlocks)

	for i := range buf {
		for j := range buf[i] {
			buf[i][j] = byte(i + j)
		}
	}

	if err := dev.Write(buf, 0); err != nil {
		t.Fatal(err)
	}

	link.reset()

	var entries []Entry

	err := Walk(dev, Epoch, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})

	if err == nil {
		t.Fatalf("Walk() mounted a volume from a byte pattern, %d entries", len(entries))
	}

	if len(link.reads) == 0 {
		t.Error("no reads issued")
	}

	if len(link.writes) != 0 {
		t.Errorf("%d writes issued", len(link.writes))
	}

	checkInRange(t, link)
}

func TestWalkFAT12(t *testing.T) {
	link, dev := newCard(t)
	formatFAT12(t, dev)
	link.reset()

	vol, err := Open(dev, nil)

	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if vol.Blocks() != cardBlocks {
		t.Errorf("Blocks() = %d", vol.Blocks())
	}

	root, err := vol.Root()

	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}

	entries := make(map[string]Entry)

	if err = root.Each(func(e Entry) error {
		entries[strings.ToUpper(e.Name)] = e
		return nil
	}); err != nil {
		t.Fatalf("Each() error = %v", err)
	}

	if len(entries) != 2 {
		t.Errorf("%d entries, want 2: %v", len(entries), entries)
	}

	if e, ok := entries["README.TXT"]; !ok || e.Size != 12 || e.IsDir {
		t.Errorf("README.TXT = %+v", e)
	}

	if _, ok := entries["BOOT.BIN"]; !ok {
		t.Error("BOOT.BIN not found")
	}

	if err = root.Each(func(Entry) error { return nil }); !errors.Is(err, ErrConsumed) {
		t.Errorf("second Each() error = %v, want %v", err, ErrConsumed)
	}

	if len(link.writes) != 0 {
		t.Errorf("%d writes issued by read-only walk", len(link.writes))
	}

	checkInRange(t, link)
}

func TestEachSkipAll(t *testing.T) {
	_, dev := newCard(t)
	formatFAT12(t, dev)

	n := 0

	err := Walk(dev, Epoch, func(Entry) error {
		n++
		return fs.SkipAll
	})

	if err != nil || n != 1 {
		t.Errorf("Walk() = %v after %d entries", err, n)
	}

	errStop := errors.New("stop")

	if err = Walk(dev, Epoch, func(Entry) error { return errStop }); !errors.Is(err, errStop) {
		t.Errorf("Walk() error = %v, want %v", err, errStop)
	}
}

func TestOpenNoCard(t *testing.T) {
	dev := blockdev.New(sd.NewHost(sd.NewMemoryImage(cardBlocks), nil))

	if _, err := Open(dev, Epoch); !errors.Is(err, blockdev.ErrNoCard) {
		t.Errorf("Open() error = %v, want %v", err, blockdev.ErrNoCard)
	}
}

func TestBlocks(t *testing.T) {
	link, dev := newCard(t)
	b := NewBlocks(dev)

	if _, err := b.ReadBlocks(make([]byte, 100), 0); err == nil {
		t.Error("unaligned ReadBlocks() succeeded")
	}

	if _, err := b.ReadBlocks(make([]byte, 512), -1); !errors.Is(err, blockdev.ErrOutOfRange) {
		t.Errorf("ReadBlocks(-1) error = %v", err)
	}

	if _, err := b.ReadBlocks(make([]byte, 1024), cardBlocks-1); !errors.Is(err, blockdev.ErrOutOfRange) {
		t.Errorf("ReadBlocks() across last block error = %v", err)
	}

	if len(link.reads) != 0 {
		t.Errorf("%d reads issued for rejected transfers", len(link.reads))
	}

	data := []byte(strings.Repeat("0123456789abcdef", 64))

	if n, err := b.WriteBlocks(data, 5); err != nil || n != len(data) {
		t.Fatalf("WriteBlocks() = %d, %v", n, err)
	}

	out := make([]byte, len(data))

	if n, err := b.ReadBlocks(out, 5); err != nil || n != len(out) || string(out) != string(data) {
		t.Fatalf("ReadBlocks() = %d, %v", n, err)
	}

	if err := b.EraseBlocks(5, 1); err != nil {
		t.Fatal(err)
	}

	if _, err := b.ReadBlocks(out, 5); err != nil {
		t.Fatal(err)
	}

	for i, c := range out[:512] {
		if c != 0 {
			t.Fatalf("erased byte %d = %#x", i, c)
		}
	}

	if string(out[512:]) != string(data[512:]) {
		t.Error("erase beyond requested range")
	}
}

func TestEpoch(t *testing.T) {
	if got := Epoch.Now(); !got.Equal(time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Epoch.Now() = %v", got)
	}
}
