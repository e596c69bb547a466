// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package fatwalk enumerates the root directory of a FAT volume stored on a
// block device.
package fatwalk

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/soypat/fat"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
)

// ErrConsumed is returned when a directory listing is enumerated twice.
var ErrConsumed = errors.New("fatwalk: listing already consumed")

// TimeSource provides timestamps for file metadata.
type TimeSource interface {
	Now() time.Time
}

// FixedTime is a TimeSource which always returns the same instant.
type FixedTime time.Time

// Now returns the fixed instant.
func (t FixedTime) Now() time.Time {
	return time.Time(t)
}

// Epoch is the FAT epoch (1980-01-01 00:00:00 UTC), the timestamp source used
// when no wall clock is available.
var Epoch = FixedTime(time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC))

// Entry represents a directory entry.
type Entry struct {
	Name    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

func (e Entry) String() string {
	if e.IsDir {
		return fmt.Sprintf("%s/", e.Name)
	}

	return fmt.Sprintf("%s (%d bytes)", e.Name, e.Size)
}

// Volume represents a mounted FAT volume.
type Volume struct {
	fs     fat.FS
	dev    *Blocks
	ts     TimeSource
	blocks uint32
}

// Open mounts, read-only, the FAT volume found on dev. The time source ts
// stamps entries which carry no valid modification time, Epoch is used when
// ts is nil.
func Open(dev *blockdev.Device, ts TimeSource) (v *Volume, err error) {
	if ts == nil {
		ts = Epoch
	}

	n, err := dev.Capacity()

	if err != nil {
		return
	}

	v = &Volume{
		dev:    NewBlocks(dev),
		ts:     ts,
		blocks: n,
	}

	if err = v.fs.Mount(v.dev, blockdev.BlockSize, fat.ModeRead); err != nil {
		return nil, fmt.Errorf("fatwalk: mount error, %w", err)
	}

	return
}

// Blocks returns the size, in blocks, of the underlying device.
func (v *Volume) Blocks() uint32 {
	return v.blocks
}

// Root opens the volume root directory.
func (v *Volume) Root() (l *Listing, err error) {
	l = &Listing{vol: v}

	if err = v.fs.OpenDir(&l.dir, "/"); err != nil {
		return nil, fmt.Errorf("fatwalk: open root error, %w", err)
	}

	return
}

// Listing is a single pass, non restartable, sequence of directory entries.
type Listing struct {
	vol      *Volume
	dir      fat.Dir
	consumed bool
}

// Each calls visit for every entry of the directory, in on-disk order. The
// enumeration stops at the first error returned by visit, which is returned
// unless it is fs.SkipAll.
//
// A listing can only be enumerated once, further calls return ErrConsumed.
func (l *Listing) Each(visit func(Entry) error) (err error) {
	if l.consumed {
		return ErrConsumed
	}

	l.consumed = true

	err = l.dir.ForEachFile(func(fi *fat.FileInfo) error {
		e := Entry{
			Name:    fi.Name(),
			Size:    fi.Size(),
			IsDir:   fi.IsDir(),
			ModTime: fi.ModTime(),
		}

		if e.ModTime.IsZero() {
			e.ModTime = l.vol.ts.Now()
		}

		return visit(e)
	})

	if errors.Is(err, fs.SkipAll) {
		err = nil
	}

	return
}

// Walk mounts the volume found on dev and enumerates its root directory.
func Walk(dev *blockdev.Device, ts TimeSource, visit func(Entry) error) (err error) {
	vol, err := Open(dev, ts)

	if err != nil {
		return
	}

	log.Printf("fatwalk: volume mounted, %d blocks", vol.Blocks())

	root, err := vol.Root()

	if err != nil {
		return
	}

	return root.Each(visit)
}
