// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command sdshare runs the card sharing core on a host, with a disk image
// standing in for the SD card.
//
// Usage:
//
//	sdshare [options] -image <path>
//
// In walk mode the image FAT root directory is listed. In ums mode the image
// is exported as a USB Mass Storage device over the softusb FIFO bus found
// in the -bus directory, to be driven by a softusb host process. Bulk
// transfers are handed to the same interrupt serviced responder the firmware
// uses, -msc selects the softusb Mass Storage Class driver instead.
//
// A -ro image is reported to the host as write protected.
//
// The card is polled until the image file exists, which allows simulating a
// late card insertion.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/board"
	"github.com/usbarmory/armory-sdshare/internal/fatwalk"
	"github.com/usbarmory/armory-sdshare/internal/sd"
	"github.com/usbarmory/armory-sdshare/internal/status"
)

type options struct {
	config   string
	image    string
	readOnly bool
	mode     string
	clock    string
	bus      string
	serial   string
	class    bool
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func parseFlags() (opts options) {
	flag.StringVar(&opts.config, "config", "", "board configuration (YAML)")
	flag.StringVar(&opts.image, "image", "", "card image path")
	flag.BoolVar(&opts.readOnly, "ro", false, "write protect the card image")
	flag.StringVar(&opts.mode, "mode", "", "operating mode (walk|ums), overrides configuration")
	flag.StringVar(&opts.clock, "clock", "", "card clock class, overrides configuration")
	flag.StringVar(&opts.bus, "bus", "", "softusb FIFO bus directory (ums mode)")
	flag.BoolVar(&opts.class, "msc", false, "serve with the softusb Mass Storage Class driver instead of the responder (ums mode)")
	flag.StringVar(&opts.serial, "serial", "", "serial port used as status indicator (DTR), or usb:<vid>[:<pid>]")
	flag.Parse()

	return
}

func loadConfig(opts options) (conf *board.Config, err error) {
	if opts.config != "" {
		if conf, err = board.Load(opts.config); err != nil {
			return
		}
	} else {
		conf = board.Default()
	}

	if opts.mode != "" {
		conf.Mode = board.Mode(opts.mode)
	}

	if opts.clock != "" {
		if conf.Clock, err = sd.ParseClock(opts.clock); err != nil {
			return
		}
	}

	return conf, conf.Validate()
}

func main() {
	opts := parseFlags()

	if opts.image == "" {
		fmt.Fprintln(os.Stderr, "Usage: sdshare [options] -image <path>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	conf, err := loadConfig(opts)

	if err != nil {
		log.Fatalf("sdshare: configuration error, %v", err)
	}

	led, closeLED, err := indicator(opts.serial)

	if err != nil {
		log.Fatalf("sdshare: indicator error, %v", err)
	}

	defer closeLED()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slot := &imageSlot{path: opts.image, readOnly: opts.readOnly}
	defer slot.Close()

	host := sd.NewHost(slot, slot)

	presence := &sd.Presence{
		Clock:     conf.Clock,
		Backoff:   conf.Backoff,
		Indicator: led,
	}

	card, err := presence.Wait(ctx, host)

	if c, ok := led.(*status.Console); ok {
		c.Clear()
	}

	if err != nil {
		log.Fatalf("sdshare: %v", err)
	}

	log.Printf("sd: card detected %s", card)

	switch conf.Mode {
	case board.Walk:
		err = walk(host)
	case board.UMS:
		err = serve(ctx, conf, host, slot, opts.bus, opts.class)
	}

	if err != nil && ctx.Err() == nil {
		log.Fatalf("sdshare: %s error, %v", conf.Mode, err)
	}
}

func indicator(port string) (led sd.Indicator, closeFn func(), err error) {
	if port == "" {
		return status.NewConsole(os.Stderr), func() {}, nil
	}

	name := port

	if vid, pid, ok := usbPort(port); ok {
		if name, err = status.FindSerial(vid, pid); err != nil {
			return
		}
	}

	s, err := status.OpenSerial(name)

	if err != nil {
		return
	}

	return s, func() { s.Close() }, nil
}

func walk(host *sd.Host) error {
	dev := blockdev.New(host)

	return fatwalk.Walk(dev, fatwalk.Epoch, func(e fatwalk.Entry) error {
		fmt.Println(e)
		return nil
	})
}
