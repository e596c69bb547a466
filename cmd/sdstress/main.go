// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command sdstress exercises the card block layer over a disk image, dumping
// the card registers and reporting block read latencies.
//
// Usage:
//
//	sdstress [options] -image <path>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/sd"
)

const reason = "stress"

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func main() {
	var (
		image      string
		clock      string
		iterations int
		batch      int
		write      bool
	)

	flag.StringVar(&image, "image", "", "card image path")
	flag.StringVar(&clock, "clock", "24MHz", "card clock class")
	flag.IntVar(&iterations, "n", 1000, "number of read batches")
	flag.IntVar(&batch, "batch", 8, "blocks per read batch")
	flag.BoolVar(&write, "write", false, "fill the card with a verification pattern first (destructive)")
	flag.Parse()

	if image == "" || iterations <= 0 || batch <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: sdstress [options] -image <path>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	c, err := sd.ParseClock(clock)

	if err != nil {
		log.Fatal(err)
	}

	img, err := sd.OpenImage(image, !write)

	if err != nil {
		log.Fatalf("sdstress: could not open image, %v", err)
	}

	defer img.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	host := sd.NewHost(img, nil)
	card, err := sd.WaitForCard(ctx, host, c, nil)

	if err != nil {
		log.Fatalf("sdstress: %v", err)
	}

	dumpCard(card, host.Clock())

	dev := blockdev.New(host)
	p := message.NewPrinter(language.AmericanEnglish)

	if write {
		start := time.Now()

		if err = fill(ctx, dev, card.BlockCount()); err != nil {
			log.Fatalf("sdstress: pattern write failed, %v", err)
		}

		p.Printf("pattern written to %d blocks in %v\n", card.BlockCount(), time.Since(start))
	}

	r := run(ctx, dev, card.BlockCount(), iterations, batch, write)
	r.report(p)
}

func dumpCard(card *sd.Card, clock sd.Clock) {
	major, minor := card.CID.Revision()
	year, month := card.CID.Date()

	log.Printf("card: %s", card)
	log.Printf("  clock:    %v", clock)
	log.Printf("  rca:      %#04x", card.RCA)
	log.Printf("  ocr:      %#08x (high capacity %v)", card.OCR, card.HighCapacity())
	log.Printf("  cid:      %x", card.CID[:])
	log.Printf("  csd:      %x (v%d)", card.CSD[:], card.CSD.Version())
	log.Printf("  scr:      %x", card.SCR[:])
	log.Printf("  mid:      %#02x", card.CID.ManufacturerID())
	log.Printf("  oem:      %s", card.CID.OEMID())
	log.Printf("  product:  %s %d.%d", card.CID.ProductName(), major, minor)
	log.Printf("  serial:   %08x", card.CID.Serial())
	log.Printf("  date:     %04d/%02d", year, month)
	log.Printf("  blocks:   %d (%d MiB)", card.BlockCount(), uint64(card.BlockCount())*sd.BlockSize>>20)
}
