// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/usbarmory/tamago/soc/imx6"

	"github.com/usbarmory/tamago/board/f-secure/usbarmory/mark-two"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/board"
	"github.com/usbarmory/armory-sdshare/internal/fatwalk"
	"github.com/usbarmory/armory-sdshare/internal/sd"
)

func init() {
	log.SetFlags(0)

	if !imx6.Native {
		return
	}

	if err := imx6.SetARMFreq(900); err != nil {
		panic(fmt.Sprintf("WARNING: error setting ARM frequency: %v\n", err))
	}
}

// TODO: multi-LUN support to expose eMMC as well
var slot = &cardSlot{hw: usbarmory.SD}

func main() {
	conf := board.Default()
	ctx := context.Background()

	host := sd.NewHost(slot, nil)
	led := &ledIndicator{name: conf.LED}

	presence := &sd.Presence{
		Clock:     conf.Clock,
		Backoff:   conf.Backoff,
		Indicator: led,
	}

	card, err := presence.Wait(ctx, host)

	if err != nil {
		log.Printf("sdshare: %v", err)
		return
	}

	led.Set(true)

	capacity := int64(card.BlockCount()) * sd.BlockSize
	giga := capacity / (1000 * 1000 * 1000)
	gibi := capacity / (1024 * 1024 * 1024)

	log.Printf("imx6_usdhc: %d GB/%d GiB SD card detected %s", giga, gibi, card)

	switch conf.Mode {
	case board.Walk:
		err = fatwalk.Walk(blockdev.New(host), fatwalk.Epoch, func(e fatwalk.Entry) error {
			log.Print(e)
			return nil
		})
	case board.UMS:
		// never returns
		err = startUSB(ctx, conf, host)
	}

	if err != nil {
		log.Printf("sdshare: %s error, %v", conf.Mode, err)
	}
}
