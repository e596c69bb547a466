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
	"fmt"
	"log"

	"github.com/usbarmory/tamago/board/f-secure/usbarmory/mark-two"
	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/soc/imx6/usdhc"

	"github.com/usbarmory/armory-sdshare/internal/sd"
)

// DMA region for controller buffers, past the runtime RAM.
var (
	dmaStart uint32 = 0x90000000
	dmaSize         = 0x10000000
)

func init() {
	dma.Init(dmaStart, dmaSize)
}

// usdhcCard represents the uSDHC controller driver, which runs the card
// identification and transfer protocol.
type usdhcCard interface {
	Detect() error
	Info() usdhc.CardInfo
	ReadBlocks(int, []byte) error
	WriteBlocks(int, []byte) error
}

// cardSlot implements sd.Controller over the uSDHC controller.
type cardSlot struct {
	hw usdhcCard
}

// Identify implements sd.Controller, the controller negotiates its own bus
// rate, which is reported against the requested clock ceiling.
func (s *cardSlot) Identify(clock sd.Clock) (card *sd.Card, err error) {
	if err = s.hw.Detect(); err != nil {
		return nil, fmt.Errorf("%w, %v", sd.ErrNoResponse, err)
	}

	info := s.hw.Info()

	if info.MMC {
		return nil, sd.ErrUnsupportedCard
	}

	if info.BlockSize != sd.BlockSize || info.Blocks <= 0 {
		return nil, fmt.Errorf("%w, %d blocks of %d bytes", sd.ErrUnsupportedCard, info.Blocks, info.BlockSize)
	}

	if info.Rate > clock.Hz() {
		log.Printf("imx6_usdhc: bus rate %d Hz above %v ceiling", info.Rate, clock)
	}

	card = &sd.Card{
		CSD:    sd.SyntheticCSD(uint32(info.Blocks)),
		Blocks: uint32(info.Blocks),
	}

	if info.HC {
		card.OCR |= 1 << sd.OCR_CCS
	}

	return
}

// ReadBlock implements sd.Controller.
func (s *cardSlot) ReadBlock(lba uint32, b *sd.Block) error {
	return s.hw.ReadBlocks(int(lba), b[:])
}

// WriteBlock implements sd.Controller.
func (s *cardSlot) WriteBlock(lba uint32, b *sd.Block) error {
	return s.hw.WriteBlocks(int(lba), b[:])
}

// ledIndicator implements sd.Indicator over a board LED.
type ledIndicator struct {
	name string
	on   bool
}

func (l *ledIndicator) Set(on bool) {
	l.on = on

	if err := usbarmory.LED(l.name, on); err != nil {
		log.Printf("usbarmory: LED %s error, %v", l.name, err)
	}
}

func (l *ledIndicator) Toggle() {
	l.Set(!l.on)
}
