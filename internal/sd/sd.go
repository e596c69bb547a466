// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sd implements the SD card link: card presence and initialization
// at a selectable bus clock, card identification registers and single block
// transfers over an SD/SDIO host controller.
//
// The package does not implement the SD command protocol itself, which is
// left to a Controller (the SoC host controller driver or an emulated card
// image), it owns the card detect signal, the initialization state and the
// presence polling policy.
package sd

import (
	"errors"
	"fmt"
	"strings"
)

// BlockSize is the size of an addressable card block.
const BlockSize = 512

// Block holds exactly one block of card data.
type Block [BlockSize]byte

// Clock represents a bus clock frequency ceiling used for card
// initialization, a slower class is more tolerant of poor wiring.
type Clock int

// Supported bus clock classes.
const (
	F400kHz Clock = iota
	F1MHz
	F4MHz
	F8MHz
	F12MHz
	F16MHz
	F24MHz
)

var clockNames = []string{
	F400kHz: "400kHz",
	F1MHz:   "1MHz",
	F4MHz:   "4MHz",
	F8MHz:   "8MHz",
	F12MHz:  "12MHz",
	F16MHz:  "16MHz",
	F24MHz:  "24MHz",
}

var clockRates = []int{
	F400kHz: 400_000,
	F1MHz:   1_000_000,
	F4MHz:   4_000_000,
	F8MHz:   8_000_000,
	F12MHz:  12_000_000,
	F16MHz:  16_000_000,
	F24MHz:  24_000_000,
}

// Valid reports whether c is one of the supported clock classes.
func (c Clock) Valid() bool {
	return c >= F400kHz && c <= F24MHz
}

// Hz returns the clock ceiling in Hz, or 0 for an invalid class.
func (c Clock) Hz() int {
	if !c.Valid() {
		return 0
	}

	return clockRates[c]
}

func (c Clock) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Clock(%d)", int(c))
	}

	return clockNames[c]
}

// ParseClock converts a clock class name (e.g. "24MHz") to its Clock value,
// the comparison is case insensitive.
func ParseClock(s string) (Clock, error) {
	for c, name := range clockNames {
		if strings.EqualFold(s, name) {
			return Clock(c), nil
		}
	}

	return 0, fmt.Errorf("%w %q", ErrBadClock, s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Clock) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w %d", ErrBadClock, int(c))
	}

	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Clock) UnmarshalText(text []byte) (err error) {
	*c, err = ParseClock(string(text))
	return
}

// Card link errors.
var (
	ErrNoCard             = errors.New("no card")
	ErrNoResponse         = errors.New("no response")
	ErrTimeout            = errors.New("timeout")
	ErrCRC                = errors.New("command CRC error")
	ErrDataCRC            = errors.New("data CRC error")
	ErrUnsupportedVoltage = errors.New("unsupported voltage")
	ErrUnsupportedCard    = errors.New("unsupported card")
	ErrBadClock           = errors.New("invalid clock class")
	ErrAddress            = errors.New("address error")
	ErrWriteProtected     = errors.New("write protected")
)

// Transient reports whether err is an initialization failure which is
// expected to clear on retry (card absent, late insertion, marginal
// contacts). Invalid configuration is not transient.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrBadClock):
		return false
	default:
		return true
	}
}
