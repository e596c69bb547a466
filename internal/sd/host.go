// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sd

import (
	"fmt"
)

// Link represents an SD card link, the single owner of a card bus.
type Link interface {
	// Init performs card initialization at the requested clock class.
	Init(clock Clock) error
	// Card returns the initialized card, or ErrNoCard.
	Card() (*Card, error)
	// ReadBlock reads a single block at the given address.
	ReadBlock(lba uint32, b *Block) error
	// WriteBlock writes a single block at the given address.
	WriteBlock(lba uint32, b *Block) error
}

// Controller represents an SD host controller driver, which implements the
// SD command protocol (identification, voltage negotiation and single block
// transfers).
type Controller interface {
	// Identify performs the card identification handshake at the requested
	// clock class and returns the card registers.
	Identify(clock Clock) (*Card, error)
	// ReadBlock reads a single block at the given address.
	ReadBlock(lba uint32, b *Block) error
	// WriteBlock writes a single block at the given address.
	WriteBlock(lba uint32, b *Block) error
}

// DetectPin represents the card detect input.
type DetectPin interface {
	// Present returns whether a card is inserted.
	Present() bool
}

// Host represents a card link over an SD host controller and its card detect
// signal. Host is not safe for concurrent use, its owner must serialize
// access.
type Host struct {
	ctl   Controller
	cd    DetectPin
	clock Clock
	card  *Card
}

// NewHost returns a card link over the given controller, cd may be nil when
// the card detect signal is not wired.
func NewHost(ctl Controller, cd DetectPin) *Host {
	return &Host{
		ctl: ctl,
		cd:  cd,
	}
}

// Init performs card initialization at the requested clock class, any
// previously initialized card is forgotten.
func (h *Host) Init(clock Clock) (err error) {
	if !clock.Valid() {
		return fmt.Errorf("%w %d", ErrBadClock, int(clock))
	}

	h.card = nil

	if h.cd != nil && !h.cd.Present() {
		return ErrNoCard
	}

	card, err := h.ctl.Identify(clock)

	if err != nil {
		return
	}

	h.clock = clock
	h.card = card

	return
}

// Card returns the initialized card.
func (h *Host) Card() (*Card, error) {
	if h.card == nil {
		return nil, ErrNoCard
	}

	return h.card, nil
}

// Clock returns the clock class of the last successful initialization.
func (h *Host) Clock() Clock {
	return h.clock
}

// ReadBlock reads a single block at the given address.
func (h *Host) ReadBlock(lba uint32, b *Block) error {
	if h.card == nil {
		return ErrNoCard
	}

	return h.ctl.ReadBlock(lba, b)
}

// WriteBlock writes a single block at the given address.
func (h *Host) WriteBlock(lba uint32, b *Block) error {
	if h.card == nil {
		return ErrNoCard
	}

	return h.ctl.WriteBlock(lba, b)
}
