// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sd

import (
	"context"
	"log"
	"time"
)

// DefaultBackoff is the wait between card initialization attempts.
const DefaultBackoff = 1 * time.Second

// Indicator represents a binary status output.
type Indicator interface {
	Toggle()
}

// Sleeper represents the delay between initialization attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper waits on a timer, or until the context is done.
var TimerSleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})

// Presence polls a card link until a card is initialized.
type Presence struct {
	// Clock is the initialization clock class.
	Clock Clock
	// Backoff is the wait between attempts (DefaultBackoff when zero).
	Backoff time.Duration
	// Indicator is toggled on each failed attempt (optional).
	Indicator Indicator
	// Sleeper implements the wait (TimerSleeper when nil).
	Sleeper Sleeper
}

// Wait initializes the card link, retrying without bound until a card
// responds. A missing or failing card is never an error: Wait returns an
// error only when ctx is done or the initialization parameters are invalid.
func (p *Presence) Wait(ctx context.Context, link Link) (card *Card, err error) {
	backoff := p.Backoff

	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	sleeper := p.Sleeper

	if sleeper == nil {
		sleeper = TimerSleeper
	}

	for {
		if err = link.Init(p.Clock); err == nil {
			return link.Card()
		}

		if !Transient(err) {
			return
		}

		log.Printf("sd: init error, %v", err)
		log.Printf("sd: waiting for card...")

		if p.Indicator != nil {
			p.Indicator.Toggle()
		}

		if err = sleeper.Sleep(ctx, backoff); err != nil {
			return
		}
	}
}

// WaitForCard is a shorthand for a Presence loop with default backoff.
func WaitForCard(ctx context.Context, link Link, clock Clock, led Indicator) (*Card, error) {
	p := &Presence{
		Clock:     clock,
		Indicator: led,
	}

	return p.Wait(ctx, link)
}
