// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package irq provides the primitives shared between the main execution
// context and the USB interrupt context: a single owner slot guarded by a
// critical section and a maskable interrupt line dispatching to one handler.
package irq

import (
	"errors"
	"sync"
)

// ErrInstalled is returned when a slot is populated more than once.
var ErrInstalled = errors.New("irq: slot already installed")

// Slot holds the USB device instance and its endpoint client, both populated
// once at setup and never cleared.
//
// All accesses happen within a critical section, a reader observes either
// both values or none of them.
type Slot[D any, R any] struct {
	mu sync.Mutex

	installed bool
	dev       D
	client    R
}

// Install populates the slot, it can only be called once.
func (s *Slot[D, R]) Install(dev D, client R) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.installed {
		return ErrInstalled
	}

	s.dev = dev
	s.client = client
	s.installed = true

	return nil
}

// With runs fn on the slot contents within the critical section, which is
// held for the whole duration of fn. It returns false, without invoking fn,
// if the slot has not been installed yet.
func (s *Slot[D, R]) With(fn func(dev D, client R)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.installed {
		return false
	}

	fn(s.dev, s.client)

	return true
}

// Installed returns whether the slot has been populated.
func (s *Slot[D, R]) Installed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.installed
}
