// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package status implements card presence indicators for hosted builds.
package status

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"golang.org/x/term"
)

// Console is an indicator rendered on a console, as an in-place glyph on
// terminals and as log lines otherwise.
type Console struct {
	sync.Mutex

	w   io.Writer
	tty bool
	on  bool
}

// NewConsole returns a console indicator writing to f.
func NewConsole(f *os.File) *Console {
	return &Console{
		w:   f,
		tty: term.IsTerminal(int(f.Fd())),
	}
}

// Toggle inverts the indicator state.
func (c *Console) Toggle() {
	c.Lock()
	defer c.Unlock()

	c.on = !c.on

	if !c.tty {
		log.Printf("status: indicator %s", onOff(c.on))
		return
	}

	glyph := "○"

	if c.on {
		glyph = "●"
	}

	fmt.Fprintf(c.w, "\r%s waiting for card", glyph)
}

// Clear resets the indicator, terminating the glyph line if any.
func (c *Console) Clear() {
	c.Lock()
	defer c.Unlock()

	if c.tty && c.on {
		fmt.Fprintln(c.w)
	}

	c.on = false
}

// On returns the indicator state.
func (c *Console) On() bool {
	c.Lock()
	defer c.Unlock()

	return c.on
}

func onOff(on bool) string {
	if on {
		return "on"
	}

	return "off"
}
