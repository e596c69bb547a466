// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package blockdev

import (
	"errors"

	"github.com/usbarmory/armory-sdshare/internal/sd"
)

var errBus = errors.New("bus error")

// fakeLink is a transaction counting card link with failure injection.
type fakeLink struct {
	card *sd.Card
	data []sd.Block

	reads  int
	writes int

	readFail  map[uint32]bool
	writeFail map[uint32]bool
}

func newFakeLink(blocks uint32) *fakeLink {
	l := &fakeLink{
		card:      &sd.Card{Blocks: blocks},
		data:      make([]sd.Block, blocks),
		readFail:  make(map[uint32]bool),
		writeFail: make(map[uint32]bool),
	}

	for i := range l.data {
		for j := range l.data[i] {
			l.data[i][j] = byte(i ^ j)
		}
	}

	return l
}

func (l *fakeLink) Init(clock sd.Clock) error {
	return nil
}

func (l *fakeLink) Card() (*sd.Card, error) {
	if l.card == nil {
		return nil, sd.ErrNoCard
	}

	return l.card, nil
}

func (l *fakeLink) ReadBlock(lba uint32, b *sd.Block) error {
	l.reads++

	if l.readFail[lba] {
		return errBus
	}

	*b = l.data[lba]

	return nil
}

func (l *fakeLink) WriteBlock(lba uint32, b *sd.Block) error {
	l.writes++

	if l.writeFail[lba] {
		return errBus
	}

	l.data[lba] = *b

	return nil
}

func (l *fakeLink) transactions() int {
	return l.reads + l.writes
}
