// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"golang.org/x/text/message"

	"github.com/usbarmory/armory-sdshare/internal/blockdev"
	"github.com/usbarmory/armory-sdshare/internal/sd"
)

// fillBatch is the number of blocks written per pattern transfer.
const fillBatch = 64

// pattern fills b with data identifying lba.
func pattern(lba uint32, b *sd.Block) {
	for i := 0; i < len(b); i += 8 {
		binary.LittleEndian.PutUint32(b[i:], lba)
		binary.LittleEndian.PutUint32(b[i+4:], ^lba^uint32(i))
	}
}

func fill(ctx context.Context, dev *blockdev.Device, blocks uint32) (err error) {
	buf := make([]sd.Block, fillBatch)

	for lba := uint32(0); lba < blocks; lba += uint32(len(buf)) {
		if err = ctx.Err(); err != nil {
			return
		}

		n := min(uint32(len(buf)), blocks-lba)

		for i := uint32(0); i < n; i++ {
			pattern(lba+i, &buf[i])
		}

		if err = dev.Write(buf[:n], lba); err != nil {
			return
		}
	}

	return
}

type result struct {
	batches  int
	blocks   int
	failures int
	mismatch int
	times    []float64
}

// run performs random batched reads, recording per batch latencies and
// optionally verifying the pattern.
func run(ctx context.Context, dev *blockdev.Device, blocks uint32, iterations int, batch int, verify bool) (r *result) {
	r = &result{
		times: make([]float64, 0, iterations),
	}

	if uint32(batch) > blocks {
		batch = int(blocks)
	}

	buf := make([]sd.Block, batch)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var expected sd.Block

	for i := 0; i < iterations && ctx.Err() == nil; i++ {
		lba := uint32(rng.Int63n(int64(blocks - uint32(batch) + 1)))

		start := time.Now()
		err := dev.Read(buf, lba, reason)
		r.times = append(r.times, float64(time.Since(start)))
		r.batches++

		if err != nil {
			log.Printf("sdstress: %v", err)
			r.failures++
			continue
		}

		r.blocks += batch

		if !verify {
			continue
		}

		for j := range buf {
			if pattern(lba+uint32(j), &expected); buf[j] != expected {
				r.mismatch++
			}
		}
	}

	return
}

func (r *result) report(p *message.Printer) {
	p.Printf("%d batches, %d blocks read, %d failures, %d mismatches\n", r.batches, r.blocks, r.failures, r.mismatch)

	if len(r.times) == 0 {
		return
	}

	hist := histogram.Hist(10, r.times)
	err := histogram.Fprintf(log.Writer(), hist, histogram.Linear(40), func(v float64) string {
		return p.Sprintf("% 11dns", time.Duration(v).Nanoseconds())
	})

	if err != nil {
		log.Println(err)
	}

	fmt.Println()
}
