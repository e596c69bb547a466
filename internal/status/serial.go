// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package status

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrNoPort is returned when no matching serial port is found.
var ErrNoPort = errors.New("status: no matching serial port")

// modemLines is the subset of a serial port driving the indicator.
type modemLines interface {
	SetDTR(dtr bool) error
	Close() error
}

// Serial is an indicator driving the DTR line of a serial port, suitable
// for an LED wired to a USB-serial adapter.
type Serial struct {
	sync.Mutex

	name string
	port modemLines
	on   bool
}

// OpenSerial opens the named serial port as indicator, DTR starts
// deasserted.
func OpenSerial(name string) (s *Serial, err error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})

	if err != nil {
		return nil, fmt.Errorf("status: %s, %w", name, err)
	}

	s = &Serial{
		name: name,
		port: port,
	}

	if err = port.SetDTR(false); err != nil {
		port.Close()
		return nil, fmt.Errorf("status: %s, %w", name, err)
	}

	return
}

// Toggle inverts the DTR line.
func (s *Serial) Toggle() {
	s.Lock()
	defer s.Unlock()

	s.on = !s.on

	if err := s.port.SetDTR(s.on); err != nil {
		log.Printf("status: %s DTR error, %v", s.name, err)
	}
}

// Close deasserts DTR and closes the port.
func (s *Serial) Close() error {
	s.Lock()
	defer s.Unlock()

	s.port.SetDTR(false)

	return s.port.Close()
}

// FindSerial returns the name of the first USB serial port matching the
// given USB vendor and product IDs (hexadecimal, case insensitive), an empty
// product matches any.
func FindSerial(vid string, pid string) (name string, err error) {
	ports, err := enumerator.GetDetailedPortsList()

	if err != nil {
		return
	}

	for _, port := range ports {
		if !port.IsUSB {
			continue
		}

		if !strings.EqualFold(port.VID, vid) {
			continue
		}

		if pid != "" && !strings.EqualFold(port.PID, pid) {
			continue
		}

		log.Printf("status: found %s (%s:%s %s)", port.Name, port.VID, port.PID, port.SerialNumber)

		return port.Name, nil
	}

	return "", fmt.Errorf("%w %s:%s", ErrNoPort, vid, pid)
}
