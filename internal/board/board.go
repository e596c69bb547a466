// https://github.com/usbarmory/armory-sdshare
//
// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package board describes the runtime board configuration: pin role
// assignments, card clock class, operating mode and USB identity.
package board

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/usbarmory/armory-sdshare/internal/sd"
	"github.com/usbarmory/armory-sdshare/internal/ums"
)

// Role is the function assigned to a pin.
type Role string

// Pin roles.
const (
	SDIO_CLK    Role = "sdio_clk"
	SDIO_CMD    Role = "sdio_cmd"
	SDIO_D0     Role = "sdio_d0"
	SDIO_D1     Role = "sdio_d1"
	SDIO_D2     Role = "sdio_d2"
	SDIO_D3     Role = "sdio_d3"
	CARD_DETECT Role = "card_detect"
	STATUS_LED  Role = "status_led"
	USB_DM      Role = "usb_dm"
	USB_DP      Role = "usb_dp"
)

var required = []Role{SDIO_CLK, SDIO_CMD, SDIO_D0, SDIO_D1, SDIO_D2, SDIO_D3}

var optional = []Role{CARD_DETECT, STATUS_LED, USB_DM, USB_DP}

// Mode selects the consumer of the card.
type Mode string

// Operating modes.
const (
	// Walk lists the card FAT root directory.
	Walk Mode = "walk"
	// UMS exports the card as a USB Mass Storage device.
	UMS Mode = "ums"
)

// USB is the USB device identity.
type USB struct {
	VendorID     uint16       `yaml:"vendor_id"`
	ProductID    uint16       `yaml:"product_id"`
	Manufacturer string       `yaml:"manufacturer"`
	Product      string       `yaml:"product"`
	Serial       string       `yaml:"serial"`
	SCSI         ums.Identity `yaml:"scsi"`
}

// Config is a board configuration.
type Config struct {
	// Board is the name of the preset the configuration derives from.
	Board string `yaml:"board"`
	// Pins maps each role to a pin name.
	Pins map[Role]string `yaml:"pins"`
	// LED is the status indicator name, for boards with named LEDs.
	LED string `yaml:"led"`
	// Clock is the card clock class.
	Clock sd.Clock `yaml:"clock"`
	// Mode is the operating mode.
	Mode Mode `yaml:"mode"`
	// Backoff is the interval between card initialization attempts.
	Backoff time.Duration `yaml:"backoff"`
	// USB is the USB device identity.
	USB USB `yaml:"usb"`
}

// Configuration errors.
var (
	ErrUnknownBoard = errors.New("board: unknown board")
	ErrInvalid      = errors.New("board: invalid configuration")
)

// http://pid.codes/1209/2702/
var defaultUSB = USB{
	VendorID:     0x1209,
	ProductID:    0x2702,
	Manufacturer: "TamaGo",
	Product:      "Storage Media",
	Serial:       "0.1",
	SCSI: ums.Identity{
		Vendor:   "F-Secure",
		Product:  "TamaGo",
		Revision: "0.1",
	},
}

var presets = map[string]func() *Config{
	"usbarmory-mk2": func() *Config {
		return &Config{
			Pins: map[Role]string{
				SDIO_CLK: "SD1_CLK",
				SDIO_CMD: "SD1_CMD",
				SDIO_D0:  "SD1_DATA0",
				SDIO_D1:  "SD1_DATA1",
				SDIO_D2:  "SD1_DATA2",
				SDIO_D3:  "SD1_DATA3",
				USB_DM:   "USB_OTG1_DN",
				USB_DP:   "USB_OTG1_DP",
			},
			LED:   "white",
			Clock: sd.F24MHz,
			Mode:  UMS,
		}
	},
	"feather-f405": func() *Config {
		return &Config{
			Pins: map[Role]string{
				SDIO_CLK:    "PC12",
				SDIO_CMD:    "PD2",
				SDIO_D0:     "PC8",
				SDIO_D1:     "PC9",
				SDIO_D2:     "PC10",
				SDIO_D3:     "PC11",
				CARD_DETECT: "PB12",
				STATUS_LED:  "PC1",
				USB_DM:      "PA11",
				USB_DP:      "PA12",
			},
			Clock: sd.F24MHz,
			Mode:  UMS,
		}
	},
}

// DefaultBoard is the board targeted by the firmware.
const DefaultBoard = "usbarmory-mk2"

// Boards returns the names of the available presets.
func Boards() (names []string) {
	for name := range presets {
		names = append(names, name)
	}

	sort.Strings(names)

	return
}

// Preset returns the configuration of a known board.
func Preset(name string) (*Config, error) {
	preset, ok := presets[name]

	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBoard, name)
	}

	c := preset()
	c.Board = name
	c.Backoff = sd.DefaultBackoff
	c.USB = defaultUSB

	return c, nil
}

// Default returns the configuration of the default board.
func Default() *Config {
	c, _ := Preset(DefaultBoard)
	return c
}

// Parse decodes a YAML configuration, fields not present are inherited from
// the preset named by its board field (DefaultBoard when absent).
func Parse(buf []byte) (c *Config, err error) {
	var hdr struct {
		Board string `yaml:"board"`
	}

	if err = yaml.Unmarshal(buf, &hdr); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}

	if hdr.Board == "" {
		hdr.Board = DefaultBoard
	}

	if c, err = Preset(hdr.Board); err != nil {
		return
	}

	if err = yaml.UnmarshalStrict(buf, c); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}

	if err = c.Validate(); err != nil {
		return nil, err
	}

	return
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)

	if err != nil {
		return nil, err
	}

	return Parse(buf)
}

func invalid(format string, a ...interface{}) error {
	return fmt.Errorf("%w, %s", ErrInvalid, fmt.Sprintf(format, a...))
}

// Validate checks the configuration consistency.
func (c *Config) Validate() error {
	known := make(map[Role]bool)

	for _, r := range append(required, optional...) {
		known[r] = true
	}

	for _, r := range required {
		if c.Pins[r] == "" {
			return invalid("missing %s pin", r)
		}
	}

	owner := make(map[string]Role)

	for r, pin := range c.Pins {
		if !known[r] {
			return invalid("unknown pin role %q", r)
		}

		if pin == "" {
			continue
		}

		name := strings.ToUpper(pin)

		if prev, ok := owner[name]; ok {
			return invalid("pin %s assigned to both %s and %s", pin, prev, r)
		}

		owner[name] = r
	}

	if !c.Clock.Valid() {
		return invalid("clock class %d", int(c.Clock))
	}

	switch c.Mode {
	case Walk, UMS:
	default:
		return invalid("mode %q", c.Mode)
	}

	if c.Backoff <= 0 {
		return invalid("backoff %v", c.Backoff)
	}

	if c.USB.Manufacturer == "" || c.USB.Product == "" || c.USB.Serial == "" {
		return invalid("missing USB strings")
	}

	id := c.USB.SCSI

	if len(id.Vendor) > 8 || len(id.Product) > 16 || len(id.Revision) > 4 {
		return invalid("SCSI identity %q/%q/%q too long", id.Vendor, id.Product, id.Revision)
	}

	return nil
}

// Pin returns the pin assigned to a role and whether it is assigned.
func (c *Config) Pin(r Role) (pin string, ok bool) {
	pin = c.Pins[r]
	return pin, pin != ""
}
