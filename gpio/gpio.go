// Package gpio performs pin level operations as register reads and
// writes issued over a line oriented backend bus.
package gpio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gregoryjjb/vgpio/regmap"
)

// glog returns the component logger. It is derived on every call so it
// follows changes to the global logger made after package init.
func glog() *zerolog.Logger {
	l := log.With().Str("component", "gpio").Logger()
	return &l
}

var ErrBadReply = errors.New("unexpected backend reply")

// Bus carries one backend command and returns its payload line.
type Bus interface {
	Send(command string) (string, error)
}

type Controller struct {
	bus Bus
}

func NewController(bus Bus) *Controller {
	return &Controller{bus: bus}
}

func WritelCommand(addr, value uint32) string {
	return fmt.Sprintf("writel 0x%x 0x%x", addr, value)
}

func ReadlCommand(addr uint32) string {
	return fmt.Sprintf("readl 0x%x", addr)
}

func ReadCommand(addr, size uint32) string {
	return fmt.Sprintf("read 0x%x 0x%x", addr, size)
}

// Writel writes a 32 bit value and returns the raw payload.
func (c *Controller) Writel(addr, value uint32) (string, error) {
	return c.bus.Send(WritelCommand(addr, value))
}

// Readl returns the raw payload of a 32 bit read.
func (c *Controller) Readl(addr uint32) (string, error) {
	return c.bus.Send(ReadlCommand(addr))
}

// ReadlValue reads a 32 bit register and decodes the value.
func (c *Controller) ReadlValue(addr uint32) (uint32, error) {
	reply, err := c.Readl(addr)
	if err != nil {
		return 0, err
	}
	return ParseValue(reply)
}

// Read returns the raw payload of a bulk read of size bytes.
func (c *Controller) Read(addr, size uint32) (string, error) {
	return c.bus.Send(ReadCommand(addr, size))
}

func (c *Controller) ReadWindow(w regmap.Window) (string, error) {
	return c.Read(w.Base, w.Size())
}

// Set drives pin high or low through the set/reset registers.
func (c *Controller) Set(pin int, value bool) (string, error) {
	if err := regmap.CheckPin(pin); err != nil {
		return "", err
	}

	addr := regmap.AddressFor(pin, regmap.IntentFor(value))
	mask := regmap.MaskFor(pin)
	glog().Debug().Int("pin", pin).Bool("value", value).Msg("Set")

	return c.Writel(addr, mask)
}

// Get reports the level of pin.
func (c *Controller) Get(pin int) (bool, error) {
	if err := regmap.CheckPin(pin); err != nil {
		return false, err
	}

	v, err := c.ReadlValue(regmap.AddressFor(pin, regmap.IntentRead))
	if err != nil {
		return false, err
	}
	return v&regmap.MaskFor(pin) != 0, nil
}

// Toggle inverts pin and returns the level it was driven to.
func (c *Controller) Toggle(pin int) (bool, string, error) {
	current, err := c.Get(pin)
	if err != nil {
		return false, "", err
	}
	glog().Debug().Int("pin", pin).Bool("current", current).Msg("Toggling")

	reply, err := c.Set(pin, !current)
	return !current, reply, err
}

// ParseValue decodes a readl payload such as "OK 0x00020000". A bare
// number is accepted too.
func ParseValue(reply string) (uint32, error) {
	fields := strings.Fields(reply)

	var literal string
	switch {
	case len(fields) == 1:
		literal = fields[0]
	case len(fields) >= 2 && fields[0] == "OK":
		literal = fields[1]
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadReply, reply)
	}

	v, err := strconv.ParseUint(literal, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadReply, reply)
	}
	return uint32(v), nil
}
