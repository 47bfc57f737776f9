package regmap

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Window is a contiguous register range belonging to one peripheral
type Window struct {
	Base uint32
	Last uint32
}

// Size is the number of bytes covered by the window
func (w Window) Size() uint32 {
	return w.Last - w.Base + 1
}

func (w Window) Contains(addr uint32) bool {
	return addr >= w.Base && addr <= w.Last
}

var (
	GPIOWindow = Window{Base: 0x3f200000, Last: 0x3f200fff}
	ICWindow   = Window{Base: 0x3f00b200, Last: 0x3f00b3ff}
)

const (
	MinPin = 0
	MaxPin = 54

	// PinsPerBank is the number of lines sharing one 32 bit register
	PinsPerBank = 32
)

var (
	ErrPinRange = errors.New("pin out of range")
	ErrLiteral  = errors.New("not a numeric literal")
)

// Decimal without leading zeros, 0x hex or 0o octal, optionally signed
var literalRegex = regexp.MustCompile(`^[+-]?(0|[1-9][0-9]*|0[xX][0-9a-fA-F]+|0[oO][0-7]+)$`)

// ParseLiteral parses a numeric literal as typed on the command line.
func ParseLiteral(s string) (int64, error) {
	if !literalRegex.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrLiteral, s)
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrLiteral, s, err)
	}
	return v, nil
}

type Intent int

const (
	IntentSet Intent = iota
	IntentReset
	IntentRead
)

const (
	SetOffset   uint32 = 0x1c
	ResetOffset uint32 = 0x28
	ReadOffset  uint32 = 0x34
)

func (i Intent) Offset() uint32 {
	switch i {
	case IntentSet:
		return SetOffset
	case IntentReset:
		return ResetOffset
	default:
		return ReadOffset
	}
}

func (i Intent) String() string {
	switch i {
	case IntentSet:
		return "set"
	case IntentReset:
		return "reset"
	case IntentRead:
		return "read"
	}
	return fmt.Sprintf("intent(%d)", int(i))
}

// ValidPin reports whether pin names a line of the GPIO block
func ValidPin(pin int) bool {
	return pin >= MinPin && pin <= MaxPin
}

func CheckPin(pin int) error {
	if !ValidPin(pin) {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrPinRange, pin, MinPin, MaxPin)
	}
	return nil
}

func Bank(pin int) int {
	return pin / PinsPerBank
}

// Locate returns the register group base for pin. Out of range pins
// yield 0, which callers treat as "no address" rather than a fault.
func Locate(pin int) uint32 {
	if !ValidPin(pin) {
		return 0
	}
	return GPIOWindow.Base + uint32(Bank(pin))*4
}

// AddressFor returns the register address to use for pin with the given intent.
func AddressFor(pin int, intent Intent) uint32 {
	return Locate(pin) + intent.Offset()
}

// MaskFor returns the single bit selecting pin inside its bank register.
func MaskFor(pin int) uint32 {
	return 1 << (uint(pin) % PinsPerBank)
}

// IntentFor picks the set or reset register depending on the requested level.
func IntentFor(value bool) Intent {
	if value {
		return IntentSet
	}
	return IntentReset
}
