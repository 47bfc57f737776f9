package gpio

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"gregoryjjb/vgpio/regmap"
)

// Sim is an in-process register block answering the backend protocol.
// Writes to the set and reset registers update the level registers,
// everything else is plain storage.
type Sim struct {
	mu   sync.Mutex
	regs map[uint32]uint32
}

func NewSim() *Sim {
	glog().Debug().Msg("GPIO will be simulated")
	return &Sim{regs: make(map[uint32]uint32)}
}

func levelRegister(addr uint32, intentOffset uint32) (uint32, bool) {
	base := regmap.GPIOWindow.Base + intentOffset
	if addr == base || addr == base+4 {
		return regmap.GPIOWindow.Base + regmap.ReadOffset + (addr - base), true
	}
	return 0, false
}

func (s *Sim) writel(addr, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lev, ok := levelRegister(addr, regmap.SetOffset); ok {
		s.regs[lev] |= value
	} else if lev, ok := levelRegister(addr, regmap.ResetOffset); ok {
		s.regs[lev] &^= value
	} else {
		s.regs[addr] = value
	}
}

func (s *Sim) readl(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.regs[addr]
}

func (s *Sim) read(addr, size uint32) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, size)
	for i := uint32(0); i < size; i++ {
		a := addr + i
		word := s.regs[a&^3]
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], word)
		out[i] = b[a&3]
	}
	return out
}

// Levels renders the level of the first count pins, '#' for high.
func (s *Sim) Levels(count int) string {
	var sb strings.Builder
	for pin := 0; pin < count && regmap.ValidPin(pin); pin++ {
		v := s.readl(regmap.AddressFor(pin, regmap.IntentRead))
		if v&regmap.MaskFor(pin) != 0 {
			sb.WriteByte('#')
		} else {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

func parseArgs(args []string, n int) ([]uint32, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	out := make([]uint32, n)
	for i, a := range args {
		v, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return nil, err
		}
		out[i] = uint32(v)
	}
	return out, nil
}

// Send answers a single command line.
func (s *Sim) Send(command string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "FAIL empty command", nil
	}

	switch fields[0] {
	case "writel":
		args, err := parseArgs(fields[1:], 2)
		if err != nil {
			return "FAIL " + err.Error(), nil
		}
		s.writel(args[0], args[1])
		glog().Debug().Str("pins", s.Levels(regmap.MaxPin+1)).Msg("GPIO")
		return "OK", nil

	case "readl":
		args, err := parseArgs(fields[1:], 1)
		if err != nil {
			return "FAIL " + err.Error(), nil
		}
		return fmt.Sprintf("OK 0x%08x", s.readl(args[0])), nil

	case "read":
		args, err := parseArgs(fields[1:], 2)
		if err != nil {
			return "FAIL " + err.Error(), nil
		}
		return "OK 0x" + hex.EncodeToString(s.read(args[0], args[1])), nil
	}

	return fmt.Sprintf("FAIL unknown command %q", fields[0]), nil
}

func (s *Sim) Reload() error {
	return nil
}

func (s *Sim) Close() error {
	glog().Debug().Msg("Simulated GPIO closing")
	return nil
}

// Serve answers commands read from rw until it is closed, echoing each
// line first when echo is set.
func (s *Sim) Serve(rw io.ReadWriter, echo bool) error {
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		line := scanner.Text()
		if echo {
			if _, err := fmt.Fprintf(rw, "%s\n", line); err != nil {
				return err
			}
		}
		reply, _ := s.Send(line)
		if _, err := fmt.Fprintf(rw, "%s\n", reply); err != nil {
			return err
		}
	}
	return scanner.Err()
}
