// Package dispatch turns operator command lines into register operations
// and playback sessions.
package dispatch

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gregoryjjb/vgpio/circularbuffer"
	"gregoryjjb/vgpio/gpio"
	"gregoryjjb/vgpio/playback"
	"gregoryjjb/vgpio/regmap"
	"gregoryjjb/vgpio/signals"
)

// dlog returns the component logger. It is derived on every call so it
// follows changes to the global logger made after package init.
func dlog() *zerolog.Logger {
	l := log.With().Str("component", "dispatch").Logger()
	return &l
}

var (
	ErrValidation     = errors.New("invalid command")
	ErrUnknownCommand = errors.New("unknown command")

	// ErrExit is returned by Execute once "exit" has released everything.
	// The caller is expected to end the process.
	ErrExit = errors.New("exit requested")
)

// Transport is the backend link the dispatcher drives
type Transport interface {
	gpio.Bus
	Reload() error
	Close() error
}

// Transaction is one command exchanged with the backend
type Transaction struct {
	Time     time.Time     `json:"time"`
	Command  string        `json:"command"`
	Reply    string        `json:"reply"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (t Transaction) String() string {
	result := t.Reply
	if t.Error != "" {
		result = "error: " + t.Error
	}
	return fmt.Sprintf("%s %s -> %s", t.Time.Format("15:04:05.000"), t.Command, result)
}

type Options struct {
	// DefaultDelay applies to signals that define no delay of their own
	DefaultDelay time.Duration

	// HistorySize bounds the transactions kept for the history command
	HistorySize int
}

func DefaultOptions() Options {
	return Options{
		DefaultDelay: signals.DefaultDelay,
		HistorySize:  64,
	}
}

type Dispatcher struct {
	transport Transport
	gpio      *gpio.Controller
	engine    *playback.Engine
	library   *signals.Library
	history   *circularbuffer.CircularBuffer[Transaction]
	options   Options

	closeOnce sync.Once
	closeErr  error
}

func New(transport Transport, library *signals.Library, options Options) *Dispatcher {
	if options.DefaultDelay <= 0 {
		options.DefaultDelay = signals.DefaultDelay
	}

	d := &Dispatcher{
		transport: transport,
		library:   library,
		history:   circularbuffer.New[Transaction](options.HistorySize),
		options:   options,
	}
	d.gpio = gpio.NewController(recordingBus{d})
	d.engine = playback.NewEngine(d.gpio)
	return d
}

// recordingBus keeps every exchange in the dispatcher's history
type recordingBus struct {
	d *Dispatcher
}

func (b recordingBus) Send(command string) (string, error) {
	start := time.Now()
	reply, err := b.d.transport.Send(command)

	tx := Transaction{
		Time:     start,
		Command:  command,
		Reply:    reply,
		Duration: time.Since(start),
	}
	if err != nil {
		tx.Error = err.Error()
	}
	b.d.history.Push(tx)

	return reply, err
}

func (d *Dispatcher) GPIO() *gpio.Controller {
	return d.gpio
}

func (d *Dispatcher) Engine() *playback.Engine {
	return d.engine
}

func (d *Dispatcher) Library() *signals.Library {
	return d.library
}

// History returns up to n of the latest backend transactions, oldest first
func (d *Dispatcher) History(n int) []Transaction {
	return d.history.Last(n)
}

// Parse executes line and renders the outcome as text. Failures are
// rendered too, so the command loop can always carry on.
func (d *Dispatcher) Parse(line string) string {
	out, err := d.Execute(line)
	if err != nil && !errors.Is(err, ErrExit) {
		return "Error: " + err.Error()
	}
	return out
}

// Execute runs a single command line.
func (d *Dispatcher) Execute(line string) (string, error) {
	return d.execute(line, true)
}

// ExecuteRemote runs a command line arriving from somewhere other than the
// operator console. It refuses exit.
func (d *Dispatcher) ExecuteRemote(line string) (string, error) {
	return d.execute(line, false)
}

func (d *Dispatcher) execute(line string, console bool) (string, error) {
	parts, err := shlex.Split(line)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if len(parts) == 0 {
		return "", nil
	}

	cmd, args := parts[0], parts[1:]
	dlog().Debug().Str("command", cmd).Strs("args", args).Bool("console", console).Msg("Dispatching")

	if cmd == "exit" && !console {
		return "", fmt.Errorf("%w: exit is only available on the console", ErrValidation)
	}

	switch cmd {
	case "help":
		return Help(), nil

	case "get":
		if err := arity(cmd, args, 1, "<pin>"); err != nil {
			return "", err
		}
		pin, err := parsePin(args[0])
		if err != nil {
			return "", err
		}
		high, err := d.gpio.Get(pin)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(high), nil

	case "set":
		return d.set(args)

	case "toggle":
		if err := arity(cmd, args, 1, "<pin>"); err != nil {
			return "", err
		}
		pin, err := parsePin(args[0])
		if err != nil {
			return "", err
		}
		_, reply, err := d.gpio.Toggle(pin)
		return reply, err

	case "stop":
		if err := arity(cmd, args, 0, ""); err != nil {
			return "", err
		}
		d.engine.Stop()
		return "", nil

	case "read-area":
		if err := arity(cmd, args, 0, ""); err != nil {
			return "", err
		}
		return d.gpio.ReadWindow(regmap.GPIOWindow)

	case "read-ic":
		if err := arity(cmd, args, 0, ""); err != nil {
			return "", err
		}
		return d.gpio.ReadWindow(regmap.ICWindow)

	case "readl":
		if err := arity(cmd, args, 1, "<address>"); err != nil {
			return "", err
		}
		addr, err := parseUint32("address", args[0])
		if err != nil {
			return "", err
		}
		return d.gpio.Readl(addr)

	case "writel":
		if err := arity(cmd, args, 2, "<address> <value>"); err != nil {
			return "", err
		}
		addr, err := parseUint32("address", args[0])
		if err != nil {
			return "", err
		}
		value, err := parseUint32("value", args[1])
		if err != nil {
			return "", err
		}
		return d.gpio.Writel(addr, value)

	case "reload":
		if err := arity(cmd, args, 0, ""); err != nil {
			return "", err
		}
		if err := d.transport.Reload(); err != nil {
			return "", err
		}
		return "Channel reloaded", nil

	case "signals":
		if err := arity(cmd, args, 0, ""); err != nil {
			return "", err
		}
		return strings.Join(d.library.Names(), "\n"), nil

	case "status":
		if err := arity(cmd, args, 0, ""); err != nil {
			return "", err
		}
		return d.status(), nil

	case "history":
		return d.historyText(args)

	case "exit":
		if err := d.Close(); err != nil {
			dlog().Err(err).Msg("Closing on exit")
		}
		return "", ErrExit
	}

	return "", fmt.Errorf("%w %q, try 'help'", ErrUnknownCommand, cmd)
}

func (d *Dispatcher) set(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: set requires <pin> <value> or <signal> [delay]", ErrValidation)
	}

	if d.library.Has(args[0]) {
		if len(args) > 2 {
			return "", fmt.Errorf("%w: set <signal> takes at most a delay", ErrValidation)
		}
		return d.play(args[0], args[1:])
	}

	pin, err := parsePin(args[0])
	if err != nil {
		if errors.Is(err, regmap.ErrPinRange) {
			return "", err
		}
		return "", fmt.Errorf("%w: %q is neither a signal nor a pin", ErrValidation, args[0])
	}
	if len(args) != 2 {
		return "", fmt.Errorf("%w: set requires <pin> <value> or <signal> [delay]", ErrValidation)
	}
	value, err := regmap.ParseLiteral(args[1])
	if err != nil {
		return "", fmt.Errorf("%w: value %q is not a number", ErrValidation, args[1])
	}

	return d.gpio.Set(pin, value != 0)
}

// Play starts looping the named signal, replacing any running session.
// A zero delay means the signal's own delay or the default.
func (d *Dispatcher) Play(name string, delay time.Duration) error {
	sig, err := d.library.Get(name)
	if err != nil {
		return err
	}

	if delay == 0 {
		delay = sig.Delay
	}
	if delay == 0 {
		delay = d.options.DefaultDelay
	}

	return d.engine.Start(sig, delay)
}

func (d *Dispatcher) play(name string, args []string) (string, error) {
	var delay time.Duration
	if len(args) == 1 {
		seconds, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return "", fmt.Errorf("%w: delay must be a number, got %q", ErrValidation, args[0])
		}
		delay, err = playback.ParseDelay(seconds)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}

	if err := d.Play(name, delay); err != nil {
		return "", err
	}

	status := d.engine.Status()
	return fmt.Sprintf("Looping '%s' every %s. Use 'stop' or 'set <other>' to change.", name, status.Delay), nil
}

func (d *Dispatcher) status() string {
	status := d.engine.Status()
	if !status.Active {
		return "idle"
	}
	return fmt.Sprintf("playing '%s' every %s since %s",
		status.Signal, status.Delay, status.StartedAt.Format(time.RFC3339))
}

func (d *Dispatcher) historyText(args []string) (string, error) {
	if len(args) > 1 {
		return "", fmt.Errorf("%w: usage: history [count]", ErrValidation)
	}

	n := 10
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return "", fmt.Errorf("%w: count must be a positive integer", ErrValidation)
		}
		n = v
	}

	lines := make([]string, 0, n)
	for _, tx := range d.history.Last(n) {
		lines = append(lines, tx.String())
	}
	return strings.Join(lines, "\n"), nil
}

// Close stops any playback session, waiting for it, then releases the
// transport. Only the first call does anything.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.engine.Close()
		d.closeErr = d.transport.Close()
	})
	return d.closeErr
}

func arity(cmd string, args []string, n int, usage string) error {
	if len(args) == n {
		return nil
	}
	if usage == "" {
		return fmt.Errorf("%w: %s takes no arguments", ErrValidation, cmd)
	}
	return fmt.Errorf("%w: usage: %s %s", ErrValidation, cmd, usage)
}

func parsePin(s string) (int, error) {
	v, err := regmap.ParseLiteral(s)
	if err != nil {
		return 0, fmt.Errorf("%w: pin %q is not a number", ErrValidation, s)
	}
	if v < regmap.MinPin || v > regmap.MaxPin {
		return 0, fmt.Errorf("%w: %d not in [%d,%d]", regmap.ErrPinRange, v, regmap.MinPin, regmap.MaxPin)
	}
	return int(v), nil
}

func parseUint32(what, s string) (uint32, error) {
	v, err := regmap.ParseLiteral(s)
	if err != nil || v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s %q is not a 32 bit number", ErrValidation, what, s)
	}
	return uint32(v), nil
}
