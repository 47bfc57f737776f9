// Package channel owns the duplex text link to the emulator backend.
//
// Every command is one line out followed by a fixed number of echoed
// lines and exactly one payload line back. Only one command is in
// flight at a time.
package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// clog returns the component logger. It is derived on every call so it
// follows changes to the global logger made after package init.
func clog() *zerolog.Logger {
	l := log.With().Str("component", "channel").Logger()
	return &l
}

var ErrClosed = errors.New("channel closed")

type Network string

const (
	NetworkUnix   Network = "unix"
	NetworkSerial Network = "serial"
)

const (
	DefaultSocketPath = "/tmp/tmp-gpio.sock"
	DefaultBaud       = 115200
	DefaultEchoLines  = 1
)

type Config struct {
	Network Network

	// Path is the unix socket to listen on, or the serial device to open
	Path string

	// Baud is only used for serial devices
	Baud int

	// EchoLines is how many lines the peer echoes back before the payload.
	// Backends without echo use zero.
	EchoLines int
}

func DefaultConfig() Config {
	return Config{
		Network:   NetworkUnix,
		Path:      DefaultSocketPath,
		Baud:      DefaultBaud,
		EchoLines: DefaultEchoLines,
	}
}

// link is one incarnation of the channel. It becomes ready once the
// peer is attached (or attaching failed).
type link struct {
	ready  chan struct{}
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	err    error

	closeOnce sync.Once
	closer    func() error
}

func (l *link) attach(rwc io.ReadWriteCloser, err error) {
	l.rwc = rwc
	l.err = err
	if rwc != nil {
		l.reader = bufio.NewReader(rwc)
	}
	close(l.ready)
}

func (l *link) close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.closer != nil {
			err = l.closer()
		}
	})
	return err
}

type Channel struct {
	config Config

	// cmdMu allows a single command in flight
	cmdMu sync.Mutex

	linkMu sync.Mutex
	link   *link
	closed bool
}

// New opens the channel described by config. For unix sockets a stale
// socket file is removed first and the peer is accepted in the background.
func New(config Config) (*Channel, error) {
	if config.EchoLines < 0 {
		return nil, fmt.Errorf("echo lines must not be negative, got %d", config.EchoLines)
	}

	c := &Channel{config: config}
	l, err := c.open()
	if err != nil {
		return nil, err
	}
	c.link = l
	return c, nil
}

func (c *Channel) Config() Config {
	return c.config
}

func (c *Channel) open() (*link, error) {
	switch c.config.Network {
	case NetworkUnix, "":
		return listenUnix(c.config.Path)
	case NetworkSerial:
		return openSerial(c.config.Path, c.config.Baud)
	default:
		return nil, fmt.Errorf("unsupported channel network %q", c.config.Network)
	}
}

func (c *Channel) current() (*link, error) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.link, nil
}

// Send writes one command line and returns the payload line of the reply.
// It blocks until the peer is attached and has answered.
func (c *Channel) Send(command string) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	l, err := c.current()
	if err != nil {
		return "", err
	}

	<-l.ready
	if l.err != nil {
		return "", fmt.Errorf("channel unavailable: %w", l.err)
	}

	clog().Trace().Str("command", command).Msg("Sending")
	if _, err := io.WriteString(l.rwc, command+"\n"); err != nil {
		return "", c.linkError(err)
	}

	for i := 0; i < c.config.EchoLines; i++ {
		if _, err := l.reader.ReadString('\n'); err != nil {
			return "", c.linkError(err)
		}
	}

	reply, err := l.reader.ReadString('\n')
	if err != nil {
		return "", c.linkError(err)
	}
	reply = strings.TrimRight(reply, "\r\n")
	clog().Trace().Str("reply", reply).Msg("Received")

	return reply, nil
}

func (c *Channel) linkError(err error) error {
	c.linkMu.Lock()
	closed := c.closed
	c.linkMu.Unlock()

	if closed {
		return ErrClosed
	}
	return fmt.Errorf("channel io: %w", err)
}

// Reload drops the current link and opens a fresh one in its place.
// A command blocked on the old link fails rather than hanging.
func (c *Channel) Reload() error {
	c.linkMu.Lock()
	if c.closed {
		c.linkMu.Unlock()
		return ErrClosed
	}
	old := c.link
	c.linkMu.Unlock()

	if err := old.close(); err != nil {
		clog().Debug().Err(err).Msg("Closing previous link")
	}

	l, err := c.open()
	if err != nil {
		return err
	}

	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	if c.closed {
		l.close()
		return ErrClosed
	}
	c.link = l

	clog().Info().Str("path", c.config.Path).Msg("Channel reloaded")
	return nil
}

// Close releases the link. Further commands fail with ErrClosed.
func (c *Channel) Close() error {
	c.linkMu.Lock()
	if c.closed {
		c.linkMu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	c.linkMu.Unlock()

	return l.close()
}
