package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"gregoryjjb/vgpio/channel"
	"gregoryjjb/vgpio/signals"
)

var ErrValidation = errors.New("invalid configuration")

const (
	TransportUnix   = "unix"
	TransportSerial = "serial"
	TransportSim    = "sim"
)

const ConfigFileName = "vgpio.toml"

// Flags are the command line overrides; empty values are unset
type Flags struct {
	ConfigPath string
	Transport  string
	SocketPath string
	HTTPListen string

	// NoConsole skips the operator console, leaving only the HTTP API
	NoConsole bool
}

type tomlConfig struct {
	Transport    string  `toml:"transport"`
	SocketPath   string  `toml:"socket_path"`
	SerialDevice string  `toml:"serial_device"`
	SerialBaud   int     `toml:"serial_baud"`
	EchoLines    *int    `toml:"echo_lines"`
	DefaultDelay float64 `toml:"default_delay"`
	SignalsDir   string  `toml:"signals_dir"`
	HTTPListen   string  `toml:"http_listen"`
	LogLevel     string  `toml:"log_level"`
	LogFile      string  `toml:"log_file"`
	HistorySize  int     `toml:"history_size"`
}

type Config struct {
	fs     VgpioFS
	flags  Flags
	getenv func(string) string
	toml   tomlConfig

	// path of the file the config was read from, empty if none
	path string
}

// NewConfig resolves configuration from flags, then VGPIO_* environment
// variables, then the config file, then defaults.
func NewConfig(fsys VgpioFS, flags Flags, getenv func(string) string) (*Config, error) {
	c := &Config{
		fs:     fsys,
		flags:  flags,
		getenv: getenv,
	}

	path, explicit, err := c.configPath()
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(fsys, path)
	switch {
	case err == nil:
		c.path = path
		d := toml.NewDecoder(bytes.NewReader(data))
		d.DisallowUnknownFields()
		if err := d.Decode(&c.toml); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// Defaults only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) configPath() (string, bool, error) {
	if c.flags.ConfigPath != "" {
		return c.flags.ConfigPath, true, nil
	}
	if p := c.getenv("VGPIO_CONFIG"); p != "" {
		return p, true, nil
	}

	if p, err := c.fs.Abs(ConfigFileName); err == nil {
		if _, err := c.fs.Stat(p); err == nil {
			return p, false, nil
		}
	}

	home, err := c.fs.HomeDir()
	if err != nil {
		return "", false, err
	}
	return filepath.Join(home, ".config", "vgpio", ConfigFileName), false, nil
}

func (c *Config) validate() error {
	switch c.Transport() {
	case TransportUnix, TransportSim:
	case TransportSerial:
		if c.toml.SerialDevice == "" {
			return fmt.Errorf("%w: serial transport requires serial_device", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrValidation, c.Transport())
	}

	if c.toml.EchoLines != nil && *c.toml.EchoLines < 0 {
		return fmt.Errorf("%w: echo_lines must not be negative", ErrValidation)
	}
	if c.toml.DefaultDelay < 0 {
		return fmt.Errorf("%w: default_delay must not be negative", ErrValidation)
	}
	if c.toml.HistorySize < 0 {
		return fmt.Errorf("%w: history_size must not be negative", ErrValidation)
	}
	if _, err := c.parseLogLevel(); err != nil {
		return err
	}
	return nil
}

// pick returns the first non-empty value
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Path is the config file in use, empty when running on defaults
func (c *Config) Path() string {
	return c.path
}

func (c *Config) Transport() string {
	return strings.ToLower(pick(c.flags.Transport, c.getenv("VGPIO_TRANSPORT"), c.toml.Transport, TransportUnix))
}

func (c *Config) SocketPath() string {
	return pick(c.flags.SocketPath, c.getenv("VGPIO_SOCKET"), c.toml.SocketPath, channel.DefaultSocketPath)
}

func (c *Config) EchoLines() int {
	if c.toml.EchoLines == nil {
		return channel.DefaultEchoLines
	}
	return *c.toml.EchoLines
}

// ChannelConfig describes the control channel for the unix and serial transports
func (c *Config) ChannelConfig() channel.Config {
	cc := channel.DefaultConfig()
	cc.EchoLines = c.EchoLines()

	if c.Transport() == TransportSerial {
		cc.Network = channel.NetworkSerial
		cc.Path = c.toml.SerialDevice
		if c.toml.SerialBaud > 0 {
			cc.Baud = c.toml.SerialBaud
		}
	} else {
		cc.Path = c.SocketPath()
	}
	return cc
}

func (c *Config) DefaultDelay() time.Duration {
	if c.toml.DefaultDelay == 0 {
		return signals.DefaultDelay
	}
	return time.Duration(c.toml.DefaultDelay * float64(time.Second))
}

// SignalsDir is where user signal files live. Relative paths are resolved
// against the config file's directory.
func (c *Config) SignalsDir() string {
	dir := c.toml.SignalsDir
	if dir == "" {
		return ""
	}
	if !filepath.IsAbs(dir) && c.path != "" {
		dir = filepath.Join(filepath.Dir(c.path), dir)
	}
	return dir
}

func (c *Config) HTTPListen() string {
	return pick(c.flags.HTTPListen, c.getenv("VGPIO_HTTP"), c.toml.HTTPListen)
}

func (c *Config) parseLogLevel() (zerolog.Level, error) {
	raw := pick(c.getenv("VGPIO_LOG_LEVEL"), c.toml.LogLevel, "info")
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("%w: log_level %q", ErrValidation, raw)
	}
	return level, nil
}

func (c *Config) LogLevel() zerolog.Level {
	level, _ := c.parseLogLevel()
	return level
}

func (c *Config) LogFile() string {
	return c.toml.LogFile
}

func (c *Config) HistorySize() int {
	if c.toml.HistorySize == 0 {
		return 64
	}
	return c.toml.HistorySize
}

func (c *Config) String() string {
	return fmt.Sprintf("transport=%s socket=%s echo=%d delay=%s http=%q",
		c.Transport(), c.SocketPath(), c.EchoLines(), c.DefaultDelay(), c.HTTPListen())
}

// FS exposes the filesystem the config was loaded from
func (c *Config) FS() VgpioFS {
	return c.fs
}
