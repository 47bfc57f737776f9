package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"gregoryjjb/vgpio/channel"
	"gregoryjjb/vgpio/dispatch"
	"gregoryjjb/vgpio/gpio"
	"gregoryjjb/vgpio/signals"
)

func init() {
	InitializeLogger()
}

// Populated by ldflags
var (
	version            string
	buildUnixTimestamp string
	commitHash         string
)

// OpenTransport opens the backend link selected by config.
func OpenTransport(config *Config) (dispatch.Transport, error) {
	if config.Transport() == TransportSim {
		return gpio.NewSim(), nil
	}

	ch, err := channel.New(config.ChannelConfig())
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// LoadLibrary returns the built in signals plus any found in the
// configured signals directory.
func LoadLibrary(config *Config) (*signals.Library, error) {
	library := signals.Builtin()
	if dir := config.SignalsDir(); dir != "" {
		if err := library.LoadDir(config.FS(), dir); err != nil {
			return nil, fmt.Errorf("load signals: %w", err)
		}
	}
	return library, nil
}

func NewDispatcher(config *Config) (*dispatch.Dispatcher, error) {
	library, err := LoadLibrary(config)
	if err != nil {
		return nil, err
	}

	transport, err := OpenTransport(config)
	if err != nil {
		return nil, err
	}

	return dispatch.New(transport, library, dispatch.Options{
		DefaultDelay: config.DefaultDelay(),
		HistorySize:  config.HistorySize(),
	}), nil
}

func main() {
	ts, _ := strconv.ParseInt(buildUnixTimestamp, 10, 64)
	buildTime := time.Unix(ts, 0)

	var flags Flags
	versionFlag := flag.Bool("version", false, "Print version")
	systemdFlag := flag.Bool("systemd", false, "Print systemd service file")
	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&flags.Transport, "transport", "", "Backend transport: unix, serial or sim")
	flag.StringVar(&flags.SocketPath, "socket", "", "Control socket path")
	flag.StringVar(&flags.HTTPListen, "http", "", "Serve the HTTP API on this address")
	flag.BoolVar(&flags.NoConsole, "no-console", false, "Run without the operator console until terminated")
	flag.Parse()

	if *versionFlag {
		fmt.Println("vgpio version:", version)
		fmt.Println("Built on:", buildTime)
		fmt.Println("Commit hash:", commitHash)
		return
	}

	if *systemdFlag {
		if err := SystemdServiceFile(os.Stdout, flags); err != nil {
			log.Fatal().Err(err).Msg("Rendering service file failed")
		}
		return
	}

	config, err := NewConfig(NewVgpioOSFS(), flags, os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("Config initialization failed")
	}
	ConfigureLogger(config)

	log.Info().
		Str("version", version).
		Str("config", config.Path()).
		Str("transport", config.Transport()).
		Msg("Initializing virtual GPIO manager")

	d, err := NewDispatcher(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Backend initialization failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := config.HTTPListen(); addr != "" {
		go func() {
			if err := StartServer(ctx, addr, d); err != nil {
				log.Err(err).Msg("Server closed with error")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		if err := d.Close(); err != nil {
			log.Err(err).Msg("Close failed")
		}
		os.Exit(0)
	}()

	if flags.NoConsole && config.HTTPListen() == "" {
		log.Warn().Msg("Running with neither a console nor an HTTP API")
	}

	if err := Serve(ctx, os.Stdin, Stdout, d, !flags.NoConsole); err != nil && !errors.Is(err, dispatch.ErrExit) {
		log.Err(err).Msg("Console failed")
	}
	if err := d.Close(); err != nil {
		log.Err(err).Msg("Close failed")
	}
	os.Exit(0)
}
