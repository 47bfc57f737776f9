package channel

import (
	"fmt"

	"github.com/tarm/serial"
)

// openSerial attaches to a character device such as the pty an emulator
// exposes for its control chardev.
func openSerial(device string, baud int) (*link, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name: device,
		Baud: baud,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	clog().Info().Str("device", device).Int("baud", baud).Msg("Serial link open")

	l := &link{
		ready:  make(chan struct{}),
		closer: port.Close,
	}
	l.attach(port, nil)
	return l, nil
}
