package channel

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
)

// listenUnix listens on path and accepts a single peer in the background,
// the way socat's UNIX-LISTEN does.
func listenUnix(path string) (*link, error) {
	if _, err := os.Lstat(path); err == nil {
		clog().Debug().Str("path", path).Msg("Removing stale socket")
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	clog().Info().Str("path", path).Msg("Listening for backend")

	l := &link{ready: make(chan struct{})}

	var conn net.Conn
	done := make(chan struct{})
	l.closer = func() error {
		lnErr := ln.Close()
		<-done
		if conn != nil {
			return conn.Close()
		}
		if errors.Is(lnErr, net.ErrClosed) {
			return nil
		}
		return lnErr
	}

	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			l.attach(nil, err)
			return
		}
		// One peer per link, like socat
		ln.Close()
		conn = c
		clog().Info().Str("path", path).Msg("Backend connected")
		l.attach(io.ReadWriteCloser(c), nil)
	}()

	return l, nil
}
