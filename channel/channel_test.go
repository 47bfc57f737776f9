package channel_test

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gregoryjjb/vgpio/channel"
)

// fakePeer dials the channel and answers every line with an optional
// echo followed by "OK <line>".
func fakePeer(t *testing.T, path string, echo bool) net.Conn {
	t.Helper()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", path)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 10*time.Millisecond)

	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			if echo {
				fmt.Fprintf(conn, "%s\n", line)
			}
			fmt.Fprintf(conn, "OK %s\n", strings.ToUpper(line))
		}
	}()

	t.Cleanup(func() { conn.Close() })
	return conn
}

func newChannel(t *testing.T, echoLines int) (*channel.Channel, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gpio.sock")
	config := channel.DefaultConfig()
	config.Path = path
	config.EchoLines = echoLines

	c, err := channel.New(config)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c, path
}

func TestSendDiscardsEcho(t *testing.T) {
	c, path := newChannel(t, 1)
	fakePeer(t, path, true)

	reply, err := c.Send("readl 0x3f200034")
	require.NoError(t, err)
	assert.Equal(t, "OK READL 0X3F200034", reply)

	reply, err = c.Send("writel 0x3f20001c 0x20000")
	require.NoError(t, err)
	assert.Equal(t, "OK WRITEL 0X3F20001C 0X20000", reply)
}

func TestSendWithoutEcho(t *testing.T) {
	c, path := newChannel(t, 0)
	fakePeer(t, path, false)

	reply, err := c.Send("readl 0x0")
	require.NoError(t, err)
	assert.Equal(t, "OK READL 0X0", reply)
}

func TestNewRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio.sock")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0600))

	config := channel.DefaultConfig()
	config.Path = path
	c, err := channel.New(config)
	require.NoError(t, err)
	defer c.Close()

	fakePeer(t, path, true)
	_, err = c.Send("readl 0x0")
	assert.NoError(t, err)
}

func TestReload(t *testing.T) {
	c, path := newChannel(t, 1)
	first := fakePeer(t, path, true)

	_, err := c.Send("readl 0x0")
	require.NoError(t, err)

	require.NoError(t, c.Reload())

	// The old peer sees its connection dropped
	first.SetReadDeadline(time.Now().Add(time.Second))
	_, err = first.Read(make([]byte, 1))
	assert.Error(t, err)

	fakePeer(t, path, true)
	reply, err := c.Send("readl 0x4")
	require.NoError(t, err)
	assert.Equal(t, "OK READL 0X4", reply)
}

func TestReloadUnblocksPendingSend(t *testing.T) {
	c, _ := newChannel(t, 1)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Send("readl 0x0")
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Reload())

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("send still blocked after reload")
	}
}

func TestClose(t *testing.T) {
	c, path := newChannel(t, 1)
	fakePeer(t, path, true)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Send("readl 0x0")
	assert.ErrorIs(t, err, channel.ErrClosed)
	assert.ErrorIs(t, c.Reload(), channel.ErrClosed)
}

func TestNewRejectsNegativeEcho(t *testing.T) {
	config := channel.DefaultConfig()
	config.Path = filepath.Join(t.TempDir(), "gpio.sock")
	config.EchoLines = -1

	_, err := channel.New(config)
	assert.Error(t, err)
}
