package main_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vgpio "gregoryjjb/vgpio"
	"gregoryjjb/vgpio/dispatch"
)

func TestRunConsole(t *testing.T) {
	config := newTestConfig(t, vgpio.Flags{}, nil, `transport = "sim"`)
	d, err := vgpio.NewDispatcher(config)
	require.NoError(t, err)
	defer d.Close()

	in := strings.NewReader(strings.Join([]string{
		"set 17 1",
		"get 17",
		"set 5",
		"",
		"bogus",
		"get 17",
		"exit",
		"get 17",
	}, "\n"))
	var out bytes.Buffer

	err = vgpio.RunConsole(in, &out, d)
	assert.ErrorIs(t, err, dispatch.ErrExit)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, dispatch.Help()))
	assert.Contains(t, text, "(gpio)> OK\n")
	assert.Equal(t, 2, strings.Count(text, "(gpio)> true\n"))
	assert.Contains(t, text, "(gpio)> Error: invalid command: set requires")
	assert.Contains(t, text, `(gpio)> Error: unknown command "bogus"`)

	// Nothing after exit is read
	assert.Equal(t, 7, strings.Count(text, "(gpio)> "))
}

func TestRunConsoleEndOfInput(t *testing.T) {
	config := newTestConfig(t, vgpio.Flags{}, nil, `transport = "sim"`)
	d, err := vgpio.NewDispatcher(config)
	require.NoError(t, err)
	defer d.Close()

	var out bytes.Buffer
	assert.NoError(t, vgpio.RunConsole(strings.NewReader("get 3\n"), &out, d))
	assert.Contains(t, out.String(), "false")
}

func TestRunConsoleSurvivesLongLine(t *testing.T) {
	config := newTestConfig(t, vgpio.Flags{}, nil, `transport = "sim"`)
	d, err := vgpio.NewDispatcher(config)
	require.NoError(t, err)
	defer d.Close()

	in := strings.NewReader(strings.Repeat("x", 70000) + "\nset 17 1\nget 17\n")
	var out bytes.Buffer

	assert.NoError(t, vgpio.RunConsole(in, &out, d))

	text := out.String()
	assert.Contains(t, text, "(gpio)> Error: invalid command: line longer than")
	assert.Contains(t, text, "(gpio)> true\n")
	assert.NotContains(t, text, "xxxx")
}

func TestServeWithoutConsole(t *testing.T) {
	config := newTestConfig(t, vgpio.Flags{}, nil, `transport = "sim"`)
	d, err := vgpio.NewDispatcher(config)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		done <- vgpio.Serve(ctx, strings.NewReader(""), &out, d, false)
	}()

	// End of input does not stop it
	select {
	case <-done:
		t.Fatal("returned before cancellation")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, "OK", d.Parse("set 4 1"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("did not return after cancellation")
	}
	assert.Empty(t, out.String())
}

func TestSystemdServiceFile(t *testing.T) {
	var out bytes.Buffer
	err := vgpio.SystemdServiceFile(&out, vgpio.Flags{ConfigPath: "/etc/vgpio.toml", HTTPListen: ":8080"})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, " -no-console -config /etc/vgpio.toml -http :8080\n")
	assert.Contains(t, text, "StandardInput=null")
}
