package dispatch_test

import (
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gregoryjjb/vgpio/channel"
	"gregoryjjb/vgpio/dispatch"
	"gregoryjjb/vgpio/gpio"
	"gregoryjjb/vgpio/regmap"
	"gregoryjjb/vgpio/signals"
)

// fakeTransport answers from a simulated register block and counts
// everything it is asked to do.
type fakeTransport struct {
	sim *gpio.Sim

	mu      sync.Mutex
	sent    []string
	reloads int
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sim: gpio.NewSim()}
}

func (f *fakeTransport) Send(command string) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, command)
	f.mu.Unlock()
	return f.sim.Send(command)
}

func (f *fakeTransport) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func newDispatcher(t *testing.T) (*dispatch.Dispatcher, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	d := dispatch.New(ft, signals.Builtin(), dispatch.DefaultOptions())
	t.Cleanup(func() { d.Close() })
	return d, ft
}

func TestSetGetRoundTrip(t *testing.T) {
	d, ft := newDispatcher(t)

	assert.Equal(t, "OK", d.Parse("set 17 1"))
	assert.Equal(t, "true", d.Parse("get 17"))
	assert.Equal(t, "OK", d.Parse("set 17 0"))
	assert.Equal(t, "false", d.Parse("get 17"))

	assert.Equal(t, []string{
		"writel 0x3f20001c 0x20000",
		"readl 0x3f200034",
		"writel 0x3f200028 0x20000",
		"readl 0x3f200034",
	}, ft.commands())
}

func TestNumericLiterals(t *testing.T) {
	d, _ := newDispatcher(t)

	assert.Equal(t, "OK", d.Parse("set 0x11 0x1"))
	assert.Equal(t, "true", d.Parse("get 0o21"))
	assert.Equal(t, "true", d.Parse("get 17"))
}

func TestGetFromBackendValue(t *testing.T) {
	d, ft := newDispatcher(t)
	_, err := ft.sim.Send("writel 0x3f200034 0x00020000")
	require.NoError(t, err)

	assert.Equal(t, "true", d.Parse("get 17"))
	assert.Equal(t, "false", d.Parse("get 16"))
}

func TestToggle(t *testing.T) {
	d, _ := newDispatcher(t)

	require.Equal(t, "false", d.Parse("get 27"))
	assert.Equal(t, "OK", d.Parse("toggle 27"))
	assert.Equal(t, "true", d.Parse("get 27"))
	assert.Equal(t, "OK", d.Parse("toggle 27"))
	assert.Equal(t, "false", d.Parse("get 27"))
}

func TestValidationIssuesNoCommands(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"set 5", "set requires"},
		{"set", "set requires"},
		{"set 5 1 1", "set requires"},
		{"set 5 x", "not a number"},
		{"set foo 1", "neither a signal nor a pin"},
		{"set 55 1", "pin out of range"},
		{"get", "usage: get <pin>"},
		{"get 1 2", "usage: get <pin>"},
		{"get abc", "not a number"},
		{"get 99", "pin out of range"},
		{"get -1", "pin out of range"},
		{"toggle", "usage: toggle <pin>"},
		{"readl", "usage: readl <address>"},
		{"readl zz", "not a 32 bit number"},
		{"writel 0x10", "usage: writel <address> <value>"},
		{"writel 0x10 0x100000000", "not a 32 bit number"},
		{"set signal1 fast", "delay must be a number"},
		{"set signal1 0", "delay must be a positive"},
		{"set signal1 -2", "delay must be a positive"},
		{"set signal1 1 2", "at most a delay"},
		{"stop now", "takes no arguments"},
		{"signals all", "takes no arguments"},
		{"status now", "takes no arguments"},
		{"get 010", "not a number"},
		{"get 0b101", "not a number"},
		{"get 1_7", "not a number"},
		{"set 17 0b1", "not a number"},
		{"readl 0x3f20_0034", "not a 32 bit number"},
		{"writel 0x10 -1", "not a 32 bit number"},
		{"history 0", "positive integer"},
		{"frobnicate", "unknown command"},
		{`get "17`, "invalid command"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			d, ft := newDispatcher(t)

			out := d.Parse(tt.line)
			assert.True(t, strings.HasPrefix(out, "Error: "), out)
			assert.Contains(t, out, tt.want)
			assert.Empty(t, ft.commands())
			assert.False(t, d.Engine().Status().Active)
		})
	}
}

func TestExecuteErrorKinds(t *testing.T) {
	d, _ := newDispatcher(t)

	_, err := d.Execute("get 70")
	assert.ErrorIs(t, err, regmap.ErrPinRange)

	_, err = d.Execute("set 5")
	assert.ErrorIs(t, err, dispatch.ErrValidation)

	_, err = d.Execute("nope")
	assert.ErrorIs(t, err, dispatch.ErrUnknownCommand)

	out, err := d.Execute("   ")
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestRawAccess(t *testing.T) {
	d, ft := newDispatcher(t)

	// Raw verbs are not limited to the pin registers
	assert.Equal(t, "OK", d.Parse("writel 0x10000000 42"))
	assert.Equal(t, "OK 0x0000002a", d.Parse("readl 0x10000000"))

	out := d.Parse("read-ic")
	assert.True(t, strings.HasPrefix(out, "OK 0x"))
	assert.Len(t, out, len("OK 0x")+2*0x200)

	out = d.Parse("read-area")
	assert.Len(t, out, len("OK 0x")+2*0x1000)

	cmds := ft.commands()
	assert.Equal(t, "read 0x3f00b200 0x200", cmds[2])
	assert.Equal(t, "read 0x3f200000 0x1000", cmds[3])
}

func TestPlaySignal(t *testing.T) {
	d, ft := newDispatcher(t)

	out := d.Parse("set signal2 0.001")
	assert.Contains(t, out, "Looping 'signal2'")
	assert.Contains(t, d.Parse("status"), "playing 'signal2'")

	require.Eventually(t, func() bool { return len(ft.commands()) >= 5 }, time.Second, time.Millisecond)

	assert.Equal(t, "", d.Parse("stop"))
	assert.Equal(t, "idle", d.Parse("status"))

	n := len(ft.commands())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(ft.commands()))

	for _, cmd := range ft.commands() {
		// pin 4 lives in bank 0 with mask 0x10
		assert.Regexp(t, `^writel 0x3f200(01c|028) 0x10$`, cmd)
	}
}

func TestPlayUsesDefaultDelay(t *testing.T) {
	ft := newFakeTransport()
	d := dispatch.New(ft, signals.Builtin(), dispatch.Options{DefaultDelay: time.Hour, HistorySize: 8})
	defer d.Close()

	assert.Contains(t, d.Parse("set signal1"), "every 1h0m0s")
	assert.Equal(t, time.Hour, d.Engine().Status().Delay)
}

func TestSignalReplacement(t *testing.T) {
	d, ft := newDispatcher(t)

	d.Parse("set signal1 0.001")
	require.Eventually(t, func() bool { return len(ft.commands()) > 0 }, time.Second, time.Millisecond)
	d.Parse("set signal2 0.001")
	require.Eventually(t, func() bool {
		for _, c := range ft.commands() {
			if strings.HasSuffix(c, " 0x10") {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	d.Parse("stop")

	second := false
	for _, c := range ft.commands() {
		if strings.HasSuffix(c, " 0x10") {
			second = true
		} else if second {
			t.Fatalf("signal1 wrote %q after signal2 started", c)
		}
	}
}

func TestStopWithoutSession(t *testing.T) {
	d, ft := newDispatcher(t)

	assert.Equal(t, "", d.Parse("stop"))
	assert.Empty(t, ft.commands())
}

func TestSignalsAndHelp(t *testing.T) {
	d, _ := newDispatcher(t)

	assert.Equal(t, "signal1\nsignal2", d.Parse("signals"))
	assert.Equal(t, dispatch.Help(), d.Parse("help"))
	assert.Contains(t, d.Parse("help"), "read-ic")
}

func TestHistory(t *testing.T) {
	d, _ := newDispatcher(t)

	d.Parse("set 3 1")
	d.Parse("get 3")
	d.Parse("readl 0x0")

	out := d.Parse("history 2")
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "readl 0x3f200034 -> OK 0x00000008")
	assert.Contains(t, lines[1], "readl 0x0 -> OK 0x00000000")

	assert.Len(t, d.History(0), 3)
}

func TestReload(t *testing.T) {
	d, ft := newDispatcher(t)

	assert.Equal(t, "Channel reloaded", d.Parse("reload"))
	assert.Equal(t, 1, ft.reloads)
}

func TestExit(t *testing.T) {
	d, ft := newDispatcher(t)

	d.Parse("set signal1 0.001")
	require.Eventually(t, func() bool { return len(ft.commands()) > 0 }, time.Second, time.Millisecond)

	out, err := d.Execute("exit")
	assert.ErrorIs(t, err, dispatch.ErrExit)
	assert.Empty(t, out)
	assert.True(t, ft.closed)
	assert.False(t, d.Engine().Status().Active)

	n := len(ft.commands())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, len(ft.commands()))
}

// TestOverChannel drives the dispatcher through a real unix socket
// against a simulated backend that echoes every command.
func TestExecuteRemoteRefusesExit(t *testing.T) {
	d, ft := newDispatcher(t)

	for _, line := range []string{"exit", "'exit'", `"exit"`, `ex\it`, "  exit  "} {
		_, err := d.ExecuteRemote(line)
		assert.ErrorIs(t, err, dispatch.ErrValidation, line)
		assert.NotErrorIs(t, err, dispatch.ErrExit, line)
	}
	assert.False(t, ft.closed)

	out, err := d.ExecuteRemote("set 17 1")
	require.NoError(t, err)
	assert.Equal(t, "OK", out)
	assert.Equal(t, "true", d.Parse("get 17"))
}

func TestOverChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio.sock")
	config := channel.DefaultConfig()
	config.Path = path

	ch, err := channel.New(config)
	require.NoError(t, err)

	sim := gpio.NewSim()
	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.Dial("unix", path)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	go sim.Serve(conn, true)
	defer conn.Close()

	d := dispatch.New(ch, signals.Builtin(), dispatch.DefaultOptions())
	defer d.Close()

	assert.Equal(t, "OK", d.Parse("set 17 1"))
	assert.Equal(t, "true", d.Parse("get 17"))
	assert.Equal(t, "OK 0x00020000", d.Parse("readl 0x3f200034"))
	assert.Equal(t, "OK", d.Parse("toggle 17"))
	assert.Equal(t, "false", d.Parse("get 17"))

	_, err = d.Execute("exit")
	assert.ErrorIs(t, err, dispatch.ErrExit)
	assert.Contains(t, d.Parse("get 17"), "channel closed")
}
