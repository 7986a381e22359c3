//go:build linux

package host

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"printlink/internal/printer"
)

func TestParseRFCOMM(t *testing.T) {
	out := []byte("rfcomm0: 00:07:4D:12:34:56 channel 1 clean \n" +
		"rfcomm1: ac:3f:a4:00:11:22 channel 2 connected [tty-attached]\n" +
		"garbage\n")

	devices := parseRFCOMM(out)
	require.Len(t, devices, 2)
	assert.Equal(t, "/dev/rfcomm0", devices[0].Address)
	assert.Equal(t, "rfcomm1 (AC:3F:A4:00:11:22)", devices[1].FriendlyName)
	assert.Equal(t, printer.BondBonded, devices[1].Bond)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "Failed to pair: org.bluez.Error.AuthenticationFailed",
		lastLine([]byte("Attempting to pair with 00:07:4D:12:34:56\nFailed to pair: org.bluez.Error.AuthenticationFailed\n")))
}

const testAddr = "00:07:4D:12:34:56"

// scripted returns a host whose bluetoothctl invocations run script, chosen by
// the first argument, and records every argument list on calls.
func scripted(script map[string]string, pairTimeout time.Duration) (*Bluetoothctl, chan []string) {
	calls := make(chan []string, 8)
	b := &Bluetoothctl{opts: Options{Command: "sh", PairTimeout: pairTimeout}, log: zap.NewNop()}
	b.command = func(ctx context.Context, _ string, args ...string) *exec.Cmd {
		calls <- args
		key := ""
		if len(args) > 0 {
			key = args[0]
		}
		cmd, ok := script[key]
		if !ok {
			cmd = "true"
		}
		return exec.CommandContext(ctx, "sh", "-c", "exec "+cmd)
	}
	return b, calls
}

func TestPairReturnsWhilePairingRuns(t *testing.T) {
	b, calls := scripted(map[string]string{"pair": "sleep 5", "trust": "true"}, 300*time.Millisecond)

	start := time.Now()
	require.NoError(t, b.Pair(context.Background(), testAddr))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"pair", testAddr}, <-calls)

	select {
	case c := <-calls:
		t.Fatalf("unexpected %v after pairing timed out", c)
	case <-time.After(time.Second):
	}
}

func TestPairTrustsAfterPairing(t *testing.T) {
	b, calls := scripted(map[string]string{"pair": "echo Pairing successful", "trust": "echo trust succeeded"}, 5*time.Second)

	require.NoError(t, b.Pair(context.Background(), testAddr))
	assert.Equal(t, []string{"pair", testAddr}, <-calls)
	select {
	case c := <-calls:
		assert.Equal(t, []string{"trust", testAddr}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("device not trusted after pairing")
	}
}

func TestPairFailureSkipsTrust(t *testing.T) {
	b, calls := scripted(map[string]string{"pair": "echo Failed to pair: org.bluez.Error.AuthenticationFailed"}, 5*time.Second)

	require.NoError(t, b.Pair(context.Background(), testAddr))
	assert.Equal(t, []string{"pair", testAddr}, <-calls)
	select {
	case c := <-calls:
		t.Fatalf("unexpected %v after failed pairing", c)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestMonitorReportsDroppedLinks(t *testing.T) {
	b, _ := scripted(map[string]string{"": "printf '[CHG] Device 00:07:4d:12:34:56 Connected: no\\n'"}, time.Second)

	var lost []string
	err := b.Monitor(context.Background(), func(a string) { lost = append(lost, a) })
	require.Error(t, err)
	assert.Equal(t, []string{testAddr}, lost)
}

func TestMonitorStopsWithContext(t *testing.T) {
	b, _ := scripted(map[string]string{"": "sleep 5"}, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := b.Monitor(ctx, func(string) {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
