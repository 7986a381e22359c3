package printer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printlink/internal/transport"
)

func TestDiscoveryDedupesByAddress(t *testing.T) {
	scanner := &fakeScanner{devices: []Device{
		{Address: addrA, FriendlyName: "ZD420"},
		{Address: addrB},
		{Address: "aa:bb:cc:dd:ee:01", FriendlyName: "ZD420 (again)"},
		{Address: ""},
	}}
	h := newHarness(t, map[transport.Kind]Scanner{transport.KindBluetooth: scanner})

	s, err := h.svc.StartDiscovery(transport.KindBluetooth)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	devices, err := s.Wait(ctx)
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, "ZD420", devices[0].FriendlyName)
	assert.Equal(t, addrB, devices[1].FriendlyName, "name falls back to the address")
	assert.Equal(t, transport.KindBluetooth, devices[1].Kind)

	events := h.svc.Events()
	assert.Equal(t, addrA, nextEvent(t, events, EventDeviceFound).Device.Address)
	assert.Equal(t, addrB, nextEvent(t, events, EventDeviceFound).Device.Address)
	finished := nextEvent(t, events, EventDiscoveryFinished)
	assert.Equal(t, devices, finished.Devices)
}

func TestDiscoveryAnnotatesConnection(t *testing.T) {
	scanner := &fakeScanner{devices: []Device{{Address: addrA}, {Address: addrB}}}
	h := newHarness(t, map[transport.Kind]Scanner{transport.KindBluetooth: scanner})
	require.NoError(t, h.svc.Connect(context.Background(), addrA))

	s, err := h.svc.StartDiscovery(transport.KindBluetooth)
	require.NoError(t, err)
	devices, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.True(t, devices[0].Connected)
	assert.False(t, devices[1].Connected)
}

func TestDiscoveryStartedTwice(t *testing.T) {
	scanner := &fakeScanner{hold: true}
	h := newHarness(t, map[transport.Kind]Scanner{
		transport.KindBluetooth: scanner,
		transport.KindNetwork:   &fakeScanner{},
	})

	first, err := h.svc.StartDiscovery(transport.KindBluetooth)
	require.NoError(t, err)

	_, err = h.svc.StartDiscovery(transport.KindNetwork)
	require.ErrorIs(t, err, ErrAlreadyDiscovering)
	require.ErrorIs(t, err, ErrAlreadyBusy)

	assert.True(t, h.svc.StopDiscovery())
	<-first.Done()

	second, err := h.svc.StartDiscovery(transport.KindNetwork)
	require.NoError(t, err)
	_, err = second.Wait(context.Background())
	require.NoError(t, err)
}

func TestDiscoveryStopSendsNoFinishedEvent(t *testing.T) {
	scanner := &fakeScanner{devices: []Device{{Address: addrA}}, hold: true}
	h := newHarness(t, map[transport.Kind]Scanner{transport.KindBluetooth: scanner})

	s, err := h.svc.StartDiscovery(transport.KindBluetooth)
	require.NoError(t, err)
	nextEvent(t, h.svc.Events(), EventDeviceFound)

	assert.True(t, h.svc.StopDiscovery())
	assert.False(t, h.svc.StopDiscovery())
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stopped session did not end")
	}
	assert.NoError(t, s.Err())
	assert.Len(t, s.Devices(), 1)

	for _, e := range drain(h.svc.Events(), 100*time.Millisecond) {
		assert.NotEqual(t, EventDiscoveryFinished, e.Type)
		assert.NotEqual(t, EventDiscoveryError, e.Type)
	}
}

func TestDiscoveryFailure(t *testing.T) {
	cause := errors.New("adapter powered off")
	h := newHarness(t, map[transport.Kind]Scanner{transport.KindBluetooth: &fakeScanner{err: cause}})

	s, err := h.svc.StartDiscovery(transport.KindBluetooth)
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.ErrorIs(t, err, ErrDiscoveryFailed)
	require.ErrorIs(t, err, cause)

	e := nextEvent(t, h.svc.Events(), EventDiscoveryError)
	assert.ErrorIs(t, e.Err, cause)
	assert.False(t, h.svc.discovery.Active())
}

func TestDiscoveryUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.StartDiscovery(transport.KindBluetooth)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, h.svc.discovery.Active())
}

func TestSessionWaitHonorsContext(t *testing.T) {
	h := newHarness(t, map[transport.Kind]Scanner{transport.KindBluetooth: &fakeScanner{hold: true}})
	s, err := h.svc.StartDiscovery(transport.KindBluetooth)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, h.svc.discovery.Active())
}

func TestDiscoveryUnsupportedHost(t *testing.T) {
	cause := fmt.Errorf("scan: %w", errors.ErrUnsupported)
	h := newHarness(t, map[transport.Kind]Scanner{transport.KindBluetooth: &fakeScanner{err: cause}})

	s, err := h.svc.StartDiscovery(transport.KindBluetooth)
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	require.NotErrorIs(t, err, ErrDiscoveryFailed)

	e := nextEvent(t, h.svc.Events(), EventDiscoveryError)
	assert.ErrorIs(t, e.Err, ErrUnavailable)
}
