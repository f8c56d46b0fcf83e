package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/dispatch"
	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/driver/sim"
	"github.com/bft-labs/devchannel/pkg/notify"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Notify(ev notify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) Count(s notify.State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.State == s {
			n++
		}
	}
	return n
}

func enable(c *channel.Channel) {
	c.SetSinkConnected(true)
	c.SetEnabled(true)
}

func TestDevice_NewChannel(t *testing.T) {
	d := New("dev-1")

	c, err := d.NewChannel(Spec{ID: "cam", Kind: channel.KindVideoSource})
	require.NoError(t, err)
	assert.Equal(t, "cam", c.ID())
	assert.Equal(t, channel.KindVideoSource, c.Kind())
	assert.Same(t, d, c.Owner())

	_, err = d.NewChannel(Spec{ID: "cam", Kind: channel.KindAudioSource})
	assert.ErrorIs(t, err, ErrDuplicateChannel)

	anon, err := d.NewChannel(Spec{Kind: channel.KindTelemetry})
	require.NoError(t, err)
	assert.NotEmpty(t, anon.ID())

	got, ok := d.Channel("cam")
	assert.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, []*channel.Channel{c, anon}, d.Channels())

	_, ok = d.Channel("missing")
	assert.False(t, ok)
}

func TestDevice_ConnectivityFansOut(t *testing.T) {
	pool := dispatch.NewPool(dispatch.DefaultPoolConfig(), nil)
	defer pool.Close(time.Second)

	d := New("dev", WithDispatcher(pool))
	var chans []*channel.Channel
	for _, id := range []string{"a", "b", "c"} {
		c, err := d.NewChannel(Spec{ID: id, Kind: channel.KindAudioSource, Driver: sim.Factory(sim.Config{})})
		require.NoError(t, err)
		enable(c)
		chans = append(chans, c)
	}

	d.SetConnected(true)
	for _, c := range chans {
		assert.Eventually(t, c.IsStarted, waitFor, tick, c.ID())
	}

	// Channels created while connected inherit connectivity.
	late, err := d.NewChannel(Spec{ID: "late", Kind: channel.KindAudioSource})
	require.NoError(t, err)
	assert.True(t, late.Flags().Has(channel.FlagDeviceConnected))

	d.SetConnected(false)
	for _, c := range chans {
		assert.Eventually(t, func() bool { return c.Phase() == channel.PhaseIdle }, waitFor, tick, c.ID())
	}
	assert.False(t, d.Connected())
}

func TestDevice_ApplyAll(t *testing.T) {
	d := New("dev")
	ok, err := d.NewChannel(Spec{ID: "ok", Kind: channel.KindVideoSource, Driver: sim.Factory(sim.Config{Source: "ok", Latency: time.Millisecond})})
	require.NoError(t, err)
	_, err = d.NewChannel(Spec{ID: "bad", Kind: channel.KindVideoSource, Driver: sim.Factory(sim.Config{Source: "bad", ApplyCode: driver.CodeNetwork})})
	require.NoError(t, err)
	_, err = d.NewChannel(Spec{ID: "plain", Kind: channel.KindIOPanel})
	require.NoError(t, err)

	s, err := d.ApplyAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Wrapped)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, map[driver.Source]driver.Code{"bad": driver.CodeNetwork}, s.Failed)
	assert.Equal(t, 0, ok.ApplyCount())

	s, err = d.ApplyAll(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, s.OK())
	assert.Equal(t, 1, s.Wrapped)

	_, err = d.ApplyAll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestDevice_ApplyAllRejected(t *testing.T) {
	d := New("dev")
	_, err := d.NewChannel(Spec{ID: "x", Kind: channel.KindVideoSource, Driver: sim.Factory(sim.Config{ApplyErr: errors.New("busy")})})
	require.NoError(t, err)

	s, err := d.ApplyAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel x")
	assert.Equal(t, 1, s.Completed, "rejected apply still balances the bulk operation")
}

func TestDevice_ApplyAllContext(t *testing.T) {
	d := New("dev")
	_, err := d.NewChannel(Spec{ID: "slow", Kind: channel.KindVideoSource, Driver: sim.Factory(sim.Config{Latency: 200 * time.Millisecond})})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s, err := d.ApplyAll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.Wrapped)
	assert.Zero(t, s.Completed, "returned before the slow completion")
}

func TestDevice_RemoveChannel(t *testing.T) {
	events := &eventLog{}
	d := New("dev", WithNotifier(events))
	d.SetConnected(true)
	c, err := d.NewChannel(Spec{ID: "cam", Kind: channel.KindVideoSource, Driver: sim.Factory(sim.Config{})})
	require.NoError(t, err)
	enable(c)
	require.Eventually(t, c.IsStarted, waitFor, tick)

	require.NoError(t, d.RemoveChannel("cam"))
	assert.False(t, c.IsStarted())
	assert.Eventually(t, func() bool {
		select {
		case <-c.Done():
			return true
		default:
			return false
		}
	}, waitFor, tick)
	assert.Equal(t, 1, events.Count(notify.StateStopped))

	_, ok := d.Channel("cam")
	assert.False(t, ok)
	assert.ErrorIs(t, d.RemoveChannel("cam"), ErrUnknownChannel)
}

func TestDevice_Close(t *testing.T) {
	d := New("dev")
	d.SetConnected(true)
	var chans []*channel.Channel
	for _, id := range []string{"a", "b"} {
		c, err := d.NewChannel(Spec{ID: id, Kind: channel.KindAudioDestination, Driver: sim.Factory(sim.Config{Latency: 5 * time.Millisecond})})
		require.NoError(t, err)
		enable(c)
		chans = append(chans, c)
	}
	for _, c := range chans {
		require.Eventually(t, c.IsStarted, waitFor, tick)
	}

	require.NoError(t, d.Close(time.Second))
	for _, c := range chans {
		assert.False(t, c.IsStarted(), c.ID())
		assert.Nil(t, c.Owner(), c.ID())
	}
	assert.Empty(t, d.Channels())

	_, err := d.NewChannel(Spec{ID: "again"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close(time.Second), "second close is a no-op")
}

func TestDevice_CloseTimeout(t *testing.T) {
	d := New("dev")
	d.SetConnected(true)
	c, err := d.NewChannel(Spec{ID: "stuck", Kind: channel.KindVideoSource, Driver: sim.Factory(sim.Config{SilentStop: true})})
	require.NoError(t, err)
	enable(c)
	require.Eventually(t, c.IsStarted, waitFor, tick)

	assert.ErrorIs(t, d.Close(30*time.Millisecond), ErrCloseTimeout)

	h := c.Hooks().(*channel.DriverHooks)
	h.Driver.(*sim.Driver).ConfirmStop()
	assert.Eventually(t, func() bool { return c.Owner() == nil }, waitFor, tick)
}
