package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdlsctl/internal/model"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()

	cfg := testConfig()
	cfg.FastConnectPeriod = cfg.SlowConnectPeriod
	_, err := New(cfg, drv, zerolog.Nop())
	require.Error(t, err, "fast period >= slow period must fail")

	cfg = testConfig()
	cfg.MaxConnectedPeers = 0
	_, err = New(cfg, drv, zerolog.Nop())
	require.Error(t, err)

	_, err = New(testConfig(), nil, zerolog.Nop())
	require.Error(t, err, "nil driver must fail")
}

func TestStart_Idempotent(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	a := mac(1)

	require.NoError(t, e.Start(a))
	setPeer(t, e, a, func(p *peer) { p.fastAttempts = 5 })

	require.NoError(t, e.Start(a))

	tracked, connected := e.Stats()
	assert.Equal(t, 1, tracked)
	assert.Equal(t, 0, connected)
	assert.Equal(t, 5, getPeer(t, e, a).fastAttempts,
		"second Start must not reset counters")
	// One stale-state clear plus one registration; nothing more.
	assert.Equal(t,
		[]monitorCall{{a, false}, {a, true}}, drv.monitorCalls)
}

func TestStart_ArmsConnectCycles(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)

	require.NoError(t, e.Start(mac(1)))
	assert.True(t, e.timers.Armed(cycleFastConnect))
	assert.True(t, e.timers.Armed(cycleSlowConnect))
}

func TestStart_MonitorRegistrationFailure(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	a := mac(1)
	drv.monitorErr[a] = errors.New("driver says no")

	err := e.Start(a)
	require.Error(t, err)

	tracked, _ := e.Stats()
	assert.Equal(t, 0, tracked, "no record on registration failure")
	// Pre-clear, failed enable, rollback.
	assert.Equal(t,
		[]monitorCall{{a, false}, {a, true}, {a, false}}, drv.monitorCalls)
	assert.False(t, e.timers.Armed(cycleFastConnect))
}

func TestStop_Untracked(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	require.ErrorIs(t, e.Stop(mac(9)), ErrPeerNotFound)
}

func TestStop_CancelsConnectCyclesOnLastPeer(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	a, b := mac(1), mac(2)
	require.NoError(t, e.Start(a))
	require.NoError(t, e.Start(b))

	require.NoError(t, e.Stop(a))
	assert.True(t, e.timers.Armed(cycleSlowConnect))

	require.NoError(t, e.Stop(b))
	assert.False(t, e.timers.Armed(cycleFastConnect))
	assert.False(t, e.timers.Armed(cycleSlowConnect))
}

func TestPeerConnected_Unsolicited(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	b := mac(2)

	e.PeerConnected(b)

	tracked, connected := e.Stats()
	assert.Equal(t, 1, tracked)
	assert.Equal(t, 1, connected)
	p := getPeer(t, e, b)
	assert.True(t, p.incoming)
	assert.True(t, p.connected)
	assert.True(t, e.timers.Armed(cycleDataTeardown))
	assert.True(t, e.timers.Armed(cycleRSSITeardown),
		"first connected peer arms the RSSI teardown cycle")
	assert.Equal(t, []monitorCall{{b, false}, {b, true}}, drv.monitorCalls)
}

func TestPeerConnected_EstablishesRateBaseline(t *testing.T) {
	t.Parallel()

	e, drv, now := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))

	drv.txBytes[a] = 5000
	drv.rxBytes[a] = 7000
	*now = now.Add(time.Second)
	e.PeerConnected(a)

	p := getPeer(t, e, a)
	assert.Equal(t, uint32(5000), p.lastTxBytes)
	assert.Equal(t, uint32(7000), p.lastRxBytes)
	assert.Equal(t, *now, p.lastSampleTime)
}

func TestIncomingPeer_DiscardedOnDisconnect(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	b := mac(2)

	e.PeerConnected(b)
	require.Equal(t, 1, drv.disableCalls(b), "insert pre-clear")

	e.PeerDisconnected(b)

	tracked, connected := e.Stats()
	assert.Equal(t, 0, tracked, "incoming peer must be discarded")
	assert.Equal(t, 0, connected)
	assert.Equal(t, 2, drv.disableCalls(b),
		"removal must unregister traffic monitoring exactly once")
	assert.Empty(t, drv.disconnects,
		"remote closed the link; nothing to tear down")
}

func TestOutgoingPeer_FastReconnectOnDisconnect(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))
	e.PeerConnected(a)
	setPeer(t, e, a, func(p *peer) {
		p.fastAttempts = 7
		p.lowRSSIStreak = 2
	})
	e.timers.Cancel(cycleFastConnect)

	e.PeerDisconnected(a)

	tracked, connected := e.Stats()
	assert.Equal(t, 1, tracked, "outgoing peer stays tracked")
	assert.Equal(t, 0, connected)
	p := getPeer(t, e, a)
	assert.Equal(t, 0, p.fastAttempts)
	assert.Equal(t, 0, p.lowRSSIStreak)
	assert.True(t, e.timers.Armed(cycleFastConnect),
		"disconnect must re-arm the fast connect cycle")
}

func TestPeerDisconnected_Untracked(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	e.PeerDisconnected(mac(9)) // must not panic or underflow

	_, connected := e.Stats()
	assert.Equal(t, 0, connected)
}

func TestStop_ReentrantDisconnect(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))
	e.PeerConnected(a)

	// The driver delivers the disconnected notification synchronously from
	// inside Disconnect, as real drivers may.
	drv.onDisconnect = func(addr model.MAC) { e.PeerDisconnected(addr) }

	require.NoError(t, e.Stop(a))

	tracked, connected := e.Stats()
	assert.Equal(t, 0, tracked, "record removed exactly once")
	assert.Equal(t, 0, connected, "connected count decremented exactly once")
	assert.Equal(t, []model.MAC{a}, drv.disconnects)
	assert.Equal(t, 2, drv.disableCalls(a),
		"insert pre-clear plus exactly one removal unregister")
}

func TestStop_ConnectedWithoutCallback(t *testing.T) {
	t.Parallel()

	// A driver that never delivers the disconnected notification must not
	// leave the connected count dangling.
	e, drv, _ := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))
	e.PeerConnected(a)

	require.NoError(t, e.Stop(a))

	tracked, connected := e.Stats()
	assert.Equal(t, 0, tracked)
	assert.Equal(t, 0, connected)
	assert.Equal(t, []model.MAC{a}, drv.disconnects)
}

func TestDiscoveryResponse_ConnectScenario(t *testing.T) {
	t.Parallel()

	e, drv, now := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))

	// Good RSSI but no observed traffic: the response must not force a
	// connection.
	e.DiscoveryResponse(a, -50)
	assert.Empty(t, drv.connects)

	// Traffic picks up; the next response connects.
	drv.txBytes[a] += 1000
	drv.rxBytes[a] += 1000
	*now = now.Add(200 * time.Millisecond)
	e.DiscoveryResponse(a, -50)
	assert.Equal(t, []model.MAC{a}, drv.connects)
}

func TestDiscoveryResponse_RSSIGate(t *testing.T) {
	t.Parallel()

	e, drv, now := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))
	setPeer(t, e, a, func(p *peer) { p.lastSampleTime = *now })
	drv.txBytes[a] = 100000
	*now = now.Add(time.Second)

	// At the threshold is not good enough; strictly above is.
	e.DiscoveryResponse(a, -60)
	assert.Empty(t, drv.connects)
	assert.Equal(t, -60, getPeer(t, e, a).rssi, "rssi recorded either way")

	e.DiscoveryResponse(a, -59)
	assert.Equal(t, []model.MAC{a}, drv.connects)
}

func TestDiscoveryResponse_MaxConnectedPeers(t *testing.T) {
	t.Parallel()

	e, drv, now := newTestEngine(t)
	a, b := mac(1), mac(2)
	require.NoError(t, e.Start(a))
	e.PeerConnected(b) // occupies the single allowed slot

	setPeer(t, e, a, func(p *peer) { p.lastSampleTime = *now })
	drv.txBytes[a] = 100000
	*now = now.Add(time.Second)
	e.DiscoveryResponse(a, -40)
	assert.Empty(t, drv.connects,
		"no new connections at the connected-peer ceiling")
}

func TestDiscoveryResponse_ConnectedPeerAnomaly(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))
	e.PeerConnected(a)

	e.DiscoveryResponse(a, -30)
	assert.Empty(t, drv.connects)
	assert.Equal(t, -30, getPeer(t, e, a).rssi)
}

func TestDiscoveryResponse_Untracked(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	e.DiscoveryResponse(mac(9), -30)
	assert.Empty(t, drv.connects)
}

func TestRemoveAll_AbandonLinks(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	a, b := mac(1), mac(2)
	require.NoError(t, e.Start(a))
	require.NoError(t, e.Start(b))
	e.PeerConnected(a)

	e.RemoveAll(false)

	tracked, connected := e.Stats()
	assert.Equal(t, 0, tracked)
	assert.Equal(t, 0, connected)
	assert.Empty(t, drv.disconnects, "links are abandoned, not torn down")
	assert.False(t, e.timers.Armed(cycleFastConnect))
	assert.False(t, e.timers.Armed(cycleSlowConnect))
}

func TestRemoveAll_KillActiveLinks(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))
	e.PeerConnected(a)
	drv.onDisconnect = func(addr model.MAC) { e.PeerDisconnected(addr) }

	e.RemoveAll(true)

	tracked, connected := e.Stats()
	assert.Equal(t, 0, tracked)
	assert.Equal(t, 0, connected)
	assert.Equal(t, []model.MAC{a}, drv.disconnects)
}

func TestClose(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEngine(t)
	a := mac(1)
	require.NoError(t, e.Start(a))
	e.PeerConnected(a)

	e.Close()
	e.Close() // idempotent

	tracked, connected := e.Stats()
	assert.Equal(t, 0, tracked)
	assert.Equal(t, 0, connected)
	assert.Empty(t, drv.disconnects, "Close abandons links")
	require.ErrorIs(t, e.Start(a), ErrClosed)
	require.ErrorIs(t, e.Stop(a), ErrClosed)
	for _, c := range []string{cycleFastConnect, cycleSlowConnect,
		cycleDataTeardown, cycleRSSITeardown} {
		assert.False(t, e.timers.Armed(c), c)
	}
}

func TestStats_MatchRecords(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Start(mac(1)))
	require.NoError(t, e.Start(mac(2)))
	e.PeerConnected(mac(2))
	e.PeerConnected(mac(3))

	tracked, connected := e.Stats()
	peers := e.Peers()
	assert.Equal(t, tracked, len(peers))
	n := 0
	for _, p := range peers {
		if p.Connected {
			n++
		}
	}
	assert.Equal(t, connected, n)
	assert.LessOrEqual(t, connected, tracked)
}

func TestSetRecorder(t *testing.T) {
	t.Parallel()

	e, drv, now := newTestEngine(t)
	a := mac(1)
	var samples []model.Sample
	e.SetRecorder(func(s model.Sample) { samples = append(samples, s) })

	require.NoError(t, e.Start(a))
	drv.txBytes[a] = 1000
	*now = now.Add(time.Second)
	e.PeerConnected(a)

	require.NotEmpty(t, samples)
	assert.Equal(t, model.SampleRate, samples[0].Kind)
	assert.Equal(t, a, samples[0].Peer)
	assert.True(t, samples[0].Connected)
}
