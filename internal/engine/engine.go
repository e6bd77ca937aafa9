// Package engine implements heuristics-based automatic management of direct
// peer-to-peer wireless links. It decides when to probe candidate peers,
// when to connect, and when to tear a link down, using RSSI and traffic
// thresholds.
//
// When a candidate peer is added, the engine sends it discovery requests and
// records the RSSI of the responses. If the RSSI and the observed traffic
// toward the peer are above their thresholds, a direct link is set up. While
// a peer is connected, its RSSI and traffic are monitored; if either falls
// below threshold, the link is torn down and the peer becomes a candidate
// again. Newly added and recently dropped peers are probed on a fast
// schedule; peers that never respond fall back to a slow schedule that
// captures RSSI and traffic changes over time.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tdlsctl/internal/model"
	"tdlsctl/internal/sched"
)

// maxFastConnAttempts is the number of fast-cycle connection attempts before
// the slow connect cycle takes over a peer.
const maxFastConnAttempts = 20

var (
	// ErrClosed is returned by entry points after Close.
	ErrClosed = errors.New("engine closed")

	// ErrPeerNotFound is returned by Stop for an untracked address.
	ErrPeerNotFound = errors.New("peer not tracked")
)

// Config is the engine tuning. Immutable for the life of the engine.
type Config struct {
	// RSSIConnectThreshold gates connecting on a discovery response; the
	// response RSSI must be strictly above it.
	RSSIConnectThreshold int

	// DataConnectThresholdBps is the minimum observed traffic before the
	// engine probes or connects a candidate peer.
	DataConnectThresholdBps uint64

	FastConnectPeriod time.Duration
	SlowConnectPeriod time.Duration

	// DataTeardownThresholdBps is the rate below which a connected peer is
	// torn down.
	DataTeardownThresholdBps uint64
	DataTeardownPeriod       time.Duration

	// RSSITeardownThreshold and RSSITeardownCount control the hysteresis: a
	// connected peer is torn down once more than RSSITeardownCount
	// consecutive polls fall below the threshold.
	RSSITeardownThreshold int
	RSSITeardownPeriod    time.Duration
	RSSITeardownCount     int

	MaxConnectedPeers int
}

func (c Config) validate() error {
	if c.FastConnectPeriod <= 0 || c.SlowConnectPeriod <= 0 {
		return fmt.Errorf("connect periods must be positive")
	}
	if c.FastConnectPeriod >= c.SlowConnectPeriod {
		return fmt.Errorf("fast connect period (%v) must be below slow connect period (%v)",
			c.FastConnectPeriod, c.SlowConnectPeriod)
	}
	if c.DataTeardownPeriod <= 0 || c.RSSITeardownPeriod <= 0 {
		return fmt.Errorf("teardown periods must be positive")
	}
	if c.RSSITeardownCount < 0 {
		return fmt.Errorf("rssi teardown count must not be negative")
	}
	if c.MaxConnectedPeers <= 0 {
		return fmt.Errorf("max connected peers must be positive")
	}
	return nil
}

// Engine is the auto-mode decision engine. All state is in-memory and
// rebuilt from live notifications; nothing is persisted.
//
// Methods are safe for concurrent use. The driver's Connect and Disconnect
// are invoked without the engine lock held, so they may notify the engine
// synchronously.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	driver   Driver
	log      zerolog.Logger
	timers   *sched.Timers
	reg      *registry
	recorder func(model.Sample)
	now      func() time.Time
	closed   bool
}

// New builds an engine over the supplied driver. It fails if the timing
// relationship between the connect cycles is invalid.
func New(cfg Config, drv Driver, log zerolog.Logger) (*Engine, error) {
	if drv == nil {
		return nil, errors.New("driver required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		driver: drv,
		log:    log,
		timers: sched.New(),
		reg:    newRegistry(),
		now:    time.Now,
	}
	e.log.Info().Msg("auto-mode initialized")
	return e, nil
}

// SetRecorder installs a callback receiving a copy of every measurement the
// engine takes. The callback runs with the engine lock held and must not
// call back into the engine. Set it before generating events.
func (e *Engine) SetRecorder(fn func(model.Sample)) {
	e.mu.Lock()
	e.recorder = fn
	e.mu.Unlock()
}

// Start begins tracking addr as a candidate peer. Calling Start for an
// already-tracked address is a no-op. It fails if the driver refuses to
// register the address for traffic accounting.
func (e *Engine) Start(addr model.MAC) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if p := e.reg.find(addr); p != nil {
		e.log.Debug().Stringer("peer", addr).Msg("peer already tracked")
		return nil
	}

	if _, err := e.addPeer(addr); err != nil {
		return err
	}

	e.log.Info().Stringer("peer", addr).Int("total_peers", e.reg.count()).
		Msg("starting auto-mode for peer")
	return nil
}

// addPeer creates a record for addr and arms the connect cycles. Called with
// e.mu held.
func (e *Engine) addPeer(addr model.MAC) (*peer, error) {
	p, err := e.reg.insert(e.driver, addr)
	if err != nil {
		e.log.Error().Stringer("peer", addr).Err(err).
			Msg("could not add peer to traffic accounting")
		return nil, err
	}

	// Any new peer restarts the fast cycle; the slow cycle runs once any
	// peer is tracked.
	e.armFastConnect()
	if e.reg.count() == 1 {
		e.armSlowConnect()
	}
	return p, nil
}

// Stop removes addr from tracking, tearing down its link if connected.
func (e *Engine) Stop(addr model.MAC) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.stopPeer(addr)
}

// stopPeer removes addr from tracking. Called with e.mu held; the lock is
// released around the facade disconnect, which may re-enter the engine.
func (e *Engine) stopPeer(addr model.MAC) error {
	p := e.reg.find(addr)
	if p == nil {
		e.log.Error().Stringer("peer", addr).Msg("cannot stop untracked peer")
		return ErrPeerNotFound
	}

	e.log.Info().Stringer("peer", addr).Int("total_peers", e.reg.count()).
		Msg("stopping auto-mode for peer")

	if p.connected {
		// The peer may be connected because of an incoming link; the remote
		// end is assumed to retry. Clear the incoming flag and mark the
		// record before disconnecting, so the nested disconnect notification
		// does not discard it a second time.
		p.incoming = false
		p.removing = true
		e.mu.Unlock()
		e.driver.Disconnect(addr)
		e.mu.Lock()
		p = e.reg.find(addr)
	}

	if p != nil {
		if p.connected {
			// The driver never delivered the disconnect notification; keep
			// the connected count consistent with the records.
			p.connected = false
			e.reg.connPeers--
		}
		e.reg.remove(e.driver, addr)
	}

	if e.reg.count() == 0 {
		e.timers.Cancel(cycleFastConnect)
		e.timers.Cancel(cycleSlowConnect)
	}
	return nil
}

// PeerConnected is the notification that a direct link with addr is up,
// whether solicited or not. An untracked address becomes an incoming peer.
func (e *Engine) PeerConnected(addr model.MAC) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.reg.connPeers++

	p := e.reg.find(addr)
	if p == nil {
		var err error
		p, err = e.addPeer(addr)
		if err != nil {
			return
		}
		p.incoming = true
	}

	p.connected = true

	// Establish a fresh rate baseline and restart the idle check. The switch
	// to a direct link can momentarily hurt the peer's traffic, and an
	// unfortunate idle check right on connect might otherwise wrongly
	// disconnect it.
	e.sampleRate(p)
	e.armDataTeardown()

	e.log.Debug().Stringer("peer", addr).Bool("incoming", p.incoming).
		Msg("peer connected")

	if e.reg.connPeers == 1 {
		e.armRSSITeardown()
	}
}

// PeerDisconnected is the notification that the direct link with addr went
// down. Incoming peers are discarded; candidates get an immediate fast
// reconnect cycle.
func (e *Engine) PeerDisconnected(addr model.MAC) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	p := e.reg.find(addr)
	if p == nil {
		return
	}

	e.log.Debug().Stringer("peer", addr).Bool("incoming", p.incoming).
		Msg("peer disconnected")

	p.connected = false
	e.reg.connPeers--

	if p.removing {
		// Stop is mid-teardown on this record; it owns the removal.
		return
	}

	if p.incoming {
		// Incoming peers are not tracked after disconnection.
		_ = e.stopPeer(p.addr)
	} else {
		// Try a fast reconnect immediately.
		p.lowRSSIStreak = 0
		p.fastAttempts = 0
		e.armFastConnect()
	}
}

// DiscoveryResponse is the notification that addr answered a probe with the
// given RSSI. It may trigger a connection attempt.
func (e *Engine) DiscoveryResponse(addr model.MAC, rssi int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	e.log.Debug().Stringer("peer", addr).Int("rssi", rssi).
		Msg("discovery response")

	p := e.reg.find(addr)
	if p == nil {
		e.mu.Unlock()
		return
	}

	p.rssi = rssi

	if p.connected {
		e.log.Error().Stringer("peer", addr).
			Msg("discovery response from connected peer")
		e.mu.Unlock()
		return
	}

	if p.rssi <= e.cfg.RSSIConnectThreshold {
		e.mu.Unlock()
		return
	}

	// An unsolicited discovery response must not game the system: require
	// real traffic toward the peer before connecting.
	e.sampleRate(p)
	if p.dataRateBps < e.cfg.DataConnectThresholdBps {
		e.mu.Unlock()
		return
	}

	if e.reg.connPeers >= e.cfg.MaxConnectedPeers {
		e.log.Debug().Stringer("peer", addr).
			Msg("avoiding new connection, too many connected peers")
		e.mu.Unlock()
		return
	}

	e.mu.Unlock()
	err := e.driver.Connect(addr)
	e.log.Debug().Stringer("peer", addr).Err(err).Msg("connecting peer")
}

// RemoveAll stops tracking every peer. With killActiveLinks false, existing
// links are logically abandoned rather than torn down.
func (e *Engine) RemoveAll(killActiveLinks bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.removeAll(killActiveLinks)
}

// removeAll implements RemoveAll. Called with e.mu held.
func (e *Engine) removeAll(killActiveLinks bool) {
	for _, addr := range e.reg.addresses() {
		p := e.reg.find(addr)
		if p == nil {
			continue
		}
		e.log.Debug().Stringer("peer", addr).Msg("removing peer")
		if !killActiveLinks && p.connected {
			// Treat the link as already down so stopPeer skips the real
			// disconnect.
			p.connected = false
			e.reg.connPeers--
		}
		_ = e.stopPeer(addr)
	}
}

// Close tears the engine down: every record is destroyed with existing links
// abandoned (RemoveAll(false) semantics) and all cycle timers are canceled.
// Entry points return ErrClosed afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.removeAll(false)
	e.closed = true
	e.mu.Unlock()

	e.timers.CancelAll()
	e.log.Info().Msg("auto-mode deinitialized")
}

// Peers returns snapshots of every tracked peer, ordered by address.
func (e *Engine) Peers() []PeerInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	infos := make([]PeerInfo, 0, e.reg.count())
	for _, addr := range e.reg.addresses() {
		if p := e.reg.find(addr); p != nil {
			infos = append(infos, p.info())
		}
	}
	return infos
}

// Stats returns the tracked and connected peer counts.
func (e *Engine) Stats() (tracked, connected int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.count(), e.reg.connPeers
}
