// Package simdriver is an in-process implementation of the engine's driver
// facade. Peers are scripted with a steady traffic rate and an RSSI value;
// byte counters accrue with wall-clock (or injected) time. It lets the
// engine run end-to-end without wireless hardware.
package simdriver

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tdlsctl/internal/engine"
	"tdlsctl/internal/model"
)

// Notifier is the subset of engine entry points the simulator feeds.
type Notifier interface {
	PeerConnected(addr model.MAC)
	PeerDisconnected(addr model.MAC)
	DiscoveryResponse(addr model.MAC, rssi int)
}

// Profile scripts a simulated peer.
type Profile struct {
	RSSI           int
	RateBps        uint64
	Responds       bool // answers discovery probes
	AcceptsConnect bool // completes connection setup synchronously
}

type peerState struct {
	Profile
	baseBytes uint64 // bytes accrued before the last rate change
	since     time.Time
	monitored bool
	connected bool
}

// Sim simulates the driver side of the facade.
//
// Disconnect and Connect notify the bound engine synchronously, the way a
// real driver may. Probe responses are queued instead (over the air they
// arrive later); the embedder drains them with DeliverResponses.
type Sim struct {
	mu         sync.Mutex
	log        zerolog.Logger
	now        func() time.Time
	notifier   Notifier
	peers      map[model.MAC]*peerState
	pending    []model.MAC
	monitorErr map[model.MAC]error

	connects    map[model.MAC]int
	disconnects map[model.MAC]int
	probes      map[model.MAC]int
}

func New(log zerolog.Logger) *Sim {
	return &Sim{
		log:         log,
		now:         time.Now,
		peers:       make(map[model.MAC]*peerState),
		monitorErr:  make(map[model.MAC]error),
		connects:    make(map[model.MAC]int),
		disconnects: make(map[model.MAC]int),
		probes:      make(map[model.MAC]int),
	}
}

// Bind wires the engine the simulator notifies. Call before generating
// events.
func (s *Sim) Bind(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// AddPeer scripts a peer the simulator knows about.
func (s *Sim) AddPeer(addr model.MAC, p Profile) {
	s.mu.Lock()
	s.peers[addr] = &peerState{Profile: p, since: s.now()}
	s.mu.Unlock()
}

// SetRate changes a peer's traffic rate, keeping its counters continuous.
func (s *Sim) SetRate(addr model.MAC, bps uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.peers[addr]
	if !ok {
		return
	}
	now := s.now()
	st.baseBytes = st.totalBytes(now)
	st.since = now
	st.RateBps = bps
}

// SetRSSI changes a peer's signal strength.
func (s *Sim) SetRSSI(addr model.MAC, rssi int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.peers[addr]; ok {
		st.RSSI = rssi
	}
}

// FailMonitor makes SetTrafficMonitor(addr, true) fail with err.
func (s *Sim) FailMonitor(addr model.MAC, err error) {
	s.mu.Lock()
	s.monitorErr[addr] = err
	s.mu.Unlock()
}

func (st *peerState) totalBytes(now time.Time) uint64 {
	elapsedMs := uint64(now.Sub(st.since) / time.Millisecond)
	return st.baseBytes + st.RateBps*elapsedMs/8000
}

// Connect implements engine.Driver.
func (s *Sim) Connect(addr model.MAC) error {
	s.mu.Lock()
	s.connects[addr]++
	st, ok := s.peers[addr]
	if !ok || !st.AcceptsConnect {
		s.mu.Unlock()
		return fmt.Errorf("peer %s refused connection", addr)
	}
	st.connected = true
	n := s.notifier
	s.mu.Unlock()

	s.log.Debug().Stringer("peer", addr).Msg("sim: link established")
	if n != nil {
		n.PeerConnected(addr)
	}
	return nil
}

// Disconnect implements engine.Driver. The disconnected notification is
// delivered synchronously, before Disconnect returns.
func (s *Sim) Disconnect(addr model.MAC) {
	s.mu.Lock()
	s.disconnects[addr]++
	if st, ok := s.peers[addr]; ok {
		st.connected = false
	}
	n := s.notifier
	s.mu.Unlock()

	s.log.Debug().Stringer("peer", addr).Msg("sim: link torn down")
	if n != nil {
		n.PeerDisconnected(addr)
	}
}

// Probe implements engine.Driver. Responding peers are queued for
// DeliverResponses.
func (s *Sim) Probe(addr model.MAC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[addr]++
	if st, ok := s.peers[addr]; ok && st.Responds {
		s.pending = append(s.pending, addr)
	}
}

// QueryRSSI implements engine.Driver.
func (s *Sim) QueryRSSI(addr model.MAC) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.peers[addr]; ok {
		return st.RSSI
	}
	return engine.RSSIUnknown
}

// SetTrafficMonitor implements engine.Driver.
func (s *Sim) SetTrafficMonitor(addr model.MAC, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		if err := s.monitorErr[addr]; err != nil {
			return err
		}
	}
	if st, ok := s.peers[addr]; ok {
		st.monitored = enabled
	}
	return nil
}

// QueryByteCounters implements engine.Driver.
func (s *Sim) QueryByteCounters(addr model.MAC) (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.peers[addr]
	if !ok || !st.monitored {
		return 0, 0, fmt.Errorf("peer %s not monitored", addr)
	}
	total := st.totalBytes(s.now())
	tx := total / 2
	rx := total - tx
	return uint32(tx), uint32(rx), nil
}

// DeliverResponses feeds queued discovery responses to the engine. Call it
// from the embedding loop; responses carry the peer's current RSSI.
func (s *Sim) DeliverResponses() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	n := s.notifier
	responses := make([]struct {
		addr model.MAC
		rssi int
	}, 0, len(pending))
	for _, addr := range pending {
		if st, ok := s.peers[addr]; ok {
			responses = append(responses, struct {
				addr model.MAC
				rssi int
			}{addr, st.RSSI})
		}
	}
	s.mu.Unlock()

	if n == nil {
		return
	}
	for _, r := range responses {
		n.DiscoveryResponse(r.addr, r.rssi)
	}
}

// Probes reports how many discovery requests addr received.
func (s *Sim) Probes(addr model.MAC) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes[addr]
}

// Connects reports how many connection attempts addr received.
func (s *Sim) Connects(addr model.MAC) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects[addr]
}

// Disconnects reports how many teardowns addr received.
func (s *Sim) Disconnects(addr model.MAC) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects[addr]
}
