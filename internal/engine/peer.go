package engine

import (
	"time"

	"tdlsctl/internal/model"
)

// peer is the mutable per-candidate state. Owned by the registry; never
// handed out of the package.
type peer struct {
	addr model.MAC

	// connected is true while a live direct link exists.
	connected bool

	// incoming marks a peer first observed via an unsolicited link-up
	// notification. Incoming peers are discarded on disconnect instead of
	// retried; the remote side owns re-initiation.
	incoming bool

	// removing is set while Stop is tearing the peer down, so the nested
	// disconnect notification does not discard the record a second time.
	removing bool

	// rssi is the latest observed signal strength (RSSIUnknown if the last
	// query failed).
	rssi int

	// lowRSSIStreak counts consecutive below-threshold RSSI polls while
	// connected.
	lowRSSIStreak int

	// fastAttempts counts fast-cycle connection attempts. Once it exceeds
	// maxFastConnAttempts the slow cycle owns the peer.
	fastAttempts int

	// dataRateBps is the last measured in+out bit rate, 0 if unmeasured.
	dataRateBps uint64

	// Rate computation baseline.
	lastSampleTime time.Time
	lastRxBytes    uint32
	lastTxBytes    uint32
}

// PeerInfo is a read-only snapshot of a tracked peer.
type PeerInfo struct {
	Addr          model.MAC
	Connected     bool
	Incoming      bool
	RSSI          int
	LowRSSIStreak int
	FastAttempts  int
	DataRateBps   uint64
}

func (p *peer) info() PeerInfo {
	return PeerInfo{
		Addr:          p.addr,
		Connected:     p.connected,
		Incoming:      p.incoming,
		RSSI:          p.rssi,
		LowRSSIStreak: p.lowRSSIStreak,
		FastAttempts:  p.fastAttempts,
		DataRateBps:   p.dataRateBps,
	}
}
