package engine

import "tdlsctl/internal/model"

// RSSIUnknown is the sentinel QueryRSSI returns when the driver cannot
// produce a reading.
const RSSIUnknown = -102

// Driver is the capability set the embedding application supplies to effect
// real-world actions. All calls are synchronous from the engine's point of
// view.
//
// Connect and Disconnect may call back into the engine (PeerConnected,
// PeerDisconnected) before returning; the engine tolerates that. The query
// and monitor calls must not re-enter the engine.
type Driver interface {
	// Connect attempts to establish a direct link with the peer. The result
	// is surfaced only in logs.
	Connect(addr model.MAC) error

	// Disconnect tears down the direct link with the peer.
	Disconnect(addr model.MAC)

	// Probe sends a discovery request to the peer. Fire-and-forget; a
	// response arrives later via DiscoveryResponse.
	Probe(addr model.MAC)

	// QueryRSSI returns the peer's last known signal strength in dBm, or
	// RSSIUnknown on failure.
	QueryRSSI(addr model.MAC) int

	// SetTrafficMonitor registers or unregisters the peer for byte-counter
	// tracking.
	SetTrafficMonitor(addr model.MAC, enabled bool) error

	// QueryByteCounters returns the peer's cumulative tx/rx byte counters.
	// Counters may wrap.
	QueryByteCounters(addr model.MAC) (txBytes, rxBytes uint32, err error)
}
